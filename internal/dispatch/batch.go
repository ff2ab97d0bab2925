package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ianampudia11/mecom-sub003/internal/domain"
)

// Dispatcher sends the queue items assigned to one connection.
type Dispatcher struct {
	config   Config
	repo     Repository
	senders  *Registry
	pools    *Pools
	notifier Notifier
	now      Clock
	sleep    Sleeper
	intn     func(n int) int
}

// processConnection sends items through a connection in sub-batches. The
// caller holds the connection's pool. Items left unprocessed stay pending.
func (d *Dispatcher) processConnection(ctx context.Context, connectionID string, items []*domain.QueueItem, campaigns map[string]*domain.Campaign) {
	conn, err := d.repo.GetConnection(ctx, connectionID)
	if err != nil && !errors.Is(err, ErrConnectionNotFound) {
		slog.Error("failed to load connection", "connection_id", connectionID, "error", err)
		return
	}
	if !conn.IsActive() {
		d.failBulk(ctx, items, campaigns, ErrConnectionUnavailable.Error())
		return
	}

	recipients, err := d.loadRecipients(ctx, items)
	if err != nil {
		slog.Error("failed to load recipients", "connection_id", connectionID, "error", err)
		return
	}

	size := d.config.SubBatchSize
	if size <= 0 {
		size = len(items)
	}

	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))

		for _, item := range items[start:end] {
			if ctx.Err() != nil {
				return
			}
			if !d.pools.WithinCeilings(conn.ID) {
				slog.Info("connection ceiling reached, deferring remaining items",
					"connection_id", conn.ID,
					"remaining", len(items)-start,
				)
				return
			}

			campaign, ok := campaigns[item.CampaignID]
			if !ok {
				slog.Debug("campaign not loaded for queue item, skipping",
					"item_id", item.ID,
					"campaign_id", item.CampaignID,
				)
				continue
			}
			d.processItem(ctx, conn, campaign, item, recipients[item.RecipientID])
		}

		if end < len(items) {
			if err := d.sleep(ctx, d.config.SubBatchPause); err != nil {
				return
			}
		}
	}
}

func (d *Dispatcher) loadRecipients(ctx context.Context, items []*domain.QueueItem) (map[string]*domain.Recipient, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.RecipientID)
	}

	list, err := d.repo.GetRecipients(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*domain.Recipient, len(list))
	for _, r := range list {
		byID[r.ID] = r
	}
	return byID, nil
}

func (d *Dispatcher) processItem(ctx context.Context, conn *domain.ChannelConnection, campaign *domain.Campaign, item *domain.QueueItem, recipient *domain.Recipient) {
	// A claimed item is finished even if the scheduler is stopping.
	work := context.WithoutCancel(ctx)

	if recipient == nil {
		d.failTerminal(work, campaign, item, nil, item.Attempts, ErrRecipientNotFound)
		recordItem(conn.ChannelType, "failed")
		return
	}

	claimed, err := d.repo.ClaimItem(work, item.ID, conn.ID, d.now())
	if err != nil {
		slog.Error("failed to claim queue item", "item_id", item.ID, "error", err)
		return
	}
	if !claimed {
		slog.Debug("queue item already claimed", "item_id", item.ID)
		return
	}

	start := time.Now()
	messageID, err := d.deliver(work, conn, campaign, item, recipient)
	duration := time.Since(start)

	if err != nil {
		d.handleFailure(work, conn, campaign, item, recipient, err)
		return
	}

	d.pools.RecordSent(work, conn.ID)
	d.complete(work, campaign, item, recipient, messageID)

	recordItem(conn.ChannelType, "success")
	recordSendDuration(conn.ChannelType, duration)

	slog.Debug("queue item sent",
		"item_id", item.ID,
		"campaign_id", campaign.ID,
		"connection_id", conn.ID,
		"duration", duration,
	)

	delay := AntiBanDelay(campaign.AntiBan, d.now().In(d.config.location()), d.intn)
	_ = d.sleep(ctx, max(delay, d.config.Connection.MinGap))
}

// deliver personalizes the campaign content and sends it with its media.
func (d *Dispatcher) deliver(ctx context.Context, conn *domain.ChannelConnection, campaign *domain.Campaign, item *domain.QueueItem, recipient *domain.Recipient) (string, error) {
	sender, err := d.senders.Get(conn.ChannelType)
	if err != nil {
		return "", err
	}

	content := Personalize(campaign.Content, Variables(recipient))

	metadata := make(map[string]string, len(item.Metadata)+3)
	for k, v := range item.Metadata {
		metadata[k] = v
	}
	metadata["content"] = content
	metadata["recipient_phone"] = recipient.Phone
	metadata["recipient_name"] = recipient.Name
	if err := d.repo.SetItemMetadata(ctx, item.ID, metadata); err != nil {
		slog.Warn("failed to store queue item metadata", "item_id", item.ID, "error", err)
	}

	if len(campaign.MediaURLs) == 0 && strings.TrimSpace(content) == "" {
		return "", NewNonRetryableError(ErrEmptyMessage)
	}

	var messageID string
	caption := content

	// The text rides on the first media that can carry a caption, otherwise
	// it follows the media as a separate message.
	for _, url := range campaign.MediaURLs {
		media := Media{
			Type:     DetectMediaType(url),
			URL:      url,
			FileName: MediaFileName(url),
		}
		if media.Type.CarriesCaption() {
			media.Caption = caption
		}

		res, err := sender.SendMedia(ctx, conn, recipient.Phone, media)
		if err != nil {
			return "", fmt.Errorf("send media: %w", err)
		}
		messageID = res.MessageID
		if media.Caption != "" {
			caption = ""
		}
	}

	if strings.TrimSpace(caption) != "" {
		res, err := sender.SendText(ctx, conn, recipient.Phone, caption)
		if err != nil {
			return "", fmt.Errorf("send text: %w", err)
		}
		messageID = res.MessageID
	}

	return messageID, nil
}

func (d *Dispatcher) complete(ctx context.Context, campaign *domain.Campaign, item *domain.QueueItem, recipient *domain.Recipient, messageID string) {
	now := d.now()

	if err := d.repo.CompleteItem(ctx, item.ID, item.Attempts+1, now); err != nil {
		slog.Error("failed to mark as completed", "item_id", item.ID, "error", err)
	}
	if err := d.repo.MarkRecipientSent(ctx, recipient.ID, now); err != nil {
		slog.Error("failed to mark recipient as sent", "recipient_id", recipient.ID, "error", err)
	}

	stats, err := d.repo.RefreshCampaignStats(ctx, campaign.ID)
	if err != nil {
		slog.Error("failed to refresh campaign stats", "campaign_id", campaign.ID, "error", err)
	}

	d.notifier.Notify(ctx, Event{
		Kind:               EventMessageSent,
		CampaignID:         campaign.ID,
		CompanyID:          campaign.CompanyID,
		QueueItemID:        item.ID,
		RecipientID:        recipient.ID,
		MessageID:          messageID,
		Stats:              stats,
		ProgressPercentage: stats.ProgressPercentage(),
		OccurredAt:         now,
	})
}
