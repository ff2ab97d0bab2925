package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ianampudia11/mecom-sub003/internal/domain"
)

// GetRecipients retrieves the existing recipients among ids.
func (r *Repository) GetRecipients(ctx context.Context, ids []string) ([]*domain.Recipient, error) {
	recipients := make([]*domain.Recipient, 0, len(ids))
	if len(ids) == 0 {
		return recipients, nil
	}

	query := `
		SELECT id, campaign_id, contact_id, name, phone, email, variables, status,
		       error_message, sent_at, failed_at
		FROM campaign_recipients
		WHERE id = ANY($1::uuid[])
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("get recipients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rcpt domain.Recipient
		err := rows.Scan(
			&rcpt.ID,
			&rcpt.CampaignID,
			&rcpt.ContactID,
			&rcpt.Name,
			&rcpt.Phone,
			&rcpt.Email,
			&rcpt.Variables,
			&rcpt.Status,
			&rcpt.ErrorMessage,
			&rcpt.SentAt,
			&rcpt.FailedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		recipients = append(recipients, &rcpt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipients: %w", err)
	}

	return recipients, nil
}

// MarkRecipientSent marks a recipient as sent.
func (r *Repository) MarkRecipientSent(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE campaign_recipients
		SET status = 'sent', sent_at = $2, error_message = '', updated_at = $2
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, now); err != nil {
		return fmt.Errorf("mark recipient sent: %w", err)
	}
	return nil
}

// MarkRecipientFailed marks a recipient as failed.
func (r *Repository) MarkRecipientFailed(ctx context.Context, id, errMsg string, now time.Time) error {
	query := `
		UPDATE campaign_recipients
		SET status = 'failed', error_message = $2, failed_at = $3, updated_at = $3
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, errMsg, now); err != nil {
		return fmt.Errorf("mark recipient failed: %w", err)
	}
	return nil
}

// MarkRecipientsFailed marks several recipients as failed.
func (r *Repository) MarkRecipientsFailed(ctx context.Context, ids []string, errMsg string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		UPDATE campaign_recipients
		SET status = 'failed', error_message = $2, failed_at = $3, updated_at = $3
		WHERE id = ANY($1::uuid[])
	`
	if _, err := r.db.Exec(ctx, query, ids, errMsg, now); err != nil {
		return fmt.Errorf("mark recipients failed: %w", err)
	}
	return nil
}
