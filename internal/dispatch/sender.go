package dispatch

import (
	"context"
	"fmt"

	"github.com/ianampudia11/mecom-sub003/internal/domain"
)

// MediaType classifies a media attachment.
type MediaType string

// Media types.
const (
	MediaTypeImage    MediaType = "image"
	MediaTypeVideo    MediaType = "video"
	MediaTypeAudio    MediaType = "audio"
	MediaTypeDocument MediaType = "document"
)

// CarriesCaption reports whether providers deliver a caption with this media type.
func (t MediaType) CarriesCaption() bool {
	return t != MediaTypeAudio
}

// Media is one attachment of a campaign message.
type Media struct {
	Type     MediaType
	URL      string
	Caption  string
	FileName string
}

// SendResult is the provider acknowledgement of a sent message.
type SendResult struct {
	MessageID string
}

// Sender delivers messages through one provider flavor. Errors that expose
// IsRetryable() false are never retried.
type Sender interface {
	Type() domain.ChannelType
	SendText(ctx context.Context, conn *domain.ChannelConnection, to, text string) (*SendResult, error)
	SendMedia(ctx context.Context, conn *domain.ChannelConnection, to string, media Media) (*SendResult, error)
}

// Registry selects a Sender by channel type.
type Registry struct {
	senders map[domain.ChannelType]Sender
}

// NewRegistry creates a sender registry.
func NewRegistry(senders ...Sender) *Registry {
	senderMap := make(map[domain.ChannelType]Sender)
	for _, s := range senders {
		senderMap[s.Type()] = s
	}
	return &Registry{senders: senderMap}
}

// Supports reports whether a sender is registered for the channel type.
func (r *Registry) Supports(channelType domain.ChannelType) bool {
	_, ok := r.senders[channelType]
	return ok
}

// Get returns the sender of a channel type.
func (r *Registry) Get(channelType domain.ChannelType) (Sender, error) {
	s, ok := r.senders[channelType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("%w: %s", ErrUnsupportedChannelType, channelType))
	}
	return s, nil
}
