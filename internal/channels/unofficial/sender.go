// Package unofficial sends campaign messages through linked WhatsApp Web
// sessions.
package unofficial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ianampudia11/mecom-sub003/internal/dispatch"
	"github.com/ianampudia11/mecom-sub003/internal/domain"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"
)

const (
	defaultMediaRoot     = "./uploads"
	defaultMaxMediaBytes = 64 << 20
	defaultFetchTimeout  = 30 * time.Second
	defaultRateLimit     = 5
)

// Config holds WhatsApp Web sender configuration.
type Config struct {
	MediaRoot     string // local directory media paths are resolved against
	MaxMediaBytes int64
	FetchTimeout  time.Duration
	RateLimit     float64 // sends per second across all sessions
}

// WAClient is the part of *whatsmeow.Client the sender uses.
type WAClient interface {
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
	Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
}

// ClientProvider returns the live session of a connection.
type ClientProvider interface {
	Client(ctx context.Context, conn *domain.ChannelConnection) (WAClient, error)
}

// Sender implements dispatch.Sender for the unofficial provider flavor.
type Sender struct {
	config     Config
	clients    ClientProvider
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ dispatch.Sender = (*Sender)(nil)

// NewSender creates a new WhatsApp Web sender.
func NewSender(config Config, clients ClientProvider) *Sender {
	if config.MediaRoot == "" {
		config.MediaRoot = defaultMediaRoot
	}
	if config.MaxMediaBytes <= 0 {
		config.MaxMediaBytes = defaultMaxMediaBytes
	}
	if config.FetchTimeout == 0 {
		config.FetchTimeout = defaultFetchTimeout
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}

	slog.Info("unofficial whatsapp sender configured",
		"media_root", config.MediaRoot,
		"rate_limit", config.RateLimit,
	)

	return &Sender{
		config:     config,
		clients:    clients,
		httpClient: &http.Client{Timeout: config.FetchTimeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeWhatsAppUnofficial
}

// SendText sends a text message.
func (s *Sender) SendText(ctx context.Context, conn *domain.ChannelConnection, to, text string) (*dispatch.SendResult, error) {
	client, jid, err := s.prepare(ctx, conn, to)
	if err != nil {
		return nil, err
	}

	msg := &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(text),
		},
	}
	return s.send(ctx, client, jid, msg)
}

// SendMedia uploads the attachment to the session and sends it.
func (s *Sender) SendMedia(ctx context.Context, conn *domain.ChannelConnection, to string, media dispatch.Media) (*dispatch.SendResult, error) {
	client, jid, err := s.prepare(ctx, conn, to)
	if err != nil {
		return nil, err
	}

	data, err := s.loadMedia(ctx, media.URL)
	if err != nil {
		return nil, err
	}
	mime := mimetype.Detect(data).String()

	uploaded, err := client.Upload(ctx, data, uploadType(media.Type))
	if err != nil {
		return nil, &RetryableError{Message: fmt.Sprintf("upload media: %v", err)}
	}

	return s.send(ctx, client, jid, buildMediaMessage(media, mime, uploaded))
}

func (s *Sender) prepare(ctx context.Context, conn *domain.ChannelConnection, to string) (WAClient, types.JID, error) {
	if conn.CompanyID == nil || *conn.CompanyID == "" {
		return nil, types.EmptyJID, &PermanentError{Message: "connection has no company"}
	}

	jid, err := recipientJID(to)
	if err != nil {
		return nil, types.EmptyJID, err
	}

	client, err := s.clients.Client(ctx, conn)
	if err != nil {
		if errors.Is(err, ErrSessionLoggedOut) {
			return nil, types.EmptyJID, &PermanentError{Message: err.Error()}
		}
		return nil, types.EmptyJID, &RetryableError{Message: fmt.Sprintf("session unavailable: %v", err)}
	}
	return client, jid, nil
}

func (s *Sender) send(ctx context.Context, client WAClient, jid types.JID, msg *waE2E.Message) (*dispatch.SendResult, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := client.SendMessage(ctx, jid, msg)
	if err != nil {
		return nil, &RetryableError{Message: fmt.Sprintf("send message: %v", err)}
	}
	if resp.ID == "" {
		return nil, &RetryableError{Message: "send message: empty message id"}
	}
	return &dispatch.SendResult{MessageID: resp.ID}, nil
}

// recipientJID builds the user JID of a phone number.
func recipientJID(phone string) (types.JID, error) {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 7 || len(digits) > 15 {
		return types.EmptyJID, &PermanentError{Message: fmt.Sprintf("invalid phone number %q", phone)}
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

func (s *Sender) loadMedia(ctx context.Context, url string) ([]byte, error) {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return s.fetchMedia(ctx, url)
	}
	return s.readMedia(url)
}

func (s *Sender) readMedia(url string) ([]byte, error) {
	rel := url
	if i := strings.IndexAny(rel, "?#"); i >= 0 {
		rel = rel[:i]
	}
	// Clean against "/" so the path cannot escape the media root.
	full := filepath.Join(s.config.MediaRoot, filepath.Clean("/"+strings.TrimLeft(rel, "/")))

	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &PermanentError{Message: fmt.Sprintf("media file not found: %s", url)}
		}
		return nil, &RetryableError{Message: fmt.Sprintf("open media: %v", err)}
	}
	defer func() { _ = f.Close() }()

	return s.readLimited(f, url)
}

func (s *Sender) fetchMedia(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &PermanentError{Message: fmt.Sprintf("invalid media url %q", url)}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &RetryableError{Message: fmt.Sprintf("fetch media: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return s.readLimited(resp.Body, url)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, &PermanentError{Message: fmt.Sprintf("media not found: %s", url)}
	default:
		return nil, &RetryableError{Message: fmt.Sprintf("fetch media: status %d", resp.StatusCode)}
	}
}

func (s *Sender) readLimited(r io.Reader, url string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.config.MaxMediaBytes+1))
	if err != nil {
		return nil, &RetryableError{Message: fmt.Sprintf("read media: %v", err)}
	}
	if int64(len(data)) > s.config.MaxMediaBytes {
		return nil, &PermanentError{Message: fmt.Sprintf("media exceeds %d bytes: %s", s.config.MaxMediaBytes, url)}
	}
	if len(data) == 0 {
		return nil, &PermanentError{Message: fmt.Sprintf("media is empty: %s", url)}
	}
	return data, nil
}

func uploadType(t dispatch.MediaType) whatsmeow.MediaType {
	switch t {
	case dispatch.MediaTypeImage:
		return whatsmeow.MediaImage
	case dispatch.MediaTypeVideo:
		return whatsmeow.MediaVideo
	case dispatch.MediaTypeAudio:
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

func buildMediaMessage(media dispatch.Media, mime string, uploaded whatsmeow.UploadResponse) *waE2E.Message {
	msg := &waE2E.Message{}

	switch media.Type {
	case dispatch.MediaTypeImage:
		msg.ImageMessage = &waE2E.ImageMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mime),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			Caption:       proto.String(media.Caption),
		}
	case dispatch.MediaTypeVideo:
		msg.VideoMessage = &waE2E.VideoMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mime),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			Caption:       proto.String(media.Caption),
		}
	case dispatch.MediaTypeAudio:
		msg.AudioMessage = &waE2E.AudioMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mime),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			PTT:           proto.Bool(false),
		}
	default:
		msg.DocumentMessage = &waE2E.DocumentMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mime),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			Caption:       proto.String(media.Caption),
			FileName:      proto.String(media.FileName),
		}
	}

	return msg
}

// PermanentError indicates a permanent error that should not be retried.
type PermanentError struct {
	Message string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("whatsapp web error: %s", e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary error that can be retried.
type RetryableError struct {
	Message string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("whatsapp web error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }
