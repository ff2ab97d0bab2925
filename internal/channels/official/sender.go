// Package official sends campaign messages through the WhatsApp Cloud API.
package official

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ianampudia11/mecom-sub003/internal/dispatch"
	"github.com/ianampudia11/mecom-sub003/internal/domain"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v22.0"
	defaultTimeout    = 10 * time.Second
	defaultRateLimit  = 20
)

// Connection data keys.
const (
	DataPhoneNumberID = "phone_number_id"
	DataAccessToken   = "access_token"
)

// Config holds Cloud API sender configuration.
type Config struct {
	BaseURL      string
	APIVersion   string
	RateLimit    float64 // requests per second across all connections
	Timeout      time.Duration
	MediaBaseURL string // prefix for media paths that are not absolute URLs
}

// Sender implements dispatch.Sender for the official provider flavor.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	endpoint   string // base, version, phone number id
}

var _ dispatch.Sender = (*Sender)(nil)

// NewSender creates a new Cloud API sender.
func NewSender(config Config) *Sender {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.APIVersion == "" {
		config.APIVersion = defaultAPIVersion
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}

	slog.Info("official whatsapp sender configured",
		"base_url", config.BaseURL,
		"api_version", config.APIVersion,
		"rate_limit", config.RateLimit,
	)

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		endpoint:   "%s/%s/%s/messages",
	}
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeWhatsAppOfficial
}

// SendText sends a text message.
func (s *Sender) SendText(ctx context.Context, conn *domain.ChannelConnection, to, text string) (*dispatch.SendResult, error) {
	msg := message{
		Type: "text",
		Text: &textBody{Body: text},
	}
	return s.send(ctx, conn, to, msg)
}

// SendMedia sends a media message by link.
func (s *Sender) SendMedia(ctx context.Context, conn *domain.ChannelConnection, to string, media dispatch.Media) (*dispatch.SendResult, error) {
	obj := &mediaBody{
		Link:    s.mediaLink(media.URL),
		Caption: media.Caption,
	}

	msg := message{Type: string(media.Type)}
	switch media.Type {
	case dispatch.MediaTypeImage:
		msg.Image = obj
	case dispatch.MediaTypeVideo:
		msg.Video = obj
	case dispatch.MediaTypeAudio:
		// Audio messages carry no caption.
		obj.Caption = ""
		msg.Audio = obj
	default:
		msg.Type = string(dispatch.MediaTypeDocument)
		obj.Filename = media.FileName
		msg.Document = obj
	}

	return s.send(ctx, conn, to, msg)
}

func (s *Sender) mediaLink(url string) string {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") || s.config.MediaBaseURL == "" {
		return url
	}
	return strings.TrimRight(s.config.MediaBaseURL, "/") + "/" + strings.TrimLeft(url, "/")
}

type message struct {
	MessagingProduct string     `json:"messaging_product"`
	RecipientType    string     `json:"recipient_type"`
	To               string     `json:"to"`
	Type             string     `json:"type"`
	Text             *textBody  `json:"text,omitempty"`
	Image            *mediaBody `json:"image,omitempty"`
	Video            *mediaBody `json:"video,omitempty"`
	Audio            *mediaBody `json:"audio,omitempty"`
	Document         *mediaBody `json:"document,omitempty"`
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type mediaBody struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type apiResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

func (s *Sender) send(ctx context.Context, conn *domain.ChannelConnection, to string, msg message) (*dispatch.SendResult, error) {
	if conn.CompanyID == nil || *conn.CompanyID == "" {
		return nil, &PermanentError{Message: "connection has no company"}
	}
	phoneNumberID := conn.Data[DataPhoneNumberID]
	token := conn.Data[DataAccessToken]
	if phoneNumberID == "" || token == "" {
		return nil, &PermanentError{Message: "connection is missing phone number id or access token"}
	}

	phone := normalizePhone(to)
	if phone == "" {
		return nil, &PermanentError{Message: fmt.Sprintf("invalid phone number %q", to)}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	msg.MessagingProduct = "whatsapp"
	msg.RecipientType = "individual"
	msg.To = phone

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf(s.endpoint, strings.TrimRight(s.config.BaseURL, "/"), s.config.APIVersion, phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp, conn.ID)
}

func (s *Sender) handleResponse(resp *http.Response, connectionID string) (*dispatch.SendResult, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RetryableError{Message: fmt.Sprintf("read response: %v", err)}
	}

	var result apiResponse
	_ = json.Unmarshal(raw, &result)

	detail := strings.TrimSpace(string(raw))
	if result.Error != nil && result.Error.Message != "" {
		detail = result.Error.Message
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if len(result.Messages) == 0 || result.Messages[0].ID == "" {
			return nil, &RetryableError{Code: resp.StatusCode, Message: "response without message id"}
		}
		slog.Debug("official whatsapp message sent",
			"connection_id", connectionID,
			"message_id", result.Messages[0].ID,
		)
		return &dispatch.SendResult{MessageID: result.Messages[0].ID}, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    detail,
		}

	case resp.StatusCode >= 500:
		return nil, &RetryableError{Code: resp.StatusCode, Message: detail}

	default:
		return nil, &PermanentError{Code: resp.StatusCode, Message: detail}
	}
}

// normalizePhone keeps the digits of a phone number.
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// PermanentError indicates a permanent error that should not be retried.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("whatsapp cloud api error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("whatsapp cloud api error: %s", e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary error that can be retried.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("whatsapp cloud api error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("whatsapp cloud api error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }

// RateLimitError is returned when the provider throttles the sender.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("whatsapp cloud api rate limited (retry after %s): %s", e.RetryAfter, e.Message)
}

// IsRetryable returns true.
func (e *RateLimitError) IsRetryable() bool { return true }
