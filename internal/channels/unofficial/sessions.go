package unofficial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ianampudia11/mecom-sub003/internal/domain"
	_ "github.com/lib/pq" // postgres driver for the device store
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// DataDeviceJID is the connection data key holding the linked device JID.
const DataDeviceJID = "device_jid"

// ErrSessionLoggedOut is returned when a connection has no linked device.
var ErrSessionLoggedOut = errors.New("whatsapp session is not linked")

// Sessions keeps one connected whatsmeow client per channel connection.
type Sessions struct {
	container *sqlstore.Container
	log       waLog.Logger

	mu      sync.Mutex
	clients map[string]*whatsmeow.Client
}

var _ ClientProvider = (*Sessions)(nil)

// NewSessions opens the device store in the given postgres database.
func NewSessions(ctx context.Context, databaseURL string) (*Sessions, error) {
	logger := slogLogger{logger: slog.Default().With("component", "whatsmeow")}

	container, err := sqlstore.New(ctx, "postgres", databaseURL, logger.Sub("store"))
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}

	return &Sessions{
		container: container,
		log:       logger,
		clients:   make(map[string]*whatsmeow.Client),
	}, nil
}

// Client returns the connected client of a connection, connecting lazily.
func (s *Sessions) Client(ctx context.Context, conn *domain.ChannelConnection) (WAClient, error) {
	jid, err := deviceJID(conn)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if client, ok := s.clients[conn.ID]; ok {
		if client.IsConnected() {
			return client, nil
		}
		client.Disconnect()
		delete(s.clients, conn.ID)
	}

	device, err := s.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	if device == nil || device.ID == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionLoggedOut, conn.ID)
	}

	client := whatsmeow.NewClient(device, s.log.Sub(conn.ID))
	client.EnableAutoReconnect = true
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("connect session: %w", err)
	}

	s.clients[conn.ID] = client
	slog.Info("whatsapp session connected", "connection_id", conn.ID, "jid", jid.String())
	return client, nil
}

// Close disconnects every session and closes the device store.
func (s *Sessions) Close() error {
	s.mu.Lock()
	for id, client := range s.clients {
		client.Disconnect()
		delete(s.clients, id)
	}
	s.mu.Unlock()

	return s.container.Close()
}

func deviceJID(conn *domain.ChannelConnection) (types.JID, error) {
	raw := conn.Data[DataDeviceJID]
	if raw == "" {
		return types.EmptyJID, fmt.Errorf("%w: %s has no device jid", ErrSessionLoggedOut, conn.ID)
	}
	jid, err := types.ParseJID(raw)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("%w: invalid device jid %q", ErrSessionLoggedOut, raw)
	}
	return jid, nil
}

// slogLogger adapts slog to the whatsmeow logger interface.
type slogLogger struct {
	logger *slog.Logger
}

func (l slogLogger) Errorf(msg string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(msg, args...))
}

func (l slogLogger) Warnf(msg string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(msg, args...))
}

func (l slogLogger) Infof(msg string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(msg, args...))
}

func (l slogLogger) Debugf(msg string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(msg, args...))
}

func (l slogLogger) Sub(module string) waLog.Logger {
	return slogLogger{logger: l.logger.With("module", module)}
}
