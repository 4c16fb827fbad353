package socket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// IdentityStore supplies the locally persisted user ID used when the
// caller does not pass one explicitly.
type IdentityStore interface {
	Identity() (string, error)
}

// Manager owns at most one connection to the messaging server. It is
// constructed once at the composition root and passed by reference to
// whatever needs it; single-instance semantics without a package-level
// global.
type Manager struct {
	socketURL string
	identity  IdentityStore
	dial      func(ctx context.Context, rawURL string) (wsConn, error)

	mu   sync.Mutex
	conn *Conn
}

func NewManager(socketURL string, identity IdentityStore) *Manager {
	return &Manager{
		socketURL: socketURL,
		identity:  identity,
		dial: func(ctx context.Context, rawURL string) (wsConn, error) {
			ws, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
			if err != nil {
				return nil, err
			}
			return ws, nil
		},
	}
}

// Get returns the existing connection if present, otherwise dials
// exactly one, authenticating with userID. An empty userID falls back
// to the persisted identity. Repeated calls without an intervening
// Disconnect return the same connection.
func (m *Manager) Get(ctx context.Context, userID string) (*Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		return m.conn, nil
	}

	if userID == "" && m.identity != nil {
		id, err := m.identity.Identity()
		if err != nil {
			slog.Error("failed to load persisted identity", "error", err)
		} else {
			userID = id
		}
	}

	u, err := url.Parse(m.socketURL)
	if err != nil {
		return nil, fmt.Errorf("invalid socket URL: %w", err)
	}
	if userID != "" {
		q := u.Query()
		q.Set("userId", userID)
		u.RawQuery = q.Encode()
	}

	ws, err := m.dial(ctx, u.String())
	if err != nil {
		slog.Error("socket connection failed", "error", err)
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	conn := newConn(ws, userID)
	conn.setState(StateConnected)
	go conn.run()

	slog.Info("connected to chat server", "user_id", userID)
	m.conn = conn
	return conn, nil
}

// Disconnect closes the active connection and clears it so a later Get
// dials a fresh one.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return
	}
	if err := m.conn.Close(); err != nil {
		slog.Error("error closing socket", "error", err)
	}
	slog.Info("disconnected from chat server")
	m.conn = nil
}
