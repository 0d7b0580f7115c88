package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"skillbay.org/internal/audit"
	"skillbay.org/internal/auth"
	"skillbay.org/internal/market"
	"skillbay.org/internal/obs"
)

const (
	defaultAuthTimeout       = 8 * time.Second
	defaultHeartbeatInterval = 30 * time.Second

	readLimit = 64 << 10
)

// Service is the slice of the market layer the supervisor needs.
type Service interface {
	UnreadNotifications(ctx context.Context, userID string) ([]market.Notification, error)
	MarkRead(ctx context.Context, id, userID string) error
	RequestParties(ctx context.Context, requestID string) (clientUserID, providerUserID string, err error)
}

// Supervisor owns the websocket endpoint: it upgrades connections, enforces
// the authentication window, runs the heartbeat sweep, and interprets
// client messages.
type Supervisor struct {
	registry   *Registry
	dispatcher *Dispatcher
	svc        Service

	authTimeout       time.Duration
	heartbeatInterval time.Duration
	upgrader          websocket.Upgrader
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithAuthTimeout overrides the window an unauthenticated connection has to
// present a token.
func WithAuthTimeout(d time.Duration) Option {
	return func(s *Supervisor) { s.authTimeout = d }
}

// WithHeartbeatInterval overrides the sweep interval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.heartbeatInterval = d }
}

// NewSupervisor creates the supervisor. allowedOrigins is an allow-list for
// the Origin header; empty means any origin, and requests without an Origin
// header (non-browser clients) always pass.
func NewSupervisor(registry *Registry, dispatcher *Dispatcher, svc Service, allowedOrigins []string, opts ...Option) *Supervisor {
	s := &Supervisor{
		registry:          registry,
		dispatcher:        dispatcher,
		svc:               svc,
		authTimeout:       defaultAuthTimeout,
		heartbeatInterval: defaultHeartbeatInterval,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// clientMessage is the envelope every inbound frame must fit.
type clientMessage struct {
	Type           string `json:"type"`
	Token          string `json:"token,omitempty"`
	NotificationID string `json:"notificationId,omitempty"`
	Channel        string `json:"channel,omitempty"`
	RequestID      string `json:"requestId,omitempty"`
	Action         string `json:"action,omitempty"`
	Response       string `json:"response,omitempty"`
	Message        string `json:"message,omitempty"`
}

// HandleWS upgrades the HTTP request and serves the connection until it
// closes. Origin rejection happens inside Upgrade and produces a 403.
func (s *Supervisor) HandleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		obs.LogError("ws", "upgrade failed", err)
		return
	}
	// The request context dies when this handler returns; the connection
	// outlives it.
	go s.serve(context.Background(), newConn(wsConn))
}

func (s *Supervisor) serve(ctx context.Context, c *Conn) {
	c.ws.SetReadLimit(readLimit)
	c.ws.SetPongHandler(func(string) error {
		c.markAlive()
		return nil
	})

	c.Send(market.Event{Type: "connection_established", Timestamp: time.Now().UTC()})

	authTimer := time.AfterFunc(s.authTimeout, func() {
		c.Send(market.Event{Type: "auth_timeout", Timestamp: time.Now().UTC()})
		c.Close(websocket.ClosePolicyViolation, "Authentication timeout")
	})

	var userID string
	defer func() {
		authTimer.Stop()
		if userID != "" {
			s.registry.Unregister(userID, c)
		}
		c.Close(websocket.CloseNormalClosure, "")
	}()

	for {
		var msg clientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return
		}
		c.markAlive()

		if userID == "" {
			if msg.Type != "auth" {
				// Everything but auth is ignored until the client
				// identifies itself.
				continue
			}
			if !authTimer.Stop() {
				// The window expired while this frame was in flight;
				// the timeout callback is closing the connection.
				return
			}
			claims, err := auth.ParseAndValidate(msg.Token)
			if err != nil {
				s.rejectAuth(c, err)
				return
			}
			userID = claims.Subject
			s.adopt(ctx, c, userID, claims.Role)
			continue
		}

		s.handleMessage(ctx, c, userID, msg)
	}
}

func (s *Supervisor) rejectAuth(c *Conn, err error) {
	if errors.Is(err, auth.ErrSecretMissing) {
		obs.LogError("ws", "auth secret unavailable", err)
		c.Close(websocket.CloseInternalServerErr, "Server configuration error")
		return
	}
	c.Close(websocket.ClosePolicyViolation, "Invalid token")
}

// adopt registers the authenticated connection and replays unread
// notifications before acknowledging.
func (s *Supervisor) adopt(ctx context.Context, c *Conn, userID, role string) {
	// A second login overwrites the mapping. The displaced socket is not
	// closed here; it stays open, unaddressable, until its own close or a
	// heartbeat sweep, and its deferred unregister cannot evict us.
	s.registry.Register(userID, c)

	unread, err := s.svc.UnreadNotifications(ctx, userID)
	if err != nil {
		obs.LogError("ws", "unread notification load failed", err)
		unread = nil
	}
	if unread == nil {
		unread = []market.Notification{}
	}
	c.Send(market.Event{
		Type:      "initial_notifications",
		Timestamp: time.Now().UTC(),
		Payload:   map[string]any{"notifications": unread},
	})
	c.Send(market.Event{
		Type:      "auth_success",
		Timestamp: time.Now().UTC(),
		Payload:   map[string]any{"user_id": userID},
	})
	audit.LogEvent(auth.ContextWithUser(ctx, userID, role), "ws.auth_success", map[string]any{
		"connections": s.registry.Len(),
	})
}

func (s *Supervisor) handleMessage(ctx context.Context, c *Conn, userID string, msg clientMessage) {
	switch msg.Type {
	case "ping":
		c.Send(map[string]any{"type": "pong"})
	case "pong":
		// Application-level pong from clients that cannot answer
		// control frames.
	case "mark_as_read":
		if err := s.svc.MarkRead(ctx, msg.NotificationID, userID); err != nil {
			obs.LogError("ws", "mark_as_read failed", err)
		}
	case "subscribe":
		// Channel subscriptions are accepted but not filtered yet: every
		// authenticated connection receives all of its user's events.
	case "service_request_response":
		s.forward(ctx, userID, msg.RequestID, "service_request_response", map[string]any{
			"request_id": msg.RequestID,
			"from":       userID,
			"action":     msg.Action,
			"response":   msg.Response,
		})
	case "service_request_message":
		s.forward(ctx, userID, msg.RequestID, "service_request_message", map[string]any{
			"request_id": msg.RequestID,
			"from":       userID,
			"message":    msg.Message,
		})
	default:
		// Malformed or unknown frames are silently ignored.
	}
}

// forward relays a conversation frame to the other party on the request.
// Frames from users who are not a party to the request are dropped.
func (s *Supervisor) forward(ctx context.Context, fromUserID, requestID, eventType string, payload map[string]any) {
	client, provider, err := s.svc.RequestParties(ctx, requestID)
	if err != nil {
		obs.LogError("ws", "party resolution failed for request "+requestID, err)
		return
	}
	var target string
	switch fromUserID {
	case client:
		target = provider
	case provider:
		target = client
	default:
		return
	}
	s.dispatcher.Notify(target, market.Event{Type: eventType, Payload: payload})
}

// Run sweeps connections every heartbeat interval: a connection that showed
// no traffic since the previous sweep is closed; the rest are pinged.
// Blocks until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for userID, c := range s.registry.Snapshot() {
				if !c.aliveAndReset() {
					c.Close(websocket.CloseGoingAway, "Heartbeat timeout")
					s.registry.Unregister(userID, c)
					continue
				}
				if err := c.ping(); err != nil {
					c.Close(websocket.CloseGoingAway, "Ping failed")
					s.registry.Unregister(userID, c)
				}
			}
		}
	}
}
