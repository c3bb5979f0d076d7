package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"contract-service/internal/metrics"
	"contract-service/internal/pub"
	"contract-service/internal/response"
	"contract-service/internal/usecase"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(messageType, data)
}

// BalanceHub pushes balance.updated events to the contributor's open websocket connections.
// It is a pub.Publisher for single-instance runs and relays the redis balance channel otherwise.
type BalanceHub struct {
	mu          sync.RWMutex
	connections map[string]map[*wsConn]struct{}
	upgrader    websocket.Upgrader
	withdrawals *usecase.WithdrawalUsecase
	logger      *zap.Logger
}

func NewBalanceHub(withdrawals *usecase.WithdrawalUsecase, allowedOrigins []string, logger *zap.Logger) *BalanceHub {
	h := &BalanceHub{
		connections: make(map[string]map[*wsConn]struct{}),
		withdrawals: withdrawals,
		logger:      logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

func (h *BalanceHub) add(c *wsConn) {
	h.mu.Lock()
	if _, ok := h.connections[c.userID]; !ok {
		h.connections[c.userID] = make(map[*wsConn]struct{})
	}
	h.connections[c.userID][c] = struct{}{}
	h.mu.Unlock()
	metrics.WebsocketClients.Inc()
}

func (h *BalanceHub) remove(c *wsConn) {
	h.mu.Lock()
	conns, ok := h.connections[c.userID]
	if ok {
		if _, present := conns[c]; !present {
			ok = false
		}
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.connections, c.userID)
		}
	}
	h.mu.Unlock()
	if ok {
		metrics.WebsocketClients.Dec()
	}
	_ = c.conn.Close()
}

// ServeWS handles GET /payments/balance/ws. The current balance is sent on connect.
func (h *BalanceHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	actor, err := identity(r)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	current, err := h.withdrawals.GetBalance(r.Context(), actor)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &wsConn{conn: conn, userID: actor.ExternalID}
	h.add(c)
	defer h.remove(c)

	if raw, err := json.Marshal(pub.Event{
		Type:      pub.EventBalanceUpdated,
		Key:       actor.ExternalID,
		Data:      current,
		Timestamp: time.Now().UTC(),
	}); err == nil {
		if err := c.write(websocket.TextMessage, raw); err != nil {
			return
		}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Publish delivers balance events locally; other event types are ignored.
func (h *BalanceHub) Publish(_ context.Context, evt pub.Event) {
	if evt.Type != pub.EventBalanceUpdated {
		return
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal balance event", zap.Error(err))
		return
	}
	h.deliver(evt.Audience, raw)
}

func (h *BalanceHub) deliver(audience []string, raw []byte) {
	var targets []*wsConn
	h.mu.RLock()
	for _, userID := range audience {
		for c := range h.connections[userID] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(websocket.TextMessage, raw); err != nil {
			h.logger.Debug("websocket send failed", zap.String("user_id", c.userID), zap.Error(err))
			go h.remove(c)
		}
	}
}

// Close disconnects every client.
func (h *BalanceHub) Close() error {
	h.mu.RLock()
	var all []*wsConn
	for _, conns := range h.connections {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		h.remove(c)
	}
	return nil
}

// RelayFrom forwards events from the redis balance channel until ctx is done.
func (h *BalanceHub) RelayFrom(ctx context.Context, rdb redis.UniversalClient) {
	sub := rdb.Subscribe(ctx, pub.BalanceEventsChannel)
	defer sub.Close()

	h.logger.Info("relaying balance events", zap.String("channel", pub.BalanceEventsChannel))
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var evt pub.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				h.logger.Warn("malformed balance event", zap.Error(err))
				continue
			}
			h.deliver(evt.Audience, []byte(msg.Payload))
		}
	}
}
