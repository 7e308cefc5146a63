package distribution

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/krobus00/market-gateway/internal/constant"
	"github.com/krobus00/market-gateway/internal/entity"
	"github.com/krobus00/market-gateway/internal/infrastructure"
	"github.com/sirupsen/logrus"
)

const (
	writeWait       = 10 * time.Second
	maxMessageBytes = 64 * 1024
	snapshotTimeout = 2 * time.Second
)

// Client is one downstream WebSocket connection.
type Client struct {
	id          string
	conn        *websocket.Conn
	server      *Server
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	remoteAddr  string
	connectedAt time.Time
	lastSeen    atomic.Int64

	mu        sync.RWMutex
	principal *entity.Principal
	channels  map[string]struct{}
}

func newClient(id string, conn *websocket.Conn, server *Server, bufferSize int) *Client {
	c := &Client{
		id:          id,
		conn:        conn,
		server:      server,
		send:        make(chan []byte, bufferSize),
		done:        make(chan struct{}),
		remoteAddr:  conn.RemoteAddr().String(),
		connectedAt: server.now(),
		channels:    make(map[string]struct{}),
	}
	c.touch()
	return c
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) touch() {
	c.lastSeen.Store(c.server.now().UnixNano())
}

func (c *Client) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastSeen.Load()))
}

func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.principal != nil
}

func (c *Client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

func (c *Client) subscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.channels)
}

func (c *Client) info() entity.ClientInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := entity.ClientInfo{
		ID:            c.id,
		Authenticated: c.principal != nil,
		Subscriptions: make([]string, 0, len(c.channels)),
		ConnectedAt:   c.connectedAt.UnixMilli(),
		LastSeen:      time.Unix(0, c.lastSeen.Load()).UnixMilli(),
		RemoteAddr:    c.remoteAddr,
	}
	if c.principal != nil {
		info.UserID = c.principal.UserID
	}
	for channel := range c.channels {
		info.Subscriptions = append(info.Subscriptions, channel)
	}
	sort.Strings(info.Subscriptions)

	return info
}

// enqueue hands frame to the write pump without blocking. A full buffer drops
// the frame for this client only.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		infrastructure.DistributionMessagesDropped.WithLabelValues("client_buffer_full").Inc()
		logrus.WithField("client_id", c.id).Debug("client send buffer full, frame dropped")
		return false
	}
}

func (c *Client) sendMessage(messageType string, payload any) bool {
	frame, err := encodeFrame(messageType, payload, c.server.now().UnixMilli())
	if err != nil {
		logrus.WithField("client_id", c.id).Errorf("encode %s: %v", messageType, err)
		return false
	}
	return c.enqueue(frame)
}

func (c *Client) sendError(code, message string) {
	c.sendMessage(constant.ServerMessageError, entity.ErrorPayload{Code: code, Message: message})
}

func (c *Client) readPump() {
	defer c.server.disconnect(c, websocket.CloseNormalClosure, "")

	c.conn.SetReadLimit(maxMessageBytes)
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logrus.WithField("client_id", c.id).Debugf("client read: %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.handleMessage(data)
	}
}

func (c *Client) writePump() {
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.server.disconnect(c, websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// close sends a close frame with code and reason, then releases the socket.
func (c *Client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if code != websocket.CloseAbnormalClosure {
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		}
		_ = c.conn.Close()
	})
}

func (c *Client) handleMessage(data []byte) {
	var msg entity.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(constant.ErrCodeInvalidMessage, "invalid message format")
		return
	}

	switch msg.Type {
	case constant.ClientMessageAuth:
		c.handleAuth(msg.Payload)
	case constant.ClientMessageSubscribe:
		c.handleSubscribe(msg.Payload)
	case constant.ClientMessageUnsubscribe:
		c.handleUnsubscribe(msg.Payload)
	case constant.ClientMessagePing:
		c.touch()
		c.sendMessage(constant.ServerMessagePong, map[string]int64{"timestamp": c.server.now().UnixMilli()})
	default:
		if !c.IsAuthenticated() {
			c.sendError(constant.ErrCodeNotAuthenticated, "authentication required")
			return
		}
		c.sendError(constant.ErrCodeUnknownType, "unknown message type: "+msg.Type)
	}
}

func (c *Client) handleAuth(raw json.RawMessage) {
	var payload entity.AuthPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			c.sendError(constant.ErrCodeInvalidMessage, "invalid auth payload")
			return
		}
	}

	principal, err := c.server.auth.Authenticate(payload.Token)
	switch {
	case errors.Is(err, ErrMissingToken):
		c.sendError(constant.ErrCodeMissingToken, "authentication token is required")
		return
	case err != nil:
		logrus.WithField("client_id", c.id).Warnf("client authentication failed: %v", err)
		c.sendError(constant.ErrCodeAuthFailed, "invalid or expired token")
		return
	}

	c.mu.Lock()
	c.principal = &principal
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"client_id": c.id,
		"user_id":   principal.UserID,
	}).Info("client authenticated")

	c.sendMessage(constant.ServerMessageAuthSuccess, map[string]any{
		"userId":      principal.UserID,
		"permissions": principal.Permissions,
	})
}

func (c *Client) handleSubscribe(raw json.RawMessage) {
	c.mu.RLock()
	principal := c.principal
	c.mu.RUnlock()
	if principal == nil {
		c.sendError(constant.ErrCodeNotAuthenticated, "authentication required")
		return
	}

	name := channelName(raw)
	channel, err := ParseChannel(name)
	switch {
	case errors.Is(err, ErrMissingChannel):
		c.sendError(constant.ErrCodeMissingChannel, "channel is required")
		return
	case err != nil:
		c.sendError(constant.ErrCodeInvalidChannel, "invalid channel: "+name)
		return
	}
	if !CanRead(principal.Permissions, channel.Kind) {
		c.sendError(constant.ErrCodePermissionDenied, "no permission for channel: "+channel.String())
		return
	}

	c.mu.Lock()
	_, existed := c.channels[channel.String()]
	c.channels[channel.String()] = struct{}{}
	c.mu.Unlock()

	c.sendMessage(constant.ServerMessageSubscribed, entity.ChannelPayload{Channel: channel.String()})
	logrus.WithFields(logrus.Fields{
		"client_id": c.id,
		"channel":   channel.String(),
	}).Info("client subscribed")

	if !existed {
		c.sendSnapshot(channel)
	}
}

func (c *Client) handleUnsubscribe(raw json.RawMessage) {
	name := channelName(raw)
	channel, err := ParseChannel(name)
	if errors.Is(err, ErrMissingChannel) {
		c.sendError(constant.ErrCodeMissingChannel, "channel is required")
		return
	}

	// unknown channels are acknowledged as they can never be subscribed
	key := strings.TrimSpace(name)
	if err == nil {
		key = channel.String()
	}

	c.mu.Lock()
	delete(c.channels, key)
	c.mu.Unlock()

	c.sendMessage(constant.ServerMessageUnsubscribed, entity.ChannelPayload{Channel: key})
}

func (c *Client) sendSnapshot(channel Channel) {
	source := c.server.snapshots
	if source == nil {
		return
	}
	if channel.Kind != constant.ChannelKindSystem && (channel.Symbol == "" || channel.IsWildcard()) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	logger := logrus.WithFields(logrus.Fields{"client_id": c.id, "channel": channel.String()})

	switch channel.Kind {
	case constant.ChannelKindQuotes:
		quote, err := source.GetCurrentQuote(ctx, channel.Symbol)
		if err != nil {
			logger.Warnf("quote snapshot: %v", err)
			return
		}
		if quote != nil {
			c.sendMessage(constant.EventTypeQuote, quote)
		}
	case constant.ChannelKindTrades:
		trades, err := source.GetRecentTrades(ctx, channel.Symbol, c.server.snapshotTrades)
		if err != nil {
			logger.Warnf("trades snapshot: %v", err)
			return
		}
		if len(trades) > 0 {
			c.sendMessage(constant.EventTypeTrades, entity.TradesSnapshot{Symbol: channel.Symbol, Trades: trades})
		}
	case constant.ChannelKindBook:
		book, err := source.GetBook(ctx, channel.Symbol, false)
		if err != nil {
			logger.Warnf("book snapshot: %v", err)
			return
		}
		if book != nil {
			c.sendMessage(constant.EventTypeBook, book)
		}
	case constant.ChannelKindSystem:
		stats, err := source.SystemStats(ctx)
		if err != nil {
			logger.Warnf("system stats snapshot: %v", err)
		}
		c.sendMessage(constant.EventTypeSystemStats, stats)
	}
}

func channelName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var payload entity.ChannelPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	return payload.Channel
}
