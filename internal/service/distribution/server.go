package distribution

import (
	"context"
	"net/http"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/krobus00/market-gateway/internal/config"
	"github.com/krobus00/market-gateway/internal/constant"
	"github.com/krobus00/market-gateway/internal/entity"
	"github.com/krobus00/market-gateway/internal/infrastructure"
	"github.com/sirupsen/logrus"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultSendBufferSize    = 256
	defaultMaxConnections    = 100
	defaultSnapshotTrades    = 10

	shutdownReason = "Server shutdown"
)

// SnapshotSource serves the initial data sent on a client's first subscribe.
type SnapshotSource interface {
	GetCurrentQuote(ctx context.Context, symbol string) (*entity.QuoteSnapshot, error)
	GetRecentTrades(ctx context.Context, symbol string, limit int) ([]entity.TradeView, error)
	GetBook(ctx context.Context, symbol string, aggregated bool) (*entity.BookSnapshot, error)
	SystemStats(ctx context.Context) (entity.SystemStats, error)
}

// Server accepts downstream WebSocket clients and owns the client registry.
type Server struct {
	auth           *Authenticator
	snapshots      SnapshotSource
	upgrader       websocket.Upgrader
	heartbeat      time.Duration
	maxConnections int
	sendBuffer     int
	snapshotTrades int
	now            func() time.Time

	mu      sync.RWMutex
	clients map[string]*Client

	running   atomic.Bool
	startedAt time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewServer(cfg config.DistributionConfig, auth *Authenticator, snapshots SnapshotSource) *Server {
	s := &Server{
		auth:           auth,
		snapshots:      snapshots,
		heartbeat:      cfg.HeartbeatInterval,
		maxConnections: cfg.MaxConnections,
		sendBuffer:     cfg.SendBufferSize,
		snapshotTrades: cfg.SnapshotTrades,
		now:            time.Now,
		clients:        make(map[string]*Client),
		stopCh:         make(chan struct{}),
	}
	if s.heartbeat <= 0 {
		s.heartbeat = defaultHeartbeatInterval
	}
	if s.maxConnections <= 0 {
		s.maxConnections = defaultMaxConnections
	}
	if s.sendBuffer <= 0 {
		s.sendBuffer = defaultSendBufferSize
	}
	if s.snapshotTrades <= 0 {
		s.snapshotTrades = defaultSnapshotTrades
	}

	allowed := slices.Clone(cfg.AllowedOrigins)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(allowed) == 0 || origin == "" || slices.Contains(allowed, origin)
		},
	}

	return s
}

// Start enables accepting clients and runs the heartbeat.
func (s *Server) Start() {
	if s.running.Swap(true) {
		return
	}
	s.startedAt = s.now()

	s.wg.Add(1)
	go s.heartbeatLoop()

	logrus.WithField("heartbeat", s.heartbeat.String()).Info("distribution server started")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.running.Load() {
		http.Error(w, "server not running", http.StatusServiceUnavailable)
		return
	}
	if s.ClientCount() >= s.maxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithField("remote_addr", r.RemoteAddr).Warnf("websocket upgrade: %v", err)
		return
	}

	client := newClient(uuid.NewString(), conn, s, s.sendBuffer)

	s.mu.Lock()
	s.clients[client.id] = client
	total := len(s.clients)
	s.mu.Unlock()
	infrastructure.DistributionClients.Set(float64(total))

	logrus.WithFields(logrus.Fields{
		"client_id":     client.id,
		"remote_addr":   client.remoteAddr,
		"total_clients": total,
	}).Info("client connected")

	client.sendMessage(constant.ServerMessageWelcome, map[string]any{
		"clientId":   client.id,
		"serverTime": s.now().UnixMilli(),
		"version":    constant.ServerVersion,
	})

	go client.writePump()
	go client.readPump()
}

func (s *Server) disconnect(c *Client, code int, reason string) {
	s.mu.Lock()
	_, ok := s.clients[c.id]
	delete(s.clients, c.id)
	total := len(s.clients)
	s.mu.Unlock()

	c.close(code, reason)
	if !ok {
		return
	}

	infrastructure.DistributionClients.Set(float64(total))
	logrus.WithFields(logrus.Fields{
		"client_id": c.id,
		"duration":  s.now().Sub(c.connectedAt).String(),
	}).Info("client disconnected")
}

func (s *Server) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkLiveness()
		case <-s.stopCh:
			return
		}
	}
}

// checkLiveness terminates clients silent for two heartbeat intervals and pings the rest.
func (s *Server) checkLiveness() {
	now := s.now()
	timeout := 2 * s.heartbeat

	for _, client := range s.snapshotClients() {
		if client.idleFor(now) > timeout {
			logrus.WithField("client_id", client.id).Warn("client unresponsive, terminating")
			s.disconnect(client, websocket.CloseAbnormalClosure, "")
			continue
		}
		if err := client.ping(); err != nil {
			logrus.WithField("client_id", client.id).Debugf("ping: %v", err)
		}
	}
}

func (s *Server) snapshotClients() []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, client)
	}
	return clients
}

// SendToChannel delivers frame to authenticated clients subscribed to channel.
func (s *Server) SendToChannel(channel string, frame []byte) int {
	sent := 0
	for _, client := range s.snapshotClients() {
		if client.IsAuthenticated() && client.isSubscribed(channel) && client.enqueue(frame) {
			sent++
		}
	}
	return sent
}

// SendToAll delivers frame to every authenticated client.
func (s *Server) SendToAll(frame []byte) int {
	sent := 0
	for _, client := range s.snapshotClients() {
		if client.IsAuthenticated() && client.enqueue(frame) {
			sent++
		}
	}
	return sent
}

func (s *Server) SubscriberCount(channel string) int {
	count := 0
	for _, client := range s.snapshotClients() {
		if client.IsAuthenticated() && client.isSubscribed(channel) {
			count++
		}
	}
	return count
}

func (s *Server) TotalSubscriptions() int {
	total := 0
	for _, client := range s.snapshotClients() {
		total += client.subscriptionCount()
	}
	return total
}

func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) Clients() []entity.ClientInfo {
	clients := s.snapshotClients()
	infos := make([]entity.ClientInfo, 0, len(clients))
	for _, client := range clients {
		infos = append(infos, client.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt < infos[j].ConnectedAt
	})
	return infos
}

func (s *Server) Stats() entity.ServerStats {
	stats := entity.ServerStats{IsRunning: s.running.Load()}
	for _, client := range s.snapshotClients() {
		stats.TotalClients++
		if client.IsAuthenticated() {
			stats.AuthenticatedClients++
		}
		stats.TotalSubscriptions += client.subscriptionCount()
	}
	if stats.IsRunning {
		stats.UptimeMillis = s.now().Sub(s.startedAt).Milliseconds()
	}
	return stats
}

// Stop closes every client with 1001 and stops the heartbeat.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		close(s.stopCh)

		clients := s.snapshotClients()
		for _, client := range clients {
			s.disconnect(client, websocket.CloseGoingAway, shutdownReason)
		}
		logrus.WithField("clients", len(clients)).Info("distribution server stopped")
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
