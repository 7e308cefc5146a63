package distribution

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/krobus00/market-gateway/internal/config"
	"github.com/krobus00/market-gateway/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSnapshots struct{}

func (fakeSnapshots) GetCurrentQuote(_ context.Context, symbol string) (*entity.QuoteSnapshot, error) {
	return &entity.QuoteSnapshot{
		Symbol:    symbol,
		LastPrice: decimal.NewNullDecimal(decimal.RequireFromString("10.50")),
	}, nil
}

func (fakeSnapshots) GetRecentTrades(_ context.Context, symbol string, limit int) ([]entity.TradeView, error) {
	trades := make([]entity.TradeView, 0, limit)
	for range min(limit, 3) {
		trades = append(trades, entity.TradeView{Symbol: symbol})
	}
	return trades, nil
}

func (fakeSnapshots) GetBook(context.Context, string, bool) (*entity.BookSnapshot, error) {
	return nil, nil
}

func (fakeSnapshots) SystemStats(context.Context) (entity.SystemStats, error) {
	return entity.SystemStats{Storage: entity.StorageStats{Ticks: 42}}, nil
}

type testEnv struct {
	server      *Server
	broadcaster *Broadcaster
	url         string
}

func newTestEnv(t *testing.T, cfg config.DistributionConfig) *testEnv {
	t.Helper()

	srv := NewServer(cfg, NewAuthenticator(testSecret, true), fakeSnapshots{})
	srv.Start()
	httpServer := httptest.NewServer(srv)

	env := &testEnv{
		server:      srv,
		broadcaster: NewBroadcaster(cfg, srv),
		url:         "ws" + strings.TrimPrefix(httpServer.URL, "http"),
	}
	t.Cleanup(func() {
		env.broadcaster.Stop()
		_ = srv.Stop(context.Background())
		httpServer.Close()
	})

	return env
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (e *testEnv) dial(t *testing.T) *testClient {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(e.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &testClient{t: t, conn: conn}
	welcome := c.read()
	require.Equal(t, "welcome", welcome.Type)
	return c
}

type received struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func (c *testClient) send(messageType string, payload any) {
	c.t.Helper()
	raw, err := json.Marshal(map[string]any{"type": messageType, "payload": payload})
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, raw))
}

func (c *testClient) read() received {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := c.conn.ReadMessage()
	require.NoError(c.t, err)

	var msg received
	require.NoError(c.t, json.Unmarshal(raw, &msg))
	return msg
}

func (c *testClient) expectSilence(d time.Duration) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(d)))
	_, raw, err := c.conn.ReadMessage()
	require.Error(c.t, err, "unexpected frame: %s", raw)
}

func (c *testClient) authenticate() {
	c.t.Helper()
	c.send("auth", map[string]string{"token": "dev-token"})
	msg := c.read()
	require.Equal(c.t, "authSuccess", msg.Type)
}

func TestServer_WelcomeAndAuth(t *testing.T) {
	env := newTestEnv(t, config.DistributionConfig{})
	client := env.dial(t)

	client.send("auth", map[string]string{})
	msg := client.read()
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "MISSING_TOKEN", msg.Payload["code"])

	client.send("auth", map[string]string{"token": "not-a-jwt"})
	msg = client.read()
	assert.Equal(t, "AUTH_FAILED", msg.Payload["code"])

	client.send("auth", map[string]string{"token": "demo-abc"})
	msg = client.read()
	assert.Equal(t, "authSuccess", msg.Type)
	assert.Equal(t, "dev-trader", msg.Payload["userId"])

	client.send("ping", nil)
	msg = client.read()
	assert.Equal(t, "pong", msg.Type)

	require.NoError(t, client.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg = client.read()
	assert.Equal(t, "INVALID_MESSAGE", msg.Payload["code"])

	client.send("orders", nil)
	msg = client.read()
	assert.Equal(t, "UNKNOWN_TYPE", msg.Payload["code"])
}

func TestServer_SubscribeRequiresAuthentication(t *testing.T) {
	env := newTestEnv(t, config.DistributionConfig{})
	client := env.dial(t)

	client.send("subscribe", map[string]string{"channel": "quotes:ABC"})
	msg := client.read()
	assert.Equal(t, "NOT_AUTHENTICATED", msg.Payload["code"])

	client.send("orders", nil)
	msg = client.read()
	assert.Equal(t, "NOT_AUTHENTICATED", msg.Payload["code"])

	require.Eventually(t, func() bool { return env.server.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, env.server.TotalSubscriptions())
	assert.Zero(t, env.server.SubscriberCount("quotes:ABC"))
}

func TestServer_SubscribeValidationAndSnapshots(t *testing.T) {
	env := newTestEnv(t, config.DistributionConfig{})
	client := env.dial(t)
	client.authenticate()

	client.send("subscribe", map[string]string{})
	assert.Equal(t, "MISSING_CHANNEL", client.read().Payload["code"])

	client.send("subscribe", map[string]string{"channel": "news:ABC"})
	assert.Equal(t, "INVALID_CHANNEL", client.read().Payload["code"])

	client.send("subscribe", map[string]string{"channel": "quotes:ABC"})
	msg := client.read()
	assert.Equal(t, "subscribed", msg.Type)
	assert.Equal(t, "quotes:ABC", msg.Payload["channel"])
	snapshot := client.read()
	assert.Equal(t, "quote", snapshot.Type)
	assert.Equal(t, "ABC", snapshot.Payload["symbol"])

	client.send("subscribe", map[string]string{"channel": "quotes:ABC"})
	assert.Equal(t, "subscribed", client.read().Type)

	client.send("subscribe", map[string]string{"channel": "trades:ABC"})
	assert.Equal(t, "subscribed", client.read().Type)
	snapshot = client.read()
	assert.Equal(t, "trades", snapshot.Type)
	assert.Len(t, snapshot.Payload["trades"], 3)

	client.send("subscribe", map[string]string{"channel": "system"})
	assert.Equal(t, "subscribed", client.read().Type)
	snapshot = client.read()
	assert.Equal(t, "systemStats", snapshot.Type)

	client.send("unsubscribe", map[string]string{"channel": "quotes:ABC"})
	msg = client.read()
	assert.Equal(t, "unsubscribed", msg.Type)

	client.expectSilence(50 * time.Millisecond)
	assert.Equal(t, 2, env.server.TotalSubscriptions())
}

func TestServer_UnsubscribeTrimsChannelName(t *testing.T) {
	env := newTestEnv(t, config.DistributionConfig{ThrottleInterval: 20 * time.Millisecond})
	client := env.dial(t)
	client.authenticate()

	client.send("subscribe", map[string]string{"channel": " trades:ABC "})
	require.Equal(t, "subscribed", client.read().Type)
	require.Equal(t, "trades", client.read().Type)
	assert.Equal(t, 1, env.server.TotalSubscriptions())

	client.send("unsubscribe", map[string]string{"channel": " trades:ABC "})
	msg := client.read()
	assert.Equal(t, "unsubscribed", msg.Type)
	assert.Equal(t, "trades:ABC", msg.Payload["channel"])
	assert.Zero(t, env.server.TotalSubscriptions())

	require.NoError(t, env.broadcaster.PublishMarketEvent(context.Background(), tradeEvent("ABC", "T1")))
	client.expectSilence(100 * time.Millisecond)

	client.send("unsubscribe", map[string]string{})
	assert.Equal(t, "MISSING_CHANNEL", client.read().Payload["code"])
}

func TestServer_PermissionDenied(t *testing.T) {
	env := newTestEnv(t, config.DistributionConfig{})
	auth := NewAuthenticator(testSecret, false)
	token, err := auth.IssueToken(entity.Principal{UserID: "u1", Permissions: []string{"read:quotes"}}, time.Hour)
	require.NoError(t, err)

	client := env.dial(t)
	client.send("auth", map[string]string{"token": token})
	require.Equal(t, "authSuccess", client.read().Type)

	client.send("subscribe", map[string]string{"channel": "trades:ABC"})
	assert.Equal(t, "PERMISSION_DENIED", client.read().Payload["code"])
}

func TestServer_FanOutOnlyToSubscribedClients(t *testing.T) {
	env := newTestEnv(t, config.DistributionConfig{ThrottleInterval: 20 * time.Millisecond})

	abc := env.dial(t)
	abc.authenticate()
	abc.send("subscribe", map[string]string{"channel": "trades:ABC"})
	require.Equal(t, "subscribed", abc.read().Type)
	require.Equal(t, "trades", abc.read().Type)

	def := env.dial(t)
	def.authenticate()
	def.send("subscribe", map[string]string{"channel": "trades:DEF"})
	require.Equal(t, "subscribed", def.read().Type)
	require.Equal(t, "trades", def.read().Type)

	ctx := context.Background()
	require.NoError(t, env.broadcaster.PublishMarketEvent(ctx, tradeEvent("ABC", "T1")))
	require.NoError(t, env.broadcaster.PublishMarketEvent(ctx, tradeEvent("XYZ", "X1")))

	msg := abc.read()
	assert.Equal(t, "trades", msg.Type)
	assert.Equal(t, "trades:ABC", msg.Payload["channel"])
	assert.EqualValues(t, 1, msg.Payload["count"])

	abc.expectSilence(100 * time.Millisecond)
	def.expectSilence(100 * time.Millisecond)
}

func TestServer_StopClosesClientsWithGoingAway(t *testing.T) {
	env := newTestEnv(t, config.DistributionConfig{})
	client := env.dial(t)
	client.authenticate()

	stats := env.server.Stats()
	assert.True(t, stats.IsRunning)
	assert.Equal(t, 1, stats.TotalClients)
	assert.Equal(t, 1, stats.AuthenticatedClients)

	require.NoError(t, env.server.Stop(context.Background()))

	require.NoError(t, client.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, "Server shutdown", closeErr.Text)
	assert.Zero(t, env.server.ClientCount())
	assert.False(t, env.server.Stats().IsRunning)
}

func TestServer_HeartbeatTerminatesSilentClients(t *testing.T) {
	env := newTestEnv(t, config.DistributionConfig{HeartbeatInterval: 20 * time.Millisecond})
	client := env.dial(t)
	client.conn.SetPingHandler(func(string) error { return nil })

	go func() {
		for {
			if _, _, err := client.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool { return env.server.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
