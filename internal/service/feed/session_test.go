package feed

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/krobus00/market-gateway/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFeed is a loopback server that reads the three login lines and answers
// with a scripted reply.
type fakeFeed struct {
	t        *testing.T
	listener net.Listener
	reply    func(conn net.Conn, login []string)

	mu       sync.Mutex
	logins   [][]string
	received []string
	conns    []net.Conn
}

func newFakeFeed(t *testing.T, reply func(conn net.Conn, login []string)) *fakeFeed {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeFeed{t: t, listener: listener, reply: reply}
	go f.serve()
	t.Cleanup(func() {
		_ = listener.Close()
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, c := range f.conns {
			_ = c.Close()
		}
	})

	return f
}

func (f *fakeFeed) serve() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()
		go f.handle(conn)
	}
}

func (f *fakeFeed) handle(conn net.Conn) {
	reader := bufio.NewReader(conn)
	login := make([]string, 0, 3)
	for len(login) < 3 {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		login = append(login, strings.TrimRight(line, "\r\n"))
	}

	f.mu.Lock()
	f.logins = append(f.logins, login)
	f.mu.Unlock()

	f.reply(conn, login)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		f.mu.Lock()
		f.received = append(f.received, line)
		f.mu.Unlock()
	}
}

func (f *fakeFeed) port() int {
	return f.listener.Addr().(*net.TCPAddr).Port
}

func (f *fakeFeed) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func (f *fakeFeed) connectionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logins)
}

func (f *fakeFeed) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		_ = c.Close()
	}
}

func testFeedConfig(port int) config.FeedConfig {
	return config.FeedConfig{
		Host:                 "127.0.0.1",
		Port:                 port,
		SoftwareKey:          "",
		Username:             "user",
		Password:             "secret",
		Timeout:              2 * time.Second,
		MaxReconnectAttempts: 2,
		ReconnectDelay:       20 * time.Millisecond,
		InitialPromptDelay:   time.Millisecond,
		StepDelay:            time.Millisecond,
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (r *eventRecorder) handle(event SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lines []string
	for _, e := range r.events {
		if lr, ok := e.(LineReceived); ok {
			lines = append(lines, lr.Line)
		}
	}
	return lines
}

func (r *eventRecorder) count(match func(SessionEvent) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.events {
		if match(e) {
			n++
		}
	}
	return n
}

func TestSession_HandshakeAndFraming(t *testing.T) {
	feed := newFakeFeed(t, func(conn net.Conn, _ []string) {
		_, _ = conn.Write([]byte("Welcome\r\nYou are connected\r\nT:ABC:093000:2:10.50\r\n\r\nV:ABC:A:09"))
		time.Sleep(20 * time.Millisecond)
		_, _ = conn.Write([]byte("3000:10.55:3:8:400:T1\nE:11:Server unavailable\r\n"))
	})

	recorder := &eventRecorder{}
	session := NewSession(testFeedConfig(feed.port()))
	session.OnEvent(recorder.handle)

	require.NoError(t, session.Connect(context.Background()))
	defer session.Disconnect()

	assert.True(t, session.IsAuthenticated())
	require.Eventually(t, func() bool {
		return recorder.count(func(e SessionEvent) bool { _, ok := e.(Authenticated); return ok }) == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return len(recorder.lines()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{
		"T:ABC:093000:2:10.50",
		"V:ABC:A:093000:10.55:3:8:400:T1",
		"E:11:Server unavailable",
	}, recorder.lines())

	feed.mu.Lock()
	assert.Equal(t, []string{"", "user", "secret"}, feed.logins[0])
	feed.mu.Unlock()

	require.NoError(t, session.Send("SQT ABC"))
	require.Eventually(t, func() bool { return len(feed.commands()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "SQT ABC\r\n", feed.commands()[0])
}

func TestSession_AuthRejected(t *testing.T) {
	feed := newFakeFeed(t, func(conn net.Conn, _ []string) {
		_, _ = conn.Write([]byte("Access Denied\r\n"))
	})

	recorder := &eventRecorder{}
	session := NewSession(testFeedConfig(feed.port()))
	session.OnEvent(recorder.handle)

	err := session.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthRejected))

	var handshakeErr *HandshakeError
	require.True(t, errors.As(err, &handshakeErr))
	assert.Equal(t, "Access Denied", handshakeErr.Line)
	assert.False(t, session.IsAuthenticated())
	require.Eventually(t, func() bool {
		return recorder.count(func(e SessionEvent) bool { _, ok := e.(AuthFailed); return ok }) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSession_HandshakeTimeout(t *testing.T) {
	feed := newFakeFeed(t, func(net.Conn, []string) {})

	cfg := testFeedConfig(feed.port())
	cfg.Timeout = 100 * time.Millisecond
	session := NewSession(cfg)

	err := session.Connect(context.Background())
	assert.True(t, errors.Is(err, ErrHandshakeTimeout))
	assert.False(t, session.Info().Connected)
}

func TestSession_SendBeforeAuth(t *testing.T) {
	session := NewSession(testFeedConfig(1))
	assert.True(t, errors.Is(session.Send("SQT ABC"), ErrNotAuthenticated))
}

func TestSession_DialFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	session := NewSession(testFeedConfig(port))
	err = session.Connect(context.Background())
	assert.True(t, errors.Is(err, ErrConnection))
}

func TestSession_ReconnectAfterDrop(t *testing.T) {
	feed := newFakeFeed(t, func(conn net.Conn, _ []string) {
		_, _ = conn.Write([]byte("You are connected\r\n"))
	})

	recorder := &eventRecorder{}
	session := NewSession(testFeedConfig(feed.port()))
	session.OnEvent(recorder.handle)

	require.NoError(t, session.Connect(context.Background()))
	defer session.Disconnect()

	feed.dropAll()

	require.Eventually(t, func() bool {
		return feed.connectionCount() == 2 &&
			recorder.count(func(e SessionEvent) bool { _, ok := e.(Authenticated); return ok }) == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, session.IsAuthenticated())
	assert.Equal(t, 1, recorder.count(func(e SessionEvent) bool { _, ok := e.(Disconnected); return ok }))
	assert.Equal(t, 0, session.Info().ReconnectAttempts)
}

func TestSession_ReconnectExhausted(t *testing.T) {
	var mu sync.Mutex
	accepted := 0
	feed := newFakeFeed(t, func(conn net.Conn, _ []string) {
		mu.Lock()
		accepted++
		first := accepted == 1
		mu.Unlock()
		if first {
			_, _ = conn.Write([]byte("You are connected\r\n"))
			return
		}
		_, _ = conn.Write([]byte("Invalid user\r\n"))
	})

	recorder := &eventRecorder{}
	session := NewSession(testFeedConfig(feed.port()))
	session.OnEvent(recorder.handle)

	require.NoError(t, session.Connect(context.Background()))
	defer session.Disconnect()

	feed.dropAll()

	require.Eventually(t, func() bool {
		return recorder.count(func(e SessionEvent) bool { _, ok := e.(ReconnectExhausted); return ok }) == 1
	}, 3*time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, feed.connectionCount())
	assert.Equal(t, 2, session.Info().ReconnectAttempts)
}

func TestSession_DisconnectCancelsReconnect(t *testing.T) {
	feed := newFakeFeed(t, func(conn net.Conn, _ []string) {
		_, _ = conn.Write([]byte("You are connected\r\n"))
	})

	cfg := testFeedConfig(feed.port())
	cfg.ReconnectDelay = 200 * time.Millisecond
	session := NewSession(cfg)

	require.NoError(t, session.Connect(context.Background()))
	session.ReconnectAfter(150 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	session.Disconnect()

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, feed.connectionCount())
	assert.False(t, session.IsAuthenticated())
}

func TestContainsDenial(t *testing.T) {
	for _, line := range []string{"Invalid password", "Error: bad key", "Access Denied"} {
		assert.True(t, containsDenial(line), line)
	}
	assert.False(t, containsDenial("Username:"))
}
