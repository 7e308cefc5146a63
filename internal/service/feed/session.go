package feed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/krobus00/market-gateway/internal/config"
	"github.com/krobus00/market-gateway/internal/entity"
	"github.com/sirupsen/logrus"
)

const (
	defaultSessionTimeout       = 30 * time.Second
	defaultReconnectDelay       = 5 * time.Second
	defaultInitialPromptDelay   = 1 * time.Second
	defaultStepDelay            = 500 * time.Millisecond
	maxLineBytes                = 1 << 20
	connectedMarker             = "You are connected"
	lineTerminator              = "\r\n"
	defaultMaxReconnectAttempts = 5
)

var denialMarkers = []string{"Invalid", "Error", "Denied"}

// SessionEvent is one of Connected, Authenticated, AuthFailed, LineReceived,
// Disconnected or ReconnectExhausted.
type SessionEvent interface {
	sessionEvent()
}

type Connected struct{}

type Authenticated struct{}

type AuthFailed struct {
	Line string
}

type LineReceived struct {
	Line string
}

type Disconnected struct {
	Err error
}

type ReconnectExhausted struct {
	Attempts int
}

func (Connected) sessionEvent()          {}
func (Authenticated) sessionEvent()      {}
func (AuthFailed) sessionEvent()         {}
func (LineReceived) sessionEvent()       {}
func (Disconnected) sessionEvent()       {}
func (ReconnectExhausted) sessionEvent() {}

// EventHandler receives session events. It may be called from the read loop
// and from reconnect timers, so it must be safe for concurrent use.
type EventHandler func(SessionEvent)

type link struct {
	conn    net.Conn
	auth    chan error
	writeMu sync.Mutex
}

// Session keeps one authenticated TCP connection to the upstream feed.
type Session struct {
	cfg     config.FeedConfig
	dialer  net.Dialer
	handler EventHandler

	mu             sync.Mutex
	link           *link
	state          entity.FeedState
	authenticated  bool
	attempts       int
	reconnectTimer *time.Timer
	overrideDelay  time.Duration
	stopped        bool
	lastErr        string
	runCtx         context.Context
}

func NewSession(cfg config.FeedConfig) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSessionTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.InitialPromptDelay <= 0 {
		cfg.InitialPromptDelay = defaultInitialPromptDelay
	}
	if cfg.StepDelay <= 0 {
		cfg.StepDelay = defaultStepDelay
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}

	return &Session{
		cfg:     cfg,
		dialer:  net.Dialer{Timeout: cfg.Timeout},
		handler: func(SessionEvent) {},
		state:   entity.FeedStateDisconnected,
		runCtx:  context.Background(),
	}
}

// OnEvent registers the event handler. Call it before Connect.
func (s *Session) OnEvent(handler EventHandler) {
	if handler == nil {
		return
	}
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

// Connect dials the feed and runs the login handshake. It returns once the
// server confirms the login, rejects it, or the timeout elapses. ctx also
// bounds later automatic reconnects.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = false
	s.runCtx = ctx
	s.mu.Unlock()

	return s.connect(ctx)
}

func (s *Session) connect(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	logger := logrus.WithField("addr", addr)

	s.setState(entity.FeedStateConnecting)
	logger.Info("connecting to feed")

	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		s.fail(err)
		return fmt.Errorf("%w: dial %s: %v", ErrConnection, addr, err)
	}

	l := &link{conn: conn, auth: make(chan error, 1)}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("%w: session stopped", ErrConnection)
	}
	if s.link != nil {
		_ = s.link.conn.Close()
	}
	s.link = l
	s.state = entity.FeedStateAuthenticating
	s.authenticated = false
	s.mu.Unlock()

	s.emit(Connected{})
	go s.readLoop(l)

	if err := s.handshake(ctx, l); err != nil {
		s.abandon(l, err)
		return err
	}

	logger.Info("feed session authenticated")
	return nil
}

func (s *Session) handshake(ctx context.Context, l *link) error {
	handshakeCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	steps := []struct {
		wait  time.Duration
		value string
		name  string
	}{
		{s.cfg.InitialPromptDelay, s.cfg.SoftwareKey, "software key"},
		{s.cfg.StepDelay, s.cfg.Username, "username"},
		{s.cfg.StepDelay, s.cfg.Password, "password"},
	}

	for _, step := range steps {
		if err := sleepContext(handshakeCtx, step.wait); err != nil {
			return s.handshakeWaitError(ctx, err)
		}
		logrus.WithField("step", step.name).Debug("sending handshake step")
		if err := writeLine(l, step.value, s.cfg.Timeout); err != nil {
			return err
		}
	}

	select {
	case err := <-l.auth:
		return err
	case <-handshakeCtx.Done():
		return s.handshakeWaitError(ctx, handshakeCtx.Err())
	}
}

func (s *Session) handshakeWaitError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &HandshakeError{Cause: ErrHandshakeTimeout}
	}
	return err
}

func (s *Session) readLoop(l *link) {
	scanner := bufio.NewScanner(l.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.handleLine(l, line)
	}

	s.onClose(l, scanner.Err())
}

func (s *Session) handleLine(l *link, line string) {
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return
	}
	authenticated := s.authenticated

	if strings.Contains(line, connectedMarker) {
		if authenticated {
			s.mu.Unlock()
			return
		}
		s.authenticated = true
		s.state = entity.FeedStateReady
		s.attempts = 0
		s.lastErr = ""
		s.mu.Unlock()

		signal(l.auth, nil)
		s.emit(Authenticated{})
		return
	}
	s.mu.Unlock()

	if !authenticated {
		if containsDenial(line) {
			logrus.WithField("line", line).Error("feed login rejected")
			signal(l.auth, &HandshakeError{Cause: ErrAuthRejected, Line: line})
			s.emit(AuthFailed{Line: line})
			return
		}
		logrus.WithField("line", line).Debug("feed line during login")
		return
	}

	s.emit(LineReceived{Line: line})
}

func (s *Session) onClose(l *link, readErr error) {
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return
	}
	if !s.authenticated {
		// login still in progress; connect owns the cleanup
		s.mu.Unlock()
		signal(l.auth, fmt.Errorf("%w: closed during login: %v", ErrConnection, readErr))
		return
	}
	s.link = nil
	s.authenticated = false
	s.state = entity.FeedStateDisconnected
	if readErr != nil {
		s.lastErr = readErr.Error()
	}
	stopped := s.stopped
	s.mu.Unlock()

	_ = l.conn.Close()
	logrus.WithError(readErr).Warn("feed connection closed")

	s.emit(Disconnected{Err: readErr})
	if !stopped {
		s.scheduleReconnect()
	}
}

// abandon drops a link whose handshake failed without triggering a reconnect.
func (s *Session) abandon(l *link, err error) {
	s.mu.Lock()
	if s.link == l {
		s.link = nil
		s.authenticated = false
		s.state = entity.FeedStateDisconnected
	}
	s.lastErr = err.Error()
	s.mu.Unlock()

	_ = l.conn.Close()
}

func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.attempts >= s.cfg.MaxReconnectAttempts {
		attempts := s.attempts
		s.mu.Unlock()

		logrus.WithField("attempts", attempts).Error("feed reconnect attempts exhausted")
		s.emit(ReconnectExhausted{Attempts: attempts})
		return
	}

	s.attempts++
	delay := s.cfg.ReconnectDelay * time.Duration(s.attempts)
	if s.overrideDelay > 0 {
		delay = s.overrideDelay
		s.overrideDelay = 0
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	s.reconnectTimer = time.AfterFunc(delay, s.reconnect)

	logrus.WithFields(logrus.Fields{
		"attempt":      s.attempts,
		"max_attempts": s.cfg.MaxReconnectAttempts,
		"retry_in":     delay.String(),
	}).Warn("feed reconnect scheduled")
	s.mu.Unlock()
}

func (s *Session) reconnect() {
	s.mu.Lock()
	ctx := s.runCtx
	stopped := s.stopped
	s.mu.Unlock()

	if stopped || ctx.Err() != nil {
		return
	}

	if err := s.connect(ctx); err != nil {
		logrus.WithError(err).Error("feed reconnect failed")
		s.scheduleReconnect()
	}
}

// ReconnectAfter drops the live connection so the next reconnect waits delay.
func (s *Session) ReconnectAfter(delay time.Duration) {
	s.mu.Lock()
	s.overrideDelay = delay
	l := s.link
	s.mu.Unlock()

	if l != nil {
		_ = l.conn.Close()
		return
	}
	s.scheduleReconnect()
}

// Disconnect closes the connection and cancels any pending reconnect.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.stopped = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	l := s.link
	s.link = nil
	s.authenticated = false
	s.state = entity.FeedStateDisconnected
	s.attempts = 0
	s.overrideDelay = 0
	s.mu.Unlock()

	if l == nil {
		return
	}
	_ = l.conn.Close()
	s.emit(Disconnected{})
	logrus.Info("feed session disconnected")
}

// Send writes one command. It fails with ErrNotAuthenticated until the login completes.
func (s *Session) Send(command string) error {
	s.mu.Lock()
	l := s.link
	authenticated := s.authenticated
	s.mu.Unlock()

	if !authenticated || l == nil {
		return ErrNotAuthenticated
	}

	logrus.WithField("command", command).Info("sending feed command")
	return writeLine(l, command, s.cfg.Timeout)
}

func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

func (s *Session) IsReady() bool {
	return s.IsAuthenticated()
}

func (s *Session) Info() entity.FeedInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return entity.FeedInfo{
		State:             s.state,
		Connected:         s.link != nil,
		Authenticated:     s.authenticated,
		ReconnectAttempts: s.attempts,
		Host:              s.cfg.Host,
		Port:              s.cfg.Port,
		LastError:         s.lastErr,
	}
}

func (s *Session) setState(state entity.FeedState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.state = entity.FeedStateDisconnected
	s.lastErr = err.Error()
	s.mu.Unlock()
}

func (s *Session) emit(event SessionEvent) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()

	handler(event)
}

func writeLine(l *link, value string, timeout time.Duration) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if timeout > 0 {
		_ = l.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if _, err := l.conn.Write([]byte(value + lineTerminator)); err != nil {
		return fmt.Errorf("%w: write: %v", ErrConnection, err)
	}

	return nil
}

func containsDenial(line string) bool {
	for _, marker := range denialMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

func signal(ch chan error, err error) {
	select {
	case ch <- err:
	default:
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
