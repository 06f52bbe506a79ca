// Package serial implements the Shared Serial Manager: it serializes
// physical port access across multiple logical attaches (a monitor
// client and, transiently, an upload preempting it), multiplexing reads
// through one reader goroutine per open port into a ring buffer tagged
// with a monotonically increasing sequence number.
package serial

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/cuemby/fbuildd/pkg/errs"
	"github.com/cuemby/fbuildd/pkg/log"
)

// ringBufferSize bounds how many recently-received bytes a session
// retains for clients that poll in behind the writer.
const ringBufferSize = 64 * 1024

// PreemptedEvent is delivered to a client's event channel when an
// exclusive open (firmware upload) forcibly closes its session.
type PreemptedEvent struct {
	Port    string
	Message string
}

// Port abstracts the actual serial port handle so tests can substitute
// an in-memory implementation; production code backs this with a real
// OS serial port (opened via the platform-specific openOSPort helper).
type Port interface {
	io.ReadWriteCloser
}

// OpenFunc opens the named port at baud, returning a Port. Swappable
// for tests.
type OpenFunc func(port string, baud int) (Port, error)

type session struct {
	port    string
	baud    int
	handle  Port
	clients map[string]chan PreemptedEvent

	mu       sync.Mutex
	ring     []byte
	seq      uint64
	closedCh chan struct{}
}

// Manager owns every open serial session.
type Manager struct {
	open OpenFunc

	retryUnix    time.Duration
	retryWindows time.Duration

	mu       sync.Mutex
	sessions map[string]*session

	telemetryMu sync.Mutex
	telemetry   map[string][]RetryAttempt
}

// RetryAttempt records one failed open attempt's failure kind, so an
// operator can distinguish "stuck permission" from "re-enumerating"
// through RetryTelemetry instead of reading the log.
type RetryAttempt struct {
	Kind string // "permission_denied", "not_found" or "other"
	At   time.Time
}

// New constructs a Manager. open is the platform port-opener; pass nil
// to use the default OS implementation.
func New(open OpenFunc, retryUnix, retryWindows time.Duration) *Manager {
	if open == nil {
		open = openOSPort
	}
	return &Manager{open: open, retryUnix: retryUnix, retryWindows: retryWindows, sessions: make(map[string]*session), telemetry: make(map[string][]RetryAttempt)}
}

// RetryTelemetry returns the recorded retry attempts for port since the
// last successful open.
func (m *Manager) RetryTelemetry(port string) []RetryAttempt {
	m.telemetryMu.Lock()
	defer m.telemetryMu.Unlock()
	out := make([]RetryAttempt, len(m.telemetry[port]))
	copy(out, m.telemetry[port])
	return out
}

func (m *Manager) recordRetry(port string, err error) {
	kind := "other"
	switch {
	case errors.Is(err, os.ErrPermission):
		kind = "permission_denied"
	case errors.Is(err, os.ErrNotExist):
		kind = "not_found"
	}
	m.telemetryMu.Lock()
	m.telemetry[port] = append(m.telemetry[port], RetryAttempt{Kind: kind, At: time.Now()})
	m.telemetryMu.Unlock()
}

// OpenPort attaches clientID to port's session, opening it with bounded
// retries if no session exists yet.
func (m *Manager) OpenPort(ctx context.Context, port string, baud int, clientID string) error {
	m.mu.Lock()
	s, ok := m.sessions[port]
	m.mu.Unlock()

	if ok {
		s.mu.Lock()
		if s.clients[clientID] == nil {
			s.clients[clientID] = make(chan PreemptedEvent, 1)
		}
		s.mu.Unlock()
		return nil
	}

	handle, err := m.openWithRetry(ctx, port, baud)
	if err != nil {
		return err
	}

	s = &session{
		port:     port,
		baud:     baud,
		handle:   handle,
		clients:  map[string]chan PreemptedEvent{clientID: make(chan PreemptedEvent, 1)},
		closedCh: make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[port] = s
	m.mu.Unlock()

	go m.readLoop(s)
	return nil
}

// openWithRetry retries port opening with exponential backoff (capped
// at 10s): 15 attempts on Unix, 30 on Windows, tolerating the USB-CDC
// re-enumeration gap after a device reset on Windows.
func (m *Manager) openWithRetry(ctx context.Context, port string, baud int) (Port, error) {
	maxAttempts, retryBase := retryParamsFor(m.retryUnix, m.retryWindows)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		handle, err := m.open(port, baud)
		if err == nil {
			m.telemetryMu.Lock()
			delete(m.telemetry, port)
			m.telemetryMu.Unlock()
			return handle, nil
		}
		lastErr = err
		m.recordRetry(port, err)

		if !isRetryable(err) {
			return nil, errs.Wrap("serial.OpenPort", errs.KindSerialIO, err)
		}

		backoff := retryBase * time.Duration(1<<uint(attempt))
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
		jitter := time.Duration(rand.Int63n(int64(backoff) / 4 + 1))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return nil, errs.Wrap("serial.OpenPort", errs.KindSerialIO, lastErr)
}

func isRetryable(err error) bool {
	return errors.Is(err, os.ErrPermission) || errors.Is(err, os.ErrNotExist)
}

func (m *Manager) readLoop(s *session) {
	buf := make([]byte, 4096)
	for {
		n, err := s.handle.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.ring = append(s.ring, buf[:n]...)
			if len(s.ring) > ringBufferSize {
				s.ring = s.ring[len(s.ring)-ringBufferSize:]
			}
			s.seq += uint64(n)
			s.mu.Unlock()
		}
		if err != nil {
			if err != io.EOF {
				log.WithComponent("serial").Warn().Err(err).Str("port", s.port).Msg("serial read error, stopping session")
			}
			m.teardownSession(s.port, "serial read error")
			return
		}
		select {
		case <-s.closedCh:
			return
		default:
		}
	}
}

// Poll returns any bytes received since lastSeenSeq, along with the new
// sequence number.
func (m *Manager) Poll(port, clientID string, lastSeenSeq uint64) (data []byte, newSeq uint64, err error) {
	m.mu.Lock()
	s, ok := m.sessions[port]
	m.mu.Unlock()
	if !ok {
		return nil, 0, errs.New("serial.Poll", errs.KindNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if lastSeenSeq >= s.seq {
		return nil, s.seq, nil
	}

	available := s.seq - lastSeenSeq
	if available > uint64(len(s.ring)) {
		available = uint64(len(s.ring))
	}
	start := uint64(len(s.ring)) - available
	out := make([]byte, available)
	copy(out, s.ring[start:])
	return out, s.seq, nil
}

// Write sends data to port's underlying handle.
func (m *Manager) Write(port string, data []byte) (int, error) {
	m.mu.Lock()
	s, ok := m.sessions[port]
	m.mu.Unlock()
	if !ok {
		return 0, errs.New("serial.Write", errs.KindNotFound)
	}
	return s.handle.Write(data)
}

// DisconnectClient detaches clientID; when the last client detaches,
// the port is closed and the session dropped.
func (m *Manager) DisconnectClient(port, clientID string) {
	m.mu.Lock()
	s, ok := m.sessions[port]
	m.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	delete(s.clients, clientID)
	remaining := len(s.clients)
	s.mu.Unlock()

	if remaining == 0 {
		m.teardownSession(port, "last client detached")
	}
}

func (m *Manager) teardownSession(port, reason string) {
	m.mu.Lock()
	s, ok := m.sessions[port]
	if ok {
		delete(m.sessions, port)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	select {
	case <-s.closedCh:
	default:
		close(s.closedCh)
	}
	_ = s.handle.Close()
	log.WithComponent("serial").Info().Str("port", port).Str("reason", reason).Msg("session closed")
}

// Preempt forcibly closes port's session for an exclusive operation
// (firmware upload), notifying every currently attached client so it
// can reconnect afterward.
func (m *Manager) Preempt(port, message string) {
	m.mu.Lock()
	s, ok := m.sessions[port]
	m.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	for _, ch := range s.clients {
		select {
		case ch <- PreemptedEvent{Port: port, Message: message}:
		default:
		}
	}
	s.mu.Unlock()

	m.teardownSession(port, "preempted for exclusive open")
}

// CloseAll tears down every open session, for use during daemon
// shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ports := make([]string, 0, len(m.sessions))
	for port := range m.sessions {
		ports = append(ports, port)
	}
	m.mu.Unlock()

	for _, port := range ports {
		m.teardownSession(port, "daemon shutdown")
	}
}

// PreemptedEvents returns the channel a client can select on to learn
// it was preempted, or nil if the client/port is unknown.
func (m *Manager) PreemptedEvents(port, clientID string) <-chan PreemptedEvent {
	m.mu.Lock()
	s, ok := m.sessions[port]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[clientID]
}
