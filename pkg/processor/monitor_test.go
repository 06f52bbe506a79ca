package processor

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fbuildd/pkg/cancel"
	"github.com/cuemby/fbuildd/pkg/serial"
	"github.com/cuemby/fbuildd/pkg/types"
)

func newMonitorTestContext(t *testing.T) *Context {
	t.Helper()
	pctx := newTestContext(t)
	reg, err := cancel.New(t.TempDir(), 50*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	pctx.Cancel = reg
	return pctx
}

// fakePort is an in-memory serial.Port: writes from the test arrive on
// Read, and it blocks (rather than EOFing) once drained, mimicking an
// idle board that hasn't produced more output yet.
type fakePort struct {
	mu     sync.Mutex
	buf    []byte
	closed chan struct{}
}

func newFakePort() *fakePort { return &fakePort{closed: make(chan struct{})} }

func (p *fakePort) feed(line string) {
	p.mu.Lock()
	p.buf = append(p.buf, []byte(line)...)
	p.mu.Unlock()
}

func (p *fakePort) Read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		if len(p.buf) > 0 {
			n := copy(b, p.buf)
			p.buf = p.buf[n:]
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()
		select {
		case <-p.closed:
			return 0, io.EOF
		case <-time.After(time.Millisecond):
		}
	}
}

func (p *fakePort) Write(b []byte) (int, error) { return len(b), nil }
func (p *fakePort) Close() error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}

func TestMonitorProcessor_HaltOnErrorStopsSessionAndMarksFound(t *testing.T) {
	port := newFakePort()
	mgr := serial.New(func(string, int) (serial.Port, error) { return port, nil }, 0, 0)

	p := &MonitorProcessor{Serial: mgr}
	pctx := newMonitorTestContext(t)

	req := types.Request{
		Port:        "/dev/ttyUSB0",
		HaltOnError: `^FATAL:`,
		Timeout:     time.Second,
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		port.feed("booting\nFATAL: stack overflow\n")
	}()

	result, err := p.Execute(context.Background(), req, pctx, "op-1")
	require.NoError(t, err)

	summary, ok := result.(MonitorSummary)
	require.True(t, ok)
	assert.True(t, summary.ErrorFound)
	assert.Equal(t, ExitErrorFound, summary.ExitReason)
	assert.Equal(t, 2, summary.LinesProcessed)
}

func TestMonitorProcessor_HaltOnSuccessStopsSessionAndMarksFound(t *testing.T) {
	port := newFakePort()
	mgr := serial.New(func(string, int) (serial.Port, error) { return port, nil }, 0, 0)

	p := &MonitorProcessor{Serial: mgr}
	pctx := newMonitorTestContext(t)

	req := types.Request{
		Port:          "/dev/ttyUSB0",
		HaltOnSuccess: `^READY$`,
		Timeout:       time.Second,
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		port.feed("READY\n")
	}()

	result, err := p.Execute(context.Background(), req, pctx, "op-1")
	require.NoError(t, err)

	summary, ok := result.(MonitorSummary)
	require.True(t, ok)
	assert.True(t, summary.SuccessFound)
	assert.Equal(t, ExitSuccessFound, summary.ExitReason)
}

func TestMonitorProcessor_NoPatternMatchExitsOnTimeout(t *testing.T) {
	port := newFakePort()
	mgr := serial.New(func(string, int) (serial.Port, error) { return port, nil }, 0, 0)

	p := &MonitorProcessor{Serial: mgr}
	pctx := newMonitorTestContext(t)

	req := types.Request{
		Port:    "/dev/ttyUSB0",
		Timeout: 30 * time.Millisecond,
	}

	result, err := p.Execute(context.Background(), req, pctx, "op-1")
	require.NoError(t, err)

	summary, ok := result.(MonitorSummary)
	require.True(t, ok)
	assert.Equal(t, ExitTimeout, summary.ExitReason)
	assert.False(t, summary.ErrorFound)
	assert.False(t, summary.SuccessFound)
}
