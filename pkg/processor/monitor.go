package processor

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/cuemby/fbuildd/pkg/errs"
	"github.com/cuemby/fbuildd/pkg/serial"
	"github.com/cuemby/fbuildd/pkg/types"
)

// ExitReason explains why a monitor session ended.
type ExitReason string

const (
	ExitTimeout       ExitReason = "timeout"
	ExitExpectFound   ExitReason = "expect_found"
	ExitErrorFound    ExitReason = "error_found"
	ExitSuccessFound  ExitReason = "success_found"
	ExitCancelled     ExitReason = "cancelled"
	ExitPortPreempted ExitReason = "port_preempted"
)

// MonitorSummary is returned once a monitor session ends.
type MonitorSummary struct {
	ExpectedFound  bool
	ErrorFound     bool
	SuccessFound   bool
	LinesProcessed int
	Elapsed        time.Duration
	ExitReason     ExitReason
}

// MonitorProcessor streams a port's serial output to a client-visible
// sink, matching optional halt/expect regexes and honoring a wall-clock
// timeout. It holds only the port lock.
type MonitorProcessor struct {
	Serial *serial.Manager
	Sink   func(operationID string, line []byte) // client-visible output
}

func (p *MonitorProcessor) OperationType() types.RequestKind { return types.RequestMonitor }

func (p *MonitorProcessor) RequiredLocks(req types.Request) []LockRequirement {
	return []LockRequirement{{Kind: types.LockKindPort, Key: req.Port}}
}

func (p *MonitorProcessor) ValidateRequest(req types.Request) error {
	if req.Port == "" {
		return errs.New("monitor.ValidateRequest", errs.KindInvalidRequest)
	}
	return nil
}

func (p *MonitorProcessor) StartingState() types.DaemonState { return types.DaemonMonitoring }

func (p *MonitorProcessor) StartingMessage(req types.Request) string {
	return fmt.Sprintf("monitoring %s", req.Port)
}

func (p *MonitorProcessor) SuccessMessage(req types.Request) string {
	return fmt.Sprintf("monitor session on %s ended", req.Port)
}

func (p *MonitorProcessor) FailureMessage(req types.Request, err error) string {
	return fmt.Sprintf("monitor session on %s failed: %v", req.Port, err)
}

func (p *MonitorProcessor) Execute(ctx context.Context, req types.Request, pctx *Context, opID string) (interface{}, error) {
	baud := req.BaudRate
	if baud == 0 {
		baud = 115200
	}
	if err := p.Serial.OpenPort(ctx, req.Port, baud, opID); err != nil {
		return nil, errs.Wrap("monitor.Execute", errs.KindSerialIO, err)
	}
	defer p.Serial.DisconnectClient(req.Port, opID)

	var expectRe, haltErrorRe, haltSuccessRe *regexp.Regexp
	for _, pat := range req.ExpectedPatterns {
		if expectRe == nil {
			expectRe = regexp.MustCompile(pat)
		}
	}
	if req.HaltOnError != "" {
		haltErrorRe = regexp.MustCompile(req.HaltOnError)
	}
	if req.HaltOnSuccess != "" {
		haltSuccessRe = regexp.MustCompile(req.HaltOnSuccess)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	preempted := p.Serial.PreemptedEvents(req.Port, opID)

	start := time.Now()
	summary := MonitorSummary{}
	var seq uint64
	var lineBuf bytes.Buffer

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			summary.ExitReason = ExitCancelled
			summary.Elapsed = time.Since(start)
			return summary, nil

		case <-deadline.C:
			summary.ExitReason = ExitTimeout
			summary.Elapsed = time.Since(start)
			return summary, nil

		case <-safeChan(preempted):
			summary.ExitReason = ExitPortPreempted
			summary.Elapsed = time.Since(start)
			return summary, nil

		case <-ticker.C:
			if err := pctx.Cancel.CheckAndRaiseIfCancelled(req.RequestID, req.CallerPID, types.RequestMonitor); err != nil {
				summary.ExitReason = ExitCancelled
				summary.Elapsed = time.Since(start)
				return summary, nil
			}

			data, newSeq, err := p.Serial.Poll(req.Port, opID, seq)
			if err != nil {
				return nil, errs.Wrap("monitor.Execute", errs.KindSerialIO, err)
			}
			seq = newSeq
			if len(data) == 0 {
				continue
			}

			lineBuf.Write(data)
			for {
				line, err := lineBuf.ReadBytes('\n')
				if err != nil {
					// Incomplete trailing line: push it back for the
					// next poll to complete.
					lineBuf.Reset()
					lineBuf.Write(line)
					break
				}
				line = bytes.TrimRight(line, "\r\n")
				summary.LinesProcessed++
				if p.Sink != nil {
					p.Sink(opID, line)
				}
				if expectRe != nil && expectRe.Match(line) {
					summary.ExpectedFound = true
					summary.ExitReason = ExitExpectFound
					summary.Elapsed = time.Since(start)
					return summary, nil
				}
				if haltErrorRe != nil && haltErrorRe.Match(line) {
					summary.ErrorFound = true
					summary.ExitReason = ExitErrorFound
					summary.Elapsed = time.Since(start)
					return summary, nil
				}
				if haltSuccessRe != nil && haltSuccessRe.Match(line) {
					summary.SuccessFound = true
					summary.ExitReason = ExitSuccessFound
					summary.Elapsed = time.Since(start)
					return summary, nil
				}
			}
		}
	}
}

// safeChan returns ch, or a nil channel (never selectable) if ch is
// nil, so a select clause with an absent preemption channel just blocks
// forever on that case instead of panicking.
func safeChan(ch <-chan serial.PreemptedEvent) <-chan serial.PreemptedEvent {
	return ch
}
