package main

import (
	"context"

	"github.com/cuemby/fbuildd/pkg/daemon"
	"github.com/cuemby/fbuildd/pkg/errs"
	"github.com/cuemby/fbuildd/pkg/log"
	"github.com/cuemby/fbuildd/pkg/processor"
	"github.com/cuemby/fbuildd/pkg/types"
)

// processors bundles the four concrete request processors plus the
// collaborators they need that aren't already on daemon.Context.
type processors struct {
	build   *processor.BuildProcessor
	deploy  *processor.DeployProcessor
	monitor *processor.MonitorProcessor
	install *processor.InstallDepsProcessor
}

func newProcessors(d *daemon.Context) *processors {
	build := &processor.BuildProcessor{
		Config:             unconfiguredConfigReader{},
		SelectOrchestrator: selectOrchestrator,
	}
	monitor := &processor.MonitorProcessor{
		Serial: d.Serial,
		Sink: func(operationID string, line []byte) {
			log.WithOperationID(operationID).Debug().Bytes("line", line).Msg("monitor output")
		},
	}
	deploy := &processor.DeployProcessor{
		Build:   build,
		Ledger:  d.Ledger,
		Flasher: unconfiguredFlasher{},
		Monitor: monitor,
	}
	install := &processor.InstallDepsProcessor{
		Installer: unconfiguredPackageInstaller{},
		Errors:    d.Errors,
		Progress: func(operationID string, ev types.ProgressEvent) {
			log.WithOperationID(operationID).Info().Str("phase", ev.Phase).Int("current", ev.Current).Int("total", ev.Total).Msg(ev.Message)
		},
	}
	return &processors{build: build, deploy: deploy, monitor: monitor, install: install}
}

// newHandler returns the single dispatch func both wire transports
// drive every decoded Request through. Build/Deploy/Monitor/Install
// Dependencies run through the processor framework (pkg/processor.Run);
// Attach/Detach/Poll operate directly on the shared serial manager and
// client manager, since those are lightweight session operations with
// no compile/flash work and no operation-registry entry of their own.
func newHandler(d *daemon.Context, procs *processors) func(ctx context.Context, req types.Request) (interface{}, error) {
	pctx := d.ProcessorContext()

	return func(ctx context.Context, req types.Request) (interface{}, error) {
		switch req.Kind {
		case types.RequestBuild:
			op, err := processor.Run(ctx, procs.build, req, pctx)
			return op, err
		case types.RequestDeploy:
			op, err := processor.Run(ctx, procs.deploy, req, pctx)
			return op, err
		case types.RequestMonitor:
			op, err := processor.Run(ctx, procs.monitor, req, pctx)
			return op, err
		case types.RequestInstallDependencies:
			op, err := processor.Run(ctx, procs.install, req, pctx)
			return op, err
		case types.RequestAttach:
			return handleAttach(ctx, d, req)
		case types.RequestDetach:
			return handleDetach(d, req)
		case types.RequestPoll:
			return handlePoll(d, req)
		default:
			return nil, errs.New("handler.Dispatch", errs.KindInvalidRequest)
		}
	}
}

func handleAttach(ctx context.Context, d *daemon.Context, req types.Request) (interface{}, error) {
	if req.Port == "" || req.ClientID == "" {
		return nil, errs.New("handler.Attach", errs.KindInvalidRequest)
	}
	if !d.Clients.IsClientAlive(req.ClientID) {
		d.Clients.RegisterClient(req.ClientID, req.CallerPID, nil)
	}
	if err := d.Serial.OpenPort(ctx, req.Port, req.BaudRate, req.ClientID); err != nil {
		return nil, errs.Wrap("handler.Attach", errs.KindSerialIO, err)
	}
	d.Clients.AttachResource(req.ClientID, req.Port)
	d.Status.SetPortState(types.PortState{Port: req.Port, State: types.PortMonitoring, ClientPID: req.CallerPID})
	return map[string]string{"port": req.Port}, nil
}

func handleDetach(d *daemon.Context, req types.Request) (interface{}, error) {
	if req.Port == "" || req.ClientID == "" {
		return nil, errs.New("handler.Detach", errs.KindInvalidRequest)
	}
	d.Serial.DisconnectClient(req.Port, req.ClientID)
	d.Clients.DetachResource(req.ClientID, req.Port)
	d.Status.ClearPortState(req.Port)
	return map[string]string{"port": req.Port}, nil
}

func handlePoll(d *daemon.Context, req types.Request) (interface{}, error) {
	if req.Port == "" || req.ClientID == "" {
		return nil, errs.New("handler.Poll", errs.KindInvalidRequest)
	}
	d.Clients.UpdateHeartbeat(req.ClientID)

	data, seq, err := d.Serial.Poll(req.Port, req.ClientID, req.SinceSeq)
	if err != nil {
		return nil, errs.Wrap("handler.Poll", errs.KindSerialIO, err)
	}

	preempted := false
	select {
	case _, ok := <-d.Serial.PreemptedEvents(req.Port, req.ClientID):
		preempted = ok
	default:
	}

	return map[string]interface{}{
		"data":      string(data),
		"seq":       seq,
		"preempted": preempted,
	}, nil
}
