package processor

import (
	"context"
	"fmt"

	"github.com/cuemby/fbuildd/pkg/errs"
	"github.com/cuemby/fbuildd/pkg/ledger"
	"github.com/cuemby/fbuildd/pkg/types"
)

// DeployProcessor builds (reusing BuildProcessor's execution internally)
// then flashes a port unless the firmware ledger says the port is
// already current, optionally chaining into monitoring.
type DeployProcessor struct {
	Build   *BuildProcessor
	Ledger  *ledger.Ledger
	Flasher Flasher
	Monitor *MonitorProcessor // optional; nil disables auto-monitor after deploy
}

func (p *DeployProcessor) OperationType() types.RequestKind { return types.RequestDeploy }

func (p *DeployProcessor) RequiredLocks(req types.Request) []LockRequirement {
	locks := []LockRequirement{{Kind: types.LockKindProject, Key: req.ProjectDir}}
	if req.Port != "" {
		locks = append(locks, LockRequirement{Kind: types.LockKindPort, Key: req.Port})
	}
	return locks
}

func (p *DeployProcessor) ValidateRequest(req types.Request) error {
	if req.ProjectDir == "" || req.Port == "" {
		return errs.New("deploy.ValidateRequest", errs.KindInvalidRequest)
	}
	return nil
}

func (p *DeployProcessor) StartingState() types.DaemonState { return types.DaemonDeploying }

func (p *DeployProcessor) StartingMessage(req types.Request) string {
	return fmt.Sprintf("deploying %s (%s) to %s", req.ProjectDir, req.Environment, req.Port)
}

func (p *DeployProcessor) SuccessMessage(req types.Request) string {
	return fmt.Sprintf("deployed %s (%s) to %s", req.ProjectDir, req.Environment, req.Port)
}

func (p *DeployProcessor) FailureMessage(req types.Request, err error) string {
	return fmt.Sprintf("deploy of %s (%s) to %s failed: %v", req.ProjectDir, req.Environment, req.Port, err)
}

func (p *DeployProcessor) Execute(ctx context.Context, req types.Request, pctx *Context, opID string) (interface{}, error) {
	cfg, err := p.Build.Config.ReadEnvironment(req.ProjectDir, req.Environment)
	if err != nil {
		return nil, errs.Wrap("deploy.Execute", errs.KindConfigError, err)
	}

	orch, err := p.Build.SelectOrchestrator(cfg)
	if err != nil {
		return nil, errs.Wrap("deploy.Execute", errs.KindConfigError, err)
	}

	buildResult, err := orch.Build(ctx, req.ProjectDir, req.Environment, req.Clean, req.Verbose, req.Jobs, pctx.Compile)
	if err != nil {
		return nil, errs.Wrap("deploy.Execute", errs.KindSubprocessFailed, err)
	}
	if !buildResult.Success {
		return nil, errs.New("deploy.Execute", errs.KindSubprocessFailed)
	}

	firmwareHash, err := ledger.HashFile(buildResult.FirmwarePath)
	if err != nil {
		return nil, errs.Wrap("deploy.Execute", errs.KindInternal, err)
	}

	if p.Ledger.IsCurrent(req.Port, firmwareHash) &&
		!p.Ledger.NeedsRedeploy(req.Port, buildResult.SourceHash, buildResult.FlagsHash, req.ProjectDir, req.Environment) {
		return buildResult, nil
	}

	if err := p.Flasher.Flash(ctx, req.Port, buildResult.FirmwarePath); err != nil {
		return nil, errs.Wrap("deploy.Execute", errs.KindSubprocessFailed, err)
	}

	if err := p.Ledger.RecordDeployment(req.Port, firmwareHash, buildResult.SourceHash, req.ProjectDir, req.Environment, buildResult.FlagsHash); err != nil {
		return nil, errs.Wrap("deploy.Execute", errs.KindInternal, err)
	}

	if p.Monitor != nil && req.MonitorAfter {
		monitorReq := req
		monitorReq.HaltOnError = req.MonitorHaltOnError
		monitorReq.HaltOnSuccess = req.MonitorHaltOnSuccess
		return p.Monitor.Execute(ctx, monitorReq, pctx, opID)
	}
	return buildResult, nil
}
