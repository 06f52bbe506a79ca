package processor

import (
	"context"
	"fmt"

	"github.com/cuemby/fbuildd/pkg/errs"
	"github.com/cuemby/fbuildd/pkg/types"
)

// BuildProcessor compiles one project/environment. It holds only the
// project lock: a build never touches a physical port.
type BuildProcessor struct {
	Config ConfigReader
	// SelectOrchestrator picks the platform-family orchestrator (AVR vs
	// ESP32) for cfg.PlatformID.
	SelectOrchestrator func(cfg types.JoinableConfig) (Orchestrator, error)
}

func (p *BuildProcessor) OperationType() types.RequestKind { return types.RequestBuild }

func (p *BuildProcessor) RequiredLocks(req types.Request) []LockRequirement {
	return []LockRequirement{{Kind: types.LockKindProject, Key: req.ProjectDir}}
}

func (p *BuildProcessor) ValidateRequest(req types.Request) error {
	if req.ProjectDir == "" {
		return errs.New("build.ValidateRequest", errs.KindInvalidRequest)
	}
	return nil
}

func (p *BuildProcessor) StartingState() types.DaemonState { return types.DaemonBuilding }

func (p *BuildProcessor) StartingMessage(req types.Request) string {
	return fmt.Sprintf("building %s (%s)", req.ProjectDir, req.Environment)
}

func (p *BuildProcessor) SuccessMessage(req types.Request) string {
	return fmt.Sprintf("build of %s (%s) succeeded", req.ProjectDir, req.Environment)
}

func (p *BuildProcessor) FailureMessage(req types.Request, err error) string {
	return fmt.Sprintf("build of %s (%s) failed: %v", req.ProjectDir, req.Environment, err)
}

func (p *BuildProcessor) Execute(ctx context.Context, req types.Request, pctx *Context, opID string) (interface{}, error) {
	cfg, err := p.Config.ReadEnvironment(req.ProjectDir, req.Environment)
	if err != nil {
		return nil, errs.Wrap("build.Execute", errs.KindConfigError, err)
	}

	orch, err := p.SelectOrchestrator(cfg)
	if err != nil {
		return nil, errs.Wrap("build.Execute", errs.KindConfigError, err)
	}

	result, err := orch.Build(ctx, req.ProjectDir, req.Environment, req.Clean, req.Verbose, req.Jobs, pctx.Compile)
	if err != nil {
		return nil, errs.Wrap("build.Execute", errs.KindSubprocessFailed, err)
	}
	if !result.Success {
		return nil, errs.New("build.Execute", errs.KindSubprocessFailed)
	}
	return result, nil
}
