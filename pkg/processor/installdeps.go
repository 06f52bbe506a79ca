package processor

import (
	"context"
	"fmt"

	"github.com/cuemby/fbuildd/pkg/errcollector"
	"github.com/cuemby/fbuildd/pkg/errs"
	"github.com/cuemby/fbuildd/pkg/types"
)

// InstallDepsProcessor drives the external package download/extraction
// pipeline, forwarding progress to the client. Errors during individual
// package resolution are collected as warnings rather than failing the
// whole operation, since a partial toolchain is still often usable.
type InstallDepsProcessor struct {
	Installer PackageInstaller
	Errors    *errcollector.Collector
	Progress  func(operationID string, ev types.ProgressEvent)
}

func (p *InstallDepsProcessor) OperationType() types.RequestKind {
	return types.RequestInstallDependencies
}

func (p *InstallDepsProcessor) RequiredLocks(req types.Request) []LockRequirement {
	return []LockRequirement{{Kind: types.LockKindProject, Key: req.ProjectDir}}
}

func (p *InstallDepsProcessor) ValidateRequest(req types.Request) error {
	if req.ProjectDir == "" {
		return errs.New("installdeps.ValidateRequest", errs.KindInvalidRequest)
	}
	return nil
}

func (p *InstallDepsProcessor) StartingState() types.DaemonState { return types.DaemonInstalling }

func (p *InstallDepsProcessor) StartingMessage(req types.Request) string {
	return fmt.Sprintf("installing dependencies for %s (%s)", req.ProjectDir, req.Environment)
}

func (p *InstallDepsProcessor) SuccessMessage(req types.Request) string {
	return fmt.Sprintf("dependencies installed for %s (%s)", req.ProjectDir, req.Environment)
}

func (p *InstallDepsProcessor) FailureMessage(req types.Request, err error) string {
	return fmt.Sprintf("dependency install for %s (%s) failed: %v", req.ProjectDir, req.Environment, err)
}

func (p *InstallDepsProcessor) Execute(ctx context.Context, req types.Request, pctx *Context, opID string) (interface{}, error) {
	err := p.Installer.Install(ctx, req.ProjectDir, req.Environment, func(ev types.ProgressEvent) {
		if p.Progress != nil {
			p.Progress(opID, ev)
		}
	})
	if err != nil {
		p.Errors.Add(errcollector.Entry{
			Severity: errcollector.SeverityWarning,
			Phase:    errcollector.PhaseDownload,
			Message:  err.Error(),
		})
		// Individual package failures are warning-class: the operation
		// still completes so a partial toolchain can be inspected.
	}
	return nil, nil
}
