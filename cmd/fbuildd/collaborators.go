package main

import (
	"context"
	"fmt"

	"github.com/cuemby/fbuildd/pkg/compqueue"
	"github.com/cuemby/fbuildd/pkg/errs"
	"github.com/cuemby/fbuildd/pkg/processor"
	"github.com/cuemby/fbuildd/pkg/types"
)

// The four collaborators below sit at the daemon's external boundary:
// project-config parsing, platform build orchestration (AVR/ESP32
// toolchain invocation), firmware flashing, and toolchain/package
// downloads. None of those are this daemon's job; it only needs their
// results through pkg/processor's interfaces. These defaults keep
// "fbuildd start" runnable out of the box without a project-aware
// plugin wired in: the config reader returns a config error, so Build
// and Deploy requests fail at their first step, while the orchestrator,
// flasher and installer defaults return subprocess_failed errors.

type unconfiguredConfigReader struct{}

func (unconfiguredConfigReader) ReadEnvironment(projectDir, environment string) (types.JoinableConfig, error) {
	return types.JoinableConfig{}, errs.New("collaborators.ReadEnvironment", errs.KindConfigError)
}

type unconfiguredOrchestrator struct {
	platform string
}

func (o unconfiguredOrchestrator) Build(ctx context.Context, projectDir, environment string, clean, verbose bool, jobs int, queue *compqueue.Queue) (processor.BuildResult, error) {
	return processor.BuildResult{}, errs.New(fmt.Sprintf("collaborators.Build[%s]", o.platform), errs.KindSubprocessFailed)
}

// selectOrchestrator resolves the platform-family orchestrator (AVR vs
// ESP32, per cfg.PlatformID) for a Build/Deploy request. A real
// deployment registers concrete orchestrators here; the default always
// returns one that reports "not configured" rather than guessing a
// toolchain invocation.
func selectOrchestrator(cfg types.JoinableConfig) (processor.Orchestrator, error) {
	switch cfg.PlatformID {
	case "":
		return nil, errs.New("collaborators.selectOrchestrator", errs.KindConfigError)
	default:
		return unconfiguredOrchestrator{platform: cfg.PlatformID}, nil
	}
}

type unconfiguredFlasher struct{}

func (unconfiguredFlasher) Flash(ctx context.Context, port, firmwarePath string) error {
	return errs.New("collaborators.Flash", errs.KindSubprocessFailed)
}

type unconfiguredPackageInstaller struct{}

func (unconfiguredPackageInstaller) Install(ctx context.Context, projectDir, environment string, progress func(types.ProgressEvent)) error {
	return errs.New("collaborators.Install", errs.KindSubprocessFailed)
}
