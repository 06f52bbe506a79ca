package processor

import (
	"context"

	"github.com/cuemby/fbuildd/pkg/compqueue"
	"github.com/cuemby/fbuildd/pkg/types"
)

// ConfigReader is the external collaborator that parses a project's ini
// configuration file and resolves an environment's platform/board IDs
// and build flags, normalizing aliased platform names (e.g. URL-style
// references) to canonical IDs. Parsing itself is out of scope for the
// daemon core; the daemon only consumes the result.
type ConfigReader interface {
	ReadEnvironment(projectDir, environment string) (types.JoinableConfig, error)
}

// Orchestrator builds one project/environment, selected per platform
// family (AVR vs ESP32) by the Build Processor. queue is the
// Compilation Queue owned by the daemon context; an orchestrator
// submits its compile/link jobs through it rather than running its own
// worker pool, so every build -- regardless of platform family --
// shares the same fixed compile concurrency.
type Orchestrator interface {
	Build(ctx context.Context, projectDir, environment string, clean, verbose bool, jobs int, queue *compqueue.Queue) (BuildResult, error)
}

// BuildResult is what an Orchestrator reports back to the Build/Deploy
// processors.
type BuildResult struct {
	Success      bool
	FirmwarePath string
	SourceHash   string
	FlagsHash    string
	Log          string
}

// Flasher is the external collaborator that uploads a built firmware
// image to a board over a port, invoked via the watchdog subprocess
// runner by the Deploy Processor.
type Flasher interface {
	Flash(ctx context.Context, port, firmwarePath string) error
}

// PackageInstaller drives the external package download + extraction
// pipeline for the Install Dependencies Processor, forwarding progress
// updates via the callback.
type PackageInstaller interface {
	Install(ctx context.Context, projectDir, environment string, progress func(types.ProgressEvent)) error
}
