// Package transport implements fbuildd's two interchangeable request
// bindings: a file-drop JSON poller and a local HTTP JSON API. Both
// pass the same Request JSON to the same Handler; the file-drop binding
// also accepts serial attach/detach/poll requests, which the HTTP
// binding does not route, and the HTTP binding also serves health,
// metrics, daemon info and device leasing. The daemon core
// (pkg/daemon, pkg/processor) does not depend on which is in use.
package transport

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/fbuildd/pkg/atomicfile"
	"github.com/cuemby/fbuildd/pkg/log"
	"github.com/cuemby/fbuildd/pkg/types"
)

// pollInterval is how often the file-drop receiver checks for new
// request files; small enough that a user interrupt aborts promptly.
const pollInterval = 500 * time.Millisecond

// requestFiles maps each request kind to its well-known drop-point
// filename, relative to the daemon directory.
var requestFiles = map[types.RequestKind]string{
	types.RequestBuild:               "build_request.json",
	types.RequestDeploy:               "deploy_request.json",
	types.RequestMonitor:              "monitor_request.json",
	types.RequestInstallDependencies:  "install_deps_request.json",
	types.RequestAttach:               "serial_monitor_attach_request.json",
	types.RequestDetach:               "serial_monitor_detach_request.json",
	types.RequestPoll:                 "serial_monitor_poll_request.json",
}

// Handler processes one decoded Request and returns its result (or
// error) to be persisted back for the client to observe.
type Handler func(ctx context.Context, req types.Request) (interface{}, error)

// FileReceiver polls the daemon directory for dropped request files.
type FileReceiver struct {
	dir     string
	handler Handler
}

// NewFileReceiver constructs a FileReceiver rooted at dir.
func NewFileReceiver(dir string, handler Handler) *FileReceiver {
	return &FileReceiver{dir: dir, handler: handler}
}

// Run polls until ctx is cancelled, sleeping pollInterval between
// sweeps so shutdown is prompt.
func (r *FileReceiver) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for kind, filename := range requestFiles {
				r.tryConsume(ctx, kind, filename)
			}
		}
	}
}

func (r *FileReceiver) tryConsume(ctx context.Context, kind types.RequestKind, filename string) {
	path := filepath.Join(r.dir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	// Remove promptly so a slow handler doesn't process the same
	// request twice on the next sweep.
	_ = os.Remove(path)

	var req types.Request
	if err := json.Unmarshal(data, &req); err != nil {
		log.WithComponent("transport.file").Error().Err(err).Str("file", filename).Msg("malformed request file")
		return
	}
	req.Kind = kind

	result, err := r.handler(ctx, req)
	responsePath := filepath.Join(r.dir, "serial_monitor_response.json")
	resp := map[string]interface{}{"request_id": req.RequestID}
	if err != nil {
		resp["error"] = err.Error()
	} else {
		resp["result"] = result
	}
	if werr := atomicfile.WriteJSON(responsePath, resp, 0o644); werr != nil {
		log.WithComponent("transport.file").Error().Err(werr).Msg("failed to write response file")
	}
}
