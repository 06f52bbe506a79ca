// Package ledger tracks, per serial port, the firmware last known to be
// deployed there -- so the deploy processor can skip re-flashing when
// nothing meaningful (source, build flags, project, environment)
// changed since the last successful upload.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/fbuildd/pkg/atomicfile"
	"github.com/cuemby/fbuildd/pkg/types"
)

// currencyWindow is how long a recorded deployment is trusted without
// re-verification.
const currencyWindow = 24 * time.Hour

// Ledger is a thread-safe, persisted port -> FirmwareEntry map.
type Ledger struct {
	path string

	mu      sync.RWMutex
	entries map[string]types.FirmwareEntry
}

// Load reads a persisted ledger from path if present, starting empty
// otherwise.
func Load(path string) (*Ledger, error) {
	l := &Ledger{path: path, entries: make(map[string]types.FirmwareEntry)}
	if err := atomicfile.ReadJSON(path, &l.entries); err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, err
	}
	return l, nil
}

// RecordDeployment records a successful upload to port.
func (l *Ledger) RecordDeployment(port, firmwareHash, sourceHash, projectDir, environment, buildFlagsHash string) error {
	l.mu.Lock()
	l.entries[port] = types.FirmwareEntry{
		Port:            port,
		FirmwareHash:    firmwareHash,
		SourceHash:      sourceHash,
		ProjectDir:      projectDir,
		Environment:     environment,
		UploadTimestamp: time.Now(),
		BuildFlagsHash:  buildFlagsHash,
	}
	l.mu.Unlock()
	return l.persist()
}

// IsCurrent reports whether port's recorded firmware hash matches
// firmwareHash and the entry is still within the currency window.
func (l *Ledger) IsCurrent(port, firmwareHash string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[port]
	if !ok {
		return false
	}
	return e.FirmwareHash == firmwareHash && time.Since(e.UploadTimestamp) < currencyWindow
}

// NeedsRedeploy reports whether port requires a fresh upload given the
// current source hash, build-flags hash, project, and environment.
// projectDir/environment may be empty to skip that comparison.
func (l *Ledger) NeedsRedeploy(port, sourceHash, buildFlagsHash, projectDir, environment string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[port]
	if !ok {
		return true
	}
	if e.SourceHash != sourceHash || e.BuildFlagsHash != buildFlagsHash {
		return true
	}
	if projectDir != "" && e.ProjectDir != projectDir {
		return true
	}
	if environment != "" && e.Environment != environment {
		return true
	}
	return time.Since(e.UploadTimestamp) >= currencyWindow
}

// Clear drops the entry for one port.
func (l *Ledger) Clear(port string) error {
	l.mu.Lock()
	delete(l.entries, port)
	l.mu.Unlock()
	return l.persist()
}

// ClearAll drops every entry.
func (l *Ledger) ClearAll() error {
	l.mu.Lock()
	l.entries = make(map[string]types.FirmwareEntry)
	l.mu.Unlock()
	return l.persist()
}

// ClearStale drops every entry older than threshold.
func (l *Ledger) ClearStale(threshold time.Duration) error {
	l.mu.Lock()
	for port, e := range l.entries {
		if time.Since(e.UploadTimestamp) >= threshold {
			delete(l.entries, port)
		}
	}
	l.mu.Unlock()
	return l.persist()
}

func (l *Ledger) persist() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return atomicfile.WriteJSON(l.path, l.entries, 0o644)
}

// HashFile computes the hex SHA-256 of a single file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFiles computes one combined hex SHA-256 over the sorted list of
// paths and their contents, so the result is independent of argument
// order.
func HashFiles(paths []string) (string, error) {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	h := sha256.New()
	for _, p := range sorted {
		h.Write([]byte(p))
		f, err := os.Open(p)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFlags computes the hex SHA-256 of a sorted list of compiler
// flags, so flag reordering doesn't spuriously trigger a redeploy.
func HashFlags(flags []string) string {
	sorted := append([]string(nil), flags...)
	sort.Strings(sorted)

	h := sha256.New()
	for _, f := range sorted {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
