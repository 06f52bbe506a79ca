// Package atomicfile provides crash-safe writes for the small files
// fbuildd persists outside of any database: the status snapshot, the
// firmware ledger, the file-content hash cache, and the PID file used
// by the singleton manager. Every write lands via a temp-file-plus-
// rename so readers never observe a partial write.
package atomicfile

import (
	"encoding/json"
	"os"

	"github.com/google/renameio/v2"
)

// WriteFile atomically replaces path with data, creating parent
// directories as needed is the caller's responsibility.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}

// WriteJSON atomically replaces path with the JSON encoding of v.
func WriteJSON(path string, v interface{}, perm os.FileMode) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, perm)
}

// ReadJSON reads and decodes path into v. It is a thin wrapper over
// os.ReadFile + json.Unmarshal; kept here so every subsystem reads its
// persisted state the same tolerant way (missing file is returned
// as-is so callers can special-case os.IsNotExist).
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
