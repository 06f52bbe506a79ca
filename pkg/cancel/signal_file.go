package cancel

import (
	"os"
	"path/filepath"
)

func signalFilePath(dir, requestID string) string {
	return filepath.Join(dir, "cancel_"+requestID+".signal")
}

func signalFileExists(dir, requestID string) bool {
	_, err := os.Stat(signalFilePath(dir, requestID))
	return err == nil
}

// CreateSignalFile drops the cancellation signal file for requestID,
// used by clients (and tests) to request cancellation of a running
// operation.
func CreateSignalFile(dir, requestID string) error {
	return os.WriteFile(signalFilePath(dir, requestID), []byte{}, 0o644)
}
