package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.obplan/logs, or a directory under the temp dir
// when there is no home.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".obplan", "logs")
	}
	return filepath.Join(home, ".obplan", "logs")
}

// DefaultLogPath returns the debug log file.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "obplan.log")
}
