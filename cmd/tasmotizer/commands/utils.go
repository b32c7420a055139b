package commands

import (
	"os"
	"path/filepath"

	"github.com/HubertFeldmann/tasmotizer/pkg/errors"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(historyPath, workDir string) error {
	// Create history database directory
	if err := os.MkdirAll(filepath.Dir(historyPath), 0755); err != nil {
		return errors.Wrap(err, "failed to create history directory")
	}

	// Create work directory (only needed when an image is downloaded)
	if workDir != "" {
		if err := os.MkdirAll(workDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create work directory")
		}
	}

	return nil
}
