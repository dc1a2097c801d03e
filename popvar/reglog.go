package popvar

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"testing"
)

var skipRegisterLogging = testing.Testing()

// RegisterLogger returns the logger for bstore.Options.RegisterLogger, which
// logs schema changes when a database is opened.
//
// Under test, nil is returned for databases that do not exist yet, they are
// created for each test and would only add noise.
func RegisterLogger(path string, log *slog.Logger) *slog.Logger {
	if !skipRegisterLogging {
		return log
	}
	if _, err := os.Stat(path); err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return log
}
