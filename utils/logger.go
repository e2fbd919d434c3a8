package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

// LogOptions selects the level and writers of the application logger.
type LogOptions struct {
	Level  string
	Output []string
	File   string
}

// NewLogger builds the leveled logger shared by every stage. Console output
// is the fallback when no writer is selected.
func NewLogger(opts LogOptions) arbor.ILogger {
	logger := arbor.NewLogger()

	hasFile, hasConsole := false, false
	for _, o := range opts.Output {
		switch o {
		case "file":
			hasFile = true
		case "stdout", "console":
			hasConsole = true
		}
	}

	if hasFile && opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "[logger] cannot create log dir: %v\n", err)
			hasConsole = true
		} else {
			logger = logger.WithFileWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeFile,
				FileName:   opts.File,
				TimeFormat: "15:04:05",
				MaxSize:    10 * 1024 * 1024,
				MaxBackups: 3,
				OutputType: models.OutputFormatLogfmt,
			})
		}
	}

	if hasConsole || !hasFile {
		logger = logger.WithConsoleWriter(models.WriterConfiguration{
			Type:       models.LogWriterTypeConsole,
			TimeFormat: "15:04:05",
		})
	}

	if opts.Level == "" {
		opts.Level = "info"
	}
	return logger.WithLevelFromString(opts.Level)
}

// NewTestLogger returns a console logger at warn level for tests.
func NewTestLogger() arbor.ILogger {
	return NewLogger(LogOptions{Level: "warn", Output: []string{"stdout"}})
}
