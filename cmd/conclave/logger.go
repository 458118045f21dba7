package main

import (
	"fmt"
	"io"
	"os"

	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/logger"
)

// initLogger installs the default logger. Flags and environment win over
// the config file, which wins over defaults.
func initLogger(level, file, format string, fromConfig config.LoggingConfig) (func(), error) {
	fromConfig.SetDefaults()
	if level == "" {
		level = fromConfig.Level
	}
	if file == "" {
		file = fromConfig.File
	}
	if format == "" {
		format = fromConfig.Format
	}

	var output io.Writer = os.Stderr
	cleanup := func() {}
	if file != "" {
		f, closeFile, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
		cleanup = closeFile
	}

	logger.Init(logger.ParseLevel(level), output, logger.Format(format))
	return cleanup, nil
}
