// Package dpdlog builds the engine's structured logger: a
// charmbracelet/log logger writing to stderr and, optionally, to a
// file under a configured logs directory named for the day the logger
// is built -- the same daily-names strategy the modulator's own logging
// uses, backed by a real logging library. The file is chosen once; it
// is not switched when the date changes.
package dpdlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
)

// DailyPattern is the strftime pattern used to derive one log file per
// day inside the configured logs directory.
const DailyPattern = "dpdce-%Y%m%d.log"

// New builds a logger that writes to stderr, and, if logsDir is
// non-empty, also to today's daily log file under logsDir.
func New(logsDir string, level log.Level) (*log.Logger, error) {
	var out io.Writer = os.Stderr

	if logsDir != "" {
		f, err := openDailyFile(logsDir, time.Now())
		if err != nil {
			return nil, fmt.Errorf("dpdlog: open daily log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
	}

	logger := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		ReportCaller:    false,
		Level:           level,
	})
	return logger, nil
}

func openDailyFile(logsDir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, err
	}

	name, err := strftime.Format(DailyPattern, now)
	if err != nil {
		return nil, fmt.Errorf("bad daily log pattern: %w", err)
	}
	path := filepath.Join(logsDir, name)

	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
