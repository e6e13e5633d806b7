package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const logTimeLayout = "20060102_150405"

// LogFilePath names a session log: <dir>/<program>.<start>.log.
func LogFilePath(logsDir, programName string, sessionStart time.Time) string {
	return filepath.Join(logsDir, fmt.Sprintf("%s.%s.log", programName, sessionStart.Format(logTimeLayout)))
}

// OpenLogFile creates the logs directory and the session log inside it. A
// file left by an earlier session with the same start second is kept as
// <name>.old.
func OpenLogFile(logsDir, programName string, sessionStart time.Time) (*os.File, string, error) {
	path := LogFilePath(logsDir, programName, sessionStart)
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, path, fmt.Errorf("create logs directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".old"); err != nil {
			return nil, path, fmt.Errorf("rotate previous log: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, path, fmt.Errorf("open log file: %w", err)
	}
	return f, path, nil
}
