package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogDir is the directory, relative to the working directory, holding the rotating log.
const LogDir = ".webforge"

// Logger writes workspace logs to a rotating file.
type Logger struct {
	logger        *log.Logger
	jsonMode      bool
	correlationID string
}

var (
	globalLogger *Logger
	once         sync.Once
)

// GetLogger returns the singleton instance of Logger.
// It initializes the logger with a file handler that rotates logs.
func GetLogger() *Logger {
	once.Do(func() {
		logFile := &lumberjack.Logger{
			Filename:   filepath.Join(LogDir, "webforge.log"),
			MaxSize:    15, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		globalLogger = &Logger{
			logger: log.New(logFile, "", log.LstdFlags),
		}
	})
	globalLogger.jsonMode = os.Getenv("WEBFORGE_JSON_LOGS") == "1"
	if cid := os.Getenv("WEBFORGE_CORRELATION_ID"); cid != "" {
		globalLogger.correlationID = cid
	}
	return globalLogger
}

// NewLogger builds a logger around an arbitrary writer. Tests use it to capture output.
func NewLogger(w io.Writer, jsonMode bool) *Logger {
	return &Logger{
		logger:   log.New(w, "", log.LstdFlags),
		jsonMode: jsonMode,
	}
}

// Close closes the logger resources.
func (w *Logger) Close() error {
	if logFile, ok := w.logger.Writer().(*lumberjack.Logger); ok {
		return logFile.Close()
	}
	return nil
}

// Log logs a general message only to the log file.
func (w *Logger) Log(message string) {
	if w.jsonMode {
		_ = json.NewEncoder(w.logger.Writer()).Encode(map[string]any{"level": "info", "msg": message, "cid": w.correlationID})
		return
	}
	w.logger.Print(message)
}

// Logf logs a formatted general message only to the log file.
func (w *Logger) Logf(format string, v ...interface{}) {
	if w.jsonMode {
		w.Log(fmt.Sprintf(format, v...))
		return
	}
	w.logger.Printf(format, v...)
}

func (w *Logger) LogError(err error) {
	if w.jsonMode {
		entry := map[string]any{"level": "error", "error": err.Error(), "cid": w.correlationID}
		if kind, ok := KindOf(err); ok {
			entry["kind"] = kind.String()
		}
		_ = json.NewEncoder(w.logger.Writer()).Encode(entry)
		return
	}
	w.logger.Printf("Error: %s", FormatError(err))
}

// LogSessionEvent records one generation lifecycle step.
func (w *Logger) LogSessionEvent(sessionID, event, detail string) {
	if w.jsonMode {
		_ = json.NewEncoder(w.logger.Writer()).Encode(map[string]any{
			"level":   "info",
			"session": sessionID,
			"event":   event,
			"msg":     detail,
			"cid":     w.correlationID,
		})
		return
	}
	w.logger.Printf("Session %s: %s %s", sessionID, event, detail)
}
