package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared line-oriented logger. Every entry the service
// emits goes through it as a single JSON object.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// Log marshals entry and writes it as one line. A "ts" field is added when
// the caller did not set one.
func Log(entry map[string]any) {
	if _, ok := entry["ts"]; !ok {
		entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

// Warn emits a level=warn entry with the given message and fields.
func Warn(msg string, fields map[string]any) {
	entry := map[string]any{"level": "warn", "msg": msg}
	for k, v := range fields {
		entry[k] = v
	}
	Log(entry)
}

// Error emits a level=error entry with the given message and fields.
func Error(msg string, fields map[string]any) {
	entry := map[string]any{"level": "error", "msg": msg}
	for k, v := range fields {
		entry[k] = v
	}
	Log(entry)
}
