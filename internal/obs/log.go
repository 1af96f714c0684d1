package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared line logger. Output is one JSON object per
// line; callers format through LogRequest rather than Printf.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits one structured JSON line. Request logging and
// service-level warnings both funnel through here so log consumers see
// a single format.
func LogRequest(fields map[string]any) {
	line, err := json.Marshal(fields)
	if err != nil {
		// Marshal only fails on exotic values; drop to a static line
		// rather than losing the signal entirely.
		Logger().Println(`{"level":"error","msg":"log entry not serializable"}`)
		return
	}
	Logger().Println(string(line))
}
