package internal

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	quietMode   atomic.Bool // Suppresses informational output.
	debugMode   atomic.Bool // Enables debug logging.
	verboseMode atomic.Bool // Adds source attributes to log records.

	logFormatMu sync.RWMutex
	logFormat   string
)

// Seeds the runtime switches from linker flags. Unparsable values leave the
// switch off.
func init() {
	if v, err := strconv.ParseBool(rawQuiet); err == nil {
		quietMode.Store(v)
	}
	if v, err := strconv.ParseBool(rawDebug); err == nil {
		debugMode.Store(v)
	}
	if v, err := strconv.ParseBool(rawVerbose); err == nil {
		verboseMode.Store(v)
	}
	SetLogFormat(rawLogFormat)
}

func SetQuiet(enabled bool) { quietMode.Store(enabled) }

func IsQuiet() bool { return quietMode.Load() }

func SetDebug(enabled bool) { debugMode.Store(enabled) }

func IsDebug() bool { return debugMode.Load() }

func SetVerbose(enabled bool) { verboseMode.Store(enabled) }

func IsVerbose() bool { return verboseMode.Load() }

// Sets the log output format. Anything other than "json" selects "text".
func SetLogFormat(format string) {
	f := strings.ToLower(strings.TrimSpace(format))
	if f != "json" {
		f = "text"
	}
	logFormatMu.Lock()
	logFormat = f
	logFormatMu.Unlock()
}

// Returns "text" or "json".
func LogFormat() string {
	logFormatMu.RLock()
	defer logFormatMu.RUnlock()
	return logFormat
}
