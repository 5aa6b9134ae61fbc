package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Log levels, ordered from quietest to most verbose.
const (
	None    = 0
	Error   = 1
	Warning = 2
	Info    = 3
	Debug   = 4
)

var levelNames = map[int]string{
	None:    "none",
	Error:   "error",
	Warning: "warn",
	Info:    "info",
	Debug:   "debug",
}

var levelPrefixes = map[int]string{
	Error:   "[ERROR] ",
	Warning: "[WARN]  ",
	Info:    "[INFO]  ",
	Debug:   "[DEBUG] ",
}

var currentLevel atomic.Int32

func init() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.SetOutput(os.Stderr)
	currentLevel.Store(Info)
}

// SetLevel sets the global logging level.
func SetLevel(level int) {
	currentLevel.Store(int32(level))
	Logf(Debug, "Log level set to %s", LevelName(level))
}

// GetLevel returns the current logging level.
func GetLevel() int {
	return int(currentLevel.Load())
}

// Enabled reports whether messages at level would currently be written.
func Enabled(level int) bool {
	return level > None && int32(level) <= currentLevel.Load()
}

// LevelName returns the canonical lower-case name of a level.
func LevelName(level int) string {
	if name, ok := levelNames[level]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", level)
}

// ParseLevel converts a string level to an integer level.
func ParseLevel(levelStr string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "none":
		return None, nil
	case "error":
		return Error, nil
	case "warn", "warning":
		return Warning, nil
	case "info":
		return Info, nil
	case "debug":
		return Debug, nil
	default:
		return Info, fmt.Errorf("invalid log level string: '%s'", levelStr)
	}
}

// SetupLogging initializes logging based on a level string and returns the
// resulting level. Invalid strings fall back to Info with a warning.
func SetupLogging(levelStr string) int {
	level, err := ParseLevel(levelStr)
	if err != nil {
		Logf(Warning, "Invalid log level '%s' provided, defaulting to 'info'. %v", levelStr, err)
		level = Info
	}
	SetLevel(level)
	return level
}

// SetOutput redirects log output and returns a function restoring the
// previous writer and flags.
func SetOutput(w io.Writer, flags int) (restore func()) {
	prevOut := log.Writer()
	prevFlags := log.Flags()
	log.SetOutput(w)
	log.SetFlags(flags)
	return func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
	}
}

// Logf logs a formatted message if the given level is enabled.
func Logf(level int, format string, v ...interface{}) {
	if !Enabled(level) {
		return
	}
	// Call depth 2 attributes the line to Logf's caller.
	_ = log.Output(2, levelPrefixes[level]+fmt.Sprintf(format, v...))
}
