// Package logger is a small level-gated wrapper over the standard log package.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

type Level int32

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	NONE
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case NONE:
		return "NONE"
	}
	return fmt.Sprintf("Level(%d)", int32(l))
}

var level atomic.Int32

func init() { level.Store(int32(INFO)) }

func SetLevel(l Level) { level.Store(int32(l)) }

// ParseLevel maps a level name to a Level. WARNING is accepted for WARN.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "NONE", "OFF":
		return NONE, nil
	}
	return INFO, fmt.Errorf("invalid log level: %s", s)
}

func SetLevelFromString(s string) error {
	l, err := ParseLevel(s)
	if err != nil {
		return err
	}
	SetLevel(l)
	return nil
}

func GetLevel() Level { return Level(level.Load()) }

func IsDebugEnabled() bool { return GetLevel() <= DEBUG }

func enabled(l Level) bool { return GetLevel() <= l }

func Debug(v ...any) {
	if enabled(DEBUG) {
		log.Println("[DEBUG]", fmtArgs(v...))
	}
}

func Debugf(format string, v ...any) {
	if enabled(DEBUG) {
		log.Printf("[DEBUG] "+format, v...)
	}
}

func Info(v ...any) {
	if enabled(INFO) {
		log.Println("[INFO]", fmtArgs(v...))
	}
}

func Infof(format string, v ...any) {
	if enabled(INFO) {
		log.Printf("[INFO] "+format, v...)
	}
}

func Warn(v ...any) {
	if enabled(WARN) {
		log.Println("[WARN]", fmtArgs(v...))
	}
}

func Warnf(format string, v ...any) {
	if enabled(WARN) {
		log.Printf("[WARN] "+format, v...)
	}
}

func Error(v ...any) {
	if enabled(ERROR) {
		log.Println("[ERROR]", fmtArgs(v...))
	}
}

func Errorf(format string, v ...any) {
	if enabled(ERROR) {
		log.Printf("[ERROR] "+format, v...)
	}
}

func Fatalf(format string, v ...any) {
	log.Printf("[FATAL] "+format, v...)
	os.Exit(1)
}

func fmtArgs(v ...any) string {
	var sb strings.Builder
	for i, arg := range v {
		if i > 0 {
			sb.WriteByte(' ')
		}
		switch val := arg.(type) {
		case string:
			sb.WriteString(val)
		case error:
			sb.WriteString(val.Error())
		default:
			fmt.Fprintf(&sb, "%v", val)
		}
	}
	return sb.String()
}
