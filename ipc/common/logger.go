package common

import (
	"fmt"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// LoggerNames lists every logger used by uio packages
var LoggerNames = []string{"uio", "transport", "poll", "server", "client"}

// output is shared by all uio loggers, log.Logger serializes concurrent writes
var output = log.New(os.Stdout, "", log.Ldate|log.Ltime)

// SetLogOutput redirects every uio logger to w
func SetLogOutput(w io.Writer) {
	output.SetOutput(w)
}

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// uioLogger implements the ILogger interface with custom formatting.
// The level may be changed while other goroutines log.
type uioLogger struct {
	name  string
	level atomic.Int32
}

func (l *uioLogger) SetLevel(level logger.LogLevel) {
	l.level.Store(int32(level))
}

func (l *uioLogger) enabled(level logger.LogLevel) bool {
	return logger.LogLevel(l.level.Load()) >= level
}

func (l *uioLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		l.log("DEBUG", format, args...)
	}
}

func (l *uioLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		l.log("INFO", format, args...)
	}
}

func (l *uioLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		l.log("WARN", format, args...)
	}
}

func (l *uioLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		l.log("ERROR", format, args...)
	}
}

func (l *uioLogger) Panicf(format string, args ...interface{}) {
	if l.enabled(logger.CRITICAL) {
		panic(fmt.Sprintf(format, args...))
	}
}

// log formats and writes a log message. this internal helper is used by the public methods
func (l *uioLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	output.Printf("%-5s | %-10s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// CreateLogger implements the dragonboat logger.Factory signature
func CreateLogger(pkgName string) logger.ILogger {
	l := &uioLogger{name: pkgName}
	l.SetLevel(logger.INFO)
	return l
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// ParseLogLevels parses a comma separated level list like "info,server=debug,poll=warn".
// The entry without a name is the default for all loggers (info if omitted), named
// entries override single loggers from LoggerNames.
func ParseLogLevels(spec string) (logger.LogLevel, map[string]logger.LogLevel, error) {
	def := logger.INFO
	overrides := make(map[string]logger.LogLevel)

	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		name, level, named := strings.Cut(entry, "=")
		if !named {
			lvl, err := ParseLogLevel(entry)
			if err != nil {
				return def, nil, err
			}
			def = lvl
			continue
		}

		name = strings.TrimSpace(name)
		if !slices.Contains(LoggerNames, name) {
			return def, nil, fmt.Errorf("unknown logger %q. must be one of %s", name, strings.Join(LoggerNames, ", "))
		}
		lvl, err := ParseLogLevel(level)
		if err != nil {
			return def, nil, err
		}
		overrides[name] = lvl
	}
	return def, overrides, nil
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

var installFactory sync.Once

// InitLoggers installs the custom logger factory (once per process)
// and sets the level of every uio logger from a ParseLogLevels list
func InitLoggers(levels string) error {
	def, overrides, err := ParseLogLevels(levels)
	if err != nil {
		return err
	}

	installFactory.Do(func() {
		logger.SetLoggerFactory(CreateLogger)
	})

	for _, name := range LoggerNames {
		lvl, ok := overrides[name]
		if !ok {
			lvl = def
		}
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
