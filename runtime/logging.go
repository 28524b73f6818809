package runtime

import (
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
)

// Level is a logging level. Levels are ordered by severity.
type Level = zapcore.Level

const (
	// TraceLevel is more verbose than zap's levels. Generated loaders never
	// configure it directly, but ANNOBOOT_LOG can.
	TraceLevel = zapcore.DebugLevel - 1
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

// Logger is the sink that log entries are written to once they pass the
// filter.
type Logger = zapcore.Core

// LogEnvVar is the environment variable that NewEnvFilter reads.
const LogEnvVar = "ANNOBOOT_LOG"

// ParseLevel parses a level name. In addition to zap's level names, "trace"
// is accepted.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return 0, errors.New("empty log level")
	case "trace":
		return TraceLevel, nil
	}
	return zapcore.ParseLevel(s)
}

// EnvFilter decides which log entries are written, based on the name of the
// logger that produced them, similar to Log4j or python's logging module.
// Directives for a name also apply to its descendants: a directive for "db"
// applies to loggers named "db" and "db.pool".
type EnvFilter struct {
	defaultLevel Level
	levels       map[string]Level
}

// NewEnvFilter returns a filter configured from the ANNOBOOT_LOG environment
// variable.
func NewEnvFilter() *EnvFilter {
	return ParseEnvFilter(os.Getenv(LogEnvVar))
}

// ParseEnvFilter returns a filter configured from the given directives. The
// directives are separated by commas. Each one is either a level, which sets
// the default, or name=level. Directives that cannot be parsed are ignored.
func ParseEnvFilter(directives string) *EnvFilter {
	f := &EnvFilter{defaultLevel: ErrorLevel, levels: map[string]Level{}}
	for _, d := range strings.Split(directives, ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		name, lvl, ok := strings.Cut(d, "=")
		if !ok {
			if level, err := ParseLevel(d); err == nil {
				f.defaultLevel = level
			}
			continue
		}
		name = strings.TrimSpace(name)
		level, err := ParseLevel(lvl)
		if name == "" || err != nil {
			continue
		}
		f.levels[name] = level
	}
	return f
}

// AddDirective sets the default level, which applies to loggers without a
// directive of their own. It returns f.
func (f *EnvFilter) AddDirective(level Level) *EnvFilter {
	f.defaultLevel = level
	return f
}

// Level returns the minimum level written for the named logger.
func (f *EnvFilter) Level(name string) Level {
	if level, ok := f.levels[name]; ok {
		return level
	}
	for name != "" {
		i := strings.LastIndexByte(name, '.')
		if i < 0 {
			break
		}
		name = name[:i]
		if level, ok := f.levels[name]; ok {
			return level
		}
	}
	return f.defaultLevel
}

// Wrap returns a core that writes to the given sink the entries that pass the
// filter.
func (f *EnvFilter) Wrap(core zapcore.Core) zapcore.Core {
	lowest := f.defaultLevel
	for _, level := range f.levels {
		if level < lowest {
			lowest = level
		}
	}
	return &filterCore{Core: core, filter: f, lowest: lowest}
}

type filterCore struct {
	zapcore.Core
	filter *EnvFilter
	// lowest level of any directive
	lowest Level

	cache sync.Map // map[string]Level
}

func (c *filterCore) Enabled(level zapcore.Level) bool {
	return level >= c.lowest && c.Core.Enabled(level)
}

func (c *filterCore) With(fields []zapcore.Field) zapcore.Core {
	return &filterCore{Core: c.Core.With(fields), filter: c.filter, lowest: c.lowest}
}

func (c *filterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	var level Level
	if cached, ok := c.cache.Load(e.LoggerName); ok {
		level = cached.(Level)
	} else {
		level = c.filter.Level(e.LoggerName)
		c.cache.Store(e.LoggerName, level)
	}
	if e.Level < level {
		return ce
	}
	return c.Core.Check(e, ce)
}
