// Package logging provides a small leveled, per-component logger used by
// every long-lived part of the orchestrator instead of the bare log package.
package logging

import (
	"fmt"
	"log"
	"sync"

	"github.com/fatih/color"
)

// LogLevel is one of the four severities a ComponentLogger understands.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ComponentLoggerConfig configures a ComponentLogger. EnabledLevels defaults
// to all four levels when left empty.
type ComponentLoggerConfig struct {
	ComponentName string
	Color         color.Attribute
	EnabledLevels []LogLevel
}

// ComponentLogger tags every line it writes with a component name and
// colorizes that tag, while deferring the actual write to the standard
// library logger so output destination/format stay globally configurable.
type ComponentLogger struct {
	name    string
	color   *color.Color
	enabled map[LogLevel]bool
}

// NewComponentLogger builds a ComponentLogger from cfg.
func NewComponentLogger(cfg ComponentLoggerConfig) *ComponentLogger {
	enabled := make(map[LogLevel]bool, 4)
	levels := cfg.EnabledLevels
	if len(levels) == 0 {
		levels = []LogLevel{DEBUG, INFO, WARN, ERROR}
	}
	for _, lvl := range levels {
		enabled[lvl] = true
	}

	c := color.New(cfg.Color)
	if cfg.Color == 0 {
		c = color.New(color.FgWhite)
	}

	return &ComponentLogger{
		name:    cfg.ComponentName,
		color:   c,
		enabled: enabled,
	}
}

func (c *ComponentLogger) log(level LogLevel, format string, args ...interface{}) {
	if !c.enabled[level] {
		return
	}
	tag := c.color.Sprintf("[%s]", c.name)
	msg := fmt.Sprintf(format, args...)
	log.Printf("%s %s %s", tag, level, msg)
}

func (c *ComponentLogger) Debug(format string, args ...interface{}) { c.log(DEBUG, format, args...) }
func (c *ComponentLogger) Info(format string, args ...interface{})  { c.log(INFO, format, args...) }
func (c *ComponentLogger) Warn(format string, args ...interface{})  { c.log(WARN, format, args...) }
func (c *ComponentLogger) Error(format string, args ...interface{}) { c.log(ERROR, format, args...) }

var (
	EngineLogger    = NewComponentLogger(ComponentLoggerConfig{ComponentName: "ENGINE", Color: color.FgCyan})
	LedgerLogger    = NewComponentLogger(ComponentLoggerConfig{ComponentName: "LEDGER", Color: color.FgYellow})
	ProcessLogger   = NewComponentLogger(ComponentLoggerConfig{ComponentName: "PROCESS", Color: color.FgGreen})
	AgentWrapLogger = NewComponentLogger(ComponentLoggerConfig{ComponentName: "AGENT", Color: color.FgMagenta})
	FrontLogger     = NewComponentLogger(ComponentLoggerConfig{ComponentName: "FRONT", Color: color.FgBlue})
	StoreLogger     = NewComponentLogger(ComponentLoggerConfig{ComponentName: "STORE", Color: color.FgHiBlack})
	ConfigLogger    = NewComponentLogger(ComponentLoggerConfig{ComponentName: "CONFIG", Color: color.FgWhite})
)

// LoggerFactory resolves a component name to its shared ComponentLogger,
// creating a generic one on first use for names it doesn't recognize.
type LoggerFactory struct {
	mu      sync.Mutex
	unknown map[string]*ComponentLogger
}

func (f *LoggerFactory) GetLogger(component string) *ComponentLogger {
	switch component {
	case "ENGINE":
		return EngineLogger
	case "LEDGER":
		return LedgerLogger
	case "PROCESS":
		return ProcessLogger
	case "AGENT":
		return AgentWrapLogger
	case "FRONT":
		return FrontLogger
	case "STORE":
		return StoreLogger
	case "CONFIG":
		return ConfigLogger
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unknown == nil {
		f.unknown = make(map[string]*ComponentLogger)
	}
	if l, ok := f.unknown[component]; ok {
		return l
	}
	l := NewComponentLogger(ComponentLoggerConfig{ComponentName: component})
	f.unknown[component] = l
	return l
}

var defaultFactory = &LoggerFactory{}

func LogInfo(component, format string, args ...interface{}) {
	defaultFactory.GetLogger(component).Info(format, args...)
}

func LogError(component, format string, args ...interface{}) {
	defaultFactory.GetLogger(component).Error(format, args...)
}
