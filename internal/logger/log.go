package logger

import (
	"fmt"
	"strings"

	"github.com/logrusorgru/aurora/v3"
)

const prefix = "Evolve"

// Printer is satisfied by *log.Logger.
type Printer interface {
	Output(calldepth int, s string) error
}

type Logger interface {
	Successf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Error(err error)
	SQL(query string, args ...interface{})
}

type level int

const (
	levelSuccess level = iota
	levelDebug
	levelError
	levelSQL
)

type painter func(l level, msg string) string

func plain(_ level, msg string) string {
	return msg
}

func colored(l level, msg string) string {
	switch l {
	case levelSuccess:
		return aurora.Green(msg).String()
	case levelDebug:
		return aurora.Yellow(msg).String()
	case levelError:
		return aurora.Red(msg).String()
	default:
		return aurora.Gray(15, msg).String()
	}
}

// PrintLogger writes through a Printer. Successes and errors are always
// printed, debug messages and statements only when enabled.
type PrintLogger struct {
	printer Printer
	paint   painter
	debug   bool
	sql     bool
}

var _ Logger = (*PrintLogger)(nil)

func NewColorLogger(p Printer, sql, debug bool) *PrintLogger {
	return &PrintLogger{printer: p, paint: colored, debug: debug, sql: sql}
}

func NewBWLogger(p Printer, sql, debug bool) *PrintLogger {
	return &PrintLogger{printer: p, paint: plain, debug: debug, sql: sql}
}

func (pl *PrintLogger) Successf(format string, args ...interface{}) {
	pl.print(levelSuccess, "\n"+prefix+": "+fmt.Sprintf(format, args...))
}

func (pl *PrintLogger) Debugf(format string, args ...interface{}) {
	if pl.debug {
		pl.print(levelDebug, "\n"+prefix+" debug: "+fmt.Sprintf(format, args...))
	}
}

func (pl *PrintLogger) Error(err error) {
	pl.print(levelError, "\n"+prefix+" error: "+err.Error())
}

func (pl *PrintLogger) SQL(query string, args ...interface{}) {
	if pl.sql {
		pl.print(levelSQL, formatSQL(query, args))
	}
}

func (pl *PrintLogger) print(l level, msg string) {
	// 3 skips print and the Logger method, so the caller's line is reported
	_ = pl.printer.Output(3, pl.paint(l, msg))
}

func formatSQL(query string, args []interface{}) string {
	var b strings.Builder
	b.WriteString("\n" + prefix + " running sql: ")
	b.WriteString(query)

	if len(args) == 0 {
		return b.String()
	}

	params := make([]string, len(args))
	for i := range args {
		params[i] = fmt.Sprintf("{%#v}", args[i])
	}

	b.WriteString("\nquery parameters: ")
	b.WriteString(strings.Join(params, ", "))

	return b.String()
}
