// Package logging is a small structured logger in the shape of
// go-ethereum's log package: leveled, key-value, with a colorized
// terminal handler for interactive use and a plain one for files/CI.
// Call sites read like log.Info("task claimed", "id", id, "worker", wid).
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level is a logging severity, ordered least to most severe.
type Level int

const (
	LvlDebug Level = iota
	LvlInfo
	LvlWarn
	LvlError
	LvlCrit
)

func (l Level) String() string {
	switch l {
	case LvlDebug:
		return "DEBG"
	case LvlInfo:
		return "INFO"
	case LvlWarn:
		return "WARN"
	case LvlError:
		return "EROR"
	case LvlCrit:
		return "CRIT"
	default:
		return "????"
	}
}

// Logger is a leveled, structured logger that carries a fixed set of
// context key-values into every record, the way log.New(ctx...) does in
// the teacher.
type Logger struct {
	ctx     []any
	handler Handler
}

// Handler writes one log record.
type Handler interface {
	Log(t time.Time, lvl Level, msg string, kv []any) error
}

var (
	rootMu sync.Mutex
	root   = &Logger{handler: NewTerminalHandler(os.Stderr)}
)

// Root returns the package-global root logger.
func Root() *Logger {
	rootMu.Lock()
	defer rootMu.Unlock()
	return root
}

// SetRoot replaces the root logger's handler — used by cmd/* to switch to
// a JSON handler or a different verbosity at startup.
func SetRoot(l *Logger) {
	rootMu.Lock()
	defer rootMu.Unlock()
	root = l
}

// New returns a child logger carrying ctx in addition to l's own context.
func New(ctx ...any) *Logger {
	return Root().New(ctx...)
}

// NewWithHandler returns a logger writing through handler directly,
// bypassing the package root — used by cmd/* to wire --log-json and by
// tests that assert on handler output.
func NewWithHandler(handler Handler) *Logger {
	return &Logger{handler: handler}
}

func (l *Logger) New(ctx ...any) *Logger {
	nctx := make([]any, 0, len(l.ctx)+len(ctx))
	nctx = append(nctx, l.ctx...)
	nctx = append(nctx, ctx...)
	return &Logger{ctx: nctx, handler: l.handler}
}

func (l *Logger) write(lvl Level, msg string, kv []any) {
	all := make([]any, 0, len(l.ctx)+len(kv))
	all = append(all, l.ctx...)
	all = append(all, kv...)
	if err := l.handler.Log(time.Now(), lvl, msg, all); err != nil {
		fmt.Fprintf(os.Stderr, "logging: write failed: %v\n", err)
	}
}

func (l *Logger) Debug(msg string, kv ...any) { l.write(LvlDebug, msg, kv) }
func (l *Logger) Info(msg string, kv ...any)   { l.write(LvlInfo, msg, kv) }
func (l *Logger) Warn(msg string, kv ...any)   { l.write(LvlWarn, msg, kv) }
func (l *Logger) Error(msg string, kv ...any)  { l.write(LvlError, msg, kv) }

// Crit logs at the highest severity with a caller frame attached, then
// exits the process — for unrecoverable startup failures only (cmd/coordinator
// uses it for store-open failure; see spec §6 exit codes).
func (l *Logger) Crit(msg string, kv ...any) {
	kv = append(kv, "caller", stack.Caller(1))
	l.write(LvlCrit, msg, kv)
	os.Exit(1)
}

func Debug(msg string, kv ...any) { Root().Debug(msg, kv...) }
func Info(msg string, kv ...any)  { Root().Info(msg, kv...) }
func Warn(msg string, kv ...any)  { Root().Warn(msg, kv...) }
func Error(msg string, kv ...any) { Root().Error(msg, kv...) }
func Crit(msg string, kv ...any)  { Root().Crit(msg, kv...) }

// NewTerminalHandler returns a Handler that colorizes the level and
// key=value pairs when w is a TTY, matching the teacher's interactive
// console output, and falls back to plain text otherwise.
func NewTerminalHandler(w io.Writer) Handler {
	useColor := false
	out := w
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		out = colorable.NewColorable(f)
	}
	return &terminalHandler{w: out, color: useColor}
}

type terminalHandler struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

var levelColor = map[Level]color.Attribute{
	LvlDebug: color.FgMagenta,
	LvlInfo:  color.FgGreen,
	LvlWarn:  color.FgYellow,
	LvlError: color.FgRed,
	LvlCrit:  color.FgRed,
}

func (h *terminalHandler) Log(t time.Time, lvl Level, msg string, kv []any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ts := t.Format("2006-01-02T15:04:05.000")
	lvlStr := lvl.String()
	if h.color {
		lvlStr = color.New(levelColor[lvl]).Sprint(lvlStr)
	}
	fmt.Fprintf(h.w, "%s [%s] %s", ts, lvlStr, msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(h.w, " %v=%v", kv[i], kv[i+1])
	}
	fmt.Fprintln(h.w)
	return nil
}

// NewJSONHandler returns a Handler that writes one JSON object per record,
// used by cmd/* when --log-json is set (non-interactive / log aggregation).
func NewJSONHandler(w io.Writer) Handler {
	return &jsonHandler{w: w}
}

type jsonHandler struct {
	mu sync.Mutex
	w  io.Writer
}

func (h *jsonHandler) Log(t time.Time, lvl Level, msg string, kv []any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	fmt.Fprintf(h.w, `{"t":%q,"lvl":%q,"msg":%q`, t.Format(time.RFC3339Nano), lvl.String(), msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(h.w, `,%q:%q`, fmt.Sprint(kv[i]), fmt.Sprint(kv[i+1]))
	}
	fmt.Fprintln(h.w, "}")
	return nil
}
