// Package mlog provides helpers on top of slog.Logger.
//
// Packages of popbox are given a slog.Logger by callers, or use the default
// logger from this package. A "pkg" attribute is added to each logger, and the
// log level configured for that package is applied.
//
// Logging strings should be constant. Variable data goes into attributes, for
// easier log processing.
//
// Besides the regular log levels, three trace levels are defined for logging
// protocol transcripts: "trace" for regular protocol lines, "traceauth" for lines
// with credentials and "tracedata" for bulk data. When "trace" is enabled but
// "traceauth" is not, authentication lines are logged with their data replaced
// by "***".
package mlog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var noctx = context.Background()

// Logfmt enables "logfmt" output, with fields key=value. If false, a more human
// readable format is used.
var Logfmt bool

// Log levels for use with slog. The trace levels are below debug.
const (
	LevelTracedata = slog.LevelDebug - 8
	LevelTraceauth = slog.LevelDebug - 6
	LevelTrace     = slog.LevelDebug - 4
	LevelDebug     = slog.LevelDebug
	LevelInfo      = slog.LevelInfo
	LevelPrint     = slog.LevelInfo + 1 // Printed regardless of configured log level.
	LevelError     = slog.LevelError
	LevelFatal     = slog.LevelError + 4 // Printed regardless of configured log level.
)

// LevelStrings maps log levels to their names.
var LevelStrings = map[slog.Level]string{
	LevelTracedata: "tracedata",
	LevelTraceauth: "traceauth",
	LevelTrace:     "trace",
	LevelDebug:     "debug",
	LevelInfo:      "info",
	LevelPrint:     "print",
	LevelError:     "error",
	LevelFatal:     "fatal",
}

// Levels maps level names to log levels, for parsing configuration.
var Levels = map[string]slog.Level{
	"tracedata": LevelTracedata,
	"traceauth": LevelTraceauth,
	"trace":     LevelTrace,
	"debug":     LevelDebug,
	"info":      LevelInfo,
	"print":     LevelPrint,
	"error":     LevelError,
	"fatal":     LevelFatal,
}

// Holds a map[string]slog.Level, mapping a package (field pkg in logs) to a log
// level. The empty string is the default/fallback log level.
var config atomic.Pointer[map[string]slog.Level]

func init() {
	SetConfig(map[string]slog.Level{"": LevelError})
}

// SetConfig atomically sets the new log levels used by all Log instances.
func SetConfig(c map[string]slog.Level) {
	config.Store(&c)
}

// output is where the default handler writes to. Tests replace it.
var output io.Writer = os.Stderr
var outputMutex sync.Mutex

// CidKey can be used with context.WithValue to store a "cid" (connection id)
// in a context, for logging.
type key string

var CidKey key = "cid"

// Log wraps a slog.Logger, providing convenience functions.
type Log struct {
	*slog.Logger
}

// New returns a Log for pkg. If logger is nil, a new logger with the default
// handler of this package is used, which applies the log levels from SetConfig.
// If logger was made by this package, its attributes are kept and pkg replaces
// the package of logger, for both the "pkg" attribute and the log level. Other
// loggers get a "pkg" attribute.
func New(pkg string, logger *slog.Logger) Log {
	if logger == nil {
		return Log{slog.New(&handler{pkg: pkg})}
	}
	if h := withPkg(logger.Handler(), pkg); h != nil {
		return Log{slog.New(h)}
	}
	return Log{logger.With(slog.String("pkg", pkg))}
}

// withPkg returns a copy of h with package pkg, or nil if h is not a handler of
// this package.
func withPkg(h slog.Handler, pkg string) slog.Handler {
	switch x := h.(type) {
	case *handler:
		nh := *x
		nh.pkg = pkg
		return &nh
	case *funcHandler:
		if nh := withPkg(x.Handler, pkg); nh != nil {
			return &funcHandler{nh, x.fn}
		}
	}
	return nil
}

// WithCid adds attribute "cid".
func (l Log) WithCid(cid int64) Log {
	return l.With(slog.Int64("cid", cid))
}

// WithContext adds cid from context, if present.
func (l Log) WithContext(ctx context.Context) Log {
	cidv := ctx.Value(CidKey)
	if cidv == nil {
		return l
	}
	cid := cidv.(int64)
	return l.WithCid(cid)
}

// With adds attributes to each logged line.
func (l Log) With(attrs ...slog.Attr) Log {
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return Log{l.Logger.With(args...)}
}

// WithFunc sets fn to be called for additional attributes just before logging.
func (l Log) WithFunc(fn func() []slog.Attr) Log {
	return Log{slog.New(&funcHandler{l.Logger.Handler(), fn})}
}

// Check logs an error if err is not nil. Intended for logging errors that are
// good to know, but would not influence program flow.
func (l Log) Check(err error, msg string, attrs ...slog.Attr) {
	if err != nil {
		l.Errorx(msg, err, attrs...)
	}
}

func errAttr(err error) slog.Attr {
	return slog.Any("err", err)
}

// Logx logs at level with err as attribute, if not nil.
func (l Log) Logx(level slog.Level, msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append([]slog.Attr{errAttr(err)}, attrs...)
	}
	l.LogAttrs(noctx, level, msg, attrs...)
}

func (l Log) Fatal(msg string, attrs ...slog.Attr) { l.Fatalx(msg, nil, attrs...) }
func (l Log) Fatalx(msg string, err error, attrs ...slog.Attr) {
	l.Logx(LevelFatal, msg, err, attrs...)
	os.Exit(1)
}

func (l Log) Print(msg string, attrs ...slog.Attr) { l.Printx(msg, nil, attrs...) }
func (l Log) Printx(msg string, err error, attrs ...slog.Attr) {
	l.Logx(LevelPrint, msg, err, attrs...)
}

func (l Log) Debug(msg string, attrs ...slog.Attr) { l.Debugx(msg, nil, attrs...) }
func (l Log) Debugx(msg string, err error, attrs ...slog.Attr) {
	l.Logx(LevelDebug, msg, err, attrs...)
}

func (l Log) Info(msg string, attrs ...slog.Attr) { l.Infox(msg, nil, attrs...) }
func (l Log) Infox(msg string, err error, attrs ...slog.Attr) {
	l.Logx(LevelInfo, msg, err, attrs...)
}

func (l Log) Error(msg string, attrs ...slog.Attr) { l.Errorx(msg, nil, attrs...) }
func (l Log) Errorx(msg string, err error, attrs ...slog.Attr) {
	l.Logx(LevelError, msg, err, attrs...)
}

// Trace logs a protocol transcript line at level, which should be one of the
// trace levels. If level is traceauth or tracedata and only trace is enabled,
// the data is replaced with "***" or "...".
func (l Log) Trace(level slog.Level, prefix string, data []byte) {
	ctx := noctx
	if !l.Enabled(ctx, level) {
		if level >= LevelTrace || !l.Enabled(ctx, LevelTrace) {
			return
		}
		if level == LevelTraceauth {
			data = []byte("***")
		} else {
			data = []byte("...")
		}
		level = LevelTrace
	}
	l.LogAttrs(ctx, level, prefix+strconv.Quote(string(data)))
}

// funcHandler calls fn for each record, adding the returned attributes.
type funcHandler struct {
	slog.Handler
	fn func() []slog.Attr
}

func (h *funcHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(h.fn()...)
	return h.Handler.Handle(ctx, r)
}

func (h *funcHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &funcHandler{h.Handler.WithAttrs(attrs), h.fn}
}

func (h *funcHandler) WithGroup(name string) slog.Handler {
	return &funcHandler{h.Handler.WithGroup(name), h.fn}
}

// handler writes records to output, filtering on the level configured for its
// package.
type handler struct {
	pkg   string
	attrs []slog.Attr
	group string
}

var _ slog.Handler = (*handler)(nil)

func (h *handler) level() slog.Level {
	c := *config.Load()
	if l, ok := c[h.pkg]; ok {
		return l
	}
	if l, ok := c[""]; ok {
		return l
	}
	return LevelError
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level == LevelPrint || level == LevelFatal || level >= h.level()
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	if h.group == "" {
		// A "pkg" attribute selects the package, it is written once, by Handle.
		var l []slog.Attr
		for _, a := range attrs {
			if a.Key == "pkg" && a.Value.Kind() == slog.KindString {
				nh.pkg = a.Value.String()
			} else {
				l = append(l, a)
			}
		}
		attrs = l
	}
	if h.group != "" {
		nh.attrs = append(append([]slog.Attr{}, h.attrs...), slog.Group(h.group, anySlice(attrs)...))
	} else {
		nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	}
	return &nh
}

func (h *handler) WithGroup(name string) slog.Handler {
	nh := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	nh.group = name
	return &nh
}

func anySlice(attrs []slog.Attr) []any {
	l := make([]any, len(attrs))
	for i, a := range attrs {
		l[i] = a
	}
	return l
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}

	attrs := []slog.Attr{slog.String("pkg", h.pkg)}
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	// We build up a buffer so we can do a single write of the data. Otherwise partial
	// log lines may interleave.
	b := &bytes.Buffer{}
	level := LevelStrings[r.Level]
	if level == "" {
		level = r.Level.String()
	}
	if Logfmt {
		fmt.Fprintf(b, "l=%s m=%s", level, logfmtValue(r.Message))
		for _, a := range attrs {
			writeAttr(b, " ", "=", "", a)
		}
	} else {
		fmt.Fprintf(b, "%s: %s", level, logfmtValue(r.Message))
		if len(attrs) > 0 {
			b.WriteString(" (")
			for i, a := range attrs {
				sep := ""
				if i > 0 {
					sep = "; "
				}
				writeAttr(b, sep, ": ", "", a)
			}
			b.WriteString(")")
		}
	}
	b.WriteString("\n")

	outputMutex.Lock()
	defer outputMutex.Unlock()
	_, err := output.Write(b.Bytes())
	return err
}

func writeAttr(b *bytes.Buffer, sep, eq, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			writeAttr(b, sep, eq, prefix+a.Key+".", ga)
		}
		return
	}
	b.WriteString(sep)
	b.WriteString(prefix + a.Key)
	b.WriteString(eq)
	b.WriteString(logfmtValue(stringValue(a.Key == "cid", v)))
}

func stringValue(iscid bool, v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		if iscid {
			return fmt.Sprintf("%x", v.Int64())
		}
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindDuration:
		return v.Duration().Round(time.Microsecond).String()
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return x.Error()
		case []string:
			return "[" + strings.Join(x, ",") + "]"
		case fmt.Stringer:
			return x.String()
		}
	}
	return v.String()
}

// escape logfmt string if required, otherwise return original string.
func logfmtValue(s string) string {
	for _, c := range s {
		if c == '"' || c == '\\' || c <= ' ' || c == '=' || c >= 0x7f {
			return strconv.Quote(s)
		}
	}
	return s
}

type errWriter struct {
	log   Log
	level slog.Level
	msg   string
}

func (w *errWriter) Write(buf []byte) (int, error) {
	err := fmt.Errorf("%s", strings.TrimSpace(string(buf)))
	w.log.Logx(w.level, w.msg, err)
	return len(buf), nil
}

// ErrWriter returns a writer that turns each write into a logging call on "log"
// with given "level" and "msg" and the written content as an error.
// Can be used for making a Go log.Logger for use in http.Server.ErrorLog.
func ErrWriter(log Log, level slog.Level, msg string) io.Writer {
	return &errWriter{log, level, msg}
}
