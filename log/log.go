// Package log writes structured log entries as K=V pairs,
// one entry per line, tagged with the compilation unit.
// Output goes to stdout unless changed with SetOutput.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Bit-Atto/txsc/errors"
)

const rfc3339NanoFixed = "2006-01-02T15:04:05.000000000Z07:00"

var (
	logWriterMu sync.Mutex // protects the following
	logWriter   io.Writer  = os.Stdout

	// pairDelims contains a list of characters that may be used as delimeters
	// between key-value pairs in a log entry. Keys and values will be quoted or
	// otherwise formatted to ensure that key-value extraction is unambiguous.
	pairDelims      = " ,;|&\t\n\r"
	illegalKeyChars = pairDelims + `="`
)

// Conventional key names for log entries
const (
	KeyCaller = "at"   // location of caller
	KeyTime   = "t"    // time of call
	KeyUnit   = "unit" // compilation unit from context

	KeyMessage = "message" // produced by Recovered
	KeyError   = "error"   // produced by Error
	KeyStack   = "stack"   // goroutine stack, printed after the entry

	keyLogError = "log-error" // for errors produced by the log package itself
)

// UnknownUnit is logged for contexts without a compilation unit.
const UnknownUnit = "-"

type unitKey struct{}

// NewContext returns a copy of ctx that carries
// the name of the compilation unit being processed.
// Write adds it to every entry under KeyUnit.
func NewContext(ctx context.Context, unit string) context.Context {
	return context.WithValue(ctx, unitKey{}, unit)
}

// UnitFromContext returns the compilation unit stored in ctx,
// or UnknownUnit.
func UnitFromContext(ctx context.Context) string {
	if ctx == nil {
		return UnknownUnit
	}
	if s, ok := ctx.Value(unitKey{}).(string); ok && s != "" {
		return s
	}
	return UnknownUnit
}

// SetOutput sets the log output to w.
// If SetOutput hasn't been called,
// the default behavior is to write to stdout.
func SetOutput(w io.Writer) {
	logWriterMu.Lock()
	logWriter = w
	logWriterMu.Unlock()
}

// Write writes a structured log entry. Log fields are
// specified as a variadic sequence of alternating keys and values.
//
// Duplicate keys will be preserved.
//
// Several fields are automatically added to the log entry: the
// compilation unit taken from the context, a string indicating the
// file and line number of the caller, and a timestamp.
//
// As a special case, the auto-generated caller may be overridden by passing in
// a new value for the KeyCaller key as the first key-value pair. The override
// feature should be reserved for custom logging functions that wrap Write.
//
// A KeyStack value of type []byte is not written as a pair.
// It is printed as is on the lines following the entry.
func Write(ctx context.Context, keyvals ...interface{}) {
	// Invariant: len(keyvals) is always even.
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "", keyLogError, "odd number of log params")
	}

	// The auto-generated caller value may be overwritten.
	var vcaller string
	if len(keyvals) >= 2 && keyvals[0] == KeyCaller {
		vcaller = formatValue(keyvals[1])
		keyvals = keyvals[2:]
	} else {
		vcaller = caller(1)
	}

	t := time.Now().UTC()

	out := fmt.Sprintf(
		"%s=%s %s=%s %s=%s",
		KeyUnit, formatValue(UnitFromContext(ctx)),
		KeyCaller, vcaller,
		KeyTime, formatValue(t.Format(rfc3339NanoFixed)),
	)

	var stack []byte
	for i := 0; i < len(keyvals); i += 2 {
		k := keyvals[i]
		v := keyvals[i+1]
		if b, ok := v.([]byte); ok && k == KeyStack {
			stack = b
			continue
		}
		out += " " + formatKey(k) + "=" + formatValue(v)
	}
	out += "\n"
	if len(stack) > 0 {
		out += strings.TrimRight(string(stack), "\n") + "\n"
	}

	logWriterMu.Lock()
	io.WriteString(logWriter, out) // ignore errors
	logWriterMu.Unlock()
}

// Error writes a log entry containing an error message assigned to the
// "error" key. Data items attached with errors.WithData are
// written as additional pairs.
// Optionally, an error message prefix can be included. Prefix arguments are
// handled as in fmt.Print.
func Error(ctx context.Context, err error, a ...interface{}) {
	data := errors.Data(err)
	if len(a) > 0 {
		err = errors.Wrap(err, a...)
	}
	keyvals := []interface{}{KeyCaller, caller(1), KeyError, err}
	for _, k := range sortedKeys(data) {
		keyvals = append(keyvals, k, data[k])
	}
	Write(ctx, keyvals...)
}

// caller returns a string containing filename and line number of a
// function invocation on the calling goroutine's stack.
// The argument skip is the number of stack frames to ascend, where
// 0 is the calling site of caller. If no stack information is not available,
// "?:?" is returned.
func caller(skip int) string {
	_, file, nline, ok := runtime.Caller(skip + 1)

	var line string
	if ok {
		file = filepath.Base(file)
		line = strconv.Itoa(nline)
	} else {
		file = "?"
		line = "?"
	}

	return file + ":" + line
}

// formatKey ensures that the stringified key is valid for use in a
// K=V format. It stubs out delimeter and quoter characters in
// the key string with hyphens.
func formatKey(k interface{}) string {
	s := fmt.Sprint(k)
	if s == "" {
		return "?"
	}

	for _, c := range illegalKeyChars {
		s = strings.Replace(s, string(c), "-", -1)
	}

	return s
}

// formatValue ensures that the stringified value is valid for use in a
// K=V format. It quotes the string value if delimeter or quoter
// characters are present in the value string.
func formatValue(v interface{}) string {
	s := fmt.Sprint(v)
	if strings.ContainsAny(s, pairDelims) {
		return strconv.Quote(s)
	}
	return s
}

// Recovered writes an entry for v, a value recovered from a
// panic, followed by the stack of the current goroutine.
// It must be called from the deferred function that recovered v.
func Recovered(ctx context.Context, v interface{}) {
	buf := make([]byte, 64<<10)
	buf = buf[:runtime.Stack(buf, false)]
	Write(ctx,
		KeyCaller, caller(1),
		KeyMessage, "panic",
		KeyError, v,
		KeyStack, buf,
	)
}
