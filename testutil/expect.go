// Package testutil holds assertions shared by the compiler's tests.
package testutil

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/davecgh/go-spew/spew"

	"github.com/Bit-Atto/txsc/errors"
)

// ExpectString compares the string form of actual,
// such as a formatted instruction list, with expected.
func ExpectString(t testing.TB, actual fmt.Stringer, expected string, msg string) {
	if got := actual.String(); got != expected {
		t.Errorf("%s: got [%s], expected [%s]\n%s", msg, got, expected, stackTrace())
	}
}

// ExpectScriptEqual reports the disassembly of both scripts
// if they differ, and a byte dump if they disassemble alike.
func ExpectScriptEqual(t testing.TB, actual, expected []byte, msg string) {
	if string(actual) == string(expected) {
		return
	}
	expectedStr, _ := txscript.DisasmString(expected)
	actualStr, _ := txscript.DisasmString(actual)
	if actualStr == expectedStr {
		actualStr, expectedStr = spew.Sdump(actual), spew.Sdump(expected)
	}
	t.Errorf("%s: got [%s], expected [%s]\n%s", msg, actualStr, expectedStr, stackTrace())
}

// FatalErr fails the test with err's message,
// data items and detail.
func FatalErr(t testing.TB, err error) {
	t.Helper()
	args := []interface{}{errors.Diagnostic(err)}
	if d := errors.Detail(err); d != "" {
		args = append(args, "\n"+d)
	}
	t.Fatal(args...)
}

func stackTrace() []byte {
	buf := make([]byte, 16384)
	n := runtime.Stack(buf, false)
	return buf[:n]
}
