// Package errors annotates errors with context messages, detail
// for the user and structured data, such as the index of the
// instruction that failed. It can stand in for the standard
// errors package.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// wrapperError satisfies the error interface.
type wrapperError struct {
	msg    string
	detail []string
	data   map[string]interface{}
	root   error
}

// It satisfies the error interface.
func (e wrapperError) Error() string {
	return e.msg
}

// Unwrap returns the root error, so that the standard library's
// Is and As see through any number of calls to Wrap.
func (e wrapperError) Unwrap() error {
	return e.root
}

// Root returns the original error that was wrapped by one or more
// calls to Wrap. If e does not wrap other errors, it will be returned
// as-is.
func Root(e error) error {
	if wErr, ok := e.(wrapperError); ok {
		return wErr.root
	}
	return e
}

// wrap prefixes err's message with msg. The first wrap of
// a plain error records it as the root.
func wrap(err error, msg string) error {
	if err == nil {
		return nil
	}

	werr, ok := err.(wrapperError)
	if !ok {
		werr.root = err
		werr.msg = err.Error()
	}
	if msg != "" {
		werr.msg = msg + ": " + werr.msg
	}

	return werr
}

// Wrap adds a context message to err.
// Arguments are handled as in fmt.Print.
// Use Root to recover the original error wrapped by one or more calls to Wrap.
// Wrap returns nil if err is nil.
func Wrap(err error, a ...interface{}) error {
	return wrap(err, fmt.Sprint(a...))
}

// Wrapf is like Wrap, but arguments are handled as in fmt.Printf.
func Wrapf(err error, format string, a ...interface{}) error {
	return wrap(err, fmt.Sprintf(format, a...))
}

// Sub returns an error with root as its Root and
// err's message, detail and data.
// It is useful for reporting a lower-level failure
// under one of this module's sentinel errors.
// Sub returns nil if err is nil.
func Sub(root, err error) error {
	if err == nil {
		return nil
	}
	werr := wrap(err, "").(wrapperError)
	werr.root = root
	return werr
}

// WithDetail returns a new error that wraps
// err as a chain error messsage containing text
// as its additional context.
// Function Detail will return the given text
// when called on the new error value.
func WithDetail(err error, text string) error {
	if err == nil {
		return nil
	}
	if text == "" {
		return err
	}
	e1 := wrap(err, text).(wrapperError)
	e1.detail = append(e1.detail, text)
	return e1
}

// WithDetailf is like WithDetail, except it formats
// the detail message as in fmt.Printf.
func WithDetailf(err error, format string, v ...interface{}) error {
	if err == nil {
		return nil
	}
	text := fmt.Sprintf(format, v...)
	e1 := wrap(err, text).(wrapperError)
	e1.detail = append(e1.detail, text)
	return e1
}

// Detail returns the detail message contained in err, if any.
// An error has a detail message if it was made by WithDetail
// or WithDetailf.
func Detail(err error) string {
	wrapper, _ := err.(wrapperError)
	return strings.Join(wrapper.detail, "; ")
}

// WithData returns a new error that wraps err
// and carries the data items of err, if any,
// plus the items in keyval.
// Keyval takes the form
//
//	k1, v1, k2, v2, ...
//
// Keys must be strings.
// Calling Data on the returned error yields the merged map.
func WithData(err error, keyval ...interface{}) error {
	if err == nil {
		return nil
	}
	if len(keyval)%2 != 0 {
		panic(fmt.Sprintf("errors.WithData: odd-length keyval %v", keyval))
	}
	newkv := make(map[string]interface{})
	for k, v := range Data(err) {
		newkv[k] = v
	}
	for i := 0; i < len(keyval); i += 2 {
		newkv[keyval[i].(string)] = keyval[i+1]
	}
	e1 := wrap(err, "").(wrapperError)
	e1.data = newkv
	return e1
}

// Data returns the data items in err, if any.
func Data(err error) map[string]interface{} {
	wrapper, _ := err.(wrapperError)
	return wrapper.data
}

// Diagnostic formats err for a human reader:
// the message followed by its data items as
// sorted k=v pairs in brackets.
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	data := Data(err)
	if len(data) == 0 {
		return err.Error()
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return err.Error() + " [" + strings.Join(pairs, " ") + "]"
}
