// Package env provides a convenient way to convert environment
// variables into Go data. It is similar in design to package
// flag: variables are registered with a default value and
// assigned when Parse is called.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Bit-Atto/txsc/errors"
)

// ErrParse is the root of every error returned by Set.Parse.
var ErrParse = errors.New("invalid environment value")

// A Set is a collection of registered environment variables.
type Set struct {
	lookup func(string) (string, bool)
	funcs  []func() error
}

// NewSet returns an empty Set that reads variables with lookup.
// A nil lookup reads the process environment.
func NewSet(lookup func(string) (string, bool)) *Set {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Set{lookup: lookup}
}

func (s *Set) get(name string) (string, bool) {
	v, ok := s.lookup(name)
	return v, ok && v != ""
}

// IntVar defines an int var with the specified
// name and default value. The argument p points
// to an int variable in which to store the
// value of the environment var.
func (s *Set) IntVar(p *int, name string, value int) {
	*p = value
	s.funcs = append(s.funcs, func() error {
		if v, ok := s.get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return errors.WithData(errors.Sub(ErrParse, err), "name", name)
			}
			*p = n
		}
		return nil
	})
}

// BoolVar defines a bool var with the specified
// name and default value. Parsing uses strconv.ParseBool.
func (s *Set) BoolVar(p *bool, name string, value bool) {
	*p = value
	s.funcs = append(s.funcs, func() error {
		if v, ok := s.get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return errors.WithData(errors.Sub(ErrParse, err), "name", name)
			}
			*p = b
		}
		return nil
	})
}

// StringVar defines a string with the
// specified name and default value.
func (s *Set) StringVar(p *string, name string, value string) {
	*p = value
	s.funcs = append(s.funcs, func() error {
		if v, ok := s.get(name); ok {
			*p = v
		}
		return nil
	})
}

// StringSliceVar defines a string slice with the specified
// name. The variable holds items delimited by commas;
// surrounding space is trimmed and empty items are dropped.
func (s *Set) StringSliceVar(p *[]string, name string, value ...string) {
	*p = value
	s.funcs = append(s.funcs, func() error {
		if v, ok := s.get(name); ok {
			*p = splitList(v)
		}
		return nil
	})
}

// Parse assigns every registered variable.
// It returns the first error encountered, after attempting
// every variable.
func (s *Set) Parse() error {
	var first error
	for _, f := range s.funcs {
		if err := f(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func splitList(v string) []string {
	var a []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			a = append(a, item)
		}
	}
	return a
}

// Environ is the Set used by the package-level functions.
var Environ = NewSet(nil)

// Int returns a new int pointer.
// When Parse is called,
// env var name will be parsed
// and the resulting value
// will be assigned to the returned location.
func Int(name string, value int) *int {
	p := new(int)
	Environ.IntVar(p, name, value)
	return p
}

// Bool returns a new bool pointer.
// When Parse is called,
// env var name will be parsed
// and the resulting value
// will be assigned to the returned location.
func Bool(name string, value bool) *bool {
	p := new(bool)
	Environ.BoolVar(p, name, value)
	return p
}

// String returns a new string pointer.
// When Parse is called,
// env var name will be assigned
// to the returned location.
func String(name string, value string) *string {
	p := new(string)
	Environ.StringVar(p, name, value)
	return p
}

// StringSlice returns a pointer to a slice
// of strings. It expects env var name to
// be a list of items delimited by commas.
func StringSlice(name string, value ...string) *[]string {
	p := new([]string)
	Environ.StringSliceVar(p, name, value...)
	return p
}

// Parse parses the env vars registered with the package-level
// functions. If any value cannot be parsed,
// Parse prints an error message and exits the process with status 1.
func Parse() {
	if err := Environ.Parse(); err != nil {
		fmt.Fprintln(os.Stderr, errors.Diagnostic(err))
		os.Exit(1)
	}
}
