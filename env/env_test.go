package env

import (
	"os"
	"reflect"
	"testing"

	"github.com/Bit-Atto/txsc/errors"
)

func fakeEnv(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestIntVar(t *testing.T) {
	s := NewSet(fakeEnv(map[string]string{"TXSC_PASSES": "25"}))
	var missing, present int
	s.IntVar(&missing, "nonexistent", 15)
	s.IntVar(&present, "TXSC_PASSES", 15)
	if err := s.Parse(); err != nil {
		t.Fatal("unexpected error", err)
	}

	if missing != 15 {
		t.Fatalf("expected missing=15, got missing=%d", missing)
	}
	if present != 25 {
		t.Fatalf("expected present=25, got present=%d", present)
	}
}

func TestBoolVar(t *testing.T) {
	s := NewSet(fakeEnv(map[string]string{"TXSC_ALTSTACK": "false", "TXSC_EMPTY": ""}))
	var altstack, empty bool
	s.BoolVar(&altstack, "TXSC_ALTSTACK", true)
	s.BoolVar(&empty, "TXSC_EMPTY", true)
	if err := s.Parse(); err != nil {
		t.Fatal("unexpected error", err)
	}

	if altstack != false {
		t.Fatalf("expected altstack=false, got altstack=%t", altstack)
	}
	if empty != true {
		t.Fatalf("expected empty=true, got empty=%t", empty)
	}
}

func TestParseError(t *testing.T) {
	s := NewSet(fakeEnv(map[string]string{"TXSC_VERBOSE": "maybe", "TXSC_PASSES": "x"}))
	var verbose bool
	var passes int
	s.BoolVar(&verbose, "TXSC_VERBOSE", false)
	s.IntVar(&passes, "TXSC_PASSES", 5)

	err := s.Parse()
	if errors.Root(err) != ErrParse {
		t.Fatalf("Parse() error = %v want %v", err, ErrParse)
	}
	if got := errors.Data(err)["name"]; got != "TXSC_VERBOSE" {
		t.Fatalf("error name = %v want TXSC_VERBOSE", got)
	}
	if passes != 5 {
		t.Fatalf("expected passes=5 after failed parse, got %d", passes)
	}
}

func TestStringVar(t *testing.T) {
	s := NewSet(fakeEnv(map[string]string{"TXSC_FORMAT": "hex"}))
	var format, other string
	s.StringVar(&format, "TXSC_FORMAT", "asm")
	s.StringVar(&other, "nonexistent", "asm")
	s.Parse()

	if format != "hex" || other != "asm" {
		t.Fatalf("got format=%q other=%q, want hex asm", format, other)
	}
}

func TestStringSliceVar(t *testing.T) {
	cases := []struct {
		val  string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" sig , pubkey ", []string{"sig", "pubkey"}},
		{"a,,b", []string{"a", "b"}},
	}
	for _, c := range cases {
		s := NewSet(fakeEnv(map[string]string{"TXSC_ASSUME": c.val}))
		var got []string
		s.StringSliceVar(&got, "TXSC_ASSUME", "default")
		s.Parse()
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("StringSliceVar(%q) = %v want %v", c.val, got, c.want)
		}
	}
}

func TestPackageLevel(t *testing.T) {
	err := os.Setenv("TXSC_TEST_INT", "7")
	if err != nil {
		t.Fatal("unexpected error", err)
	}
	defer os.Unsetenv("TXSC_TEST_INT")

	n := Int("TXSC_TEST_INT", 1)
	b := Bool("TXSC_TEST_MISSING_BOOL", true)
	str := String("TXSC_TEST_MISSING_STRING", "x")
	list := StringSlice("TXSC_TEST_MISSING_LIST", "a", "b")
	Parse()

	if *n != 7 || *b != true || *str != "x" || !reflect.DeepEqual(*list, []string{"a", "b"}) {
		t.Fatalf("got %d %t %q %v", *n, *b, *str, *list)
	}
}
