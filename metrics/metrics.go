// Package metrics provides counters and latency histograms
// for the compiler. Values are published through expvar
// under "counters" and "latency".
//
// Defined metrics:
//
//	txsc.compile (counter)
//	txsc.compile.error (counter)
//	txsc.inline.pass (counter)
//	txsc.inline.replace (counter)
//	<pkg>.<func> (latency, from RecordElapsed)
package metrics

import (
	"expvar"
	"path"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codahale/hdrhistogram"
)

const (
	minLatency = int64(time.Microsecond)
	maxLatency = int64(time.Minute)
	sigfigs    = 2
)

var (
	mu        sync.Mutex // protects the following
	counters  = map[string]*Count{}
	latencies = map[string]*Latency{}
)

func init() {
	expvar.Publish("counters", expvar.Func(func() interface{} { return Counters() }))
	expvar.Publish("latency", expvar.Func(func() interface{} { return Latencies() }))
}

// Count is a monotonically increasing counter.
type Count struct {
	v int64
}

// Add increments c by one.
func (c *Count) Add() { c.AddN(1) }

// AddN increments c by n.
func (c *Count) AddN(n int64) { atomic.AddInt64(&c.v, n) }

// Value returns the current value of c.
func (c *Count) Value() int64 { return atomic.LoadInt64(&c.v) }

// Counter returns the counter with the given name,
// creating it if necessary.
func Counter(name string) *Count {
	mu.Lock()
	defer mu.Unlock()
	c, ok := counters[name]
	if !ok {
		c = new(Count)
		counters[name] = c
	}
	return c
}

// Counters returns a snapshot of every counter.
func Counters() map[string]int64 {
	mu.Lock()
	defer mu.Unlock()
	m := make(map[string]int64, len(counters))
	for k, c := range counters {
		m[k] = c.Value()
	}
	return m
}

// Latency is a histogram of durations.
type Latency struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

// Record adds d to the histogram.
// Durations outside [1µs, 1m] are clamped.
func (l *Latency) Record(d time.Duration) {
	v := int64(d)
	if v < minLatency {
		v = minLatency
	} else if v > maxLatency {
		v = maxLatency
	}
	l.mu.Lock()
	l.hist.RecordValue(v) // in range, cannot fail
	l.mu.Unlock()
}

// Summary describes a latency histogram.
type Summary struct {
	Count int64
	P50   time.Duration
	P99   time.Duration
	Max   time.Duration
}

// Summary returns the current count and percentiles of l.
func (l *Latency) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Summary{
		Count: l.hist.TotalCount(),
		P50:   time.Duration(l.hist.ValueAtQuantile(50)),
		P99:   time.Duration(l.hist.ValueAtQuantile(99)),
		Max:   time.Duration(l.hist.Max()),
	}
}

// Export returns a serializable snapshot of the histogram.
func (l *Latency) Export() *hdrhistogram.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hist.Export()
}

// LatencyFor returns the latency histogram with the given name,
// creating it if necessary.
func LatencyFor(name string) *Latency {
	mu.Lock()
	defer mu.Unlock()
	l, ok := latencies[name]
	if !ok {
		l = &Latency{hist: hdrhistogram.New(minLatency, maxLatency, sigfigs)}
		latencies[name] = l
	}
	return l
}

// Latencies returns a summary of every latency histogram.
func Latencies() map[string]Summary {
	mu.Lock()
	ls := make(map[string]*Latency, len(latencies))
	for k, l := range latencies {
		ls[k] = l
	}
	mu.Unlock()

	m := make(map[string]Summary, len(ls))
	for k, l := range ls {
		m[k] = l.Summary()
	}
	return m
}

// Names returns the sorted names of all latency histograms.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(latencies))
	for k := range latencies {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// RecordElapsed records the time since t0 in the histogram
// named after the calling function, as pkg.Func.
// It is meant to be deferred:
//
//	defer metrics.RecordElapsed(time.Now())
func RecordElapsed(t0 time.Time) {
	d := time.Since(t0)
	LatencyFor(callerName(1)).Record(d)
}

func callerName(skip int) string {
	pc, _, _, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	name := runtime.FuncForPC(pc).Name()
	// github.com/Bit-Atto/txsc/txsc.Compile -> txsc.Compile
	name = path.Base(name)
	if i := strings.Index(name, ".func"); i > 0 {
		name = name[:i]
	}
	return name
}
