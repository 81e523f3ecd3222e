// Command txsc compiles linear Bitcoin Script with named stack values.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"sort"

	"github.com/btcsuite/btclog"

	"github.com/Bit-Atto/txsc/env"
	"github.com/Bit-Atto/txsc/errors"
	"github.com/Bit-Atto/txsc/log"
	"github.com/Bit-Atto/txsc/metrics"
	"github.com/Bit-Atto/txsc/txsc"
	"github.com/Bit-Atto/txsc/txsc/emit"
	"github.com/Bit-Atto/txsc/txsc/linear"
	"github.com/Bit-Atto/txsc/txsc/optimize"
)

const help = `Usage: txsc [flags] [file...]

Command txsc reads programs from the named files, or from stdin
if there are none, compiles each one and prints the result.

A program is assembly with named values:

	stack(sig, pubkey)
	func(check, h) { HASH160 var(h) EQUALVERIFY }
	assume(pubkey) DUP call(check) { 0x... } assume(sig) SWAP CHECKSIG

With -x the input is a serialized script in hex instead.

With -exec each compiled script is run by the script engine
against a spending input that pushes the given values, for
example -exec "0x3045... 0x02...". With -v the engine traces
each step to stderr.

Exit code 0 indicates success.
Exit code 1 indicates a compile error.
Exit code 2 indicates a usage or I/O error.

Environment variables set the defaults of the matching flags:
TXSC_ALLOW_INVALID_COMPARISONS, TXSC_ALTSTACK, TXSC_PEEPHOLE,
TXSC_INLINE, TXSC_NET and TXSC_VERBOSE.

Flags:
`

var (
	allowInvalid = env.Bool("TXSC_ALLOW_INVALID_COMPARISONS", false)
	altStack     = env.Bool("TXSC_ALTSTACK", true)
	peephole     = env.Bool("TXSC_PEEPHOLE", true)
	inlineNames  = env.Bool("TXSC_INLINE", true)
	netName      = env.String("TXSC_NET", "mainnet")
	verbose      = env.Bool("TXSC_VERBOSE", false)
)

var (
	flagFormat = flag.String("f", "hex", "output `format`: hex, asm or ir")
	flagHex    = flag.Bool("x", false, "read serialized scripts in hex")
	flagP2SH   = flag.Bool("p2sh", false, "also print the pay-to-script-hash output")
	flagRules  = flag.Bool("rules", false, "list the peephole rules and exit")
	flagExec   = flag.String("exec", "", "run each script against the pushed `values`")
)

func main() {
	env.Parse()
	flag.BoolVar(allowInvalid, "allow-invalid-comparisons", *allowInvalid, "allow hash comparisons against literals of the wrong size")
	flag.BoolVar(altStack, "altstack", *altStack, "move values read after uneven conditionals to the alt stack")
	flag.BoolVar(peephole, "peephole", *peephole, "run peephole optimizations")
	flag.BoolVar(inlineNames, "inline", *inlineNames, "resolve names to stack operations")
	flag.StringVar(netName, "net", *netName, "`network` for -p2sh addresses")
	flag.BoolVar(verbose, "v", *verbose, "log to stderr and print metrics")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, help)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *flagRules {
		printRules(os.Stdout)
		return
	}
	switch *flagFormat {
	case "hex", "asm", "ir":
	default:
		flag.Usage()
		os.Exit(2)
	}
	if !*inlineNames && *flagFormat != "ir" {
		fmt.Fprintln(os.Stderr, "txsc: -inline=false needs -f ir")
		os.Exit(2)
	}
	net, err := emit.Net(*netName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "txsc:", errors.Diagnostic(err))
		os.Exit(2)
	}

	log.SetOutput(ioutil.Discard)
	if *verbose {
		log.SetOutput(os.Stderr)
		l := btclog.NewBackend(os.Stderr).Logger("SCRP")
		l.SetLevel(btclog.LevelTrace)
		emit.UseLogger(l)
	}

	var sigScript []byte
	if *flagExec != "" {
		sigScript, err = pushes(*flagExec)
		if err != nil {
			fmt.Fprintln(os.Stderr, "txsc: -exec:", errors.Diagnostic(err))
			os.Exit(2)
		}
	}

	srcs, err := readSources(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, "txsc:", err)
		os.Exit(2)
	}

	opts := linear.DefaultOptions()
	opts.AllowInvalidComparisons = *allowInvalid
	opts.UseAltStackForAssumptions = *altStack
	opts.PeepholeOptimizations = *peephole
	opts.InlineAssumptions = *inlineNames

	results, err := txsc.CompileAll(context.Background(), srcs, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "txsc:", errors.Diagnostic(err))
		if d := errors.Detail(err); d != "" {
			fmt.Fprintln(os.Stderr, d)
		}
		os.Exit(1)
	}

	for _, res := range results {
		prefix := ""
		if len(results) > 1 {
			prefix = res.Name + ": "
		}
		out, err := format(res, *flagFormat)
		if err != nil {
			fmt.Fprintln(os.Stderr, "txsc:", err)
			os.Exit(1)
		}
		fmt.Println(prefix + out)

		if *flagP2SH && res.Script != nil {
			p, err := emit.PayToScriptHash(res.Script, net)
			if err != nil {
				fmt.Fprintln(os.Stderr, "txsc:", err)
				os.Exit(1)
			}
			fmt.Printf("%shash160 %x\n", prefix, p.Hash)
			fmt.Printf("%soutput %x\n", prefix, p.PkScript)
			fmt.Printf("%saddress %s\n", prefix, p.Address)
		}

		if *flagExec != "" && res.Script != nil {
			if err := emit.Execute(res.Script, sigScript); err != nil {
				fmt.Fprintf(os.Stderr, "txsc: %s%s\n", prefix, errors.Diagnostic(err))
				os.Exit(1)
			}
			fmt.Printf("%sexec ok\n", prefix)
		}
	}

	if *verbose {
		printMetrics(os.Stderr)
	}
}

func readSources(names []string) ([]txsc.Source, error) {
	if len(names) == 0 {
		data, err := ioutil.ReadAll(os.Stdin)
		if err != nil {
			return nil, err
		}
		return []txsc.Source{{Name: "-", Text: string(data), Hex: *flagHex}}, nil
	}
	var srcs []txsc.Source
	for _, name := range names {
		data, err := ioutil.ReadFile(name)
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, txsc.Source{Name: name, Text: string(data), Hex: *flagHex})
	}
	return srcs, nil
}

// pushes assembles values into a signature script.
// Only literal pushes and small integers are accepted.
func pushes(values string) ([]byte, error) {
	ins, err := linear.Assemble(values)
	if err != nil {
		return nil, err
	}
	for i, in := range ins {
		if _, ok := linear.Literal(in); !ok {
			return nil, errors.WithDetailf(errUsage, "%s at %d is not a push", in, i)
		}
	}
	return emit.Script(ins)
}

var errUsage = errors.New("invalid flag value")

func format(res *txsc.Result, f string) (string, error) {
	switch f {
	case "asm":
		return emit.Disasm(res.Script)
	case "ir":
		return res.Ops.String(), nil
	}
	return hex.EncodeToString(res.Script), nil
}

func printRules(w io.Writer) {
	for _, r := range optimize.Rules() {
		fmt.Fprintln(w, r.Name)
		for _, f := range r.Forms {
			fmt.Fprintln(w, "\t"+f)
		}
	}
}

func printMetrics(w io.Writer) {
	counters := metrics.Counters()
	names := make([]string, 0, len(counters))
	for k := range counters {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(w, "%s %d\n", k, counters[k])
	}
	latencies := metrics.Latencies()
	for _, k := range metrics.Names() {
		s := latencies[k]
		fmt.Fprintf(w, "%s n=%d p50=%s p99=%s max=%s\n", k, s.Count, s.P50, s.P99, s.Max)
	}
}
