// Package emit serializes resolved linear instructions as
// Bitcoin script, and reads serialized scripts back.
package emit

import (
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog"

	"github.com/Bit-Atto/txsc/errors"
	"github.com/Bit-Atto/txsc/txsc/linear"
)

var (
	// ErrUnresolved means a named reference was left
	// in a program being serialized.
	ErrUnresolved = errors.New("unresolved reference")

	ErrUnsupported = errors.New("unsupported opcode")
	ErrScript      = errors.New("invalid script")
	ErrNet         = errors.New("unknown network")

	// ErrExecute means a script failed when run by the script engine.
	ErrExecute = errors.New("script execution failed")
)

// Script serializes ins. Data pushes use the shortest encoding and
// inner scripts are serialized and pushed as data.
func Script(ins linear.Instructions) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	for i, in := range ins {
		switch in := in.(type) {
		case *linear.Op:
			b.AddOp(in.Code)
		case *linear.Push:
			b.AddData(in.Data)
		case *linear.InnerScript:
			inner, err := Script(in.Ops)
			if err != nil {
				return nil, errors.Wrapf(err, "inner script at %d", i)
			}
			b.AddData(inner)
		default:
			return nil, errors.WithData(ErrUnresolved, "index", i, "instruction", in.String())
		}
	}
	script, err := b.Script()
	if err != nil {
		return nil, errors.Sub(ErrScript, err)
	}
	return script, nil
}

// Decode parses a serialized script. Every data push
// becomes a Push, including pushes of serialized scripts.
func Decode(script []byte) (linear.Instructions, error) {
	var ins linear.Instructions
	tok := txscript.MakeScriptTokenizer(0, script)
	for tok.Next() {
		code := tok.Opcode()
		if code >= txscript.OP_DATA_1 && code <= txscript.OP_PUSHDATA4 {
			ins = append(ins, linear.NewPush(append([]byte{}, tok.Data()...)))
			continue
		}
		if _, ok := linear.Lookup(code); !ok {
			return nil, errors.WithData(ErrUnsupported, "offset", tok.ByteIndex(), "opcode", code)
		}
		ins = append(ins, linear.NewOp(code))
	}
	if err := tok.Err(); err != nil {
		return nil, errors.Sub(ErrScript, err)
	}
	return ins, nil
}

// DecodeString decodes a hex-encoded script.
func DecodeString(s string) (linear.Instructions, error) {
	script, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, errors.Sub(ErrScript, err)
	}
	return Decode(script)
}

// Disasm returns the one-line disassembly of script.
func Disasm(script []byte) (string, error) {
	s, err := txscript.DisasmString(script)
	if err != nil {
		return "", errors.Sub(ErrScript, err)
	}
	return s, nil
}

// Hash returns the HASH160 of script, the hash
// a pay-to-script-hash output commits to.
func Hash(script []byte) []byte {
	return btcutil.Hash160(script)
}

var nets = map[string]*chaincfg.Params{
	"mainnet":  &chaincfg.MainNetParams,
	"testnet3": &chaincfg.TestNet3Params,
	"regtest":  &chaincfg.RegressionNetParams,
	"simnet":   &chaincfg.SimNetParams,
	"signet":   &chaincfg.SigNetParams,
}

// Net returns the parameters of the named network.
func Net(name string) (*chaincfg.Params, error) {
	p, ok := nets[strings.ToLower(name)]
	if !ok {
		return nil, errors.WithData(ErrNet, "name", name)
	}
	return p, nil
}

// P2SH is a pay-to-script-hash output for a redeem script.
type P2SH struct {
	Hash     []byte
	PkScript []byte
	Address  string
}

// PayToScriptHash returns the output that pays to
// redeemScript on the given network.
func PayToScriptHash(redeemScript []byte, net *chaincfg.Params) (*P2SH, error) {
	addr, err := btcutil.NewAddressScriptHash(redeemScript, net)
	if err != nil {
		return nil, errors.Wrap(err, "script hash address")
	}
	pk, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, errors.Wrap(err, "pay to address script")
	}
	return &P2SH{
		Hash:     addr.ScriptAddress(),
		PkScript: pk,
		Address:  addr.EncodeAddress(),
	}, nil
}

// UseLogger sets the logger the script engine
// writes execution traces to.
func UseLogger(l btclog.Logger) {
	txscript.UseLogger(l)
}

// Execute runs pkScript as the output script spent by an input
// with signature script sigScript, which must only push data.
func Execute(pkScript, sigScript []byte) error {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, sigScript, nil))
	tx.AddTxOut(wire.NewTxOut(0, nil))

	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, 0)
	vm, err := txscript.NewEngine(pkScript, tx, 0, txscript.ScriptVerifySigPushOnly, nil, nil, 0, fetcher)
	if err != nil {
		return errors.Sub(ErrExecute, err)
	}
	if err := vm.Execute(); err != nil {
		return errors.Sub(ErrExecute, err)
	}
	return nil
}
