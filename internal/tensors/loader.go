// Package tensors extracts the named weight tensors of an NNUE from the
// JSON document a trainer dumps.
//
// Example document:
//
//	{
//	    "perspective.weight": [[...], ...],
//	    "perspective.bias": [...],
//	    "factoriser.weight": [[...], ...],
//	    "factoriser.bias": [...],
//	    "psqt.weight": [[...]],
//	    "out.weight": [[...]],
//	    "out.bias": [...]
//	}
//
// The factoriser and psqt fields are optional. "ft.*" is accepted for the
// feature layer and "fft.*" for the factoriser.
package tensors

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

const (
	// InputSize is the number of board features seen by one perspective.
	InputSize = 768
	// PSQTSize is one value per (square, piece) pair.
	PSQTSize = 64 * 12
)

const (
	featureAlias    = "ft"
	factoriserName  = "factoriser"
	factoriserAlias = "fft"
	psqtName        = "psqt"
)

type Mode int

const (
	ModeRich Mode = iota
	ModeStrict
)

func (m Mode) String() string {
	switch m {
	case ModeRich:
		return "rich"
	case ModeStrict:
		return "strict"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Options selects the loader contract and the layer key prefixes.
type Options struct {
	Mode        Mode
	FeatureName string
	OutputName  string
}

func DefaultOptions() Options {
	return Options{Mode: ModeRich, FeatureName: "perspective", OutputName: "out"}
}

// RawNetwork holds the floating point tensors as trained. Optional tensors
// are nil when absent.
type RawNetwork struct {
	PerspectiveWeight [][]float64
	PerspectiveBias   []float64
	FactoriserWeight  [][]float64
	FactoriserBias    []float64
	PSQTWeight        [][]float64
	OutputWeight      [][]float64
	OutputBias        []float64
}

func (n *RawNetwork) HasFactoriser() bool { return n.FactoriserWeight != nil }

func (n *RawNetwork) HasPSQT() bool { return n.PSQTWeight != nil }

// Describe returns tensor shapes keyed by canonical name for logging.
func (n *RawNetwork) Describe() map[string]string {
	d := map[string]string{
		"perspective.weight": matrixShape(n.PerspectiveWeight),
		"perspective.bias":   fmt.Sprintf("[%d]", len(n.PerspectiveBias)),
		"out.weight":         matrixShape(n.OutputWeight),
		"out.bias":           fmt.Sprintf("[%d]", len(n.OutputBias)),
	}
	if n.FactoriserWeight != nil {
		d["factoriser.weight"] = matrixShape(n.FactoriserWeight)
	}
	if n.FactoriserBias != nil {
		d["factoriser.bias"] = fmt.Sprintf("[%d]", len(n.FactoriserBias))
	}
	if n.PSQTWeight != nil {
		d["psqt.weight"] = matrixShape(n.PSQTWeight)
	}
	return d
}

func matrixShape(m [][]float64) string {
	if len(m) == 0 {
		return "[0][0]"
	}
	return fmt.Sprintf("[%d][%d]", len(m), len(m[0]))
}

// document is the top level object with keys kept in source order.
type document struct {
	keys   []string
	fields map[string]json.RawMessage
}

func parseDocument(data []byte) (*document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, &ParseError{Offset: dec.InputOffset(), Err: err}
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, &ParseError{Offset: dec.InputOffset(), Err: fmt.Errorf("top level is %v, want an object", tok)}
	}

	doc := &document{fields: make(map[string]json.RawMessage)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, &ParseError{Offset: dec.InputOffset(), Err: err}
		}
		key, ok := tok.(string)
		if !ok {
			return nil, &ParseError{Offset: dec.InputOffset(), Err: fmt.Errorf("expected object key, got %v", tok)}
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, &ParseError{Offset: dec.InputOffset(), Err: fmt.Errorf("value of %q: %w", key, err)}
		}
		if _, seen := doc.fields[key]; seen {
			return nil, &SchemaError{Key: key, Reason: "duplicate field in weight JSON"}
		}
		doc.keys = append(doc.keys, key)
		doc.fields[key] = raw
	}
	if _, err := dec.Token(); err != nil {
		return nil, &ParseError{Offset: dec.InputOffset(), Err: err}
	}
	return doc, nil
}

// lookup returns the first of names present in the document.
func (d *document) lookup(names ...string) (string, json.RawMessage, bool) {
	for _, name := range names {
		if raw, ok := d.fields[name]; ok {
			return name, raw, true
		}
	}
	return "", nil, false
}

// suggest guesses which key the caller meant by swapping in the prefix of the
// document's first key. Only keys that exist are suggested.
func (d *document) suggest(missing string) string {
	if len(d.keys) == 0 {
		return ""
	}
	prefix, _, _ := strings.Cut(d.keys[0], ".")
	_, suffix, found := strings.Cut(missing, ".")
	if !found {
		return ""
	}
	candidate := prefix + "." + suffix
	if candidate == missing {
		return ""
	}
	if _, ok := d.fields[candidate]; !ok {
		return ""
	}
	return candidate
}

func (d *document) missing(key string) error {
	return &SchemaError{Key: key, Reason: "missing from weight JSON", Suggestion: d.suggest(key)}
}

func (d *document) matrix(required bool, names ...string) ([][]float64, error) {
	key, raw, ok := d.lookup(names...)
	if !ok {
		if required {
			return nil, d.missing(names[0])
		}
		return nil, nil
	}
	var m [][]float64
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &SchemaError{Key: key, Reason: fmt.Sprintf("expected a matrix of numbers: %v", err)}
	}
	if m == nil {
		return nil, &SchemaError{Key: key, Reason: "expected a matrix of numbers, got null"}
	}
	return m, nil
}

func (d *document) vector(required bool, names ...string) ([]float64, error) {
	key, raw, ok := d.lookup(names...)
	if !ok {
		if required {
			return nil, d.missing(names[0])
		}
		return nil, nil
	}
	var v []float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &SchemaError{Key: key, Reason: fmt.Sprintf("expected a vector of numbers: %v", err)}
	}
	if v == nil {
		return nil, &SchemaError{Key: key, Reason: "expected a vector of numbers, got null"}
	}
	return v, nil
}

// Load parses a weight document according to opts.Mode.
func Load(data []byte, opts Options) (*RawNetwork, error) {
	if opts.FeatureName == "" {
		opts.FeatureName = "perspective"
	}
	if opts.OutputName == "" {
		opts.OutputName = "out"
	}

	doc, err := parseDocument(data)
	if err != nil {
		return nil, err
	}

	switch opts.Mode {
	case ModeStrict:
		return loadStrict(doc, opts)
	case ModeRich:
		return loadRich(doc, opts)
	default:
		return nil, fmt.Errorf("unknown loader mode %v", opts.Mode)
	}
}

func loadStrict(doc *document, opts Options) (*RawNetwork, error) {
	want := []string{
		opts.FeatureName + ".weight",
		opts.FeatureName + ".bias",
		opts.OutputName + ".weight",
		opts.OutputName + ".bias",
	}
	if len(doc.keys) != len(want) {
		return nil, &SchemaError{
			Reason: fmt.Sprintf("expected exactly %d fields (%s), found %d (%s)",
				len(want), strings.Join(want, ", "), len(doc.keys), strings.Join(doc.keys, ", ")),
		}
	}

	net := &RawNetwork{}
	var err error
	if net.PerspectiveWeight, err = doc.matrix(true, want[0]); err != nil {
		return nil, err
	}
	if net.PerspectiveBias, err = doc.vector(true, want[1]); err != nil {
		return nil, err
	}
	if net.OutputWeight, err = doc.matrix(true, want[2]); err != nil {
		return nil, err
	}
	if net.OutputBias, err = doc.vector(true, want[3]); err != nil {
		return nil, err
	}
	return net, nil
}

func loadRich(doc *document, opts Options) (*RawNetwork, error) {
	ft, out := opts.FeatureName, opts.OutputName
	net := &RawNetwork{}
	var err error

	if net.PerspectiveWeight, err = doc.matrix(true, ft+".weight", featureAlias+".weight"); err != nil {
		return nil, err
	}
	if net.PerspectiveBias, err = doc.vector(true, ft+".bias", featureAlias+".bias"); err != nil {
		return nil, err
	}
	if net.FactoriserWeight, err = doc.matrix(false, factoriserName+".weight", factoriserAlias+".weight"); err != nil {
		return nil, err
	}
	if net.FactoriserBias, err = doc.vector(false, factoriserName+".bias", factoriserAlias+".bias"); err != nil {
		return nil, err
	}
	if net.PSQTWeight, err = doc.matrix(false, psqtName+".weight"); err != nil {
		return nil, err
	}
	if net.OutputWeight, err = doc.matrix(true, out+".weight"); err != nil {
		return nil, err
	}
	if net.OutputBias, err = doc.vector(true, out+".bias"); err != nil {
		return nil, err
	}
	return net, nil
}
