// Package quant merges factoriser weights into bucketed feature weights and
// converts every tensor to the fixed-point integers the evaluator consumes.
package quant

import (
	"math"

	"github.com/23skdu/longbow-nnue/internal/tensors"
)

// Params are the fixed-point scales. Feature weights and bias use QA, output
// weights use QB, and the output bias and PSQT use QA*QB.
type Params struct {
	QA int
	QB int
}

func DefaultParams() Params {
	return Params{QA: 255, QB: 64}
}

// Network is the quantised network, ready for serialization. Feature weights
// are stored feature-major inside each bucket block; output weights are
// stored as-is.
type Network struct {
	FeatureWeights []int16
	FeatureBias    []int16
	OutputWeights  []int16
	OutputBias     []int16
	PSQT           []int16

	HiddenSize int
	Buckets    int
}

func (n *Network) HasBuckets() bool { return n.Buckets > 1 }

func (n *Network) HasPSQT() bool { return n.PSQT != nil }

// Quantise converts v*scale to int16 by truncating toward zero. Reference
// networks are produced with truncation, so this must not round.
func Quantise(v float64, scale int) (int16, bool) {
	x := math.Trunc(v * float64(scale))
	if math.IsNaN(x) || x < math.MinInt16 || x > math.MaxInt16 {
		return 0, false
	}
	return int16(x), true
}

func quantiseInto(dst []int16, src []float64, scale int, tensor string, index func(int) int) error {
	for i, v := range src {
		q, ok := Quantise(v, scale)
		if !ok {
			return &RangeError{Tensor: tensor, Index: index(i), Value: v, Scale: scale}
		}
		dst[index(i)] = q
	}
	return nil
}

func identity(i int) int { return i }

// Convert runs the full merge and quantisation of raw.
func Convert(raw *tensors.RawNetwork, p Params) (*Network, error) {
	m, err := Merge(raw)
	if err != nil {
		return nil, err
	}
	return QuantiseMerged(m, p)
}

// QuantiseMerged lays out and quantises an already merged network.
func QuantiseMerged(m *Merged, p Params) (*Network, error) {
	neurons := m.Neurons
	block := tensors.InputSize * neurons

	net := &Network{
		FeatureWeights: make([]int16, block*m.Buckets),
		FeatureBias:    make([]int16, len(m.Bias)),
		OutputWeights:  make([]int16, m.OutSize),
		OutputBias:     make([]int16, 1),
		HiddenSize:     neurons,
		Buckets:        m.Buckets,
	}

	for r, row := range m.Weights {
		n, b := r%neurons, r/neurons
		base := b * block
		err := quantiseInto(net.FeatureWeights, row, p.QA, "feature weights", func(f int) int {
			return base + f*neurons + n
		})
		if err != nil {
			return nil, err
		}
	}

	if err := quantiseInto(net.FeatureBias, m.Bias, p.QA, "feature bias", identity); err != nil {
		return nil, err
	}
	if err := quantiseInto(net.OutputWeights, m.Output, p.QB, "output weights", identity); err != nil {
		return nil, err
	}
	if err := quantiseInto(net.OutputBias, []float64{m.OutBias}, p.QA*p.QB, "output bias", identity); err != nil {
		return nil, err
	}
	if m.PSQT != nil {
		net.PSQT = make([]int16, len(m.PSQT))
		if err := quantiseInto(net.PSQT, m.PSQT, p.QA*p.QB, "psqt", identity); err != nil {
			return nil, err
		}
	}
	return net, nil
}
