package quant

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/23skdu/longbow-nnue/internal/tensors"
)

// Shape is the geometry derived from a RawNetwork.
type Shape struct {
	Neurons int
	Buckets int
	OutSize int
}

// Merged is the perspective layer with the factoriser folded in. Row
// n + b*Neurons holds the 768 weights of neuron n in bucket b.
type Merged struct {
	Shape
	Weights [][]float64
	Bias    []float64
	PSQT    []float64
	Output  []float64
	OutBias float64
}

// DeriveShape checks the tensor dimensions of raw and returns the network
// geometry. No buffers are allocated before this succeeds.
func DeriveShape(raw *tensors.RawNetwork) (Shape, error) {
	neurons := len(raw.PerspectiveWeight)
	if raw.HasFactoriser() {
		neurons = len(raw.FactoriserWeight)
	}
	if neurons == 0 {
		return Shape{}, &ShapeError{Tensor: "perspective.weight", Detail: "network has no neurons"}
	}
	if len(raw.OutputWeight) == 0 {
		return Shape{}, &ShapeError{Tensor: "out.weight", Detail: "no rows"}
	}
	outSize := len(raw.OutputWeight[0])
	if outSize != 2*neurons {
		return Shape{}, &ShapeError{
			Tensor: "out.weight",
			Detail: fmt.Sprintf("there are %d neurons, but out.weight has %d inputs (should be twice as many)", neurons, outSize),
		}
	}

	buckets := 1
	if raw.HasFactoriser() {
		if len(raw.PerspectiveWeight) == 0 {
			return Shape{}, &ShapeError{Tensor: "perspective.weight", Got: 0, Want: neurons}
		}
		if len(raw.FactoriserWeight[0]) == 0 {
			return Shape{}, &ShapeError{Tensor: "factoriser.weight", Detail: "rows are empty"}
		}
		buckets = len(raw.PerspectiveWeight[0]) / len(raw.FactoriserWeight[0])
		if buckets == 0 {
			return Shape{}, &ShapeError{
				Tensor: "perspective.weight",
				Detail: fmt.Sprintf("row length %d is shorter than a factoriser row (%d)", len(raw.PerspectiveWeight[0]), len(raw.FactoriserWeight[0])),
			}
		}
	}

	s := Shape{Neurons: neurons, Buckets: buckets, OutSize: outSize}
	if err := s.check(raw); err != nil {
		return Shape{}, err
	}
	return s, nil
}

func (s Shape) check(raw *tensors.RawNetwork) error {
	if len(raw.PerspectiveWeight) != s.Neurons {
		return &ShapeError{Tensor: "perspective.weight", Detail: fmt.Sprintf("has %d rows but the factoriser has %d neurons", len(raw.PerspectiveWeight), s.Neurons)}
	}
	rowLen := tensors.InputSize * s.Buckets
	for i, row := range raw.PerspectiveWeight {
		if len(row) != rowLen {
			return &ShapeError{Tensor: fmt.Sprintf("perspective.weight[%d]", i), Got: len(row), Want: rowLen}
		}
	}
	if raw.HasFactoriser() {
		for i, row := range raw.FactoriserWeight {
			if len(row) != tensors.InputSize {
				return &ShapeError{Tensor: fmt.Sprintf("factoriser.weight[%d]", i), Got: len(row), Want: tensors.InputSize}
			}
		}
	}
	if raw.FactoriserBias != nil && len(raw.FactoriserBias) != s.Neurons {
		return &ShapeError{Tensor: "factoriser.bias", Got: len(raw.FactoriserBias), Want: s.Neurons}
	}

	pb := len(raw.PerspectiveBias)
	if pb != s.Neurons && pb != s.Neurons*s.Buckets {
		return &ShapeError{
			Tensor: "perspective.bias",
			Detail: fmt.Sprintf("length %d is neither %d neurons nor %d neurons*buckets", pb, s.Neurons, s.Neurons*s.Buckets),
		}
	}

	if len(raw.OutputWeight) != 1 {
		return &ShapeError{Tensor: "out.weight", Detail: fmt.Sprintf("has %d rows, only a single output bucket is supported", len(raw.OutputWeight))}
	}
	if len(raw.OutputBias) != 1 {
		return &ShapeError{Tensor: "out.bias", Got: len(raw.OutputBias), Want: 1}
	}
	if raw.HasPSQT() {
		if len(raw.PSQTWeight) == 0 || len(raw.PSQTWeight[0]) != tensors.PSQTSize {
			got := 0
			if len(raw.PSQTWeight) > 0 {
				got = len(raw.PSQTWeight[0])
			}
			return &ShapeError{Tensor: "psqt.weight[0]", Got: got, Want: tensors.PSQTSize}
		}
	}
	return nil
}

// Merge folds the factoriser into every bucket and restacks the buckets as
// independent neurons. raw is not modified.
func Merge(raw *tensors.RawNetwork) (*Merged, error) {
	s, err := DeriveShape(raw)
	if err != nil {
		return nil, err
	}

	m := &Merged{
		Shape:   s,
		Weights: make([][]float64, s.Neurons*s.Buckets),
		Bias:    make([]float64, len(raw.PerspectiveBias)),
		Output:  make([]float64, s.OutSize),
		OutBias: raw.OutputBias[0],
	}

	for n, row := range raw.PerspectiveWeight {
		for b := 0; b < s.Buckets; b++ {
			chunk := make([]float64, tensors.InputSize)
			copy(chunk, row[b*tensors.InputSize:(b+1)*tensors.InputSize])
			if raw.HasFactoriser() {
				floats.Add(chunk, raw.FactoriserWeight[n])
			}
			m.Weights[n+b*s.Neurons] = chunk
		}
	}

	copy(m.Bias, raw.PerspectiveBias)
	if raw.FactoriserBias != nil {
		for i := range m.Bias {
			m.Bias[i] += raw.FactoriserBias[i%s.Neurons]
		}
	}

	copy(m.Output, raw.OutputWeight[0])
	if raw.HasPSQT() {
		m.PSQT = make([]float64, tensors.PSQTSize)
		copy(m.PSQT, raw.PSQTWeight[0])
	}
	return m, nil
}

// Range returns the smallest and largest merged feature weight.
func (m *Merged) Range() (lo, hi float64) {
	if len(m.Weights) == 0 {
		return 0, 0
	}
	lo, hi = floats.Min(m.Weights[0]), floats.Max(m.Weights[0])
	for _, row := range m.Weights[1:] {
		lo = min(lo, floats.Min(row))
		hi = max(hi, floats.Max(row))
	}
	return lo, hi
}
