package quant

import (
	"github.com/23skdu/longbow-nnue/internal/tensors"
)

// weight is a deterministic pseudo-random value in roughly [-0.5, 0.5).
func weight(seed, i int) float64 {
	x := uint32(seed)*2654435761 + uint32(i)*40503
	x ^= x >> 13
	x *= 0x5bd1e995
	x ^= x >> 15
	return float64(x%1000)/1000 - 0.5
}

func rawNetwork(neurons, buckets int, factoriser, psqt bool) *tensors.RawNetwork {
	raw := &tensors.RawNetwork{
		PerspectiveWeight: make([][]float64, neurons),
		PerspectiveBias:   make([]float64, neurons),
		OutputWeight:      [][]float64{make([]float64, 2*neurons)},
		OutputBias:        []float64{0.25},
	}
	for n := range raw.PerspectiveWeight {
		row := make([]float64, tensors.InputSize*buckets)
		for f := range row {
			row[f] = weight(1, n*len(row)+f)
		}
		raw.PerspectiveWeight[n] = row
		raw.PerspectiveBias[n] = weight(2, n)
	}
	for i := range raw.OutputWeight[0] {
		raw.OutputWeight[0][i] = weight(3, i)
	}
	if factoriser {
		raw.FactoriserWeight = make([][]float64, neurons)
		raw.FactoriserBias = make([]float64, neurons)
		for n := range raw.FactoriserWeight {
			row := make([]float64, tensors.InputSize)
			for f := range row {
				row[f] = weight(4, n*tensors.InputSize+f) / 4
			}
			raw.FactoriserWeight[n] = row
			raw.FactoriserBias[n] = weight(5, n) / 4
		}
	}
	if psqt {
		row := make([]float64, tensors.PSQTSize)
		for i := range row {
			row[i] = weight(6, i) / 8
		}
		raw.PSQTWeight = [][]float64{row}
	}
	return raw
}
