package nnuefile

import (
	"github.com/23skdu/longbow-nnue/internal/quant"
	"github.com/23skdu/longbow-nnue/internal/tensors"
)

// Layout gives the byte size of every section of a unified file.
type Layout struct {
	HiddenSize int
	Buckets    int
	BiasSize   int // feature bias entries, usually HiddenSize
	BigOutput  bool
	PSQT       bool
}

func LayoutOf(net *quant.Network, bigOutput bool) Layout {
	return Layout{
		HiddenSize: net.HiddenSize,
		Buckets:    net.Buckets,
		BiasSize:   len(net.FeatureBias),
		BigOutput:  bigOutput,
		PSQT:       net.HasPSQT(),
	}
}

func (l Layout) FeatureWeightBytes() int64 {
	return 2 * int64(tensors.InputSize) * int64(l.HiddenSize) * int64(l.Buckets)
}

func (l Layout) FeatureBiasBytes() int64 { return 2 * int64(l.BiasSize) }

func (l Layout) OutputWeightBytes() int64 {
	if l.BigOutput {
		return 2 * 2 * int64(l.HiddenSize)
	}
	return 2 * int64(l.HiddenSize)
}

func (l Layout) PSQTBytes() int64 {
	if !l.PSQT {
		return 0
	}
	return 2 * tensors.PSQTSize
}

func (l Layout) OutputBiasBytes() int64 { return 2 }

// PayloadSize is the length of all sections without header or padding.
func (l Layout) PayloadSize() int64 {
	return l.FeatureWeightBytes() + l.FeatureBiasBytes() + l.OutputWeightBytes() + l.PSQTBytes() + l.OutputBiasBytes()
}

func (l Layout) Padding() int64 { return padding(l.PayloadSize()) }

// Size is the total length of a unified file with this layout.
func (l Layout) Size(headered bool) int64 {
	n := l.PayloadSize() + l.Padding()
	if headered {
		n += HeaderSize
	}
	return n
}

func padding(payload int64) int64 {
	return (Alignment - payload%Alignment) % Alignment
}
