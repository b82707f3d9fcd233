package nnuefile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/23skdu/longbow-nnue/internal/quant"
	"github.com/23skdu/longbow-nnue/internal/tensors"
)

// File is a decoded unified network file.
type File struct {
	Header  *Header // nil for headerless files
	Layout  Layout
	Network *quant.Network
}

// ReadUnified decodes a unified file with the given layout from r. Narrow
// output weights are widened back to int16. The padding must be zero and
// must be followed by EOF.
func ReadUnified(r io.Reader, headered bool, layout Layout) (*File, error) {
	file := &File{Layout: layout}
	if headered {
		buf := make([]byte, HeaderSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("failed to read header: %w", err)
		}
		file.Header = &Header{}
		if err := file.Header.UnmarshalBinary(buf); err != nil {
			return nil, err
		}
	}

	net := &quant.Network{
		FeatureWeights: make([]int16, layout.FeatureWeightBytes()/2),
		FeatureBias:    make([]int16, layout.BiasSize),
		OutputWeights:  make([]int16, 2*layout.HiddenSize),
		OutputBias:     make([]int16, 1),
		HiddenSize:     layout.HiddenSize,
		Buckets:        layout.Buckets,
	}
	if layout.PSQT {
		net.PSQT = make([]int16, tensors.PSQTSize)
	}

	read := func(name string, data any) error {
		if err := binary.Read(r, binary.LittleEndian, data); err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		return nil
	}

	if err := read("feature weights", net.FeatureWeights); err != nil {
		return nil, err
	}
	if err := read("feature bias", net.FeatureBias); err != nil {
		return nil, err
	}
	if layout.BigOutput {
		if err := read("output weights", net.OutputWeights); err != nil {
			return nil, err
		}
	} else {
		narrow := make([]int8, len(net.OutputWeights))
		if err := read("output weights", narrow); err != nil {
			return nil, err
		}
		for i, v := range narrow {
			net.OutputWeights[i] = int16(v)
		}
	}
	if layout.PSQT {
		if err := read("psqt weights", net.PSQT); err != nil {
			return nil, err
		}
	}
	if err := read("output bias", net.OutputBias); err != nil {
		return nil, err
	}

	pad := make([]byte, layout.Padding())
	if _, err := io.ReadFull(r, pad); err != nil {
		return nil, fmt.Errorf("failed to read padding: %w", err)
	}
	for i, b := range pad {
		if b != 0 {
			return nil, fmt.Errorf("padding byte %d is %#x, want 0", i, b)
		}
	}
	var extra [1]byte
	if n, _ := io.ReadFull(r, extra[:]); n != 0 {
		return nil, errors.New("trailing data after padding")
	}

	file.Network = net
	return file, nil
}

// Inspect decodes a headered unified file. The bucket count is not stored
// in the header, so it is inferred from the file size; the feature bias is
// assumed to hold one entry per hidden neuron.
func Inspect(data []byte) (*File, error) {
	var h Header
	if err := h.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	layout, err := InferLayout(&h, int64(len(data)))
	if err != nil {
		return nil, err
	}
	return ReadUnified(bytes.NewReader(data), true, layout)
}

// InferLayout derives the layout of a headered unified file of the given
// total size.
func InferLayout(h *Header, size int64) (Layout, error) {
	layout := Layout{
		HiddenSize: int(h.HiddenSize),
		BiasSize:   int(h.HiddenSize),
		BigOutput:  h.BigOutput(),
		PSQT:       h.HasPSQT(),
	}
	if layout.HiddenSize == 0 {
		return Layout{}, &HeaderError{Field: "hidden size", Reason: "is zero"}
	}

	fixed := layout.FeatureBiasBytes() + layout.OutputWeightBytes() + layout.PSQTBytes() + layout.OutputBiasBytes()
	block := 2 * int64(tensors.InputSize) * int64(layout.HiddenSize)
	rest := size - HeaderSize - fixed
	if rest < block {
		return Layout{}, fmt.Errorf("file is %d bytes, too short for hidden size %d", size, layout.HiddenSize)
	}
	layout.Buckets = int(rest / block)
	if got := layout.Size(true); got != size {
		return Layout{}, fmt.Errorf("file is %d bytes, but %d buckets of hidden size %d need %d", size, layout.Buckets, layout.HiddenSize, got)
	}
	return layout, nil
}
