// Package arrowdump exports quantised networks as Arrow IPC files so the
// fixed-point buffers can be examined with any Arrow-aware tool.
package arrowdump

import (
	"fmt"
	"io"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-nnue/internal/nnuefile"
	"github.com/23skdu/longbow-nnue/internal/quant"
)

// Tensor is one named buffer of a quantised network.
type Tensor struct {
	Name   string
	Values []int16
}

// Tensors lists the buffers of net in unified file order.
func Tensors(net *quant.Network) []Tensor {
	ts := []Tensor{
		{"feature_weights", net.FeatureWeights},
		{"feature_bias", net.FeatureBias},
		{"output_weights", net.OutputWeights},
	}
	if net.HasPSQT() {
		ts = append(ts, Tensor{"psqt_weights", net.PSQT})
	}
	return append(ts, Tensor{"output_bias", net.OutputBias})
}

func schema(net *quant.Network) *arrow.Schema {
	md := arrow.NewMetadata(
		[]string{"hidden_size", "buckets"},
		[]string{strconv.Itoa(net.HiddenSize), strconv.Itoa(net.Buckets)},
	)
	return arrow.NewSchema([]arrow.Field{
		{Name: "tensor", Type: arrow.BinaryTypes.String},
		{Name: "values", Type: arrow.ListOf(arrow.PrimitiveTypes.Int16)},
	}, &md)
}

// Write encodes net as an Arrow IPC file with one row per tensor.
func Write(w io.Writer, net *quant.Network, mem memory.Allocator) error {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	sc := schema(net)

	b := array.NewRecordBuilder(mem, sc)
	defer b.Release()

	names := b.Field(0).(*array.StringBuilder)
	lists := b.Field(1).(*array.ListBuilder)
	values := lists.ValueBuilder().(*array.Int16Builder)
	for _, t := range Tensors(net) {
		names.Append(t.Name)
		lists.Append(true)
		values.AppendValues(t.Values, nil)
	}

	rec := b.NewRecord()
	defer rec.Release()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(sc), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("failed to create arrow writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to write arrow record: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to close arrow writer: %w", err)
	}
	return nil
}

// WriteFile writes the Arrow dump of net to path and returns its size. The
// dump is staged under a temporary name and renamed into place once complete.
func WriteFile(path string, net *quant.Network) (int64, error) {
	var b nnuefile.Batch
	if err := Stage(&b, path, net); err != nil {
		return 0, err
	}
	files, err := b.Commit()
	if err != nil {
		return 0, err
	}
	return files[0].Size, nil
}

// Stage adds the Arrow dump of net at path to b.
func Stage(b *nnuefile.Batch, path string, net *quant.Network) error {
	err := b.Stage(path, func(w io.Writer) error { return Write(w, net, nil) })
	if err != nil {
		return fmt.Errorf("failed to write arrow dump: %w", err)
	}
	return nil
}

// Read decodes every tensor of an Arrow dump.
func Read(r ipc.ReadAtSeeker, mem memory.Allocator) ([]Tensor, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	fr, err := ipc.NewFileReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("failed to open arrow dump: %w", err)
	}
	defer fr.Close()

	var out []Tensor
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read record %d: %w", i, err)
		}
		names, ok := rec.Column(0).(*array.String)
		if !ok {
			return nil, fmt.Errorf("record %d: tensor column is %s, want utf8", i, rec.Column(0).DataType())
		}
		lists, ok := rec.Column(1).(*array.List)
		if !ok {
			return nil, fmt.Errorf("record %d: values column is %s, want list<int16>", i, rec.Column(1).DataType())
		}
		values, ok := lists.ListValues().(*array.Int16)
		if !ok {
			return nil, fmt.Errorf("record %d: list values are %s, want int16", i, lists.ListValues().DataType())
		}

		raw := values.Int16Values()
		for row := 0; row < int(rec.NumRows()); row++ {
			start, end := lists.ValueOffsets(row)
			t := Tensor{Name: names.Value(row), Values: make([]int16, end-start)}
			copy(t.Values, raw[start:end])
			out = append(out, t)
		}
	}
	return out, nil
}
