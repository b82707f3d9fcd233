package nnuefile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/23skdu/longbow-nnue/internal/quant"
)

// Split layout file names.
const (
	FeatureWeightsFile = "feature_weights.bin"
	FeatureBiasFile    = "feature_bias.bin"
	OutputWeightsFile  = "output_weights.bin"
	OutputBiasFile     = "output_bias.bin"
	PSQTWeightsFile    = "psqt_weights.bin"
)

// Narrow converts weights to int8, failing on the first value outside
// [-128, 127]. weights is not modified.
func Narrow(weights []int16) ([]int8, error) {
	out := make([]int8, len(weights))
	for i, v := range weights {
		if v < -128 || v > 127 {
			return nil, &OverflowError{Index: i, Value: v}
		}
		out[i] = int8(v)
	}
	return out, nil
}

type section struct {
	name string
	file string
	data any // []int16 or []int8
}

// sections returns the buffers of net in unified order: feature weights,
// feature bias, output weights, PSQT, output bias.
func sections(net *quant.Network, opts Options) ([]section, error) {
	var ow any = net.OutputWeights
	if !opts.BigOutput {
		narrow, err := Narrow(net.OutputWeights)
		if err != nil {
			return nil, err
		}
		ow = narrow
	}

	secs := []section{
		{"feature weights", FeatureWeightsFile, net.FeatureWeights},
		{"feature bias", FeatureBiasFile, net.FeatureBias},
		{"output weights", OutputWeightsFile, ow},
	}
	if net.HasPSQT() {
		secs = append(secs, section{"psqt weights", PSQTWeightsFile, net.PSQT})
	}
	return append(secs, section{"output bias", OutputBiasFile, net.OutputBias}), nil
}

func encodeHeader(net *quant.Network, opts Options) ([]byte, error) {
	if !opts.Header {
		return nil, nil
	}
	h, err := NewHeader(net, opts)
	if err != nil {
		return nil, err
	}
	return h.MarshalBinary()
}

// WriteUnified writes the single-file layout of net to w and returns the
// number of bytes written. Nothing is written if the header or the narrowing
// of the output weights fails.
func WriteUnified(w io.Writer, net *quant.Network, opts Options) (int64, error) {
	header, err := encodeHeader(net, opts)
	if err != nil {
		return 0, err
	}
	secs, err := sections(net, opts)
	if err != nil {
		return 0, err
	}
	cw := &countingWriter{w: w}
	err = writeUnified(cw, header, secs)
	return cw.n, err
}

func writeUnified(w *countingWriter, header []byte, secs []section) error {
	if len(header) > 0 {
		if _, err := w.Write(header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	for _, s := range secs {
		if err := binary.Write(w, binary.LittleEndian, s.data); err != nil {
			return fmt.Errorf("failed to write %s: %w", s.name, err)
		}
	}
	pad := padding(w.n - int64(len(header)))
	if _, err := w.Write(make([]byte, pad)); err != nil {
		return fmt.Errorf("failed to write padding: %w", err)
	}
	return nil
}

// WriteUnifiedFile writes the single-file layout to path. The file is
// written under a temporary name and renamed into place once complete.
func WriteUnifiedFile(path string, net *quant.Network, opts Options) (WrittenFile, error) {
	var b Batch
	if err := b.StageUnified(path, net, opts); err != nil {
		return WrittenFile{}, err
	}
	files, err := b.Commit()
	if err != nil {
		return WrittenFile{}, err
	}
	return files[0], nil
}

// WriteSplit writes one raw little-endian file per buffer into dir. Every
// file is staged before any is renamed into place.
func WriteSplit(dir string, net *quant.Network, opts Options) ([]WrittenFile, error) {
	var b Batch
	if err := b.StageSplit(dir, net, opts); err != nil {
		b.Discard()
		return nil, err
	}
	return b.Commit()
}

// Batch holds output files written under temporary names until Commit
// renames all of them into place. A Batch that is not committed must be
// discarded.
type Batch struct {
	staged []*stagedFile
}

// StageUnified stages the single-file layout of net at path.
func (b *Batch) StageUnified(path string, net *quant.Network, opts Options) error {
	header, err := encodeHeader(net, opts)
	if err != nil {
		return err
	}
	secs, err := sections(net, opts)
	if err != nil {
		return err
	}
	return b.stage(path, func(w *countingWriter) error {
		return writeUnified(w, header, secs)
	})
}

// StageSplit stages one file per buffer of net in dir, creating dir if
// needed.
func (b *Batch) StageSplit(dir string, net *quant.Network, opts Options) error {
	secs, err := sections(net, opts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for _, s := range secs {
		err := b.stage(filepath.Join(dir, s.file), func(w *countingWriter) error {
			if err := binary.Write(w, binary.LittleEndian, s.data); err != nil {
				return fmt.Errorf("failed to write %s: %w", s.name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Stage stages an arbitrary file whose contents are produced by fill.
func (b *Batch) Stage(path string, fill func(io.Writer) error) error {
	return b.stage(path, func(w *countingWriter) error { return fill(w) })
}

func (b *Batch) stage(path string, fill func(*countingWriter) error) error {
	st, err := stage(path, fill)
	if err != nil {
		return err
	}
	b.staged = append(b.staged, st)
	return nil
}

// Pending describes the staged files, in staging order, as they will be
// once committed.
func (b *Batch) Pending() []WrittenFile {
	files := make([]WrittenFile, len(b.staged))
	for i, st := range b.staged {
		files[i] = st.written()
	}
	return files
}

// Commit renames every staged file into place, in staging order. On a
// rename failure the remaining temporaries are removed and the files
// already renamed are returned with the error.
func (b *Batch) Commit() ([]WrittenFile, error) {
	staged := b.staged
	b.staged = nil

	files := make([]WrittenFile, 0, len(staged))
	for i, st := range staged {
		f, err := st.commit()
		if err != nil {
			for _, rest := range staged[i+1:] {
				rest.discard()
			}
			return files, err
		}
		files = append(files, f)
	}
	return files, nil
}

// Discard removes every staged temporary. It is a no-op after Commit.
func (b *Batch) Discard() {
	for _, st := range b.staged {
		st.discard()
	}
	b.staged = nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type stagedFile struct {
	tmp    string
	path   string
	size   int64
	digest uint64
}

func stage(path string, fill func(*countingWriter) error) (*stagedFile, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	d := xxhash.New()
	bw := bufio.NewWriter(f)
	cw := &countingWriter{w: io.MultiWriter(bw, d)}

	err = fill(cw)
	if err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = f.Chmod(0o644)
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return &stagedFile{tmp: f.Name(), path: path, size: cw.n, digest: d.Sum64()}, nil
}

func (s *stagedFile) commit() (WrittenFile, error) {
	if err := os.Rename(s.tmp, s.path); err != nil {
		s.discard()
		return WrittenFile{}, fmt.Errorf("failed to rename %s: %w", s.path, err)
	}
	return s.written(), nil
}

func (s *stagedFile) written() WrittenFile {
	return WrittenFile{Path: s.path, Size: s.size, Digest: s.digest}
}

func (s *stagedFile) discard() {
	_ = os.Remove(s.tmp)
}
