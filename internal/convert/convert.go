// Package convert runs a full conversion: read the JSON document, quantise
// it and write every requested output.
package convert

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/23skdu/longbow-nnue/internal/arrowdump"
	"github.com/23skdu/longbow-nnue/internal/config"
	"github.com/23skdu/longbow-nnue/internal/history"
	"github.com/23skdu/longbow-nnue/internal/logger"
	"github.com/23skdu/longbow-nnue/internal/metrics"
	"github.com/23skdu/longbow-nnue/internal/nnuefile"
	"github.com/23skdu/longbow-nnue/internal/quant"
	"github.com/23skdu/longbow-nnue/internal/tensors"
)

// Result summarises a successful run.
type Result struct {
	RunID       string
	Fingerprint string
	Network     *quant.Network
	Files       []nnuefile.WrittenFile
	ArrowSize   int64

	// Previous is the earlier conversion of the same input and settings,
	// if history is enabled and one exists. Changed lists the outputs
	// whose contents differ from it.
	Previous *history.Record
	Changed  []string

	Duration time.Duration
}

// ReadInput returns the contents of path, or the first line of stdin when
// path is empty or "-".
func ReadInput(path string, stdin io.Reader) ([]byte, error) {
	if path != "" && path != "-" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInputRead, err)
		}
		return data, nil
	}

	line, err := bufio.NewReader(stdin).ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: stdin is empty", ErrInputRead)
		}
		return nil, fmt.Errorf("%w: stdin: %w", ErrInputRead, err)
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

func loadOptions(cfg *config.Config) tensors.Options {
	opts := tensors.Options{Mode: tensors.ModeRich, FeatureName: cfg.FeatureName, OutputName: cfg.OutputName}
	if cfg.Strict() {
		opts.Mode = tensors.ModeStrict
	}
	return opts
}

// Run performs one conversion described by cfg. Every failure is counted in
// conversion_errors_total under its Kind.
func Run(cfg config.Config, stdin io.Reader) (res *Result, err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			metrics.RecordError(string(Classify(err)))
			metrics.RecordConversion("failure", time.Since(start))
			return
		}
		metrics.RecordConversion("success", res.Duration)
	}()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	activation, err := nnuefile.ParseActivation(cfg.Activation)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	res = &Result{RunID: uuid.NewString()}
	log := logger.Log.With("run_id", res.RunID)

	input, err := ReadInput(cfg.Input, stdin)
	if err != nil {
		return nil, err
	}
	log.Debug("Read input", "bytes", humanize.Bytes(uint64(len(input))))

	raw, err := tensors.Load(input, loadOptions(&cfg))
	if err != nil {
		return nil, err
	}
	for name, shape := range raw.Describe() {
		log.Debug("Tensor", "name", name, "shape", shape)
	}

	net, err := quant.Convert(raw, quant.Params{QA: cfg.QA, QB: cfg.QB})
	if err != nil {
		return nil, err
	}
	res.Network = net
	log.Info("Quantised network",
		"ft_size", tensors.InputSize,
		"neurons", net.HiddenSize,
		"out_size", len(net.OutputWeights),
		"buckets", net.Buckets,
		"psqt", net.HasPSQT())
	recordQuantised(net)

	opts := nnuefile.Options{
		BigOutput:  cfg.BigOut,
		Header:     cfg.HeaderEnabled(),
		Name:       cfg.Name,
		Activation: activation,
	}

	// Nothing is renamed into place until every output is staged and the
	// history store has been read.
	var batch nnuefile.Batch
	defer batch.Discard()
	if err := stageOutputs(&cfg, net, opts, &batch); err != nil {
		return nil, err
	}

	var hist *pendingRecord
	if cfg.HistoryDir != "" {
		res.Fingerprint = history.Fingerprint(input, history.Settings{
			QA:          cfg.QA,
			QB:          cfg.QB,
			BigOutput:   cfg.BigOut,
			Header:      cfg.HeaderEnabled(),
			Name:        cfg.Name,
			Activation:  activation.String(),
			Mode:        string(cfg.Mode),
			FeatureName: cfg.FeatureName,
			OutputName:  cfg.OutputName,
		}.String())
		pending, _ := splitArrow(batch.Pending(), cfg.ArrowPath != "")
		hist, err = checkHistory(cfg.HistoryDir, int64(len(input)), pending, res, log)
		if err != nil {
			return nil, err
		}
		defer hist.close()
	}

	committed, err := batch.Commit()
	if err != nil {
		return nil, writeError(err)
	}
	files, arrow := splitArrow(committed, cfg.ArrowPath != "")
	res.Files = files
	logOutputs(&cfg, net, opts, files, arrow, res, log)

	if hist != nil {
		if err := hist.store.Put(hist.rec); err != nil {
			log.Warn("Could not record conversion in history", "dir", cfg.HistoryDir, "error", err)
		}
	}

	metrics.RecordNetwork(net.HiddenSize, net.Buckets)
	res.Duration = time.Since(start)
	log.Info("Conversion finished", "files", len(res.Files), "duration", res.Duration)
	return res, nil
}

func recordQuantised(net *quant.Network) {
	metrics.RecordQuantised("feature_weights", len(net.FeatureWeights))
	metrics.RecordQuantised("feature_bias", len(net.FeatureBias))
	metrics.RecordQuantised("output_weights", len(net.OutputWeights))
	metrics.RecordQuantised("output_bias", len(net.OutputBias))
	metrics.RecordQuantised("psqt", len(net.PSQT))
}

// stageOutputs stages every requested output in b: the unified file, the
// split files, then the Arrow dump.
func stageOutputs(cfg *config.Config, net *quant.Network, opts nnuefile.Options, b *nnuefile.Batch) error {
	if cfg.Unified != "" {
		if err := b.StageUnified(cfg.Unified, net, opts); err != nil {
			return writeError(err)
		}
	}
	if cfg.Split != "" {
		if err := b.StageSplit(cfg.Split, net, opts); err != nil {
			return writeError(err)
		}
	}
	if cfg.ArrowPath != "" {
		if err := arrowdump.Stage(b, cfg.ArrowPath, net); err != nil {
			return writeError(err)
		}
	}
	return nil
}

// splitArrow separates the Arrow dump, which is staged last, from the
// network files.
func splitArrow(files []nnuefile.WrittenFile, hasArrow bool) ([]nnuefile.WrittenFile, *nnuefile.WrittenFile) {
	if !hasArrow || len(files) == 0 {
		return files, nil
	}
	last := files[len(files)-1]
	return files[:len(files)-1], &last
}

func logOutputs(cfg *config.Config, net *quant.Network, opts nnuefile.Options, files []nnuefile.WrittenFile, arrow *nnuefile.WrittenFile, res *Result, log *logger.Logger) {
	for i, f := range files {
		if i == 0 && cfg.Unified != "" {
			metrics.RecordBytesWritten("unified", f.Size)
			log.Info("Wrote unified network",
				"path", f.Path,
				"size", humanize.Bytes(uint64(f.Size)),
				"padding", f.Size-nnuefile.LayoutOf(net, opts.BigOutput).PayloadSize()-headerSize(opts),
				"digest", history.FormatDigest(f.Digest))
			continue
		}
		metrics.RecordBytesWritten("split", f.Size)
		log.Info("Wrote tensor", "path", f.Path, "size", humanize.Bytes(uint64(f.Size)))
	}
	if arrow != nil {
		res.ArrowSize = arrow.Size
		metrics.RecordBytesWritten("arrow", arrow.Size)
		log.Info("Wrote arrow dump", "path", arrow.Path, "size", humanize.Bytes(uint64(arrow.Size)))
	}
}

func headerSize(opts nnuefile.Options) int64 {
	if opts.Header {
		return nnuefile.HeaderSize
	}
	return 0
}

// pendingRecord is a history record waiting for the outputs it describes
// to be committed.
type pendingRecord struct {
	store *history.Store
	rec   *history.Record
}

func (p *pendingRecord) close() { _ = p.store.Close() }

// checkHistory opens the store, compares the staged outputs with the
// previous conversion of the same input and returns the record to store
// once the outputs are in place.
func checkHistory(dir string, inputSize int64, files []nnuefile.WrittenFile, res *Result, log *logger.Logger) (*pendingRecord, error) {
	store, err := history.Open(dir)
	if err != nil {
		return nil, writeError(err)
	}

	prev, err := store.Lookup(res.Fingerprint)
	if err != nil {
		_ = store.Close()
		return nil, writeError(err)
	}

	rec := &history.Record{
		RunID:       res.RunID,
		Fingerprint: res.Fingerprint,
		InputSize:   inputSize,
		HiddenSize:  res.Network.HiddenSize,
		Buckets:     res.Network.Buckets,
		Outputs:     make(map[string]string, len(files)),
		CreatedAt:   time.Now().UTC(),
	}
	for _, f := range files {
		rec.Outputs[f.Path] = history.FormatDigest(f.Digest)
	}

	if prev != nil {
		res.Previous = prev
		res.Changed = history.Diff(prev, rec)
		if len(res.Changed) > 0 {
			log.Warn("Output differs from a previous conversion of the same input",
				"previous_run", prev.RunID, "files", res.Changed)
		} else {
			log.Info("Output matches previous conversion", "previous_run", prev.RunID, "runs", prev.Runs+1)
		}
	}
	return &pendingRecord{store: store, rec: rec}, nil
}
