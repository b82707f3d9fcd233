package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-nnue/internal/config"
	"github.com/23skdu/longbow-nnue/internal/convert"
	"github.com/23skdu/longbow-nnue/internal/history"
	"github.com/23skdu/longbow-nnue/internal/logger"
	"github.com/23skdu/longbow-nnue/internal/metrics"
	"github.com/23skdu/longbow-nnue/internal/nnuefile"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flagCfg := config.Default()
	var configFile string
	var strict bool

	root := &cobra.Command{
		Use:   "nnue-convert [input.json]",
		Short: "Convert JSON network weights to a quantised NNUE binary",
		Long: "Reads a JSON object of float tensors (from a file, or the first line of stdin\n" +
			"when the input is omitted or \"-\") and writes fixed-point little-endian weights.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := flagCfg
			if configFile != "" {
				fileCfg, err := config.LoadFile(configFile)
				if err != nil {
					return report(err)
				}
				cfg = overlay(cmd, fileCfg, flagCfg)
			}
			if strict {
				cfg.Mode = config.ModeStrict
			}
			if len(args) == 1 {
				cfg.Input = args[0]
			}
			logger.Setup(cfg.LogLevel, cfg.LogFormat)

			_, err := convert.Run(cfg, cmd.InOrStdin())
			if cfg.MetricsFile != "" {
				if merr := metrics.WriteTextfile(cfg.MetricsFile); merr != nil {
					logger.Log.Warn("Could not write metrics", "path", cfg.MetricsFile, "error", merr)
				}
			}
			return report(err)
		},
	}

	f := root.Flags()
	f.StringVarP(&flagCfg.Unified, "unified", "u", "", "write a single network file to `PATH`")
	f.StringVarP(&flagCfg.Split, "split", "s", "", "write one file per tensor into `DIR`")
	f.StringVar(&flagCfg.ArrowPath, "arrow", "", "also dump the quantised tensors as an Arrow IPC file")
	f.StringVar(&flagCfg.HistoryDir, "history", "", "record conversions in a history store at `DIR`")
	f.StringVar(&flagCfg.MetricsFile, "metrics-file", "", "write Prometheus metrics in textfile format")
	f.IntVar(&flagCfg.QA, "qa", flagCfg.QA, "quantisation scale of the feature layer")
	f.IntVar(&flagCfg.QB, "qb", flagCfg.QB, "quantisation scale of the output layer")
	f.BoolVar(&flagCfg.BigOut, "big-out", false, "keep output weights as 16-bit integers")
	f.BoolVar(&flagCfg.NoHeader, "no-header", false, "omit the 64-byte header from unified output")
	f.StringVar(&flagCfg.Name, "name", "", "network name stored in the header (max 48 bytes)")
	f.StringVar(&flagCfg.Activation, "activation", flagCfg.Activation, "activation tag stored in the header (relu, crelu, screlu, sqrrelu)")
	f.StringVar((*string)(&flagCfg.Mode), "mode", string(flagCfg.Mode), "tensor loading mode (rich or strict)")
	f.BoolVar(&strict, "strict", false, "shorthand for --mode strict")
	f.StringVar(&flagCfg.FeatureName, "ft-name", flagCfg.FeatureName, "key prefix of the feature layer tensors")
	f.StringVar(&flagCfg.OutputName, "out-name", flagCfg.OutputName, "key prefix of the output layer tensors")
	f.StringVar(&flagCfg.LogLevel, "log-level", flagCfg.LogLevel, "log level (debug, info, warn, error)")
	f.StringVar(&flagCfg.LogFormat, "log-format", flagCfg.LogFormat, "log format (console or json)")
	f.StringVarP(&configFile, "config", "c", "", "YAML configuration file; flags override its values")

	root.AddCommand(newInspectCmd(), newHistoryCmd())
	return root
}

// overlay applies the flags the user set explicitly on top of base.
func overlay(cmd *cobra.Command, base, flags config.Config) config.Config {
	set := map[string]func(){
		"unified":      func() { base.Unified = flags.Unified },
		"split":        func() { base.Split = flags.Split },
		"arrow":        func() { base.ArrowPath = flags.ArrowPath },
		"history":      func() { base.HistoryDir = flags.HistoryDir },
		"metrics-file": func() { base.MetricsFile = flags.MetricsFile },
		"qa":           func() { base.QA = flags.QA },
		"qb":           func() { base.QB = flags.QB },
		"big-out":      func() { base.BigOut = flags.BigOut },
		"no-header":    func() { base.NoHeader = flags.NoHeader },
		"name":         func() { base.Name = flags.Name },
		"activation":   func() { base.Activation = flags.Activation },
		"mode":         func() { base.Mode = flags.Mode },
		"ft-name":      func() { base.FeatureName = flags.FeatureName },
		"out-name":     func() { base.OutputName = flags.OutputName },
		"log-level":    func() { base.LogLevel = flags.LogLevel },
		"log-format":   func() { base.LogFormat = flags.LogFormat },
	}
	for name, apply := range set {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	return base
}

func report(err error) error {
	if err == nil {
		return nil
	}
	logger.Log.Error("Conversion failed", "kind", string(convert.Classify(err)), "error", err.Error())
	return err
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print the header and section sizes of a headered unified network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			file, err := nnuefile.Inspect(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			h, l := file.Header, file.Layout
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "name\t%s\n", h.Name)
			fmt.Fprintf(w, "version\t%d\n", h.Version)
			fmt.Fprintf(w, "arch\t%s\n", h.Arch)
			fmt.Fprintf(w, "activation\t%s\n", h.Activation)
			fmt.Fprintf(w, "hidden size\t%d\n", h.HiddenSize)
			fmt.Fprintf(w, "input buckets\t%d (header), %d (inferred)\n", h.InputBuckets, l.Buckets)
			fmt.Fprintf(w, "output buckets\t%d\n", h.OutputBuckets)
			fmt.Fprintf(w, "output weights\t%s\n", outputWidth(h))
			fmt.Fprintf(w, "psqt\t%t\n", h.HasPSQT())
			fmt.Fprintf(w, "payload\t%s\n", humanize.Comma(l.PayloadSize()))
			fmt.Fprintf(w, "padding\t%d\n", l.Padding())
			fmt.Fprintf(w, "file size\t%s\n", humanize.Bytes(uint64(len(data))))
			return w.Flush()
		},
	}
}

func outputWidth(h *nnuefile.Header) string {
	if h.BigOutput() {
		return "int16"
	}
	return "int8"
}

func newHistoryCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List conversions recorded in a history store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.Open(dir)
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.List()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tFINGERPRINT\tHIDDEN\tBUCKETS\tRUNS\tINPUT")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
					humanize.Time(r.CreatedAt), r.Fingerprint, r.HiddenSize, r.Buckets, r.Runs, humanize.Bytes(uint64(r.InputSize)))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "history store directory")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}
