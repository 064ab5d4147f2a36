package main

import (
	"bufio"
	"io"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"github.com/yanun0323/logs"

	errs "hftcore/internal/errors"
	"hftcore/internal/mdg"
	"hftcore/internal/ops"
)

type genOptions struct {
	configPath string
	outPath    string
	count      int
	start      string
	gen        mdg.GeneratorConfig
}

var genOpts = genOptions{gen: mdg.DefaultGeneratorConfig()}

var genCmd = &cobra.Command{
	Use:   "gen",
	Short: "Write a synthetic JSON-lines quote tape for the paper command",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		if genOpts.outPath != "" {
			f, err := os.Create(genOpts.outPath)
			if err != nil {
				return errs.Wrap(err, "create quote tape")
			}
			defer f.Close()
			out = f
		}
		return runGen(genOpts, out)
	},
}

func init() {
	rootCmd.AddCommand(genCmd)

	f := genCmd.Flags()
	f.StringVarP(&genOpts.configPath, "config", "c", "", "config file, only the instrument section is used")
	f.StringVarP(&genOpts.outPath, "out", "o", "", "output path, stdout when empty")
	f.IntVarP(&genOpts.count, "count", "n", 10_000, "number of quotes")
	f.StringVar(&genOpts.start, "start", "2026-01-05T09:00:00Z", "timestamp of the first quote (RFC 3339)")
	f.Float64Var(&genOpts.gen.StartPrice, "price", genOpts.gen.StartPrice, "start price")
	f.IntVar(&genOpts.gen.SpreadTicks, "spread", genOpts.gen.SpreadTicks, "bid/ask spread in ticks")
	f.Float64Var(&genOpts.gen.VolTicks, "vol", genOpts.gen.VolTicks, "standard deviation of one step in ticks")
	f.Float64Var(&genOpts.gen.DriftTicks, "drift", genOpts.gen.DriftTicks, "mean step in ticks")
	f.Float64Var(&genOpts.gen.Reversion, "reversion", genOpts.gen.Reversion, "pull toward the start price per step, within [0, 1]")
	f.Int64Var((*int64)(&genOpts.gen.BaseSize), "size", int64(genOpts.gen.BaseSize), "typical book size")
	f.DurationVar(&genOpts.gen.Interval, "interval", genOpts.gen.Interval, "time between quotes")
	f.Uint64Var(&genOpts.gen.Seed, "seed", genOpts.gen.Seed, "random seed")
}

func runGen(opts genOptions, w io.Writer) error {
	if opts.count <= 0 {
		return errs.New("count must be > 0")
	}
	start, err := time.Parse(time.RFC3339, opts.start)
	if err != nil {
		return errs.Wrap(err, "parse start")
	}
	loaded, err := ops.Load(opts.configPath)
	if err != nil {
		return err
	}
	g, err := mdg.NewGenerator(loaded.Symbol, opts.gen, start)
	if err != nil {
		return err
	}
	norm := mdg.NewNormalizer(loaded.Registry)

	bw := bufio.NewWriter(w)
	for i := range opts.count {
		q, err := norm.Normalize(g.Next())
		if err != nil {
			return errs.Wrapf(err, "quote %d", i)
		}
		data, err := sonic.Marshal(q)
		if err != nil {
			return errs.Wrap(err, "marshal quote")
		}
		_, _ = bw.Write(data)
		_ = bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return errs.Wrap(err, "write quote tape")
	}
	logs.Debugf("quote tape written, symbol: %s, count: %d, seed: %d", loaded.Symbol.Name, opts.count, opts.gen.Seed)
	return nil
}
