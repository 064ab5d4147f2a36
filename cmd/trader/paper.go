package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"maps"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/bytedance/sonic"
	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/spf13/cobra"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"hftcore/internal/audit"
	"hftcore/internal/bus"
	"hftcore/internal/chaos"
	"hftcore/internal/core"
	errs "hftcore/internal/errors"
	"hftcore/internal/obs"
	"hftcore/internal/og"
	"hftcore/internal/ops"
	"hftcore/internal/schema"
	"hftcore/internal/state"
)

type paperOptions struct {
	configPath   string
	quotesPath   string
	restorePath  string
	snapshotPath string
	pyroscope    string
}

var paperOpts paperOptions

var paperCmd = &cobra.Command{
	Use:   "paper",
	Short: "Replay quotes through the strategy core against the paper gateway",
	Long: `Paper reads one JSON quote per line, e.g.

  {"bid":100.25,"ask":100.26,"last":100.26,"bidSize":40,"askSize":12,"volume":1830,"ts":1700000000000000000}

and runs every enabled strategy on each quote. Fills from the paper gateway
go back through the event queue, so a quote and the fills it produced are
fully processed before the next quote is read.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runPaper(cmd.Context(), paperOpts)
	},
}

func init() {
	rootCmd.AddCommand(paperCmd)

	f := paperCmd.Flags()
	f.StringVarP(&paperOpts.configPath, "config", "c", "", "config file (.yaml, .yml or .json), defaults when empty")
	f.StringVarP(&paperOpts.quotesPath, "quotes", "q", "", "JSON-lines quote file (required)")
	f.StringVar(&paperOpts.restorePath, "restore", "", "ledger snapshot to restore before the first quote")
	f.StringVarP(&paperOpts.snapshotPath, "out", "o", "", "write the final ledger snapshot to this path")
	f.StringVar(&paperOpts.pyroscope, "pyroscope", "", "pyroscope server address, profiling is off when empty")
	_ = paperCmd.MarkFlagRequired("quotes")
}

func runPaper(ctx context.Context, opts paperOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sys.Shutdown():
			logs.Warnf("shutdown requested, stopping replay")
			cancel()
		case <-ctx.Done():
		}
	}()

	if opts.pyroscope != "" {
		stop, err := startProfiler(opts.pyroscope)
		if err != nil {
			return err
		}
		defer stop()
	}

	loaded, err := ops.Load(opts.configPath)
	if err != nil {
		return err
	}
	quotes, err := os.Open(opts.quotesPath)
	if err != nil {
		return errs.Wrap(err, "open quotes")
	}
	defer quotes.Close()

	p, err := newPaper(loaded)
	if err != nil {
		return err
	}
	defer p.Close()

	if opts.restorePath != "" {
		if err := p.restore(opts.restorePath); err != nil {
			return err
		}
	}
	if loaded.MetricsListen != "" {
		p.serveMetrics(loaded.MetricsListen)
	}

	if err := p.replay(ctx, quotes); err != nil {
		return err
	}
	p.report()

	if opts.snapshotPath != "" {
		snap := p.engine.Ledger().SnapshotWithSeq(p.lastSeq)
		if err := state.WriteSnapshot(opts.snapshotPath, snap); err != nil {
			return errs.Wrap(err, "write snapshot")
		}
		logs.Infof("snapshot written, path: %s, seq: %d", opts.snapshotPath, p.lastSeq)
	}
	return nil
}

// paper is one wired paper-trading session.
type paper struct {
	loaded    ops.Loaded
	queue     *bus.Queue
	gateway   *og.PaperGateway
	chaos     *chaos.Engine
	engine    *core.Engine
	metrics   *obs.Metrics
	collector *obs.Collector
	recorder  *audit.Recorder
	memory    *audit.Memory
	closers   []func()
	lastSeq   uint64
	// unapplied counts bus events the engine refused, e.g. duplicate fills.
	unapplied uint64
}

func newPaper(loaded ops.Loaded) (*paper, error) {
	p := &paper{
		loaded:    loaded,
		queue:     bus.NewQueue(loaded.QueueCapacity),
		metrics:   obs.NewMetrics(),
		collector: obs.NewCollector(),
	}

	sink, err := p.openAudit()
	if err != nil {
		return nil, err
	}
	p.recorder = audit.NewRecorder(audit.NewSession(), sink)

	publish := p.publishFill
	if loaded.Chaos.Enabled() {
		p.chaos, err = chaos.NewEngine(loaded.Chaos)
		if err != nil {
			p.Close()
			return nil, err
		}
		publish = p.chaos.Wrap(publish)
	}
	p.gateway = og.NewPaperGateway(loaded.Paper, publish)

	ledger, err := loaded.NewLedger()
	if err != nil {
		p.Close()
		return nil, err
	}
	p.engine, err = core.New(core.Config{Risk: loaded.Risk, Governor: loaded.Governor, OrderTimeout: loaded.OrderTimeout}, core.Deps{
		Ledger:    ledger,
		Gateway:   p.gateway,
		Metrics:   p.metrics,
		Collector: p.collector,
		Audit:     p.recorder,
		IDs:       obs.NewSignalIDs(0),
	})
	if err != nil {
		p.Close()
		return nil, err
	}
	for _, s := range loaded.BuildStrategies(ledger) {
		if err := p.engine.Register(s); err != nil {
			p.Close()
			return nil, err
		}
	}
	logs.Infof("paper session ready, audit: %s, symbol: %s, strategies: %d, chaos: %t",
		p.recorder.Session(), loaded.Symbol.Name, len(loaded.Strategies), p.chaos != nil)
	return p, nil
}

func (p *paper) openAudit() (audit.Sink, error) {
	if !p.loaded.Audit.Postgres.Enabled() {
		p.memory = audit.NewMemory()
		return p.memory, nil
	}
	pg, err := audit.OpenPostgres(p.loaded.Audit.Postgres)
	if err != nil {
		return nil, err
	}
	async := audit.NewAsync(pg, p.loaded.Audit.Buffer)
	// async drains into pg, so it must close first
	p.closers = append(p.closers, async.Close, func() {
		if err := pg.Close(); err != nil {
			logs.Errorf("close audit db, err: %+v", err)
		}
	})
	return async, nil
}

func (p *paper) publishFill(f schema.Fill) error {
	if err := p.queue.PublishFill(f); err != nil {
		p.metrics.IncQueueDrop()
		return err
	}
	return nil
}

func (p *paper) restore(path string) error {
	snap, err := state.ReadSnapshot(path)
	if err != nil {
		return errs.Wrap(err, "read restore snapshot")
	}
	if err := p.engine.Ledger().Restore(snap); err != nil {
		return err
	}
	p.lastSeq = snap.LastSeq
	p.engine.Resync()
	logs.Infof("ledger restored, path: %s, seq: %d, positions: %d", path, snap.LastSeq, len(snap.Positions))
	return nil
}

func (p *paper) serveMetrics(listen string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.collector.Handler())
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errs.Is(err, http.ErrServerClosed) {
			logs.Errorf("metrics server, err: %+v", err)
		}
	}()
	p.closers = append(p.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	logs.Infof("metrics listening, addr: %s", listen)
}

// replay feeds quotes one at a time and settles each before reading the next.
func (p *paper) replay(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		if ctx.Err() != nil {
			logs.Warnf("replay interrupted, line: %d", line)
			break
		}
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		var quote schema.Quote
		if err := sonic.Unmarshal(raw, &quote); err != nil {
			return errs.Wrapf(err, "decode quote at line %d", line)
		}
		if err := p.queue.PublishQuote(quote); err != nil {
			return errs.Wrapf(err, "publish quote at line %d", line)
		}
		p.settle(ctx)
	}
	if err := scanner.Err(); err != nil {
		return errs.Wrap(err, "read quotes")
	}

	if p.chaos != nil {
		for _, f := range p.chaos.Flush() {
			_ = p.publishFill(f)
		}
	}
	p.settle(ctx)
	return nil
}

// settle handles queued events until the queue and the gateway backlog are
// both empty.
func (p *paper) settle(ctx context.Context) {
	handle := func(ev bus.Event) {
		p.lastSeq = ev.Header.Seq
		if err := p.engine.Handle(ctx, ev); err != nil {
			p.unapplied++
		}
	}
	for {
		p.gateway.Flush()
		if p.queue.Drain(handle) == 0 {
			return
		}
	}
}

func (p *paper) report() {
	s := p.metrics.Snapshot()
	logs.Infof("quotes: %d, signals: %d, allowed: %d, denied: %d, fills: %d, exits: %d, transitions: %d",
		s.Quotes, s.Signals, s.Allowed, s.DeniedTotal(), s.Fills, s.Exits, s.Transitions)
	logs.Infof("integrity errors: %d, submit failures: %d, expired orders: %d, queue drops: %d, unapplied events: %d",
		s.IntegrityErrors, s.SubmitFailures, s.Expired, s.QueueDrops, p.unapplied)
	logs.Infof("latency, quote avg: %s max: %s, risk avg: %s max: %s, submit avg: %s max: %s",
		s.QuoteLatency.Avg, s.QuoteLatency.Max, s.RiskEvalLatency.Avg, s.RiskEvalLatency.Max, s.SubmitLatency.Avg, s.SubmitLatency.Max)
	for _, reason := range slices.Sorted(maps.Keys(s.Denied)) {
		logs.Infof("denied, reason: %s, count: %d", reason, s.Denied[reason])
	}

	ledger := p.engine.Ledger()
	for _, id := range ledger.Strategies() {
		pos, err := ledger.Position(id)
		if err != nil {
			continue
		}
		logs.Infof("[%s] pos: %d, max: %d, realized: %s, unrealized: %s, trades: %d, enabled: %t",
			id, pos.SignedPosition, pos.MaxAbsPosition, pos.RealizedPnL.StringFixed(2), pos.UnrealizedPnL.StringFixed(2), pos.TradeCount, pos.Enabled)
	}
	for _, st := range p.engine.Statuses() {
		logs.Debugf("[%s] in flight: %d, exit phase: %v", st.StrategyID, st.InFlight, st.ExitPhase)
	}
	agg := ledger.Aggregate()
	logs.Infof("total: %d, daily pnl: %s, open orders: %d", agg.TotalSignedPosition, agg.CumulativeDailyPnL.StringFixed(2), p.engine.Book().Open())

	if p.chaos != nil {
		cs := p.chaos.Stats()
		logs.Infof("chaos, in: %d, dropped: %d, duplicated: %d, out: %d", cs.In, cs.Dropped, cs.Duplicated, cs.Out)
	}
	if p.memory != nil {
		logs.Infof("audit %s, deny: %d, integrity: %d, exit: %d, transition: %d, submit failed: %d",
			p.recorder.Session(),
			p.memory.Count(audit.KindDeny), p.memory.Count(audit.KindIntegrity), p.memory.Count(audit.KindExit),
			p.memory.Count(audit.KindTransition), p.memory.Count(audit.KindSubmit))
	}
}

// Close releases the audit sink and the metrics server in order.
func (p *paper) Close() {
	for _, c := range p.closers {
		c()
	}
	p.closers = nil
}

func startProfiler(addr string) (func(), error) {
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: "hftcore.trader",
		ServerAddress:   addr,
		Tags: map[string]string{
			"cmd": "paper",
		},
		Logger: profilerLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, errs.Wrap(err, "start pyroscope")
	}
	return func() {
		_ = profiler.Stop()
	}, nil
}

type profilerLogger struct{}

func (profilerLogger) Infof(format string, args ...any)  { logs.Debugf(format, args...) }
func (profilerLogger) Debugf(format string, args ...any) { logs.Debugf(format, args...) }
func (profilerLogger) Errorf(format string, args ...any) { logs.Errorf(format, args...) }
