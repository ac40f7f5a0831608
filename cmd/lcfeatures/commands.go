package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/lightcurve.report/internal/api"
	"github.com/banshee-data/lightcurve.report/internal/batch"
	"github.com/banshee-data/lightcurve.report/internal/config"
	"github.com/banshee-data/lightcurve.report/internal/db"
	"github.com/banshee-data/lightcurve.report/internal/fitcache"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/gp"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/pipeline"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/snana"
	"github.com/banshee-data/lightcurve.report/internal/monitoring"
	"github.com/banshee-data/lightcurve.report/internal/plotting"
	"github.com/banshee-data/lightcurve.report/internal/publish"
)

// env is everything a command needs, built from the loaded configuration.
type env struct {
	cfg      *config.Config
	pcfg     pipeline.Config
	metrics  *monitoring.Metrics
	closers  []io.Closer
	database *db.DB
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i].Close()
	}
}

func setup(path string) (*env, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	pcfg, err := cfg.Pipeline()
	if err != nil {
		return nil, err
	}
	_, logCloser, err := monitoring.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, pcfg: pcfg, metrics: monitoring.NewMetrics(), closers: []io.Closer{logCloser}}

	// Stage streams: ops always, diag at debug, trace at trace level.
	var diag, trace io.Writer
	switch cfg.Log.Level {
	case "trace":
		diag, trace = os.Stderr, os.Stderr
	case "debug":
		diag = os.Stderr
	}
	pipeline.SetLogWriters(os.Stderr, diag, trace)
	gp.SetLogWriters(os.Stderr, diag, trace)
	batch.SetLogWriters(os.Stderr, diag, trace)
	publish.SetLogWriters(os.Stderr, diag, trace)
	return e, nil
}

// openStore opens the SQLite database and returns the fit cache to hand to
// pipelines: SQLite alone, or Redis when configured, behind an in-memory L1.
func (e *env) openStore(ctx context.Context) (pipeline.FitCache, *db.FitCache, error) {
	database, err := db.NewDB(e.cfg.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	e.database = database
	e.closers = append(e.closers, database)
	sqlCache := db.NewFitCache(database)

	var shared pipeline.FitCache = sqlCache
	if e.cfg.Redis.Addr != "" {
		rc, client, err := fitcache.DialRedis(ctx, e.cfg.Redis.Addr, e.cfg.Redis.Password, e.cfg.Redis.DB, fitcache.WithTTL(e.cfg.Redis.TTL))
		if err != nil {
			return nil, nil, err
		}
		e.closers = append(e.closers, client)
		shared = rc
	}
	return fitcache.NewLayered(shared), sqlCache, nil
}

func handleFit(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("fit", flag.ContinueOnError)
	cfgPath := commonFlags(fs)
	plotDir := fs.String("plot-dir", "", "Write a PNG of the aligned fit to this directory")
	htmlOut := fs.String("html", "", "Write an HTML chart of the aligned fit to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: lcfeatures fit [--config file] <lightcurve.DAT>")
	}
	e, err := setup(*cfgPath)
	if err != nil {
		return err
	}
	defer e.Close()

	reader := snana.Reader{RedshiftKey: e.cfg.RedshiftFlag, TypeKey: e.cfg.TypeFlag}
	rec, err := reader.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	p, err := pipeline.New(e.pcfg, pipeline.WithRecorder(e.metrics))
	if err != nil {
		return err
	}
	out := p.Process(ctx, rec)

	summary := map[string]interface{}{
		"snid":   out.ObjectID,
		"status": out.Status,
		"stage":  out.Stage,
	}
	if out.Included() {
		summary["features"] = out.Features
		summary["draws_accepted"] = out.DrawsAccepted
		summary["draws_rejected"] = out.DrawsRejected
	} else {
		summary["gate"] = out.Gate
		summary["reason"] = out.Reason
		if out.Err != nil {
			summary["error"] = out.Err.Error()
		}
	}
	if out.SamplingErr != nil {
		summary["sampling_error"] = out.SamplingErr.Error()
	}

	if out.Fit != nil && out.Fit.Aligned() && (*plotDir != "" || *htmlOut != "") {
		fig, err := plotting.NewFigure(out.Fit, out.Fits, e.pcfg.Window)
		if err != nil {
			return err
		}
		if *plotDir != "" {
			path, err := plotting.SavePNG(*plotDir, fig)
			if err != nil {
				return err
			}
			summary["plot"] = path
		}
		if *htmlOut != "" {
			f, err := os.Create(*htmlOut)
			if err != nil {
				return err
			}
			if err := plotting.WriteHTML(f, fig); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			summary["html"] = *htmlOut
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

func handleBuild(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	cfgPath := commonFlags(fs)
	list := fs.String("list", "", "Sample list (overrides data.snlist)")
	out := fs.String("out", "", "Matrix output file (overrides data.matrix_out)")
	noStore := fs.Bool("no-store", false, "Do not persist rows or use the fit cache")
	if err := fs.Parse(args); err != nil {
		return err
	}
	e, err := setup(*cfgPath)
	if err != nil {
		return err
	}
	defer e.Close()

	if *list == "" {
		*list = e.cfg.Data.List
	}
	if *out == "" {
		*out = e.cfg.Data.MatrixOut
	}
	paths, err := snana.ReadList(*list, e.cfg.Data.Dir)
	if err != nil {
		return fmt.Errorf("read sample list: %w", err)
	}

	b := &batch.Builder{
		Config:  e.pcfg,
		Pool:    batch.Pool{Workers: e.cfg.Batch.Workers},
		Reader:  snana.Reader{RedshiftKey: e.cfg.RedshiftFlag, TypeKey: e.cfg.TypeFlag},
		Options: []pipeline.Option{pipeline.WithRecorder(e.metrics)},
	}
	if !*noStore {
		cache, _, err := e.openStore(ctx)
		if err != nil {
			return err
		}
		b.Options = append(b.Options, pipeline.WithFitCache(cache))
		b.Sinks = append(b.Sinks, e.database)
	}
	if len(e.cfg.Kafka.Brokers) > 0 {
		pub, err := publish.New(e.cfg.Kafka.Brokers, e.cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		e.closers = append(e.closers, pub)
		b.Sinks = append(b.Sinks, pub)
	}
	if e.cfg.Data.PlotDir != "" {
		b.Sinks = append(b.Sinks, &plotting.Sink{Dir: e.cfg.Data.PlotDir, Window: e.pcfg.Window})
	}

	res, err := b.BuildFiles(ctx, paths)
	if res == nil {
		return err
	}
	e.metrics.RunCompleted()
	if werr := res.Matrix.WriteFile(*out); werr != nil {
		return errors.Join(err, fmt.Errorf("write matrix: %w", werr))
	}
	fmt.Fprintf(stdout, "run %s: %d included, %d excluded, matrix written to %s\n",
		res.Run.ID, res.Matrix.Len(), len(res.Exclusions), *out)
	return err
}

func handleCrossVal(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("crossval", flag.ContinueOnError)
	cfgPath := commonFlags(fs)
	matrix := fs.String("matrix", "", "Matrix file (overrides data.matrix_out)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	e, err := setup(*cfgPath)
	if err != nil {
		return err
	}
	defer e.Close()

	if *matrix == "" {
		*matrix = e.cfg.Data.MatrixOut
	}
	m, err := batch.ReadMatrixFile(*matrix)
	if err != nil {
		return err
	}
	var mapper batch.TypeMapper
	if e.cfg.Batch.PositiveType != "" {
		mapper = batch.BinaryMapper{Positive: e.cfg.Batch.PositiveType}
	}
	cv := batch.PCANearestNeighbour{
		Components:   e.cfg.Batch.PCAComponents,
		TestFraction: e.cfg.Batch.TestFraction,
		Seed:         e.cfg.Seed,
	}
	best, all, err := batch.CrossValidate(ctx, batch.Pool{Workers: e.cfg.Batch.Workers}, m, cv, mapper, e.cfg.Batch.CrossValTrials)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{"best": best, "trials": len(all)})
}

func handleServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	cfgPath := commonFlags(fs)
	addr := fs.String("listen", "", "Listen address (overrides server.addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	e, err := setup(*cfgPath)
	if err != nil {
		return err
	}
	defer e.Close()
	if *addr == "" {
		*addr = e.cfg.Server.Addr
	}

	cache, sqlCache, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	srv, err := api.NewServer(e.pcfg,
		api.WithRunStore(e.database),
		api.WithFitStore(sqlCache),
		api.WithFitCache(cache),
		api.WithMetrics(e.metrics),
	)
	if err != nil {
		return err
	}
	return srv.Run(ctx, *addr)
}

func handleMigrate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	cfgPath := commonFlags(fs)
	dbPath := fs.String("db", "", "Database path (overrides storage.path)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		*dbPath = cfg.Storage.Path
	}
	return db.RunMigrateCommand(fs.Args(), *dbPath, stdout)
}
