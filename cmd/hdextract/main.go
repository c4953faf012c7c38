package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/pkg/errors"
	"github.com/user/hdextract/pkg/bundle"
	"github.com/user/hdextract/pkg/cache"
	"github.com/user/hdextract/pkg/extract"
	"github.com/user/hdextract/pkg/names"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	c, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		io.WriteString(stderr, "Error: "+err.Error()+"\n")
		return 1
	}

	logger := &log.Logger{Handler: cli.New(stderr), Level: c.logLevel()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := execute(ctx, c, logger); err != nil {
		logger.WithError(err).Error("hdextract failed")
		return 1
	}
	return 0
}

func execute(ctx context.Context, c *config, logger *log.Logger) error {
	opts, err := c.options()
	if err != nil {
		return err
	}

	ix, err := loadIndex(ctx, c, logger)
	if err != nil {
		return err
	}
	if ix == nil {
		return nil
	}

	e := extract.New(c.dataDir, c.outDir, ix, opts)
	e.Log = logger
	if c.namesPath != "" {
		db, err := names.Open(c.namesPath)
		if err != nil {
			return err
		}
		logger.WithFields(log.Fields{
			"path":  c.namesPath,
			"names": db.Len(),
		}).Info("loaded name database")
		e.Names = db
	}

	x, single, err := c.target()
	if err != nil {
		return err
	}
	switch {
	case single:
		logger.WithField("asset", x).Info("extracting asset")
		return e.ExtractID(x)
	case c.bundleName != "":
		return e.ExtractBundle(c.bundleName)
	default:
		return e.ExtractAll(ctx)
	}
}

// loadIndex rebuilds the id cache when asked to or when it does not exist
// yet, and loads it otherwise. A nil index without error means the run is
// complete.
func loadIndex(ctx context.Context, c *config, logger *log.Logger) (*cache.Index, error) {
	_, statErr := os.Stat(c.cachePath)
	if !c.rebuild && statErr == nil {
		start := time.Now()
		ix, err := cache.Load(c.cachePath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load id cache, rerun with -rebuild")
		}
		nb, nh := ix.Len()
		logger.WithFields(log.Fields{
			"bundles": nb,
			"assets":  nh,
			"took":    time.Since(start).Round(time.Millisecond),
		}).Info("loaded id cache")
		return ix, nil
	}

	logger.WithField("data", c.dataDir).Info("building id cache")
	start := time.Now()
	ix, err := cache.Build(ctx, bundle.NewDir(c.dataDir), c.buildOptions(logger))
	if err != nil {
		return nil, err
	}
	if err := ix.Save(c.cachePath); err != nil {
		return nil, err
	}
	if c.jsonPath != "" {
		if err := ix.SaveJSON(c.jsonPath); err != nil {
			return nil, err
		}
	}
	nb, nh := ix.Len()
	logger.WithFields(log.Fields{
		"bundles": nb,
		"assets":  nh,
		"path":    c.cachePath,
		"took":    time.Since(start).Round(time.Millisecond),
	}).Info("saved id cache")

	if c.rebuild && !c.hasTarget() {
		return nil, nil
	}
	return ix, nil
}
