package main

import (
	"flag"
	"io"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/user/hdextract/pkg/bundle"
	"github.com/user/hdextract/pkg/cache"
	"github.com/user/hdextract/pkg/extract"
	"github.com/user/hdextract/pkg/id"
)

// DEBUG enables debug logging regardless of -v.
var DEBUG = os.Getenv("DEBUG") != ""

type config struct {
	dataDir string
	outDir  string

	bundleName string
	assetID    string
	assetName  string
	all        bool

	typeName  string
	flatten   bool
	rebuild   bool
	cachePath string
	jsonPath  string
	namesPath string
	workers   int
	strict    bool
	verbose   bool
}

func parseFlags(args []string, output io.Writer) (*config, error) {
	c := &config{}
	fs := flag.NewFlagSet("hdextract", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&c.dataDir, "data", "", "Path to the game data directory (required)")
	fs.StringVar(&c.outDir, "out", "out", "Output directory")
	fs.StringVar(&c.bundleName, "bundle", "", "Extract every asset of this bundle (file name)")
	fs.StringVar(&c.assetID, "id", "", "Extract the asset with this hex id")
	fs.StringVar(&c.assetName, "name", "", "Extract the asset whose id is the hash of this resource name")
	fs.BoolVar(&c.all, "all", false, "Extract every bundle of the data directory")
	fs.StringVar(&c.typeName, "type", "", "Only extract this type: "+strings.Join(bundle.TypeNames(), ", ")+" or a hex type id")
	fs.BoolVar(&c.flatten, "flatten", false, "Do not create a directory per bundle")
	fs.BoolVar(&c.rebuild, "rebuild", false, "Rebuild the id cache; exits after saving when no target is given")
	fs.StringVar(&c.cachePath, "cache", "ids.cache", "Path of the id cache")
	fs.StringVar(&c.jsonPath, "json", "", "Also write the id cache as JSON to this file when rebuilding")
	fs.StringVar(&c.namesPath, "names", "", "Path to a PNDB name database")
	fs.IntVar(&c.workers, "workers", 1, "Number of bundles processed concurrently")
	fs.BoolVar(&c.strict, "strict", false, "Fail assets whose references cannot be resolved")
	fs.BoolVar(&c.verbose, "v", false, "Verbose logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, errors.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if c.dataDir == "" {
		return nil, errors.New("-data flag is required")
	}

	targets := 0
	for _, set := range []bool{c.bundleName != "", c.assetID != "", c.assetName != "", c.all} {
		if set {
			targets++
		}
	}
	if targets > 1 {
		return nil, errors.New("-bundle, -id, -name and -all are mutually exclusive")
	}
	if targets == 0 && !c.rebuild {
		return nil, errors.New("nothing to do: give -bundle, -id, -name, -all or -rebuild")
	}
	if c.assetID != "" {
		if _, err := id.Parse(c.assetID); err != nil {
			return nil, err
		}
	}
	if c.workers < 1 {
		return nil, errors.Errorf("-workers must be at least 1, got %d", c.workers)
	}
	return c, nil
}

func (c *config) hasTarget() bool {
	return c.bundleName != "" || c.assetID != "" || c.assetName != "" || c.all
}

// target returns the single asset id selected by -id or -name.
func (c *config) target() (id.ID, bool, error) {
	switch {
	case c.assetID != "":
		x, err := id.Parse(c.assetID)
		return x, true, err
	case c.assetName != "":
		return id.FromName(c.assetName), true, nil
	}
	return id.Invalid, false, nil
}

func (c *config) logLevel() log.Level {
	if c.verbose || DEBUG {
		return log.DebugLevel
	}
	return log.InfoLevel
}

func (c *config) options() (extract.Options, error) {
	t, err := parseType(c.typeName)
	if err != nil {
		return extract.Options{}, err
	}
	return extract.Options{
		Flatten: c.flatten,
		Filter:  t,
		Strict:  c.strict,
		Workers: c.workers,
	}, nil
}

func (c *config) buildOptions(l log.Interface) cache.BuildOptions {
	return cache.BuildOptions{Workers: c.workers, Log: l}
}

// parseType accepts a type name or a hex type id. Empty means no filter.
func parseType(s string) (bundle.AssetType, error) {
	if s == "" {
		return bundle.TypeUnknown, nil
	}
	if t, ok := bundle.ParseType(s); ok {
		return t, nil
	}
	x, err := id.Parse(s)
	if err != nil || !x.IsValid() {
		return bundle.TypeUnknown, errors.Errorf("unknown type %q, expected one of %s or a hex type id",
			s, strings.Join(bundle.TypeNames(), ", "))
	}
	return bundle.AssetType(x), nil
}
