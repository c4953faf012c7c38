package cache

import (
	"bufio"
	"context"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/user/hdextract/pkg/bundle"
	"github.com/user/hdextract/pkg/id"
	"golang.org/x/sync/errgroup"
)

// BuildOptions controls Build.
type BuildOptions struct {
	// Workers is the number of bundles parsed concurrently. Values below 2
	// scan sequentially. The result does not depend on it.
	Workers int
	Log     log.Interface
}

// Build scans every bundle of dir and records its minimized headers.
// Bundles that fail to open or parse are logged and left out of the index.
func Build(ctx context.Context, dir *bundle.Dir, opts BuildOptions) (*Index, error) {
	logger := opts.Log
	if logger == nil {
		logger = log.Log
	}

	names, err := dir.List()
	if err != nil {
		return nil, err
	}

	results := make([][]bundle.MinimizedHeader, len(names))
	ids := make([]id.ID, len(names))
	ok := make([]bool, len(names))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Workers, 1))
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			bundleID, err := id.Parse(name)
			if err != nil {
				logger.WithField("bundle", name).Warn("skipping file without a hex id name")
				return nil
			}
			headers, err := readHeaders(filepath.Join(dir.Path, name))
			if err != nil {
				logger.WithFields(log.Fields{
					"bundle": name,
					"error":  err,
				}).Warn("bundle not indexed")
				return nil
			}
			results[i], ids[i], ok[i] = headers, bundleID, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "index build interrupted")
	}

	ix := New()
	for i := range names {
		if ok[i] {
			ix.Add(ids[i], results[i])
		}
	}
	nb, nh := ix.Len()
	logger.WithFields(log.Fields{
		"bundles": nb,
		"assets":  nh,
	}).Debug("index built")
	return ix, nil
}

// readHeaders parses only the table of a bundle; payloads and sidecars are
// not touched.
func readHeaders(path string) ([]bundle.MinimizedHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open bundle %s", path)
	}
	defer f.Close()

	t, err := bundle.ReadTable(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "bundle %s", path)
	}
	headers := make([]bundle.MinimizedHeader, len(t.Assets))
	for i, h := range t.Assets {
		headers[i] = h.Minimize()
	}
	return headers, nil
}
