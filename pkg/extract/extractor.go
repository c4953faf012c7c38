package extract

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/user/hdextract/pkg/bundle"
	"github.com/user/hdextract/pkg/cache"
	"github.com/user/hdextract/pkg/id"
	"github.com/user/hdextract/pkg/names"
	"golang.org/x/sync/errgroup"
)

// Options controls what an Extractor writes and how it reacts to failures.
type Options struct {
	// Flatten writes every bundle into the same tree instead of one
	// directory per bundle.
	Flatten bool
	// Filter restricts batch extraction to one type id. The zero value and
	// bundle.TypeUnknown extract everything.
	Filter bundle.AssetType
	// Strict turns unresolved references into failures.
	Strict bool
	// Workers is the number of bundles ExtractAll processes at once.
	Workers int
}

// Extractor writes reconstructed assets of one data directory.
type Extractor struct {
	Dir    *bundle.Dir
	OutDir string
	Index  *cache.Index // may be nil for ExtractBundle
	Names  *names.DB    // may be nil
	Options
	Log log.Interface
}

// New returns an Extractor reading dataDir and writing below outDir.
func New(dataDir, outDir string, ix *cache.Index, opts Options) *Extractor {
	return &Extractor{
		Dir:     bundle.NewDir(dataDir),
		OutDir:  outDir,
		Index:   ix,
		Options: opts,
		Log:     log.Log,
	}
}

func (e *Extractor) logger() log.Interface {
	if e.Log == nil {
		return log.Log
	}
	return e.Log
}

func (e *Extractor) resolver() Resolver {
	if e.Index == nil {
		return nil
	}
	return e.Index
}

func (e *Extractor) job(b *bundle.Bundle, pos int, h bundle.AssetHeader) *Job {
	entry, _ := b.Table.Entry(h.TypeID)
	return &Job{
		BundleID: b.ID,
		Header:   h,
		Position: pos,
		Adjust:   entry.DataOffsetAdjust,
		Payloads: b,
		Resolver: e.resolver(),
		Strict:   e.Strict,
		Log:      e.logger(),
	}
}

// wanted reports whether h passes the type filter. Both the zero value and
// bundle.TypeUnknown mean no filter.
func (e *Extractor) wanted(h *bundle.AssetHeader) bool {
	if e.Filter == 0 || e.Filter == bundle.TypeUnknown {
		return true
	}
	return h.TypeID == e.Filter.ID()
}

// ExtractBundle extracts every asset of the named bundle. Failed assets are
// logged and skipped; if any failed the returned error wraps ErrIncomplete.
// A bundle that cannot be opened is returned as is.
func (e *Extractor) ExtractBundle(name string) error {
	done, failed, err := e.extractBundle(name)
	if err != nil {
		return err
	}
	if failed > 0 {
		return errors.Wrapf(ErrIncomplete, "bundle %s: %d of %d assets failed", name, failed, done+failed)
	}
	return nil
}

func (e *Extractor) extractBundle(name string) (done, failed int, err error) {
	b, err := e.Dir.OpenName(name)
	if err != nil {
		return 0, 0, err
	}
	defer b.Close()

	root := e.OutDir
	if !e.Flatten {
		root = filepath.Join(e.OutDir, name)
	}
	logger := e.logger().WithField("bundle", name)
	logger.WithField("assets", len(b.Table.Assets)).Info("extracting bundle")

	for pos, h := range b.Table.Assets {
		if !e.wanted(&h) {
			continue
		}
		if err := e.extractAsset(root, e.job(b, pos, h)); err != nil {
			logger.WithFields(log.Fields{
				"asset": h.ID,
				"type":  h.Kind(),
				"error": err,
			}).Error("asset failed")
			failed++
			continue
		}
		done++
	}
	return done, failed, nil
}

// ExtractID resolves x through the index and extracts that one asset into
// the flat output tree. Any failure is returned.
func (e *Extractor) ExtractID(x id.ID) error {
	if e.Index == nil {
		return errors.New("extracting by id needs an index")
	}
	bundleID, mh, err := e.Index.Lookup(x, bundle.TypeUnknown, id.Invalid)
	if err != nil {
		return err
	}
	if where := e.Index.Locate(x); len(where) > 1 {
		e.logger().WithFields(log.Fields{
			"asset":   x,
			"bundles": where,
			"using":   bundleID,
		}).Warn("id present in several bundles")
	}

	b, err := e.Dir.Open(bundleID)
	if err != nil {
		return err
	}
	defer b.Close()

	for pos, h := range b.Table.Assets {
		if h.ID == x && h.TypeID == mh.TypeID {
			return e.extractAsset(e.OutDir, e.job(b, pos, h))
		}
	}
	return errors.Wrapf(cache.ErrNotFound, "asset %s no longer in bundle %s, rebuild the index", x, bundleID)
}

// ExtractAll extracts every bundle of the data directory. Bundles and
// assets that fail are logged and skipped; the error wraps ErrIncomplete if
// anything failed, or is the context error if ctx ended first.
func (e *Extractor) ExtractAll(ctx context.Context) error {
	list, err := e.Dir.List()
	if err != nil {
		return err
	}

	var (
		mu                              sync.Mutex
		assets, failedAssets, failedBun int
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.Workers, 1))
	for _, name := range list {
		name := name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			done, failed, err := e.extractBundle(name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger().WithFields(log.Fields{
					"bundle": name,
					"error":  err,
				}).Error("bundle failed")
				failedBun++
				return nil
			}
			assets += done
			failedAssets += failed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.logger().WithFields(log.Fields{
		"bundles": len(list),
		"assets":  assets,
	}).Info("extraction finished")
	if failedBun > 0 || failedAssets > 0 {
		return errors.Wrapf(ErrIncomplete, "%d of %d bundles and %d assets failed", failedBun, len(list), failedAssets)
	}
	return nil
}

func (e *Extractor) extractAsset(root string, j *Job) error {
	outs, err := Reconstruct(j)
	if err != nil {
		return err
	}
	for _, o := range outs {
		p := e.outputPath(root, j, o)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return errors.Wrapf(err, "failed to create directory for %s", p)
		}
		if err := os.WriteFile(p, o.Data, 0644); err != nil {
			return errors.Wrapf(err, "failed to write %s", p)
		}
		e.logger().WithFields(log.Fields{
			"asset": j.Header.ID,
			"path":  p,
			"size":  len(o.Data),
		}).Debug("wrote")
	}
	return nil
}

// outputPath places reconstructed files at <root>/<Type>/<name>.<ext> and
// generic ones at <root>/<Type>_<typeid>/<pos>_<id>.<source>.<ext>.
func (e *Extractor) outputPath(root string, j *Job, o Output) string {
	h := j.Header
	kind := h.Kind()
	ext := kind.Extension()

	if o.Suffix != "" {
		dir := filepath.Join(root, fmt.Sprintf("%s_%s", kind, h.TypeID))
		return filepath.Join(dir, fmt.Sprintf("%d_%s.%s.%s", j.Position, h.ID, o.Suffix, ext))
	}

	name := o.Name
	if name == "" {
		if n, ok := e.Names.Name(h.ID); ok {
			name = cleanName(n)
		}
	}
	if name == "" {
		name = fmt.Sprintf("%d_%s", h.Unk4C, h.ID)
	}
	return filepath.Join(root, kind.String(), filepath.FromSlash(name)+"."+ext)
}

// cleanName turns a resource name into a relative slash path that cannot
// leave the output directory.
func cleanName(n string) string {
	n = strings.ReplaceAll(n, "\\", "/")
	n = strings.TrimPrefix(path.Clean("/"+n), "/")
	if n == "." {
		return ""
	}
	return n
}
