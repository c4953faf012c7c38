// Package cache maps asset ids to the bundles that hold them.
//
// An Index is built once by scanning a data directory (Build) or loaded from
// the file a previous run saved (Load). After that it is only read, and may be
// shared between goroutines.
package cache

import (
	"sort"

	"github.com/hashicorp/golang-lru/arc/v2"
	"github.com/pkg/errors"
	"github.com/user/hdextract/pkg/bundle"
	"github.com/user/hdextract/pkg/id"
)

// ErrNotFound is returned when a lookup cannot be satisfied.
var ErrNotFound = errors.New("id not found in index")

const memoSize = 1 << 14

type memoKey struct {
	x    id.ID
	kind bundle.AssetType
}

type memoEntry struct {
	bundle id.ID
	header bundle.MinimizedHeader
	found  bool
}

// Index holds the minimized asset headers of every indexed bundle.
type Index struct {
	bundles map[id.ID][]bundle.MinimizedHeader
	order   []id.ID // sorted keys of bundles

	// memo caches unscoped lookups, hits and misses alike.
	memo *arc.ARCCache[memoKey, memoEntry]
}

// New returns an empty index.
func New() *Index {
	memo, err := arc.NewARC[memoKey, memoEntry](memoSize)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	return &Index{
		bundles: make(map[id.ID][]bundle.MinimizedHeader),
		memo:    memo,
	}
}

// Add stores the headers of one bundle, replacing any previous entry.
// It must not be called while other goroutines use the index.
func (ix *Index) Add(bundleID id.ID, headers []bundle.MinimizedHeader) {
	if _, ok := ix.bundles[bundleID]; !ok {
		i := sort.Search(len(ix.order), func(i int) bool { return ix.order[i] >= bundleID })
		ix.order = append(ix.order, 0)
		copy(ix.order[i+1:], ix.order[i:])
		ix.order[i] = bundleID
	}
	ix.bundles[bundleID] = headers
	ix.memo.Purge()
}

// Bundles returns the indexed bundle ids in ascending order.
func (ix *Index) Bundles() []id.ID {
	return append([]id.ID(nil), ix.order...)
}

// Headers returns the headers recorded for one bundle.
func (ix *Index) Headers(bundleID id.ID) ([]bundle.MinimizedHeader, bool) {
	h, ok := ix.bundles[bundleID]
	return h, ok
}

// Len returns the number of bundles and the total number of headers.
func (ix *Index) Len() (bundles, headers int) {
	for _, h := range ix.bundles {
		headers += len(h)
	}
	return len(ix.bundles), headers
}

func matches(h *bundle.MinimizedHeader, x id.ID, kind bundle.AssetType) bool {
	if h.ID != x {
		return false
	}
	return kind == bundle.TypeUnknown || h.TypeID == kind.ID()
}

// Lookup finds the header of asset x. A kind of bundle.TypeUnknown matches
// every type. With a valid scope only that bundle is searched, and the lookup
// fails even when another bundle holds x. Without a scope the first match in
// ascending bundle id order wins; ids duplicated across bundles therefore
// resolve to the lowest bundle id.
func (ix *Index) Lookup(x id.ID, kind bundle.AssetType, scope id.ID) (id.ID, bundle.MinimizedHeader, error) {
	if scope.IsValid() {
		headers, ok := ix.bundles[scope]
		if !ok {
			return id.Invalid, bundle.MinimizedHeader{}, errors.Wrapf(ErrNotFound, "bundle %s is not indexed", scope)
		}
		for i := range headers {
			if matches(&headers[i], x, kind) {
				return scope, headers[i], nil
			}
		}
		return id.Invalid, bundle.MinimizedHeader{}, errors.Wrapf(ErrNotFound, "id %s (type %s) not in bundle %s", x, kind, scope)
	}

	key := memoKey{x, kind}
	e, ok := ix.memo.Get(key)
	if !ok {
		e = ix.search(x, kind)
		ix.memo.Add(key, e)
	}
	if !e.found {
		return id.Invalid, bundle.MinimizedHeader{}, errors.Wrapf(ErrNotFound, "id %s (type %s)", x, kind)
	}
	return e.bundle, e.header, nil
}

func (ix *Index) search(x id.ID, kind bundle.AssetType) memoEntry {
	for _, b := range ix.order {
		headers := ix.bundles[b]
		for i := range headers {
			if matches(&headers[i], x, kind) {
				return memoEntry{bundle: b, header: headers[i], found: true}
			}
		}
	}
	return memoEntry{}
}

// Locate lists every bundle holding x, in ascending order.
func (ix *Index) Locate(x id.ID) []id.ID {
	var out []id.ID
	for _, b := range ix.order {
		for _, h := range ix.bundles[b] {
			if h.ID == x {
				out = append(out, b)
				break
			}
		}
	}
	return out
}
