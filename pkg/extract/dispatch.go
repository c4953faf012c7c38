// Package extract turns bundle assets back into usable files.
//
// Reconstruct dispatches one asset to the reconstructor for its type, or to
// generic extraction, and returns the files it produced. Extractor drives
// Reconstruct over a bundle, a single id or a whole data directory and writes
// the results.
package extract

import (
	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/user/hdextract/pkg/bundle"
	"github.com/user/hdextract/pkg/id"
)

var (
	// ErrUnknownLayout marks a vertex stride without a known layout. The
	// mesh is still written, with zero vertices in place of the data.
	ErrUnknownLayout = errors.New("unknown vertex layout")
	// ErrIncomplete is returned by batch extraction when some assets or
	// bundles failed and were skipped.
	ErrIncomplete = errors.New("extraction incomplete")
)

// Payloads gives positioned access to the three payload sources of a bundle.
// *bundle.Bundle implements it.
type Payloads interface {
	Primary(off uint64, size uint32) ([]byte, error)
	Stream(off uint64, size uint32) ([]byte, error)
	GPU(off uint64, size uint32) ([]byte, error)
}

// Resolver finds the bundle and header of an asset id. kind
// bundle.TypeUnknown matches any type; scope id.Invalid searches every
// bundle. *cache.Index implements it.
type Resolver interface {
	Lookup(x id.ID, kind bundle.AssetType, scope id.ID) (id.ID, bundle.MinimizedHeader, error)
}

// Job is one asset to reconstruct.
type Job struct {
	BundleID id.ID
	Header   bundle.AssetHeader
	Position int    // index of Header in the bundle's asset list
	Adjust   uint32 // type table offset adjustment for primary reads
	Payloads Payloads
	Resolver Resolver // may be nil
	Strict   bool     // fail instead of falling back when a reference does not resolve
	Log      log.Interface
}

func (j *Job) logger() log.Interface {
	if j.Log == nil {
		return log.Log
	}
	return j.Log
}

func (j *Job) lookup(x id.ID, kind bundle.AssetType, scope id.ID) (id.ID, bundle.MinimizedHeader, error) {
	if j.Resolver == nil {
		return id.Invalid, bundle.MinimizedHeader{}, errors.Errorf("no index to resolve %s", x)
	}
	return j.Resolver.Lookup(x, kind, scope)
}

// Output is one reconstructed file.
type Output struct {
	// Name is the preferred file name without extension. Empty lets the
	// caller choose.
	Name string
	// Suffix is set by generic extraction only: "bundle", "stream" or "gpu".
	Suffix string
	Data   []byte
}

type reconstructor func(j *Job) ([]Output, error)

var reconstructors = map[bundle.AssetType]reconstructor{
	bundle.TypeTexture:   reconstructTexture,
	bundle.TypeUnit:      reconstructMesh,
	bundle.TypeWwiseBank: reconstructBank,
	bundle.TypeWwiseWem:  reconstructWem,
	bundle.TypeString:    reconstructStrings,
}

// Specialized reports whether assets of type t have a dedicated
// reconstructor rather than generic extraction.
func Specialized(t bundle.AssetType) bool {
	_, ok := reconstructors[t]
	return ok
}

// Reconstruct rebuilds one asset. Failures carry the asset and bundle ids.
func Reconstruct(j *Job) ([]Output, error) {
	fn, ok := reconstructors[j.Header.Kind()]
	if !ok {
		fn = extractGeneric
	}
	out, err := fn(j)
	if err != nil {
		return nil, errors.Wrapf(err, "asset %s (%s) in bundle %s", j.Header.ID, j.Header.Kind(), j.BundleID)
	}
	return out, nil
}
