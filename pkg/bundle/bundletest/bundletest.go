// Package bundletest builds synthetic bundles and sidecars for tests.
package bundletest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/hdextract/pkg/bundle"
	"github.com/user/hdextract/pkg/id"
)

// Asset is one asset to lay out. Unless Raw is set the builder fills in the
// offsets and sizes of Header from Data, Stream and GPU.
type Asset struct {
	Header bundle.AssetHeader
	Data   []byte
	Stream []byte
	GPU    []byte
	Raw    bool
}

// Builder lays out a bundle: table first, then primary payloads in asset
// order. Stream and GPU payloads are concatenated into their sidecars.
type Builder struct {
	Header bundle.Header // opaque fields are copied into the output
	// Adjust sets the type table offset adjustment per type id.
	Adjust map[id.ID]uint32

	ForceStream bool // write a .stream file even when it would be empty
	ForceGPU    bool
	NoStream    bool // never write a .stream file
	NoGPU       bool

	assets []Asset
}

func (b *Builder) Add(assets ...Asset) *Builder {
	b.assets = append(b.assets, assets...)
	return b
}

// Build returns the encoded files and the table they contain.
func (b *Builder) Build() (primary, stream, gpu []byte, table *bundle.Table) {
	var order []id.ID
	byType := map[id.ID][]Asset{}
	for _, a := range b.assets {
		if _, ok := byType[a.Header.TypeID]; !ok {
			order = append(order, a.Header.TypeID)
		}
		byType[a.Header.TypeID] = append(byType[a.Header.TypeID], a)
	}

	table = &bundle.Table{Header: b.Header}
	table.Header.Magic = bundle.Magic
	table.Header.TypeCount = uint32(len(order))
	table.Header.AssetCount = uint64(len(b.assets))
	for _, t := range order {
		table.Types = append(table.Types, bundle.TypeEntry{
			TypeID:           t,
			AssetCount:       uint64(len(byType[t])),
			DataOffsetAdjust: b.Adjust[t],
		})
	}

	// payloads start after the complete table, asset headers included
	sized := bundle.Table{Types: table.Types, Assets: make([]bundle.AssetHeader, len(b.assets))}
	dataPos := uint64(sized.Size())
	var data, streamBuf, gpuBuf bytes.Buffer
	for _, t := range order {
		for _, a := range byType[t] {
			h := a.Header
			if !a.Raw {
				h.DataOffset = dataPos + uint64(data.Len()) - uint64(b.Adjust[t])
				h.DataSize = uint32(len(a.Data))
				h.StreamOffset = uint32(streamBuf.Len())
				h.StreamSize = uint32(len(a.Stream))
				h.GPUOffset = uint64(gpuBuf.Len())
				h.GPUSize = uint32(len(a.GPU))
			}
			data.Write(a.Data)
			streamBuf.Write(a.Stream)
			gpuBuf.Write(a.GPU)
			table.Assets = append(table.Assets, h)
		}
	}

	var out bytes.Buffer
	if err := bundle.WriteTable(&out, table); err != nil {
		panic(err)
	}
	out.Write(data.Bytes())
	return out.Bytes(), streamBuf.Bytes(), gpuBuf.Bytes(), table
}

// Write stores the bundle as dir/name plus its sidecars and returns the
// bundle path.
func (b *Builder) Write(t testing.TB, dir, name string) string {
	t.Helper()
	primary, stream, gpu, _ := b.Build()
	path := filepath.Join(dir, name)
	WriteFile(t, path, primary)
	if !b.NoStream && (len(stream) > 0 || b.ForceStream) {
		WriteFile(t, path+bundle.StreamExt, stream)
	}
	if !b.NoGPU && (len(gpu) > 0 || b.ForceGPU) {
		WriteFile(t, path+bundle.GPUExt, gpu)
	}
	return path
}

func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

// Filled returns n bytes counting up from seed.
func Filled(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}
