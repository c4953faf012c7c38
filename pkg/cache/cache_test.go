package cache_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/user/hdextract/pkg/bundle"
	"github.com/user/hdextract/pkg/bundle/bundletest"
	"github.com/user/hdextract/pkg/cache"
	"github.com/user/hdextract/pkg/id"
)

func header(x id.ID, kind bundle.AssetType, off uint64) bundle.MinimizedHeader {
	return bundle.MinimizedHeader{ID: x, TypeID: kind.ID(), DataOffset: off, DataSize: 16, GPUOffset: off * 2, GPUSize: 4}
}

func sampleIndex() *cache.Index {
	ix := cache.New()
	ix.Add(0xB, []bundle.MinimizedHeader{
		header(0x100, bundle.TypeTexture, 0x200),
		header(0x101, bundle.TypeUnit, 0x300),
	})
	ix.Add(0xA, []bundle.MinimizedHeader{
		header(0x200, bundle.TypeWwiseDep, 0x10),
		header(0x101, bundle.TypeTexture, 0x20),
	})
	ix.Add(0xC, nil)
	return ix
}

func TestIndex_RoundTrip(t *testing.T) {
	ix := sampleIndex()

	var buf bytes.Buffer
	n, err := ix.WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	// 4 + 3 bundles × 12 + 4 headers × 48
	if want := int64(4 + 3*12 + 4*bundle.MinimizedHeaderSize); n != want || int64(buf.Len()) != want {
		t.Errorf("wrote %d bytes (reported %d), want %d", buf.Len(), n, want)
	}

	back := cache.New()
	if _, err := back.ReadFrom(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	if !reflect.DeepEqual(ix.Bundles(), back.Bundles()) {
		t.Fatalf("bundles = %v, want %v", back.Bundles(), ix.Bundles())
	}
	for _, b := range ix.Bundles() {
		want, _ := ix.Headers(b)
		got, _ := back.Headers(b)
		if len(want) != len(got) {
			t.Fatalf("bundle %s: %d headers, want %d", b, len(got), len(want))
		}
		for i := range want {
			if want[i] != got[i] {
				t.Errorf("bundle %s header %d = %+v, want %+v", b, i, got[i], want[i])
			}
		}
	}
}

func TestIndex_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.cache")
	ix := sampleIndex()
	if err := ix.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	back, err := cache.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	nb, nh := back.Len()
	if nb != 3 || nh != 4 {
		t.Errorf("Len() = %d, %d; want 3, 4", nb, nh)
	}
}

func TestIndex_ReadTruncated(t *testing.T) {
	var buf bytes.Buffer
	if _, err := sampleIndex().WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	for _, cut := range []int{2, 10, len(data) - 1} {
		_, err := cache.New().ReadFrom(bytes.NewReader(data[:cut]))
		if !errors.Is(err, bundle.ErrFormat) {
			t.Errorf("cut at %d: expected ErrFormat, got %v", cut, err)
		}
	}
}

func TestLookup_Scoped(t *testing.T) {
	ix := sampleIndex()

	// 0x200 lives in bundle A only.
	if _, _, err := ix.Lookup(0x200, bundle.TypeUnknown, 0xB); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("scoped lookup outside the owning bundle: expected ErrNotFound, got %v", err)
	}
	b, h, err := ix.Lookup(0x200, bundle.TypeWwiseDep, 0xA)
	if err != nil {
		t.Fatalf("scoped lookup failed: %v", err)
	}
	if b != 0xA || h.DataOffset != 0x10 {
		t.Errorf("scoped lookup = %s %+v", b, h)
	}
	if _, _, err := ix.Lookup(0x200, bundle.TypeUnknown, 0xEE); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("lookup scoped to an unknown bundle: expected ErrNotFound, got %v", err)
	}
}

func TestLookup_Unscoped(t *testing.T) {
	ix := sampleIndex()

	// 0x101 is in both A (texture) and B (unit); A sorts first.
	b, h, err := ix.Lookup(0x101, bundle.TypeUnknown, id.Invalid)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if b != 0xA || h.Kind() != bundle.TypeTexture {
		t.Errorf("unscoped lookup = %s %s, want bundle a texture", b, h.Kind())
	}

	// The type filter skips A's texture.
	b, h, err = ix.Lookup(0x101, bundle.TypeUnit, id.Invalid)
	if err != nil {
		t.Fatalf("Lookup with type filter failed: %v", err)
	}
	if b != 0xB || h.Kind() != bundle.TypeUnit {
		t.Errorf("filtered lookup = %s %s, want bundle b unit", b, h.Kind())
	}

	// Repeated lookups go through the memo and must agree.
	for i := 0; i < 3; i++ {
		if _, _, err := ix.Lookup(0x999, bundle.TypeUnknown, id.Invalid); !errors.Is(err, cache.ErrNotFound) {
			t.Fatalf("missing id: expected ErrNotFound, got %v", err)
		}
		if b2, _, _ := ix.Lookup(0x101, bundle.TypeUnit, id.Invalid); b2 != 0xB {
			t.Fatalf("memoised lookup returned bundle %s", b2)
		}
	}

	// Adding a bundle invalidates memoised misses.
	ix.Add(0xD, []bundle.MinimizedHeader{header(0x999, bundle.TypeString, 1)})
	if b, _, err := ix.Lookup(0x999, bundle.TypeUnknown, id.Invalid); err != nil || b != 0xD {
		t.Errorf("lookup after Add = %s, %v", b, err)
	}

	if got := ix.Locate(0x101); !reflect.DeepEqual(got, []id.ID{0xA, 0xB}) {
		t.Errorf("Locate = %v", got)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := sampleIndex().WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	var decoded map[string][]map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	entries := decoded["000000000000000a"]
	if len(entries) != 2 {
		t.Fatalf("bundle a has %d entries: %s", len(entries), buf.String())
	}
	if entries[0]["id"] != "0000000000000200" || entries[0]["type"] != "WwiseDep" {
		t.Errorf("unexpected first entry %v", entries[0])
	}
}

func writeBundle(t *testing.T, dir, name string, ids ...id.ID) {
	t.Helper()
	b := &bundletest.Builder{}
	for _, x := range ids {
		b.Add(bundletest.Asset{
			Header: bundle.AssetHeader{ID: x, TypeID: bundle.TypeTexture.ID()},
			Data:   bundletest.Filled(8, byte(x)),
		})
	}
	b.Write(t, dir, name)
}

func TestBuild_SkipsBrokenBundles(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "00000000000000a1", 1, 2)
	writeBundle(t, dir, "00000000000000a2", 3)
	bundletest.WriteFile(t, filepath.Join(dir, "00000000000000a3"), []byte("not a bundle at all"))
	bundletest.WriteFile(t, filepath.Join(dir, "00000000000000a1.stream"), nil)

	ix, err := cache.Build(context.Background(), bundle.NewDir(dir), cache.BuildOptions{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if got := ix.Bundles(); !reflect.DeepEqual(got, []id.ID{0xa1, 0xa2}) {
		t.Fatalf("indexed bundles = %v", got)
	}
	b, h, err := ix.Lookup(3, bundle.TypeTexture, id.Invalid)
	if err != nil || b != 0xa2 {
		t.Fatalf("Lookup(3) = %s, %v", b, err)
	}
	if h.DataSize != 8 {
		t.Errorf("DataSize = %d, want 8", h.DataSize)
	}
}

func TestBuild_WorkersDeterministic(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 12; i++ {
		writeBundle(t, dir, id.ID(0x1000+i).String(), id.ID(i), id.ID(100+i))
	}

	seq, err := cache.Build(context.Background(), bundle.NewDir(dir), cache.BuildOptions{Workers: 1})
	if err != nil {
		t.Fatal(err)
	}
	par, err := cache.Build(context.Background(), bundle.NewDir(dir), cache.BuildOptions{Workers: 4})
	if err != nil {
		t.Fatal(err)
	}

	var a, b bytes.Buffer
	seq.WriteTo(&a)
	par.WriteTo(&b)
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Error("parallel build differs from sequential build")
	}
}

func TestBuild_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "0000000000000001", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := cache.Build(ctx, bundle.NewDir(dir), cache.BuildOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
