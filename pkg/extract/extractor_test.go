package extract

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/user/hdextract/pkg/bundle"
	"github.com/user/hdextract/pkg/bundle/bundletest"
	"github.com/user/hdextract/pkg/cache"
	"github.com/user/hdextract/pkg/id"
	"github.com/user/hdextract/pkg/names"
)

// listFiles returns the slash paths of all files below root.
func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(root, p)
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("walk %s: %v", root, err)
	}
	sort.Strings(out)
	return out
}

func textureAsset(x id.ID, stream []byte) bundletest.Asset {
	return bundletest.Asset{
		Header: bundle.AssetHeader{ID: x, TypeID: bundle.TypeTexture.ID(), Unk4C: 3},
		Data:   fill(0xC0+0x94, byte(x)),
		Stream: stream,
	}
}

// TestExtractBundle_Texture is the synthetic single texture bundle: one type
// entry, one asset with 1024 streamed bytes and no GPU payload.
func TestExtractBundle_Texture(t *testing.T) {
	data, out := t.TempDir(), t.TempDir()
	b := &bundletest.Builder{}
	b.Add(textureAsset(0x77, fill(1024, 1)))
	b.Write(t, data, "00000000000000b0")

	e := New(data, out, nil, Options{})
	if err := e.ExtractBundle("00000000000000b0"); err != nil {
		t.Fatalf("ExtractBundle failed: %v", err)
	}

	files := listFiles(t, out)
	want := "00000000000000b0/Texture/3_0000000000000077.dds"
	if len(files) != 1 || files[0] != want {
		t.Fatalf("files = %v, want [%s]", files, want)
	}
	first, err := os.ReadFile(filepath.Join(out, want))
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 0x94+1024 {
		t.Errorf("output length = %d, want %d", len(first), 0x94+1024)
	}

	if err := e.ExtractBundle("00000000000000b0"); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(filepath.Join(out, want))
	if !bytes.Equal(first, second) {
		t.Error("second run produced different bytes")
	}
}

func TestExtractBundle_ContinuesPastFailures(t *testing.T) {
	data, out := t.TempDir(), t.TempDir()
	b := &bundletest.Builder{NoStream: true}
	b.Add(
		textureAsset(1, fill(64, 1)), // stream sidecar is never written
		textureAsset(2, nil),         // gpu sidecar is never written either
		bundletest.Asset{
			Header: bundle.AssetHeader{ID: 3, TypeID: bundle.TypeWwiseDep.ID()},
			Data:   []byte("raw dependency"),
		},
	)
	b.Write(t, data, "00000000000000b1")

	err := New(data, out, nil, Options{Flatten: true}).ExtractBundle("00000000000000b1")
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	files := listFiles(t, out)
	want := []string{"WwiseDep_af32095c82f2b070/2_0000000000000003.bundle.bin"}
	if len(files) != 1 || files[0] != want[0] {
		t.Errorf("files = %v, want %v", files, want)
	}
	got, _ := os.ReadFile(filepath.Join(out, want[0]))
	if string(got) != "raw dependency" {
		t.Errorf("generic output = %q", got)
	}
}

func TestExtractBundle_FilterAndAdjust(t *testing.T) {
	data, out := t.TempDir(), t.TempDir()
	const other = id.ID(0xFEEDFACE)
	b := &bundletest.Builder{Adjust: map[id.ID]uint32{other: 0x20}}
	b.Add(
		textureAsset(1, fill(16, 1)),
		bundletest.Asset{Header: bundle.AssetHeader{ID: 5, TypeID: other}, Data: []byte("adjusted"), GPU: []byte("gpu!")},
	)
	b.Write(t, data, "00000000000000b2")

	e := New(data, out, nil, Options{Filter: bundle.AssetType(other)})
	if err := e.ExtractBundle("00000000000000b2"); err != nil {
		t.Fatalf("ExtractBundle failed: %v", err)
	}
	files := listFiles(t, out)
	want := []string{
		"00000000000000b2/Unknown_00000000feedface/1_0000000000000005.bundle.bin",
		"00000000000000b2/Unknown_00000000feedface/1_0000000000000005.gpu.bin",
	}
	if len(files) != 2 || files[0] != want[0] || files[1] != want[1] {
		t.Fatalf("files = %v, want %v", files, want)
	}
	got, _ := os.ReadFile(filepath.Join(out, want[0]))
	if string(got) != "adjusted" {
		t.Errorf("primary read ignored the type adjustment: %q", got)
	}
}

func TestExtractBundle_Missing(t *testing.T) {
	err := New(t.TempDir(), t.TempDir(), nil, Options{}).ExtractBundle("0000000000000bad")
	if err == nil || errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected an open error, got %v", err)
	}
}

func TestExtractID(t *testing.T) {
	data, out := t.TempDir(), t.TempDir()
	b := &bundletest.Builder{}
	b.Add(textureAsset(0x10, fill(32, 1)), textureAsset(0x11, fill(48, 2)))
	b.Write(t, data, "00000000000000c1")
	b = &bundletest.Builder{}
	b.Add(textureAsset(0x20, fill(8, 3)))
	b.Write(t, data, "00000000000000c2")

	ix, err := cache.Build(context.Background(), bundle.NewDir(data), cache.BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	var nb bytes.Buffer
	if err := names.Write(&nb, map[id.ID]string{0x11: "content/textures/helmet"}); err != nil {
		t.Fatal(err)
	}
	db, err := names.Read(&nb)
	if err != nil {
		t.Fatal(err)
	}

	e := New(data, out, ix, Options{})
	e.Names = db
	if err := e.ExtractID(0x11); err != nil {
		t.Fatalf("ExtractID failed: %v", err)
	}
	files := listFiles(t, out)
	if len(files) != 1 || files[0] != "Texture/content/textures/helmet.dds" {
		t.Fatalf("files = %v", files)
	}
	got, _ := os.ReadFile(filepath.Join(out, files[0]))
	if len(got) != 0x94+48 {
		t.Errorf("length = %d", len(got))
	}

	if err := e.ExtractID(0x999); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("unknown id: expected ErrNotFound, got %v", err)
	}
	if err := New(data, out, nil, Options{}).ExtractID(0x11); err == nil {
		t.Error("ExtractID without an index should fail")
	}
}

func TestExtractAll(t *testing.T) {
	data, out := t.TempDir(), t.TempDir()
	for i, name := range []string{"00000000000000d1", "00000000000000d2", "00000000000000d3"} {
		b := &bundletest.Builder{}
		b.Add(textureAsset(id.ID(0x100+i), fill(16, byte(i))))
		b.Write(t, data, name)
	}
	bundletest.WriteFile(t, filepath.Join(data, "00000000000000d4"), []byte("corrupt"))

	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			dst := filepath.Join(out, fmt.Sprint(workers))
			err := New(data, dst, nil, Options{Workers: workers}).ExtractAll(context.Background())
			if !errors.Is(err, ErrIncomplete) {
				t.Fatalf("expected ErrIncomplete for the corrupt bundle, got %v", err)
			}
			if files := listFiles(t, dst); len(files) != 3 {
				t.Errorf("files = %v, want 3", files)
			}
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New(data, out, nil, Options{}).ExtractAll(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCleanName(t *testing.T) {
	cases := map[string]string{
		"content/a/b":      "content/a/b",
		`content\a\b`:      "content/a/b",
		"../../etc/passwd": "etc/passwd",
		"/abs/path":        "abs/path",
		"":                 "",
		"..":               "",
	}
	for in, want := range cases {
		if got := cleanName(in); got != want {
			t.Errorf("cleanName(%q) = %q, want %q", in, got, want)
		}
	}
}

// bankAssets returns an embedded bank and the WwiseDep asset holding its
// path.
func bankAssets(bankID, depID id.ID, path string, bank []byte) []bundletest.Asset {
	var primary bytes.Buffer
	binary.Write(&primary, binary.LittleEndian, uint32(0))
	binary.Write(&primary, binary.LittleEndian, uint32(len(bank)))
	binary.Write(&primary, binary.BigEndian, uint64(depID))
	primary.Write(bank)

	dep := append(make([]byte, 8), path...)
	dep = append(dep, 0)
	return []bundletest.Asset{
		{Header: bundle.AssetHeader{ID: bankID, TypeID: bundle.TypeWwiseBank.ID()}, Data: primary.Bytes()},
		{Header: bundle.AssetHeader{ID: depID, TypeID: bundle.TypeWwiseDep.ID()}, Data: dep},
	}
}

func TestExtractBundle_BanksWithSameBaseName(t *testing.T) {
	data, out := t.TempDir(), t.TempDir()
	b := &bundletest.Builder{}
	b.Add(bankAssets(0xA1, 0xD1, "content/audio/music/main.bnk", fill(32, 1))...)
	b.Add(bankAssets(0xA2, 0xD2, "content/audio/sfx/main.bnk", fill(32, 9))...)
	b.Write(t, data, "00000000000000e1")

	ix, err := cache.Build(context.Background(), bundle.NewDir(data), cache.BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	e := New(data, out, ix, Options{Filter: bundle.TypeWwiseBank, Flatten: true})
	if err := e.ExtractBundle("00000000000000e1"); err != nil {
		t.Fatalf("ExtractBundle failed: %v", err)
	}

	files := listFiles(t, out)
	want := []string{
		"WwiseBank/content/audio/music/main.bnk",
		"WwiseBank/content/audio/sfx/main.bnk",
	}
	if len(files) != 2 || files[0] != want[0] || files[1] != want[1] {
		t.Fatalf("files = %v, want %v", files, want)
	}
	music, _ := os.ReadFile(filepath.Join(out, want[0]))
	sfx, _ := os.ReadFile(filepath.Join(out, want[1]))
	if len(music) != 32 || bytes.Equal(music, sfx) {
		t.Errorf("banks were not kept apart: %x / %x", music, sfx)
	}
}

func TestExtractBundle_ZeroFilterExtractsEverything(t *testing.T) {
	data := t.TempDir()
	b := &bundletest.Builder{}
	b.Add(
		textureAsset(0x31, fill(16, 1)),
		bundletest.Asset{Header: bundle.AssetHeader{ID: 0x32, TypeID: bundle.TypeWwiseDep.ID()}, Data: []byte("dep")},
	)
	b.Write(t, data, "00000000000000e2")

	for _, filter := range []bundle.AssetType{0, bundle.TypeUnknown} {
		out := t.TempDir()
		if err := New(data, out, nil, Options{Filter: filter}).ExtractBundle("00000000000000e2"); err != nil {
			t.Fatalf("filter %#x: %v", uint64(filter), err)
		}
		if files := listFiles(t, out); len(files) != 2 {
			t.Errorf("filter %#x: files = %v, want 2", uint64(filter), files)
		}
	}
}
