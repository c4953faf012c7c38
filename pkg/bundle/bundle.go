package bundle

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/user/hdextract/pkg/id"
	"golang.org/x/exp/mmap"
)

// Sidecar file extensions, appended to the bundle path.
const (
	StreamExt = ".stream"
	GPUExt    = ".gpu_resources"
)

// Bundle is an opened bundle with its parsed table and whichever sidecars
// were found next to it. All reads are positioned reads on memory maps.
type Bundle struct {
	ID    id.ID // parsed from the file name, id.Invalid if it is not hex
	Path  string
	Table *Table

	StreamPath string
	GPUPath    string

	primary *mmap.ReaderAt
	stream  *mmap.ReaderAt
	gpu     *mmap.ReaderAt
}

// Open maps a bundle file, parses its table and probes for the .stream and
// .gpu_resources sidecars. A missing sidecar is not an error here.
func Open(path string) (*Bundle, error) {
	primary, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open bundle file %s", path)
	}

	b := &Bundle{
		ID:      id.Invalid,
		Path:    path,
		primary: primary,
	}
	if v, err := id.Parse(filepath.Base(path)); err == nil {
		b.ID = v
	}

	t, err := ReadTable(io.NewSectionReader(primary, 0, int64(primary.Len())))
	if err != nil {
		primary.Close()
		return nil, errors.Wrapf(err, "failed to parse bundle %s", path)
	}
	b.Table = t

	if b.stream, err = openSidecar(path + StreamExt); err != nil {
		b.Close()
		return nil, err
	}
	if b.stream != nil {
		b.StreamPath = path + StreamExt
	}
	if b.gpu, err = openSidecar(path + GPUExt); err != nil {
		b.Close()
		return nil, err
	}
	if b.gpu != nil {
		b.GPUPath = path + GPUExt
	}
	return b, nil
}

func openSidecar(path string) (*mmap.ReaderAt, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to stat sidecar %s", path)
	}
	r, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open sidecar %s", path)
	}
	return r, nil
}

// Close unmaps the bundle and its sidecars.
func (b *Bundle) Close() error {
	var first error
	for _, r := range []*mmap.ReaderAt{b.primary, b.stream, b.gpu} {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	b.primary, b.stream, b.gpu = nil, nil, nil
	return first
}

func (b *Bundle) HasStream() bool { return b.stream != nil }
func (b *Bundle) HasGPU() bool    { return b.gpu != nil }

// StreamSize is the length of the .stream sidecar, 0 when absent.
func (b *Bundle) StreamSize() int64 {
	if b.stream == nil {
		return 0
	}
	return int64(b.stream.Len())
}

// GPUSize is the length of the .gpu_resources sidecar, 0 when absent.
func (b *Bundle) GPUSize() int64 {
	if b.gpu == nil {
		return 0
	}
	return int64(b.gpu.Len())
}

// Primary returns size bytes of the bundle file at off.
func (b *Bundle) Primary(off uint64, size uint32) ([]byte, error) {
	if b.primary == nil {
		return nil, errors.Errorf("bundle %s is closed", b.Path)
	}
	data, err := readRange(b.primary, off, size)
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "bundle %s: %v", b.Path, err)
	}
	return data, nil
}

// Stream returns size bytes of the .stream sidecar at off.
func (b *Bundle) Stream(off uint64, size uint32) ([]byte, error) {
	if b.stream == nil {
		return nil, errors.Wrapf(ErrMissingPayload, "stream file %s%s referenced but not found", b.Path, StreamExt)
	}
	data, err := readRange(b.stream, off, size)
	if err != nil {
		return nil, errors.Wrapf(ErrMissingPayload, "stream file %s: %v", b.StreamPath, err)
	}
	return data, nil
}

// GPU returns size bytes of the .gpu_resources sidecar at off.
func (b *Bundle) GPU(off uint64, size uint32) ([]byte, error) {
	if b.gpu == nil {
		return nil, errors.Wrapf(ErrMissingPayload, "gpu resource file %s%s referenced but not found", b.Path, GPUExt)
	}
	data, err := readRange(b.gpu, off, size)
	if err != nil {
		return nil, errors.Wrapf(ErrMissingPayload, "gpu resource file %s: %v", b.GPUPath, err)
	}
	return data, nil
}

func readRange(r *mmap.ReaderAt, off uint64, size uint32) ([]byte, error) {
	end := off + uint64(size)
	if end < off || end > uint64(r.Len()) {
		return nil, errors.Errorf("range %#x+%#x out of bounds (length %#x)", off, size, r.Len())
	}
	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}
	if _, err := r.ReadAt(buf, int64(off)); err != nil {
		return nil, errors.Wrapf(err, "short read at %#x", off)
	}
	return buf, nil
}

// Dir opens the bundles of one data directory.
type Dir struct {
	Path string
}

func NewDir(path string) *Dir {
	return &Dir{Path: path}
}

// Open opens the bundle named by its id.
func (d *Dir) Open(bundleID id.ID) (*Bundle, error) {
	return d.OpenName(bundleID.String())
}

// OpenName opens a bundle by file name.
func (d *Dir) OpenName(name string) (*Bundle, error) {
	path := filepath.Join(d.Path, name)
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "tried to open nonexistent bundle %s", path)
	}
	return Open(path)
}

// List returns the bundle file names of the directory in sorted order.
// Names containing a dot (sidecars and other files) and "game" are skipped.
func (d *Dir) List() ([]string, error) {
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read data directory %s", d.Path)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.Contains(name, ".") || name == "game" {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
