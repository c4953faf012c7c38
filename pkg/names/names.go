// Package names reads and writes the name database, a compressed table that
// maps asset ids back to the resource names they were hashed from.
package names

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/user/hdextract/pkg/id"
)

var Magic = [4]byte{'P', 'N', 'D', 'B'}

// ErrFormat reports a database that cannot be decoded.
var ErrFormat = errors.New("name database format error")

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

const maxDecompressed = 1 << 30

type fileHeader struct {
	Magic            [4]byte
	Count            uint32
	CompressedSize   uint32
	DecompressedSize uint32
}

// DB is a read-only id to name table.
type DB struct {
	names map[id.ID]string
}

// Name returns the resource name of x, if known.
func (db *DB) Name(x id.ID) (string, bool) {
	if db == nil {
		return "", false
	}
	n, ok := db.names[x]
	return n, ok
}

func (db *DB) Len() int {
	if db == nil {
		return 0
	}
	return len(db.names)
}

// Open reads the database at path.
func Open(path string) (*DB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open name database %s", path)
	}
	defer f.Close()
	db, err := Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "name database %s", path)
	}
	return db, nil
}

// Read decodes a database. The block is LZ4 unless it starts with a zstd
// frame magic. The decompressed block holds count NUL-terminated names
// followed by count u64 ids in the same order.
func Read(r io.Reader) (*DB, error) {
	var h fileHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, errors.Wrapf(ErrFormat, "failed to read header: %v", err)
	}
	if h.Magic != Magic {
		return nil, errors.Wrapf(ErrFormat, "bad magic %q", h.Magic[:])
	}
	if h.DecompressedSize > maxDecompressed {
		return nil, errors.Wrapf(ErrFormat, "decompressed size %d too large", h.DecompressedSize)
	}

	block := make([]byte, h.CompressedSize)
	if _, err := io.ReadFull(r, block); err != nil {
		return nil, errors.Wrapf(ErrFormat, "failed to read %d byte block: %v", h.CompressedSize, err)
	}
	data, err := decompress(block, int(h.DecompressedSize))
	if err != nil {
		return nil, err
	}
	return parse(data, h.Count)
}

func decompress(block []byte, size int) ([]byte, error) {
	if bytes.HasPrefix(block, zstdMagic) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create zstd decoder")
		}
		defer dec.Close()
		out, err := dec.DecodeAll(block, make([]byte, 0, size))
		if err != nil {
			return nil, errors.Wrapf(ErrFormat, "zstd: %v", err)
		}
		if len(out) != size {
			return nil, errors.Wrapf(ErrFormat, "zstd block decoded to %d bytes, header says %d", len(out), size)
		}
		return out, nil
	}

	out := make([]byte, size)
	n, err := lz4.UncompressBlock(block, out)
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "lz4: %v", err)
	}
	if n != size {
		return nil, errors.Wrapf(ErrFormat, "lz4 block decoded to %d bytes, header says %d", n, size)
	}
	return out, nil
}

func parse(data []byte, count uint32) (*DB, error) {
	list := make([]string, 0, min(int(count), len(data)))
	pos := 0
	for i := uint32(0); i < count; i++ {
		end := bytes.IndexByte(data[pos:], 0)
		if end < 0 {
			return nil, errors.Wrapf(ErrFormat, "name %d of %d is not terminated", i, count)
		}
		list = append(list, string(data[pos:pos+end]))
		pos += end + 1
	}
	if len(data)-pos < int(count)*8 {
		return nil, errors.Wrapf(ErrFormat, "id table needs %d bytes, %d left", int(count)*8, len(data)-pos)
	}

	db := &DB{names: make(map[id.ID]string, count)}
	for i := range list {
		x := id.ID(binary.LittleEndian.Uint64(data[pos+i*8:]))
		db.names[x] = list[i]
	}
	return db, nil
}

// Write encodes names in the format Read expects. Entries are stored in
// ascending id order. The block is LZ4 compressed, or zstd when LZ4 cannot
// shrink it.
func Write(w io.Writer, entries map[id.ID]string) error {
	ids := make([]id.ID, 0, len(entries))
	for x := range entries {
		ids = append(ids, x)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var raw bytes.Buffer
	for _, x := range ids {
		name := entries[x]
		if bytes.IndexByte([]byte(name), 0) >= 0 {
			return errors.Errorf("name for %s contains a NUL byte", x)
		}
		raw.WriteString(name)
		raw.WriteByte(0)
	}
	for _, x := range ids {
		binary.Write(&raw, binary.LittleEndian, uint64(x))
	}

	block, err := compress(raw.Bytes())
	if err != nil {
		return err
	}
	h := fileHeader{
		Magic:            Magic,
		Count:            uint32(len(ids)),
		CompressedSize:   uint32(len(block)),
		DecompressedSize: uint32(raw.Len()),
	}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return errors.Wrap(err, "failed to write name database header")
	}
	_, err = w.Write(block)
	return errors.Wrap(err, "failed to write name database block")
}

func compress(src []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return nil, errors.Wrap(err, "lz4 compress failed")
	}
	// Read tells the codecs apart by the zstd frame magic, so an LZ4 block
	// that happens to start with it has to go through zstd as well.
	if n > 0 && n < len(src) && !bytes.HasPrefix(dst[:n], zstdMagic) {
		return dst[:n], nil
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create zstd encoder")
	}
	defer enc.Close()
	return enc.EncodeAll(src, nil), nil
}
