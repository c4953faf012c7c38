package cache

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/user/hdextract/pkg/bundle"
	"github.com/user/hdextract/pkg/id"
)

// Persisted layout, little-endian without padding:
//
//	u32 bundle count
//	per bundle: u64 bundle id, u32 header count, count × 48-byte MinimizedHeader

// WriteTo encodes the index. Bundles are written in ascending id order so the
// output is stable.
func (ix *Index) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64

	if err := binary.Write(bw, binary.LittleEndian, uint32(len(ix.order))); err != nil {
		return n, errors.Wrap(err, "failed to write bundle count")
	}
	n += 4
	for _, b := range ix.order {
		headers := ix.bundles[b]
		if err := binary.Write(bw, binary.LittleEndian, uint64(b)); err != nil {
			return n, errors.Wrapf(err, "failed to write bundle id %s", b)
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(headers))); err != nil {
			return n, errors.Wrapf(err, "failed to write header count of %s", b)
		}
		n += 12
		if err := binary.Write(bw, binary.LittleEndian, headers); err != nil {
			return n, errors.Wrapf(err, "failed to write headers of %s", b)
		}
		n += int64(len(headers)) * bundle.MinimizedHeaderSize
	}
	return n, bw.Flush()
}

// ReadFrom decodes an index written by WriteTo and adds its bundles to ix.
// A short or truncated stream is a bundle.ErrFormat.
func (ix *Index) ReadFrom(r io.Reader) (int64, error) {
	var n int64
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return n, errors.Wrapf(bundle.ErrFormat, "index: failed to read bundle count: %v", err)
	}
	n += 4

	for i := uint32(0); i < count; i++ {
		var head struct {
			Bundle id.ID
			Count  uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &head); err != nil {
			return n, errors.Wrapf(bundle.ErrFormat, "index: failed to read bundle %d of %d: %v", i, count, err)
		}
		n += 12
		var headers []bundle.MinimizedHeader
		for j := uint32(0); j < head.Count; j++ {
			var h bundle.MinimizedHeader
			if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
				return n, errors.Wrapf(bundle.ErrFormat, "index: failed to read header %d of bundle %s: %v", j, head.Bundle, err)
			}
			headers = append(headers, h)
			n += bundle.MinimizedHeaderSize
		}
		ix.Add(head.Bundle, headers)
	}
	return n, nil
}

// Save writes the index to path.
func (ix *Index) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create index file %s", path)
	}
	if _, err := ix.WriteTo(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to write index file %s", path)
	}
	return f.Close()
}

// Load reads an index saved with Save.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open index file %s", path)
	}
	defer f.Close()

	ix := New()
	if _, err := ix.ReadFrom(bufio.NewReader(f)); err != nil {
		return nil, errors.Wrapf(err, "index file %s", path)
	}
	return ix, nil
}

type jsonHeader struct {
	ID           id.ID  `json:"id"`
	Type         string `json:"type"`
	TypeID       id.ID  `json:"type_id"`
	DataOffset   uint64 `json:"data_offset"`
	DataSize     uint32 `json:"data_size"`
	StreamOffset uint32 `json:"stream_offset"`
	StreamSize   uint32 `json:"stream_size"`
	GPUOffset    uint64 `json:"gpu_offset"`
	GPUSize      uint32 `json:"gpu_size"`
}

// WriteJSON dumps the index as a JSON object keyed by bundle id, for
// inspection with ordinary tools. It cannot be loaded back.
func (ix *Index) WriteJSON(w io.Writer) error {
	out := make(map[id.ID][]jsonHeader, len(ix.bundles))
	for b, headers := range ix.bundles {
		list := make([]jsonHeader, len(headers))
		for i, h := range headers {
			list[i] = jsonHeader{
				ID:           h.ID,
				Type:         h.Kind().String(),
				TypeID:       h.TypeID,
				DataOffset:   h.DataOffset,
				DataSize:     h.DataSize,
				StreamOffset: h.StreamOffset,
				StreamSize:   h.StreamSize,
				GPUOffset:    h.GPUOffset,
				GPUSize:      h.GPUSize,
			}
		}
		out[b] = list
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(out), "failed to encode index as json")
}

// SaveJSON writes WriteJSON output to path.
func (ix *Index) SaveJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := ix.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
