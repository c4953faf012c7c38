package bundle

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/user/hdextract/pkg/id"
)

var (
	// ErrFormat reports a bad magic, a truncated table or a range outside
	// the primary file. Corrupt input is never patched up.
	ErrFormat = errors.New("bundle format error")
	// ErrMissingPayload reports a sidecar that was needed but not located,
	// or a range past its end.
	ErrMissingPayload = errors.New("referenced payload missing")
)

// Table is everything in front of a bundle's payload data.
type Table struct {
	Header Header
	Types  []TypeEntry
	// Assets holds one header per asset, grouped by type in type table order.
	Assets []AssetHeader
}

// Entry returns the type table entry for a type id.
func (t *Table) Entry(typeID id.ID) (TypeEntry, bool) {
	for _, e := range t.Types {
		if e.TypeID == typeID {
			return e, true
		}
	}
	return TypeEntry{}, false
}

// ReadTable parses the header, the type table and the asset headers from r,
// which must be positioned at the start of a bundle.
func ReadTable(r io.Reader) (*Table, error) {
	t := &Table{}
	if err := binary.Read(r, binary.LittleEndian, &t.Header); err != nil {
		return nil, errors.Wrapf(ErrFormat, "failed to read bundle header: %v", err)
	}
	if t.Header.Magic != Magic {
		return nil, errors.Wrapf(ErrFormat, "bad magic %#08x", t.Header.Magic)
	}

	var gap [TypeEntryGap]byte
	for i := uint32(0); i < t.Header.TypeCount; i++ {
		var e TypeEntry
		if err := binary.Read(r, binary.LittleEndian, &e); err != nil {
			return nil, errors.Wrapf(ErrFormat, "failed to read type entry %d of %d: %v", i, t.Header.TypeCount, err)
		}
		t.Types = append(t.Types, e)
		if i < t.Header.TypeCount-1 {
			if _, err := io.ReadFull(r, gap[:]); err != nil {
				return nil, errors.Wrapf(ErrFormat, "failed to skip gap after type entry %d: %v", i, err)
			}
		}
	}

	for _, e := range t.Types {
		for j := uint64(0); j < e.AssetCount; j++ {
			var h AssetHeader
			if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
				return nil, errors.Wrapf(ErrFormat, "failed to read asset header %d of type %s (read %d so far): %v",
					j, e.TypeID, len(t.Assets), err)
			}
			t.Assets = append(t.Assets, h)
		}
	}
	return t, nil
}

// WriteTable writes t in the layout ReadTable expects. Unknown fields are
// written exactly as they were read.
func WriteTable(w io.Writer, t *Table) error {
	if int(t.Header.TypeCount) != len(t.Types) {
		return errors.Errorf("header type count %d does not match %d type entries", t.Header.TypeCount, len(t.Types))
	}
	var total uint64
	for _, e := range t.Types {
		total += e.AssetCount
	}
	if total != uint64(len(t.Assets)) {
		return errors.Errorf("type table declares %d assets, have %d", total, len(t.Assets))
	}

	if err := binary.Write(w, binary.LittleEndian, &t.Header); err != nil {
		return errors.Wrap(err, "failed to write bundle header")
	}
	var gap [TypeEntryGap]byte
	for i, e := range t.Types {
		if err := binary.Write(w, binary.LittleEndian, &e); err != nil {
			return errors.Wrapf(err, "failed to write type entry %d", i)
		}
		if i < len(t.Types)-1 {
			if _, err := w.Write(gap[:]); err != nil {
				return errors.Wrapf(err, "failed to write gap after type entry %d", i)
			}
		}
	}
	for i := range t.Assets {
		if err := binary.Write(w, binary.LittleEndian, &t.Assets[i]); err != nil {
			return errors.Wrapf(err, "failed to write asset header %d", i)
		}
	}
	return nil
}

// Size returns the encoded length of t's table.
func (t *Table) Size() int64 {
	n := int64(HeaderSize) + int64(len(t.Types))*TypeEntrySize + int64(len(t.Assets))*AssetHeaderSize
	if len(t.Types) > 1 {
		n += int64(len(t.Types)-1) * TypeEntryGap
	}
	return n
}
