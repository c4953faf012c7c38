package bundle

import "github.com/user/hdextract/pkg/id"

// Magic is the leading u32 of every bundle.
const Magic uint32 = 0xF0000011

const (
	HeaderSize          = 80
	TypeEntrySize       = 24
	TypeEntryGap        = 8 // padding after every type entry but the last
	AssetHeaderSize     = 80
	MinimizedHeaderSize = 48
)

// Header is the fixed record at the start of a bundle (80 bytes).
// The Unk fields are not understood and are carried through untouched.
type Header struct {
	Magic      uint32
	TypeCount  uint32
	AssetCount uint64
	Unk10      uint32
	Unk14      uint32
	Unk18      uint64
	Unk20      uint64
	Unk28      uint64
	Unk30      [32]byte
}

// TypeEntry is one row of the type table (24 bytes).
type TypeEntry struct {
	TypeID     id.ID
	AssetCount uint64
	// Added to an asset's data offset when its payload is read from the
	// primary file. Sidecar offsets are absolute.
	DataOffsetAdjust uint32
	Unk14            uint32
}

// AssetHeader describes one asset and where its payload lives (80 bytes).
type AssetHeader struct {
	ID           id.ID
	TypeID       id.ID
	DataOffset   uint64
	StreamOffset uint32
	Unk1C        uint32
	GPUOffset    uint64
	Unk28        uint64
	Unk30        uint64
	DataSize     uint32
	StreamSize   uint32
	GPUSize      uint32
	Unk44        uint32
	Unk48        uint32
	Unk4C        uint32 // per-bundle entry index, used for naming
}

// Kind returns the decoded type used for dispatch. It is derived from
// TypeID and never stored.
func (h AssetHeader) Kind() AssetType {
	return TypeOf(h.TypeID)
}

// Minimize projects h onto the fields kept by the identifier cache.
func (h AssetHeader) Minimize() MinimizedHeader {
	return MinimizedHeader{
		ID:           h.ID,
		TypeID:       h.TypeID,
		DataOffset:   h.DataOffset,
		DataSize:     h.DataSize,
		StreamOffset: h.StreamOffset,
		StreamSize:   h.StreamSize,
		GPUOffset:    h.GPUOffset,
		GPUSize:      h.GPUSize,
	}
}

// MinimizedHeader is the persisted subset of AssetHeader (48 bytes, no padding).
type MinimizedHeader struct {
	ID           id.ID
	TypeID       id.ID
	DataOffset   uint64
	DataSize     uint32
	StreamOffset uint32
	StreamSize   uint32
	GPUOffset    uint64
	GPUSize      uint32
}

// Expand rebuilds a full header. Fields the cache does not keep are zero.
func (m MinimizedHeader) Expand() AssetHeader {
	return AssetHeader{
		ID:           m.ID,
		TypeID:       m.TypeID,
		DataOffset:   m.DataOffset,
		StreamOffset: m.StreamOffset,
		GPUOffset:    m.GPUOffset,
		DataSize:     m.DataSize,
		StreamSize:   m.StreamSize,
		GPUSize:      m.GPUSize,
	}
}

func (m MinimizedHeader) Kind() AssetType {
	return TypeOf(m.TypeID)
}
