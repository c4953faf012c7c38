package extract

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/user/hdextract/pkg/bundle"
	"github.com/x448/float16"
)

// Vertex is one decoded vertex. Fields a layout does not carry stay zero.
type Vertex struct {
	Pos    mgl32.Vec3
	UV     mgl32.Vec2
	Normal mgl32.Vec3
}

type fieldKind int

const (
	fieldPos       fieldKind = iota // 3 × f32
	fieldUVHalf                     // 2 × f16
	fieldUVFloat                    // 2 × f32
	fieldNormHalf                   // 3 × f16
	fieldUV2Half                    // 2 × f16, not exported
	fieldColorHalf                  // 3 × f16, not exported
	fieldColorFloat                 // 3 × f32, not exported
)

var fieldSize = map[fieldKind]int{
	fieldPos:        12,
	fieldUVHalf:     4,
	fieldUVFloat:    8,
	fieldNormHalf:   6,
	fieldUV2Half:    4,
	fieldColorHalf:  6,
	fieldColorFloat: 12,
}

type field struct {
	kind   fieldKind
	offset int
}

// vertexLayouts maps an observed stride to the fields of one record. Bytes
// not covered by a field are unknown and skipped.
var vertexLayouts = map[int32][]field{
	16: {{fieldPos, 0}, {fieldUVHalf, 12}},
	20: {{fieldPos, 0}, {fieldUVHalf, 16}},
	24: {{fieldPos, 0}, {fieldUVHalf, 16}, {fieldUV2Half, 20}},
	28: {{fieldPos, 0}, {fieldUVHalf, 16}},
	32: {{fieldPos, 4}, {fieldUVHalf, 16}, {fieldColorFloat, 20}},
	36: {{fieldPos, 0}, {fieldUVHalf, 16}, {fieldColorHalf, 20}},
	40: {{fieldPos, 4}, {fieldUVHalf, 20}, {fieldUV2Half, 24}, {fieldNormHalf, 28}},
	48: {{fieldPos, 0}, {fieldUVFloat, 16}},
	60: {{fieldPos, 0}, {fieldUVHalf, 16}, {fieldUV2Half, 20}, {fieldColorHalf, 24}},
}

func f32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func f16(b []byte) float32 {
	return float16.Frombits(binary.LittleEndian.Uint16(b)).Float32()
}

// decodeVertices reads count records of the given stride from buf. An
// unknown stride yields count zero vertices and ErrUnknownLayout whatever
// the buffer holds; callers log it and carry on.
func decodeVertices(buf []byte, count uint32, stride int32) ([]Vertex, error) {
	layout, ok := vertexLayouts[stride]
	if !ok {
		return make([]Vertex, count), errors.Wrapf(ErrUnknownLayout, "stride %d", stride)
	}
	if need := uint64(count) * uint64(stride); need > uint64(len(buf)) {
		return nil, errors.Wrapf(bundle.ErrFormat, "%d vertices of stride %d need %#x bytes, have %#x", count, stride, need, len(buf))
	}

	out := make([]Vertex, count)
	for i := range out {
		rec := buf[i*int(stride) : (i+1)*int(stride)]
		v := &out[i]
		for _, f := range layout {
			b := rec[f.offset:]
			switch f.kind {
			case fieldPos:
				v.Pos = mgl32.Vec3{f32(b), f32(b[4:]), f32(b[8:])}
			case fieldUVHalf:
				v.UV = mgl32.Vec2{f16(b), f16(b[2:])}
			case fieldUVFloat:
				v.UV = mgl32.Vec2{f32(b), f32(b[4:])}
			case fieldNormHalf:
				v.Normal = mgl32.Vec3{f16(b), f16(b[2:]), f16(b[4:])}
			}
		}
	}
	return out, nil
}

// indexReader returns a function reading the i-th index of width bytes.
func indexReader(buf []byte, width uint32) (func(i uint64) (uint64, error), error) {
	var get func(b []byte) uint64
	switch width {
	case 1:
		get = func(b []byte) uint64 { return uint64(b[0]) }
	case 2:
		get = func(b []byte) uint64 { return uint64(binary.LittleEndian.Uint16(b)) }
	case 4:
		get = func(b []byte) uint64 { return uint64(binary.LittleEndian.Uint32(b)) }
	case 8:
		get = binary.LittleEndian.Uint64
	default:
		return nil, errors.Wrapf(bundle.ErrFormat, "index width %d", width)
	}
	w := uint64(width)
	return func(i uint64) (uint64, error) {
		off := i * w
		if off+w > uint64(len(buf)) || off/w != i {
			return 0, errors.Wrapf(bundle.ErrFormat, "index %d outside %#x byte index buffer", i, len(buf))
		}
		return get(buf[off:]), nil
	}, nil
}
