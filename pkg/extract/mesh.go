package extract

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/user/hdextract/pkg/bundle"
	"github.com/user/hdextract/pkg/id"
)

// Offsets into a unit's primary payload.
const (
	unitLODTableOffset      = 0x5C
	unitPartTableOffset     = 0x64
	unitMaterialTableOffset = 0x70

	partRecordSkip = 0x3C  // from part table offset + relative offset to the record
	partCountSkip  = 0x38  // after the mesh index
	lodRecordSkip  = 0x160 // from lod table offset + relative offset to the descriptor
)

// PartDef is one sub-part of a mesh, 24 bytes on disk.
type PartDef struct {
	Index        int32 // position in the record's id array
	VertexOffset int32
	VertexCount  int32
	IndexOffset  int32
	IndexCount   int32
	_            [4]byte
}

// Part is a sub-part resolved to its global id and material.
type Part struct {
	ID       uint32
	Def      PartDef
	Material id.ID
}

type lodDescriptor struct {
	VertexCount  uint32
	Stride       int32
	_            [0x20]byte
	IndexCount   uint32
	_            [0x14]byte
	VertexOffset uint32 // relative to the asset's GPU offset
	VertexSize   uint32
	IndexOffset  uint32
	IndexSize    uint32
}

// blob is a bounds-checked view of a primary payload. Every read seeks
// absolutely, so entries can be resolved in any order.
type blob []byte

func (b blob) u32(off uint64) (uint32, error) {
	if off+4 > uint64(len(b)) || off+4 < off {
		return 0, errors.Wrapf(bundle.ErrFormat, "u32 at %#x outside %#x byte payload", off, len(b))
	}
	return binary.LittleEndian.Uint32(b[off:]), nil
}

func (b blob) read(off uint64, v any) error {
	n := binary.Size(v)
	if n < 0 || off+uint64(n) > uint64(len(b)) || off+uint64(n) < off {
		return errors.Wrapf(bundle.ErrFormat, "%d byte record at %#x outside %#x byte payload", n, off, len(b))
	}
	return binary.Read(bytes.NewReader(b[off:]), binary.LittleEndian, v)
}

// u32s reads a count-prefixed u32 array at off.
func (b blob) u32s(off uint64) ([]uint32, error) {
	count, err := b.u32(off)
	if err != nil {
		return nil, err
	}
	if off+4+uint64(count)*4 > uint64(len(b)) {
		return nil, errors.Wrapf(bundle.ErrFormat, "%d entries at %#x outside payload", count, off)
	}
	out := make([]uint32, count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[off+4+uint64(i)*4:])
	}
	return out, nil
}

// unitHeader is the table of contents of a unit payload.
type unitHeader struct {
	lodOffset  uint32
	lods       []uint32 // offsets relative to lodOffset
	partOffset uint32
	partCount  uint32
	materials  map[uint32]id.ID // sub-part id to material
}

func readUnitHeader(b blob) (*unitHeader, error) {
	h := &unitHeader{}
	var err error
	if h.lodOffset, err = b.u32(unitLODTableOffset); err != nil {
		return nil, errors.Wrap(err, "lod table offset")
	}
	if h.lods, err = b.u32s(uint64(h.lodOffset)); err != nil {
		return nil, errors.Wrap(err, "lod table")
	}
	if h.partOffset, err = b.u32(unitPartTableOffset); err != nil {
		return nil, errors.Wrap(err, "part table offset")
	}
	if h.partCount, err = b.u32(uint64(h.partOffset)); err != nil {
		return nil, errors.Wrap(err, "part count")
	}

	matOffset, err := b.u32(unitMaterialTableOffset)
	if err != nil {
		return nil, errors.Wrap(err, "material table offset")
	}
	matCount, err := b.u32(uint64(matOffset))
	if err != nil {
		return nil, errors.Wrap(err, "material count")
	}
	if uint64(matOffset)+4+uint64(matCount)*12 > uint64(len(b)) {
		return nil, errors.Wrapf(bundle.ErrFormat, "%d materials at %#x outside payload", matCount, matOffset)
	}
	h.materials = make(map[uint32]id.ID, matCount)
	for i := uint64(0); i < uint64(matCount); i++ {
		e := uint64(matOffset) + 4 + i*12
		mat := id.ID(binary.LittleEndian.Uint64(b[e:]))
		h.materials[binary.LittleEndian.Uint32(b[e+8:])] = mat
	}
	return h, nil
}

// readParts collects the sub-parts of every part record, keyed by mesh index.
func readParts(b blob, h *unitHeader) (map[int32][]Part, error) {
	parts := make(map[int32][]Part)
	for i := uint32(0); i < h.partCount; i++ {
		rel, err := b.u32(uint64(h.partOffset) + 4 + uint64(i)*4)
		if err != nil {
			return nil, errors.Wrapf(err, "part %d offset", i)
		}
		at := uint64(h.partOffset) + uint64(rel) + partRecordSkip

		var meshIndex int32
		if err := b.read(at, &meshIndex); err != nil {
			return nil, errors.Wrapf(err, "part %d mesh index", i)
		}
		at += 4 + partCountSkip
		count, err := b.u32(at)
		if err != nil {
			return nil, errors.Wrapf(err, "part %d sub-part count", i)
		}
		at += 8

		if at+uint64(count)*(4+24) > uint64(len(b)) {
			return nil, errors.Wrapf(bundle.ErrFormat, "part %d: %d sub-parts at %#x outside payload", i, count, at)
		}
		ids := make([]uint32, count)
		for k := range ids {
			ids[k] = binary.LittleEndian.Uint32(b[at+uint64(k)*4:])
		}
		at += uint64(count) * 4

		list := parts[meshIndex]
		if list == nil {
			list = []Part{}
		}
		for k := uint32(0); k < count; k++ {
			var def PartDef
			if err := b.read(at+uint64(k)*24, &def); err != nil {
				return nil, errors.Wrapf(err, "part %d sub-part %d", i, k)
			}
			p := Part{ID: ^uint32(0), Def: def, Material: id.Invalid}
			if def.Index >= 0 && int(def.Index) < len(ids) {
				p.ID = ids[def.Index]
			}
			if mat, ok := h.materials[p.ID]; ok {
				p.Material = mat
			}
			list = append(list, p)
		}
		parts[meshIndex] = list
	}
	return parts, nil
}

// Group is one named sub-part of the output mesh.
type Group struct {
	Part  Part
	Faces [][3]uint64 // 1-based indices into the mesh's vertex list
}

// Mesh is a reconstructed unit: the vertices of every LOD in order, and the
// groups whose faces reference them.
type Mesh struct {
	Vertices []Vertex
	Groups   []Group
	// LODs holds the index of the first vertex of each LOD.
	LODs []int
}

// buildMesh decodes all LODs of a unit.
func buildMesh(j *Job, data []byte) (*Mesh, error) {
	b := blob(data)
	uh, err := readUnitHeader(b)
	if err != nil {
		return nil, err
	}
	parts, err := readParts(b, uh)
	if err != nil {
		return nil, err
	}

	m := &Mesh{}
	for i, rel := range uh.lods {
		var ld lodDescriptor
		at := uint64(uh.lodOffset) + uint64(rel) + lodRecordSkip
		if err := b.read(at, &ld); err != nil {
			return nil, errors.Wrapf(err, "lod %d descriptor", i)
		}

		vbuf, err := j.Payloads.GPU(j.Header.GPUOffset+uint64(ld.VertexOffset), ld.VertexSize)
		if err != nil {
			return nil, errors.Wrapf(err, "lod %d vertices", i)
		}
		verts, err := decodeVertices(vbuf, ld.VertexCount, ld.Stride)
		if errors.Is(err, ErrUnknownLayout) {
			j.logger().WithFields(log.Fields{
				"asset":  j.Header.ID,
				"lod":    i,
				"stride": ld.Stride,
			}).Warn("unknown vertex layout, writing zero vertices")
		} else if err != nil {
			return nil, errors.Wrapf(err, "lod %d vertices", i)
		}
		base := uint64(len(m.Vertices))
		m.LODs = append(m.LODs, len(m.Vertices))
		m.Vertices = append(m.Vertices, verts...)

		lodParts := parts[int32(i)]
		if len(lodParts) == 0 {
			continue
		}
		if ld.IndexCount == 0 {
			return nil, errors.Wrapf(bundle.ErrFormat, "lod %d has sub-parts but no indices", i)
		}
		ibuf, err := j.Payloads.GPU(j.Header.GPUOffset+uint64(ld.IndexOffset), ld.IndexSize)
		if err != nil {
			return nil, errors.Wrapf(err, "lod %d indices", i)
		}
		index, err := indexReader(ibuf, ld.IndexSize/ld.IndexCount)
		if err != nil {
			return nil, errors.Wrapf(err, "lod %d", i)
		}

		for _, p := range lodParts {
			g := Group{Part: p}
			if p.Def.IndexOffset < 0 || p.Def.IndexCount < 0 || p.Def.VertexOffset < 0 {
				return nil, errors.Wrapf(bundle.ErrFormat, "lod %d sub-part %x has a negative range", i, p.ID)
			}
			first := uint64(p.Def.IndexOffset)
			bias := base + uint64(p.Def.VertexOffset) + 1
			for k := uint64(0); k+2 < uint64(p.Def.IndexCount); k += 3 {
				var f [3]uint64
				for c := range f {
					v, err := index(first + k + uint64(c))
					if err != nil {
						return nil, errors.Wrapf(err, "lod %d sub-part %x", i, p.ID)
					}
					f[c] = v + bias
				}
				g.Faces = append(g.Faces, f)
			}
			m.Groups = append(m.Groups, g)
		}
	}
	return m, nil
}

func reconstructMesh(j *Job) ([]Output, error) {
	h := j.Header
	data, err := j.Payloads.Primary(h.DataOffset, h.DataSize)
	if err != nil {
		return nil, err
	}
	m, err := buildMesh(j, data)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writeOBJ(&buf, j, m, resolveMaterials(j, m))
	return []Output{{Data: buf.Bytes()}}, nil
}

// materialRef is a material id and the bundle the index places it in.
type materialRef struct {
	ID     id.ID
	Bundle id.ID // id.Invalid when not indexed
}

// resolveMaterials looks up every distinct material of the mesh in the
// whole index, in ascending id order.
func resolveMaterials(j *Job, m *Mesh) []materialRef {
	seen := map[id.ID]bool{}
	var refs []materialRef
	for _, g := range m.Groups {
		mat := g.Part.Material
		if !mat.IsValid() || seen[mat] {
			continue
		}
		seen[mat] = true
		ref := materialRef{ID: mat, Bundle: id.Invalid}
		if b, _, err := j.lookup(mat, bundle.TypeUnknown, id.Invalid); err == nil {
			ref.Bundle = b
		}
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(a, b int) bool { return refs[a].ID < refs[b].ID })
	return refs
}
