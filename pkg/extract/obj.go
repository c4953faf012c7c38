package extract

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/user/hdextract/pkg/id"
)

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'f', -1, 32)
}

// writeOBJ emits m as Wavefront OBJ text. Every vertex gets v, vt and vn
// lines so faces can use the same index for all three. Groups are named
// <entry index>_<asset id>_<sub-part id>.
func writeOBJ(w *bytes.Buffer, j *Job, m *Mesh, materials []materialRef) {
	fmt.Fprintf(w, "# unit %s from bundle %s\n", j.Header.ID, j.BundleID)
	for _, ref := range materials {
		if ref.Bundle.IsValid() {
			fmt.Fprintf(w, "# material %s in bundle %s\n", ref.ID, ref.Bundle)
		} else {
			fmt.Fprintf(w, "# material %s not indexed\n", ref.ID)
		}
	}

	lod := 0
	for i, v := range m.Vertices {
		for lod < len(m.LODs) && m.LODs[lod] == i {
			fmt.Fprintf(w, "# lod %d\n", lod)
			lod++
		}
		fmt.Fprintf(w, "v %s %s %s\n", formatFloat(v.Pos[0]), formatFloat(v.Pos[1]), formatFloat(v.Pos[2]))
		fmt.Fprintf(w, "vt %s %s\n", formatFloat(v.UV[0]), formatFloat(v.UV[1]))
		fmt.Fprintf(w, "vn %s %s %s\n", formatFloat(v.Normal[0]), formatFloat(v.Normal[1]), formatFloat(v.Normal[2]))
	}

	for _, g := range m.Groups {
		fmt.Fprintf(w, "o %d_%s_%x\n", j.Header.Unk4C, j.Header.ID, g.Part.ID)
		if g.Part.Material != id.Invalid {
			fmt.Fprintf(w, "usemtl %s\n", g.Part.Material)
		}
		for _, f := range g.Faces {
			fmt.Fprintf(w, "f %d/%d/%d %d/%d/%d %d/%d/%d\n", f[0], f[0], f[0], f[1], f[1], f[1], f[2], f[2], f[2])
		}
	}
}
