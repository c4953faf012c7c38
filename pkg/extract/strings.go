package extract

import (
	"bytes"
	"encoding/binary"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/user/hdextract/pkg/bundle"
	"golang.org/x/text/encoding/unicode"
)

type stringTableHeader struct {
	Unk0     uint32
	Unk4     uint32
	Count    uint32
	Language uint32
}

const stringTableHeaderSize = 16

// reconstructStrings decodes a localized string table into a JSON object
// mapping string id to text. Offsets are relative to the start of the
// asset. A leading byte order mark is dropped and invalid UTF-8 is replaced
// rather than rejected.
func reconstructStrings(j *Job) ([]Output, error) {
	h := j.Header
	data, err := j.Payloads.Primary(h.DataOffset, h.DataSize)
	if err != nil {
		return nil, err
	}

	var th stringTableHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &th); err != nil {
		return nil, errors.Wrapf(bundle.ErrFormat, "string table header: %v", err)
	}
	need := uint64(stringTableHeaderSize) + uint64(th.Count)*8
	if need > uint64(len(data)) {
		return nil, errors.Wrapf(bundle.ErrFormat, "string table declares %d entries, payload is %d bytes", th.Count, len(data))
	}
	ids := data[stringTableHeaderSize:]
	offsets := data[stringTableHeaderSize+int(th.Count)*4:]

	dec := unicode.UTF8BOM.NewDecoder()
	strs := make(map[uint32]string, th.Count)
	for i := 0; i < int(th.Count); i++ {
		sid := binary.LittleEndian.Uint32(ids[i*4:])
		off := binary.LittleEndian.Uint32(offsets[i*4:])
		if uint64(off) >= uint64(len(data)) {
			return nil, errors.Wrapf(bundle.ErrFormat, "string %d offset %#x outside payload", sid, off)
		}
		s := data[off:]
		end := bytes.IndexByte(s, 0)
		if end < 0 {
			return nil, errors.Wrapf(bundle.ErrFormat, "string %d at %#x is not terminated", sid, off)
		}
		text, err := dec.String(string(s[:end]))
		if err != nil {
			return nil, errors.Wrapf(err, "string %d", sid)
		}
		strs[sid] = text
	}

	out, err := json.MarshalIndent(strs, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode string table")
	}
	return []Output{{Data: out}}, nil
}
