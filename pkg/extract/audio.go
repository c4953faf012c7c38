package extract

import (
	"bytes"
	"encoding/binary"
	"path"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/user/hdextract/pkg/bundle"
	"github.com/user/hdextract/pkg/id"
)

var bankKey = [8]byte{0xac, 0xbc, 0x11, 0x92, 0x38, 0x70, 0x10, 0xa3}

// Embedded bank layout in the primary payload.
const (
	bankSizeOffset = 0x4
	bankDepOffset  = 0x8
	bankDataOffset = 0x10
	depPathOffset  = 0x8 // path inside the WwiseDep payload
)

// decryptBank XORs bytes 8..16 of b with the bank key. Applying it twice
// restores the input.
func decryptBank(b []byte) {
	for i := range bankKey {
		if 8+i >= len(b) {
			return
		}
		b[8+i] ^= bankKey[i]
	}
}

func reconstructBank(j *Job) ([]Output, error) {
	h := j.Header
	if h.StreamSize != 0 {
		buf, err := j.Payloads.Stream(uint64(h.StreamOffset), h.StreamSize)
		if err != nil {
			return nil, err
		}
		decryptBank(buf)
		return []Output{{Data: buf}}, nil
	}

	data, err := j.Payloads.Primary(h.DataOffset, h.DataSize)
	if err != nil {
		return nil, err
	}
	if len(data) < bankDataOffset {
		return nil, errors.Wrapf(bundle.ErrFormat, "embedded bank is %d bytes", len(data))
	}
	size := binary.LittleEndian.Uint32(data[bankSizeOffset:])
	dep := id.ID(binary.BigEndian.Uint64(data[bankDepOffset:]))
	if uint64(size) > uint64(len(data)-bankDataOffset) {
		return nil, errors.Wrapf(bundle.ErrFormat, "embedded bank size %#x exceeds payload %#x", size, len(data)-bankDataOffset)
	}
	buf := append([]byte(nil), data[bankDataOffset:bankDataOffset+int(size)]...)

	name, err := bankName(j, dep)
	if err != nil {
		if j.Strict {
			return nil, errors.Wrapf(err, "bank path %s", dep)
		}
		j.logger().WithFields(log.Fields{
			"asset": h.ID,
			"dep":   dep,
			"error": err,
		}).Debug("bank path not resolved, naming by id")
		name = h.ID.String()
	}

	decryptBank(buf)
	return []Output{{Name: name, Data: buf}}, nil
}

// bankName reads the path stored in the bank's WwiseDep companion, which
// lives in the same bundle, and returns it as a relative slash path without
// extension, so banks sharing a base name in different directories stay
// apart. An empty path yields the bank's own id.
func bankName(j *Job, dep id.ID) (string, error) {
	_, mh, err := j.lookup(dep, bundle.TypeWwiseDep, j.BundleID)
	if err != nil {
		return "", err
	}
	data, err := j.Payloads.Primary(mh.DataOffset, mh.DataSize)
	if err != nil {
		return "", err
	}
	if len(data) < depPathOffset {
		return "", errors.Wrapf(bundle.ErrFormat, "dependency %s is %d bytes", dep, len(data))
	}
	p := data[depPathOffset:]
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	name := cleanName(string(p))
	name = strings.TrimSuffix(name, path.Ext(name))
	if name == "" || strings.HasSuffix(name, "/") {
		return j.Header.ID.String(), nil
	}
	return name, nil
}

// reconstructWem copies a streamed sound verbatim. Its name is the decimal
// short id found at bytes 8..12 of the primary payload.
func reconstructWem(j *Job) ([]Output, error) {
	h := j.Header
	buf, err := j.Payloads.Stream(uint64(h.StreamOffset), h.StreamSize)
	if err != nil {
		return nil, err
	}

	out := Output{Data: buf}
	if h.DataSize >= 12 {
		data, err := j.Payloads.Primary(h.DataOffset, h.DataSize)
		if err != nil {
			return nil, err
		}
		out.Name = strconv.FormatUint(uint64(binary.BigEndian.Uint32(data[8:12])), 10)
	}
	return []Output{out}, nil
}
