// Package id implements the 64-bit content and type identifiers used by
// bundles, their sidecars and the identifier cache.
package id

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rryqszq4/go-murmurhash"
)

// ID is an opaque 64-bit handle. Bundle file names are IDs in hex form.
type ID uint64

// Invalid marks an absent or unresolved identifier.
const Invalid ID = 0xFFFFFFFFFFFFFFFF

// Parse decodes the hex text form of an ID. Case is ignored and an optional
// 0x prefix is accepted.
func Parse(s string) (ID, error) {
	t := strings.TrimSpace(s)
	t = strings.TrimPrefix(strings.TrimPrefix(t, "0x"), "0X")
	if t == "" || len(t) > 16 {
		return Invalid, errors.Errorf("invalid id %q", s)
	}
	v, err := strconv.ParseUint(t, 16, 64)
	if err != nil {
		return Invalid, errors.Wrapf(err, "invalid id %q", s)
	}
	return ID(v), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) ID {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromName hashes a resource name the way the engine derives asset ids.
func FromName(name string) ID {
	return ID(murmurhash.MurmurHash64A([]byte(name), 0))
}

// String returns the canonical 16 digit lower-case hex form.
func (x ID) String() string {
	s := strconv.FormatUint(uint64(x), 16)
	if len(s) < 16 {
		s = strings.Repeat("0", 16-len(s)) + s
	}
	return s
}

func (x ID) IsValid() bool { return x != Invalid }

func (x ID) MarshalText() ([]byte, error) {
	return []byte(x.String()), nil
}

func (x *ID) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*x = v
	return nil
}
