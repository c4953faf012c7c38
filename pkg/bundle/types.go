package bundle

import (
	"sort"
	"strings"

	"github.com/user/hdextract/pkg/id"
)

// AssetType is a known asset type id.
type AssetType id.ID

const (
	TypeUnknown         AssetType = AssetType(id.Invalid)
	TypeWwiseWem        AssetType = 0x504B55235D21440E
	TypeWwiseBank       AssetType = 0x535A7BD3E650D799
	TypeTexture         AssetType = 0xCD4238C6A0C69E32
	TypeUnit            AssetType = 0xE0A48D0BE9A7453F
	TypeString          AssetType = 0x0D972BAB10B40FD3
	TypeWwiseDep        AssetType = 0xAF32095C82F2B070
	TypeWwiseMetadata   AssetType = 0xD50A8B7E1C82B110
	TypeWwiseProperties AssetType = 0x5FDD5FE391076F9F
)

var typeInfo = map[AssetType]struct {
	name  string // type folder name
	short string // command line name
	ext   string
}{
	TypeWwiseWem:        {"WwiseWem", "wem", "wem"},
	TypeWwiseBank:       {"WwiseBank", "bnk", "bnk"},
	TypeTexture:         {"Texture", "texture", "dds"},
	TypeUnit:            {"Unit", "unit", "obj"},
	TypeString:          {"String", "string", "json"},
	TypeWwiseDep:        {"WwiseDep", "wwise-dep", "bin"},
	TypeWwiseMetadata:   {"WwiseMetadata", "wwise-metadata", "bin"},
	TypeWwiseProperties: {"WwiseProperties", "wwise-properties", "bin"},
}

// TypeOf maps a type id onto a known AssetType or TypeUnknown.
func TypeOf(x id.ID) AssetType {
	if _, ok := typeInfo[AssetType(x)]; ok {
		return AssetType(x)
	}
	return TypeUnknown
}

// ParseType resolves a command line type name such as "texture" or "bnk".
func ParseType(name string) (AssetType, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	for t, info := range typeInfo {
		if info.short == n || strings.ToLower(info.name) == n {
			return t, true
		}
	}
	return TypeUnknown, false
}

// TypeNames lists the command line names of the known types.
func TypeNames() []string {
	names := make([]string, 0, len(typeInfo))
	for _, info := range typeInfo {
		names = append(names, info.short)
	}
	sort.Strings(names)
	return names
}

func (t AssetType) ID() id.ID { return id.ID(t) }

func (t AssetType) String() string {
	if info, ok := typeInfo[t]; ok {
		return info.name
	}
	return "Unknown"
}

// Extension is the file extension used for reconstructed or raw output.
func (t AssetType) Extension() string {
	if info, ok := typeInfo[t]; ok {
		return info.ext
	}
	return "bin"
}
