package codec

import "fmt"

// SchemaVersion identifies a persisted record layout.
type SchemaVersion uint16

const (
	SchemaV1 SchemaVersion = 1
	SchemaV2 SchemaVersion = 2

	// CurrentSchema is the layout every writer produces.
	CurrentSchema = SchemaV2
)

func (v SchemaVersion) String() string {
	return fmt.Sprintf("v%d", uint16(v))
}

// Supported reports whether records of version v can still be decoded.
func (v SchemaVersion) Supported() bool {
	_, ok := decoders[v]
	return ok
}

// decoders maps every still-supported version to a function that decodes it
// and lifts the result to the current layout. Adding v3 means adding a v2->v3
// step and composing it into the existing entries.
var decoders = map[SchemaVersion]func([]byte) (Post, error){
	SchemaV1: func(data []byte) (Post, error) {
		p, err := DecodePostV1(data)
		if err != nil {
			return Post{}, err
		}
		return Upgrade(p), nil
	},
	SchemaV2: DecodePost,
}

// DecodeVersion decodes data with the decoder for version and upgrades the
// result to CurrentSchema.
func DecodeVersion(version SchemaVersion, data []byte) (Post, error) {
	decode, ok := decoders[version]
	if !ok {
		return Post{}, fmt.Errorf("%w: %s", ErrUnsupportedVersion, version)
	}
	return decode(data)
}

// DecodeAny tries the current layout first and falls back to v1. It is meant
// for inspecting bytes of unknown provenance; storage code must rely on the
// recorded schema version instead, since a v1 record can occasionally parse
// as a valid v2 record.
func DecodeAny(data []byte) (Post, SchemaVersion, error) {
	p, err := DecodePost(data)
	if err == nil {
		return p, SchemaV2, nil
	}
	legacy, legacyErr := DecodePostV1(data)
	if legacyErr != nil {
		return Post{}, 0, err
	}
	return Upgrade(legacy), SchemaV1, nil
}
