// Package codec centralizes payload encoding for the HTTP layer and the
// collection manifest.
//
// Codec selection is a compatibility boundary: a manifest written by one
// codec must stay decodable, so persisted files record the codec name and
// select it by name on load.
package codec

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name, as recorded in a
// manifest.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// Default is the codec used for newly written manifests and for API
// responses. Existing manifests are self-describing and opened by name.
var Default Codec = GoJSON{}
