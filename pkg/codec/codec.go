// Package codec provides the serialization formats used for job artifacts
// (parameter files and result files exchanged with the remote executor).
package codec

// Codec marshals typed values into a transportable byte form.
// Implementations must be deterministic so artifacts written by one host
// decode identically on another.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types to codecs.
type Registry struct{ byType map[string]Codec }

// NewRegistry constructs a registry preloaded with the built-in codecs.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(CBOR())
	return r
}

// Register adds a codec, replacing any previous codec of the same type.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }
