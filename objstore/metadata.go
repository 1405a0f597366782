package objstore

import "maps"

// Metadata is an unordered mapping from string key to string value,
// attached wholly to an object on every write. Keys are case-preserving;
// values are expected to be UTF-8.
type Metadata map[string]string

// NewMetadata returns an empty, non-nil Metadata.
func NewMetadata() Metadata {
	return Metadata{}
}

// With returns a single-entry Metadata, for the common case of attaching
// one key.
func With(key, value string) Metadata {
	return Metadata{key: value}
}

// Get returns the value for key and whether it was present.
func (m Metadata) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Clone returns a deep copy of m. A nil receiver clones to an empty,
// non-nil Metadata, matching put's "absence means no metadata" rule.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	maps.Copy(out, m)
	return out
}
