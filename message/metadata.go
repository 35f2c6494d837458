package message

// Metadata is an insertion-ordered string-keyed map, per the data model's
// "ordered mapping from string to arbitrary value". A bare map[string]any
// would not preserve insertion order; Keys reports entries in the order
// they were first set.
type Metadata struct {
	keys   []string
	values map[string]any
}

// NewMetadata returns an empty Metadata.
func NewMetadata() Metadata {
	return Metadata{}
}

// WithMetadata returns a copy of m with key set to val. Copy-on-write: the
// receiver is never mutated, satisfying ProcessingContext.WithMetadata's
// "copy-on-write semantics are sufficient" invariant.
func (m Metadata) WithMetadata(key string, val any) Metadata {
	out := m.clone()
	out.set(key, val)
	return out
}

// Get returns the value stored for key, and whether it was present.
func (m Metadata) Get(key string) (any, bool) {
	if m.values == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in insertion order. The returned slice must not be
// mutated by callers.
func (m Metadata) Keys() []string {
	return m.keys
}

// Len returns the number of entries.
func (m Metadata) Len() int {
	return len(m.keys)
}

func (m Metadata) clone() Metadata {
	out := Metadata{
		keys:   make([]string, len(m.keys)),
		values: make(map[string]any, len(m.values)),
	}
	copy(out.keys, m.keys)
	for k, v := range m.values {
		out.values[k] = v
	}
	return out
}

func (m *Metadata) set(key string, val any) {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = val
}
