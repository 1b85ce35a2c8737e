package model

// Item is anything a store can hold.
type Item interface {
	ItemID() string
}

// Codec converts between one item kind and its persisted records.
type Codec[T Item] struct {
	Kind      Kind
	Normalize func(Record) T
	Serialize func(T) Record
	Valid     func(T) bool
	Clone     func(T) T
}

// SerializeAll serializes items in order.
func (c Codec[T]) SerializeAll(items []T) []Record {
	out := make([]Record, 0, len(items))
	for _, it := range items {
		out = append(out, c.Serialize(it))
	}
	return out
}
