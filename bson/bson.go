// Package bson implements a codec for the BSON document format: an
// ordered, self-describing binary encoding of documents used as the
// wire and storage representation of MongoDB-style databases.
//
// Documents are modeled as ordered element lists (D) because element
// order is significant both on the wire and in command documents. The
// unordered map form (M) is accepted by the encoder for convenience,
// and arrays are sequences (A). Extended types with no native Go
// equivalent (object ids, raw binary, regular expressions, timestamps,
// min/max sentinels, and the legacy code and DB-pointer types) are
// carried by small value types declared in this package.
package bson

// E is a single document element: one key/value pair.
type E struct {
	Key   string
	Value any
}

// D is an ordered document. Keys are unique within one document and
// element order is preserved through encode/decode.
type D []E

// M is an unordered document, accepted by the encoder as a convenience
// input form. Keys are encoded in sorted order so the output is
// deterministic.
type M map[string]any

// A is an array of values.
type A []any

// Map returns a shallow unordered copy of the document.
func (d D) Map() M {
	m := make(M, len(d))
	for _, elem := range d {
		m[elem.Key] = elem.Value
	}
	return m
}

// Lookup returns the value of the first element with the given key.
func (d D) Lookup(key string) (any, bool) {
	for _, elem := range d {
		if elem.Key == key {
			return elem.Value, true
		}
	}
	return nil, false
}

// Append returns the document with an element appended.
func (d D) Append(key string, value any) D {
	return append(d, E{Key: key, Value: value})
}

// Set replaces the value of an existing key, or appends the element if
// the key is not present.
func (d D) Set(key string, value any) D {
	for i := range d {
		if d[i].Key == key {
			d[i].Value = value
			return d
		}
	}
	return d.Append(key, value)
}
