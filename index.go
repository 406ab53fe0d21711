package rowan

import (
	"strconv"
	"strings"

	"github.com/evergreen-ci/rowan/bson"
)

// IndexKeys is an ordered list of indexed fields and their directions.
// Directions follow sort-document conventions: ±1 in any numeric
// width, or a bool standing for ascending.
type IndexKeys bson.D

// Name derives the conventional index name, field and direction pairs
// joined by underscores.
func (keys IndexKeys) Name() string {
	parts := make([]string, 0, len(keys)*2)
	for _, key := range keys {
		parts = append(parts, key.Key, strconv.Itoa(indexDirection(key.Value)))
	}
	return strings.Join(parts, "_")
}

// document renders the key pattern with normalized int32 directions.
func (keys IndexKeys) document() bson.D {
	doc := make(bson.D, 0, len(keys))
	for _, key := range keys {
		doc = doc.Append(key.Key, int32(indexDirection(key.Value)))
	}
	return doc
}

// indexDirection normalizes a direction value. Bools and anything
// non-numeric count as ascending.
func indexDirection(v any) int {
	switch v.(type) {
	case nil, bool:
		return 1
	}
	if n, ok := asInt(v); ok {
		return n
	}
	return 1
}
