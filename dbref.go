package rowan

import (
	"github.com/evergreen-ci/rowan/bson"
	"github.com/pkg/errors"
)

// DBRef is the conventional cross-collection reference: the name of
// the referenced collection and the _id of the referenced document.
type DBRef struct {
	Collection string `bson:"$ref"`
	ID         any    `bson:"$id"`
}

// NewDBRef builds the two-field reference document.
func NewDBRef(collection string, id any) bson.D {
	return bson.D{
		{Key: "$ref", Value: collection},
		{Key: "$id", Value: id},
	}
}

// ParseDBRef reads a reference document of the shape NewDBRef builds.
func ParseDBRef(doc bson.D) (*DBRef, error) {
	ref := &DBRef{}

	v, found := doc.Lookup("$ref")
	if !found {
		return nil, errors.New("document has no $ref field")
	}
	name, ok := v.(string)
	if !ok {
		return nil, errors.Errorf("$ref holds %T, not a collection name", v)
	}
	ref.Collection = name

	if ref.ID, found = doc.Lookup("$id"); !found {
		return nil, errors.New("document has no $id field")
	}

	return ref, nil
}
