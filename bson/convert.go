package bson

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// DecodeDocument maps a decoded document onto a struct or map using
// `bson` field tags.
func DecodeDocument(doc D, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "bson",
		Result:  out,
	})
	if err != nil {
		return errors.Wrap(err, "building document decoder")
	}

	return errors.Wrap(dec.Decode(plainDocument(doc)), "mapping document fields")
}

// UnmarshalInto decodes a raw document directly onto out.
func UnmarshalInto(data []byte, out any) error {
	doc, err := Unmarshal(data)
	if err != nil {
		return err
	}
	return DecodeDocument(doc, out)
}

// plainDocument lowers ordered documents to maps so the field mapper
// can address keys. Carrier types pass through untouched.
func plainDocument(doc D) map[string]any {
	m := make(map[string]any, len(doc))
	for _, elem := range doc {
		m[elem.Key] = plainValue(elem.Value)
	}
	return m
}

func plainValue(value any) any {
	switch v := value.(type) {
	case D:
		return plainDocument(v)
	case A:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = plainValue(item)
		}
		return out
	}
	return value
}
