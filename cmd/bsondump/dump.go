package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/evergreen-ci/rowan/bson"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

func Dump() cli.Command {
	const prettyFlagName = "pretty"

	return cli.Command{
		Name:   "dump",
		Usage:  "print every document in a bson file as json",
		Before: mergeBeforeFuncs(requireFileFlag, setPlainLogger),
		Flags: fileFlag(
			cli.BoolFlag{
				Name:  prettyFlagName,
				Usage: "indent the output",
			}),
		Action: func(c *cli.Context) error {
			docs, err := readDocuments(c.String(fileFlagName))
			if err != nil {
				return err
			}

			for i, doc := range docs {
				out, err := json.Marshal(jsonDocument(doc))
				if err != nil {
					return errors.Wrapf(err, "rendering document %d", i)
				}
				if c.Bool(prettyFlagName) {
					buf := &bytes.Buffer{}
					if err := json.Indent(buf, out, "", "   "); err != nil {
						return errors.Wrapf(err, "indenting document %d", i)
					}
					out = buf.Bytes()
				}
				fmt.Println(string(out))
			}

			return nil
		},
	}
}

func readDocuments(path string) ([]bson.D, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading '%s'", path)
	}

	docs, err := bson.UnmarshalStream(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding '%s'", path)
	}
	return docs, nil
}

// jsonDocument renders a decoded document as json without losing the
// element order.
type jsonDocument bson.D

func (doc jsonDocument) MarshalJSON() ([]byte, error) {
	buf := bytes.NewBufferString("{")
	for i, elem := range doc {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(elem.Key)
		if err != nil {
			return nil, errors.Wrapf(err, "key '%s'", elem.Key)
		}
		buf.Write(key)
		buf.WriteByte(':')

		value, err := json.Marshal(jsonValue(elem.Value))
		if err != nil {
			return nil, errors.Wrapf(err, "value of key '%s'", elem.Key)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

type jsonArray bson.A

func (arr jsonArray) MarshalJSON() ([]byte, error) {
	buf := bytes.NewBufferString("[")
	for i, item := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}

		value, err := json.Marshal(jsonValue(item))
		if err != nil {
			return nil, errors.Wrapf(err, "index %d", i)
		}
		buf.Write(value)
	}
	buf.WriteByte(']')

	return buf.Bytes(), nil
}

// jsonValue lowers the codec's carrier types into their extended json
// forms; everything else passes through to the json encoder.
func jsonValue(value any) any {
	switch v := value.(type) {
	case bson.D:
		return jsonDocument(v)
	case bson.A:
		return jsonArray(v)
	case bson.ObjectID:
		return jsonDocument{{Key: "$oid", Value: v.Hex()}}
	case bson.DateTime:
		return jsonDocument{{Key: "$date", Value: v.Millis()}}
	case bson.Timestamp:
		return jsonDocument{{Key: "$timestamp", Value: jsonDocument{
			{Key: "t", Value: v.Sec},
			{Key: "i", Value: v.Inc},
		}}}
	case bson.Regex:
		return jsonDocument{
			{Key: "$regex", Value: v.Pattern},
			{Key: "$options", Value: v.Options},
		}
	case bson.Binary:
		return jsonDocument{
			{Key: "$binary", Value: base64.StdEncoding.EncodeToString(v.Data)},
			{Key: "$type", Value: fmt.Sprintf("%02x", v.Subtype)},
		}
	case bson.Code:
		return jsonDocument{{Key: "$code", Value: string(v)}}
	case bson.CodeWithScope:
		return jsonDocument{
			{Key: "$code", Value: v.Code},
			{Key: "$scope", Value: jsonDocument(v.Scope)},
		}
	case bson.DBPointer:
		return jsonDocument{
			{Key: "$ref", Value: v.Namespace},
			{Key: "$id", Value: jsonDocument{{Key: "$oid", Value: v.ID.Hex()}}},
		}
	case bson.MinKey:
		return jsonDocument{{Key: "$minKey", Value: 1}}
	case bson.MaxKey:
		return jsonDocument{{Key: "$maxKey", Value: 1}}
	default:
		return value
	}
}
