package bson

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// minDocumentLen is the size of an empty document: a 4 byte length
// prefix and the terminator.
const minDocumentLen = 5

// Unmarshal decodes a single document occupying the whole buffer.
// Trailing bytes are an error; use UnmarshalStream for concatenated
// documents. A buffer that ends before its document does is malformed,
// never a truncated stream.
func Unmarshal(data []byte) (D, error) {
	if len(data) < 4 {
		return nil, errors.Wrapf(ErrMalformedDocument, "%d bytes is too short for a document header", len(data))
	}

	d := &decoder{data: data}
	doc, err := d.readDocument()
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.data) {
		return nil, errors.Wrapf(ErrMalformedDocument, "%d bytes trail the document", len(d.data)-d.pos)
	}

	return doc, nil
}

// UnmarshalStream decodes back to back documents until the buffer is
// exhausted. At least one document must be present. A stream that ends
// mid document is ErrUnexpectedEOS; a document wrong within its own
// stated length is ErrMalformedDocument.
func UnmarshalStream(data []byte) ([]D, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrUnexpectedEOS, "stream holds no documents")
	}

	d := &decoder{data: data}
	var docs []D
	for d.pos < len(d.data) {
		remaining := len(d.data) - d.pos
		if remaining < 4 {
			return nil, errors.Wrapf(ErrUnexpectedEOS, "%d bytes remain, fewer than a document header", remaining)
		}
		length := int(int32(binary.LittleEndian.Uint32(d.data[d.pos:])))
		if length >= minDocumentLen && length > remaining {
			return nil, errors.Wrapf(ErrUnexpectedEOS, "document %d of %d bytes overruns the remaining %d", len(docs), length, remaining)
		}

		doc, err := d.readDocument()
		if err != nil {
			return nil, errors.Wrapf(err, "document %d", len(docs))
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

type decoder struct {
	data []byte
	pos  int
}

// beginDocument consumes a document's length prefix, validates it
// against the remaining buffer, and returns the offset one past the
// document's final byte.
func (d *decoder) beginDocument() (int, error) {
	start := d.pos

	length, err := d.readInt32()
	if err != nil {
		return 0, err
	}
	if length < minDocumentLen {
		return 0, errors.Wrapf(ErrMalformedDocument, "document length %d is below the %d byte minimum", length, minDocumentLen)
	}

	end := start + int(length)
	if end > len(d.data) {
		return 0, errors.Wrapf(ErrMalformedDocument, "document of %d bytes overruns the remaining %d", length, len(d.data)-start)
	}

	return end, nil
}

func (d *decoder) readDocument() (D, error) {
	end, err := d.beginDocument()
	if err != nil {
		return nil, err
	}

	doc := D{}
	seen := map[string]struct{}{}
	for {
		if d.pos >= end {
			return nil, errors.Wrap(ErrMalformedDocument, "document is missing its terminator")
		}

		tag := d.data[d.pos]
		d.pos++
		if tag == 0 {
			if d.pos != end {
				return nil, errors.Wrapf(ErrMalformedDocument, "document terminated %d bytes before its stated length", end-d.pos)
			}
			return doc, nil
		}

		key, err := d.readCString()
		if err != nil {
			return nil, err
		}
		if key == "" {
			return nil, errors.Wrap(ErrMalformedDocument, "document contains an element with an empty key")
		}
		if _, dup := seen[key]; dup {
			return nil, errors.Wrapf(ErrMalformedDocument, "document repeats key '%s'", key)
		}
		seen[key] = struct{}{}

		value, err := d.readValue(Type(tag))
		if err != nil {
			return nil, errors.Wrapf(err, "decoding key '%s'", key)
		}
		doc = append(doc, E{Key: key, Value: value})
	}
}

// readArray walks a document body discarding the index keys, which
// are trusted rather than validated.
func (d *decoder) readArray() (A, error) {
	end, err := d.beginDocument()
	if err != nil {
		return nil, err
	}

	arr := A{}
	for {
		if d.pos >= end {
			return nil, errors.Wrap(ErrMalformedDocument, "array is missing its terminator")
		}

		tag := d.data[d.pos]
		d.pos++
		if tag == 0 {
			if d.pos != end {
				return nil, errors.Wrapf(ErrMalformedDocument, "array terminated %d bytes before its stated length", end-d.pos)
			}
			return arr, nil
		}

		if _, err := d.readCString(); err != nil {
			return nil, err
		}

		value, err := d.readValue(Type(tag))
		if err != nil {
			return nil, errors.Wrapf(err, "decoding index %d", len(arr))
		}
		arr = append(arr, value)
	}
}

func (d *decoder) readValue(t Type) (any, error) {
	switch t {
	case TypeDouble:
		bits, err := d.readInt64()
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(uint64(bits)), nil
	case TypeString:
		return d.readString()
	case TypeEmbeddedDocument:
		return d.readDocument()
	case TypeArray:
		return d.readArray()
	case TypeBinary:
		return d.readBinary()
	case TypeObjectID:
		return d.readObjectID()
	case TypeBoolean:
		return d.readBool()
	case TypeDateTime:
		msec, err := d.readInt64()
		if err != nil {
			return nil, err
		}
		return NewDateTime(msec), nil
	case TypeNull:
		return nil, nil
	case TypeRegex:
		pattern, err := d.readCString()
		if err != nil {
			return nil, err
		}
		options, err := d.readCString()
		if err != nil {
			return nil, err
		}
		return Regex{Pattern: pattern, Options: options}, nil
	case TypeDBPointer:
		ns, err := d.readString()
		if err != nil {
			return nil, err
		}
		id, err := d.readObjectID()
		if err != nil {
			return nil, err
		}
		return DBPointer{Namespace: ns, ID: id}, nil
	case TypeJavaScript:
		code, err := d.readString()
		if err != nil {
			return nil, err
		}
		return Code(code), nil
	case TypeCodeWithScope:
		return d.readCodeWithScope()
	case TypeInt32:
		return d.readInt32()
	case TypeTimestamp:
		return d.readTimestamp()
	case TypeInt64:
		return d.readInt64()
	case TypeMinKey:
		return MinKey{}, nil
	case TypeMaxKey:
		return MaxKey{}, nil
	}

	return nil, errors.Wrapf(ErrMalformedDocument, "unrecognized element type 0x%02x", byte(t))
}

func (d *decoder) require(n int) error {
	if len(d.data)-d.pos < n {
		return errors.Wrapf(ErrMalformedDocument, "need %d bytes, have %d", n, len(d.data)-d.pos)
	}
	return nil
}

func (d *decoder) readInt32() (int32, error) {
	if err := d.require(4); err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(d.data[d.pos:]))
	d.pos += 4
	return v, nil
}

func (d *decoder) readInt64() (int64, error) {
	if err := d.require(8); err != nil {
		return 0, err
	}
	v := int64(binary.LittleEndian.Uint64(d.data[d.pos:]))
	d.pos += 8
	return v, nil
}

func (d *decoder) readCString() (string, error) {
	i := bytes.IndexByte(d.data[d.pos:], 0)
	if i < 0 {
		return "", errors.Wrap(ErrMalformedDocument, "cstring is missing its terminator")
	}
	s := string(d.data[d.pos : d.pos+i])
	d.pos += i + 1
	return s, nil
}

// readString consumes a length prefixed string; the length counts the
// trailing NUL, so it is at least 1.
func (d *decoder) readString() (string, error) {
	length, err := d.readInt32()
	if err != nil {
		return "", err
	}
	if length < 1 {
		return "", errors.Wrapf(ErrMalformedDocument, "string length %d is below the 1 byte minimum", length)
	}
	if err := d.require(int(length)); err != nil {
		return "", err
	}

	raw := d.data[d.pos : d.pos+int(length)]
	d.pos += int(length)
	if raw[len(raw)-1] != 0 {
		return "", errors.Wrap(ErrMalformedDocument, "string is missing its terminator")
	}

	return string(raw[:len(raw)-1]), nil
}

func (d *decoder) readObjectID() (ObjectID, error) {
	var id ObjectID
	if err := d.require(len(id)); err != nil {
		return id, err
	}
	copy(id[:], d.data[d.pos:])
	d.pos += len(id)
	return id, nil
}

func (d *decoder) readBool() (bool, error) {
	if err := d.require(1); err != nil {
		return false, err
	}
	b := d.data[d.pos]
	d.pos++

	switch b {
	case 0x00:
		return false, nil
	case 0x01:
		return true, nil
	}
	return false, errors.Wrapf(ErrMalformedDocument, "boolean byte 0x%02x is neither 0x00 nor 0x01", b)
}

func (d *decoder) readBinary() (Binary, error) {
	length, err := d.readInt32()
	if err != nil {
		return Binary{}, err
	}
	if length < 0 {
		return Binary{}, errors.Wrapf(ErrMalformedDocument, "binary length %d is negative", length)
	}

	if err := d.require(1); err != nil {
		return Binary{}, err
	}
	subtype := d.data[d.pos]
	d.pos++

	if err := d.require(int(length)); err != nil {
		return Binary{}, err
	}
	payload := make([]byte, int(length))
	copy(payload, d.data[d.pos:])
	d.pos += int(length)

	if subtype == BinaryGenericOld {
		if len(payload) < 4 {
			return Binary{}, errors.Wrapf(ErrMalformedDocument, "legacy binary of %d bytes cannot hold its inner length", len(payload))
		}
		inner := int32(binary.LittleEndian.Uint32(payload))
		if int(inner) != len(payload)-4 {
			return Binary{}, errors.Wrapf(ErrMalformedDocument, "legacy binary inner length %d disagrees with its %d byte payload", inner, len(payload)-4)
		}
		payload = payload[4:]
	}

	return Binary{Subtype: subtype, Data: payload}, nil
}

func (d *decoder) readCodeWithScope() (CodeWithScope, error) {
	start := d.pos

	total, err := d.readInt32()
	if err != nil {
		return CodeWithScope{}, err
	}
	if total < 14 {
		return CodeWithScope{}, errors.Wrapf(ErrMalformedDocument, "code with scope length %d is below the 14 byte minimum", total)
	}

	code, err := d.readString()
	if err != nil {
		return CodeWithScope{}, err
	}
	scope, err := d.readDocument()
	if err != nil {
		return CodeWithScope{}, err
	}

	if d.pos-start != int(total) {
		return CodeWithScope{}, errors.Wrapf(ErrMalformedDocument, "code with scope consumed %d bytes against a stated %d", d.pos-start, total)
	}

	return CodeWithScope{Code: code, Scope: scope}, nil
}

// readTimestamp unpacks the uint64 wire value: the low word is the
// increment, the high word the seconds.
func (d *decoder) readTimestamp() (Timestamp, error) {
	if err := d.require(8); err != nil {
		return Timestamp{}, err
	}
	v := binary.LittleEndian.Uint64(d.data[d.pos:])
	d.pos += 8
	return Timestamp{Inc: uint32(v), Sec: uint32(v >> 32)}, nil
}
