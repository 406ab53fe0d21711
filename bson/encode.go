package bson

import (
	"encoding/binary"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	reflect "github.com/goccy/go-reflect"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Marshal encodes a document shaped value: a D, an M or other string
// keyed map, or a struct honoring `bson` field tags. Arrays and bare
// values cannot stand alone as documents, and keys must be unique
// within each document.
func Marshal(doc any) ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, 64)}
	if err := e.writeDocument(doc); err != nil {
		return nil, err
	}
	return e.buf, nil
}

// TransformDocument encodes doc and decodes the result, yielding an
// independent ordered copy of any supported document shape and
// surfacing unencodable content before it reaches a wire operation.
func TransformDocument(doc any) (D, error) {
	raw, err := Marshal(doc)
	if err != nil {
		return nil, err
	}
	return Unmarshal(raw)
}

type encoder struct {
	buf []byte
}

func (e *encoder) writeDocument(doc any) error {
	switch v := doc.(type) {
	case nil:
		return errors.Wrap(ErrUnencodableValue, "cannot encode nil as a document")
	case D:
		return e.writeD(v)
	case *D:
		if v == nil {
			return errors.Wrap(ErrUnencodableValue, "cannot encode a nil document pointer")
		}
		return e.writeD(*v)
	case M:
		return e.writeMap(v)
	case map[string]any:
		return e.writeMap(v)
	case A, []any:
		return errors.Wrap(ErrUnencodableValue, "an array cannot stand as a document")
	}

	rv := reflect.ValueOf(doc)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return errors.Wrap(ErrUnencodableValue, "cannot encode a nil document pointer")
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct:
		return e.writeStruct(rv)
	case reflect.Map:
		return e.writeReflectedMap(rv)
	}

	return errors.Wrapf(ErrUnencodableValue, "%T cannot stand as a document", doc)
}

// begin reserves a document's length prefix and returns its offset
// for end to patch once the body and terminator are in place.
func (e *encoder) begin() int {
	off := len(e.buf)
	e.buf = append(e.buf, 0, 0, 0, 0)
	return off
}

func (e *encoder) end(off int) {
	e.buf = append(e.buf, 0)
	binary.LittleEndian.PutUint32(e.buf[off:], uint32(len(e.buf)-off))
}

func (e *encoder) writeD(doc D) error {
	off := e.begin()
	seen := make(map[string]struct{}, len(doc))
	for _, elem := range doc {
		if _, dup := seen[elem.Key]; dup {
			return errors.Wrapf(ErrUnencodableValue, "document repeats key '%s'", elem.Key)
		}
		seen[elem.Key] = struct{}{}

		if err := e.writeElement(elem.Key, elem.Value); err != nil {
			return err
		}
	}
	e.end(off)
	return nil
}

// writeMap emits elements in sorted key order so equal maps produce
// identical bytes.
func (e *encoder) writeMap(m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	off := e.begin()
	for _, k := range keys {
		if err := e.writeElement(k, m[k]); err != nil {
			return err
		}
	}
	e.end(off)
	return nil
}

func (e *encoder) writeArray(arr A) error {
	off := e.begin()
	for i, v := range arr {
		if err := e.writeElement(strconv.Itoa(i), v); err != nil {
			return err
		}
	}
	e.end(off)
	return nil
}

func (e *encoder) writeElement(key string, value any) error {
	switch v := value.(type) {
	case nil:
		return e.writeHeader(TypeNull, key)
	case float64:
		if err := e.writeHeader(TypeDouble, key); err != nil {
			return err
		}
		e.writeUint64(math.Float64bits(v))
		return nil
	case float32:
		return e.writeElement(key, float64(v))
	case string:
		if err := e.writeHeader(TypeString, key); err != nil {
			return err
		}
		e.writeString(v)
		return nil
	case D:
		if err := e.writeHeader(TypeEmbeddedDocument, key); err != nil {
			return err
		}
		return e.writeD(v)
	case M:
		if err := e.writeHeader(TypeEmbeddedDocument, key); err != nil {
			return err
		}
		return e.writeMap(v)
	case map[string]any:
		if err := e.writeHeader(TypeEmbeddedDocument, key); err != nil {
			return err
		}
		return e.writeMap(v)
	case A:
		if err := e.writeHeader(TypeArray, key); err != nil {
			return err
		}
		return e.writeArray(v)
	case []any:
		return e.writeElement(key, A(v))
	case []byte:
		return e.writeElement(key, Binary{Subtype: BinaryGeneric, Data: v})
	case Binary:
		if err := e.writeHeader(TypeBinary, key); err != nil {
			return err
		}
		e.writeBinary(v)
		return nil
	case uuid.UUID:
		return e.writeElement(key, NewBinaryUUID(v))
	case ObjectID:
		if err := e.writeHeader(TypeObjectID, key); err != nil {
			return err
		}
		e.buf = append(e.buf, v[:]...)
		return nil
	case bool:
		if err := e.writeHeader(TypeBoolean, key); err != nil {
			return err
		}
		if v {
			e.buf = append(e.buf, 0x01)
		} else {
			e.buf = append(e.buf, 0x00)
		}
		return nil
	case DateTime:
		if err := e.writeHeader(TypeDateTime, key); err != nil {
			return err
		}
		e.writeInt64(v.Millis())
		return nil
	case time.Time:
		if err := e.writeHeader(TypeDateTime, key); err != nil {
			return err
		}
		e.writeInt64(v.UnixMilli())
		return nil
	case Regex:
		if err := e.writeHeader(TypeRegex, key); err != nil {
			return err
		}
		if err := e.writeCString(v.Pattern); err != nil {
			return errors.Wrap(err, "regex pattern")
		}
		return errors.Wrap(e.writeCString(v.Options), "regex options")
	case DBPointer:
		if err := e.writeHeader(TypeDBPointer, key); err != nil {
			return err
		}
		e.writeString(v.Namespace)
		e.buf = append(e.buf, v.ID[:]...)
		return nil
	case Code:
		if err := e.writeHeader(TypeJavaScript, key); err != nil {
			return err
		}
		e.writeString(string(v))
		return nil
	case CodeWithScope:
		if err := e.writeHeader(TypeCodeWithScope, key); err != nil {
			return err
		}
		return e.writeCodeWithScope(v)
	case int32:
		if err := e.writeHeader(TypeInt32, key); err != nil {
			return err
		}
		e.writeInt32(v)
		return nil
	case int64:
		if err := e.writeHeader(TypeInt64, key); err != nil {
			return err
		}
		e.writeInt64(v)
		return nil
	case int:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return e.writeElement(key, int32(v))
		}
		return e.writeElement(key, int64(v))
	case int8:
		return e.writeElement(key, int32(v))
	case int16:
		return e.writeElement(key, int32(v))
	case uint8:
		return e.writeElement(key, int32(v))
	case uint16:
		return e.writeElement(key, int32(v))
	case uint32:
		return e.writeElement(key, int64(v))
	case uint64:
		if v > math.MaxInt64 {
			return errors.Wrapf(ErrUnencodableValue, "%d overflows the widest integer element", v)
		}
		return e.writeElement(key, int64(v))
	case uint:
		return e.writeElement(key, uint64(v))
	case Timestamp:
		if err := e.writeHeader(TypeTimestamp, key); err != nil {
			return err
		}
		e.writeUint64(uint64(v.Sec)<<32 | uint64(v.Inc))
		return nil
	case MinKey:
		return e.writeHeader(TypeMinKey, key)
	case MaxKey:
		return e.writeHeader(TypeMaxKey, key)
	}

	return e.writeReflected(key, reflect.ValueOf(value))
}

// writeReflected lowers named and composite types the fast path does
// not name, mostly by converting to a primitive and re-entering
// writeElement.
func (e *encoder) writeReflected(key string, rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return e.writeHeader(TypeNull, key)
		}
		return e.writeElement(key, rv.Elem().Interface())
	case reflect.Struct:
		if err := e.writeHeader(TypeEmbeddedDocument, key); err != nil {
			return err
		}
		return e.writeStruct(rv)
	case reflect.Map:
		if err := e.writeHeader(TypeEmbeddedDocument, key); err != nil {
			return err
		}
		return e.writeReflectedMap(rv)
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			data := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(data), rv)
			return e.writeElement(key, Binary{Subtype: BinaryGeneric, Data: data})
		}
		if err := e.writeHeader(TypeArray, key); err != nil {
			return err
		}
		off := e.begin()
		for i := 0; i < rv.Len(); i++ {
			if err := e.writeElement(strconv.Itoa(i), rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		e.end(off)
		return nil
	case reflect.String:
		return e.writeElement(key, rv.String())
	case reflect.Bool:
		return e.writeElement(key, rv.Bool())
	case reflect.Float32, reflect.Float64:
		return e.writeElement(key, rv.Float())
	case reflect.Int8, reflect.Int16, reflect.Int32:
		return e.writeElement(key, int32(rv.Int()))
	case reflect.Int:
		return e.writeElement(key, int(rv.Int()))
	case reflect.Int64:
		return e.writeElement(key, rv.Int())
	case reflect.Uint8, reflect.Uint16:
		return e.writeElement(key, int32(rv.Uint()))
	case reflect.Uint32:
		return e.writeElement(key, int64(rv.Uint()))
	case reflect.Uint, reflect.Uint64:
		return e.writeElement(key, rv.Uint())
	}

	return errors.Wrapf(ErrUnencodableValue, "%s cannot be encoded as a bson value", rv.Type())
}

func (e *encoder) writeStruct(rv reflect.Value) error {
	off := e.begin()

	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue
		}

		name, omitempty, skip := parseFieldTag(field)
		if skip {
			continue
		}

		fv := rv.Field(i)
		if omitempty && isEmptyValue(fv) {
			continue
		}

		if err := e.writeElement(name, fv.Interface()); err != nil {
			return errors.Wrapf(err, "field %s", field.Name)
		}
	}

	e.end(off)
	return nil
}

func parseFieldTag(field reflect.StructField) (name string, omitempty, skip bool) {
	tag := field.Tag.Get("bson")
	if tag == "-" {
		return "", false, true
	}

	name = strings.ToLower(field.Name)
	if tag == "" {
		return name, false, false
	}

	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitempty = true
		}
	}
	return name, omitempty, false
}

func isEmptyValue(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.String:
		return rv.Len() == 0
	case reflect.Bool:
		return !rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	case reflect.Struct:
		if t, ok := rv.Interface().(time.Time); ok {
			return t.IsZero()
		}
	}
	return false
}

func (e *encoder) writeReflectedMap(rv reflect.Value) error {
	keyType := rv.Type().Key()
	if keyType.Kind() != reflect.String {
		return errors.Wrapf(ErrUnencodableValue, "map keys of type %s cannot name elements", keyType)
	}

	keys := make([]string, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)

	off := e.begin()
	for _, k := range keys {
		value := rv.MapIndex(reflect.ValueOf(k).Convert(keyType))
		if err := e.writeElement(k, value.Interface()); err != nil {
			return err
		}
	}
	e.end(off)
	return nil
}

func (e *encoder) writeHeader(t Type, key string) error {
	if key == "" {
		return errors.Wrap(ErrUnencodableValue, "element keys cannot be empty")
	}
	e.buf = append(e.buf, byte(t))
	return errors.Wrapf(e.writeCString(key), "element key")
}

func (e *encoder) writeCString(s string) error {
	if strings.IndexByte(s, 0) >= 0 {
		return errors.Wrapf(ErrUnencodableValue, "%q contains a NUL byte", s)
	}
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
	return nil
}

func (e *encoder) writeString(s string) {
	e.writeInt32(int32(len(s) + 1))
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
}

// writeBinary restores the redundant inner length that the legacy
// subtype carries on the wire.
func (e *encoder) writeBinary(b Binary) {
	if b.Subtype == BinaryGenericOld {
		e.writeInt32(int32(len(b.Data) + 4))
		e.buf = append(e.buf, b.Subtype)
		e.writeInt32(int32(len(b.Data)))
	} else {
		e.writeInt32(int32(len(b.Data)))
		e.buf = append(e.buf, b.Subtype)
	}
	e.buf = append(e.buf, b.Data...)
}

func (e *encoder) writeCodeWithScope(v CodeWithScope) error {
	off := len(e.buf)
	e.buf = append(e.buf, 0, 0, 0, 0)

	e.writeString(v.Code)
	if err := e.writeD(v.Scope); err != nil {
		return err
	}

	binary.LittleEndian.PutUint32(e.buf[off:], uint32(len(e.buf)-off))
	return nil
}

func (e *encoder) writeInt32(v int32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(v))
}

func (e *encoder) writeInt64(v int64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(v))
}

func (e *encoder) writeUint64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}
