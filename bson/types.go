package bson

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Type is a BSON element type tag as it appears on the wire.
type Type byte

const (
	TypeDouble           Type = 0x01
	TypeString           Type = 0x02
	TypeEmbeddedDocument Type = 0x03
	TypeArray            Type = 0x04
	TypeBinary           Type = 0x05
	TypeUndefined        Type = 0x06
	TypeObjectID         Type = 0x07
	TypeBoolean          Type = 0x08
	TypeDateTime         Type = 0x09
	TypeNull             Type = 0x0A
	TypeRegex            Type = 0x0B
	TypeDBPointer        Type = 0x0C
	TypeJavaScript       Type = 0x0D
	TypeSymbol           Type = 0x0E
	TypeCodeWithScope    Type = 0x0F
	TypeInt32            Type = 0x10
	TypeTimestamp        Type = 0x11
	TypeInt64            Type = 0x12
	TypeDecimal128       Type = 0x13
	TypeMaxKey           Type = 0x7F
	TypeMinKey           Type = 0xFF
)

func (t Type) String() string {
	switch t {
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeEmbeddedDocument:
		return "document"
	case TypeArray:
		return "array"
	case TypeBinary:
		return "binary"
	case TypeUndefined:
		return "undefined"
	case TypeObjectID:
		return "objectId"
	case TypeBoolean:
		return "boolean"
	case TypeDateTime:
		return "datetime"
	case TypeNull:
		return "null"
	case TypeRegex:
		return "regex"
	case TypeDBPointer:
		return "dbPointer"
	case TypeJavaScript:
		return "javascript"
	case TypeSymbol:
		return "symbol"
	case TypeCodeWithScope:
		return "javascriptWithScope"
	case TypeInt32:
		return "int32"
	case TypeTimestamp:
		return "timestamp"
	case TypeInt64:
		return "int64"
	case TypeDecimal128:
		return "decimal128"
	case TypeMaxKey:
		return "maxKey"
	case TypeMinKey:
		return "minKey"
	}

	return fmt.Sprintf("invalid(0x%02x)", byte(t))
}

// TypeOf reports the wire type a decoded value belongs to.
func TypeOf(value any) (Type, bool) {
	switch value.(type) {
	case float64:
		return TypeDouble, true
	case string:
		return TypeString, true
	case D:
		return TypeEmbeddedDocument, true
	case A:
		return TypeArray, true
	case Binary:
		return TypeBinary, true
	case ObjectID:
		return TypeObjectID, true
	case bool:
		return TypeBoolean, true
	case DateTime:
		return TypeDateTime, true
	case nil:
		return TypeNull, true
	case Regex:
		return TypeRegex, true
	case DBPointer:
		return TypeDBPointer, true
	case Code:
		return TypeJavaScript, true
	case CodeWithScope:
		return TypeCodeWithScope, true
	case int32:
		return TypeInt32, true
	case Timestamp:
		return TypeTimestamp, true
	case int64:
		return TypeInt64, true
	case MaxKey:
		return TypeMaxKey, true
	case MinKey:
		return TypeMinKey, true
	}

	return 0, false
}

// Binary element subtypes.
const (
	BinaryGeneric     byte = 0x00
	BinaryFunction    byte = 0x01
	BinaryGenericOld  byte = 0x02
	BinaryUUIDOld     byte = 0x03
	BinaryUUID        byte = 0x04
	BinaryMD5         byte = 0x05
	BinaryUserDefined byte = 0x80
)

// Binary is a raw byte blob with a subtype marker. The legacy 0x02
// subtype's redundant inner length is stripped at decode time and
// restored at encode time, so Data always holds just the payload.
type Binary struct {
	Subtype byte
	Data    []byte
}

// NewBinaryUUID wraps a UUID in a subtype 4 binary value.
func NewBinaryUUID(id uuid.UUID) Binary {
	return Binary{Subtype: BinaryUUID, Data: id[:]}
}

// UUID interprets a subtype 3 or 4 binary value as a UUID.
func (b Binary) UUID() (uuid.UUID, error) {
	if b.Subtype != BinaryUUID && b.Subtype != BinaryUUIDOld {
		return uuid.Nil, errors.Errorf("binary subtype 0x%02x does not hold a UUID", b.Subtype)
	}
	id, err := uuid.FromBytes(b.Data)
	return id, errors.Wrap(err, "reading UUID payload")
}

// DateTime is a UTC datetime split into whole seconds and residual
// microseconds. The wire representation is signed milliseconds since
// the Unix epoch; the split truncates toward zero in both fields, so
// negative instants carry a non-positive Usec.
type DateTime struct {
	Sec  int64
	Usec int64
}

// NewDateTime splits a count of milliseconds since the epoch.
func NewDateTime(msec int64) DateTime {
	return DateTime{Sec: msec / 1000, Usec: (msec % 1000) * 1000}
}

// NewDateTimeFromTime converts t at millisecond precision.
func NewDateTimeFromTime(t time.Time) DateTime {
	return NewDateTime(t.UnixMilli())
}

// Millis returns the wire representation.
func (dt DateTime) Millis() int64 {
	return dt.Sec*1000 + dt.Usec/1000
}

func (dt DateTime) Time() time.Time {
	return time.UnixMilli(dt.Millis()).UTC()
}

// Regex is a regular expression pattern with its option flags.
type Regex struct {
	Pattern string
	Options string
}

// String renders the delimited form "/pattern/options".
func (r Regex) String() string {
	return "/" + r.Pattern + "/" + r.Options
}

// ParseRegex inverts the delimited form produced by Regex.String. The
// options portion never contains a slash, so the last one wins.
func ParseRegex(s string) (Regex, error) {
	if len(s) < 2 || s[0] != '/' {
		return Regex{}, errors.Errorf("'%s' is not a delimited regular expression", s)
	}
	i := strings.LastIndexByte(s, '/')
	if i == 0 {
		return Regex{}, errors.Errorf("'%s' is missing its closing delimiter", s)
	}
	return Regex{Pattern: s[1:i], Options: s[i+1:]}, nil
}

// DBPointer is the legacy reference type pairing a namespace with the
// id of the referenced document. It decodes for compatibility with old
// data; new documents should use conventional $ref/$id documents.
type DBPointer struct {
	Namespace string
	ID        ObjectID
}

// Code is a javascript source string.
type Code string

// CodeWithScope is javascript source paired with a scope document.
type CodeWithScope struct {
	Code  string
	Scope D
}

// Timestamp is the internal replication timestamp type: a counter
// increment and a seconds field, carried in that order.
type Timestamp struct {
	Inc uint32
	Sec uint32
}

// MinKey sorts before every other value.
type MinKey struct{}

// MaxKey sorts after every other value.
type MaxKey struct{}
