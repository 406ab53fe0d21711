package bson

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// ObjectID is a 12 byte document identifier: a big-endian unix
// timestamp in seconds, a 3 byte machine hash, a 2 byte process id,
// and a big-endian 3 byte counter.
type ObjectID [12]byte

// IDSource generates ObjectIDs for one process. The machine and pid
// fields are fixed at construction; the counter advances atomically,
// so a single source is safe for concurrent use.
type IDSource struct {
	machine [3]byte
	pid     uint16
	counter uint32
}

// NewIDSource seeds a generator from the local hostname, process id,
// and a random initial counter.
func NewIDSource() *IDSource {
	src := &IDSource{
		machine: machineHash(),
		pid:     uint16(os.Getpid()),
	}

	var seed [4]byte
	if _, err := io.ReadFull(rand.Reader, seed[:]); err != nil {
		binary.BigEndian.PutUint32(seed[:], uint32(time.Now().UnixNano()))
	}
	src.counter = binary.BigEndian.Uint32(seed[:])

	return src
}

func machineHash() [3]byte {
	var machine [3]byte

	host, err := os.Hostname()
	if err != nil {
		if _, rerr := io.ReadFull(rand.Reader, machine[:]); rerr == nil {
			return machine
		}
		host = fmt.Sprintf("pid-%d-%d", os.Getpid(), time.Now().UnixNano())
	}

	sum := md5.Sum([]byte(host))
	copy(machine[:], sum[:3])
	return machine
}

// NewObjectID produces the next identifier. IDs from one source are
// unique until the 3 byte counter wraps within a single second.
func (s *IDSource) NewObjectID() ObjectID {
	var id ObjectID

	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:7], s.machine[:])
	binary.BigEndian.PutUint16(id[7:9], s.pid)

	c := atomic.AddUint32(&s.counter, 1)
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)

	return id
}

var defaultIDSource = NewIDSource()

// NewObjectID produces an identifier from the process-wide source.
func NewObjectID() ObjectID {
	return defaultIDSource.NewObjectID()
}

// DefaultIDSource exposes the process-wide generator for callers that
// thread an IDSource explicitly.
func DefaultIDSource() *IDSource {
	return defaultIDSource
}

// ObjectIDFromHex parses the 24 character hex form.
func ObjectIDFromHex(s string) (ObjectID, error) {
	var id ObjectID

	if len(s) != 24 {
		return id, errors.Wrapf(ErrInvalidObjectID, "hex string '%s' has length %d, not 24", s, len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, errors.Wrapf(ErrInvalidObjectID, "hex string '%s' is not valid hex", s)
	}

	return id, nil
}

// IsObjectIDHex reports whether s parses as an ObjectID.
func IsObjectIDHex(s string) bool {
	_, err := ObjectIDFromHex(s)
	return err == nil
}

// Hex returns the 24 character lowercase hex form.
func (id ObjectID) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id ObjectID) String() string {
	return fmt.Sprintf("ObjectID(%q)", id.Hex())
}

// Time returns the embedded creation timestamp at second precision.
func (id ObjectID) Time() time.Time {
	sec := binary.BigEndian.Uint32(id[0:4])
	return time.Unix(int64(sec), 0).UTC()
}

// Machine returns the 3 byte machine hash.
func (id ObjectID) Machine() []byte {
	return id[4:7]
}

// Pid returns the embedded process id.
func (id ObjectID) Pid() uint16 {
	return binary.BigEndian.Uint16(id[7:9])
}

// Counter returns the trailing counter value.
func (id ObjectID) Counter() uint32 {
	return uint32(id[9])<<16 | uint32(id[10])<<8 | uint32(id[11])
}

// IsZero reports whether id is the all-zero identifier.
func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}
