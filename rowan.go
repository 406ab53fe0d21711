// Package rowan translates collection-level database verbs into the
// command documents a MongoDB-style server consumes, and reshapes the
// server's acknowledgments back into stable Go results.
//
// The package owns no sockets. Callers supply a Transport that moves
// already-encoded documents to a server and back; rowan builds the
// command for each verb, picks between command dialects where server
// generations disagree, and normalizes the response. Documents are
// encoded and decoded with the companion bson package.
package rowan

import (
	"context"
	"fmt"

	"github.com/evergreen-ci/rowan/bson"
)

// ClientVersion is the version reported by tooling built on the
// library.
const ClientVersion = "2026-08-21"

// Transport executes command and legacy write round trips against a
// server. Implementations own connection handling and timeouts beyond
// those carried by the context; the translator never retries and never
// interprets transport errors beyond wrapping them.
type Transport interface {
	// RunCommand executes a command document against a database and
	// returns the server's reply document.
	RunCommand(ctx context.Context, db string, cmd bson.D) (bson.D, error)

	// RawWrite performs a legacy wire-protocol write against a fully
	// qualified namespace.
	RawWrite(ctx context.Context, ns Namespace, kind WriteKind, docs []bson.D, wc *WriteConcern) (bson.D, error)

	// ServerVersion reports the version of the connected server, used
	// to pick between command dialects.
	ServerVersion(ctx context.Context) (Version, error)
}

// Namespace is a fully qualified collection name.
type Namespace struct {
	DB         string
	Collection string
}

func (ns Namespace) String() string {
	return ns.DB + "." + ns.Collection
}

// WriteKind distinguishes legacy write operations.
type WriteKind int

const (
	WriteInsert WriteKind = iota
	WriteUpdate
	WriteDelete
)

func (k WriteKind) String() string {
	switch k {
	case WriteInsert:
		return "insert"
	case WriteUpdate:
		return "update"
	case WriteDelete:
		return "delete"
	}
	return fmt.Sprintf("invalid(%d)", int(k))
}

// Version is a server version triple.
type Version struct {
	Major int
	Minor int
	Patch int
}

// AtLeast reports whether v is at or above the given major and minor
// version.
func (v Version) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// WriteConcern describes the durability guarantee requested for a
// write. The zero value stands for the server default, under which
// write verbs report success or failure as a plain error; any other
// value is attached to the command and the raw acknowledgment is
// handed back to the caller.
type WriteConcern struct {
	W        int
	WMode    string
	J        bool
	WTimeout int
}

// IsDefault reports whether the concern adds nothing over the server
// default acknowledgment. A nil concern is the default.
func (wc *WriteConcern) IsDefault() bool {
	if wc == nil {
		return true
	}
	return wc.W == 0 && wc.WMode == "" && !wc.J && wc.WTimeout == 0
}

// document renders the writeConcern command sub-document.
func (wc *WriteConcern) document() bson.D {
	doc := bson.D{}
	if wc.WMode != "" {
		doc = doc.Append("w", wc.WMode)
	} else if wc.W > 0 {
		doc = doc.Append("w", int32(wc.W))
	}
	if wc.J {
		doc = doc.Append("j", true)
	}
	if wc.WTimeout > 0 {
		doc = doc.Append("wtimeout", int32(wc.WTimeout))
	}
	return doc
}
