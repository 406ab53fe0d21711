// Package mock provides a scripted Transport for exercising the
// translator without a server.
package mock

import (
	"context"
	"sync"

	"github.com/evergreen-ci/rowan"
	"github.com/evergreen-ci/rowan/bson"
)

// this is just a hack to ensure that compile breaks clearly if the
// mock implementation diverges from the interface
var _ rowan.Transport = &Transport{}

// Transport is a scripted rowan.Transport. Queued responses are
// consumed in order; once a queue drains, every call is acknowledged
// with {ok: 1}. The zero value is usable, reports a zero server
// version, and records every round trip.
type Transport struct {
	Responses      []bson.D
	RunErr         error
	WriteResponses []bson.D
	WriteErr       error
	Version        rowan.Version
	VersionErr     error

	Commands []RecordedCommand
	Writes   []RecordedWrite

	mu sync.Mutex
}

// RecordedCommand is one RunCommand round trip as the transport saw
// it.
type RecordedCommand struct {
	DB      string
	Command bson.D
}

// RecordedWrite is one RawWrite round trip.
type RecordedWrite struct {
	NS      rowan.Namespace
	Kind    rowan.WriteKind
	Docs    []bson.D
	Concern *rowan.WriteConcern
}

func (t *Transport) RunCommand(_ context.Context, db string, cmd bson.D) (bson.D, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Commands = append(t.Commands, RecordedCommand{DB: db, Command: cmd})
	if t.RunErr != nil {
		return nil, t.RunErr
	}
	return t.next(&t.Responses), nil
}

func (t *Transport) RawWrite(_ context.Context, ns rowan.Namespace, kind rowan.WriteKind, docs []bson.D, wc *rowan.WriteConcern) (bson.D, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Writes = append(t.Writes, RecordedWrite{NS: ns, Kind: kind, Docs: docs, Concern: wc})
	if t.WriteErr != nil {
		return nil, t.WriteErr
	}
	return t.next(&t.WriteResponses), nil
}

func (t *Transport) ServerVersion(_ context.Context) (rowan.Version, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.VersionErr != nil {
		return rowan.Version{}, t.VersionErr
	}
	return t.Version, nil
}

func (t *Transport) next(queue *[]bson.D) bson.D {
	if len(*queue) == 0 {
		return bson.D{{Key: "ok", Value: int32(1)}}
	}

	resp := (*queue)[0]
	*queue = (*queue)[1:]
	return resp
}

// LastCommand returns the most recent command round trip, or nil when
// none have run.
func (t *Transport) LastCommand() *RecordedCommand {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.Commands) == 0 {
		return nil
	}
	return &t.Commands[len(t.Commands)-1]
}

// LastWrite returns the most recent legacy write, or nil when none
// have run.
func (t *Transport) LastWrite() *RecordedWrite {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.Writes) == 0 {
		return nil
	}
	return &t.Writes[len(t.Writes)-1]
}
