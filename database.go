package rowan

import (
	"context"

	"github.com/evergreen-ci/rowan/bson"
	"github.com/pkg/errors"
)

// Database addresses one logical database through a Transport. It
// holds no per-call state, so one value serves concurrent callers.
type Database struct {
	transport Transport
	name      string
	ids       *bson.IDSource
	concern   *WriteConcern
}

// Option adjusts database construction.
type Option func(*Database)

// WithIDSource supplies the generator used to mint _id values for
// inserts. Tests inject deterministic sources this way.
func WithIDSource(src *bson.IDSource) Option {
	return func(db *Database) {
		db.ids = src
	}
}

// WithWriteConcern sets the concern applied to write verbs that do
// not carry their own.
func WithWriteConcern(wc *WriteConcern) Option {
	return func(db *Database) {
		db.concern = wc
	}
}

// NewDatabase wires a named database onto a transport.
func NewDatabase(transport Transport, name string, opts ...Option) *Database {
	db := &Database{
		transport: transport,
		name:      name,
		ids:       bson.DefaultIDSource(),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Name returns the database name.
func (db *Database) Name() string {
	return db.name
}

// C addresses a collection within the database.
func (db *Database) C(name string) *Collection {
	return &Collection{db: db, name: name}
}

// Run executes an arbitrary command document against the database and
// returns the raw reply.
func (db *Database) Run(ctx context.Context, cmd any) (bson.D, error) {
	doc, err := bson.TransformDocument(cmd)
	if err != nil {
		return nil, errors.Wrap(err, "building command document")
	}

	resp, err := db.transport.RunCommand(ctx, db.name, doc)
	return resp, errors.Wrap(err, "running command")
}

// DropDatabase removes the database and everything in it.
func (db *Database) DropDatabase(ctx context.Context) error {
	resp, err := db.transport.RunCommand(ctx, db.name, bson.D{{Key: "dropDatabase", Value: int32(1)}})
	if err != nil {
		return errors.Wrapf(err, "dropping database '%s'", db.name)
	}
	return commandFailure("dropDatabase", resp)
}
