package rowan

import (
	"context"

	"github.com/pkg/errors"
)

// indexDialect selects how index creation reaches the server.
type indexDialect int

const (
	dialectCreateIndexesCommand indexDialect = iota
	dialectSystemIndexesInsert
)

func (d indexDialect) String() string {
	if d == dialectCreateIndexesCommand {
		return "createIndexes"
	}
	return "systemIndexes"
}

// indexDialectFor picks the dialect from the server version, once per
// call: 2.6 introduced the createIndexes command, older servers take
// raw inserts into system.indexes.
func indexDialectFor(ctx context.Context, t Transport) (indexDialect, Version, error) {
	v, err := t.ServerVersion(ctx)
	if err != nil {
		return dialectCreateIndexesCommand, Version{}, errors.Wrap(err, "looking up server version")
	}

	if v.AtLeast(2, 6) {
		return dialectCreateIndexesCommand, v, nil
	}
	return dialectSystemIndexesInsert, v, nil
}
