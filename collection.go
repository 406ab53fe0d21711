package rowan

import (
	"context"
	"strings"

	"github.com/evergreen-ci/rowan/bson"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Collection addresses one collection and translates verb calls into
// command documents. Like Database it carries no per-call state.
type Collection struct {
	db   *Database
	name string
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) namespace() Namespace {
	return Namespace{DB: c.db.name, Collection: c.name}
}

func (c *Collection) annotateSpan(ctx context.Context, verb string) {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("rowan.db.collection", c.name),
		attribute.String("rowan.db.verb", verb),
	)
}

// toDocument converts caller input, treating nil as the empty
// document so selector and query arguments can be omitted.
func toDocument(in any) (bson.D, error) {
	if in == nil {
		return bson.D{}, nil
	}
	return bson.TransformDocument(in)
}

// ensureID appends a generated _id when the document lacks one; a
// caller-supplied _id is left untouched.
func (c *Collection) ensureID(doc bson.D) bson.D {
	if _, found := doc.Lookup("_id"); found {
		return doc
	}
	return doc.Append("_id", c.db.ids.NewObjectID())
}

// concernFor resolves a per-call concern against the database default.
func (c *Collection) concernFor(wc *WriteConcern) *WriteConcern {
	if wc != nil {
		return wc
	}
	return c.db.concern
}

// writeAck resolves the acknowledgment duality of insert and remove:
// under the default concern a failed write surfaces as an error, while
// an explicit concern hands the raw acknowledgment to the caller.
func writeAck(command string, resp bson.D, wc *WriteConcern) (*Ack, error) {
	if wc.IsDefault() {
		if err := commandFailure(command, resp); err != nil {
			return nil, err
		}
		return &Ack{Ok: true}, nil
	}
	return &Ack{Ok: responseOK(resp), Raw: resp}, nil
}

// InsertOptions adjust a single Insert call.
type InsertOptions struct {
	WriteConcern *WriteConcern
}

// Insert writes documents, minting an _id for each document that does
// not carry one.
func (c *Collection) Insert(ctx context.Context, docs []any, opts *InsertOptions) (*Ack, error) {
	if opts == nil {
		opts = &InsertOptions{}
	}
	if len(docs) == 0 {
		return nil, errors.Wrap(ErrEmptyDocumentSet, "insert")
	}
	c.annotateSpan(ctx, "insert")

	converted := make(bson.A, 0, len(docs))
	for i, doc := range docs {
		d, err := bson.TransformDocument(doc)
		if err != nil {
			return nil, errors.Wrapf(err, "converting document %d", i)
		}
		converted = append(converted, c.ensureID(d))
	}

	wc := c.concernFor(opts.WriteConcern)
	cmd := bson.D{
		{Key: "insert", Value: c.name},
		{Key: "documents", Value: converted},
		{Key: "ordered", Value: true},
	}
	if !wc.IsDefault() {
		cmd = cmd.Append("writeConcern", wc.document())
	}

	resp, err := c.db.transport.RunCommand(ctx, c.db.name, cmd)
	if err != nil {
		return nil, errors.Wrapf(err, "inserting into %s", c.namespace())
	}
	return writeAck("insert", resp, wc)
}

// RemoveOptions adjust a single Remove call.
type RemoveOptions struct {
	JustOne      bool
	WriteConcern *WriteConcern
}

// Remove deletes the documents matching the selector; a nil selector
// matches everything.
func (c *Collection) Remove(ctx context.Context, selector any, opts *RemoveOptions) (*Ack, error) {
	if opts == nil {
		opts = &RemoveOptions{}
	}
	c.annotateSpan(ctx, "remove")

	sel, err := toDocument(selector)
	if err != nil {
		return nil, errors.Wrap(err, "converting selector")
	}

	limit := int32(0)
	if opts.JustOne {
		limit = 1
	}

	wc := c.concernFor(opts.WriteConcern)
	cmd := bson.D{
		{Key: "delete", Value: c.name},
		{Key: "deletes", Value: bson.A{bson.D{
			{Key: "q", Value: sel},
			{Key: "limit", Value: limit},
		}}},
	}
	if !wc.IsDefault() {
		cmd = cmd.Append("writeConcern", wc.document())
	}

	resp, err := c.db.transport.RunCommand(ctx, c.db.name, cmd)
	if err != nil {
		return nil, errors.Wrapf(err, "removing from %s", c.namespace())
	}
	return writeAck("delete", resp, wc)
}

// UpdateOptions adjust a single Update call.
type UpdateOptions struct {
	Multi        bool
	Upsert       bool
	WriteConcern *WriteConcern
}

// Update rewrites the documents matching the selector and reshapes
// the server's acknowledgment into a WriteResult.
func (c *Collection) Update(ctx context.Context, selector, update any, opts *UpdateOptions) (*WriteResult, error) {
	if opts == nil {
		opts = &UpdateOptions{}
	}
	c.annotateSpan(ctx, "update")

	sel, err := toDocument(selector)
	if err != nil {
		return nil, errors.Wrap(err, "converting selector")
	}
	mod, err := bson.TransformDocument(update)
	if err != nil {
		return nil, errors.Wrap(err, "converting update document")
	}

	wc := c.concernFor(opts.WriteConcern)
	cmd := bson.D{
		{Key: "update", Value: c.name},
		{Key: "updates", Value: bson.A{bson.D{
			{Key: "q", Value: sel},
			{Key: "u", Value: mod},
			{Key: "multi", Value: opts.Multi},
			{Key: "upsert", Value: opts.Upsert},
		}}},
	}
	if !wc.IsDefault() {
		cmd = cmd.Append("writeConcern", wc.document())
	}

	resp, err := c.db.transport.RunCommand(ctx, c.db.name, cmd)
	if err != nil {
		return nil, errors.Wrapf(err, "updating %s", c.namespace())
	}
	return newWriteResult(resp), nil
}

// CountOptions bound a Count call.
type CountOptions struct {
	Limit int
	Skip  int
}

// Count reports how many documents match the query.
func (c *Collection) Count(ctx context.Context, query any, opts *CountOptions) (int, error) {
	if opts == nil {
		opts = &CountOptions{}
	}
	c.annotateSpan(ctx, "count")

	q, err := toDocument(query)
	if err != nil {
		return 0, errors.Wrap(err, "converting query")
	}

	cmd := bson.D{
		{Key: "count", Value: c.name},
		{Key: "query", Value: q},
	}
	if opts.Limit > 0 {
		cmd = cmd.Append("limit", int32(opts.Limit))
	}
	if opts.Skip > 0 {
		cmd = cmd.Append("skip", int32(opts.Skip))
	}

	resp, err := c.db.transport.RunCommand(ctx, c.db.name, cmd)
	if err != nil {
		return 0, errors.Wrapf(err, "counting %s", c.namespace())
	}
	if err := commandFailure("count", resp); err != nil {
		return 0, err
	}

	n, _ := lookupInt(resp, "n")
	return n, nil
}

// Distinct returns the distinct values of a key among the documents
// matching the query.
func (c *Collection) Distinct(ctx context.Context, key string, query any) (bson.A, error) {
	c.annotateSpan(ctx, "distinct")

	q, err := toDocument(query)
	if err != nil {
		return nil, errors.Wrap(err, "converting query")
	}

	cmd := bson.D{
		{Key: "distinct", Value: c.name},
		{Key: "key", Value: key},
		{Key: "query", Value: q},
	}
	resp, err := c.db.transport.RunCommand(ctx, c.db.name, cmd)
	if err != nil {
		return nil, errors.Wrapf(err, "reading distinct '%s' values from %s", key, c.namespace())
	}
	if err := commandFailure("distinct", resp); err != nil {
		return nil, err
	}

	values, _ := resp.Lookup("values")
	arr, ok := values.(bson.A)
	if !ok {
		return bson.A{}, nil
	}
	return arr, nil
}

// Aggregate runs a pipeline and returns the inline result set.
func (c *Collection) Aggregate(ctx context.Context, pipeline bson.A) (bson.A, error) {
	c.annotateSpan(ctx, "aggregate")

	stages := make(bson.A, 0, len(pipeline))
	for i, stage := range pipeline {
		doc, err := bson.TransformDocument(stage)
		if err != nil {
			return nil, errors.Wrapf(err, "converting pipeline stage %d", i)
		}
		stages = append(stages, doc)
	}

	cmd := bson.D{
		{Key: "aggregate", Value: c.name},
		{Key: "pipeline", Value: stages},
	}
	resp, err := c.db.transport.RunCommand(ctx, c.db.name, cmd)
	if err != nil {
		return nil, errors.Wrapf(err, "aggregating %s", c.namespace())
	}
	if err := commandFailure("aggregate", resp); err != nil {
		return nil, err
	}

	result, _ := resp.Lookup("result")
	arr, ok := result.(bson.A)
	if !ok {
		return bson.A{}, nil
	}
	return arr, nil
}

// Validate asks the server to check the collection's storage and
// returns the full report.
func (c *Collection) Validate(ctx context.Context, scanData bool) (bson.D, error) {
	c.annotateSpan(ctx, "validate")

	cmd := bson.D{
		{Key: "validate", Value: c.name},
		{Key: "scandata", Value: scanData},
	}
	resp, err := c.db.transport.RunCommand(ctx, c.db.name, cmd)
	if err != nil {
		return nil, errors.Wrapf(err, "validating %s", c.namespace())
	}
	if err := commandFailure("validate", resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Drop removes the collection. Dropping a collection that does not
// exist succeeds.
func (c *Collection) Drop(ctx context.Context) error {
	c.annotateSpan(ctx, "drop")

	resp, err := c.db.transport.RunCommand(ctx, c.db.name, bson.D{{Key: "drop", Value: c.name}})
	if err != nil {
		return errors.Wrapf(err, "dropping %s", c.namespace())
	}

	if !responseOK(resp) {
		cmdErr := newCommandError("drop", resp)
		if strings.Contains(cmdErr.Message, "ns not found") {
			grip.Debug(message.WrapError(cmdErr, message.Fields{
				"message": "dropped a collection that does not exist",
				"ns":      c.namespace().String(),
			}))
			return nil
		}
		return cmdErr
	}
	return nil
}

// IndexOptions adjust EnsureIndex beyond the key pattern.
type IndexOptions struct {
	Name               string
	Unique             bool
	DropDups           bool
	Background         bool
	Sparse             bool
	ExpireAfterSeconds int
}

// EnsureIndex creates an index over the given keys, deriving its name
// from the key pattern unless the options supply one. The server
// version decides how the request is sent: 2.6 and newer take the
// createIndexes command, older servers take a raw insert into the
// system.indexes collection. Both paths return the index name.
func (c *Collection) EnsureIndex(ctx context.Context, keys IndexKeys, opts *IndexOptions) (string, error) {
	if opts == nil {
		opts = &IndexOptions{}
	}
	if len(keys) == 0 {
		return "", errors.Wrap(ErrEmptyDocumentSet, "index keys")
	}
	c.annotateSpan(ctx, "ensureIndex")

	name := opts.Name
	if name == "" {
		name = keys.Name()
	}

	dialect, version, err := indexDialectFor(ctx, c.db.transport)
	if err != nil {
		return "", err
	}
	grip.Debug(message.Fields{
		"message": "selected index creation dialect",
		"dialect": dialect.String(),
		"server":  version.String(),
		"ns":      c.namespace().String(),
		"index":   name,
	})

	spec := bson.D{
		{Key: "key", Value: keys.document()},
		{Key: "name", Value: name},
	}
	spec = appendIndexOptions(spec, opts)

	switch dialect {
	case dialectCreateIndexesCommand:
		cmd := bson.D{
			{Key: "createIndexes", Value: c.name},
			{Key: "indexes", Value: bson.A{spec}},
		}
		resp, err := c.db.transport.RunCommand(ctx, c.db.name, cmd)
		if err != nil {
			return "", errors.Wrapf(err, "creating index on %s", c.namespace())
		}
		if err := commandFailure("createIndexes", resp); err != nil {
			return "", err
		}
	case dialectSystemIndexesInsert:
		doc := bson.D{{Key: "ns", Value: c.namespace().String()}}
		doc = append(doc, spec...)
		target := Namespace{DB: c.db.name, Collection: "system.indexes"}
		if _, err := c.db.transport.RawWrite(ctx, target, WriteInsert, []bson.D{doc}, c.db.concern); err != nil {
			return "", errors.Wrapf(err, "inserting index spec for %s", c.namespace())
		}
	}

	return name, nil
}

func appendIndexOptions(spec bson.D, opts *IndexOptions) bson.D {
	if opts.Unique {
		spec = spec.Append("unique", true)
	}
	if opts.DropDups {
		spec = spec.Append("dropDups", true)
	}
	if opts.Background {
		spec = spec.Append("background", true)
	}
	if opts.Sparse {
		spec = spec.Append("sparse", true)
	}
	if opts.ExpireAfterSeconds > 0 {
		spec = spec.Append("expireAfterSeconds", int32(opts.ExpireAfterSeconds))
	}
	return spec
}

// DropIndex removes the index derived from the given key pattern.
func (c *Collection) DropIndex(ctx context.Context, keys IndexKeys) error {
	return c.dropIndexNamed(ctx, keys.Name())
}

// DropIndexes removes every index on the collection except _id.
func (c *Collection) DropIndexes(ctx context.Context) error {
	return c.dropIndexNamed(ctx, "*")
}

func (c *Collection) dropIndexNamed(ctx context.Context, name string) error {
	c.annotateSpan(ctx, "dropIndexes")

	cmd := bson.D{
		{Key: "dropIndexes", Value: c.name},
		{Key: "index", Value: name},
	}
	resp, err := c.db.transport.RunCommand(ctx, c.db.name, cmd)
	if err != nil {
		return errors.Wrapf(err, "dropping index '%s' on %s", name, c.namespace())
	}
	return commandFailure("dropIndexes", resp)
}

// FindAndModifyOptions adjust a FindAndModify call. Remove deletes
// the matched document instead of applying an update; New returns the
// post-update document rather than the original.
type FindAndModifyOptions struct {
	Fields any
	Sort   any
	New    bool
	Upsert bool
	Remove bool
}

// FindAndModify atomically reads and rewrites one document. The
// returned document is nil without error when nothing matched.
func (c *Collection) FindAndModify(ctx context.Context, query, update any, opts *FindAndModifyOptions) (bson.D, error) {
	if opts == nil {
		opts = &FindAndModifyOptions{}
	}
	c.annotateSpan(ctx, "findAndModify")

	q, err := toDocument(query)
	if err != nil {
		return nil, errors.Wrap(err, "converting query")
	}

	cmd := bson.D{
		{Key: "findAndModify", Value: c.name},
		{Key: "query", Value: q},
	}
	if opts.Remove {
		cmd = cmd.Append("remove", true)
	} else {
		u, err := bson.TransformDocument(update)
		if err != nil {
			return nil, errors.Wrap(err, "converting update document")
		}
		cmd = cmd.Append("update", u)
	}
	if opts.Sort != nil {
		s, err := bson.TransformDocument(opts.Sort)
		if err != nil {
			return nil, errors.Wrap(err, "converting sort document")
		}
		cmd = cmd.Append("sort", s)
	}
	if opts.Fields != nil {
		f, err := bson.TransformDocument(opts.Fields)
		if err != nil {
			return nil, errors.Wrap(err, "converting field selection")
		}
		cmd = cmd.Append("fields", f)
	}
	if opts.New {
		cmd = cmd.Append("new", true)
	}
	if opts.Upsert {
		cmd = cmd.Append("upsert", true)
	}

	resp, err := c.db.transport.RunCommand(ctx, c.db.name, cmd)
	if err != nil {
		return nil, errors.Wrapf(err, "running findAndModify on %s", c.namespace())
	}
	if err := commandFailure("findAndModify", resp); err != nil {
		return nil, err
	}

	value, found := resp.Lookup("value")
	if !found || value == nil {
		return nil, nil
	}
	doc, ok := value.(bson.D)
	if !ok {
		return nil, errors.Errorf("findAndModify value holds %T, not a document", value)
	}
	return doc, nil
}

// GroupSpec describes a group command. A javascript Key (Code or
// CodeWithScope) is sent as $keyf; any other key document groups by
// its fields.
type GroupSpec struct {
	Key      any
	Cond     any
	Initial  any
	Reduce   bson.Code
	Finalize bson.Code
}

// Group runs the group command and unwraps its result set. Failures
// surface as GroupError.
func (c *Collection) Group(ctx context.Context, spec GroupSpec) (bson.A, error) {
	c.annotateSpan(ctx, "group")

	group := bson.D{{Key: "ns", Value: c.name}}
	switch key := spec.Key.(type) {
	case bson.Code, bson.CodeWithScope:
		group = group.Append("$keyf", key)
	default:
		doc, err := toDocument(spec.Key)
		if err != nil {
			return nil, errors.Wrap(err, "converting group key")
		}
		group = group.Append("key", doc)
	}

	cond, err := toDocument(spec.Cond)
	if err != nil {
		return nil, errors.Wrap(err, "converting group condition")
	}
	group = group.Append("cond", cond)

	initial, err := toDocument(spec.Initial)
	if err != nil {
		return nil, errors.Wrap(err, "converting group initial value")
	}
	group = group.Append("initial", initial)

	group = group.Append("$reduce", spec.Reduce)
	if spec.Finalize != "" {
		group = group.Append("finalize", spec.Finalize)
	}

	resp, err := c.db.transport.RunCommand(ctx, c.db.name, bson.D{{Key: "group", Value: group}})
	if err != nil {
		return nil, errors.Wrapf(err, "grouping %s", c.namespace())
	}
	if !responseOK(resp) {
		return nil, &GroupError{CommandError: *newCommandError("group", resp)}
	}

	retval, _ := resp.Lookup("retval")
	arr, ok := retval.(bson.A)
	if !ok {
		return bson.A{}, nil
	}
	return arr, nil
}

// Save upserts a document: with an _id it updates the matching
// document in place, without one it inserts under a fresh id. The
// result carries the id of a newly created document in UpsertedID.
func (c *Collection) Save(ctx context.Context, doc any) (*WriteResult, error) {
	c.annotateSpan(ctx, "save")

	d, err := bson.TransformDocument(doc)
	if err != nil {
		return nil, errors.Wrap(err, "converting document")
	}

	if id, found := d.Lookup("_id"); found {
		return c.Update(ctx, bson.D{{Key: "_id", Value: id}}, d, &UpdateOptions{Upsert: true})
	}

	d = c.ensureID(d)
	ack, err := c.Insert(ctx, []any{d}, nil)
	if err != nil {
		return nil, err
	}

	id, _ := d.Lookup("_id")
	return &WriteResult{
		Ok:         ack.Ok,
		UpsertedID: id,
		Err:        bson.A{},
		ErrMsg:     []string{},
		Raw:        ack.Raw,
	}, nil
}

// CreateDBRef builds a reference document pointing at a document of
// this collection.
func (c *Collection) CreateDBRef(id any) bson.D {
	return NewDBRef(c.name, id)
}
