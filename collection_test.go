package rowan_test

import (
	"context"
	"testing"

	"github.com/evergreen-ci/rowan"
	"github.com/evergreen-ci/rowan/bson"
	"github.com/evergreen-ci/rowan/mock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type CollectionSuite struct {
	suite.Suite
	transport *mock.Transport
	db        *rowan.Database
	coll      *rowan.Collection
	ctx       context.Context
}

func TestCollectionSuite(t *testing.T) {
	suite.Run(t, new(CollectionSuite))
}

func (s *CollectionSuite) SetupTest() {
	s.transport = &mock.Transport{Version: rowan.Version{Major: 3}}
	s.db = rowan.NewDatabase(s.transport, "app")
	s.coll = s.db.C("events")
	s.ctx = context.Background()
}

func (s *CollectionSuite) respond(docs ...bson.D) {
	s.transport.Responses = append(s.transport.Responses, docs...)
}

func (s *CollectionSuite) lastCommand() bson.D {
	rec := s.transport.LastCommand()
	s.Require().NotNil(rec)
	s.Equal("app", rec.DB)
	return rec.Command
}

func (s *CollectionSuite) insertedDocs(cmd bson.D) []bson.D {
	v, found := cmd.Lookup("documents")
	s.Require().True(found)
	arr, ok := v.(bson.A)
	s.Require().True(ok)

	docs := make([]bson.D, 0, len(arr))
	for _, item := range arr {
		doc, ok := item.(bson.D)
		s.Require().True(ok)
		docs = append(docs, doc)
	}
	return docs
}

func countKey(doc bson.D, key string) int {
	n := 0
	for _, elem := range doc {
		if elem.Key == key {
			n++
		}
	}
	return n
}

func (s *CollectionSuite) TestInsertGeneratesMissingID() {
	ack, err := s.coll.Insert(s.ctx, []any{bson.D{{Key: "name", Value: "first"}}}, nil)
	s.Require().NoError(err)
	s.True(ack.Ok)
	s.Nil(ack.Raw)

	cmd := s.lastCommand()
	s.Equal("insert", cmd[0].Key)
	s.Equal("events", cmd[0].Value)

	ordered, found := cmd.Lookup("ordered")
	s.True(found)
	s.Equal(true, ordered)

	docs := s.insertedDocs(cmd)
	s.Require().Len(docs, 1)
	s.Equal(1, countKey(docs[0], "_id"))

	id, found := docs[0].Lookup("_id")
	s.Require().True(found)
	oid, ok := id.(bson.ObjectID)
	s.Require().True(ok)
	s.False(oid.IsZero())
	s.Len(oid.Hex(), 24)
	s.True(bson.IsObjectIDHex(oid.Hex()))
}

func (s *CollectionSuite) TestInsertKeepsCallerID() {
	ack, err := s.coll.Insert(s.ctx, []any{bson.D{
		{Key: "_id", Value: "custom-key"},
		{Key: "n", Value: int32(1)},
	}}, nil)
	s.Require().NoError(err)
	s.True(ack.Ok)

	docs := s.insertedDocs(s.lastCommand())
	s.Require().Len(docs, 1)
	s.Equal(1, countKey(docs[0], "_id"))

	id, found := docs[0].Lookup("_id")
	s.True(found)
	s.Equal("custom-key", id)
}

func (s *CollectionSuite) TestInsertManyMintsDistinctIDs() {
	ack, err := s.coll.Insert(s.ctx, []any{
		bson.M{"n": int32(1)},
		bson.M{"n": int32(2)},
		bson.M{"n": int32(3)},
	}, nil)
	s.Require().NoError(err)
	s.True(ack.Ok)

	seen := map[string]struct{}{}
	for _, doc := range s.insertedDocs(s.lastCommand()) {
		id, found := doc.Lookup("_id")
		s.Require().True(found)
		oid, ok := id.(bson.ObjectID)
		s.Require().True(ok)
		seen[oid.Hex()] = struct{}{}
	}
	s.Len(seen, 3)
}

func (s *CollectionSuite) TestInsertRejectsEmptySet() {
	ack, err := s.coll.Insert(s.ctx, nil, nil)
	s.Nil(ack)
	s.Require().Error(err)
	s.True(rowan.IsEmptyDocumentSet(err))
	s.Nil(s.transport.LastCommand())
}

func (s *CollectionSuite) TestInsertDefaultConcernRaisesServerFailure() {
	s.respond(bson.D{
		{Key: "ok", Value: int32(0)},
		{Key: "errmsg", Value: "disk full"},
		{Key: "code", Value: int32(14031)},
	})

	ack, err := s.coll.Insert(s.ctx, []any{bson.M{"n": int32(1)}}, nil)
	s.Nil(ack)
	s.Require().Error(err)
	s.True(rowan.IsCommandFailed(err))
}

func (s *CollectionSuite) TestInsertExplicitConcernPassesAckThrough() {
	resp := bson.D{{Key: "ok", Value: int32(0)}, {Key: "errmsg", Value: "timeout"}}
	s.respond(resp)

	ack, err := s.coll.Insert(s.ctx, []any{bson.M{"n": int32(1)}},
		&rowan.InsertOptions{WriteConcern: &rowan.WriteConcern{W: 2, WTimeout: 100}})
	s.Require().NoError(err)
	s.False(ack.Ok)
	s.Equal(resp, ack.Raw)

	wc, found := s.lastCommand().Lookup("writeConcern")
	s.Require().True(found)
	s.Equal(bson.D{
		{Key: "w", Value: int32(2)},
		{Key: "wtimeout", Value: int32(100)},
	}, wc)
}

func (s *CollectionSuite) TestInsertUsesDatabaseDefaultConcern() {
	db := rowan.NewDatabase(s.transport, "app",
		rowan.WithWriteConcern(&rowan.WriteConcern{WMode: "majority"}))

	ack, err := db.C("events").Insert(s.ctx, []any{bson.M{"n": int32(1)}}, nil)
	s.Require().NoError(err)
	s.True(ack.Ok)
	s.NotNil(ack.Raw)

	wc, found := s.lastCommand().Lookup("writeConcern")
	s.Require().True(found)
	s.Equal(bson.D{{Key: "w", Value: "majority"}}, wc)
}

func (s *CollectionSuite) TestInsertUsesInjectedIDSource() {
	src := bson.NewIDSource()
	db := rowan.NewDatabase(s.transport, "app", rowan.WithIDSource(src))
	coll := db.C("events")

	_, err := coll.Insert(s.ctx, []any{bson.M{"n": int32(1)}}, nil)
	s.Require().NoError(err)
	first := s.mintedID()

	_, err = coll.Insert(s.ctx, []any{bson.M{"n": int32(2)}}, nil)
	s.Require().NoError(err)
	second := s.mintedID()

	s.Equal(first.Machine(), second.Machine())
	s.Equal((first.Counter()+1)&0xffffff, second.Counter())
}

func (s *CollectionSuite) mintedID() bson.ObjectID {
	docs := s.insertedDocs(s.lastCommand())
	s.Require().Len(docs, 1)
	id, found := docs[0].Lookup("_id")
	s.Require().True(found)
	oid, ok := id.(bson.ObjectID)
	s.Require().True(ok)
	return oid
}

func (s *CollectionSuite) TestRemoveShape() {
	ack, err := s.coll.Remove(s.ctx, bson.M{"status": "stale"}, nil)
	s.Require().NoError(err)
	s.True(ack.Ok)

	cmd := s.lastCommand()
	s.Equal("delete", cmd[0].Key)
	s.Equal("events", cmd[0].Value)

	deletes, found := cmd.Lookup("deletes")
	s.Require().True(found)
	arr, ok := deletes.(bson.A)
	s.Require().True(ok)
	s.Require().Len(arr, 1)

	s.Equal(bson.D{
		{Key: "q", Value: bson.D{{Key: "status", Value: "stale"}}},
		{Key: "limit", Value: int32(0)},
	}, arr[0])
}

func (s *CollectionSuite) TestRemoveJustOne() {
	_, err := s.coll.Remove(s.ctx, nil, &rowan.RemoveOptions{JustOne: true})
	s.Require().NoError(err)

	deletes, _ := s.lastCommand().Lookup("deletes")
	arr := deletes.(bson.A)
	s.Equal(bson.D{
		{Key: "q", Value: bson.D{}},
		{Key: "limit", Value: int32(1)},
	}, arr[0])
}

func (s *CollectionSuite) TestUpdateCommandShape() {
	res, err := s.coll.Update(s.ctx,
		bson.M{"name": "old"},
		bson.M{"$set": bson.M{"name": "new"}},
		&rowan.UpdateOptions{Multi: true})
	s.Require().NoError(err)
	s.True(res.Ok)

	cmd := s.lastCommand()
	s.Equal("update", cmd[0].Key)
	s.Equal("events", cmd[0].Value)

	updates, found := cmd.Lookup("updates")
	s.Require().True(found)
	arr, ok := updates.(bson.A)
	s.Require().True(ok)
	s.Require().Len(arr, 1)

	s.Equal(bson.D{
		{Key: "q", Value: bson.D{{Key: "name", Value: "old"}}},
		{Key: "u", Value: bson.D{{Key: "$set", Value: bson.D{{Key: "name", Value: "new"}}}}},
		{Key: "multi", Value: true},
		{Key: "upsert", Value: false},
	}, arr[0])
}

func (s *CollectionSuite) TestUpdateNormalizesResult() {
	resp := bson.D{
		{Key: "ok", Value: int32(1)},
		{Key: "nMatched", Value: int32(3)},
		{Key: "nModified", Value: int32(2)},
		{Key: "writeErrors", Value: bson.A{}},
	}
	s.respond(resp)

	res, err := s.coll.Update(s.ctx, bson.M{"a": int32(1)}, bson.M{"$inc": bson.M{"a": int32(1)}},
		&rowan.UpdateOptions{Multi: true})
	s.Require().NoError(err)

	s.True(res.Ok)
	s.Equal(3, res.N)
	s.Equal(2, res.NModified)
	s.True(res.UpdatedExisting)
	s.Equal(bson.A{}, res.Err)
	s.Equal([]string{}, res.ErrMsg)
	s.Equal(resp, res.Raw)
}

func (s *CollectionSuite) TestUpdateUpsertReportsNewID() {
	id := bson.NewObjectID()
	s.respond(bson.D{
		{Key: "ok", Value: int32(1)},
		{Key: "n", Value: int32(1)},
		{Key: "nModified", Value: int32(0)},
		{Key: "upserted", Value: bson.A{bson.D{
			{Key: "index", Value: int32(0)},
			{Key: "_id", Value: id},
		}}},
	})

	res, err := s.coll.Update(s.ctx, bson.M{"k": "v"}, bson.M{"k": "v"},
		&rowan.UpdateOptions{Upsert: true})
	s.Require().NoError(err)

	s.False(res.UpdatedExisting)
	s.Equal(0, res.N)
	s.Equal(id, res.UpsertedID)
}

func (s *CollectionSuite) TestCount() {
	s.respond(bson.D{{Key: "ok", Value: int32(1)}, {Key: "n", Value: float64(42)}})

	n, err := s.coll.Count(s.ctx, bson.M{"live": true}, &rowan.CountOptions{Limit: 10, Skip: 5})
	s.Require().NoError(err)
	s.Equal(42, n)

	cmd := s.lastCommand()
	s.Equal("count", cmd[0].Key)

	limit, found := cmd.Lookup("limit")
	s.True(found)
	s.Equal(int32(10), limit)
	skip, found := cmd.Lookup("skip")
	s.True(found)
	s.Equal(int32(5), skip)
}

func (s *CollectionSuite) TestCountOmitsUnsetBounds() {
	_, err := s.coll.Count(s.ctx, nil, nil)
	s.Require().NoError(err)

	cmd := s.lastCommand()
	_, found := cmd.Lookup("limit")
	s.False(found)
	_, found = cmd.Lookup("skip")
	s.False(found)

	q, found := cmd.Lookup("query")
	s.True(found)
	s.Equal(bson.D{}, q)
}

func (s *CollectionSuite) TestCountFailure() {
	s.respond(bson.D{{Key: "ok", Value: int32(0)}, {Key: "errmsg", Value: "interrupted"}})

	_, err := s.coll.Count(s.ctx, nil, nil)
	s.Require().Error(err)
	s.True(rowan.IsCommandFailed(err))
}

func (s *CollectionSuite) TestDistinct() {
	s.respond(bson.D{
		{Key: "ok", Value: int32(1)},
		{Key: "values", Value: bson.A{"a", "b", "c"}},
	})

	values, err := s.coll.Distinct(s.ctx, "status", bson.M{"live": true})
	s.Require().NoError(err)
	s.Equal(bson.A{"a", "b", "c"}, values)

	cmd := s.lastCommand()
	s.Equal("distinct", cmd[0].Key)
	key, _ := cmd.Lookup("key")
	s.Equal("status", key)
}

func (s *CollectionSuite) TestAggregateUnwrapsResult() {
	s.respond(bson.D{
		{Key: "ok", Value: int32(1)},
		{Key: "result", Value: bson.A{
			bson.D{{Key: "_id", Value: "x"}, {Key: "total", Value: int32(3)}},
		}},
	})

	out, err := s.coll.Aggregate(s.ctx, bson.A{
		bson.M{"$match": bson.M{"live": true}},
		bson.M{"$group": bson.M{"_id": "$status"}},
	})
	s.Require().NoError(err)
	s.Require().Len(out, 1)

	cmd := s.lastCommand()
	s.Equal("aggregate", cmd[0].Key)
	pipeline, found := cmd.Lookup("pipeline")
	s.Require().True(found)
	stages, ok := pipeline.(bson.A)
	s.Require().True(ok)
	s.Len(stages, 2)
	s.Equal(bson.D{{Key: "$match", Value: bson.D{{Key: "live", Value: true}}}}, stages[0])
}

func (s *CollectionSuite) TestAggregateFailure() {
	s.respond(bson.D{{Key: "ok", Value: int32(0)}, {Key: "errmsg", Value: "bad stage"}})

	_, err := s.coll.Aggregate(s.ctx, bson.A{bson.M{"$bogus": int32(1)}})
	s.Require().Error(err)
	s.True(rowan.IsCommandFailed(err))
}

func (s *CollectionSuite) TestValidate() {
	s.respond(bson.D{
		{Key: "ok", Value: int32(1)},
		{Key: "valid", Value: true},
		{Key: "nrecords", Value: int32(100)},
	})

	report, err := s.coll.Validate(s.ctx, true)
	s.Require().NoError(err)

	valid, found := report.Lookup("valid")
	s.True(found)
	s.Equal(true, valid)

	scandata, found := s.lastCommand().Lookup("scandata")
	s.True(found)
	s.Equal(true, scandata)
}

func (s *CollectionSuite) TestDropIsIdempotent() {
	s.respond(bson.D{{Key: "ok", Value: int32(0)}, {Key: "errmsg", Value: "ns not found"}})
	s.NoError(s.coll.Drop(s.ctx))

	s.respond(bson.D{{Key: "ok", Value: int32(0)}, {Key: "errmsg", Value: "database is locked"}})
	err := s.coll.Drop(s.ctx)
	s.Require().Error(err)
	s.True(rowan.IsCommandFailed(err))

	s.NoError(s.coll.Drop(s.ctx))
}

func (s *CollectionSuite) TestEnsureIndexModernDialect() {
	name, err := s.coll.EnsureIndex(s.ctx,
		rowan.IndexKeys{{Key: "a", Value: 1}, {Key: "b", Value: -1}}, nil)
	s.Require().NoError(err)
	s.Equal("a_1_b_-1", name)
	s.Empty(s.transport.Writes)

	cmd := s.lastCommand()
	s.Equal("createIndexes", cmd[0].Key)
	s.Equal("events", cmd[0].Value)

	indexes, found := cmd.Lookup("indexes")
	s.Require().True(found)
	arr, ok := indexes.(bson.A)
	s.Require().True(ok)
	s.Require().Len(arr, 1)

	s.Equal(bson.D{
		{Key: "key", Value: bson.D{
			{Key: "a", Value: int32(1)},
			{Key: "b", Value: int32(-1)},
		}},
		{Key: "name", Value: "a_1_b_-1"},
	}, arr[0])
}

func (s *CollectionSuite) TestEnsureIndexBoundaryVersion() {
	s.transport.Version = rowan.Version{Major: 2, Minor: 6}

	_, err := s.coll.EnsureIndex(s.ctx, rowan.IndexKeys{{Key: "a", Value: 1}}, nil)
	s.Require().NoError(err)
	s.Empty(s.transport.Writes)
	s.Equal("createIndexes", s.lastCommand()[0].Key)
}

func (s *CollectionSuite) TestEnsureIndexLegacyDialect() {
	s.transport.Version = rowan.Version{Major: 2, Minor: 4}

	name, err := s.coll.EnsureIndex(s.ctx,
		rowan.IndexKeys{{Key: "a", Value: 1}, {Key: "b", Value: -1}}, nil)
	s.Require().NoError(err)
	s.Equal("a_1_b_-1", name)
	s.Empty(s.transport.Commands)

	write := s.transport.LastWrite()
	s.Require().NotNil(write)
	s.Equal(rowan.Namespace{DB: "app", Collection: "system.indexes"}, write.NS)
	s.Equal(rowan.WriteInsert, write.Kind)
	s.Require().Len(write.Docs, 1)

	s.Equal(bson.D{
		{Key: "ns", Value: "app.events"},
		{Key: "key", Value: bson.D{
			{Key: "a", Value: int32(1)},
			{Key: "b", Value: int32(-1)},
		}},
		{Key: "name", Value: "a_1_b_-1"},
	}, write.Docs[0])
}

func (s *CollectionSuite) TestEnsureIndexOptions() {
	name, err := s.coll.EnsureIndex(s.ctx, rowan.IndexKeys{{Key: "email", Value: 1}},
		&rowan.IndexOptions{Name: "email_unique", Unique: true, Sparse: true, ExpireAfterSeconds: 3600})
	s.Require().NoError(err)
	s.Equal("email_unique", name)

	indexes, _ := s.lastCommand().Lookup("indexes")
	spec := indexes.(bson.A)[0].(bson.D)

	got, _ := spec.Lookup("name")
	s.Equal("email_unique", got)
	unique, found := spec.Lookup("unique")
	s.True(found)
	s.Equal(true, unique)
	sparse, found := spec.Lookup("sparse")
	s.True(found)
	s.Equal(true, sparse)
	ttl, found := spec.Lookup("expireAfterSeconds")
	s.True(found)
	s.Equal(int32(3600), ttl)
	_, found = spec.Lookup("background")
	s.False(found)
	_, found = spec.Lookup("dropDups")
	s.False(found)
}

func (s *CollectionSuite) TestEnsureIndexRejectsEmptyKeys() {
	_, err := s.coll.EnsureIndex(s.ctx, nil, nil)
	s.Require().Error(err)
	s.True(rowan.IsEmptyDocumentSet(err))
}

func (s *CollectionSuite) TestEnsureIndexVersionLookupFailure() {
	root := errors.New("hello from the wire")
	s.transport.VersionErr = root

	_, err := s.coll.EnsureIndex(s.ctx, rowan.IndexKeys{{Key: "a", Value: 1}}, nil)
	s.Require().Error(err)
	s.Equal(root, errors.Cause(err))
}

func (s *CollectionSuite) TestDropIndex() {
	s.NoError(s.coll.DropIndex(s.ctx, rowan.IndexKeys{{Key: "a", Value: 1}}))

	cmd := s.lastCommand()
	s.Equal("dropIndexes", cmd[0].Key)
	index, _ := cmd.Lookup("index")
	s.Equal("a_1", index)
}

func (s *CollectionSuite) TestDropIndexes() {
	s.NoError(s.coll.DropIndexes(s.ctx))

	index, _ := s.lastCommand().Lookup("index")
	s.Equal("*", index)
}

func (s *CollectionSuite) TestFindAndModifyReturnsValue() {
	s.respond(bson.D{
		{Key: "ok", Value: int32(1)},
		{Key: "value", Value: bson.D{{Key: "_id", Value: int32(9)}, {Key: "state", Value: "claimed"}}},
	})

	doc, err := s.coll.FindAndModify(s.ctx,
		bson.M{"state": "pending"},
		bson.M{"$set": bson.M{"state": "claimed"}},
		&rowan.FindAndModifyOptions{New: true, Sort: bson.D{{Key: "created", Value: 1}}})
	s.Require().NoError(err)
	s.Require().NotNil(doc)

	state, _ := doc.Lookup("state")
	s.Equal("claimed", state)

	cmd := s.lastCommand()
	s.Equal("findAndModify", cmd[0].Key)
	_, found := cmd.Lookup("update")
	s.True(found)
	_, found = cmd.Lookup("sort")
	s.True(found)
	newFlag, found := cmd.Lookup("new")
	s.True(found)
	s.Equal(true, newFlag)
	_, found = cmd.Lookup("fields")
	s.False(found)
	_, found = cmd.Lookup("upsert")
	s.False(found)
	_, found = cmd.Lookup("remove")
	s.False(found)
}

func (s *CollectionSuite) TestFindAndModifyMissingValueIsNil() {
	s.respond(bson.D{{Key: "ok", Value: int32(1)}})

	doc, err := s.coll.FindAndModify(s.ctx, bson.M{"state": "none"}, bson.M{"$set": bson.M{"a": int32(1)}}, nil)
	s.NoError(err)
	s.Nil(doc)

	s.respond(bson.D{{Key: "ok", Value: int32(1)}, {Key: "value", Value: nil}})
	doc, err = s.coll.FindAndModify(s.ctx, bson.M{"state": "none"}, bson.M{"$set": bson.M{"a": int32(1)}}, nil)
	s.NoError(err)
	s.Nil(doc)
}

func (s *CollectionSuite) TestFindAndModifyRemove() {
	doc, err := s.coll.FindAndModify(s.ctx, bson.M{"state": "done"}, nil,
		&rowan.FindAndModifyOptions{Remove: true})
	s.Require().NoError(err)
	s.Nil(doc)

	cmd := s.lastCommand()
	remove, found := cmd.Lookup("remove")
	s.True(found)
	s.Equal(true, remove)
	_, found = cmd.Lookup("update")
	s.False(found)
}

func (s *CollectionSuite) TestGroupWithKeyDocument() {
	s.respond(bson.D{
		{Key: "ok", Value: int32(1)},
		{Key: "retval", Value: bson.A{bson.D{{Key: "status", Value: "done"}, {Key: "count", Value: float64(4)}}}},
	})

	out, err := s.coll.Group(s.ctx, rowan.GroupSpec{
		Key:     bson.M{"status": true},
		Initial: bson.M{"count": int32(0)},
		Reduce:  bson.Code("function(doc, out) { out.count++; }"),
	})
	s.Require().NoError(err)
	s.Len(out, 1)

	cmd := s.lastCommand()
	group, found := cmd.Lookup("group")
	s.Require().True(found)
	groupDoc, ok := group.(bson.D)
	s.Require().True(ok)

	ns, _ := groupDoc.Lookup("ns")
	s.Equal("events", ns)
	_, found = groupDoc.Lookup("key")
	s.True(found)
	_, found = groupDoc.Lookup("$keyf")
	s.False(found)
	_, found = groupDoc.Lookup("$reduce")
	s.True(found)
	_, found = groupDoc.Lookup("finalize")
	s.False(found)
}

func (s *CollectionSuite) TestGroupWithKeyFunction() {
	_, err := s.coll.Group(s.ctx, rowan.GroupSpec{
		Key:      bson.Code("function(doc) { return { day: doc.day }; }"),
		Initial:  bson.M{"count": int32(0)},
		Reduce:   bson.Code("function(doc, out) { out.count++; }"),
		Finalize: bson.Code("function(out) { return out; }"),
	})
	s.Require().NoError(err)

	group, _ := s.lastCommand().Lookup("group")
	groupDoc := group.(bson.D)

	_, found := groupDoc.Lookup("$keyf")
	s.True(found)
	_, found = groupDoc.Lookup("key")
	s.False(found)
	_, found = groupDoc.Lookup("finalize")
	s.True(found)
}

func (s *CollectionSuite) TestGroupFailure() {
	s.respond(bson.D{{Key: "ok", Value: int32(0)}, {Key: "errmsg", Value: "js error"}})

	_, err := s.coll.Group(s.ctx, rowan.GroupSpec{
		Key:     bson.M{"a": true},
		Reduce:  bson.Code("function() {}"),
		Initial: bson.M{},
	})
	s.Require().Error(err)
	s.True(rowan.IsGroupFailed(err))
	s.True(rowan.IsCommandFailed(err))
}

func (s *CollectionSuite) TestSaveWithIDUpdates() {
	res, err := s.coll.Save(s.ctx, bson.D{
		{Key: "_id", Value: "fixed"},
		{Key: "state", Value: "new"},
	})
	s.Require().NoError(err)
	s.True(res.Ok)

	cmd := s.lastCommand()
	s.Equal("update", cmd[0].Key)

	updates, _ := cmd.Lookup("updates")
	update := updates.(bson.A)[0].(bson.D)

	q, _ := update.Lookup("q")
	s.Equal(bson.D{{Key: "_id", Value: "fixed"}}, q)
	upsert, _ := update.Lookup("upsert")
	s.Equal(true, upsert)
	multi, _ := update.Lookup("multi")
	s.Equal(false, multi)
}

func (s *CollectionSuite) TestSaveWithoutIDInserts() {
	res, err := s.coll.Save(s.ctx, bson.D{{Key: "state", Value: "new"}})
	s.Require().NoError(err)
	s.True(res.Ok)

	cmd := s.lastCommand()
	s.Equal("insert", cmd[0].Key)

	docs := s.insertedDocs(cmd)
	s.Require().Len(docs, 1)
	s.Equal(1, countKey(docs[0], "_id"))

	id, found := docs[0].Lookup("_id")
	s.Require().True(found)
	s.Equal(id, res.UpsertedID)
	s.False(res.UpdatedExisting)
}

func (s *CollectionSuite) TestTransportErrorsKeepTheirCause() {
	root := errors.New("connection reset")
	s.transport.RunErr = root

	_, err := s.coll.Insert(s.ctx, []any{bson.M{"n": int32(1)}}, nil)
	s.Require().Error(err)
	s.Equal(root, errors.Cause(err))

	_, err = s.coll.Count(s.ctx, nil, nil)
	s.Require().Error(err)
	s.Equal(root, errors.Cause(err))

	err = s.coll.Drop(s.ctx)
	s.Require().Error(err)
	s.Equal(root, errors.Cause(err))
}

func (s *CollectionSuite) TestCreateDBRef() {
	id := bson.NewObjectID()
	s.Equal(bson.D{
		{Key: "$ref", Value: "events"},
		{Key: "$id", Value: id},
	}, s.coll.CreateDBRef(id))
}

func (s *CollectionSuite) TestDatabaseRun() {
	s.respond(bson.D{{Key: "ok", Value: int32(1)}, {Key: "version", Value: "3.0.0"}})

	resp, err := s.db.Run(s.ctx, bson.M{"buildInfo": int32(1)})
	s.Require().NoError(err)

	version, found := resp.Lookup("version")
	s.True(found)
	s.Equal("3.0.0", version)

	cmd := s.lastCommand()
	s.Equal(bson.D{{Key: "buildInfo", Value: int32(1)}}, cmd)
}

func (s *CollectionSuite) TestDropDatabase() {
	s.NoError(s.db.DropDatabase(s.ctx))
	s.Equal(bson.D{{Key: "dropDatabase", Value: int32(1)}}, s.lastCommand())

	s.respond(bson.D{{Key: "ok", Value: int32(0)}, {Key: "errmsg", Value: "nope"}})
	err := s.db.DropDatabase(s.ctx)
	s.Require().Error(err)
	s.True(rowan.IsCommandFailed(err))
}

func (s *CollectionSuite) TestCollectionName() {
	s.Equal("events", s.coll.Name())
	s.Equal("app", s.db.Name())
}
