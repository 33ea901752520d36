package export

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/materialflow/config"
	"github.com/BaSui01/materialflow/internal/database"
)

type fakeCollection struct {
	docs []any
	err  error
}

func (f *fakeCollection) InsertMany(_ context.Context, documents any, _ ...options.Lister[options.InsertManyOptions]) (*mongo.InsertManyResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	docs := documents.([]any)
	f.docs = append(f.docs, docs...)
	ids := make([]any, len(docs))
	for i := range ids {
		ids[i] = i
	}
	return &mongo.InsertManyResult{InsertedIDs: ids}, nil
}

func docMap(d bson.D) map[string]any {
	m := make(map[string]any, len(d))
	for _, e := range d {
		m[e.Key] = e.Value
	}
	return m
}

func sampleRecords() []database.ObservationRecord {
	return []database.ObservationRecord{
		{ImagePath: "r/chair/gpt_input/render_0/part_0.png", Caption: "seat", Material: "wood", HardnessLow: 30, HardnessHigh: 40, Scale: "Shore A", Raw: "seat,wood,30-40,Shore A", Valid: true},
		{ImagePath: "r/chair/gpt_input/render_0/part_1.png", Raw: "error,-1"},
	}
}

func TestToDocuments(t *testing.T) {
	docs := toDocuments("run-1", "chair", sampleRecords())
	require.Len(t, docs, 2)

	first := docMap(docs[0].(bson.D))
	assert.Equal(t, "run-1", first["run_id"])
	assert.Equal(t, "chair", first["asset"])
	assert.Equal(t, "wood", first["material"])
	assert.Equal(t, true, first["valid"])

	hardness := docMap(first["hardness"].(bson.D))
	assert.Equal(t, 30.0, hardness["low"])
	assert.Equal(t, 40.0, hardness["high"])
	assert.Equal(t, "Shore A", hardness["scale"])
}

func TestMongoSink_Export(t *testing.T) {
	coll := &fakeCollection{}
	s := &MongoSink{coll: coll, logger: zap.NewNop()}

	require.NoError(t, s.Export(context.Background(), "run-1", "chair", sampleRecords()))
	assert.Len(t, coll.docs, 2)

	// 空批次不发请求
	require.NoError(t, s.Export(context.Background(), "run-1", "chair", nil))
	assert.Len(t, coll.docs, 2)
}

func TestMongoSink_ExportError(t *testing.T) {
	s := &MongoSink{coll: &fakeCollection{err: errors.New("not primary")}, logger: zap.NewNop()}

	err := s.Export(context.Background(), "run-1", "chair", sampleRecords())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not primary")
	assert.Contains(t, err.Error(), "chair")
}

func TestNewMongoSink_EmptyURI(t *testing.T) {
	_, err := NewMongoSink(context.Background(), config.ExportConfig{}, nil)
	assert.Error(t, err)
}

func TestMongoSink_CloseWithoutClient(t *testing.T) {
	s := &MongoSink{coll: &fakeCollection{}}
	assert.NoError(t, s.Close(context.Background()))
}
