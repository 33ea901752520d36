package export

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/materialflow/config"
	"github.com/BaSui01/materialflow/internal/database"
)

// Sink 观测结果下游
type Sink interface {
	Export(ctx context.Context, runID, asset string, records []database.ObservationRecord) error
	Close(ctx context.Context) error
}

// inserter 抽出集合上用到的方法，便于测试
type inserter interface {
	InsertMany(ctx context.Context, documents any, opts ...options.Lister[options.InsertManyOptions]) (*mongo.InsertManyResult, error)
}

// MongoSink 把观测写入 MongoDB 集合
type MongoSink struct {
	client *mongo.Client
	coll   inserter
	logger *zap.Logger
}

// NewMongoSink 连接 MongoDB 并校验连通性
func NewMongoSink(ctx context.Context, cfg config.ExportConfig, logger *zap.Logger) (*MongoSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("mongo uri is empty")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	logger = logger.With(zap.String("component", "mongo_sink"))
	logger.Info("mongo sink connected",
		zap.String("database", cfg.MongoDatabase),
		zap.String("collection", cfg.MongoCollection))

	return &MongoSink{
		client: client,
		coll:   client.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection),
		logger: logger,
	}, nil
}

// Export 批量写入一个资产的观测
func (s *MongoSink) Export(ctx context.Context, runID, asset string, records []database.ObservationRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := toDocuments(runID, asset, records)
	res, err := s.coll.InsertMany(ctx, docs)
	if err != nil {
		return fmt.Errorf("export %d observations of %s: %w", len(docs), asset, err)
	}
	s.logger.Debug("observations exported",
		zap.String("asset", asset),
		zap.Int("count", len(res.InsertedIDs)))
	return nil
}

// Close 断开连接
func (s *MongoSink) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func toDocuments(runID, asset string, records []database.ObservationRecord) []any {
	now := time.Now().UTC()
	docs := make([]any, 0, len(records))
	for _, r := range records {
		doc := bson.D{
			{Key: "run_id", Value: runID},
			{Key: "asset", Value: asset},
			{Key: "image_path", Value: r.ImagePath},
			{Key: "caption", Value: r.Caption},
			{Key: "material", Value: r.Material},
			{Key: "hardness", Value: bson.D{
				{Key: "low", Value: r.HardnessLow},
				{Key: "high", Value: r.HardnessHigh},
				{Key: "scale", Value: r.Scale},
			}},
			{Key: "raw", Value: r.Raw},
			{Key: "valid", Value: r.Valid},
			{Key: "exported_at", Value: now},
		}
		docs = append(docs, doc)
	}
	return docs
}
