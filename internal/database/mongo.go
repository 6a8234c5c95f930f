// server/internal/database/mongo.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"wecare-supplier-api-server/config"
)

// CollectionSyncJobs lưu các lần ghi quyết định chưa đồng bộ lên CRM.
const CollectionSyncJobs = "sync_jobs"

// Connect mở kết nối MongoDB và ping trước khi trả về.
func Connect(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, client.Database(cfg.DBName), nil
}

// EnsureIndexes tạo các index cần thiết; chạy lại nhiều lần không sao.
func EnsureIndexes(ctx context.Context, db *mongo.Database, log logrus.FieldLogger) error {
	jobs := db.Collection(CollectionSyncJobs)
	names, err := jobs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "state", Value: 1}, {Key: "nextAttemptAt", Value: 1}},
			Options: options.Index().SetName("state_next_attempt"),
		},
		{
			Keys:    bson.D{{Key: "supplierCode", Value: 1}, {Key: "orderId", Value: 1}},
			Options: options.Index().SetName("supplier_order"),
		},
	})
	if err != nil {
		return fmt.Errorf("create %s indexes: %w", CollectionSyncJobs, err)
	}
	log.WithField("indexes", names).Info("MongoDB indexes ensured")
	return nil
}
