package syncqueue

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"wecare-supplier-api-server/internal/database"
)

// MongoJournal lưu job vào collection sync_jobs.
type MongoJournal struct {
	coll *mongo.Collection
}

func NewMongoJournal(db *mongo.Database) *MongoJournal {
	return &MongoJournal{coll: db.Collection(database.CollectionSyncJobs)}
}

func (j *MongoJournal) Save(ctx context.Context, job Job) error {
	_, err := j.coll.ReplaceOne(ctx, bson.M{"_id": job.ID}, job, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save sync job %s: %w", job.ID, err)
	}
	return nil
}

func (j *MongoJournal) Delete(ctx context.Context, id string) error {
	if _, err := j.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete sync job %s: %w", id, err)
	}
	return nil
}

func (j *MongoJournal) Pending(ctx context.Context) ([]Job, error) {
	opts := options.Find().SetSort(bson.D{{Key: "nextAttemptAt", Value: 1}})
	cursor, err := j.coll.Find(ctx, bson.M{"state": StateQueued}, opts)
	if err != nil {
		return nil, fmt.Errorf("find pending sync jobs: %w", err)
	}
	defer cursor.Close(ctx)

	jobs := []Job{}
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("decode pending sync jobs: %w", err)
	}
	return jobs, nil
}

func (j *MongoJournal) Outstanding(ctx context.Context, supplierCode string) ([]Job, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := j.coll.Find(ctx, bson.M{"supplierCode": supplierCode}, opts)
	if err != nil {
		return nil, fmt.Errorf("find sync jobs of %s: %w", supplierCode, err)
	}
	defer cursor.Close(ctx)

	jobs := []Job{}
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("decode sync jobs of %s: %w", supplierCode, err)
	}
	return jobs, nil
}
