package purge

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jorgepascosoto/collection-archiver/internal/backup"
	"github.com/jorgepascosoto/collection-archiver/internal/errors"
)

const disconnectTimeout = 10 * time.Second

// BulkWriter is satisfied by *mongo.Collection.
type BulkWriter interface {
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
}

// Result reports how a submitted delete batch went. Mismatch is set when
// fewer documents were deleted than requested; it is informational only.
type Result struct {
	Requested int64
	Deleted   int64
	Mismatch  *errors.PurgeMismatchError
}

type MongoPurger struct {
	logger *slog.Logger
}

func NewMongoPurger(logger *slog.Logger) *MongoPurger {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoPurger{logger: logger}
}

// Purge connects to the target database and deletes exactly ids.
func (p *MongoPurger) Purge(ctx context.Context, target backup.Target, ids []backup.DocumentID) (*Result, error) {
	if len(ids) == 0 {
		return &Result{}, nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(target.URI))
	if err != nil {
		return nil, errors.NewPurgeError(target.DatabaseName, target.CollectionName, fmt.Errorf("failed to connect: %w", err))
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
		defer cancel()
		if err := client.Disconnect(dctx); err != nil {
			p.logger.Warn("Failed to disconnect from database", "error", err)
		}
	}()

	coll := client.Database(target.DatabaseName).Collection(target.CollectionName)
	return DeleteBatch(ctx, coll, target, ids)
}

// DeleteBatch submits one unordered bulk write with a DeleteOne per id.
// Per-document write errors do not abort the batch; they show up as a
// Mismatch on the result. Only a batch that could not be submitted at all
// returns an error.
func DeleteBatch(ctx context.Context, w BulkWriter, target backup.Target, ids []backup.DocumentID) (*Result, error) {
	result := &Result{Requested: int64(len(ids))}
	if len(ids) == 0 {
		return result, nil
	}

	models := make([]mongo.WriteModel, 0, len(ids))
	for _, id := range ids {
		models = append(models, mongo.NewDeleteOneModel().SetFilter(bson.D{{Key: backup.IDField, Value: id}}))
	}

	res, err := w.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if res != nil {
		result.Deleted = res.DeletedCount
	}

	var cause error
	if err != nil {
		var bulkErr mongo.BulkWriteException
		if !stderrors.As(err, &bulkErr) {
			return nil, errors.NewPurgeError(target.DatabaseName, target.CollectionName, err)
		}
		cause = err
	}

	if result.Deleted != result.Requested {
		result.Mismatch = errors.NewPurgeMismatchError(result.Requested, result.Deleted, cause)
	}

	return result, nil
}
