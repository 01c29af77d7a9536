package mongodb

import (
	"context"
	"time"

	"github.com/anchorstack/commitchain/pkg/queue"
	types "github.com/anchorstack/commitchain/pkg/types/registry"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const CollectionName = "pending_commitments"

const (
	keyBatchId    = "batch_id"
	keyCreatedAt  = "created_at"
	keyAnchoredAt = "anchored_at"
)

// MongoQueue is the production pending-commitment feed. Acknowledged rows are kept with an
// anchored_at marker rather than deleted, preserving the anchor reference for auditing.
type MongoQueue struct {
	logger     *zap.Logger
	collection *mongo.Collection
}

var _ queue.Queue = (*MongoQueue)(nil)

// pendingDocument is the wire form of a pending commitment. Hashes are stored hex-encoded so
// operators can query by batch id directly.
type pendingDocument struct {
	Id            string     `bson:"_id"`
	BatchId       string     `bson:"batch_id"`
	TenantId      string     `bson:"tenant_id"`
	StoreId       string     `bson:"store_id"`
	EventsRoot    string     `bson:"events_root"`
	PrevStateRoot string     `bson:"prev_state_root"`
	NewStateRoot  string     `bson:"new_state_root"`
	SequenceStart uint64     `bson:"sequence_start"`
	SequenceEnd   uint64     `bson:"sequence_end"`
	EventCount    uint32     `bson:"event_count"`
	CreatedAt     time.Time  `bson:"created_at"`
	AnchoredAt    *time.Time `bson:"anchored_at,omitempty"`
	AnchorTxHash  []byte     `bson:"anchor_tx_hash,omitempty"`
	AnchorHeight  int64      `bson:"anchor_height,omitempty"`
}

func NewMongoQueue(logger *zap.Logger, db *mongo.Database) *MongoQueue {
	return &MongoQueue{
		logger:     logger,
		collection: db.Collection(CollectionName),
	}
}

func (q *MongoQueue) InitSchema(ctx context.Context) error {
	_, err := q.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: keyBatchId, Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: keyCreatedAt, Value: 1}},
		},
		{
			Keys: bson.D{{Key: keyAnchoredAt, Value: 1}},
		},
	})

	return err
}

func (q *MongoQueue) Enqueue(ctx context.Context, pending queue.PendingCommitment) error {
	if pending.Id == "" {
		pending.Id = uuid.New().String()
	}
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = time.Now()
	}

	_, err := q.collection.InsertOne(ctx, toDocument(pending))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return queue.ErrAlreadyEnqueued
		}

		return err
	}

	return nil
}

func (q *MongoQueue) List(ctx context.Context) ([]queue.PendingCommitment, error) {
	filter := bson.M{keyAnchoredAt: nil}
	opts := options.Find().SetSort(bson.D{{Key: keyCreatedAt, Value: 1}})

	cursor, err := q.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	var documents []pendingDocument
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, err
	}

	records := make([]queue.PendingCommitment, 0, len(documents))
	for _, doc := range documents {
		record, err := fromDocument(doc)
		if err != nil {
			// A malformed row must not wedge the whole queue
			q.logger.Error("Dropping malformed pending commitment", zap.Error(err), zap.String("id", doc.Id))
			continue
		}

		records = append(records, record)
	}

	return records, nil
}

func (q *MongoQueue) Acknowledge(ctx context.Context, batchId types.Hash32, ref queue.AnchorRef) error {
	anchoredAt := ref.Time
	if anchoredAt.IsZero() {
		anchoredAt = time.Now()
	}

	filter := bson.M{keyBatchId: batchId.String()}
	update := bson.M{"$set": bson.M{
		keyAnchoredAt:    anchoredAt,
		"anchor_tx_hash": ref.TxHash,
		"anchor_height":  ref.Height,
	}}

	res, err := q.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}

	if res.MatchedCount == 0 {
		return queue.ErrNotFound
	}

	return nil
}

func (q *MongoQueue) PendingCount(ctx context.Context) (int64, error) {
	return q.collection.CountDocuments(ctx, bson.M{keyAnchoredAt: nil})
}

func (q *MongoQueue) TestConnection() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	return q.collection.Database().Client().Ping(ctx, nil)
}

func toDocument(pending queue.PendingCommitment) pendingDocument {
	return pendingDocument{
		Id:            pending.Id,
		BatchId:       pending.BatchId.String(),
		TenantId:      pending.TenantId.String(),
		StoreId:       pending.StoreId.String(),
		EventsRoot:    pending.EventsRoot.String(),
		PrevStateRoot: pending.PrevStateRoot.String(),
		NewStateRoot:  pending.NewStateRoot.String(),
		SequenceStart: pending.SequenceStart,
		SequenceEnd:   pending.SequenceEnd,
		EventCount:    pending.EventCount,
		CreatedAt:     pending.CreatedAt,
	}
}

func fromDocument(doc pendingDocument) (queue.PendingCommitment, error) {
	record := queue.PendingCommitment{
		Id:            doc.Id,
		SequenceStart: doc.SequenceStart,
		SequenceEnd:   doc.SequenceEnd,
		EventCount:    doc.EventCount,
		CreatedAt:     doc.CreatedAt,
	}

	fields := []struct {
		target *types.Hash32
		value  string
	}{
		{&record.BatchId, doc.BatchId},
		{&record.TenantId, doc.TenantId},
		{&record.StoreId, doc.StoreId},
		{&record.EventsRoot, doc.EventsRoot},
		{&record.PrevStateRoot, doc.PrevStateRoot},
		{&record.NewStateRoot, doc.NewStateRoot},
	}

	for _, field := range fields {
		parsed, err := types.ParseHash32(field.value)
		if err != nil {
			return queue.PendingCommitment{}, errors.Wrapf(err, "parsing hash %q", field.value)
		}

		*field.target = parsed
	}

	return record, nil
}
