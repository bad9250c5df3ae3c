package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
)

// MongoStore persists outbox entries in a MongoDB collection. Per-document
// atomicity of findOneAndUpdate stands in for the row lock a relational
// backend gets from FOR UPDATE SKIP LOCKED.
type MongoStore struct {
	client     *mongo.Client
	database   string
	collection string
}

var _ OutboxStore = (*MongoStore)(nil)

func NewMongoStore(client *mongo.Client, database, collection string) *MongoStore {
	return &MongoStore{
		client:     client,
		database:   database,
		collection: collection,
	}
}

type mongoEntry struct {
	ID              string     `bson:"_id"`
	Type            string     `bson:"type"`
	Status          string     `bson:"status"`
	RelatedEntityID string     `bson:"related_entity_id,omitempty"`
	Recipient       string     `bson:"recipient"`
	Subject         string     `bson:"subject"`
	Body            string     `bson:"body"`
	RetryCount      int        `bson:"retry_count"`
	LastError       string     `bson:"last_error"`
	NextRetryAt     *time.Time `bson:"next_retry_at,omitempty"`
	LeaseOwner      string     `bson:"lease_owner,omitempty"`
	LeaseExpiresAt  *time.Time `bson:"lease_expires_at,omitempty"`
	CreatedAt       time.Time  `bson:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at"`
}

func toMongoEntry(entry *OutboxEntry) mongoEntry {
	doc := mongoEntry{
		ID:             entry.ID.String(),
		Type:           string(entry.Type),
		Status:         string(entry.Status),
		Recipient:      entry.Recipient,
		Subject:        entry.Subject,
		Body:           entry.Body,
		RetryCount:     entry.RetryCount,
		LastError:      entry.LastError,
		NextRetryAt:    entry.NextRetryAt,
		LeaseOwner:     entry.LeaseOwner,
		LeaseExpiresAt: entry.LeaseExpiresAt,
		CreatedAt:      entry.CreatedAt,
		UpdatedAt:      entry.UpdatedAt,
	}
	if entry.RelatedEntityID != nil {
		doc.RelatedEntityID = entry.RelatedEntityID.String()
	}
	return doc
}

func (doc mongoEntry) toEntry() (*OutboxEntry, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, err
	}
	entry := &OutboxEntry{
		ID:             id,
		Type:           MessageType(doc.Type),
		Status:         Status(doc.Status),
		Recipient:      doc.Recipient,
		Subject:        doc.Subject,
		Body:           doc.Body,
		RetryCount:     doc.RetryCount,
		LastError:      doc.LastError,
		NextRetryAt:    doc.NextRetryAt,
		LeaseOwner:     doc.LeaseOwner,
		LeaseExpiresAt: doc.LeaseExpiresAt,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	if doc.RelatedEntityID != "" {
		related, err := uuid.Parse(doc.RelatedEntityID)
		if err != nil {
			return nil, err
		}
		entry.RelatedEntityID = &related
	}
	return entry, nil
}

func (m *MongoStore) entries() *mongo.Collection {
	return m.client.Database(m.database).Collection(m.collection)
}

func (m *MongoStore) Create(ctx context.Context, entry *OutboxEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Create")
	defer span.End()

	if _, err := m.entries().InsertOne(ctx, toMongoEntry(entry)); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// ClaimDue leases due entries one document at a time: each findOneAndUpdate
// is atomic, so two workers can never stamp the same document within a
// lease window.
func (m *MongoStore) ClaimDue(ctx context.Context, ownerID string, limit int, leaseDuration time.Duration) ([]OutboxEntry, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ClaimDue")
	defer span.End()

	start := time.Now()
	now := start.UTC()
	expiry := now.Add(leaseDuration)

	filter := bson.M{
		"status": string(StatusPending),
		"$and": []bson.M{
			{"$or": []bson.M{
				{"next_retry_at": bson.M{"$exists": false}},
				{"next_retry_at": nil},
				{"next_retry_at": bson.M{"$lte": now}},
			}},
			{"$or": []bson.M{
				{"lease_expires_at": bson.M{"$exists": false}},
				{"lease_expires_at": nil},
				{"lease_expires_at": bson.M{"$lte": now}},
			}},
		},
	}
	update := bson.M{"$set": bson.M{
		"lease_owner":      ownerID,
		"lease_expires_at": expiry,
		"updated_at":       now,
	}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetReturnDocument(options.After)

	var entries []OutboxEntry
	for i := 0; i < limit; i++ {
		var doc mongoEntry
		err := m.entries().FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			break
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		entry, err := doc.toEntry()
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		entries = append(entries, *entry)
	}

	addDBStatsToSpan(span, "mongodb", "ClaimDue", len(entries), time.Since(start))
	return entries, nil
}

func (m *MongoStore) GetByID(ctx context.Context, id uuid.UUID) (*OutboxEntry, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "GetByID")
	defer span.End()

	var doc mongoEntry
	err := m.entries().FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return doc.toEntry()
}

func (m *MongoStore) MarkSent(ctx context.Context, id uuid.UUID, ownerID string, body string) error {
	return m.leaseGuardedUpdate(ctx, "MarkSent", id, ownerID, bson.M{
		"status":           string(StatusSent),
		"body":             body,
		"next_retry_at":    nil,
		"lease_owner":      "",
		"lease_expires_at": nil,
		"updated_at":       time.Now().UTC(),
	})
}

func (m *MongoStore) Reschedule(ctx context.Context, id uuid.UUID, ownerID string, lastError string, nextRetryAt time.Time, retryCount int) error {
	return m.leaseGuardedUpdate(ctx, "Reschedule", id, ownerID, bson.M{
		"status":           string(StatusPending),
		"retry_count":      retryCount,
		"next_retry_at":    nextRetryAt,
		"last_error":       truncateError(lastError),
		"lease_owner":      "",
		"lease_expires_at": nil,
		"updated_at":       time.Now().UTC(),
	})
}

func (m *MongoStore) MarkDead(ctx context.Context, id uuid.UUID, ownerID string, lastError string, retryCount int) error {
	return m.leaseGuardedUpdate(ctx, "MarkDead", id, ownerID, bson.M{
		"status":           string(StatusFailed),
		"retry_count":      retryCount,
		"next_retry_at":    nil,
		"last_error":       truncateError(lastError),
		"lease_owner":      "",
		"lease_expires_at": nil,
		"updated_at":       time.Now().UTC(),
	})
}

func (m *MongoStore) Cancel(ctx context.Context, id uuid.UUID) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Cancel")
	defer span.End()

	res, err := m.entries().UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": string(StatusPending)},
		bson.M{"$set": bson.M{
			"status":           string(StatusCancelled),
			"lease_owner":      "",
			"lease_expires_at": nil,
			"updated_at":       time.Now().UTC(),
		}})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if res.ModifiedCount == 0 {
		if _, err := m.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrNotCancellable
	}
	return nil
}

func (m *MongoStore) CancelByRelatedEntity(ctx context.Context, relatedEntityID uuid.UUID) (int64, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "CancelByRelatedEntity")
	defer span.End()

	res, err := m.entries().UpdateMany(ctx,
		bson.M{"related_entity_id": relatedEntityID.String(), "status": string(StatusPending)},
		bson.M{"$set": bson.M{
			"status":           string(StatusCancelled),
			"lease_owner":      "",
			"lease_expires_at": nil,
			"updated_at":       time.Now().UTC(),
		}})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (m *MongoStore) Requeue(ctx context.Context, id uuid.UUID) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Requeue")
	defer span.End()

	res, err := m.entries().UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": string(StatusFailed)},
		bson.M{"$set": bson.M{
			"status":           string(StatusPending),
			"retry_count":      0,
			"next_retry_at":    nil,
			"last_error":       "",
			"lease_owner":      "",
			"lease_expires_at": nil,
			"updated_at":       time.Now().UTC(),
		}})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if res.ModifiedCount == 0 {
		return ErrNotRequeueable
	}
	return nil
}

func (m *MongoStore) ListDeadLettered(ctx context.Context, limit int) ([]OutboxEntry, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ListDeadLettered")
	defer span.End()

	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := m.entries().Find(ctx, bson.M{"status": string(StatusFailed)}, opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []OutboxEntry
	for cursor.Next(ctx) {
		var doc mongoEntry
		if err := cursor.Decode(&doc); err != nil {
			span.RecordError(err)
			return nil, err
		}
		entry, err := doc.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, cursor.Err()
}

func (m *MongoStore) leaseGuardedUpdate(ctx context.Context, spanName string, id uuid.UUID, ownerID string, set bson.M) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	res, err := m.entries().UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": string(StatusPending), "lease_owner": ownerID},
		bson.M{"$set": set})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if res.ModifiedCount == 0 {
		return ErrLeaseLost
	}
	return nil
}
