package mongodb

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"go.pilab.hu/oauth-broker/domain"
	"go.pilab.hu/oauth-broker/errors"
)

// TokenRecordRepository persists domain.TokenRecord documents in MongoDB.
// Refresh races across broker instances are arbitrated here through the
// version precondition on conditional updates.
type TokenRecordRepository struct {
	coll *mongo.Collection
}

var _ domain.TokenRecordRepository = (*TokenRecordRepository)(nil)

func NewTokenRecordRepository(db *mongo.Database) *TokenRecordRepository {
	return &TokenRecordRepository{
		coll: db.Collection(TokenRecordsCollection),
	}
}

// EnsureIndexes creates the unique (subject_key, provider) index. Called
// once at startup; the uniqueness constraint is what turns a racing second
// create into ErrRecordExists instead of a duplicate document.
func (r *TokenRecordRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "subject_key", Value: 1},
			{Key: "provider", Value: 1},
		},
		Options: mongoUniqueIndex(),
	})
	if err != nil {
		return fmt.Errorf("failed to create token record index: %w", err)
	}
	return nil
}

func (r *TokenRecordRepository) Get(ctx context.Context, subjectKey, provider string) (*domain.TokenRecord, error) {
	var record domain.TokenRecord
	err := r.coll.FindOne(ctx, bson.M{
		"subject_key": subjectKey, "provider": provider,
	}).Decode(&record)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token record: %w", err)
	}
	return &record, nil
}

// Put writes a token record. expectedVersion nil means create-if-absent;
// a concrete expectedVersion means conditional update. On success the
// record's Version and UpdatedAt fields reflect the stored document.
func (r *TokenRecordRepository) Put(ctx context.Context, record *domain.TokenRecord, expectedVersion *int64) error {
	now := time.Now().UTC()

	if expectedVersion == nil {
		record.Version = 1
		record.UpdatedAt = now
		_, err := r.coll.InsertOne(ctx, record)
		if mongo.IsDuplicateKeyError(err) {
			return errors.ErrRecordExists
		}
		if err != nil {
			return fmt.Errorf("failed to insert token record: %w", err)
		}
		return nil
	}

	record.Version = *expectedVersion + 1
	record.UpdatedAt = now

	filter := bson.M{
		"subject_key": record.SubjectKey,
		"provider":    record.Provider,
		"version":     *expectedVersion,
	}
	update := bson.M{"$set": bson.M{
		"access_token":      record.AccessToken,
		"refresh_token":     record.RefreshToken,
		"access_expires_at": record.AccessExpiresAt,
		"scope":             record.Scope,
		"updated_at":        record.UpdatedAt,
		"version":           record.Version,
	}}

	result, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update token record: %w", err)
	}
	if result.MatchedCount == 0 {
		// Distinguish a lost race from a deleted record so callers can
		// re-read and adopt the winner, or surface reauth, respectively.
		count, countErr := r.coll.CountDocuments(ctx, bson.M{
			"subject_key": record.SubjectKey, "provider": record.Provider,
		})
		if countErr != nil {
			return fmt.Errorf("failed to check token record existence: %w", countErr)
		}
		if count == 0 {
			return errors.ErrTokenNotFound
		}
		log.Debug().
			Str("provider", record.Provider).
			Int64("expected_version", *expectedVersion).
			Msg("Token record version conflict")
		return errors.ErrVersionConflict
	}
	return nil
}

func (r *TokenRecordRepository) Delete(ctx context.Context, subjectKey, provider string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{
		"subject_key": subjectKey, "provider": provider,
	})
	if err != nil {
		return fmt.Errorf("failed to delete token record: %w", err)
	}
	return nil
}
