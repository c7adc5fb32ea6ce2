package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"postal-service/internal/bucketing"
	"postal-service/internal/model"
	"postal-service/internal/util"
)

// SubjectRepository implements model.SubjectLedger on ScyllaDB. Subjects are
// partitioned by bucket to keep partitions bounded; email and mobile lookups
// go through dedicated index tables.
type SubjectRepository struct {
	client  *ScyllaClient
	buckets *bucketing.Manager
}

func NewSubjectRepository(client *ScyllaClient, buckets *bucketing.Manager) *SubjectRepository {
	return &SubjectRepository{
		client:  client,
		buckets: buckets,
	}
}

func (r *SubjectRepository) GetSubject(ctx context.Context, identifier string) (*model.Subject, error) {
	bucket := r.buckets.SubjectBucket(identifier)
	subject := &model.Subject{}

	var storedBucket int
	err := r.client.Query(r.client.Prepared.GetSubject, bucket, identifier).WithContext(ctx).Scan(
		&storedBucket, &subject.Identifier, &subject.DisplayName, &subject.Mobile,
		&subject.Email, &subject.Role, &subject.CredentialHash, &subject.BiometricTemplate,
		&subject.Verified, &subject.AccessGranted, &subject.CreatedAt, &subject.UpdatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, model.ErrSubjectNotFound
		}
		util.Error("Failed to get subject",
			zap.String("identifier", identifier),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}

	return subject, nil
}

func (r *SubjectRepository) GetSubjectByEmail(ctx context.Context, email string) (*model.Subject, error) {
	var identifier string
	err := r.client.Query(r.client.Prepared.GetEmailIndex, email).WithContext(ctx).Scan(&identifier)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, model.ErrSubjectNotFound
		}
		return nil, fmt.Errorf("failed to resolve email: %w", err)
	}
	return r.GetSubject(ctx, identifier)
}

func (r *SubjectRepository) GetSubjectByMobile(ctx context.Context, mobile string) (*model.Subject, error) {
	var identifier string
	err := r.client.Query(r.client.Prepared.GetMobileIndex, mobile).WithContext(ctx).Scan(&identifier)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, model.ErrSubjectNotFound
		}
		return nil, fmt.Errorf("failed to resolve mobile: %w", err)
	}
	return r.GetSubject(ctx, identifier)
}

func (r *SubjectRepository) PutSubject(ctx context.Context, subject *model.Subject) error {
	bucket := r.buckets.SubjectBucket(subject.Identifier)
	subject.UpdatedAt = time.Now().UTC()

	// Batch keeps the row and its lookup indexes consistent.
	batch := r.client.Batch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(r.client.Prepared.UpsertSubject,
		bucket, subject.Identifier, subject.DisplayName, subject.Mobile,
		subject.Email, string(subject.Role), subject.CredentialHash,
		subject.BiometricTemplate, subject.Verified, subject.AccessGranted,
		subject.CreatedAt, subject.UpdatedAt)
	if subject.Email != "" {
		batch.Query(r.client.Prepared.UpsertEmailIndex,
			subject.Email, subject.Identifier)
	}
	if subject.Mobile != "" {
		batch.Query(r.client.Prepared.UpsertMobileIndex,
			subject.Mobile, subject.Identifier)
	}

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to put subject",
			zap.String("identifier", subject.Identifier),
			zap.Error(err))
		return fmt.Errorf("failed to put subject: %w", err)
	}

	util.Debug("Subject stored",
		zap.String("identifier", subject.Identifier),
		zap.Int("bucket", bucket))
	return nil
}

func (r *SubjectRepository) DeleteSubject(ctx context.Context, identifier string) error {
	subject, err := r.GetSubject(ctx, identifier)
	if err != nil {
		return err
	}

	bucket := r.buckets.SubjectBucket(identifier)
	batch := r.client.Batch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(r.client.Prepared.DeleteSubject, bucket, identifier)
	if subject.Email != "" {
		batch.Query(r.client.Prepared.DeleteEmailIndex, subject.Email)
	}
	if subject.Mobile != "" {
		batch.Query(r.client.Prepared.DeleteMobileIndex, subject.Mobile)
	}

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to delete subject",
			zap.String("identifier", identifier),
			zap.Error(err))
		return fmt.Errorf("failed to delete subject: %w", err)
	}

	util.Info("Subject deleted", zap.String("identifier", identifier))
	return nil
}
