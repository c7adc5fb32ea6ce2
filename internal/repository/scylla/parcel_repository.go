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

// ParcelRepository implements model.ParcelLedger on ScyllaDB. Delivery
// confirmation uses a lightweight transaction so concurrent confirms are
// serialized by the database itself.
type ParcelRepository struct {
	client  *ScyllaClient
	buckets *bucketing.Manager
}

func NewParcelRepository(client *ScyllaClient, buckets *bucketing.Manager) *ParcelRepository {
	return &ParcelRepository{
		client:  client,
		buckets: buckets,
	}
}

func (r *ParcelRepository) GetParcel(ctx context.Context, id string) (*model.Parcel, error) {
	bucket := r.buckets.ParcelBucket(id)
	return r.scanParcel(r.client.Query(r.client.Prepared.GetParcel, bucket, id).WithContext(ctx))
}

func (r *ParcelRepository) scanParcel(query *gocql.Query) (*model.Parcel, error) {
	parcel := &model.Parcel{}
	var storedBucket int
	var deliveredAt time.Time

	err := query.Scan(
		&storedBucket, &parcel.ID, &parcel.SenderIdentifier,
		&parcel.Receiver.Mobile, &parcel.Receiver.Email, &parcel.Receiver.Address,
		&parcel.Description, &parcel.Weight, &parcel.Status,
		&parcel.CreatedAt, &deliveredAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, model.ErrParcelNotFound
		}
		return nil, fmt.Errorf("failed to get parcel: %w", err)
	}

	if !deliveredAt.IsZero() {
		parcel.DeliveredAt = &deliveredAt
	}
	return parcel, nil
}

func (r *ParcelRepository) PutParcel(ctx context.Context, parcel *model.Parcel) error {
	bucket := r.buckets.ParcelBucket(parcel.ID)

	var deliveredAt time.Time
	if parcel.DeliveredAt != nil {
		deliveredAt = *parcel.DeliveredAt
	}

	err := r.client.Query(r.client.Prepared.UpsertParcel,
		bucket, parcel.ID, parcel.SenderIdentifier,
		parcel.Receiver.Mobile, parcel.Receiver.Email, parcel.Receiver.Address,
		parcel.Description, parcel.Weight, string(parcel.Status),
		parcel.CreatedAt, deliveredAt).WithContext(ctx).Exec()
	if err != nil {
		util.Error("Failed to put parcel",
			zap.String("parcel_id", parcel.ID),
			zap.Error(err))
		return fmt.Errorf("failed to put parcel: %w", err)
	}

	util.Debug("Parcel stored",
		zap.String("parcel_id", parcel.ID),
		zap.String("status", string(parcel.Status)))
	return nil
}

// MarkDelivered flips IN_TRANSIT to DELIVERED with a conditional update.
// Exactly one caller wins a race; everyone else gets ErrAlreadyDelivered (or
// ErrInvalidTransition if the parcel never reached IN_TRANSIT).
func (r *ParcelRepository) MarkDelivered(ctx context.Context, id string, at time.Time) (*model.Parcel, error) {
	bucket := r.buckets.ParcelBucket(id)

	applied, err := r.client.Query(r.client.Prepared.DeliverParcel,
		string(model.StatusDelivered), at.UTC(), bucket, id,
		string(model.StatusInTransit)).WithContext(ctx).ScanCAS()
	if err != nil && !errors.Is(err, gocql.ErrNotFound) {
		return nil, fmt.Errorf("failed to mark parcel delivered: %w", err)
	}

	parcel, getErr := r.GetParcel(ctx, id)
	if getErr != nil {
		return nil, getErr
	}

	if applied {
		util.Info("Parcel delivered",
			zap.String("parcel_id", id),
			zap.Time("delivered_at", at.UTC()))
		return parcel, nil
	}

	if parcel.Status == model.StatusDelivered {
		return parcel, model.ErrAlreadyDelivered
	}
	return parcel, model.ErrInvalidTransition
}

func (r *ParcelRepository) ListParcels(ctx context.Context, filter model.ParcelFilter) ([]*model.Parcel, error) {
	// Full scan with in-memory filtering. Listing is an operator-facing,
	// low-volume operation; search traffic goes to Elasticsearch.
	iter := r.client.Query(`
        SELECT parcel_bucket, id, sender_identifier, receiver_mobile, receiver_email,
            receiver_address, description, weight, status, created_at, delivered_at
        FROM parcels`).WithContext(ctx).Iter()

	out := make([]*model.Parcel, 0)
	for {
		parcel := &model.Parcel{}
		var storedBucket int
		var deliveredAt time.Time
		if !iter.Scan(
			&storedBucket, &parcel.ID, &parcel.SenderIdentifier,
			&parcel.Receiver.Mobile, &parcel.Receiver.Email, &parcel.Receiver.Address,
			&parcel.Description, &parcel.Weight, &parcel.Status,
			&parcel.CreatedAt, &deliveredAt) {
			break
		}
		if !deliveredAt.IsZero() {
			parcel.DeliveredAt = &deliveredAt
		}
		if filter.Matches(parcel) {
			out = append(out, parcel)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list parcels: %w", err)
	}
	return out, nil
}
