package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"postal-service/internal/model"
)

// ParcelStore is an in-memory ParcelLedger used in development and tests.
type ParcelStore struct {
	mu      sync.RWMutex
	parcels map[string]*model.Parcel
}

func NewParcelStore() *ParcelStore {
	return &ParcelStore{
		parcels: make(map[string]*model.Parcel),
	}
}

func (s *ParcelStore) GetParcel(ctx context.Context, id string) (*model.Parcel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parcel, ok := s.parcels[id]
	if !ok {
		return nil, model.ErrParcelNotFound
	}
	return copyParcel(parcel), nil
}

func (s *ParcelStore) PutParcel(ctx context.Context, parcel *model.Parcel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.parcels[parcel.ID] = copyParcel(parcel)
	return nil
}

// MarkDelivered flips the parcel to DELIVERED exactly once. Concurrent
// confirmations are serialized under the store mutex; the loser observes
// ErrAlreadyDelivered with the already-delivered parcel attached.
func (s *ParcelStore) MarkDelivered(ctx context.Context, id string, at time.Time) (*model.Parcel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parcel, ok := s.parcels[id]
	if !ok {
		return nil, model.ErrParcelNotFound
	}

	switch parcel.Status {
	case model.StatusDelivered:
		return copyParcel(parcel), model.ErrAlreadyDelivered
	case model.StatusInTransit:
		delivered := at.UTC()
		parcel.Status = model.StatusDelivered
		parcel.DeliveredAt = &delivered
		return copyParcel(parcel), nil
	default:
		return copyParcel(parcel), model.ErrInvalidTransition
	}
}

func (s *ParcelStore) ListParcels(ctx context.Context, filter model.ParcelFilter) ([]*model.Parcel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Parcel, 0)
	for _, parcel := range s.parcels {
		if filter.Matches(parcel) {
			out = append(out, copyParcel(parcel))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out, nil
}

func copyParcel(in *model.Parcel) *model.Parcel {
	out := *in
	if in.DeliveredAt != nil {
		at := *in.DeliveredAt
		out.DeliveredAt = &at
	}
	return &out
}
