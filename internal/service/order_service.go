package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"postal-service/internal/audit"
	"postal-service/internal/bus"
	"postal-service/internal/model"
	"postal-service/internal/search"
	"postal-service/internal/util"
)

var (
	ErrInvalidOrder  = errors.New("invalid order")
	ErrUnknownSender = errors.New("sender not registered")
)

// OrderService owns the parcel lifecycle. Status only moves forward:
// CREATED -> IN_TRANSIT -> DELIVERED. Repeating the current status is a
// no-op, never an error.
type OrderService struct {
	parcels  model.ParcelLedger
	subjects model.SubjectLedger
	eventBus bus.Bus
	index    search.ParcelIndex
	auditor  audit.Recorder
	now      func() time.Time
}

func NewOrderService(
	parcels model.ParcelLedger,
	subjects model.SubjectLedger,
	eventBus bus.Bus,
	index search.ParcelIndex,
	auditor audit.Recorder,
) *OrderService {
	return &OrderService{
		parcels:  parcels,
		subjects: subjects,
		eventBus: eventBus,
		index:    index,
		auditor:  auditor,
		now:      time.Now,
	}
}

// SetClock overrides the service time source. Test hook.
func (s *OrderService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateOrder registers a parcel for a verified send. The parcel goes
// straight to IN_TRANSIT: creation only ever happens after the operator
// accepted it at the counter, so a separate CREATED step adds nothing.
func (s *OrderService) CreateOrder(ctx context.Context, senderIdentifier string, receiver model.ReceiverContact, description, weight string) (*model.Parcel, error) {
	if senderIdentifier == "" {
		return nil, fmt.Errorf("%w: sender identifier required", ErrInvalidOrder)
	}
	if receiver.Mobile == "" && receiver.Email == "" {
		return nil, fmt.Errorf("%w: receiver contact required", ErrInvalidOrder)
	}

	if _, err := s.subjects.GetSubject(ctx, senderIdentifier); err != nil {
		if errors.Is(err, model.ErrSubjectNotFound) {
			return nil, ErrUnknownSender
		}
		return nil, fmt.Errorf("failed to load sender: %w", err)
	}

	parcel := &model.Parcel{
		ID:               newOrderID(),
		SenderIdentifier: senderIdentifier,
		Receiver:         receiver,
		Description:      description,
		Weight:           weight,
		Status:           model.StatusInTransit,
		CreatedAt:        s.now().UTC(),
	}

	if err := s.parcels.PutParcel(ctx, parcel); err != nil {
		return nil, fmt.Errorf("failed to store parcel: %w", err)
	}

	s.fanOut(ctx, parcel, "order created")

	util.Info("Order created",
		zap.String("parcel_id", parcel.ID),
		zap.String("sender", senderIdentifier))

	return parcel, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (*model.Parcel, error) {
	return s.parcels.GetParcel(ctx, id)
}

func (s *OrderService) ListOrders(ctx context.Context, filter model.ParcelFilter) ([]*model.Parcel, error) {
	return s.parcels.ListParcels(ctx, filter)
}

func (s *OrderService) SearchOrders(ctx context.Context, query string) ([]*model.Parcel, error) {
	return s.index.Search(ctx, query)
}

// UpdateStatus moves a parcel forward. Repeating the current status succeeds
// without touching the ledger; moving backward is rejected.
func (s *OrderService) UpdateStatus(ctx context.Context, id string, status model.ParcelStatus) (*model.Parcel, error) {
	parcel, err := s.parcels.GetParcel(ctx, id)
	if err != nil {
		return nil, err
	}

	if parcel.Status == status {
		return parcel, nil
	}

	switch status {
	case model.StatusInTransit:
		if parcel.Status != model.StatusCreated {
			return parcel, model.ErrInvalidTransition
		}
		parcel.Status = model.StatusInTransit
		if err := s.parcels.PutParcel(ctx, parcel); err != nil {
			return nil, fmt.Errorf("failed to update parcel: %w", err)
		}
	case model.StatusDelivered:
		delivered, err := s.MarkDelivered(ctx, id)
		if err != nil {
			return delivered, err
		}
		parcel = delivered
	default:
		return parcel, model.ErrInvalidTransition
	}

	s.fanOut(ctx, parcel, "status updated")
	return parcel, nil
}

// MarkDelivered confirms delivery exactly once. A repeat confirmation is
// rejected with ErrAlreadyDelivered so a duplicate operator action never
// looks like a first confirmation.
func (s *OrderService) MarkDelivered(ctx context.Context, id string) (*model.Parcel, error) {
	parcel, err := s.parcels.MarkDelivered(ctx, id, s.now().UTC())
	if err != nil {
		return parcel, err
	}

	s.fanOut(ctx, parcel, "delivered")

	util.Info("Order delivered", zap.String("parcel_id", parcel.ID))
	return parcel, nil
}

// History lists every parcel a subject sent or is set to receive.
func (s *OrderService) History(ctx context.Context, subjectIdentifier string) ([]*model.Parcel, error) {
	subject, err := s.subjects.GetSubject(ctx, subjectIdentifier)
	if err != nil {
		return nil, err
	}

	sent, err := s.parcels.ListParcels(ctx, model.ParcelFilter{SenderIdentifier: subjectIdentifier})
	if err != nil {
		return nil, err
	}

	out := sent
	seen := make(map[string]bool, len(sent))
	for _, parcel := range sent {
		seen[parcel.ID] = true
	}

	for _, filter := range []model.ParcelFilter{
		{ReceiverEmail: subject.Email},
		{ReceiverMobile: subject.Mobile},
	} {
		if filter.ReceiverEmail == "" && filter.ReceiverMobile == "" {
			continue
		}
		received, err := s.parcels.ListParcels(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, parcel := range received {
			if !seen[parcel.ID] {
				seen[parcel.ID] = true
				out = append(out, parcel)
			}
		}
	}

	return out, nil
}

// fanOut pushes the side effects of a lifecycle change: bus hint, search
// index, audit row. All best-effort; the ledger write already happened.
func (s *OrderService) fanOut(ctx context.Context, parcel *model.Parcel, action string) {
	event := bus.Event{
		Topic:    bus.ParcelTopic(parcel.ID),
		Type:     bus.EventOrderStatus,
		ParcelID: parcel.ID,
		Status:   string(parcel.Status),
		At:       s.now().UTC(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.eventBus.Publish(gctx, event); err != nil {
			util.Warn("Failed to publish order event",
				zap.String("parcel_id", parcel.ID), zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		if err := s.index.Index(gctx, parcel); err != nil {
			util.Warn("Failed to index parcel",
				zap.String("parcel_id", parcel.ID), zap.Error(err))
		}
		return nil
	})
	_ = g.Wait()

	s.auditor.Record(audit.Entry{
		Action:   "order." + string(parcel.Status),
		ParcelID: parcel.ID,
		Outcome:  action,
	})
}

func newOrderID() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:10])
}
