package correlator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"postal-service/internal/bus"
	"postal-service/internal/model"
	"postal-service/internal/util"
)

var ErrWaitTimeout = errors.New("verification wait timed out")

// Phase is the subject-side view of the handshake, derived from the ledger.
type Phase string

const (
	PhaseIdle          Phase = "IDLE"
	PhaseVerified      Phase = "VERIFIED"
	PhaseAccessGranted Phase = "ACCESS_GRANTED"
)

// Snapshot is what the subject's session displays: the handshake phase, the
// code to read out (if one was issued), and the tracked parcel's status.
type Snapshot struct {
	Identifier   string             `json:"identifier"`
	Phase        Phase              `json:"phase"`
	Code         string             `json:"code,omitempty"`
	ParcelID     string             `json:"parcel_id,omitempty"`
	ParcelStatus model.ParcelStatus `json:"parcel_status,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Correlator follows one subject's handshake from the subject side. Bus
// events only wake it up early; every state change is confirmed by
// re-reading the ledger, so dropped or reordered events cost at most one
// poll interval.
type Correlator struct {
	subjects     model.SubjectLedger
	parcels      model.ParcelLedger
	eventBus     bus.Bus
	pollInterval time.Duration
	maxWait      time.Duration
	now          func() time.Time

	mu       sync.RWMutex
	snapshot Snapshot
}

func New(subjects model.SubjectLedger, parcels model.ParcelLedger, eventBus bus.Bus, pollInterval, maxWait time.Duration) *Correlator {
	return &Correlator{
		subjects:     subjects,
		parcels:      parcels,
		eventBus:     eventBus,
		pollInterval: pollInterval,
		maxWait:      maxWait,
		now:          time.Now,
	}
}

// SetClock overrides the correlator time source. Test hook.
func (c *Correlator) SetClock(now func() time.Time) {
	c.now = now
}

// Snapshot returns the current subject-side view.
func (c *Correlator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Run follows the handshake for a subject until access is granted, the wait
// budget runs out, or the context ends. The wait budget tracks the OTP
// time-to-live: once the code has certainly expired there is nothing left to
// wait for and the subject must restart at the counter.
func (c *Correlator) Run(ctx context.Context, identifier string) (Snapshot, error) {
	events, cancel, err := c.eventBus.Subscribe(ctx, bus.SubjectTopic(identifier))
	if err != nil {
		return Snapshot{}, err
	}
	defer cancel()

	deadline := c.now().Add(c.maxWait)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	if snapshot, done := c.refresh(ctx, identifier); done {
		return snapshot, nil
	}

	for {
		select {
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		case event, ok := <-events:
			if !ok {
				// Bus went away; keep polling the ledger.
				events = nil
				continue
			}
			c.absorb(event)
			if snapshot, done := c.refresh(ctx, identifier); done {
				return snapshot, nil
			}
		case <-ticker.C:
			if c.now().After(deadline) {
				return c.Snapshot(), ErrWaitTimeout
			}
			if snapshot, done := c.refresh(ctx, identifier); done {
				return snapshot, nil
			}
		}
	}
}

// absorb keeps data that only travels on the bus, currently the one-time
// code. Everything else is re-derived from the ledger.
func (c *Correlator) absorb(event bus.Event) {
	if event.Type != bus.EventOTPIssued || event.Code == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot.Code = event.Code
	if event.ParcelID != "" {
		c.snapshot.ParcelID = event.ParcelID
	}
	c.snapshot.UpdatedAt = c.now().UTC()
}

// refresh re-reads the ledger and reports whether the handshake reached its
// terminal subject-side phase.
func (c *Correlator) refresh(ctx context.Context, identifier string) (Snapshot, bool) {
	subject, err := c.subjects.GetSubject(ctx, identifier)
	if err != nil {
		util.Warn("Correlator failed to read subject",
			zap.String("identifier", identifier), zap.Error(err))
		return c.Snapshot(), false
	}

	c.mu.Lock()
	c.snapshot.Identifier = identifier
	switch {
	case subject.AccessGranted:
		c.snapshot.Phase = PhaseAccessGranted
	case subject.Verified:
		c.snapshot.Phase = PhaseVerified
	default:
		c.snapshot.Phase = PhaseIdle
	}
	c.snapshot.UpdatedAt = c.now().UTC()
	parcelID := c.snapshot.ParcelID
	c.mu.Unlock()

	if parcelID != "" {
		if parcel, err := c.parcels.GetParcel(ctx, parcelID); err == nil {
			c.mu.Lock()
			c.snapshot.ParcelStatus = parcel.Status
			c.mu.Unlock()
		}
	}

	snapshot := c.Snapshot()
	return snapshot, snapshot.Phase == PhaseAccessGranted
}
