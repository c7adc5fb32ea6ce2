package correlator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postal-service/internal/bus"
	"postal-service/internal/model"
	"postal-service/internal/repository/memory"
)

type fixture struct {
	ctx      context.Context
	subjects *memory.SubjectStore
	parcels  *memory.ParcelStore
	eventBus *bus.MemoryBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      context.Background(),
		subjects: memory.NewSubjectStore(),
		parcels:  memory.NewParcelStore(),
		eventBus: bus.NewMemoryBus(),
	}
	t.Cleanup(f.eventBus.Close)

	require.NoError(t, f.subjects.PutSubject(f.ctx, &model.Subject{
		Identifier: "citizen-1",
		Mobile:     "9000000001",
		Email:      "citizen1@example.com",
		Role:       model.RoleCitizen,
	}))
	return f
}

func (f *fixture) newCorrelator(pollInterval, maxWait time.Duration) *Correlator {
	return New(f.subjects, f.parcels, f.eventBus, pollInterval, maxWait)
}

func (f *fixture) setFlags(t *testing.T, verified, accessGranted bool) {
	t.Helper()
	subject, err := f.subjects.GetSubject(f.ctx, "citizen-1")
	require.NoError(t, err)
	subject.Verified = verified
	subject.AccessGranted = accessGranted
	require.NoError(t, f.subjects.PutSubject(f.ctx, subject))
}

func TestRunReturnsImmediatelyWhenAccessAlreadyGranted(t *testing.T) {
	f := newFixture(t)
	f.setFlags(t, true, true)

	c := f.newCorrelator(10*time.Millisecond, time.Second)
	snapshot, err := c.Run(f.ctx, "citizen-1")
	require.NoError(t, err)
	assert.Equal(t, PhaseAccessGranted, snapshot.Phase)
}

func TestPhaseIsDerivedFromLedger(t *testing.T) {
	f := newFixture(t)
	c := f.newCorrelator(10*time.Millisecond, time.Second)

	snapshot, done := c.refresh(f.ctx, "citizen-1")
	assert.False(t, done)
	assert.Equal(t, PhaseIdle, snapshot.Phase)

	f.setFlags(t, true, false)
	snapshot, done = c.refresh(f.ctx, "citizen-1")
	assert.False(t, done)
	assert.Equal(t, PhaseVerified, snapshot.Phase)

	f.setFlags(t, true, true)
	snapshot, done = c.refresh(f.ctx, "citizen-1")
	assert.True(t, done)
	assert.Equal(t, PhaseAccessGranted, snapshot.Phase)
}

func TestPollingRecoversWithoutBusEvents(t *testing.T) {
	f := newFixture(t)
	c := f.newCorrelator(5*time.Millisecond, 2*time.Second)

	// Flip the ledger after the run starts without publishing anything. The
	// ticker alone must surface the grant.
	go func() {
		time.Sleep(20 * time.Millisecond)
		subject, err := f.subjects.GetSubject(f.ctx, "citizen-1")
		if err != nil {
			return
		}
		subject.Verified = true
		subject.AccessGranted = true
		_ = f.subjects.PutSubject(f.ctx, subject)
	}()

	snapshot, err := c.Run(f.ctx, "citizen-1")
	require.NoError(t, err)
	assert.Equal(t, PhaseAccessGranted, snapshot.Phase)
}

func TestAbsorbKeepsCodeFromBusEvent(t *testing.T) {
	f := newFixture(t)
	c := f.newCorrelator(10*time.Millisecond, time.Second)

	c.absorb(bus.Event{
		Topic:             bus.SubjectTopic("citizen-1"),
		Type:              bus.EventOTPIssued,
		SubjectIdentifier: "citizen-1",
		ParcelID:          "ORD-AAAA000000",
		Code:              "4821",
	})

	snapshot := c.Snapshot()
	assert.Equal(t, "4821", snapshot.Code)
	assert.Equal(t, "ORD-AAAA000000", snapshot.ParcelID)

	// Other event types carry nothing the ledger cannot reproduce.
	c.absorb(bus.Event{Type: bus.EventSubjectVerified, SubjectIdentifier: "citizen-1"})
	assert.Equal(t, "4821", c.Snapshot().Code)
}

func TestRefreshTracksParcelStatus(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.parcels.PutParcel(f.ctx, &model.Parcel{
		ID:               "ORD-AAAA000000",
		SenderIdentifier: "sender-1",
		Receiver:         model.ReceiverContact{Email: "citizen1@example.com"},
		Status:           model.StatusInTransit,
		CreatedAt:        time.Now().UTC(),
	}))

	c := f.newCorrelator(10*time.Millisecond, time.Second)
	c.absorb(bus.Event{Type: bus.EventOTPIssued, Code: "4821", ParcelID: "ORD-AAAA000000"})

	snapshot, _ := c.refresh(f.ctx, "citizen-1")
	assert.Equal(t, model.StatusInTransit, snapshot.ParcelStatus)

	_, err := f.parcels.MarkDelivered(f.ctx, "ORD-AAAA000000", time.Now().UTC())
	require.NoError(t, err)

	snapshot, _ = c.refresh(f.ctx, "citizen-1")
	assert.Equal(t, model.StatusDelivered, snapshot.ParcelStatus)
}

func TestRunTimesOutWhenCodeWindowPasses(t *testing.T) {
	f := newFixture(t)
	c := f.newCorrelator(5*time.Millisecond, 30*time.Millisecond)

	start := time.Now()
	snapshot, err := c.Run(f.ctx, "citizen-1")
	require.ErrorIs(t, err, ErrWaitTimeout)
	assert.Equal(t, PhaseIdle, snapshot.Phase)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	c := f.newCorrelator(5*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(f.ctx)
	go func() {
		time.Sleep(15 * time.Millisecond)
		cancel()
	}()

	_, err := c.Run(ctx, "citizen-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunWakesOnBusHintBeforeNextPoll(t *testing.T) {
	f := newFixture(t)
	// Poll interval far beyond the test budget: only the bus hint can end the
	// wait this quickly.
	c := f.newCorrelator(time.Minute, time.Hour)

	go func() {
		time.Sleep(20 * time.Millisecond)
		subject, err := f.subjects.GetSubject(f.ctx, "citizen-1")
		if err != nil {
			return
		}
		subject.Verified = true
		subject.AccessGranted = true
		if err := f.subjects.PutSubject(f.ctx, subject); err != nil {
			return
		}
		_ = f.eventBus.Publish(f.ctx, bus.Event{
			Topic:             bus.SubjectTopic("citizen-1"),
			Type:              bus.EventAccessGranted,
			SubjectIdentifier: "citizen-1",
		})
	}()

	done := make(chan struct{})
	var snapshot Snapshot
	var err error
	go func() {
		snapshot, err = c.Run(f.ctx, "citizen-1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("correlator did not wake on bus hint")
	}
	require.NoError(t, err)
	assert.Equal(t, PhaseAccessGranted, snapshot.Phase)
}
