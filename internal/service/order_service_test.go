package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postal-service/internal/model"
)

func TestCreateOrderGoesStraightToInTransit(t *testing.T) {
	env := newTestEnv(t, true)
	env.registerCitizen(t, "sender-1", "9000000001", "sender1@example.com")

	parcel, err := env.orderService.CreateOrder(env.ctx, "sender-1",
		model.ReceiverContact{Email: "receiver1@example.com"}, "books", "1.2kg")
	require.NoError(t, err)

	assert.Regexp(t, `^ORD-[0-9A-F]{10}$`, parcel.ID)
	assert.Equal(t, model.StatusInTransit, parcel.Status)
	assert.Equal(t, env.clock, parcel.CreatedAt)
	assert.Nil(t, parcel.DeliveredAt)
}

func TestCreateOrderValidation(t *testing.T) {
	env := newTestEnv(t, true)
	env.registerCitizen(t, "sender-1", "9000000001", "sender1@example.com")

	_, err := env.orderService.CreateOrder(env.ctx, "ghost-sender",
		model.ReceiverContact{Email: "receiver1@example.com"}, "books", "1.2kg")
	assert.ErrorIs(t, err, ErrUnknownSender)

	_, err = env.orderService.CreateOrder(env.ctx, "sender-1",
		model.ReceiverContact{}, "books", "1.2kg")
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = env.orderService.CreateOrder(env.ctx, "",
		model.ReceiverContact{Email: "receiver1@example.com"}, "books", "1.2kg")
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestUpdateStatusIsIdempotentAndForwardOnly(t *testing.T) {
	env := newTestEnv(t, true)
	env.registerCitizen(t, "sender-1", "9000000001", "sender1@example.com")

	parcel, err := env.orderService.CreateOrder(env.ctx, "sender-1",
		model.ReceiverContact{Email: "receiver1@example.com"}, "books", "1.2kg")
	require.NoError(t, err)

	// Repeating the current status is a no-op, never an error.
	same, err := env.orderService.UpdateStatus(env.ctx, parcel.ID, model.StatusInTransit)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInTransit, same.Status)

	delivered, err := env.orderService.UpdateStatus(env.ctx, parcel.ID, model.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, delivered.Status)
	require.NotNil(t, delivered.DeliveredAt)

	// Backward moves are rejected and the ledger stays put.
	_, err = env.orderService.UpdateStatus(env.ctx, parcel.ID, model.StatusInTransit)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = env.orderService.UpdateStatus(env.ctx, parcel.ID, model.StatusCreated)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	current, err := env.orderService.GetOrder(env.ctx, parcel.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, current.Status)
}

func TestMarkDeliveredRepeatIsRejected(t *testing.T) {
	env := newTestEnv(t, true)
	env.registerCitizen(t, "sender-1", "9000000001", "sender1@example.com")

	parcel, err := env.orderService.CreateOrder(env.ctx, "sender-1",
		model.ReceiverContact{Email: "receiver1@example.com"}, "books", "1.2kg")
	require.NoError(t, err)

	first, err := env.orderService.MarkDelivered(env.ctx, parcel.ID)
	require.NoError(t, err)
	require.NotNil(t, first.DeliveredAt)
	firstAt := *first.DeliveredAt

	env.advance(time.Minute)

	// The duplicate confirmation surfaces the conflict and leaves the
	// original delivery time untouched.
	again, err := env.orderService.MarkDelivered(env.ctx, parcel.ID)
	require.ErrorIs(t, err, model.ErrAlreadyDelivered)
	require.NotNil(t, again)
	require.NotNil(t, again.DeliveredAt)
	assert.Equal(t, firstAt, *again.DeliveredAt)
}

func TestMarkDeliveredUnknownParcel(t *testing.T) {
	env := newTestEnv(t, true)
	_, err := env.orderService.MarkDelivered(env.ctx, "ORD-MISSING")
	assert.ErrorIs(t, err, model.ErrParcelNotFound)
}

func TestHistoryMergesSentAndReceived(t *testing.T) {
	env := newTestEnv(t, true)
	env.registerCitizen(t, "alice", "9000000001", "alice@example.com")
	env.registerCitizen(t, "bob", "9000000002", "bob@example.com")

	sent, err := env.orderService.CreateOrder(env.ctx, "alice",
		model.ReceiverContact{Email: "bob@example.com"}, "books", "1.2kg")
	require.NoError(t, err)

	received, err := env.orderService.CreateOrder(env.ctx, "bob",
		model.ReceiverContact{Mobile: "9000000001"}, "tools", "3kg")
	require.NoError(t, err)

	// Sent to self: must appear once, not twice.
	toSelf, err := env.orderService.CreateOrder(env.ctx, "alice",
		model.ReceiverContact{Email: "alice@example.com"}, "documents", "0.2kg")
	require.NoError(t, err)

	history, err := env.orderService.History(env.ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 3)

	ids := make(map[string]bool, len(history))
	for _, parcel := range history {
		ids[parcel.ID] = true
	}
	assert.True(t, ids[sent.ID])
	assert.True(t, ids[received.ID])
	assert.True(t, ids[toSelf.ID])

	_, err = env.orderService.History(env.ctx, "nobody")
	assert.ErrorIs(t, err, model.ErrSubjectNotFound)
}

func TestSearchOrdersScansLedger(t *testing.T) {
	env := newTestEnv(t, true)
	env.registerCitizen(t, "alice", "9000000001", "alice@example.com")

	parcel, err := env.orderService.CreateOrder(env.ctx, "alice",
		model.ReceiverContact{Email: "bob@example.com"}, "books", "1.2kg")
	require.NoError(t, err)

	found, err := env.orderService.SearchOrders(env.ctx, "bob@example.com")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, parcel.ID, found[0].ID)

	none, err := env.orderService.SearchOrders(env.ctx, "no-such-thing")
	require.NoError(t, err)
	assert.Empty(t, none)
}
