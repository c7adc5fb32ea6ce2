package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postal-service/internal/model"
)

func TestRegisterRejectsDuplicates(t *testing.T) {
	env := newTestEnv(t, true)
	env.registerCitizen(t, "alice", "9000000001", "alice@example.com")

	_, err := env.subjectService.Register(env.ctx, "alice", "Alice Again",
		"9000000009", "other@example.com", model.RoleCitizen, "secret")
	assert.ErrorIs(t, err, ErrSubjectExists)

	_, err = env.subjectService.Register(env.ctx, "alice-2", "Second Alice",
		"9000000009", "alice@example.com", model.RoleCitizen, "secret")
	assert.ErrorIs(t, err, ErrSubjectExists)

	_, err = env.subjectService.Register(env.ctx, "alice-3", "Third Alice",
		"9000000001", "third@example.com", model.RoleCitizen, "secret")
	assert.ErrorIs(t, err, ErrSubjectExists)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, true)

	_, err := env.subjectService.Register(env.ctx, "", "No Identifier",
		"9000000001", "x@example.com", model.RoleCitizen, "secret")
	assert.ErrorIs(t, err, ErrInvalidSubject)

	_, err = env.subjectService.Register(env.ctx, "bob", "No Credential",
		"9000000001", "x@example.com", model.RoleCitizen, "")
	assert.ErrorIs(t, err, ErrInvalidSubject)

	_, err = env.subjectService.Register(env.ctx, "bob", "Bad Role",
		"9000000001", "x@example.com", model.Role("ADMIN"), "secret")
	assert.ErrorIs(t, err, ErrInvalidSubject)
}

func TestLoginNeverSaysWhichPartWasWrong(t *testing.T) {
	env := newTestEnv(t, true)
	env.registerCitizen(t, "alice", "9000000001", "alice@example.com")

	subject, err := env.subjectService.Login(env.ctx, "alice", "secret-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", subject.Identifier)

	_, err = env.subjectService.Login(env.ctx, "alice", "wrong-secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = env.subjectService.Login(env.ctx, "nobody", "secret-alice")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestEnrollBiometric(t *testing.T) {
	env := newTestEnv(t, true)
	env.registerCitizen(t, "alice", "9000000001", "alice@example.com")

	subject, err := env.subjectService.GetSubject(env.ctx, "alice")
	require.NoError(t, err)
	assert.False(t, subject.Enrolled())

	require.NoError(t, env.subjectService.EnrollBiometric(env.ctx, "alice", enrolledTemplate))

	subject, err = env.subjectService.GetSubject(env.ctx, "alice")
	require.NoError(t, err)
	assert.True(t, subject.Enrolled())
	// The stored template is sealed, never the raw vector.
	assert.NotEmpty(t, subject.BiometricTemplate)

	err = env.subjectService.EnrollBiometric(env.ctx, "alice", nil)
	assert.ErrorIs(t, err, ErrInvalidSubject)

	err = env.subjectService.EnrollBiometric(env.ctx, "nobody", enrolledTemplate)
	assert.ErrorIs(t, err, model.ErrSubjectNotFound)
}

func TestDeleteGuardedByOpenParcels(t *testing.T) {
	env := newTestEnv(t, true)
	env.registerCitizen(t, "alice", "9000000001", "alice@example.com")

	parcel, err := env.orderService.CreateOrder(env.ctx, "alice",
		model.ReceiverContact{Email: "bob@example.com"}, "books", "1.2kg")
	require.NoError(t, err)

	err = env.subjectService.DeleteSubject(env.ctx, "alice")
	assert.ErrorIs(t, err, ErrSubjectInTransit)

	_, err = env.orderService.MarkDelivered(env.ctx, parcel.ID)
	require.NoError(t, err)

	require.NoError(t, env.subjectService.DeleteSubject(env.ctx, "alice"))

	_, err = env.subjectService.GetSubject(env.ctx, "alice")
	assert.ErrorIs(t, err, model.ErrSubjectNotFound)
}

func TestFileComplaint(t *testing.T) {
	env := newTestEnv(t, true)
	env.registerCitizen(t, "alice", "9000000001", "alice@example.com")

	parcel, err := env.orderService.CreateOrder(env.ctx, "alice",
		model.ReceiverContact{Email: "bob@example.com"}, "books", "1.2kg")
	require.NoError(t, err)

	complaint, err := env.subjectService.FileComplaint(env.ctx, "alice", parcel.ID, "parcel arrived damaged")
	require.NoError(t, err)
	assert.NotEmpty(t, complaint.ID)
	assert.Equal(t, parcel.ID, complaint.ParcelID)
	assert.Equal(t, env.clock, complaint.FiledAt)

	// A complaint does not have to reference a parcel.
	general, err := env.subjectService.FileComplaint(env.ctx, "alice", "", "counter queue too long")
	require.NoError(t, err)
	assert.Empty(t, general.ParcelID)

	_, err = env.subjectService.FileComplaint(env.ctx, "alice", "ORD-MISSING", "lost parcel")
	assert.ErrorIs(t, err, model.ErrParcelNotFound)

	_, err = env.subjectService.FileComplaint(env.ctx, "alice", "", "")
	assert.ErrorIs(t, err, ErrInvalidSubject)

	_, err = env.subjectService.FileComplaint(env.ctx, "nobody", "", "hello")
	assert.ErrorIs(t, err, model.ErrSubjectNotFound)
}
