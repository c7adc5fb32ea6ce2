package service

import (
	"context"
	"testing"
	"time"

	"postal-service/internal/audit"
	"postal-service/internal/biometric"
	"postal-service/internal/bus"
	"postal-service/internal/config"
	"postal-service/internal/encryption"
	"postal-service/internal/hashing"
	"postal-service/internal/model"
	"postal-service/internal/notify"
	"postal-service/internal/otp"
	"postal-service/internal/repository/memory"
	"postal-service/internal/search"
)

// testEnv wires the full service stack on in-memory infrastructure with a
// controllable clock.
type testEnv struct {
	ctx      context.Context
	clock    time.Time
	subjects *memory.SubjectStore
	parcels  *memory.ParcelStore
	eventBus *bus.MemoryBus
	issuer   *otp.Issuer

	subjectService      *SubjectService
	orderService        *OrderService
	verificationService *VerificationService
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "development",
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Pepper:            "test-pepper",
		},
		Bucketing: config.BucketingConfig{
			SubjectBuckets: 4,
			ParcelBuckets:  4,
		},
		Verification: config.VerificationConfig{
			OTPLength:          4,
			OTPTTL:             5 * time.Minute,
			BiometricThreshold: 0.30,
			ReceiveRequiresOTP: true,
			SessionTimeout:     10 * time.Minute,
		},
	}
}

func newTestEnv(t *testing.T, receiveRequiresOTP bool) *testEnv {
	t.Helper()
	cfg := testConfig()
	cfg.Verification.ReceiveRequiresOTP = receiveRequiresOTP

	env := &testEnv{
		ctx:      context.Background(),
		clock:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		subjects: memory.NewSubjectStore(),
		parcels:  memory.NewParcelStore(),
		eventBus: bus.NewMemoryBus(),
	}
	t.Cleanup(env.eventBus.Close)

	now := func() time.Time { return env.clock }

	hasher := hashing.NewHasher(cfg)
	encryptor := encryption.NewManager(cfg, nil)
	gate := biometric.NewGate(cfg.Verification.BiometricThreshold)
	auditor := audit.NewNoopRecorder()
	index := search.NewLedgerScanIndex(env.parcels)

	txStore := memory.NewTransactionStore()
	env.issuer = otp.NewIssuer(txStore, hasher, cfg.Verification.OTPLength, cfg.Verification.OTPTTL)
	env.issuer.SetClock(now)

	env.subjectService = NewSubjectService(env.subjects, env.parcels, hasher, encryptor, auditor)
	env.subjectService.now = now

	env.orderService = NewOrderService(env.parcels, env.subjects, env.eventBus, index, auditor)
	env.orderService.SetClock(now)

	env.verificationService = NewVerificationService(
		env.subjects, env.parcels, gate, encryptor, env.issuer,
		notify.NewLogTransport(), env.eventBus, auditor,
		cfg.Verification.ReceiveRequiresOTP, cfg.Verification.SessionTimeout,
	)
	env.verificationService.SetClock(now)

	return env
}

func (e *testEnv) advance(d time.Duration) {
	e.clock = e.clock.Add(d)
}

// enrolledTemplate is the canonical test feature vector.
var enrolledTemplate = []float64{0.10, 0.20, 0.30, 0.40}

// matchingCapture is within the 0.30 threshold of enrolledTemplate.
var matchingCapture = []float64{0.12, 0.22, 0.28, 0.41}

// distantCapture is far outside the threshold.
var distantCapture = []float64{0.90, 0.10, 0.90, 0.10}

func (e *testEnv) registerCitizen(t *testing.T, identifier, mobile, email string) *model.Subject {
	t.Helper()
	subject, err := e.subjectService.Register(e.ctx, identifier, "Citizen "+identifier,
		mobile, email, model.RoleCitizen, "secret-"+identifier)
	if err != nil {
		t.Fatalf("register citizen %s: %v", identifier, err)
	}
	return subject
}

func (e *testEnv) registerOperator(t *testing.T, identifier string) *model.Subject {
	t.Helper()
	subject, err := e.subjectService.Register(e.ctx, identifier, "Operator "+identifier,
		"", identifier+"@post.example", model.RoleOperator, "secret-"+identifier)
	if err != nil {
		t.Fatalf("register operator %s: %v", identifier, err)
	}
	return subject
}

func (e *testEnv) enroll(t *testing.T, identifier string) {
	t.Helper()
	if err := e.subjectService.EnrollBiometric(e.ctx, identifier, enrolledTemplate); err != nil {
		t.Fatalf("enroll %s: %v", identifier, err)
	}
}

// watchCode subscribes to the subject's topic and returns a getter for the
// last one-time code seen there.
func (e *testEnv) watchCode(t *testing.T, identifier string) func() string {
	t.Helper()
	events, cancel, err := e.eventBus.Subscribe(e.ctx, bus.SubjectTopic(identifier))
	if err != nil {
		t.Fatalf("subscribe %s: %v", identifier, err)
	}
	t.Cleanup(cancel)

	return func() string {
		code := ""
		for {
			select {
			case event := <-events:
				if event.Type == bus.EventOTPIssued && event.Code != "" {
					code = event.Code
				}
			default:
				return code
			}
		}
	}
}
