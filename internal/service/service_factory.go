package service

import (
	"time"

	"postal-service/internal/audit"
	"postal-service/internal/biometric"
	"postal-service/internal/bus"
	"postal-service/internal/encryption"
	"postal-service/internal/hashing"
	"postal-service/internal/model"
	"postal-service/internal/notify"
	"postal-service/internal/otp"
	"postal-service/internal/search"
)

// ServiceFactory wires the service layer once and hands out shared instances.
type ServiceFactory struct {
	subjects  model.SubjectLedger
	parcels   model.ParcelLedger
	gate      *biometric.Gate
	hasher    *hashing.Hasher
	encryptor *encryption.Manager
	issuer    *otp.Issuer
	transport notify.DeliveryTransport
	eventBus  bus.Bus
	index     search.ParcelIndex
	auditor   audit.Recorder

	receiveRequiresOTP bool
	sessionTimeout     time.Duration

	subjectService      *SubjectService
	orderService        *OrderService
	verificationService *VerificationService
}

func NewServiceFactory(
	subjects model.SubjectLedger,
	parcels model.ParcelLedger,
	gate *biometric.Gate,
	hasher *hashing.Hasher,
	encryptor *encryption.Manager,
	issuer *otp.Issuer,
	transport notify.DeliveryTransport,
	eventBus bus.Bus,
	index search.ParcelIndex,
	auditor audit.Recorder,
	receiveRequiresOTP bool,
	sessionTimeout time.Duration,
) *ServiceFactory {
	return &ServiceFactory{
		subjects:           subjects,
		parcels:            parcels,
		gate:               gate,
		hasher:             hasher,
		encryptor:          encryptor,
		issuer:             issuer,
		transport:          transport,
		eventBus:           eventBus,
		index:              index,
		auditor:            auditor,
		receiveRequiresOTP: receiveRequiresOTP,
		sessionTimeout:     sessionTimeout,
	}
}

func (f *ServiceFactory) SubjectService() *SubjectService {
	if f.subjectService == nil {
		f.subjectService = NewSubjectService(f.subjects, f.parcels, f.hasher, f.encryptor, f.auditor)
	}
	return f.subjectService
}

func (f *ServiceFactory) OrderService() *OrderService {
	if f.orderService == nil {
		f.orderService = NewOrderService(f.parcels, f.subjects, f.eventBus, f.index, f.auditor)
	}
	return f.orderService
}

func (f *ServiceFactory) VerificationService() *VerificationService {
	if f.verificationService == nil {
		f.verificationService = NewVerificationService(
			f.subjects, f.parcels, f.gate, f.encryptor, f.issuer,
			f.transport, f.eventBus, f.auditor,
			f.receiveRequiresOTP, f.sessionTimeout,
		)
	}
	return f.verificationService
}
