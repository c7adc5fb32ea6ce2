package handler

import (
	"encoding/json"
	"net/http"

	"postal-service/internal/service"
	"postal-service/internal/util"

	"github.com/go-chi/chi/v5"
)

// VerificationHandler handles HTTP requests for the operator-side handshake
type VerificationHandler struct {
	verificationService *service.VerificationService
}

func NewVerificationHandler(verificationService *service.VerificationService) *VerificationHandler {
	return &VerificationHandler{verificationService: verificationService}
}

// RegisterRoutes registers all verification routes
func (h *VerificationHandler) RegisterRoutes(router chi.Router) {
	router.Route("/verification", func(r chi.Router) {
		r.Post("/send", h.ClaimSend)
		r.Post("/delivery", h.ClaimDelivery)
		r.Get("/{sessionID}", h.GetSession)
		r.Post("/{sessionID}/face", h.ScanFace)
		r.Post("/{sessionID}/otp", h.SubmitOTP)
	})
}

type claimSendRequest struct {
	OperatorIdentifier string `json:"operator_identifier"`
	SubjectIdentifier  string `json:"subject_identifier"`
}

func (h *VerificationHandler) ClaimSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req claimSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	session, err := h.verificationService.ClaimSend(ctx, req.OperatorIdentifier, req.SubjectIdentifier)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to claim send verification")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(session, "Verification session opened"))
	util.Info("Send verification claimed via HTTP",
		util.String("session_id", session.ID),
		util.String("subject", session.SubjectIdentifier))
}

type claimDeliveryRequest struct {
	OperatorIdentifier string `json:"operator_identifier"`
	ParcelID           string `json:"parcel_id"`
}

func (h *VerificationHandler) ClaimDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req claimDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	session, err := h.verificationService.ClaimDelivery(ctx, req.OperatorIdentifier, req.ParcelID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to claim delivery verification")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(session, "Verification session opened"))
	util.Info("Delivery verification claimed via HTTP",
		util.String("session_id", session.ID),
		util.String("parcel_id", session.ParcelID))
}

func (h *VerificationHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.verificationService.GetSession(ctx, sessionID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to get verification session")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(session, "Session retrieved successfully"))
}

type scanFaceRequest struct {
	Capture []float64 `json:"capture"`
}

func (h *VerificationHandler) ScanFace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	var req scanFaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	session, err := h.verificationService.ScanFace(ctx, sessionID, req.Capture)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Face verification failed")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(session, "Face verified successfully"))
}

type submitOTPRequest struct {
	Code string `json:"code"`
}

func (h *VerificationHandler) SubmitOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	var req submitOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	session, err := h.verificationService.SubmitOTP(ctx, sessionID, req.Code)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Code confirmation failed")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(session, "Access granted"))
}
