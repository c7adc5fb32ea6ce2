package handler

import (
	"encoding/json"
	"net/http"

	"postal-service/internal/model"
	"postal-service/internal/service"
	"postal-service/internal/util"

	"github.com/go-chi/chi/v5"
)

// SubjectHandler handles HTTP requests for subject management
type SubjectHandler struct {
	subjectService *service.SubjectService
}

func NewSubjectHandler(subjectService *service.SubjectService) *SubjectHandler {
	return &SubjectHandler{subjectService: subjectService}
}

// RegisterRoutes registers all subject routes
func (h *SubjectHandler) RegisterRoutes(router chi.Router) {
	router.Route("/subjects", func(r chi.Router) {
		r.Post("/", h.Register)
		r.Post("/login", h.Login)
		r.Get("/{identifier}", h.GetSubject)
		r.Delete("/{identifier}", h.DeleteSubject)
		r.Put("/{identifier}/biometric", h.EnrollBiometric)
		r.Post("/{identifier}/complaints", h.FileComplaint)
	})
}

type registerRequest struct {
	Identifier  string     `json:"identifier"`
	DisplayName string     `json:"display_name"`
	Mobile      string     `json:"mobile"`
	Email       string     `json:"email"`
	Role        model.Role `json:"role"`
	Credential  string     `json:"credential"`
}

func (h *SubjectHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Role == "" {
		req.Role = model.RoleCitizen
	}

	subject, err := h.subjectService.Register(ctx, req.Identifier, req.DisplayName,
		req.Mobile, req.Email, req.Role, req.Credential)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to register subject")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(subject, "Subject registered successfully"))
	util.Info("Subject registered via HTTP",
		util.String("identifier", subject.Identifier))
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Credential string `json:"credential"`
}

func (h *SubjectHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	subject, err := h.subjectService.Login(ctx, req.Identifier, req.Credential)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Login failed")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(subject, "Login successful"))
}

func (h *SubjectHandler) GetSubject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier := chi.URLParam(r, "identifier")

	subject, err := h.subjectService.GetSubject(ctx, identifier)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to get subject")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(subject, "Subject retrieved successfully"))
}

func (h *SubjectHandler) DeleteSubject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier := chi.URLParam(r, "identifier")

	if err := h.subjectService.DeleteSubject(ctx, identifier); err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to delete subject")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Subject deleted successfully"))
}

type enrollRequest struct {
	Template []float64 `json:"template"`
}

func (h *SubjectHandler) EnrollBiometric(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier := chi.URLParam(r, "identifier")

	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.subjectService.EnrollBiometric(ctx, identifier, req.Template); err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to enroll biometric template")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Biometric template enrolled successfully"))
}

type complaintRequest struct {
	ParcelID string `json:"parcel_id"`
	Message  string `json:"message"`
}

func (h *SubjectHandler) FileComplaint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier := chi.URLParam(r, "identifier")

	var req complaintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	complaint, err := h.subjectService.FileComplaint(ctx, identifier, req.ParcelID, req.Message)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to file complaint")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(complaint, "Complaint filed successfully"))
}
