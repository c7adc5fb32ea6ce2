package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"postal-service/internal/model"
	"postal-service/internal/service"
	"postal-service/internal/util"

	"github.com/go-chi/chi/v5"
)

// OrderHandler handles HTTP requests for the parcel lifecycle
type OrderHandler struct {
	orderService *service.OrderService
}

func NewOrderHandler(orderService *service.OrderService) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

// RegisterRoutes registers all order routes
func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Get("/search", h.SearchOrders)
		r.Get("/{orderID}", h.GetOrder)
		r.Patch("/{orderID}/status", h.UpdateStatus)
		r.Post("/{orderID}/deliver", h.MarkDelivered)
	})
	router.Get("/subjects/{identifier}/orders", h.History)
}

type createOrderRequest struct {
	SenderIdentifier string                `json:"sender_identifier"`
	Receiver         model.ReceiverContact `json:"receiver"`
	Description      string                `json:"description"`
	Weight           string                `json:"weight"`
}

func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	parcel, err := h.orderService.CreateOrder(ctx, req.SenderIdentifier, req.Receiver,
		req.Description, req.Weight)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to create order")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(parcel, "Order created successfully"))
	util.Info("Order created via HTTP",
		util.String("parcel_id", parcel.ID),
		util.String("sender", parcel.SenderIdentifier))
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "orderID")

	parcel, err := h.orderService.GetOrder(ctx, orderID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(parcel, "Order retrieved successfully"))
}

func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := model.ParcelFilter{
		SenderIdentifier: r.URL.Query().Get("sender"),
		ReceiverEmail:    r.URL.Query().Get("receiver_email"),
		ReceiverMobile:   r.URL.Query().Get("receiver_mobile"),
	}
	if statuses := r.URL.Query().Get("status"); statuses != "" {
		for _, status := range strings.Split(statuses, ",") {
			filter.Statuses = append(filter.Statuses, model.ParcelStatus(strings.ToUpper(status)))
		}
	}

	parcels, err := h.orderService.ListOrders(ctx, filter)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to list orders")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(parcels, "Orders retrieved successfully"))
}

func (h *OrderHandler) SearchOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query().Get("q")
	if query == "" {
		respondWithJSON(w, http.StatusOK, successResponse([]*model.Parcel{}, "Empty query"))
		return
	}

	parcels, err := h.orderService.SearchOrders(ctx, query)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to search orders")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(parcels, "Search completed successfully"))
}

type updateStatusRequest struct {
	Status model.ParcelStatus `json:"status"`
}

func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "orderID")

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	parcel, err := h.orderService.UpdateStatus(ctx, orderID, req.Status)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to update order status")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(parcel, "Order status updated successfully"))
}

func (h *OrderHandler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "orderID")

	parcel, err := h.orderService.MarkDelivered(ctx, orderID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to mark order delivered")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(parcel, "Order delivered successfully"))
}

func (h *OrderHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier := chi.URLParam(r, "identifier")

	parcels, err := h.orderService.History(ctx, identifier)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to get order history")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(parcels, "Order history retrieved successfully"))
}
