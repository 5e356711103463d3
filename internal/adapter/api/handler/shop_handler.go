package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/V4T54L/logpipe/internal/adapter/metrics"
	"github.com/V4T54L/logpipe/internal/domain"
	"github.com/V4T54L/logpipe/internal/pkg/jsoncodec"
)

// ShopHandler serves the demo shop API and publishes one log event per request.
type ShopHandler struct {
	store     *Store
	publisher domain.LogPublisher
	metrics   *metrics.PipelineMetrics
	logger    *slog.Logger
	failOpen  bool
}

// NewShopHandler creates a new ShopHandler. With failOpen unset a request whose log
// event could not be published is answered with 503.
func NewShopHandler(store *Store, publisher domain.LogPublisher, m *metrics.PipelineMetrics, logger *slog.Logger, failOpen bool) *ShopHandler {
	return &ShopHandler{
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With("component", "shop_handler"),
		failOpen:  failOpen,
	}
}

type createOrderRequest struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *ShopHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if !h.logRequest(w, r.Context(), "/api/users", http.MethodGet, http.StatusOK, "Displaying the Users!") {
		return
	}
	writeJSON(w, http.StatusOK, h.store.Users())
}

func (h *ShopHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	endpoint := "/api/users/" + idParam

	id, err := strconv.Atoi(idParam)
	user, ok := h.store.User(id)
	if err != nil || !ok {
		if !h.logRequest(w, r.Context(), endpoint, http.MethodGet, http.StatusNotFound, "User Not Found!") {
			return
		}
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "User not found"})
		return
	}

	if !h.logRequest(w, r.Context(), endpoint, http.MethodGet, http.StatusOK, "Fetching user details!") {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *ShopHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	if !h.logRequest(w, r.Context(), "/api/orders", http.MethodGet, http.StatusOK, "Displaying the Orders!") {
		return
	}
	writeJSON(w, http.StatusOK, h.store.Orders())
}

func (h *ShopHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	endpoint := "/api/orders/" + idParam

	id, err := strconv.Atoi(idParam)
	order, ok := h.store.Order(id)
	if err != nil || !ok {
		if !h.logRequest(w, r.Context(), endpoint, http.MethodGet, http.StatusNotFound, "Order Not Found!") {
			return
		}
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Order not found"})
		return
	}

	if !h.logRequest(w, r.Context(), endpoint, http.MethodGet, http.StatusOK, "Fetching order details!") {
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *ShopHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	if !h.logRequest(w, r.Context(), "/api/products", http.MethodGet, http.StatusOK, "Displaying the products") {
		return
	}
	writeJSON(w, http.StatusOK, h.store.Products())
}

func (h *ShopHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := jsoncodec.Decode(r.Body, &req); err != nil {
		h.logger.Debug("invalid order body", "error", err)
		req = createOrderRequest{}
	}

	if req.Product == "" || req.Quantity == 0 {
		if !h.logRequest(w, r.Context(), "/api/orders", http.MethodPost, http.StatusBadRequest, "Insufficient Items") {
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Insufficient Items"})
		return
	}

	order := h.store.CreateOrder(req.Product, req.Quantity)
	details, err := jsoncodec.Marshal(order)
	if err != nil {
		h.logger.Error("failed to encode order details", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if !h.logRequest(w, r.Context(), "/api/orders", http.MethodPost, http.StatusCreated, string(details)) {
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// logRequest publishes the request's log event. It reports false when the
// response has already been written because publishing failed and the handler is
// fail-closed.
func (h *ShopHandler) logRequest(w http.ResponseWriter, ctx context.Context, endpoint, method string, status int, details string) bool {
	err := h.publisher.Publish(ctx, endpoint, method, status, &details)
	if err == nil {
		h.metrics.HTTPRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
		return true
	}

	if h.failOpen {
		h.logger.Error("failed to publish request log, serving anyway", "endpoint", endpoint, "error", err)
		return true
	}
	h.logger.Error("failed to publish request log", "endpoint", endpoint, "error", err)
	writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: fmt.Sprintf("log pipeline unavailable: %s %s", method, endpoint)})
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsoncodec.Encode(w, v)
}
