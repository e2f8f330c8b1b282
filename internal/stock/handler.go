package stock

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/batchline-erp/batchline-erp/internal/platform/httpx"
	"github.com/batchline-erp/batchline-erp/internal/shared"
)

// BatchLister reads recent batch audit records.
type BatchLister interface {
	ListBatches(ctx context.Context, productID int64, limit int) ([]Batch, error)
}

// Handler wires HTTP endpoints for the stock module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	lister    BatchLister
	validator *validator.Validate
}

// NewHandler constructs stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	lister, _ := service.repo.(BatchLister)
	return &Handler{logger: logger, service: service, lister: lister, validator: validator.New()}
}

// MountRoutes registers stock routes. Conversion endpoints are rate limited
// per client since each one takes row locks across several ledgers.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.LimitByIP(30, time.Minute)
	r.Group(func(r chi.Router) {
		r.Use(limiter)
		r.Post("/batches", h.handleCreateBatch)
		r.Post("/product-batches", h.handleCreateProductBatch)
	})
	r.Get("/batches", h.handleListBatches)
	r.Get("/{kind}/{id}", h.handleGetBalance)
	r.Post("/{kind}/{id}/credit", h.handleCredit)
}

type createBatchRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
	Ref       string  `json:"ref" validate:"omitempty,uuid4"`
}

type createProductBatchRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Pieces    int64  `json:"pieces" validate:"required,gt=0"`
	Ref       string `json:"ref" validate:"omitempty,uuid4"`
}

type creditRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

type batchResponse struct {
	ID         int64     `json:"id"`
	ProductID  int64     `json:"product_id"`
	Quantity   float64   `json:"quantity"`
	BatchCode  string    `json:"batch_code"`
	RefID      string    `json:"ref_id"`
	LastUpdate time.Time `json:"last_update"`
}

type productBatchResponse struct {
	ID         int64     `json:"id"`
	ProductID  int64     `json:"product_id"`
	Pieces     int64     `json:"pieces"`
	BatchCode  string    `json:"batch_code"`
	RefID      string    `json:"ref_id"`
	LastUpdate time.Time `json:"last_update"`
}

type balanceResponse struct {
	Kind       Kind    `json:"kind"`
	ResourceID int64   `json:"resource_id"`
	Balance    float64 `json:"balance"`
}

func (h *Handler) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	batch, err := h.service.CreateBatch(r.Context(), CreateBatchInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Ref:       req.Ref,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondConversionError(w, "create batch", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"result": batchResponse(batch)})
}

func (h *Handler) handleCreateProductBatch(w http.ResponseWriter, r *http.Request) {
	var req createProductBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	pb, err := h.service.CreateProductBatch(r.Context(), CreateProductBatchInput{
		ProductID: req.ProductID,
		Pieces:    req.Pieces,
		Ref:       req.Ref,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondConversionError(w, "create product batch", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"result": productBatchResponse(pb)})
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "product_id query parameter required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if h.lister == nil {
		httpx.Problem(w, http.StatusNotImplemented, "Not Implemented", "")
		return
	}
	batches, err := h.lister.ListBatches(r.Context(), productID, limit)
	if err != nil {
		h.logger.Error("list batches", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, batchResponse(b))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"result": out})
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := parseLedgerKey(w, r)
	if !ok {
		return
	}
	bal, err := h.service.GetBalance(r.Context(), kind, id)
	if err != nil {
		h.logger.Error("get balance", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"result": balanceResponse{Kind: bal.Kind, ResourceID: bal.ResourceID, Balance: bal.Qty}})
}

func (h *Handler) handleCredit(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := parseLedgerKey(w, r)
	if !ok {
		return
	}
	var req creditRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	bal, err := h.service.Credit(r.Context(), kind, id, req.Amount, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondConversionError(w, "credit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"result": balanceResponse{Kind: bal.Kind, ResourceID: bal.ResourceID, Balance: bal.Qty}})
}

func (h *Handler) respondConversionError(w http.ResponseWriter, op string, err error) {
	var insufficient *InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficient.Error())
	case errors.Is(err, ErrInvalidFormula):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Formula", err.Error())
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Quantity", err.Error())
	case errors.Is(err, ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "ledger contention, retry the request")
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseLedgerKey(w http.ResponseWriter, r *http.Request) (Kind, int64, bool) {
	kind := Kind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown ledger kind")
		return "", 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid resource id")
		return "", 0, false
	}
	return kind, id, true
}
