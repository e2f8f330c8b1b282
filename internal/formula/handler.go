package formula

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/batchline-erp/batchline-erp/internal/platform/httpx"
	"github.com/batchline-erp/batchline-erp/internal/shared"
)

// Handler wires HTTP endpoints for formula maintenance.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs formula handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers formula routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{productID}", h.handleGet)
	r.Post("/", h.handleCreateRow)
	r.Put("/{productID}/rows/{materialID}", h.handleUpdateRow)
	r.Delete("/{productID}/rows/{materialID}", h.handleDeleteRow)
	r.Get("/{productID}/compose", h.handleCompose)
	r.Post("/{productID}/compose", h.handleAddCompose)
	r.Delete("/{productID}/compose/{packageMaterialID}", h.handleDeleteCompose)
}

type createRowRequest struct {
	ProductID  int64   `json:"product_id" validate:"required,gt=0"`
	MaterialID int64   `json:"material_id" validate:"required,gt=0"`
	Quantity   float64 `json:"quantity" validate:"gte=0"`
}

type updateRowRequest struct {
	Quantity float64 `json:"quantity" validate:"gte=0"`
}

type addComposeRequest struct {
	PackageMaterialID int64 `json:"package_material_id" validate:"required,gt=0"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	entries, err := h.service.GetFormula(r.Context(), productID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	weight, err := h.service.Weight(r.Context(), productID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"result": map[string]any{
		"product_id": productID,
		"entries":    entries,
		"weight":     weight,
	}})
}

func (h *Handler) handleCreateRow(w http.ResponseWriter, r *http.Request) {
	var req createRowRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	entry, err := h.service.CreateRow(r.Context(), Entry{ProductID: req.ProductID, MaterialID: req.MaterialID, Quantity: req.Quantity})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"result": entry})
}

func (h *Handler) handleUpdateRow(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	materialID, ok := pathID(w, r, "materialID")
	if !ok {
		return
	}
	var req updateRowRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	if err := h.service.UpdateRowQuantity(r.Context(), productID, materialID, req.Quantity); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"result": "updated"})
}

func (h *Handler) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	materialID, ok := pathID(w, r, "materialID")
	if !ok {
		return
	}
	if err := h.service.DeleteRow(r.Context(), productID, materialID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCompose(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	ids, err := h.service.ComposeList(r.Context(), productID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"result": ids})
}

func (h *Handler) handleAddCompose(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	var req addComposeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	row, err := h.service.AddComposeRow(r.Context(), ComposeRow{ProductID: productID, PackageMaterialID: req.PackageMaterialID})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"result": row})
}

func (h *Handler) handleDeleteCompose(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	packageMaterialID, ok := pathID(w, r, "packageMaterialID")
	if !ok {
		return
	}
	if err := h.service.DeleteComposeRow(r.Context(), productID, packageMaterialID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrRowExists), errors.Is(err, ErrComposeExists):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		h.logger.Error("formula request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+name)
		return 0, false
	}
	return id, true
}
