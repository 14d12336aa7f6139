package catalog

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sgsupercars/storefront/internal/common"
)

// Handler exposes public catalog endpoints.
type Handler struct {
	service *Service
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

// Routes mounts the catalog endpoints under /cars.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/cars", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/recommended", h.Recommended)
		r.Get("/facets", h.Facets)
		r.Get("/{carId}", h.Detail)
	})
}

// List handles GET /api/v1/cars with filters, sorting, and optional pagination.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "catalog service not configured", nil)
		return
	}
	params, err := h.service.ParseSearchParams(r.URL.Query())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	result, err := h.service.Search(r.Context(), params)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	perPage := result.Limit
	if perPage == 0 {
		perPage = result.Total
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(result.Total))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       result.Items,
		"criteria":   params.Criteria,
		"province":   result.Province,
		"pagination": common.Pagination{Page: result.Page, PerPage: perPage, TotalItems: result.Total},
	})
}

// Recommended handles GET /api/v1/cars/recommended.
func (h *Handler) Recommended(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "catalog service not configured", nil)
		return
	}
	province, err := h.service.ResolveProvince(r.URL.Query().Get("province"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	items, err := h.service.Recommended(r.Context(), province)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items})
}

// Facets handles GET /api/v1/cars/facets.
func (h *Handler) Facets(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "catalog service not configured", nil)
		return
	}
	q := r.URL.Query()
	facets, err := h.service.Facets(r.Context(), q.Get("make"), q.Get("model"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": facets})
}

// Detail handles GET /api/v1/cars/{carId}.
func (h *Handler) Detail(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "catalog service not configured", nil)
		return
	}
	province, err := h.service.ResolveProvince(r.URL.Query().Get("province"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	detail, err := h.service.Detail(r.Context(), chi.URLParam(r, "carId"), province)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": detail})
}
