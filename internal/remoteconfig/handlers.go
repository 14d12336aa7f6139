package remoteconfig

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sgsupercars/storefront/internal/common"
	"github.com/sgsupercars/storefront/internal/pricing"
)

// Handler exposes the cached configuration and province charge schedules.
type Handler struct {
	store *Store
}

// NewHandler constructs a Handler.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// Routes mounts the configuration endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/config", h.Config)
	r.Get("/provinces", h.Provinces)
	r.Get("/provinces/{code}/charges", h.Charges)
}

// Config handles GET /api/v1/config.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.Snapshot()
	if err != nil {
		common.WriteError(w, AsAppError(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": snap})
}

// Provinces handles GET /api/v1/provinces.
func (h *Handler) Provinces(w http.ResponseWriter, r *http.Request) {
	common.JSON(w, http.StatusOK, map[string]any{"data": pricing.Provinces()})
}

type chargeLine struct {
	Label string       `json:"label"`
	Kind  pricing.Kind `json:"kind"`
	Value any          `json:"value"`
}

// Charges handles GET /api/v1/provinces/{code}/charges.
func (h *Handler) Charges(w http.ResponseWriter, r *http.Request) {
	info, ok := pricing.LookupProvince(chi.URLParam(r, "code"))
	if !ok {
		common.WriteError(w, common.NotFound("province not found", nil))
		return
	}
	items, err := h.store.Charges(string(info.Code))
	if err != nil {
		common.WriteError(w, AsAppError(err))
		return
	}
	lines := make([]chargeLine, 0, len(items))
	for _, item := range items {
		c := item.Classify()
		line := chargeLine{Label: item.Label, Kind: c.Kind}
		if c.Kind == pricing.KindText {
			line.Value = c.Text
		} else {
			line.Value = c.Amount
		}
		lines = append(lines, line)
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"province": info,
			"charges":  lines,
		},
	})
}

// AsAppError maps configuration errors onto the API error envelope.
func AsAppError(err error) error {
	if errors.Is(err, ErrConfigurationUnavailable) {
		return common.ConfigUnavailable(err)
	}
	return err
}
