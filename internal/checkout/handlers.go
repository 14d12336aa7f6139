package checkout

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sgsupercars/storefront/internal/common"
)

// Handler exposes deposit checkout endpoints.
type Handler struct {
	svc            *Service
	publishableKey string
	startGuards    []func(http.Handler) http.Handler
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service        *Service
	PublishableKey string
	// StartGuards wrap POST /deposits only (idempotency, rate limiting).
	StartGuards []func(http.Handler) http.Handler
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{svc: cfg.Service, publishableKey: cfg.PublishableKey, startGuards: cfg.StartGuards}
}

type startRequest struct {
	CarID string `json:"carId"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type confirmRequest struct {
	PaymentMethodID string `json:"paymentMethodId"`
}

type sessionResponse struct {
	*Session
	PublishableKey string `json:"publishableKey,omitempty"`
	ReturnURL      string `json:"returnUrl"`
}

// Routes mounts the checkout endpoints under /deposits.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/deposits", func(r chi.Router) {
		r.With(h.startGuards...).Post("/", h.Start)
		r.Get("/success", h.Success)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/info", h.Submit)
		r.Post("/{id}/confirm", h.Confirm)
		r.Post("/{id}/restart", h.Restart)
	})
}

// Start handles POST /api/v1/deposits.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req startRequest
	if err := decode(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	sess, err := h.svc.Start(r.Context(), StartInput{
		CarID:   req.CarID,
		Contact: Contact{Name: req.Name, Email: req.Email, Phone: req.Phone},
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	h.writeSession(w, http.StatusCreated, sess)
}

// Get handles GET /api/v1/deposits/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	sess, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	h.writeSession(w, http.StatusOK, sess)
}

// Submit handles POST /api/v1/deposits/{id}/info after a restart.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req startRequest
	if err := decode(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	sess, err := h.svc.Submit(r.Context(), chi.URLParam(r, "id"), Contact{Name: req.Name, Email: req.Email, Phone: req.Phone})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	h.writeSession(w, http.StatusOK, sess)
}

// Confirm handles POST /api/v1/deposits/{id}/confirm.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req confirmRequest
	if err := decode(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	sess, err := h.svc.Confirm(r.Context(), chi.URLParam(r, "id"), ConfirmInput{PaymentMethodID: req.PaymentMethodID})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	h.writeSession(w, http.StatusOK, sess)
}

// Restart handles POST /api/v1/deposits/{id}/restart.
func (h *Handler) Restart(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	sess, err := h.svc.Restart(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	h.writeSession(w, http.StatusOK, sess)
}

// Success handles GET /api/v1/deposits/success?carId=.
func (h *Handler) Success(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	vehicle, err := h.svc.SuccessDetails(r.Context(), r.URL.Query().Get("carId"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"vehicle":  vehicle,
			"reserved": vehicle.IsReserved(),
		},
	})
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h.svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "checkout service not configured", nil)
		return false
	}
	return true
}

func (h *Handler) writeSession(w http.ResponseWriter, status int, sess *Session) {
	resp := sessionResponse{Session: sess, ReturnURL: h.svc.ReturnURLFor(sess.Order.CarID)}
	if sess.State == StateAwaitingPaymentConfirmation {
		resp.PublishableKey = h.publishableKey
	}
	common.JSON(w, status, map[string]any{"data": resp})
}

func decode(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return common.BadRequest("", "invalid payload", err)
	}
	return nil
}
