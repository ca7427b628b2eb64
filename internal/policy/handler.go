package policy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/routefare/routefare/internal/platform/httpx"
	"github.com/routefare/routefare/internal/shared"
)

// PolicyStore is the persistence surface the handler needs.
type PolicyStore interface {
	List(ctx context.Context) ([]LateFeePolicy, error)
	Create(ctx context.Context, input CreatePolicyInput) (*LateFeePolicy, error)
	Activate(ctx context.Context, id int64) (*LateFeePolicy, error)
}

// Invalidator drops cached policy state after a mutation.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// AuditPort abstracts the append-only audit sink.
type AuditPort interface {
	RecordBestEffort(ctx context.Context, log shared.AuditLog)
}

// Handler exposes late-fee policy management over HTTP.
type Handler struct {
	logger   *slog.Logger
	store    PolicyStore
	cache    Invalidator
	audit    AuditPort
	validate *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, store PolicyStore, cache Invalidator, audit AuditPort) *Handler {
	return &Handler{logger: logger, store: store, cache: cache, audit: audit, validate: validator.New()}
}

// MountRoutes registers policy routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listPolicies)
	r.Post("/", h.createPolicy)
	r.Post("/{id}/activate", h.activatePolicy)
}

func (h *Handler) listPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("list policies", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"policies": policies})
}

type createPolicyRequest struct {
	Name       string  `json:"name" validate:"required,max=100"`
	DailyRate  float64 `json:"daily_rate" validate:"gte=0"`
	GraceDays  int     `json:"grace_days" validate:"gte=0,lte=28"`
	MaxLateFee float64 `json:"max_late_fee" validate:"gte=0"`
	Activate   bool    `json:"activate"`
	ActorID    int64   `json:"actor_id" validate:"required"`
}

func (h *Handler) createPolicy(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	created, err := h.store.Create(r.Context(), CreatePolicyInput{
		Name:       req.Name,
		DailyRate:  req.DailyRate,
		GraceDays:  req.GraceDays,
		MaxLateFee: req.MaxLateFee,
		Activate:   req.Activate,
		ActorID:    req.ActorID,
	})
	if err != nil {
		h.logger.Error("create policy", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if h.cache != nil {
		h.cache.Invalidate(r.Context())
	}
	if h.audit != nil {
		h.audit.RecordBestEffort(r.Context(), shared.AuditLog{
			ActorID:  req.ActorID,
			Action:   "CREATE_LATE_FEE_POLICY",
			Entity:   "LATE_FEE_POLICY",
			EntityID: strconv.FormatInt(created.ID, 10),
			NewValues: map[string]any{
				"daily_rate":   created.DailyRate,
				"grace_days":   created.GraceDays,
				"max_late_fee": created.MaxLateFee,
				"is_active":    created.IsActive,
			},
		})
	}
	httpx.JSON(w, http.StatusCreated, created)
}

type activateRequest struct {
	ActorID int64 `json:"actor_id" validate:"required"`
}

func (h *Handler) activatePolicy(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid policy id")
		return
	}
	var req activateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	activated, err := h.store.Activate(r.Context(), id)
	if errors.Is(err, ErrPolicyNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "policy not found")
		return
	}
	if err != nil {
		h.logger.Error("activate policy", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if h.cache != nil {
		h.cache.Invalidate(r.Context())
	}
	if h.audit != nil {
		h.audit.RecordBestEffort(r.Context(), shared.AuditLog{
			ActorID:   req.ActorID,
			Action:    "ACTIVATE_LATE_FEE_POLICY",
			Entity:    "LATE_FEE_POLICY",
			EntityID:  strconv.FormatInt(id, 10),
			NewValues: map[string]any{"is_active": true},
		})
	}
	httpx.JSON(w, http.StatusOK, activated)
}
