// Package webhook receives payment gateway callbacks and feeds them into
// payment reconciliation.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/routefare/routefare/internal/ledger"
	"github.com/routefare/routefare/internal/platform/httpx"
	"github.com/routefare/routefare/internal/shared"
)

// SignatureHeader carries the gateway's HMAC over the raw request body.
const SignatureHeader = "X-Gateway-Signature"

const maxBodyBytes = 1 << 20

// PaymentReconciler settles a captured payment against its due.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, input ledger.ReconcileInput) (*ledger.Due, error)
}

// Handler verifies and processes gateway webhook events.
type Handler struct {
	logger     *slog.Logger
	secret     []byte
	reconciler PaymentReconciler
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, secret string, reconciler PaymentReconciler) *Handler {
	return &Handler{logger: logger, secret: []byte(secret), reconciler: reconciler}
}

// MountRoutes registers webhook routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/gateway", h.handleGatewayEvent)
}

// event mirrors the gateway's webhook envelope.
type event struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID     string `json:"id"`
				Amount int64  `json:"amount"`
				Notes  struct {
					DueID int64 `json:"due_id"`
				} `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// VerifySignature checks the hex HMAC-SHA256 of body against the shared
// secret in constant time.
func VerifySignature(secret, body []byte, signature string) error {
	if signature == "" {
		return shared.ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return shared.ErrInvalidSignature
	}
	return nil
}

// handleGatewayEvent settles payment.captured events. Domain-level
// reconcile failures are acknowledged with 200 so the gateway does not
// retry a payment we will never accept; only infrastructure errors
// surface as 5xx.
func (h *Handler) handleGatewayEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unreadable body")
		return
	}

	if err := VerifySignature(h.secret, body, r.Header.Get(SignatureHeader)); err != nil {
		h.logger.Warn("webhook signature rejected", slog.String("remote", r.RemoteAddr))
		httpx.Problem(w, http.StatusBadRequest, "Invalid Signature", "signature verification failed")
		return
	}

	var evt event
	if err := json.Unmarshal(body, &evt); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed event payload")
		return
	}

	if evt.Event != "payment.captured" {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	entity := evt.Payload.Payment.Entity
	if entity.ID == "" || entity.Notes.DueID == 0 {
		h.logger.Warn("captured event without due reference", slog.String("payment_id", entity.ID))
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	_, err = h.reconciler.Reconcile(r.Context(), ledger.ReconcileInput{
		DueID:         entity.Notes.DueID,
		TransactionID: entity.ID,
		Amount:        float64(entity.Amount) / 100,
		Method:        ledger.MethodWebhook,
		ActorID:       shared.SystemActorID,
	})
	if err != nil {
		if isRecoverable(err) {
			h.logger.Warn("webhook reconcile rejected",
				slog.Int64("due_id", entity.Notes.DueID),
				slog.String("transaction_id", entity.ID),
				slog.Any("error", err))
			httpx.JSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
			return
		}
		h.logger.Error("webhook reconcile failed",
			slog.Int64("due_id", entity.Notes.DueID),
			slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// isRecoverable reports whether a reconcile failure is a final business
// outcome a gateway retry cannot change.
func isRecoverable(err error) bool {
	return errors.Is(err, ledger.ErrAlreadyPaid) ||
		errors.Is(err, ledger.ErrPriorDuesOutstanding) ||
		errors.Is(err, ledger.ErrDueNotFound) ||
		errors.Is(err, ledger.ErrInvalidInput)
}
