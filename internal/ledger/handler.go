package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/routefare/routefare/internal/platform/httpx"
	"github.com/routefare/routefare/internal/shared"
)

// ReceiptRenderer produces the printable receipt artifact for a settled
// payment and returns a reference to it.
type ReceiptRenderer interface {
	Render(ctx context.Context, payment Payment, due Due) (string, error)
}

// Handler exposes the fee ledger over HTTP.
type Handler struct {
	logger     *slog.Logger
	repo       *Repository
	reconciler *Reconciler
	generator  *Generator
	adjuster   *Adjuster
	receipts   ReceiptRenderer
	validate   *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, repo *Repository, reconciler *Reconciler, generator *Generator, adjuster *Adjuster, receipts ReceiptRenderer) *Handler {
	return &Handler{
		logger:     logger,
		repo:       repo,
		reconciler: reconciler,
		generator:  generator,
		adjuster:   adjuster,
		receipts:   receipts,
		validate:   validator.New(),
	}
}

// MountFeeRoutes registers due management routes.
func (h *Handler) MountFeeRoutes(r chi.Router) {
	r.Get("/dues", h.listDues)
	r.Get("/dues/{id}", h.getDue)
	r.Post("/dues/{id}/waive", h.waiveLateFee)
	r.Post("/dues/{id}/discount", h.applyDiscount)
	r.Get("/defaulters", h.listDefaulters)
	r.Get("/barcode/{code}", h.getDueByBarcode)
	r.Post("/generate", h.generateDues)
	r.Post("/students/{id}/due", h.generateStudentDue)
}

// MountPaymentRoutes registers payment routes.
func (h *Handler) MountPaymentRoutes(r chi.Router) {
	r.Get("/", h.listPayments)
	r.Post("/manual/{dueID}", h.recordManualPayment)
	r.Post("/barcode", h.payByBarcode)
	r.Post("/orders", h.createPaymentOrder)
	r.Post("/{id}/receipt", h.renderReceipt)
}

type dueResponse struct {
	ID            int64     `json:"id"`
	StudentID     int64     `json:"student_id"`
	Month         int       `json:"month"`
	Year          int       `json:"year"`
	BaseFee       float64   `json:"base_fee"`
	LateFee       float64   `json:"late_fee"`
	Discount      float64   `json:"discount"`
	TotalDue      float64   `json:"total_due"`
	DueDate       time.Time `json:"due_date"`
	Status        DueStatus `json:"status"`
	Barcode       string    `json:"barcode,omitempty"`
	ReceiptNumber string    `json:"receipt_number,omitempty"`
}

func toDueResponse(d *Due) dueResponse {
	return dueResponse{
		ID:            d.ID,
		StudentID:     d.StudentID,
		Month:         d.Month,
		Year:          d.Year,
		BaseFee:       d.BaseFee,
		LateFee:       d.LateFee,
		Discount:      d.Discount,
		TotalDue:      d.TotalDue,
		DueDate:       d.DueDate,
		Status:        d.Status,
		Barcode:       d.Barcode,
		ReceiptNumber: d.ReceiptNumber,
	}
}

func toDueResponses(dues []Due) []dueResponse {
	out := make([]dueResponse, 0, len(dues))
	for i := range dues {
		out = append(out, toDueResponse(&dues[i]))
	}
	return out
}

type paymentResponse struct {
	ID            int64         `json:"id"`
	DueID         int64         `json:"due_id"`
	Amount        float64       `json:"amount"`
	TransactionID string        `json:"transaction_id"`
	Method        PaymentMethod `json:"method"`
	Status        string        `json:"status"`
	PaidAt        time.Time     `json:"paid_at"`
	ReceiptRef    string        `json:"receipt_ref,omitempty"`
}

func toPaymentResponse(p *Payment) paymentResponse {
	return paymentResponse{
		ID:            p.ID,
		DueID:         p.DueID,
		Amount:        p.Amount,
		TransactionID: p.TransactionID,
		Method:        p.Method,
		Status:        p.Status,
		PaidAt:        p.PaidAt,
		ReceiptRef:    p.ReceiptRef,
	}
}

// respondLedgerError maps ledger errors to problem responses. The
// prior-dues case carries the earliest blocking period so clients can
// point the payer at the right month.
func respondLedgerError(w http.ResponseWriter, err error) {
	var prior *PriorDuesError
	switch {
	case errors.As(err, &prior):
		httpx.Problem(w, http.StatusConflict, "Prior Dues Outstanding",
			fmt.Sprintf("settle %s first", prior.Earliest))
	case errors.Is(err, ErrAlreadyPaid):
		httpx.Problem(w, http.StatusConflict, "Already Paid", "due is already settled")
	case errors.Is(err, ErrDueNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "due not found")
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidInput):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}

func parseListDuesQuery(q url.Values) (ListDuesRequest, error) {
	req := ListDuesRequest{Limit: 200}
	if v := q.Get("student_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, fmt.Errorf("invalid student_id %q", v)
		}
		req.StudentID = id
	}
	if v := q.Get("status"); v != "" {
		req.Status = DueStatus(v)
	}
	if v := q.Get("month"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("invalid month %q", v)
		}
		req.Month = m
	}
	if v := q.Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("invalid year %q", v)
		}
		req.Year = y
	}
	return req, nil
}

func (h *Handler) listDues(w http.ResponseWriter, r *http.Request) {
	req, err := parseListDuesQuery(r.URL.Query())
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	dues, err := h.repo.ListDues(r.Context(), req)
	if err != nil {
		h.logger.Error("list dues", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"dues": toDueResponses(dues)})
}

func (h *Handler) getDue(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid due id")
		return
	}
	due, err := h.repo.GetDue(r.Context(), id)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDueResponse(due))
}

func (h *Handler) getDueByBarcode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	due, err := h.repo.GetDueByBarcode(r.Context(), code)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDueResponse(due))
}

func (h *Handler) listDefaulters(w http.ResponseWriter, r *http.Request) {
	dues, err := h.repo.ListDefaulters(r.Context())
	if err != nil {
		h.logger.Error("list defaulters", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"defaulters": toDueResponses(dues)})
}

type generateDuesRequest struct {
	Month int `json:"month" validate:"required,min=1,max=12"`
	Year  int `json:"year" validate:"required,min=2000"`
}

func (h *Handler) generateDues(w http.ResponseWriter, r *http.Request) {
	var req generateDuesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	created, err := h.generator.GenerateForPeriod(r.Context(), Period{Month: req.Month, Year: req.Year})
	if err != nil {
		h.logger.Error("generate dues", slog.Any("error", err))
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"created": created,
		"month":   req.Month,
		"year":    req.Year,
	})
}

func (h *Handler) generateStudentDue(w http.ResponseWriter, r *http.Request) {
	studentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid student id")
		return
	}
	due, err := h.generator.GenerateForStudent(r.Context(), studentID, time.Now())
	if errors.Is(err, ErrDueExists) {
		httpx.Problem(w, http.StatusConflict, "Duplicate", "due already exists for current period")
		return
	}
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDueResponse(due))
}

type actorRequest struct {
	ActorID int64 `json:"actor_id" validate:"required"`
}

func (h *Handler) waiveLateFee(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid due id")
		return
	}
	var req actorRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	due, err := h.adjuster.Waive(r.Context(), id, req.ActorID)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDueResponse(due))
}

type discountRequest struct {
	Amount  float64 `json:"amount" validate:"gte=0"`
	ActorID int64   `json:"actor_id" validate:"required"`
}

func (h *Handler) applyDiscount(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid due id")
		return
	}
	var req discountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	due, err := h.adjuster.ApplyDiscount(r.Context(), id, req.Amount, req.ActorID)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDueResponse(due))
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	payments, err := h.repo.ListPayments(r.Context(), limit)
	if err != nil {
		h.logger.Error("list payments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]paymentResponse, 0, len(payments))
	for i := range payments {
		out = append(out, toPaymentResponse(&payments[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": out})
}

type manualPaymentRequest struct {
	TransactionID string  `json:"transaction_id"`
	Amount        float64 `json:"amount" validate:"gte=0"`
	Method        string  `json:"method" validate:"omitempty,oneof=cash cheque online barcode"`
	ActorID       int64   `json:"actor_id" validate:"required"`
}

// recordManualPayment settles a due from a clerk's offline entry. A
// missing transaction reference collapses to the deterministic offline
// id, making clerk resubmissions idempotent.
func (h *Handler) recordManualPayment(w http.ResponseWriter, r *http.Request) {
	dueID, err := strconv.ParseInt(chi.URLParam(r, "dueID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid due id")
		return
	}
	var req manualPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	txnID := req.TransactionID
	if txnID == "" {
		txnID = OfflineTransactionID(dueID)
	}
	method := PaymentMethod(req.Method)
	if method == "" {
		method = MethodCash
	}

	due, err := h.reconciler.Reconcile(r.Context(), ReconcileInput{
		DueID:         dueID,
		TransactionID: txnID,
		Amount:        req.Amount,
		Method:        method,
		AssertAmount:  req.Amount > 0,
		ActorID:       req.ActorID,
	})
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDueResponse(due))
}

type barcodePaymentRequest struct {
	Barcode       string `json:"barcode" validate:"required"`
	TransactionID string `json:"transaction_id"`
	ActorID       int64  `json:"actor_id" validate:"required"`
}

func (h *Handler) payByBarcode(w http.ResponseWriter, r *http.Request) {
	var req barcodePaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	due, err := h.reconciler.ReconcileBarcode(r.Context(), req.Barcode, req.TransactionID, req.ActorID)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDueResponse(due))
}

type paymentOrderRequest struct {
	DueID int64 `json:"due_id" validate:"required"`
}

// createPaymentOrder prepares a gateway checkout order for a due. The
// order id and amount echo back to the client, which completes checkout
// against the gateway; settlement then arrives through the webhook.
func (h *Handler) createPaymentOrder(w http.ResponseWriter, r *http.Request) {
	var req paymentOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	due, err := h.repo.GetDue(r.Context(), req.DueID)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	if due.Status == DueStatusPaid {
		httpx.Problem(w, http.StatusConflict, "Already Paid", "due is already settled")
		return
	}

	// Gateways take amounts in minor currency units.
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"order_id": "order_" + uuid.NewString(),
		"amount":   int64(due.TotalDue * 100),
		"currency": "INR",
		"notes": map[string]any{
			"due_id":     due.ID,
			"student_id": due.StudentID,
		},
	})
}

func (h *Handler) renderReceipt(w http.ResponseWriter, r *http.Request) {
	if h.receipts == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "receipt rendering is not configured")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payment id")
		return
	}

	payment, err := h.repo.GetPayment(r.Context(), id)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	due, err := h.repo.GetDue(r.Context(), payment.DueID)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	ref, err := h.receipts.Render(r.Context(), *payment, *due)
	if err != nil {
		h.logger.Error("render receipt", slog.Int64("payment_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Render Failed", "receipt rendering failed")
		return
	}
	if err := h.repo.AttachReceipt(r.Context(), id, ref); err != nil {
		h.logger.Error("attach receipt", slog.Int64("payment_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payment_id": id, "receipt_ref": ref})
}
