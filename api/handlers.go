/*
handlers.go - HTTP API handlers for the loan-servicing engine

PURPOSE:
  Exposes the amortization calculator and the servicing operations via a
  REST API. Handles HTTP request/response, JSON serialization, and
  delegates to the servicing package.

ENDPOINTS:
  Calculator (public, rate-limited):
    POST   /api/amortization/schedule  Preview a payment schedule
    POST   /api/amortization/rounding  Suggest rates for a round installment

  Borrower lookup (public, rate-limited):
    GET    /api/public/loans?document=&phone=

  Staff (X-User-ID required):
    GET    /api/users                  Users visible to the actor
    POST   /api/users                  Create subadmin/manager/client user
    GET    /api/clients                Clients in scope
    POST   /api/clients                Register a client
    GET    /api/clients/{id}           Client details
    GET    /api/loans?client_id=       Loans in scope
    POST   /api/loans                  Create a loan (optionally rounded)
    GET    /api/loans/{id}             Loan with installments
    POST   /api/loans/{id}/payments    Record a payment
    POST   /api/loans/{id}/status      Cancel, default, or reactivate
    GET    /api/closures?manager_id=   Cash closures in scope
    POST   /api/closures               Close a manager's day
    GET    /api/portfolio/summary      Aggregated figures (cached)
    GET    /api/portfolio/hierarchy    Figures per staff node (cached)

  Admin:
    POST   /api/admin/overdue          Mark past-due installments OVERDUE
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Seed a demo scenario

ERROR HANDLING:
  Errors are returned as JSON ErrorResponse with an HTTP status derived
  from the servicing error helpers:
  - 400: Validation errors, invalid loan terms, overpayment, closed loan
  - 401: Missing or unknown X-User-ID
  - 403: Target outside the actor's hierarchy
  - 404: Resource not found
  - 409: Duplicate idempotency key, document, or closure
  - 500: Internal errors (logged, message not echoed)

SEE ALSO:
  - dto.go: Request/response data structures
  - cache.go: Portfolio read-through cache
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/cache"
	"github.com/warp/loan-engine/servicing"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// Pinger is satisfied by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all HTTP handlers and their dependencies.
type Handler struct {
	svc    *servicing.Service
	cache  *cache.Cache // nil disables portfolio caching
	pinger Pinger
	log    *zap.Logger
	now    func() time.Time
}

type HandlerOption func(*Handler)

func WithCache(c *cache.Cache) HandlerOption     { return func(h *Handler) { h.cache = c } }
func WithPinger(p Pinger) HandlerOption          { return func(h *Handler) { h.pinger = p } }
func WithLogger(l *zap.Logger) HandlerOption     { return func(h *Handler) { h.log = l } }
func WithClock(f func() time.Time) HandlerOption { return func(h *Handler) { h.now = f } }

func NewHandler(svc *servicing.Service, opts ...HandlerOption) *Handler {
	h := &Handler{
		svc: svc,
		log: zap.NewNop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) today() amortization.Date {
	return amortization.DateOf(h.now())
}

// =============================================================================
// CALCULATOR HANDLERS
// =============================================================================

// PreviewSchedule computes a schedule without persisting anything.
func (h *Handler) PreviewSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.StartDate.IsZero() {
		req.StartDate = h.today()
	}
	if err := h.svc.CheckTerms(req.Principal, req.InterestRatePercent, req.InstallmentCount); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	result, err := amortization.ComputeSchedule(amortization.LoanTerms{
		Principal:           req.Principal,
		InterestRatePercent: req.InterestRatePercent,
		InstallmentCount:    req.InstallmentCount,
		StartDate:           req.StartDate,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	SchedulesComputed.WithLabelValues("preview").Inc()

	writeJSON(w, http.StatusOK, ScheduleDTO{
		TotalAmount:       result.TotalAmount,
		InstallmentAmount: result.InstallmentAmount,
		InterestAmount:    result.InterestAmount,
		Remainder:         result.Remainder(),
		Schedule:          result.Schedule,
	})
}

// SuggestRounding returns the nearest round installments above and below.
func (h *Handler) SuggestRounding(w http.ResponseWriter, r *http.Request) {
	var req RoundingRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.CheckTerms(req.Principal, req.InterestRatePercent, req.InstallmentCount); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	s, err := servicing.SuggestRounding(req.Principal, req.InstallmentCount, req.InterestRatePercent)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := RoundingDTO{
		CurrentInstallment: s.CurrentInstallment,
		Increment:          s.Increment,
		CurrentIsNice:      s.CurrentIsNice,
		Up:                 toRoundingOptionDTO(s.Up),
	}
	if s.Down != nil {
		down := toRoundingOptionDTO(*s.Down)
		resp.Down = &down
	}
	writeJSON(w, http.StatusOK, resp)
}

func toRoundingOptionDTO(r amortization.RoundingResult) RoundingOptionDTO {
	return RoundingOptionDTO{
		InterestRatePercent: r.InterestRatePercent,
		InstallmentAmount:   r.InstallmentAmount,
		TotalAmount:         r.TotalAmount,
	}
}

// =============================================================================
// USER HANDLERS
// =============================================================================

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context(), actorFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.svc.CreateUser(r.Context(), actorFrom(r.Context()), servicing.NewUser{
		Name:     req.Name,
		Email:    req.Email,
		Role:     req.Role,
		ParentID: req.ParentID,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.invalidatePortfolio(r.Context())
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.svc.ListClients(r.Context(), actorFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]ClientDTO, len(clients))
	for i, c := range clients {
		dtos[i] = toClientDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if !h.decode(w, r, &req) {
		return
	}

	client, err := h.svc.CreateClient(r.Context(), actorFrom(r.Context()), servicing.NewClient{
		ManagerID:  req.ManagerID,
		Name:       req.Name,
		DocumentID: req.DocumentID,
		Phone:      req.Phone,
		Address:    req.Address,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.invalidatePortfolio(r.Context())
	writeJSON(w, http.StatusCreated, toClientDTO(client))
}

func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	client, err := h.svc.GetClient(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(client))
}

// =============================================================================
// LOAN HANDLERS
// =============================================================================

func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.svc.ListLoans(r.Context(), actorFrom(r.Context()), r.URL.Query().Get("client_id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]LoanDTO, len(loans))
	for i, l := range loans {
		dtos[i] = toLoanDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if !h.decode(w, r, &req) {
		return
	}
	rounding, err := servicing.ParseRounding(req.Rounding)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	details, err := h.svc.CreateLoan(r.Context(), actorFrom(r.Context()), servicing.LoanRequest{
		ClientID:            req.ClientID,
		Principal:           req.Principal,
		InterestRatePercent: req.InterestRatePercent,
		InstallmentCount:    req.InstallmentCount,
		StartDate:           req.StartDate,
		Rounding:            rounding,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	SchedulesComputed.WithLabelValues("loan").Inc()
	h.invalidatePortfolio(r.Context())

	w.Header().Set("Location", "/api/loans/"+details.ID)
	writeJSON(w, http.StatusCreated, toLoanDetailDTO(details))
}

func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	details, err := h.svc.GetLoan(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDetailDTO(details))
}

func (h *Handler) ChangeLoanStatus(w http.ResponseWriter, r *http.Request) {
	var req ChangeLoanStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	loan, err := h.svc.ChangeLoanStatus(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.invalidatePortfolio(r.Context())
	writeJSON(w, http.StatusOK, toLoanDTO(loan))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// RecordPayment applies a payment to an installment of the loan in the
// path. Without sub_loan_id it pays the earliest open installment.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	ctx := r.Context()
	actor := actorFrom(ctx)
	details, err := h.svc.GetLoan(ctx, actor, chi.URLParam(r, "id"))
	if err != nil {
		h.rejectPayment(w, r, err)
		return
	}
	subLoanID, err := pickInstallment(details, req.SubLoanID)
	if err != nil {
		h.rejectPayment(w, r, err)
		return
	}

	receipt, err := h.svc.RecordPayment(ctx, actor, servicing.PaymentRequest{
		SubLoanID:      subLoanID,
		Amount:         req.Amount,
		PaidAt:         req.PaidAt,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.rejectPayment(w, r, err)
		return
	}
	PaymentsRecorded.WithLabelValues(string(receipt.Installment.Status)).Inc()
	h.invalidatePortfolio(ctx)

	writeJSON(w, http.StatusCreated, PaymentReceiptDTO{
		Payment:     toPaymentDTO(receipt.Payment),
		Installment: toInstallmentDTO(receipt.Installment),
		LoanStatus:  receipt.LoanStatus,
	})
}

func pickInstallment(details servicing.LoanDetails, subLoanID string) (string, error) {
	for _, s := range details.Installments {
		if subLoanID == "" && s.Status.IsOpen() {
			return s.ID, nil
		}
		if subLoanID != "" && s.ID == subLoanID {
			return s.ID, nil
		}
	}
	if subLoanID == "" {
		return "", servicing.ErrLoanNotActive
	}
	return "", servicing.ErrSubLoanNotFound
}

func (h *Handler) rejectPayment(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	PaymentsRejected.WithLabelValues(code).Inc()
	if status == http.StatusInternalServerError {
		h.writeServiceError(w, r, err)
		return
	}
	writeError(w, status, errorMessage(err), err)
}

// MarkOverdue runs the overdue sweep on demand.
func (h *Handler) MarkOverdue(w http.ResponseWriter, r *http.Request) {
	var req MarkOverdueRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	if req.AsOf.IsZero() {
		req.AsOf = h.today()
	}

	n, err := h.svc.MarkOverdue(r.Context(), actorFrom(r.Context()), req.AsOf)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	OverdueMarked.Add(float64(n))
	if n > 0 {
		h.invalidatePortfolio(r.Context())
	}
	writeJSON(w, http.StatusOK, MarkOverdueDTO{AsOf: req.AsOf, Updated: n})
}

// =============================================================================
// CLOSURE HANDLERS
// =============================================================================

func (h *Handler) ListClosures(w http.ResponseWriter, r *http.Request) {
	closures, err := h.svc.ListClosures(r.Context(), actorFrom(r.Context()), r.URL.Query().Get("manager_id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]CashClosureDTO, len(closures))
	for i, c := range closures {
		dtos[i] = toClosureDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CloseDay(w http.ResponseWriter, r *http.Request) {
	var req CloseDayRequest
	if !h.decode(w, r, &req) {
		return
	}

	closure, err := h.svc.CloseDay(r.Context(), actorFrom(r.Context()), servicing.CloseDayRequest{
		ManagerID: req.ManagerID,
		Date:      req.Date,
		Expenses:  req.Expenses,
		Notes:     req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClosureDTO(closure))
}

// =============================================================================
// PUBLIC LOOKUP
// =============================================================================

// LookupLoans is the borrower self-service view. Document and phone both
// have to match; a mismatch looks exactly like an unknown document.
func (h *Handler) LookupLoans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loans, err := h.svc.LookupLoans(r.Context(), q.Get("document"), q.Get("phone"))
	if err != nil {
		if errors.Is(err, servicing.ErrClientNotFound) {
			writeError(w, http.StatusNotFound, "no loans found for that document and phone", nil)
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]LoanLookupDTO, len(loans))
	for i, l := range loans {
		dtos[i] = toLookupDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthDTO{Status: "ok", Store: "ok"}
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			h.log.Error("store ping failed", zap.Error(err))
			resp = HealthDTO{Status: "degraded", Store: "unreachable"}
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst. Unknown fields and trailing data are
// rejected. It writes the 400 itself and reports whether to continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body", errors.New("unexpected data after JSON object"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: codeFor(status)}
	if err != nil {
		var ve *servicing.ValidationError
		var op *servicing.OverpaymentError
		switch {
		case errors.As(err, &ve):
			resp.Details = map[string]string{"field": ve.Field, "message": ve.Message}
		case errors.As(err, &op):
			resp.Details = map[string]string{
				"sub_loan_id": op.SubLoanID,
				"remaining":   op.Remaining.String(),
				"requested":   op.Requested.String(),
			}
		default:
			resp.Details = err.Error()
		}
	}
	writeJSON(w, status, resp)
}

// statusFor maps servicing errors to an HTTP status and error code.
func statusFor(err error) (int, string) {
	var status int
	switch {
	case errors.Is(err, servicing.ErrForbidden):
		status = http.StatusForbidden
	case servicing.IsNotFound(err):
		status = http.StatusNotFound
	case servicing.IsConflict(err):
		status = http.StatusConflict
	case servicing.IsClientError(err):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}
	return status, codeFor(status)
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return "unavailable"
	}
	return "internal"
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, status, "internal error", nil)
		return
	}
	writeError(w, status, errorMessage(err), err)
}

// errorMessage is the short top-level message; details carry the rest.
func errorMessage(err error) string {
	var ve *servicing.ValidationError
	if errors.As(err, &ve) {
		return fmt.Sprintf("invalid %s", ve.Field)
	}
	return err.Error()
}
