// Package httpapi exposes the operator surface: card registration and
// top-ups, payment settlement, ledger queries, health and metrics.  The gate
// decision pipeline never goes through HTTP; it runs in-process.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"plategate/internal/ledger"
	"plategate/internal/payment"
	"plategate/internal/plate"
)

const defaultListLimit = 100

type Dependencies struct {
	Logger    *log.Logger
	Addr      string
	Payments  *payment.Service
	Ledger    ledger.Store
	Validator *plate.Validator

	// Metrics is the exposition handler, typically promhttp.Handler().
	// nil disables the endpoint.
	Metrics http.Handler
}

type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	mux        *http.ServeMux
	payments   *payment.Service
	ledger     ledger.Store
	validator  *plate.Validator
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:    d.Logger,
		mux:       mux,
		payments:  d.Payments,
		ledger:    d.Ledger,
		validator: d.Validator,
	}

	mux.HandleFunc("POST /v1/cards", s.handleRegisterCard)
	mux.HandleFunc("POST /v1/cards/topup", s.handleTopUp)
	mux.HandleFunc("GET /v1/cards/{id}", s.handleGetCard)
	mux.HandleFunc("POST /v1/payments", s.handlePayment)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /v1/unauthorized_exits", s.handleListUnauthorizedExits)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Cards ────────────────────────────────────────────────────────────────────

type registerCardRequest struct {
	CardID       string `json:"card_id"`
	Plate        string `json:"plate"`
	InitialCents int64  `json:"initial_cents"`
}

type cardResponse struct {
	CardID       string `json:"card_id"`
	Plate        string `json:"plate"`
	BalanceCents int64  `json:"balance_cents"`
	UpdatedAt    string `json:"updated_at"`
}

func toCardResponse(c ledger.Card) cardResponse {
	return cardResponse{
		CardID:       c.ID,
		Plate:        string(c.Plate),
		BalanceCents: c.BalanceCents,
		UpdatedAt:    c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleRegisterCard(w http.ResponseWriter, r *http.Request) {
	var req registerCardRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if req.CardID == "" {
		writeError(w, http.StatusBadRequest, "missing_card_id", "card_id is required")
		return
	}

	code, err := s.validator.Validate(req.Plate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_plate", err.Error())
		return
	}

	card, err := s.payments.RegisterCard(r.Context(), req.CardID, code, req.InitialCents)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrCardAlreadyRegistered):
			writeError(w, http.StatusConflict, "card_exists", err.Error())
		case errors.Is(err, payment.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
		default:
			s.internalError(w, "register card", err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, toCardResponse(card))
}

type topUpRequest struct {
	CardID      string `json:"card_id"`
	AmountCents int64  `json:"amount_cents"`
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	card, err := s.payments.TopUp(r.Context(), req.CardID, req.AmountCents)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
		case errors.Is(err, ledger.ErrCardNotFound):
			writeError(w, http.StatusNotFound, "card_not_found", err.Error())
		default:
			s.internalError(w, "top up", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, toCardResponse(card))
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.payments.Card(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrCardNotFound) {
			writeError(w, http.StatusNotFound, "card_not_found", err.Error())
			return
		}
		s.internalError(w, "get card", err)
		return
	}
	writeJSON(w, http.StatusOK, toCardResponse(card))
}

// ── Payments ─────────────────────────────────────────────────────────────────

type paymentRequest struct {
	CardID string `json:"card_id"`
}

type receiptResponse struct {
	CardID       string `json:"card_id"`
	Plate        string `json:"plate"`
	SessionID    int64  `json:"session_id"`
	FeeCents     int64  `json:"fee_cents"`
	BalanceCents int64  `json:"balance_cents"`
	ParkedSecs   int64  `json:"parked_seconds"`
	PaidAt       string `json:"paid_at"`
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	rcpt, err := s.payments.ProcessPayment(r.Context(), req.CardID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrCardNotFound):
			writeError(w, http.StatusNotFound, "card_not_found", err.Error())
		case errors.Is(err, ledger.ErrNoActiveSession):
			writeError(w, http.StatusConflict, "no_active_session", err.Error())
		case errors.Is(err, ledger.ErrAlreadyPaid):
			writeError(w, http.StatusConflict, "already_paid", err.Error())
		case errors.Is(err, payment.ErrInsufficientBalance):
			writeError(w, http.StatusPaymentRequired, "insufficient_balance", err.Error())
		default:
			s.internalError(w, "process payment", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, receiptResponse{
		CardID:       rcpt.CardID,
		Plate:        string(rcpt.Plate),
		SessionID:    rcpt.SessionID,
		FeeCents:     rcpt.FeeCents,
		BalanceCents: rcpt.BalanceCents,
		ParkedSecs:   int64(rcpt.Parked.Seconds()),
		PaidAt:       rcpt.PaidAt.UTC().Format(time.RFC3339),
	})
}

// ── Ledger queries ───────────────────────────────────────────────────────────

type sessionResponse struct {
	SessionID int64   `json:"session_id"`
	Plate     string  `json:"plate"`
	Paid      bool    `json:"paid"`
	InTime    string  `json:"in_time"`
	OutTime   *string `json:"out_time"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.ledger.ListSessions(r.Context(), listLimit(r))
	if err != nil {
		s.internalError(w, "list sessions", err)
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		resp := sessionResponse{
			SessionID: sess.ID,
			Plate:     string(sess.Plate),
			Paid:      sess.Paid,
			InTime:    sess.InTime.UTC().Format(time.RFC3339),
		}
		if sess.OutTime != nil {
			v := sess.OutTime.UTC().Format(time.RFC3339)
			resp.OutTime = &v
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

type unauthorizedExitResponse struct {
	Plate      string `json:"plate"`
	OccurredAt string `json:"occurred_at"`
}

func (s *Server) handleListUnauthorizedExits(w http.ResponseWriter, r *http.Request) {
	exits, err := s.ledger.ListUnauthorizedExits(r.Context(), listLimit(r))
	if err != nil {
		s.internalError(w, "list unauthorized exits", err)
		return
	}

	out := make([]unauthorizedExitResponse, 0, len(exits))
	for _, e := range exits {
		out = append(out, unauthorizedExitResponse{
			Plate:      string(e.Plate),
			OccurredAt: e.OccurredAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Printf("httpapi: %s: %v", op, err)
	writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
}

func listLimit(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 1000 {
		return defaultListLimit
	}
	return n
}
