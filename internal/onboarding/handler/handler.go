// Package handler exposes the onboarding HTTP surface: the authenticated
// webhook that receives new-hire events and a read-only run lookup.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"onboarder/internal/employee"
	"onboarder/internal/onboarding/models"
	"onboarder/internal/platform/middleware"
	"onboarder/internal/queue"
	dErrors "onboarder/pkg/domain-errors"
	"onboarder/pkg/platform/httputil"
	"onboarder/pkg/platform/sentinel"
)

// Service is the orchestration surface the handler drives.
type Service interface {
	HandleNewHire(ctx context.Context, event models.NewHireEvent) (*models.PhaseOneResult, error)
	HandleDeferred(ctx context.Context, msg queue.Message) error
}

// RunReader looks up persisted runs.
type RunReader interface {
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
}

type Handler struct {
	service   Service
	runs      RunReader
	logger    *slog.Logger
	jwtSecret string
}

func New(service Service, runs RunReader, jwtSecret string, logger *slog.Logger) *Handler {
	return &Handler{
		service:   service,
		runs:      runs,
		logger:    logger,
		jwtSecret: jwtSecret,
	}
}

// Register mounts the onboarding routes.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	if h.jwtSecret != "" {
		router.Use(middleware.RequireJWT(h.jwtSecret, h.logger))
	}
	router.Post("/v1/events", h.handleEvent)
	router.Get("/v1/runs/{id}", h.handleGetRun)

	r.Mount("/", router)
}

// eventEnvelope is a shape probe over the two inbound payloads: new-hire
// notifications carry employeeData, deferred messages carry user_email.
type eventEnvelope struct {
	TicketKey    string           `json:"ticketKey"`
	EmployeeData *employee.Record `json:"employeeData"`
	UserEmail    string           `json:"user_email"`
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeFailure(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	var envelope eventEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		writeFailure(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	switch {
	case envelope.EmployeeData != nil:
		result, err := h.service.HandleNewHire(ctx, models.NewHireEvent{
			TicketKey:    envelope.TicketKey,
			EmployeeData: *envelope.EmployeeData,
		})
		if err != nil {
			h.logger.ErrorContext(ctx, "new-hire event failed", "ticket", envelope.TicketKey, "error", err)
			writeFailure(w, err)
			return
		}
		writeSuccess(w, result)

	case envelope.UserEmail != "":
		var msg queue.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			writeFailure(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid deferred message"))
			return
		}
		if err := h.service.HandleDeferred(ctx, msg); err != nil {
			h.logger.ErrorContext(ctx, "deferred event failed", "email", msg.UserEmail, "error", err)
			writeFailure(w, err)
			return
		}
		writeSuccess(w, map[string]string{"email": msg.UserEmail})

	default:
		writeFailure(w, dErrors.New(dErrors.CodeBadRequest, "unknown event type"))
	}
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, dErrors.New(dErrors.CodeBadRequest, "invalid run id"))
		return
	}
	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			httputil.WriteJSON(w, http.StatusNotFound, response{Success: false, Error: "run not found"})
			return
		}
		writeFailure(w, err)
		return
	}
	writeSuccess(w, run)
}

type response struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeSuccess(w http.ResponseWriter, result any) {
	httputil.WriteJSON(w, http.StatusOK, response{Success: true, Result: result})
}

// writeFailure keeps the event response contract: 400 when the request
// itself was refused, 500 when a run started and failed. Downstream detail
// stays in the logs.
func writeFailure(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	if code != dErrors.CodeBadRequest && code != dErrors.CodeValidation {
		httputil.WriteJSON(w, http.StatusInternalServerError, response{Success: false, Error: "onboarding failed"})
		return
	}

	msg := string(code)
	var de *dErrors.Error
	if errors.As(err, &de) {
		msg = de.Description
	}
	httputil.WriteJSON(w, http.StatusBadRequest, response{Success: false, Error: msg})
}
