package control

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lowaak/treadmill-pacer/internal/app"
	"github.com/lowaak/treadmill-pacer/internal/pacer"
	"github.com/lowaak/treadmill-pacer/internal/store"
	"github.com/lowaak/treadmill-pacer/internal/workout"
)

const requestTimeout = 5 * time.Second

// Sessions is the session controller the handler drives.
type Sessions interface {
	Start(segments []pacer.Segment, preChangeSeconds int) (string, error)
	Control(sessionID string, cmd app.Command) error
	State() pacer.SessionState
	Listen(ch chan pacer.SessionState) func()
	History(ctx context.Context, limit int) ([]store.HistoryEntry, error)
	Session(ctx context.Context, id string) (store.HistoryEntry, error)
}

// Plans resolves plan names and lists the library.
type Plans interface {
	ResolvePlan(name string) (workout.Workout, error)
	Workouts() []workout.Workout
}

// HandlerArg holds the arguments for NewHandler.
type HandlerArg struct {
	Sessions Sessions
	Plans    Plans
	Units    pacer.Units
	Logger   *log.Logger
}

// Handler serves the HTTP and WebSocket control surface.
type Handler struct {
	sessions Sessions
	plans    Plans
	units    pacer.Units
	logger   *log.Logger
}

func NewHandler(args HandlerArg) *Handler {
	if args.Sessions == nil {
		panic("Handler: sessions cannot be nil")
	}
	if args.Plans == nil {
		panic("Handler: plans cannot be nil")
	}
	if args.Logger == nil {
		panic("Handler: logger cannot be nil")
	}
	units := args.Units
	if units == "" {
		units = pacer.UnitsMPH
	}
	return &Handler{sessions: args.Sessions, plans: args.Plans, units: units, logger: args.Logger}
}

// Routes sets up all HTTP routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.Health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/plans", h.ListPlans)
		r.Get("/session", h.GetSession)
		r.Post("/session", h.StartSession)
		r.Get("/session/stream", h.Stream)
		r.Post("/session/{id}/{command}", h.ControlSession)
		r.Get("/history", h.ListHistory)
		r.Get("/history/{id}", h.GetHistoryEntry)
	})
	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Printf("Control: %s %s %d %v [%s]", r.Method, r.URL.Path, ww.Status(),
			time.Since(start).Round(time.Millisecond), middleware.GetReqID(r.Context()))
	})
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListPlans handles GET /v1/plans
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	workouts := h.plans.Workouts()
	plans := make([]PlanResponse, 0, len(workouts))
	for _, wo := range workouts {
		segments := wo.Segments(h.units)
		plans = append(plans, PlanResponse{
			Name:         wo.Name,
			Units:        h.units,
			TotalSeconds: pacer.TotalSeconds(segments),
			Segments:     segments,
		})
	}
	h.respondJSON(w, http.StatusOK, plans)
}

// GetSession handles GET /v1/session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.sessions.State())
}

// StartSession handles POST /v1/session
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	segments := req.Segments
	if req.Plan != "" {
		if len(segments) > 0 {
			h.respondError(w, http.StatusBadRequest, "invalid request body", "give either plan or segments")
			return
		}
		wo, err := h.plans.ResolvePlan(req.Plan)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, workout.ErrPlanNotFound) {
				status = http.StatusNotFound
			}
			h.respondError(w, status, "unknown plan", err.Error())
			return
		}
		segments = wo.Segments(h.units)
	}

	preChange := -1
	if req.PreChangeSeconds != nil {
		preChange = *req.PreChangeSeconds
		if preChange < 0 {
			h.respondError(w, http.StatusBadRequest, "invalid preChangeSeconds", "must not be negative")
			return
		}
	}

	id, err := h.sessions.Start(segments, preChange)
	if err != nil {
		if errors.Is(err, pacer.ErrEmptyPlan) {
			h.respondError(w, http.StatusBadRequest, "empty plan", err.Error())
			return
		}
		h.respondError(w, http.StatusServiceUnavailable, "failed to start session", err.Error())
		return
	}
	h.respondJSON(w, http.StatusCreated, StartSessionResponse{SessionID: id})
}

// ControlSession handles POST /v1/session/{id}/{command}
func (h *Handler) ControlSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	cmd := app.Command(chi.URLParam(r, "command"))

	if err := h.sessions.Control(sessionID, cmd); err != nil {
		switch {
		case errors.Is(err, app.ErrUnknownCommand):
			h.respondError(w, http.StatusNotFound, "unknown command", err.Error())
		case errors.Is(err, app.ErrSessionMismatch), errors.Is(err, app.ErrNoActiveSession):
			h.respondError(w, http.StatusConflict, "session not active", err.Error())
		default:
			h.respondError(w, http.StatusInternalServerError, "control failed", err.Error())
		}
		return
	}
	h.respondJSON(w, http.StatusOK, h.sessions.State())
}

// ListHistory handles GET /v1/history?limit=N
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "invalid limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	sessions, err := h.sessions.History(ctx, limit)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load history", err.Error())
		return
	}
	if sessions == nil {
		sessions = []store.HistoryEntry{}
	}
	h.respondJSON(w, http.StatusOK, HistoryResponse{Sessions: sessions})
}

// GetHistoryEntry handles GET /v1/history/{id}
func (h *Handler) GetHistoryEntry(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	entry, err := h.sessions.Session(ctx, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "session not found", err.Error())
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to load session", err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, entry)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Printf("Control: Failed to write response: %v", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, errorMsg, message string) {
	h.respondJSON(w, status, ErrorResponse{Error: errorMsg, Message: message})
}
