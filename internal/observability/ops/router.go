package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ewired/actionable-tabs/internal/metrics"
	"github.com/ewired/actionable-tabs/internal/rules"
	"github.com/ewired/actionable-tabs/internal/storage"
	"github.com/ewired/actionable-tabs/internal/task/engine"
	logx "github.com/ewired/actionable-tabs/pkg/logx"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Backend is the engine API as seen from HTTP. The app implements it by
// funnelling each call through its event loop.
type Backend interface {
	Status(ctx context.Context) (engine.Status, error)
	Settings(ctx context.Context) (rules.Settings, error)
	MutateRules(ctx context.Context, rs []rules.Rule) (rules.Settings, error)
	TriggerManualExecution(ctx context.Context, mode, direction string) (engine.ManualResult, error)
	ClearAllActionableMarks(ctx context.Context) (int, error)
	History() []engine.PassResult
	RecentMoves(ctx context.Context, limit int) ([]storage.MoveRecord, error)
}

const defaultMovesLimit = 50

type handler struct {
	b   Backend
	log logx.Logger
}

// Router builds the ops routes. gatherer may be nil to omit /metrics.
func Router(b Backend, gatherer prometheus.Gatherer, pprof bool, log logx.Logger) http.Handler {
	h := &handler{b: b, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", h.status)
	r.Route("/rules", func(r chi.Router) {
		r.Get("/", h.getRules)
		r.Put("/", h.putRules)
	})
	r.Post("/trigger", h.trigger)
	r.Post("/marks/clear", h.clearMarks)
	r.Get("/history", h.history)
	r.Get("/moves", h.moves)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))
	}
	if pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.b.Status(r.Context())
	if err != nil {
		// Partial status is still useful; report the host error alongside it.
		writeJSON(w, http.StatusOK, struct {
			engine.Status
			HostError string `json:"hostError"`
		}{st, err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) getRules(w http.ResponseWriter, r *http.Request) {
	st, err := h.b.Settings(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// putRules accepts either a bare rule array or a {"rules": [...]} envelope.
func (h *handler) putRules(w http.ResponseWriter, r *http.Request) {
	raw := json.RawMessage{}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var rs []rules.Rule
	if err := json.Unmarshal(raw, &rs); err != nil {
		var env rules.Settings
		if err := json.Unmarshal(raw, &env); err != nil {
			writeError(w, http.StatusBadRequest, "expected a rule list")
			return
		}
		rs = env.Rules
	}
	st, err := h.b.MutateRules(r.Context(), rs)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) trigger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode, dir := q.Get("mode"), q.Get("direction")
	if mode == "" {
		mode = string(rules.QueueLeftmost)
	}
	if dir == "" {
		dir = string(rules.DirectionLeft)
	}
	res, err := h.b.TriggerManualExecution(r.Context(), mode, dir)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) clearMarks(w http.ResponseWriter, r *http.Request) {
	n, err := h.b.ClearAllActionableMarks(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (h *handler) history(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.b.History())
}

func (h *handler) moves(w http.ResponseWriter, r *http.Request) {
	limit := defaultMovesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	recs, err := h.b.RecentMoves(r.Context(), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if recs == nil {
		recs = []storage.MoveRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// fail maps engine errors to status codes.
func (h *handler) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrEmptyRuleSet),
		errors.Is(err, engine.ErrInvalidRule),
		errors.Is(err, engine.ErrInvalidMode),
		errors.Is(err, engine.ErrInvalidDirection):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrPersistence),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	if code >= 500 {
		h.log.Warn("ops request failed", logx.Err(err))
	}
	writeError(w, code, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
