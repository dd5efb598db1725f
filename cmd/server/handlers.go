package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/difficulty"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/progress"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/quest"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/questline"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/report"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/reward"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// services is everything the HTTP layer calls into.
type services struct {
	attempts  quest.AttemptStore
	generator *questline.Generator
	tracker   *progress.Tracker
	exporter  *report.Exporter
	checks    map[string]func(context.Context) error
	log       *slog.Logger
}

func newServices(store backend, locker quest.Locker, rewards reward.Dispatcher, thresholds difficulty.Thresholds, concurrency int, logger *slog.Logger) (*services, error) {
	generator, err := questline.NewGenerator(questline.Config{
		Catalog:     store,
		Attempts:    store,
		Profiles:    store,
		Grades:      store,
		Analyses:    store,
		Locker:      locker,
		Resolver:    difficulty.NewResolver(thresholds),
		Concurrency: concurrency,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating generator: %w", err)
	}

	tracker, err := progress.NewTracker(progress.Config{
		Catalog:  store,
		Attempts: store,
		Rewards:  rewards,
		Locker:   locker,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating tracker: %w", err)
	}

	return &services{
		attempts:  store,
		generator: generator,
		tracker:   tracker,
		exporter:  report.NewExporter(store, store),
		checks:    map[string]func(context.Context) error{},
		log:       logger,
	}, nil
}

// newMux creates the HTTP router with health checks and the quest API.
func newMux(svc *services) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", svc.handleReadyz)
	mux.HandleFunc("POST /v1/users/{userID}/quest-lines", svc.handleGenerate)
	mux.HandleFunc("POST /v1/users/{userID}/quests/{questID}/steps/{stepID}/activities/{activityID}", svc.handleRecordActivity)
	mux.HandleFunc("GET /v1/users/{userID}/attempts", svc.handleListAttempts)
	mux.HandleFunc("GET /v1/users/{userID}/progress.xlsx", svc.handleExport)
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *services) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (s *services) handleGenerate(w http.ResponseWriter, r *http.Request) {
	result, err := s.generator.Generate(r.Context(), r.PathValue("userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type recordActivityBody struct {
	Status string `json:"status"`
}

func (s *services) handleRecordActivity(w http.ResponseWriter, r *http.Request) {
	var body recordActivityBody
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	status, ok := parseStepStatus(body.Status)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown status %q", body.Status)})
		return
	}

	out, err := s.tracker.RecordActivity(r.Context(), progress.Request{
		UserID:     r.PathValue("userID"),
		QuestID:    r.PathValue("questID"),
		StepID:     r.PathValue("stepID"),
		ActivityID: r.PathValue("activityID"),
		Status:     status,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *services) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := s.attempts.ListAttempts(r.Context(), r.PathValue("userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []quest.Attempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

func (s *services) handleExport(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	var buf bytes.Buffer
	if err := s.exporter.WriteProgress(r.Context(), &buf, userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="progress-%s.xlsx"`, userID))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// parseStepStatus reads the requested activity status. An empty status means
// the activity was completed.
func parseStepStatus(s string) (quest.StepStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "completed":
		return quest.StepCompleted, true
	case "inprogress", "in_progress":
		return quest.StepInProgress, true
	case "notstarted", "not_started":
		return quest.StepNotStarted, true
	default:
		return "", false
	}
}

func (s *services) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case quest.IsNotFound(err):
		status = http.StatusNotFound
	case quest.IsConflict(err):
		status = http.StatusConflict
	case quest.IsInvalidState(err):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
