package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/difficulty"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/platform/config"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/progress"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/quest"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/questline"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/reward"
)

func newTestServices(t *testing.T) *services {
	t.Helper()
	store := quest.NewMemoryStore()
	store.ApplySeed(&quest.Seed{
		Subjects: []quest.Subject{{ID: "prf192", Code: "PRF192", Name: "Programming Fundamentals"}},
		Routes:   map[string][]string{"se": {"prf192"}},
		Classes:  map[string][]string{"k18": {}},
		Quests:   []quest.Quest{{ID: "q1", Title: "Learn PRF192", IsActive: true, SubjectID: "prf192"}},
		Steps: []quest.Step{
			{ID: "s1", QuestID: "q1", StepNumber: 1, Title: "Variables", ExperiencePoints: 10,
				Content: `{"activities":[{"activityId":"a1","type":"Reading","payload":{"experiencePoints":10}}]}`},
			{ID: "s2", QuestID: "q1", StepNumber: 2, Title: "Checkpoint", ExperiencePoints: 5,
				Content: `[{"activityId":"quiz","type":"Quiz","payload":{"experiencePoints":5}}]`},
		},
		Profiles: []quest.Profile{{UserID: "u1", RouteID: "se", ClassID: "k18"}, {UserID: "u2", RouteID: "se"}},
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := newServices(store, quest.NewMemoryLocker(), reward.NewMemoryDispatcher(), difficulty.DefaultThresholds(), 2, logger)
	require.NoError(t, err)
	return svc
}

func do(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	mux := newMux(newTestServices(t))

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "healthz returns 200",
			path:       "/healthz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ok"}`,
		},
		{
			name:       "readyz returns 200",
			path:       "/readyz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ready"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, mux, http.MethodGet, tt.path, "")

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestReadyz_FailingCheck(t *testing.T) {
	svc := newTestServices(t)
	svc.checks["database"] = func(context.Context) error { return errors.New("connection refused") }

	rec := do(t, newMux(svc), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestQuestFlow(t *testing.T) {
	mux := newMux(newTestServices(t))

	rec := do(t, mux, http.MethodPost, "/v1/users/u1/quest-lines", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res questline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Generated)

	rec = do(t, mux, http.MethodPost, "/v1/users/u1/quests/q1/steps/s1/activities/a1", `{"status":"Completed"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out progress.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 10, out.ExperienceAwarded)
	assert.Equal(t, quest.StepCompleted, out.StepStatus)

	// Empty body defaults to Completed.
	rec = do(t, mux, http.MethodPost, "/v1/users/u1/quests/q1/steps/s2/activities/quiz", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 100.0, out.CompletionPercentage)
	assert.Equal(t, quest.AttemptCompleted, out.AttemptStatus)

	rec = do(t, mux, http.MethodGet, "/v1/users/u1/attempts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Attempts []quest.Attempt `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Attempts, 1)
	assert.Equal(t, 15, list.Attempts[0].TotalExperienceEarned)

	rec = do(t, mux, http.MethodGet, "/v1/users/u1/progress.xlsx", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Attempts")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestErrorMapping(t *testing.T) {
	mux := newMux(newTestServices(t))

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"quest not started", http.MethodPost, "/v1/users/u1/quests/q1/steps/s1/activities/a1", "", http.StatusNotFound},
		{"unknown step", http.MethodPost, "/v1/users/u1/quests/q1/steps/nope/activities/a1", "", http.StatusNotFound},
		{"profile incomplete", http.MethodPost, "/v1/users/u2/quest-lines", "", http.StatusUnprocessableEntity},
		{"no profile", http.MethodPost, "/v1/users/ghost/quest-lines", "", http.StatusUnprocessableEntity},
		{"bad status", http.MethodPost, "/v1/users/u1/quests/q1/steps/s1/activities/a1", `{"status":"Done"}`, http.StatusBadRequest},
		{"bad body", http.MethodPost, "/v1/users/u1/quests/q1/steps/s1/activities/a1", `{`, http.StatusBadRequest},
		{"wrong method", http.MethodGet, "/v1/users/u1/quest-lines", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, mux, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestParseStepStatus(t *testing.T) {
	tests := []struct {
		in   string
		want quest.StepStatus
		ok   bool
	}{
		{"", quest.StepCompleted, true},
		{"completed", quest.StepCompleted, true},
		{"InProgress", quest.StepInProgress, true},
		{"not_started", quest.StepNotStarted, true},
		{"done", "", false},
	}
	for _, tt := range tests {
		got, ok := parseStepStatus(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseStepStatus(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNewLogger(t *testing.T) {
	logger := newLogger(config.LogConfig{Level: "debug", Format: "text"})
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug level should be enabled")
	}
	logger = newLogger(config.LogConfig{Level: "bogus", Format: "json"})
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("invalid level should fall back to info")
	}
}

func TestBuildServices_Memory(t *testing.T) {
	cfg := &config.Config{
		Store:      config.StoreConfig{Driver: config.DriverMemory},
		Difficulty: config.DifficultyConfig{HighGrade: 8, MidGrade: 5, LowProficiency: 0.5},
		Engine:     config.EngineConfig{GenerateConcurrency: 1},
	}
	svc, cleanup, err := buildServices(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer cleanup()
	assert.Empty(t, svc.checks)
}
