package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"goaltrack/goals"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(nil,
		goals.NewInMemoryRuleStore(),
		goals.NewInMemoryEventStore(),
		goals.NewInMemoryEvaluationStore(),
		goals.NewInMemoryImpactStore(),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func sequenceRuleBody() map[string]any {
	return map[string]any{
		"name":      "supplement after meal",
		"rule_type": "sequence",
		"rule_config": map[string]any{
			"events":    []map[string]any{{"name": "meal"}, {"name": "supplement"}},
			"min_hours": 0,
			"max_hours": 2,
		},
		"rolling_window_days":  7,
		"required_completions": 1,
	}
}

func createRule(t *testing.T, s *Server, body map[string]any) goals.GoalRule {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/api/v1/rules/", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create rule status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var rule goals.GoalRule
	decodeBody(t, rec, &rule)
	return rule
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestRuleLifecycle(t *testing.T) {
	s := newTestServer(t)

	rule := createRule(t, s, sequenceRuleBody())
	if rule.ID == "" {
		t.Fatal("created rule has no id")
	}
	if rule.Config.Sequence == nil || rule.Config.Sequence.MaxHours != 2 {
		t.Errorf("created rule config = %+v, want decoded sequence config", rule.Config)
	}

	rec := doJSON(t, s, http.MethodGet, "/api/v1/rules/"+rule.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get rule status = %d, want 200", rec.Code)
	}

	update := sequenceRuleBody()
	update["name"] = "renamed"
	rec = doJSON(t, s, http.MethodPut, "/api/v1/rules/"+rule.ID, update)
	if rec.Code != http.StatusOK {
		t.Errorf("update rule status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/rules/"+rule.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete rule status = %d, want 204", rec.Code)
	}
	rec = doJSON(t, s, http.MethodGet, "/api/v1/rules/"+rule.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get deleted rule status = %d, want 404", rec.Code)
	}
}

func TestCreateRuleRejectsBadConfig(t *testing.T) {
	s := newTestServer(t)

	body := sequenceRuleBody()
	body["rule_config"] = map[string]any{
		"events":    []map[string]any{{"name": "meal"}},
		"max_hours": 2,
	}
	rec := doJSON(t, s, http.MethodPost, "/api/v1/rules/", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a one-event sequence", rec.Code)
	}

	body = sequenceRuleBody()
	body["rule_type"] = "teleport"
	rec = doJSON(t, s, http.MethodPost, "/api/v1/rules/", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unknown rule type", rec.Code)
	}
}

func TestIngestEventTriggersEvaluation(t *testing.T) {
	s := newTestServer(t)
	createRule(t, s, sequenceRuleBody())

	now := time.Now().UTC()
	rec := doJSON(t, s, http.MethodPost, "/api/v1/events", map[string]any{
		"event_type":  "nutrition",
		"event_name":  "meal",
		"occurred_at": now.Add(-time.Hour).Format(time.RFC3339),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var ingest IngestResponse
	decodeBody(t, rec, &ingest)
	if ingest.Event.ID == "" {
		t.Error("ingested event has no server-assigned id")
	}
	if len(ingest.Evaluations) != 1 {
		t.Fatalf("evaluations = %d, want 1", len(ingest.Evaluations))
	}
	// A lone meal opens a pending window for the supplement.
	if len(ingest.Impacts) != 1 || ingest.Impacts[0].ImpactType != goals.ImpactWindowCreated {
		t.Errorf("impacts = %+v, want one window_created for the trigger", ingest.Impacts)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/events", map[string]any{
		"event_name":  "supplement",
		"occurred_at": now.Add(-30 * time.Minute).Format(time.RFC3339),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d, body = %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &ingest)
	if ingest.Evaluations[0].Status != goals.StatusCompleted {
		t.Errorf("status after pair = %s, want completed", ingest.Evaluations[0].Status)
	}
}

func TestIngestEventValidation(t *testing.T) {
	s := newTestServer(t)

	testCases := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{"occurred_at": time.Now().Format(time.RFC3339)}},
		{"missing occurred_at", map[string]any{"event_name": "meal"}},
		{"confidence out of range", map[string]any{
			"event_name":  "meal",
			"occurred_at": time.Now().Format(time.RFC3339),
			"confidence":  1.5,
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/api/v1/events", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestGoalStatusEndpoint(t *testing.T) {
	s := newTestServer(t)
	rule := createRule(t, s, sequenceRuleBody())

	rec := doJSON(t, s, http.MethodPost, "/api/v1/evaluate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("evaluate status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/goals/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Goals []struct {
			Rule       *goals.GoalRule       `json:"rule"`
			Evaluation *goals.GoalEvaluation `json:"evaluation"`
		} `json:"goals"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Goals) != 1 {
		t.Fatalf("goals = %d, want 1", len(resp.Goals))
	}
	if resp.Goals[0].Rule.ID != rule.ID {
		t.Errorf("rule id = %s, want %s", resp.Goals[0].Rule.ID, rule.ID)
	}
	if resp.Goals[0].Evaluation == nil || resp.Goals[0].Evaluation.Status != goals.StatusOffTrack {
		t.Errorf("evaluation = %+v, want off_track snapshot", resp.Goals[0].Evaluation)
	}
}

func TestWhatIfEndpoint(t *testing.T) {
	s := newTestServer(t)
	createRule(t, s, sequenceRuleBody())

	rec := doJSON(t, s, http.MethodPost, "/api/v1/what-if", map[string]any{
		"hypothetical_events": []map[string]any{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty what-if status = %d, want 400", rec.Code)
	}

	now := time.Now().UTC()
	rec = doJSON(t, s, http.MethodPost, "/api/v1/what-if", map[string]any{
		"hypothetical_events": []map[string]any{
			{"event_name": "meal", "occurred_at": now.Add(-3 * time.Hour).Format(time.RFC3339)},
			{"event_name": "supplement", "occurred_at": now.Add(-2 * time.Hour).Format(time.RFC3339)},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("what-if status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var sim goals.Simulation
	decodeBody(t, rec, &sim)
	if len(sim.Diff) != 1 {
		t.Fatalf("diff entries = %d, want 1", len(sim.Diff))
	}
	if sim.Diff[0].BaselineStatus != goals.StatusOffTrack || sim.Diff[0].SimulatedStatus != goals.StatusCompleted {
		t.Errorf("diff = %+v, want off_track -> completed", sim.Diff[0])
	}
}

func TestListRulesEmpty(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/rules/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var resp struct {
		Rules []*goals.GoalRule `json:"rules"`
	}
	decodeBody(t, rec, &resp)
	if resp.Rules == nil {
		t.Error("rules should encode as an empty array, not null")
	}
	if len(resp.Rules) != 0 {
		t.Errorf("rules = %d, want 0", len(resp.Rules))
	}
}

func TestRuleNotFoundResponses(t *testing.T) {
	s := newTestServer(t)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec := doJSON(t, s, method, "/api/v1/rules/nope", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s missing rule status = %d, want 404", method, rec.Code)
		}
	}

	rec := doJSON(t, s, http.MethodPut, "/api/v1/rules/nope", sequenceRuleBody())
	if rec.Code != http.StatusNotFound {
		t.Errorf("PUT missing rule status = %d, want 404", rec.Code)
	}
}

func TestIngestManyEventsKeepsSingleSnapshotPerPass(t *testing.T) {
	s := newTestServer(t)
	createRule(t, s, sequenceRuleBody())

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/events", map[string]any{
			"event_name":  "meal",
			"occurred_at": now.Add(-time.Duration(i+1) * time.Hour).Format(time.RFC3339),
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("ingest %d status = %d", i, rec.Code)
		}
		var ingest IngestResponse
		decodeBody(t, rec, &ingest)
		if len(ingest.Evaluations) != 1 {
			t.Fatalf("pass %d produced %d snapshots, want 1", i, len(ingest.Evaluations))
		}
	}
}
