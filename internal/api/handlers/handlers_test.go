package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infermed/backend/internal/evidence"
	"github.com/infermed/backend/internal/feedback"
	"github.com/infermed/backend/internal/llm"
	"github.com/infermed/backend/internal/query"
)

type fakeEngine struct {
	err      error
	answered int
	built    int
}

func (f *fakeEngine) BuildContext(_ context.Context, req query.Request) (evidence.Bundle, error) {
	f.built++
	if f.err != nil {
		return evidence.Bundle{}, f.err
	}
	return evidence.Bundle{Query: evidence.QueryContext{DrugA: req.DrugA, DrugB: req.DrugB, Mode: "patient"}}, nil
}

func (f *fakeEngine) Answer(ctx context.Context, req query.Request) (*query.Response, error) {
	f.answered++
	b, err := f.BuildContext(ctx, req)
	if err != nil {
		return nil, err
	}
	return &query.Response{ID: "q-1", CacheKey: "k", Bundle: b, Answer: &llm.Answer{Text: "Monitor INR."}}, nil
}

func (f *fakeEngine) CacheKey(q evidence.QueryContext) string { return q.DrugA + "|" + q.DrugB }

func (f *fakeEngine) Version() string { return "v1-test" }

func do(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func interactionApp(engine InteractionService) *fiber.App {
	app := fiber.New()
	app.Post("/interactions", NewInteractionHandler(engine).HandleInteraction)
	return app
}

func TestHandleInteraction_Answer(t *testing.T) {
	engine := &fakeEngine{}
	code, body := do(t, interactionApp(engine), "POST", "/interactions", `{"drug_a":"warfarin","drug_b":"fluconazole"}`)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "q-1", body["id"])
	assert.Equal(t, "Monitor INR.", body["answer"].(map[string]any)["text"])
	assert.Equal(t, 1, engine.answered)
}

func TestHandleInteraction_ContextOnly(t *testing.T) {
	engine := &fakeEngine{}
	code, body := do(t, interactionApp(engine), "POST", "/interactions", `{"drug_a":"warfarin","drug_b":"fluconazole","context_only":true}`)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "warfarin|fluconazole", body["cache_key"])
	assert.Equal(t, "v1-test", body["version"])
	assert.Equal(t, 0, engine.answered)
	assert.Equal(t, 1, engine.built)
}

func TestHandleInteraction_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: both drug names are required", query.ErrInvalidRequest), http.StatusBadRequest},
		{evidence.ErrNoSources, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		code, body := do(t, interactionApp(&fakeEngine{err: tc.err}), "POST", "/interactions", `{"drug_a":"a","drug_b":"b"}`)
		assert.Equal(t, tc.code, code, tc.err.Error())
		assert.NotEmpty(t, body["error"])
	}
}

func feedbackApp(t *testing.T) (*fiber.App, *feedback.Store) {
	t.Helper()
	store, err := feedback.New(context.Background(), nil, feedback.DefaultConfig(), nil)
	require.NoError(t, err)

	h := NewFeedbackHandler(store)
	app := fiber.New()
	app.Post("/feedback", h.RecordFeedback)
	app.Get("/feedback/stats", h.GetStats)
	app.Get("/reliability/:key", h.GetReliability)
	return app, store
}

func TestRecordFeedback(t *testing.T) {
	app, store := feedbackApp(t)

	code, body := do(t, app, "POST", "/feedback",
		`{"query_fingerprint":"fp","rating":0,"item_keys":["risk_flag:prr:a+b","risk_flag:prr:a+b"]}`)
	require.Equal(t, http.StatusCreated, code)

	rel := body["reliability"].(map[string]any)
	require.Len(t, rel, 1)
	assert.Less(t, rel["risk_flag:prr:a+b"].(float64), 1.0)
	assert.Less(t, store.ReliabilityOf("risk_flag:prr:a+b"), 1.0)

	code, body = do(t, app, "GET", "/reliability/risk_flag:prr:a+b", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "risk_flag:prr:a+b", body["key"])
	assert.Less(t, body["reliability"].(float64), 1.0)

	code, body = do(t, app, "GET", "/reliability/side_effect:unknown", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["reliability"])

	code, body = do(t, app, "GET", "/feedback/stats", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["total_feedback"])
	assert.Equal(t, 1.0, body["negative"])
}

func TestRecordFeedback_Rejects(t *testing.T) {
	app, _ := feedbackApp(t)

	cases := map[string]string{
		"missing rating":      `{"query_fingerprint":"fp"}`,
		"rating out of range": `{"query_fingerprint":"fp","rating":5}`,
		"no query":            `{"rating":1}`,
		"not json":            `{`,
	}
	for name, body := range cases {
		code, _ := do(t, app, "POST", "/feedback", body)
		assert.Equal(t, http.StatusBadRequest, code, name)
	}
}

var _ FeedbackService = (*feedback.Store)(nil)
