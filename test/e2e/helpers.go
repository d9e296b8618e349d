package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/legalkit/lexor/pkg/api"
	"github.com/legalkit/lexor/pkg/models"
)

// httpResult is one API exchange as seen by the client.
type httpResult struct {
	Status int
	Header http.Header
	Body   []byte
}

// do sends one JSON request authenticated with the given secret. An empty
// secret sends no credential header at all.
func (app *TestApp) do(method, path, secret string, body any) httpResult {
	app.t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(app.t, err)
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, app.BaseURL+path, reader)
	require.NoError(app.t, err)
	if secret != "" {
		req.Header.Set(app.Config.Server.CredentialHeader, secret)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(app.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(app.t, err)
	return httpResult{Status: resp.StatusCode, Header: resp.Header, Body: raw}
}

// SubmitQuery posts a query and decodes the workflow result. Timeouts also
// carry a result body, so the decode covers 408 as well as 200.
func (app *TestApp) SubmitQuery(secret string, body map[string]any) (int, *models.WorkflowResult) {
	app.t.Helper()
	res := app.do(http.MethodPost, "/api/v1/queries", secret, body)
	var result models.WorkflowResult
	require.NoError(app.t, json.Unmarshal(res.Body, &result), "body: %s", res.Body)
	return res.Status, &result
}

// Snapshot fetches the durable view of a trace.
func (app *TestApp) Snapshot(secret, traceID string) (int, *api.SnapshotResponse) {
	app.t.Helper()
	res := app.do(http.MethodGet, "/api/v1/queries/"+traceID, secret, nil)
	var snap api.SnapshotResponse
	require.NoError(app.t, json.Unmarshal(res.Body, &snap), "body: %s", res.Body)
	return res.Status, &snap
}

// CancelTrace posts a cancellation for a trace.
func (app *TestApp) CancelTrace(secret, traceID string) httpResult {
	app.t.Helper()
	return app.do(http.MethodPost, "/api/v1/queries/"+traceID+"/cancel", secret, nil)
}

// PostFeedback posts to one of the feedback endpoints (kind is user,
// expert, or entity) and decodes the response.
func (app *TestApp) PostFeedback(secret, kind string, body map[string]any) (int, *api.FeedbackResponse) {
	app.t.Helper()
	res := app.do(http.MethodPost, "/api/v1/feedback/"+kind, secret, body)
	var fb api.FeedbackResponse
	require.NoError(app.t, json.Unmarshal(res.Body, &fb), "body: %s", res.Body)
	return res.Status, &fb
}

// findUsageRow returns the first audit row matching method and route
// pattern, failing the test when none exists.
func findUsageRow(t *testing.T, rows []models.UsageRecord, method, endpoint string) models.UsageRecord {
	t.Helper()
	for _, row := range rows {
		if row.Method == method && row.Endpoint == endpoint {
			return row
		}
	}
	t.Fatalf("no %s %s usage row in %v", method, endpoint, rows)
	return models.UsageRecord{}
}

// errorCode extracts the machine-readable error code from a refusal body.
func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &resp), "body: %s", body)
	return resp.Error
}

// WaitForUsageRows polls until the fire-and-forget audit writer has landed
// at least n rows.
func (app *TestApp) WaitForUsageRows(n int) []models.UsageRecord {
	app.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		rows := app.Usage.Rows()
		if len(rows) >= n {
			return rows
		}
		if time.Now().After(deadline) {
			app.t.Fatalf("expected %d usage rows, have %d", n, len(rows))
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// RunningTraceID polls until exactly one admission record is running and
// returns its trace id. Used against requests parked inside the pipeline.
func (app *TestApp) RunningTraceID() string {
	app.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if ids := app.Store.Running(); len(ids) == 1 {
			return ids[0]
		}
		if time.Now().After(deadline) {
			app.t.Fatal("no single running trace appeared")
			return ""
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Scripted responses shared across scenarios. The fixture question is
// whether a tenant may withdraw from a contract under art. 1373 c.c.
const (
	happyQuery = "Il conduttore può recedere dal contratto ai sensi dell'art. 1373 c.c.?"

	understandingJSON = `{
		"intent": "norm-search",
		"intent_confidence": 0.9,
		"entities": [],
		"concepts": ["recesso unilaterale"],
		"norm_references": ["art. 1373 c.c."],
		"jurisdiction": "IT",
		"overall_confidence": 0.85
	}`

	happyPlanJSON = `{
		"agents": [
			{"agent": "graph", "rewrites": ["recesso unilaterale art. 1373"]},
			{"agent": "http", "rewrites": ["art. 1373 c.c."]}
		],
		"experts": ["literal", "systemic-teleological"],
		"synthesis_mode": "convergent",
		"iteration_budget": 1,
		"rationale": "single-pass norm lookup"
	}`

	literalOpinionJSON = `{
		"interpretation": "Il recesso è esercitabile finché il contratto non ha avuto un principio di esecuzione.",
		"conclusion_label": "recesso ammesso con preavviso",
		"legal_bases": [{"citation": "art. 1373 c.c.", "role": "primary", "weight": 0.9}],
		"reasoning_steps": ["Lettura testuale dell'art. 1373 c.c."],
		"confidence": 0.9
	}`

	systemicOpinionJSON = `{
		"interpretation": "La facoltà di recesso va letta nel sistema della risoluzione consensuale.",
		"conclusion_label": "Recesso Ammesso Con Preavviso",
		"legal_bases": [{"citation": "art. 1373 c.c.", "role": "primary", "weight": 0.8}],
		"reasoning_steps": ["Collocazione sistematica nel titolo II"],
		"confidence": 0.88
	}`

	happySynthesisJSON = `{
		"content": "Il recesso unilaterale è ammesso finché il contratto non ha avuto un principio di esecuzione (art. 1373 c.c.).",
		"provenance": [
			{"text": "Il recesso è esercitabile prima dell'esecuzione.", "source_ids": ["norm:cc:art1373"], "expert_tags": ["literal"]},
			{"text": "Claim inventato senza fonte.", "source_ids": ["norm:cc:art9999"], "expert_tags": ["literal"]}
		]
	}`
)

// scriptHappyPath loads the five-entry script of a clean single-iteration
// run: confident understanding, a two-agent plan, two agreeing experts, and
// a synthesis carrying one well-sourced claim plus one fabricated one.
func scriptHappyPath(app *TestApp) {
	app.Gateway.OnUnderstanding(GatewayEntry{JSON: understandingJSON})
	app.Gateway.OnPlan(GatewayEntry{JSON: happyPlanJSON})
	app.Gateway.OnExpert(models.ExpertLiteral, GatewayEntry{JSON: literalOpinionJSON})
	app.Gateway.OnExpert(models.ExpertSystemic, GatewayEntry{JSON: systemicOpinionJSON})
	app.Gateway.OnSynthesis(GatewayEntry{JSON: happySynthesisJSON})
}
