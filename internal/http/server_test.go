package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgetsync/internal/core"
	"budgetsync/internal/localstore"
	"budgetsync/internal/log"
	"budgetsync/internal/middleware/ratelimit"
	"budgetsync/internal/remote"
	"budgetsync/internal/remote/memory"
	"budgetsync/internal/services"
)

type mapBackups map[string][]byte

func (b mapBackups) Put(_ context.Context, name string, data []byte) (string, error) {
	b[name] = data
	return "mem://" + name, nil
}

func (b mapBackups) Fetch(_ context.Context, uri string) ([]byte, error) {
	return b[strings.TrimPrefix(uri, "mem://")], nil
}

func testLogger() *log.Logger {
	return log.New(log.Config{Output: io.Discard})
}

func coordinatorConfig() services.CoordinatorConfig {
	return services.CoordinatorConfig{StorageKey: "budgetAppData", SettleDelay: time.Millisecond}
}

func newTestServer(t *testing.T, rs services.RemoteStore, backups services.BackupStore, limit ratelimit.Config) (*Server, *services.Ledger) {
	t.Helper()
	local := localstore.New(localstore.NewMemoryBackend(0))
	coord := services.NewCoordinator(rs, local, coordinatorConfig())
	ledger := services.NewLedger(coord, nil, backups, core.DeviceIdentity{SessionID: "s1", Name: "Desktop"})
	ledger.Open(context.Background())
	t.Cleanup(ledger.Close)

	srv := NewServer(":0", Dependencies{Ledger: ledger, Logger: testLogger(), RateLimit: limit})
	srv.SetReady(true)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, ledger
}

func offlineServer(t *testing.T) (*Server, *services.Ledger) {
	return newTestServer(t, nil, nil, ratelimit.Config{RequestsPerMinute: 1000})
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeWrite(t *testing.T, rec *httptest.ResponseRecorder) writeResponse {
	t.Helper()
	var out writeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndReadiness(t *testing.T) {
	srv, _ := offlineServer(t)

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/readyz", "").Code)

	srv.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodGet, "/readyz", "").Code)

	rec := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := offlineServer(t)

	rec := do(t, srv, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["cloudConnected"])
	assert.Equal(t, string(services.StateOffline), body["state"])
	device, ok := body["device"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "s1", device["sessionId"])
}

func TestOperationLifecycle(t *testing.T) {
	srv, ledger := offlineServer(t)

	rec := do(t, srv, http.MethodPost, "/api/operations",
		`{"type":"EXPENSE","amount":"12,50","person":" anna ","category":"food","date":"2025-03-14"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decodeWrite(t, rec)
	assert.True(t, out.Synced)
	assert.False(t, out.Degraded)
	assert.Empty(t, out.Warning)
	require.NotNil(t, out.Operation)
	assert.Equal(t, "anna", out.Operation.Person)
	assert.True(t, out.Operation.Amount.Equal(core.NewMoney(12.5).Decimal))
	assert.Len(t, ledger.Document().Operations, 1)

	rec = do(t, srv, http.MethodGet, "/api/document", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"food"`)

	id := out.Operation.ID
	target := "/api/operations/" + jsonNumber(id)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodDelete, target, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodDelete, target, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodDelete, "/api/operations/abc", "").Code)
}

func jsonNumber(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestOperationValidation(t *testing.T) {
	srv, ledger := offlineServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown type", `{"type":"gift","amount":1,"person":"a","category":"food"}`, http.StatusBadRequest},
		{"zero amount", `{"type":"expense","amount":0,"person":"a","category":"food"}`, http.StatusBadRequest},
		{"missing person", `{"type":"expense","amount":1,"category":"food"}`, http.StatusBadRequest},
		{"malformed", `{"type":`, http.StatusBadRequest},
		{"empty", ``, http.StatusBadRequest},
		{"trailing", `{"type":"expense"} {}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/operations", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
	assert.Empty(t, ledger.Document().Operations)
}

func TestCategoriesGoalsLimitsSettings(t *testing.T) {
	srv, ledger := offlineServer(t)

	rec := do(t, srv, http.MethodPost, "/api/categories", `{"type":"expense","name":"Eating Out"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "eating_out", decodeWrite(t, rec).ID)
	assert.Equal(t, http.StatusConflict, do(t, srv, http.MethodPost, "/api/categories", `{"type":"expense","name":"eating out"}`).Code)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodDelete, "/api/categories/expense/eating_out", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodDelete, "/api/categories/gift/eating_out", "").Code)

	rec = do(t, srv, http.MethodPost, "/api/goals", `{"name":"Bike","target":100,"deadline":"2030-01-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	goal := decodeWrite(t, rec).Goal
	require.NotNil(t, goal)
	contrib := "/api/goals/" + jsonNumber(goal.ID) + "/contributions"
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, contrib, `{"amount":30}`).Code)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, contrib, `{"amount":"20"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, contrib, `{"amount":-5}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodPost, "/api/goals/999/contributions", `{"amount":1}`).Code)
	stored, ok := ledger.Document().Goal(goal.ID)
	require.True(t, ok)
	assert.True(t, stored.Current.Equal(core.NewMoney(50).Decimal))
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodDelete, "/api/goals/"+jsonNumber(goal.ID), "").Code)

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodPut, "/api/limits/food", `{"amount":200}`).Code)
	assert.Contains(t, ledger.Document().Limits, "food")
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodDelete, "/api/limits/food", "").Code)
	assert.NotContains(t, ledger.Document().Limits, "food")

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodPut, "/api/settings/theme", `{"value":"dark"}`).Code)
	assert.Equal(t, "dark", ledger.Document().Settings[core.SettingTheme])
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPut, "/api/settings/theme", `{"other":1}`).Code)
}

func TestAnalyticsAndDevices(t *testing.T) {
	srv, _ := offlineServer(t)

	require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/operations",
		`{"type":"income","amount":100,"person":"bob","category":"salary"}`).Code)

	rec := do(t, srv, http.MethodGet, "/api/analytics?period=all&person=bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var a services.Analytics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.Equal(t, 1, a.Report.TotalOperations)
	assert.True(t, a.Report.TotalIncome.Equal(core.NewMoney(100).Decimal))

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/analytics?period=decade", "").Code)

	rec = do(t, srv, http.MethodGet, "/api/devices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"devices":[]}`, rec.Body.String())
}

func TestExportImportBackup(t *testing.T) {
	backups := mapBackups{}
	srv, ledger := newTestServer(t, nil, backups, ratelimit.Config{RequestsPerMinute: 1000})

	require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/operations",
		`{"type":"expense","amount":5,"person":"a","category":"food"}`).Code)
	before := ledger.Document()

	rec := do(t, srv, http.MethodGet, "/api/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "budget-export-")
	exported := rec.Body.String()

	rec = do(t, srv, http.MethodPost, "/api/backup", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var backup map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &backup))

	_, err := ledger.DeleteOperation(context.Background(), before.Operations[0].ID)
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/import", "{broken").Code)
	assert.Empty(t, ledger.Document().Operations)

	rec = do(t, srv, http.MethodPost, "/api/import?uri="+backup["uri"], "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, before.Equal(ledger.Document()))

	rec = do(t, srv, http.MethodPost, "/api/import", exported)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, before.Equal(ledger.Document()))

	plain, _ := offlineServer(t)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, plain, http.MethodPost, "/api/backup", "").Code)
}

func TestReplaceAndReloadDocument(t *testing.T) {
	srv, ledger := offlineServer(t)

	rec := do(t, srv, http.MethodPut, "/api/document",
		`{"operations":{"0":{"id":7,"type":"expense","amount":3,"person":"a","category":"food","date":"2025-01-02"}}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, ledger.Document().Operations, 1)
	assert.Equal(t, int64(7), ledger.Document().Operations[0].ID)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPut, "/api/document", "[").Code)

	rec = do(t, srv, http.MethodPost, "/api/document/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":7`)
}

func TestDegradedWriteIsSuccess(t *testing.T) {
	hub := memory.NewHub()
	conn := hub.Connect()
	t.Cleanup(func() { _ = conn.Close() })
	client := remote.NewClient(conn, remote.ClientConfig{FamilyID: "fam", Timeout: time.Second})

	srv, ledger := newTestServer(t, client, nil, ratelimit.Config{RequestsPerMinute: 1000})
	require.True(t, ledger.Coordinator().CloudAvailable())

	conn.SetOffline(true)
	rec := do(t, srv, http.MethodPost, "/api/operations",
		`{"type":"expense","amount":5,"person":"a","category":"food"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	out := decodeWrite(t, rec)
	assert.False(t, out.Synced)
	assert.True(t, out.Degraded)
	assert.Equal(t, syncDelayedWarning, out.Warning)
	assert.Len(t, ledger.Document().Operations, 1, "kept locally")
}

func TestRateLimitAndSuspiciousRequests(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil, ratelimit.Config{RequestsPerMinute: 2})

	body := `{"type":"expense","amount":1,"person":"a","category":"food"}`
	assert.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/operations", body).Code)
	assert.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/operations", body).Code)
	rec := do(t, srv, http.MethodPost, "/api/operations", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/document", "").Code, "reads are not limited")

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/.env", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/nope", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, srv, http.MethodGet, "/api/operations/5", "").Code)
}

func TestEventStream(t *testing.T) {
	srv, _ := offlineServer(t)
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan [2]string, 16)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		var name string
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				events <- [2]string{name, strings.TrimPrefix(line, "data: ")}
			}
		}
	}()

	next := func() [2]string {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed")
			return ev
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
		}
		return [2]string{}
	}

	assert.Equal(t, eventStatus, next()[0])
	assert.Equal(t, eventDocument, next()[0])

	post, err := http.Post(ts.URL+"/api/operations", "application/json",
		bytes.NewBufferString(`{"type":"expense","amount":9,"person":"a","category":"food"}`))
	require.NoError(t, err)
	post.Body.Close()
	require.Equal(t, http.StatusCreated, post.StatusCode)

	for {
		ev := next()
		if ev[0] == eventDocument && strings.Contains(ev[1], `"amount":9`) {
			break
		}
	}
	cancel()
}
