package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/contentforge/internal/cascade"
	"github.com/TobiSchelling/contentforge/internal/content"
	"github.com/TobiSchelling/contentforge/internal/database"
	"github.com/TobiSchelling/contentforge/internal/generate"
	"github.com/TobiSchelling/contentforge/internal/history"
	"github.com/TobiSchelling/contentforge/internal/llm"
)

// articleProvider returns a valid article with a fresh title per call.
type articleProvider struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *articleProvider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}

	body := strings.Repeat("word ", 950) + "\n\n## Resources\n\n" +
		"- [one](https://a.example/1)\n- [two](https://b.example/2)\n- [three](https://c.example/3)\n"
	data, _ := json.Marshal(map[string]string{
		"title":   fmt.Sprintf("Article number %d", p.calls),
		"excerpt": "An excerpt.",
		"body":    body,
	})
	return &llm.Response{Provider: "stub", Text: string(data)}, nil
}

type fixture struct {
	srv      *Server
	store    *history.Store
	provider *articleProvider
	db       *database.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := history.Open(context.Background(), db.History(), history.DefaultRules())
	require.NoError(t, err)

	p := &articleProvider{}
	inv := cascade.New(
		[]llm.Descriptor{{ID: "stub", Kind: llm.KindOllama, Enabled: true, Priority: 1, Model: "m"}},
		func(llm.Descriptor) (llm.Provider, error) { return p, nil },
	)
	opts := generate.DefaultOptions()
	opts.Backoff = time.Millisecond
	ctrl := generate.New(inv, store, opts)

	return &fixture{srv: New(ctrl, store, inv, db), store: store, provider: p, db: db}
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do("GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestGenerateRoute(t *testing.T) {
	f := newFixture(t)

	rec := f.do("POST", "/api/generate", `{"topic": "budgeting", "constraints": {"minWords": 900}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Article number 1", got["title"])
	assert.Equal(t, "An excerpt.", got["excerpt"])
	assert.EqualValues(t, 3, got["embeddedReferenceCount"])
	assert.GreaterOrEqual(t, got["wordCount"], float64(900))
	assert.Equal(t, "stub", got["provider"])
	assert.NotContains(t, got, "bodyHtml")

	assert.Equal(t, 1, f.store.Len())
}

func TestGenerateRouteHTML(t *testing.T) {
	f := newFixture(t)

	rec := f.do("POST", "/api/generate?format=html", `{"topic": "budgeting"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got struct {
		BodyHTML string `json:"bodyHtml"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Contains(t, got.BodyHTML, "<h2>Resources</h2>")
	assert.Contains(t, got.BodyHTML, `<a href="https://a.example/1">`)
}

func TestGenerateRouteRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	for name, body := range map[string]string{
		"not json":      `{topic`,
		"missing topic": `{"context": {}}`,
		"blank topic":   `{"topic": "   "}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.do("POST", "/api/generate", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"kind":"InvalidRequest"`)
		})
	}
	assert.Equal(t, 0, f.provider.calls)
}

func TestGenerateRouteFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.err = &llm.UnavailableError{Provider: "stub", Reason: "no key"}

	rec := f.do("POST", "/api/generate", `{"topic": "budgeting"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var fail generate.Failure
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fail))
	assert.Equal(t, generate.KindProviderUnavailable, fail.Kind)
	assert.NotEmpty(t, fail.Message)
}

func TestGenerateRouteMethod(t *testing.T) {
	f := newFixture(t)
	rec := f.do("GET", "/api/generate", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHistoryRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.store.Record(ctx, history.Candidate{Title: fmt.Sprintf("Title %d", i), Preview: "p", Topic: "t"})
		require.NoError(t, err)
	}

	rec := f.do("GET", "/api/history?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []history.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "Title 2", records[0].Title)

	rec = f.do("GET", "/api/history?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do("GET", "/api/history/document", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc history.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Len(t, doc.Titles, 3)
	assert.Len(t, doc.Hashes, 3)

	rec = f.do("GET", "/api/history/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":3`)
}

func TestProvidersRoute(t *testing.T) {
	f := newFixture(t)
	f.do("POST", "/api/generate", `{"topic": "budgeting"}`)

	rec := f.do("GET", "/api/providers", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []providerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "stub", got[0].ID)
	assert.True(t, got[0].Sticky)
	assert.True(t, got[0].Configured)
	require.NotNil(t, got[0].Health)
	assert.Zero(t, got[0].Health.ConsecutiveFailures)
}

func TestRunsRoute(t *testing.T) {
	f := newFixture(t)
	title := "T"
	_, err := f.db.InsertRunReport(database.RunReport{RunID: "r1", Unit: "blog", Status: "ok", Title: &title, Duration: 1500 * time.Millisecond})
	require.NoError(t, err)

	rec := f.do("GET", "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"runId":"r1"`)
	assert.Contains(t, rec.Body.String(), `"durationMs":1500`)
}

func TestRunsRouteWithoutDB(t *testing.T) {
	store, err := history.Open(context.Background(), history.NewMemoryBackend(), history.DefaultRules())
	require.NoError(t, err)
	srv := New(stubGenerator{}, store, cascade.New(nil, nil), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/runs", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, req content.Request) (*content.Artifact, error) {
	return &content.Artifact{Title: req.Topic}, nil
}

func TestStatusFor(t *testing.T) {
	cases := map[generate.Kind]int{
		generate.KindInvalidRequest:          http.StatusBadRequest,
		generate.KindProviderUnavailable:     http.StatusServiceUnavailable,
		generate.KindProviderTransportError:  http.StatusGatewayTimeout,
		generate.KindProviderResponseInvalid: http.StatusBadGateway,
		generate.KindAllAttemptsExhausted:    http.StatusUnprocessableEntity,
		generate.Kind(""):                    http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusFor(kind), "kind %q", kind)
	}
}
