package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/tutorgraph/internal/config"
	"github.com/kalambet/tutorgraph/internal/provider"
	"github.com/kalambet/tutorgraph/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func (ts *testServer) recorded() []recordedRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]recordedRequest(nil), ts.requests...)
}

var ctx = context.Background()

func withNoColor(t *testing.T) {
	t.Helper()
	old := noColor
	noColor = true
	t.Cleanup(func() { noColor = old })
}

func TestIngestCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ingest"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestIngestRequest(t *testing.T) {
	req, err := ingestRequest("Mitochondria produce ATP", "", "Cells")
	if err != nil {
		t.Fatal(err)
	}
	if req.Text != "Mitochondria produce ATP" || req.Title != "Cells" || req.Source != "cli" || req.Path != "" {
		t.Errorf("text request = %+v", req)
	}

	path := filepath.Join(t.TempDir(), "lecture.txt")
	if err := os.WriteFile(path, []byte("notes"), 0o644); err != nil {
		t.Fatal(err)
	}
	req, err = ingestRequest("", path, "")
	if err != nil {
		t.Fatal(err)
	}
	if req.Path != path || req.Source != path || req.Text != "" {
		t.Errorf("file request = %+v", req)
	}

	if _, err := ingestRequest("", filepath.Join(t.TempDir(), "missing.pdf"), ""); err == nil {
		t.Error("accepted a missing file")
	}
}

func TestSendTurn(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/turns": `{"session_id":"s1","answer":"Yellow.","provider":"groq","intent":"QUERY","outcome":"answered","tools_used":[],"tool_rounds":0,"session_active":true}`,
	})

	res, err := sendTurn(ctx, ts.client(), "s1", "What color is the sun?")
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "Yellow." || res.Provider != "groq" || !res.SessionActive {
		t.Errorf("result = %+v", res)
	}

	reqs := ts.recorded()
	if len(reqs) != 1 || reqs[0].Path != "/v1/turns" || reqs[0].Auth != "Bearer test-token" {
		t.Fatalf("requests = %+v", reqs)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(reqs[0].Body), &body); err != nil {
		t.Fatal(err)
	}
	if body["session_id"] != "s1" || body["query"] != "What color is the sun?" {
		t.Errorf("body = %v", body)
	}
}

func TestRunChat(t *testing.T) {
	withNoColor(t)
	ts := newTestServer(t, map[string]string{
		"POST /v1/turns": `{"session_id":"s1","answer":"Hi there.","provider":"groq","intent":"QUERY","outcome":"answered","tools_used":[],"session_active":true}`,
	})

	var out bytes.Buffer
	in := strings.NewReader("hello\n\n   \nwhat now?\nQUIT\nnever sent\n")
	if err := runChat(ctx, ts.client(), "s1", in, &out); err != nil {
		t.Fatal(err)
	}

	reqs := ts.recorded()
	if len(reqs) != 2 {
		t.Fatalf("turns sent = %d, want 2", len(reqs))
	}
	for _, r := range reqs {
		if !strings.Contains(r.Body, `"session_id":"s1"`) {
			t.Errorf("turn body = %s", r.Body)
		}
	}
	if got := strings.Count(out.String(), "tutor> Hi there."); got != 2 {
		t.Errorf("answers printed = %d, output = %q", got, out.String())
	}
}

func TestRunChat_EndOfInput(t *testing.T) {
	withNoColor(t)
	ts := newTestServer(t, nil)

	var out bytes.Buffer
	if err := runChat(ctx, ts.client(), "s1", strings.NewReader(""), &out); err != nil {
		t.Fatal(err)
	}
	if len(ts.recorded()) != 0 {
		t.Error("empty input sent a turn")
	}
}

func TestRunChat_ServerErrorKeepsSession(t *testing.T) {
	withNoColor(t)
	ts := newTestServer(t, nil)

	var out bytes.Buffer
	if err := runChat(ctx, ts.client(), "s1", strings.NewReader("first\nsecond\nexit\n"), &out); err != nil {
		t.Fatal(err)
	}
	if n := len(ts.recorded()); n != 2 {
		t.Errorf("turns sent = %d, want 2 despite errors", n)
	}
}

func TestWaitForJob(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/jobs/j1": `{"id":"j1","type":"ingest_document","status":"completed","attempts":0}`,
	})

	job, err := waitForJob(ctx, ts.client(), "j1", time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != "completed" {
		t.Errorf("job = %+v", job)
	}

	if _, err := waitForJob(ctx, ts.client(), "missing", time.Millisecond); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestCorrectionDeleteSendsKeyInBody(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /v1/corrections": `{"status":"deleted"}`,
	})

	resp, err := ts.client().delete(ctx, "/v1/corrections", map[string]string{"key": "What color is the sun?"})
	if err != nil {
		t.Fatal(err)
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatal(err)
	}

	reqs := ts.recorded()
	if len(reqs) != 1 || reqs[0].Body != `{"key":"What color is the sun?"}` {
		t.Errorf("requests = %+v", reqs)
	}
}

func TestAPIClientAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = "my-secret-token"
	if _, err := client.get(ctx, "/health"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	client.token = ""
	if _, err := client.get(ctx, "/health"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reqs := ts.recorded()
	if reqs[0].Auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q, want 'Bearer my-secret-token'", reqs[0].Auth)
	}
	if reqs[1].Auth != "" {
		t.Errorf("auth without token = %q, want none", reqs[1].Auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"invalid or missing bearer token","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "bad-token", httpClient: ts.Client()}
	resp, err := client.get(ctx, "/v1/sessions")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if err.Error() != "server returned 401: invalid or missing bearer token" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorGreen, "test message"); result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	if result := colorize(colorGreen, "test message"); !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestCountLabel(t *testing.T) {
	tests := []struct {
		count, limit int
		want         string
	}{
		{0, 100, "0"},
		{99, 100, "99"},
		{100, 100, "100+"},
	}
	for _, tt := range tests {
		if got := countLabel(tt.count, tt.limit); got != tt.want {
			t.Errorf("countLabel(%d, %d) = %q, want %q", tt.count, tt.limit, got, tt.want)
		}
	}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	var cfg config.Config
	cfg.Storage.DataDir = t.TempDir()
	cfg.Tools.ArtifactDir = filepath.Join(cfg.Storage.DataDir, "artifacts")
	cfg.Routing = config.RoutingConfig{Simple: "groq", Complex: "gemini", Search: "perplexity", Classifier: "groq"}
	cfg.Graph = config.GraphConfig{MaxToolRounds: 5, ProviderTimeout: time.Second, ToolTimeout: time.Second, StorageTimeout: time.Second}
	return cfg
}

func TestBuildProviders(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers.GroqAPIKey = "gk"
	cfg.Providers.PerplexityAPIKey = "pk"

	reg, err := buildProviders(ctx, cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(reg.Names(), ","); got != "groq,perplexity" {
		t.Fatalf("providers = %s", got)
	}
	if p, _ := reg.Get("perplexity"); p.SupportsTools() {
		t.Error("perplexity should run without tools")
	}
	if p, _ := reg.Get("groq"); !p.SupportsTools() {
		t.Error("groq should support tools")
	}

	// Complex route is unconfigured, so tool content falls back to simple.
	if gen := generator(cfg, reg); gen == nil || gen.Name() != "groq" {
		t.Errorf("generator = %v", gen)
	}
	if gen := generator(cfg, provider.NewRegistry()); gen != nil {
		t.Errorf("generator with no providers = %v", gen)
	}
}

func TestBuildTools(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	reg := buildTools(testConfig(t), nil, store)
	want := []string{
		"ask_document_tool",
		"generate_educational_video_tool",
		"generate_flashcards_tool",
		"generate_presentation_tool",
		"generate_quiz_tool",
		"retrieve_knowledge_tool",
	}
	if got := strings.Join(reg.Names(), ","); got != strings.Join(want, ",") {
		t.Errorf("tools = %s", got)
	}
}

func TestBuildApp(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers.GroqAPIKey = "gk"

	a, err := buildApp(ctx, cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if a.executor == nil || a.metrics == nil {
		t.Fatal("app is missing its executor or metrics")
	}
	if _, err := os.Stat(filepath.Join(cfg.Storage.DataDir, "tutorgraph.db")); err != nil {
		t.Errorf("database not created: %v", err)
	}

	cfg.Routing.Classifier = "gemini"
	if _, err := buildApp(ctx, cfg, &bytes.Buffer{}); err == nil {
		t.Error("buildApp accepted an unconfigured classifier")
	}
}
