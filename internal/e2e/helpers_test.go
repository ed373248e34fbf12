// Package e2e exercises the daemon over real HTTP against the scripted fake
// worker: the full controller + mux stack in-process, plus the compiled chatd
// binary as a subprocess for lifecycle and persistence coverage.
package e2e

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"chatd/internal/convstore"
	"chatd/internal/download"
	"chatd/internal/httpapi"
	"chatd/internal/modelcache"
	"chatd/internal/registry"
	"chatd/internal/session"
	"chatd/internal/worker"
	"chatd/pkg/types"
)

var (
	workerBin string
	daemonBin string
)

// TestMain builds the fake worker and the daemon once for the whole package.
func TestMain(m *testing.M) {
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		fmt.Fprintln(os.Stderr, "runtime.Caller failed")
		os.Exit(1)
	}
	repoRoot := filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
	outDir, err := os.MkdirTemp("", "chatd-e2e")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	workerBin = filepath.Join(outDir, "fakeworker")
	daemonBin = filepath.Join(outDir, "chatd")
	for target, pkg := range map[string]string{
		workerBin: "./internal/worker/testdata/fakeworker",
		daemonBin: "./cmd/chatd",
	} {
		cmd := exec.Command("go", "build", "-o", target, pkg)
		cmd.Dir = repoRoot
		cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
		if out, err := cmd.CombinedOutput(); err != nil {
			fmt.Fprintf(os.Stderr, "go build %s: %v\n%s", pkg, err, out)
			os.Exit(1)
		}
	}
	code := m.Run()
	_ = os.RemoveAll(outDir)
	os.Exit(code)
}

// createModelsDir writes placeholder gguf files and scans them the way the
// daemon does at startup.
func createModelsDir(t *testing.T, names ...string) (string, []types.Model) {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		writeModelFile(t, dir, name)
	}
	models, err := registry.LoadDir(dir)
	if err != nil {
		t.Fatalf("scan models: %v", err)
	}
	return dir, models
}

func writeModelFile(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("gguf"), 0o644); err != nil {
		t.Fatalf("write model %s: %v", name, err)
	}
}

func mustUnmarshal(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

// svc adapts a controller plus a static model list to the HTTP service
// interface, standing in for the daemon's live catalog.
type svc struct {
	*session.Controller
	models []types.Model
}

func (s *svc) ListModels() types.ModelsResponse {
	chat, embed := registry.Split(s.models)
	return types.ModelsResponse{Models: chat, EmbeddingModels: embed}
}

func (s *svc) ResolveModel(ref string) (types.Model, bool) {
	if m, ok := registry.Find(s.models, ref); ok {
		return m, true
	}
	for _, m := range s.models {
		if m.Path == ref {
			return m, true
		}
	}
	return types.Model{}, false
}

type testServer struct {
	*httptest.Server
	ctrl      *session.Controller
	models    []types.Model
	modelsDir string
}

func newServer(t *testing.T, names ...string) *testServer {
	t.Helper()
	return newServerWithConfig(t, session.Config{}, names...)
}

// newServerWithConfig assembles the in-process stack: fake worker client,
// capacity cache, loader, controller, mux. The probe ladder is kept short so
// capacity walks stay fast.
func newServerWithConfig(t *testing.T, cfg session.Config, names ...string) *testServer {
	t.Helper()
	dir, models := createModelsDir(t, names...)

	client := worker.NewClient(workerBin, "chat")
	cache := modelcache.Open(filepath.Join(t.TempDir(), "capacity.json"))
	loader := worker.NewLoader(client, cache, worker.ProbeConfig{Start: 16, Step: 4}, 5*time.Second)

	if cfg.CtxSize == 0 {
		cfg.CtxSize = 2048
	}
	if cfg.LoadTimeout == 0 {
		cfg.LoadTimeout = 5 * time.Second
	}
	if cfg.CleanupWait == 0 {
		cfg.CleanupWait = 750 * time.Millisecond
	}

	ctrl, err := session.New(session.Deps{
		Client:     client,
		Loader:     loader,
		Store:      convstore.NewMemory(),
		Downloader: download.New(dir),
	}, cfg)
	if err != nil {
		_ = client.Close()
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(func() { _ = ctrl.Close() })

	srv := httptest.NewServer(httpapi.NewMux(&svc{Controller: ctrl, models: models}))
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, ctrl: ctrl, models: models, modelsDir: dir}
}

func httpGet(t *testing.T, base, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(base + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("GET %s read body: %v", path, err)
	}
	return resp.StatusCode, body
}

func httpPostJSON(t *testing.T, base, path string, v any) (int, []byte) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s body: %v", path, err)
	}
	resp, err := http.Post(base+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("POST %s read body: %v", path, err)
	}
	return resp.StatusCode, body
}

func getStatus(t *testing.T, base string) types.StatusResponse {
	t.Helper()
	code, body := httpGet(t, base, "/status")
	if code != http.StatusOK {
		t.Fatalf("GET /status: %d %s", code, body)
	}
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return st
}

// pollStatus waits for the status snapshot to satisfy pred, failing the test
// with the last snapshot after timeout.
func pollStatus(t *testing.T, base string, timeout time.Duration, want string, pred func(types.StatusResponse) bool) types.StatusResponse {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last types.StatusResponse
	for {
		last = getStatus(t, base)
		if pred(last) {
			return last
		}
		if time.Now().After(deadline) {
			t.Fatalf("status never reached %q, last: %+v", want, last)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// loadModel requests a load by registry ID and waits for it to finish.
func loadModel(t *testing.T, base, model string) {
	t.Helper()
	code, body := httpPostJSON(t, base, "/models/load", types.LoadRequest{Model: model})
	if code != http.StatusAccepted {
		t.Fatalf("POST /models/load: %d %s", code, body)
	}
	pollStatus(t, base, 10*time.Second, "loaded", func(st types.StatusResponse) bool {
		return !st.Loading && st.LoadStage == "loaded"
	})
	if code, _ := httpGet(t, base, "/readyz"); code != http.StatusOK {
		t.Fatalf("GET /readyz after load: %d", code)
	}
}

func getConversation(t *testing.T, base string) types.ConversationResponse {
	t.Helper()
	code, body := httpGet(t, base, "/conversation")
	if code != http.StatusOK {
		t.Fatalf("GET /conversation: %d %s", code, body)
	}
	var conv types.ConversationResponse
	if err := json.Unmarshal(body, &conv); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	return conv
}

// chatStream posts a chat turn and consumes the NDJSON stream to its end.
// It reports failures as values so tests can call it from goroutines.
func chatStream(base, text string) ([]types.UIEvent, int, error) {
	return chatStreamWith(base, text, nil)
}

// chatStreamWith is chatStream with a per-event callback, used by tests that
// need to act while the stream is still running.
func chatStreamWith(base, text string, onEvent func(types.UIEvent)) ([]types.UIEvent, int, error) {
	payload, err := json.Marshal(types.ChatRequest{Text: text})
	if err != nil {
		return nil, 0, err
	}
	resp, err := http.Post(base+"/chat", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, resp.StatusCode, fmt.Errorf("chat: %d %s", resp.StatusCode, body)
	}
	events, err := decodeNDJSON(resp.Body, onEvent)
	return events, resp.StatusCode, err
}

func decodeNDJSON(r io.Reader, onEvent func(types.UIEvent)) ([]types.UIEvent, error) {
	var events []types.UIEvent
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev types.UIEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return events, fmt.Errorf("bad stream line %q: %w", line, err)
		}
		events = append(events, ev)
		if onEvent != nil {
			onEvent(ev)
		}
	}
	if err := sc.Err(); err != nil {
		return events, err
	}
	return events, nil
}

func deltasText(events []types.UIEvent) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == types.EventDelta {
			b.WriteString(ev.Content)
		}
	}
	return b.String()
}

func lastEventType(events []types.UIEvent) types.EventType {
	if len(events) == 0 {
		return ""
	}
	return events[len(events)-1].Type
}

func hasEvent(events []types.UIEvent, typ types.EventType) bool {
	for _, ev := range events {
		if ev.Type == typ {
			return true
		}
	}
	return false
}
