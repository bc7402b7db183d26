package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chatwidget/internal/config"
)

// resetGlobals points the CLI at a temp workspace and restores flag state.
func resetGlobals(t *testing.T) string {
	t.Helper()
	logger = zap.NewNop()
	ws := t.TempDir()
	workspace = ws
	configPath = ""
	endpoint = ""
	verbose = false
	askCheck = false
	serveListen = ""
	serveNoProxy = false
	historyLimit = 20
	configForce = false
	t.Cleanup(func() {
		workspace = ""
		configPath = ""
		endpoint = ""
		cfg = nil
	})
	return ws
}

func newTestCmd() (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	cmd := &cobra.Command{}
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	return cmd, &stdout, &stderr
}

func answerServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("backend got invalid JSON: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReadQuestion(t *testing.T) {
	q, err := readQuestion(strings.NewReader("ignored"), []string{"what", "time?"})
	if err != nil {
		t.Fatalf("readQuestion failed: %v", err)
	}
	if q != "what time?" {
		t.Errorf("args question = %q", q)
	}

	q, err = readQuestion(strings.NewReader("line one\nline two\n"), nil)
	if err != nil {
		t.Fatalf("readQuestion stdin failed: %v", err)
	}
	if q != "line one\nline two" {
		t.Errorf("stdin question = %q", q)
	}
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	ws := resetGlobals(t)
	endpoint = "http://example.test:9000/chat"

	cmd, _, _ := newTestCmd()
	if err := loadConfig(cmd); err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Backend.Endpoint != endpoint {
		t.Errorf("endpoint = %q, want flag value", cfg.Backend.Endpoint)
	}
	if want := filepath.Join(ws, ".chatwidget", "history.db"); cfg.History.DatabasePath != want {
		t.Errorf("history path = %q, want %q", cfg.History.DatabasePath, want)
	}

	reloaded := config.DefaultConfig()
	reapplyFlags(reloaded)
	if reloaded.Backend.Endpoint != endpoint {
		t.Errorf("reloaded endpoint = %q, flag override lost", reloaded.Backend.Endpoint)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	resetGlobals(t)
	endpoint = "ftp://nowhere"

	cmd, _, _ := newTestCmd()
	if err := loadConfig(cmd); err == nil {
		t.Fatal("expected invalid endpoint to fail")
	}
}

func TestAskCmdPrintsAnswer(t *testing.T) {
	resetGlobals(t)
	srv := answerServer(t, http.StatusOK, `{"answer":"We open at nine.\nClosed Sundays."}`)
	endpoint = srv.URL + "/ask"
	askCheck = true

	cmd, stdout, _ := newTestCmd()
	if err := loadConfig(cmd); err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if err := runAsk(cmd, []string{"When", "do", "you", "open?"}); err != nil {
		t.Fatalf("runAsk failed: %v", err)
	}
	if got := stdout.String(); got != "We open at nine.\nClosed Sundays.\n" {
		t.Errorf("stdout = %q", got)
	}
}

func TestAskCmdServerError(t *testing.T) {
	resetGlobals(t)
	srv := answerServer(t, http.StatusInternalServerError, `{"detail":"boom"}`)
	endpoint = srv.URL + "/ask"

	cmd, stdout, stderr := newTestCmd()
	if err := loadConfig(cmd); err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	err := runAsk(cmd, []string{"hi"})
	if !errors.Is(err, errAskFailed) {
		t.Fatalf("runAsk error = %v, want errAskFailed", err)
	}
	if stdout.Len() != 0 {
		t.Errorf("unexpected stdout: %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "Server error: no response was received.") {
		t.Errorf("stderr = %q, want server error text", stderr.String())
	}
}

func TestAskCmdNetworkError(t *testing.T) {
	resetGlobals(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint = srv.URL + "/ask"
	srv.Close()

	cmd, _, stderr := newTestCmd()
	if err := loadConfig(cmd); err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if err := runAsk(cmd, []string{"hi"}); !errors.Is(err, errAskFailed) {
		t.Fatalf("runAsk error = %v, want errAskFailed", err)
	}
	if !strings.HasPrefix(stderr.String(), "Network error: ") {
		t.Errorf("stderr = %q, want network error prefix", stderr.String())
	}
}

func TestAskCmdEmptyQuestion(t *testing.T) {
	resetGlobals(t)
	cmd, _, _ := newTestCmd()
	cmd.SetIn(strings.NewReader("   \n"))
	if err := loadConfig(cmd); err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if err := runAsk(cmd, nil); err == nil {
		t.Fatal("expected empty question to fail")
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	ws := resetGlobals(t)
	srv := answerServer(t, http.StatusOK, `{"answer":"42"}`)
	endpoint = srv.URL + "/ask"

	cmd, stdout, _ := newTestCmd()

	// No database yet
	if err := loadConfig(cmd); err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if err := runHistoryList(cmd, nil); err != nil {
		t.Fatalf("runHistoryList failed: %v", err)
	}
	if !strings.Contains(stdout.String(), "No saved sessions found.") {
		t.Errorf("list output = %q", stdout.String())
	}

	// Record one ask
	t.Setenv("CHATWIDGET_HISTORY_DB", filepath.Join(ws, "hist.db"))
	if err := loadConfig(cmd); err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if err := runAsk(cmd, []string{"meaning?"}); err != nil {
		t.Fatalf("runAsk failed: %v", err)
	}

	hs, err := openExistingHistory()
	if err != nil {
		t.Fatalf("openExistingHistory failed: %v", err)
	}
	sessions, err := hs.ListSessions(10)
	hs.Close()
	if err != nil || len(sessions) != 1 {
		t.Fatalf("sessions = %v, err = %v", sessions, err)
	}
	id := sessions[0].ID

	stdout.Reset()
	if err := runHistoryList(cmd, nil); err != nil {
		t.Fatalf("runHistoryList failed: %v", err)
	}
	if !strings.Contains(stdout.String(), id) || !strings.Contains(stdout.String(), "ask") {
		t.Errorf("list output missing session: %q", stdout.String())
	}

	stdout.Reset()
	if err := runHistoryShow(cmd, []string{id}); err != nil {
		t.Fatalf("runHistoryShow failed: %v", err)
	}
	if !strings.Contains(stdout.String(), "You: meaning?") || !strings.Contains(stdout.String(), "Bot: 42") {
		t.Errorf("show output = %q", stdout.String())
	}

	if err := runHistoryDelete(cmd, []string{id}); err != nil {
		t.Fatalf("runHistoryDelete failed: %v", err)
	}
	if err := runHistoryDelete(cmd, []string{id}); err == nil {
		t.Error("deleting twice should fail")
	}
	if err := runHistoryShow(cmd, []string{id}); err == nil {
		t.Error("showing a deleted session should fail")
	}
}

func TestConfigInitAndShow(t *testing.T) {
	ws := resetGlobals(t)
	cmd, stdout, _ := newTestCmd()

	if err := runConfigInit(cmd, nil); err != nil {
		t.Fatalf("runConfigInit failed: %v", err)
	}
	path := filepath.Join(ws, config.DefaultPath)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	stdout.Reset()
	if err := runConfigInit(cmd, nil); err != nil {
		t.Fatalf("second runConfigInit failed: %v", err)
	}
	if !strings.Contains(stdout.String(), "already exists") {
		t.Errorf("second init output = %q", stdout.String())
	}

	if err := os.WriteFile(path, []byte("backend:\n  endpoint: http://files.test/query\n  answer_field: reply\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := loadConfig(cmd); err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	stdout.Reset()
	if err := runConfigShow(cmd, nil); err != nil {
		t.Fatalf("runConfigShow failed: %v", err)
	}
	out := stdout.String()
	for _, want := range []string{"http://files.test/query", "answer_field: reply", "question_field: question"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q:\n%s", want, out)
		}
	}
}

func TestConfigInitRepairsBrokenFile(t *testing.T) {
	for name, content := range map[string]string{
		"invalid endpoint": "backend:\n  endpoint: ftp://nowhere\n",
		"bad yaml":         "backend: [unterminated\n",
	} {
		t.Run(name, func(t *testing.T) {
			ws := resetGlobals(t)
			path := filepath.Join(ws, config.DefaultPath)
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}

			other, _, _ := newTestCmd()
			if err := loadConfig(other); err == nil {
				t.Fatal("expected broken config to fail for other commands")
			}

			if err := loadConfig(configInitCmd); err != nil {
				t.Fatalf("loadConfig for config init failed: %v", err)
			}
			configForce = true
			cmd, stdout, _ := newTestCmd()
			if err := runConfigInit(cmd, nil); err != nil {
				t.Fatalf("runConfigInit failed: %v", err)
			}
			if !strings.Contains(stdout.String(), "Wrote") {
				t.Errorf("init output = %q", stdout.String())
			}

			if err := loadConfig(other); err != nil {
				t.Fatalf("repaired config still fails: %v", err)
			}
		})
	}
}

// syncBuffer is a bytes.Buffer safe for the serve goroutine to write.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServeCmd(t *testing.T) {
	resetGlobals(t)
	srv := answerServer(t, http.StatusOK, `{"answer":"proxied"}`)
	endpoint = srv.URL + "/ask"
	serveListen = "127.0.0.1:0"

	cmd := &cobra.Command{}
	out := &syncBuffer{}
	cmd.SetOut(out)
	if err := loadConfig(cmd); err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd.SetContext(ctx)
	done := make(chan error, 1)
	go func() { done <- runServe(cmd, nil) }()

	var base string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s := out.String(); strings.Contains(s, "http://") {
			base = strings.Fields(s[strings.Index(s, "http://"):])[0]
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if base == "" {
		cancel()
		t.Fatal("server did not report its address")
	}

	resp, err := http.Post(base+"/ask", "application/json", strings.NewReader(`{"question":"hi"}`))
	if err != nil {
		cancel()
		t.Fatalf("proxy request failed: %v", err)
	}
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if body["answer"] != "proxied" {
		t.Errorf("proxied body = %v", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runServe returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}
