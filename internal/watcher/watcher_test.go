package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/claude-watch/backend/internal/config"
	"github.com/claude-watch/backend/internal/transcript"
)

const testWorkdir = "/home/user/project"

func testTimings() config.WatcherConfig {
	return config.WatcherConfig{
		PollInterval:           10 * time.Millisecond,
		IdleTimeout:            100 * time.Millisecond,
		TurnTimeout:            time.Second,
		SessionRefreshInterval: 50 * time.Millisecond,
		StartupWait:            10 * time.Millisecond,
		DiscoveryTimeout:       200 * time.Millisecond,
	}
}

// transcriptPath creates the projects dir for testWorkdir under the fake
// home and returns the transcript path for sessionID.
func transcriptPath(t *testing.T, home, sessionID string) string {
	t.Helper()
	dir := filepath.Join(home, ".claude", "projects", transcript.EncodeWorkDir(testWorkdir))
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	return filepath.Join(dir, sessionID+".jsonl")
}

func writeLines(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
}

// recorder collects callback invocations for assertions.
type recorder struct {
	mu        sync.Mutex
	texts     []string
	tools     []string
	toolInput map[string]any
	users     []string
	completes []string
	initiated []bool
	usages    []transcript.TokenUsage
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnText: func(text string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.texts = append(r.texts, text)
		},
		OnTool: func(name string, input map[string]any) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.tools = append(r.tools, name)
			r.toolInput = input
		},
		OnUserMessage: func(text string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.users = append(r.users, text)
		},
		OnUsage: func(u transcript.TokenUsage) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.usages = append(r.usages, u)
		},
		OnTurnComplete: func(text string, initiated bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completes = append(r.completes, text)
			r.initiated = append(r.initiated, initiated)
		},
	}
}

const threeEntryLog = `{"type":"user","message":{"content":"hi"}}
{"type":"assistant","message":{"content":[{"type":"text","text":"Hello"}]}}
{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"ls"}}]}}
`

func TestTurnDetectionEndToEnd(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := transcriptPath(t, home, "sess-1")
	writeLines(t, path, "") // session exists, empty

	w := New(testWorkdir, testTimings())
	rec := &recorder{}
	w.SetCallbacks(rec.callbacks())
	w.SetSession("sess-1")

	writeLines(t, path, threeEntryLog)

	base := time.Now()
	w.pollOnce(base)

	rec.mu.Lock()
	if len(rec.texts) != 1 || rec.texts[0] != "Hello" {
		t.Errorf("texts = %v, want [Hello]", rec.texts)
	}
	if len(rec.tools) != 1 || rec.tools[0] != "Bash" {
		t.Errorf("tools = %v, want [Bash]", rec.tools)
	}
	if rec.toolInput["command"] != "ls" {
		t.Errorf("tool input = %v, want command=ls", rec.toolInput)
	}
	if len(rec.completes) != 0 {
		t.Errorf("turn completed too early: %v", rec.completes)
	}
	rec.mu.Unlock()

	w.mu.Lock()
	if w.offset != 3 {
		t.Errorf("offset = %d, want 3", w.offset)
	}
	w.mu.Unlock()

	// No further writes; idle timeout elapses.
	w.pollOnce(base.Add(150 * time.Millisecond))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.completes) != 1 || rec.completes[0] != "Hello" {
		t.Fatalf("completes = %v, want [Hello]", rec.completes)
	}
	if rec.initiated[0] {
		t.Error("unsolicited turn reported as coordinator-initiated")
	}
}

func TestSidechainEntriesIgnored(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := transcriptPath(t, home, "sess-1")
	writeLines(t, path, "")

	w := New(testWorkdir, testTimings())
	rec := &recorder{}
	w.SetCallbacks(rec.callbacks())
	w.SetSession("sess-1")

	log := `{"type":"user","isSidechain":true,"message":{"content":"hi"}}
{"type":"assistant","isSidechain":true,"message":{"content":[{"type":"text","text":"Hello"}]}}
{"type":"assistant","isSidechain":true,"message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"ls"}}]}}
`
	writeLines(t, path, log)
	w.pollOnce(time.Now())

	rec.mu.Lock()
	if len(rec.texts) != 0 || len(rec.tools) != 0 || len(rec.users) != 0 {
		t.Errorf("sidechain entries fired callbacks: texts=%v tools=%v users=%v", rec.texts, rec.tools, rec.users)
	}
	rec.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.offset != 3 {
		t.Errorf("offset = %d, want 3", w.offset)
	}
	if !w.activeSince.IsZero() {
		t.Error("sidechain entries alone must not start a turn")
	}
}

func TestNoFalseCompletionWithoutText(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := transcriptPath(t, home, "sess-1")
	writeLines(t, path, "")

	cfg := testTimings()
	w := New(testWorkdir, cfg)
	rec := &recorder{}
	w.SetCallbacks(rec.callbacks())
	w.SetSession("sess-1")

	sub := w.BeginSubmission(Callbacks{})
	defer w.EndSubmission(sub)

	// Only tool-result liveness, no assistant text.
	writeLines(t, path, `{"type":"user","message":{"content":[{"type":"tool_result","content":"ok"}]}}`+"\n")

	base := time.Now()
	w.pollOnce(base)
	w.pollOnce(base.Add(cfg.IdleTimeout * 3))

	rec.mu.Lock()
	if len(rec.completes) != 0 {
		t.Fatalf("turn completed on idle with no accumulated text: %v", rec.completes)
	}
	rec.mu.Unlock()

	// The hard ceiling still force-completes it.
	w.pollOnce(base.Add(cfg.TurnTimeout + cfg.PollInterval))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.completes) != 1 || rec.completes[0] != "" {
		t.Fatalf("completes = %v, want one empty forced completion", rec.completes)
	}
	if !rec.initiated[0] {
		t.Error("forced completion of a submission should report initiated=true")
	}
}

func TestRotationPreservesText(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	pathA := transcriptPath(t, home, "sess-a")
	writeLines(t, pathA, "")

	cfg := testTimings()
	w := New(testWorkdir, cfg)
	rec := &recorder{}
	w.SetCallbacks(rec.callbacks())
	w.SetSession("sess-a")

	sub := w.BeginSubmission(Callbacks{})
	defer w.EndSubmission(sub)

	writeLines(t, pathA, `{"type":"assistant","message":{"content":[{"type":"text","text":"Hello "}]}}`+"\n")
	base := time.Now()
	w.pollOnce(base)

	// The agent rotates to a new transcript mid-turn.
	pathB := transcriptPath(t, home, "sess-b")
	writeLines(t, pathB, `{"type":"assistant","message":{"content":[{"type":"text","text":"world"}]}}`+"\n")
	w.SetSession("sess-b")

	w.pollOnce(base.Add(20 * time.Millisecond))

	// Idle elapses with no further writes.
	w.pollOnce(base.Add(20*time.Millisecond + cfg.IdleTimeout + time.Millisecond))

	select {
	case text := <-sub.Done():
		if text != "Hello world" {
			t.Errorf("final text = %q, want %q", text, "Hello world")
		}
	default:
		t.Fatal("submission did not complete")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.completes) != 1 || rec.completes[0] != "Hello world" {
		t.Errorf("completes = %v, want [Hello world]", rec.completes)
	}
}

func TestRotationWhileIdleSkipsHistory(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	pathA := transcriptPath(t, home, "sess-a")
	writeLines(t, pathA, "")

	w := New(testWorkdir, testTimings())
	rec := &recorder{}
	w.SetCallbacks(rec.callbacks())
	w.SetSession("sess-a")

	// New session already has history; adopting it while idle must not
	// replay that history.
	pathB := transcriptPath(t, home, "sess-b")
	writeLines(t, pathB, threeEntryLog)
	w.SetSession("sess-b")

	w.pollOnce(time.Now())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.texts) != 0 || len(rec.tools) != 0 {
		t.Errorf("idle rotation replayed history: texts=%v tools=%v", rec.texts, rec.tools)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.offset != 3 {
		t.Errorf("offset = %d, want 3 (start at end of new transcript)", w.offset)
	}
}

func TestSubmissionSuppressesUserMessage(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := transcriptPath(t, home, "sess-1")
	writeLines(t, path, "")

	cfg := testTimings()
	w := New(testWorkdir, cfg)
	rec := &recorder{}
	w.SetCallbacks(rec.callbacks())
	w.SetSession("sess-1")

	perRec := &recorder{}
	sub := w.BeginSubmission(perRec.callbacks())
	defer w.EndSubmission(sub)

	writeLines(t, path, `{"type":"user","message":{"content":"echoed prompt"}}
{"type":"assistant","message":{"content":[{"type":"text","text":"answer"}]}}
`)
	base := time.Now()
	w.pollOnce(base)
	w.pollOnce(base.Add(cfg.IdleTimeout + time.Millisecond))

	rec.mu.Lock()
	if len(rec.users) != 0 {
		t.Errorf("submission prompt echoed to OnUserMessage: %v", rec.users)
	}
	if len(rec.completes) != 1 || !rec.initiated[0] {
		t.Errorf("global turn complete = %v initiated=%v", rec.completes, rec.initiated)
	}
	rec.mu.Unlock()

	// Per-call overlay saw the text too.
	perRec.mu.Lock()
	defer perRec.mu.Unlock()
	if len(perRec.texts) != 1 || perRec.texts[0] != "answer" {
		t.Errorf("per-call texts = %v, want [answer]", perRec.texts)
	}

	select {
	case text := <-sub.Done():
		if text != "answer" {
			t.Errorf("done text = %q, want answer", text)
		}
	default:
		t.Fatal("submission not resolved")
	}
}

func TestUnsolicitedUserMessageRouted(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := transcriptPath(t, home, "sess-1")
	writeLines(t, path, "")

	w := New(testWorkdir, testTimings())
	rec := &recorder{}
	w.SetCallbacks(rec.callbacks())
	w.SetSession("sess-1")

	writeLines(t, path, `{"type":"user","message":{"content":"typed directly into the TUI"}}`+"\n")
	w.pollOnce(time.Now())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.users) != 1 || rec.users[0] != "typed directly into the TUI" {
		t.Errorf("users = %v", rec.users)
	}
}

func TestUsageFiredOnCompletion(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := transcriptPath(t, home, "sess-1")
	writeLines(t, path, "")

	cfg := testTimings()
	w := New(testWorkdir, cfg)
	rec := &recorder{}
	w.SetCallbacks(rec.callbacks())
	w.SetSession("sess-1")

	writeLines(t, path, `{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}],"usage":{"input_tokens":100,"cache_creation_input_tokens":500,"cache_read_input_tokens":2000,"output_tokens":50}}}`+"\n")
	base := time.Now()
	w.pollOnce(base)
	w.pollOnce(base.Add(cfg.IdleTimeout + time.Millisecond))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.usages) != 1 {
		t.Fatalf("usages = %v, want exactly one", rec.usages)
	}
	if rec.usages[0].TotalContext() != 2600 {
		t.Errorf("usage TotalContext = %d, want 2600", rec.usages[0].TotalContext())
	}
}

func TestMissingTranscriptKeepsPolling(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	w := New(testWorkdir, testTimings())
	rec := &recorder{}
	w.SetCallbacks(rec.callbacks())

	// No session yet; polling is a no-op, not a panic or error.
	w.pollOnce(time.Now())

	// Session believed but file never created.
	w.mu.Lock()
	w.sessionID = "ghost"
	w.mu.Unlock()
	w.pollOnce(time.Now())

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.offset != 0 {
		t.Errorf("offset = %d, want 0", w.offset)
	}
}
