// Package mock simulates a Claude Code agent by writing synthetic entries
// to a real transcript file, so the whole pipeline (watcher, coordinator,
// transport) can be exercised without tmux or an actual agent.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claude-watch/backend/internal/transcript"
)

// Runner is a drop-in replacement for the tmux runner. Each prompt produces
// a scripted turn: an echoed user entry, a couple of tool calls, and a text
// reply carrying growing usage counters.
type Runner struct {
	workdir string
	delay   time.Duration

	mu        sync.Mutex
	alive     bool
	sessionID string
	tokens    int
	stop      chan struct{}
}

func NewRunner(workdir string, delay time.Duration) *Runner {
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}
	return &Runner{
		workdir: workdir,
		delay:   delay,
		tokens:  12000, // a plausible system-prompt baseline
	}
}

func (r *Runner) Alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alive
}

func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir, err := transcript.ProjectsDir(r.workdir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	r.sessionID = uuid.NewString()
	path, err := transcript.Path(r.workdir, r.sessionID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return err
	}

	r.alive = true
	r.stop = make(chan struct{})
	return nil
}

func (r *Runner) SendPrompt(text string) error {
	r.mu.Lock()
	if !r.alive {
		r.mu.Unlock()
		return fmt.Errorf("mock agent not running")
	}
	sessionID := r.sessionID
	stop := r.stop
	r.mu.Unlock()

	if err := r.appendEntry(sessionID, userEntry(text)); err != nil {
		return err
	}

	go r.playTurn(sessionID, text, stop)
	return nil
}

// Interrupt aborts the in-flight scripted turn, like Ctrl-C would.
func (r *Runner) Interrupt() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		close(r.stop)
		r.stop = make(chan struct{})
	}
	return nil
}

func (r *Runner) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive = false
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
	return nil
}

// SessionID returns the transcript session the mock agent writes to.
func (r *Runner) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// playTurn writes the scripted agent response entry by entry.
func (r *Runner) playTurn(sessionID, prompt string, stop chan struct{}) {
	steps := []any{
		assistantTool("Read", map[string]any{"file_path": "README.md"}),
		toolResultEntry("read 120 lines"),
		assistantTool("Bash", map[string]any{"command": "go test ./..."}),
		toolResultEntry("ok"),
		r.assistantText(reply(prompt)),
	}

	for _, entry := range steps {
		select {
		case <-stop:
			return
		case <-time.After(r.delay):
		}
		if err := r.appendEntry(sessionID, entry); err != nil {
			return
		}
	}
}

func reply(prompt string) string {
	head := prompt
	if i := strings.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	if len(head) > 60 {
		head = head[:60]
	}
	return fmt.Sprintf("Done. I looked into %q, ran the tests, and everything passes.", head)
}

func (r *Runner) appendEntry(sessionID string, entry any) error {
	path, err := transcript.Path(r.workdir, sessionID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

func userEntry(text string) any {
	return map[string]any{
		"type":    "user",
		"message": map[string]any{"content": text},
	}
}

func toolResultEntry(content string) any {
	return map[string]any{
		"type": "user",
		"message": map[string]any{
			"content": []any{
				map[string]any{"type": "tool_result", "content": content},
			},
		},
	}
}

func assistantTool(name string, input map[string]any) any {
	return map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"content": []any{
				map[string]any{"type": "tool_use", "name": name, "input": input},
			},
		},
	}
}

func (r *Runner) assistantText(text string) any {
	r.mu.Lock()
	r.tokens += 1500 + len(text)
	usage := map[string]any{
		"input_tokens":            250,
		"cache_read_input_tokens": r.tokens,
		"output_tokens":           len(text) / 4,
	}
	r.mu.Unlock()

	return map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"model":   "claude-mock",
			"content": []any{map[string]any{"type": "text", "text": text}},
			"usage":   usage,
		},
	}
}
