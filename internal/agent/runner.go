// Package agent launches and controls the Claude Code process and
// coordinates prompt submissions against the transcript watcher.
package agent

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/claude-watch/backend/internal/config"
)

// Runner abstracts the agent process lifecycle so the coordinator can be
// driven by a real tmux-hosted agent or a mock one in tests.
type Runner interface {
	// Alive reports whether the agent process is currently running.
	Alive() bool
	// Start launches the agent in the configured working directory.
	Start(ctx context.Context) error
	// SendPrompt delivers prompt text to the agent's input.
	SendPrompt(text string) error
	// Interrupt cancels the agent's in-flight turn.
	Interrupt() error
	// Shutdown terminates the agent process.
	Shutdown() error
}

// pasteSettle gives tmux time to flush the pasted buffer into the agent's
// input before Enter is sent. Sending Enter too early submits a truncated
// prompt.
const pasteSettle = 200 * time.Millisecond

// TmuxRunner runs the agent inside a detached tmux session. Prompts are
// delivered through tmux's paste buffer rather than send-keys so that
// multi-line text and shell metacharacters arrive intact.
type TmuxRunner struct {
	cfg config.AgentConfig
}

func NewTmuxRunner(cfg config.AgentConfig) *TmuxRunner {
	return &TmuxRunner{cfg: cfg}
}

func (r *TmuxRunner) Alive() bool {
	err := exec.Command("tmux", "has-session", "-t", r.cfg.TmuxSession).Run()
	return err == nil
}

// startArgs builds the tmux invocation that launches the agent detached in
// its own session.
func (r *TmuxRunner) startArgs() []string {
	args := []string{
		"new-session", "-d",
		"-s", r.cfg.TmuxSession,
		"-c", r.cfg.WorkDir,
		"-e", "CLAUDE_WATCH_SESSION=1",
		"claude",
	}
	if r.cfg.Model != "" {
		args = append(args, "--model", r.cfg.Model)
	}
	return args
}

func (r *TmuxRunner) Start(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "tmux", r.startArgs()...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("starting agent session %q: %w (%s)", r.cfg.TmuxSession, err, out)
	}
	log.Printf("[agent] started tmux session %s in %s", r.cfg.TmuxSession, r.cfg.WorkDir)
	return nil
}

func (r *TmuxRunner) SendPrompt(text string) error {
	if err := os.WriteFile(r.cfg.PromptBufferFile, []byte(text), 0600); err != nil {
		return fmt.Errorf("writing prompt buffer: %w", err)
	}
	if out, err := exec.Command("tmux", "load-buffer", r.cfg.PromptBufferFile).CombinedOutput(); err != nil {
		return fmt.Errorf("load-buffer: %w (%s)", err, out)
	}
	if out, err := exec.Command("tmux", "paste-buffer", "-d", "-t", r.cfg.TmuxSession).CombinedOutput(); err != nil {
		return fmt.Errorf("paste-buffer: %w (%s)", err, out)
	}
	time.Sleep(pasteSettle)
	if out, err := exec.Command("tmux", "send-keys", "-t", r.cfg.TmuxSession, "Enter").CombinedOutput(); err != nil {
		return fmt.Errorf("send-keys Enter: %w (%s)", err, out)
	}
	return nil
}

func (r *TmuxRunner) Interrupt() error {
	if out, err := exec.Command("tmux", "send-keys", "-t", r.cfg.TmuxSession, "C-c").CombinedOutput(); err != nil {
		return fmt.Errorf("send-keys C-c: %w (%s)", err, out)
	}
	return nil
}

func (r *TmuxRunner) Shutdown() error {
	if out, err := exec.Command("tmux", "kill-session", "-t", r.cfg.TmuxSession).CombinedOutput(); err != nil {
		return fmt.Errorf("kill-session: %w (%s)", err, out)
	}
	log.Printf("[agent] killed tmux session %s", r.cfg.TmuxSession)
	return nil
}
