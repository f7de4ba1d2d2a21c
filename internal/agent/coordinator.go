package agent

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/claude-watch/backend/internal/config"
	"github.com/claude-watch/backend/internal/transcript"
	"github.com/claude-watch/backend/internal/watcher"
)

var (
	// ErrAgentNotRunning reports that the agent process died or could not
	// be reached while a request was in flight.
	ErrAgentNotRunning = errors.New("agent is not running")
	// ErrNoSession reports that no transcript session could be discovered
	// for a freshly started agent.
	ErrNoSession = errors.New("no agent session discovered")
)

// livenessInterval is how often an in-flight Submit re-checks that the
// agent process is still up, so a crash fails the request quickly instead
// of waiting out the turn timeout.
const livenessInterval = 2 * time.Second

// Status is a point-in-time snapshot of the agent for the state endpoint.
type Status struct {
	AgentRunning bool   `json:"agent_running"`
	ProcessPID   int32  `json:"process_pid,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	WorkDir      string `json:"workdir"`
}

// Coordinator owns the agent lifecycle and serializes prompt submissions.
// One turn is in flight at a time; concurrent Submit calls queue on the
// internal mutex in arrival order.
type Coordinator struct {
	agentCfg   config.AgentConfig
	watcherCfg config.WatcherConfig
	runner     Runner
	w          *watcher.Watcher
	recon      *watcher.Reconciler

	submitMu chan struct{} // capacity 1, held for the whole submit cycle
}

func NewCoordinator(agentCfg config.AgentConfig, watcherCfg config.WatcherConfig, runner Runner, w *watcher.Watcher) *Coordinator {
	return &Coordinator{
		agentCfg:   agentCfg,
		watcherCfg: watcherCfg,
		runner:     runner,
		w:          w,
		recon:      watcher.NewReconciler(agentCfg.WorkDir),
		submitMu:   make(chan struct{}, 1),
	}
}

// RegisterCallbacks installs the global callback set that observes every
// turn, solicited or not.
func (c *Coordinator) RegisterCallbacks(cb watcher.Callbacks) {
	c.w.SetCallbacks(cb)
}

// Submit sends prompt to the agent and blocks until the resulting turn
// completes, the turn times out, the agent dies, or ctx is cancelled. The
// per callbacks observe only this turn's events, in addition to the global
// set. On turn timeout the text accumulated so far is returned without an
// error.
func (c *Coordinator) Submit(ctx context.Context, prompt string, per watcher.Callbacks) (string, error) {
	select {
	case c.submitMu <- struct{}{}:
		defer func() { <-c.submitMu }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if err := c.ensureRunning(ctx); err != nil {
		return "", err
	}

	sub := c.w.BeginSubmission(per)
	defer c.w.EndSubmission(sub)

	if err := c.runner.SendPrompt(prompt); err != nil {
		return "", err
	}
	log.Printf("[agent] submitted request %s (%d bytes)", sub.ID, len(prompt))

	// The prompt itself may cause the agent to rotate transcripts, e.g.
	// after /clear. Re-adopt the latest one shortly after sending.
	refresh := time.NewTimer(c.watcherCfg.StartupWait)
	defer refresh.Stop()

	liveness := time.NewTicker(livenessInterval)
	defer liveness.Stop()

	// Grace past the watcher's own ceiling so the forced completion wins
	// when the watcher is healthy.
	timeout := time.NewTimer(c.watcherCfg.TurnTimeout + c.watcherCfg.IdleTimeout)
	defer timeout.Stop()

	for {
		select {
		case text := <-sub.Done():
			return text, nil
		case <-refresh.C:
			if id, ok := c.recon.Latest(); ok && id != c.w.Session() {
				c.w.SetSession(id)
			}
		case <-liveness.C:
			if !c.runner.Alive() {
				log.Printf("[agent] request %s failed: agent exited mid-turn", sub.ID)
				return "", ErrAgentNotRunning
			}
		case <-timeout.C:
			partial := c.w.AccumulatedText()
			log.Printf("[agent] request %s timed out, returning %d bytes of partial text", sub.ID, len(partial))
			return partial, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// ensureRunning starts the agent if needed and binds the watcher to the
// session the new agent creates. An already-running agent just gets its
// session refreshed to the latest transcript.
func (c *Coordinator) ensureRunning(ctx context.Context) error {
	if c.runner.Alive() {
		if id, ok := c.recon.Latest(); ok && id != c.w.Session() {
			c.w.SetSession(id)
		}
		return nil
	}

	before := transcript.ListSessionFiles(c.agentCfg.WorkDir)
	if err := c.runner.Start(ctx); err != nil {
		return err
	}

	id, ok := c.recon.DiscoverNew(ctx, before, c.watcherCfg.DiscoveryTimeout)
	if !ok {
		return ErrNoSession
	}
	c.w.SetSession(id)

	// A brand-new transcript means the agent is still booting; give it a
	// moment before pasting a prompt into a half-initialized TUI.
	if transcript.LineCount(c.agentCfg.WorkDir, id) == 0 {
		select {
		case <-time.After(c.watcherCfg.StartupWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Cancel interrupts the agent's current turn.
func (c *Coordinator) Cancel() error {
	if !c.runner.Alive() {
		return ErrAgentNotRunning
	}
	log.Println("[agent] cancelling current turn")
	return c.runner.Interrupt()
}

// Restart tears the agent down and brings a fresh one up, rebinding the
// watcher to the new session.
func (c *Coordinator) Restart(ctx context.Context) error {
	select {
	case c.submitMu <- struct{}{}:
		defer func() { <-c.submitMu }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if c.runner.Alive() {
		if err := c.runner.Shutdown(); err != nil {
			return err
		}
	}
	return c.ensureRunning(ctx)
}

// Shutdown terminates the agent if it is running.
func (c *Coordinator) Shutdown() error {
	if !c.runner.Alive() {
		return nil
	}
	return c.runner.Shutdown()
}

// Status reports the current agent state.
func (c *Coordinator) Status() Status {
	st := Status{
		AgentRunning: c.runner.Alive(),
		SessionID:    c.w.Session(),
		WorkDir:      c.agentCfg.WorkDir,
	}
	if pid, ok := FindAgentProcess(c.agentCfg.WorkDir); ok {
		st.ProcessPID = pid
	}
	return st
}
