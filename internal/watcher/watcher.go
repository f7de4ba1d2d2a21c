// Package watcher turns an externally-written Claude Code transcript into a
// stream of activity callbacks and turn-completion signals.
//
// The agent gives no explicit end-of-turn signal, so completion is inferred:
// a turn is declared done once assistant text has accumulated and no new
// transcript activity has been observed for the idle timeout. The idle
// timeout is a tuned policy knob, not a guarantee: a turn completes within
// one poll interval after the idle window elapses, which is not the same as
// "exactly when the model finished".
package watcher

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/claude-watch/backend/internal/config"
	"github.com/claude-watch/backend/internal/transcript"
)

// Submission is the per-prompt overlay created by the coordinator. Its
// callbacks are composed with the global set at dispatch time; the done
// channel receives the turn's final text.
type Submission struct {
	ID        string
	callbacks Callbacks
	done      chan string
}

// Done returns the channel that receives the turn's accumulated text when
// the watcher declares the turn complete.
func (s *Submission) Done() <-chan string {
	return s.done
}

type Watcher struct {
	workdir string
	cfg     config.WatcherConfig

	// Global callbacks live behind an atomic pointer so replacing them never
	// tears a dispatch in the poll loop.
	global atomic.Pointer[Callbacks]

	mu           sync.Mutex
	sessionID    string
	offset       int
	acc          []string
	lastActivity time.Time
	activeSince  time.Time
	sub          *Submission
}

func New(workdir string, cfg config.WatcherConfig) *Watcher {
	return &Watcher{
		workdir: workdir,
		cfg:     cfg,
	}
}

// SetCallbacks replaces the standing global callback set. Safe to call at
// any time; an in-flight submission's per-call callbacks are unaffected.
func (w *Watcher) SetCallbacks(cb Callbacks) {
	w.global.Store(&cb)
}

// Session returns the currently-believed session id, or "".
func (w *Watcher) Session() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionID
}

// SetSession adopts a (possibly new) session id. Rotation policy: if a turn
// is in flight the new transcript is read from its beginning and any
// accumulated text is carried over, since the agent rotating files mid-turn
// is not a turn boundary. Otherwise reading starts at the
// new transcript's current end so history is not replayed.
func (w *Watcher) SetSession(id string) {
	if id == "" {
		return
	}
	w.mu.Lock()
	if id == w.sessionID {
		w.mu.Unlock()
		return
	}
	old := w.sessionID
	inTurn := !w.activeSince.IsZero()
	w.sessionID = id
	if inTurn {
		w.offset = 0
	} else {
		w.offset = transcript.LineCount(w.workdir, id)
	}
	offset := w.offset
	w.mu.Unlock()
	log.Printf("[watcher] session updated: %q -> %q (offset=%d, midTurn=%v)", old, id, offset, inTurn)
}

// BeginSubmission starts a coordinator-initiated turn: clears any stale
// accumulated state, marks the turn active, and installs the per-call
// callback overlay. The caller must pair it with EndSubmission.
func (w *Watcher) BeginSubmission(per Callbacks) *Submission {
	sub := &Submission{
		ID:        uuid.NewString(),
		callbacks: per,
		done:      make(chan string, 1),
	}
	w.mu.Lock()
	w.acc = nil
	w.lastActivity = time.Time{}
	w.activeSince = time.Now()
	w.sub = sub
	w.mu.Unlock()
	return sub
}

// EndSubmission removes the per-call overlay if it is still installed. After
// this, a turn that later completes is reported as unsolicited.
func (w *Watcher) EndSubmission(sub *Submission) {
	w.mu.Lock()
	if w.sub == sub {
		w.sub = nil
	}
	w.mu.Unlock()
}

// AccumulatedText returns the text gathered so far for the in-flight turn.
// Used by the coordinator to salvage a partial answer on timeout.
func (w *Watcher) AccumulatedText() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.Join(w.acc, "")
}

// Run polls the transcript until ctx is cancelled. It refreshes the session
// identity on a slower cadence than the poll itself.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	recon := NewReconciler(w.workdir)
	lastRefresh := time.Time{}

	log.Printf("[watcher] started (poll=%s idle=%s)", w.cfg.PollInterval, w.cfg.IdleTimeout)

	for {
		select {
		case <-ctx.Done():
			log.Println("[watcher] stopped")
			return
		case now := <-ticker.C:
			if now.Sub(lastRefresh) >= w.cfg.SessionRefreshInterval {
				if latest, ok := recon.Latest(); ok {
					w.SetSession(latest)
				}
				lastRefresh = now
			}
			w.pollOnce(now)
		}
	}
}

// pollOnce reads and dispatches new transcript entries, then checks whether
// the in-flight turn is complete.
func (w *Watcher) pollOnce(now time.Time) {
	w.mu.Lock()
	sessionID := w.sessionID
	offset := w.offset
	w.mu.Unlock()

	if sessionID == "" {
		return
	}

	entries, newOffset := transcript.ReadNewEntries(w.workdir, sessionID, offset)

	live := false
	for _, entry := range entries {
		acts, entryLive := transcript.Classify(entry)
		live = live || entryLive
		for _, act := range acts {
			w.dispatch(act)
		}
	}

	w.mu.Lock()
	// A rotation may have swapped the session under us; if so, discard this
	// cycle's offset rather than clobbering the fresh one.
	if w.sessionID == sessionID {
		w.offset = newOffset
	}
	if live {
		w.lastActivity = now
		if w.activeSince.IsZero() {
			w.activeSince = now
		}
	}
	w.mu.Unlock()

	w.checkCompletion(now)
}

// dispatch routes one classified activity through the composed global and
// per-call callbacks. Both references are read fresh per activity so a
// concurrent SetCallbacks or EndSubmission is never half-applied.
func (w *Watcher) dispatch(act transcript.Activity) {
	global := w.global.Load()

	w.mu.Lock()
	sub := w.sub
	if act.Kind == transcript.ActivityText {
		w.acc = append(w.acc, act.Text)
	}
	w.mu.Unlock()

	var per *Callbacks
	if sub != nil {
		per = &sub.callbacks
	}

	switch act.Kind {
	case transcript.ActivityText:
		global.text(act.Text)
		per.text(act.Text)
	case transcript.ActivityToolCall:
		global.tool(act.ToolName, act.ToolInput)
		per.tool(act.ToolName, act.ToolInput)
	case transcript.ActivityUserPrompt:
		// A submission's own prompt echoes back through the transcript; the
		// submitting caller already knows about it.
		if sub == nil {
			global.userMessage(act.Text)
		}
	}
}

// checkCompletion declares the turn done when assistant text has accumulated
// and the idle window has elapsed, or force-completes at the turn ceiling.
func (w *Watcher) checkCompletion(now time.Time) {
	w.mu.Lock()
	if w.activeSince.IsZero() {
		w.mu.Unlock()
		return
	}

	idleElapsed := time.Duration(0)
	if !w.lastActivity.IsZero() {
		idleElapsed = now.Sub(w.lastActivity)
	}
	hasText := len(w.acc) > 0

	idleDone := hasText && !w.lastActivity.IsZero() && idleElapsed >= w.cfg.IdleTimeout
	ceilingHit := now.Sub(w.activeSince) >= w.cfg.TurnTimeout

	if !idleDone && !ceilingHit {
		w.mu.Unlock()
		return
	}

	text := strings.Join(w.acc, "")
	sub := w.sub
	sessionID := w.sessionID
	w.acc = nil
	w.lastActivity = time.Time{}
	w.activeSince = time.Time{}
	w.sub = nil
	w.mu.Unlock()

	if ceilingHit && !idleDone {
		log.Printf("[watcher] turn ceiling reached, force-completing with %d bytes of text", len(text))
	} else {
		log.Printf("[watcher] turn complete (idle %.1fs)", idleElapsed.Seconds())
	}

	global := w.global.Load()
	var per *Callbacks
	if sub != nil {
		per = &sub.callbacks
	}

	if usage, ok := transcript.ReadContextUsage(w.workdir, sessionID); ok {
		global.usage(usage)
		per.usage(usage)
	}

	initiated := sub != nil
	global.turnComplete(text, initiated)
	per.turnComplete(text, initiated)

	if sub != nil {
		sub.done <- text
	}
}
