package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/claude-watch/backend/internal/transcript"
)

// Reconciler resolves which transcript file belongs to the current agent
// session. The agent may rotate to a new file at any time (restart, internal
// session switch), so the latest-modified transcript is always trusted.
type Reconciler struct {
	workdir string
}

func NewReconciler(workdir string) *Reconciler {
	return &Reconciler{workdir: workdir}
}

// Latest returns the most recently modified session id for the workdir.
func (r *Reconciler) Latest() (string, bool) {
	return transcript.FindLatestSession(r.workdir)
}

// DiscoverNew waits for a transcript file that was not in the before snapshot
// to appear, which identifies the session a freshly-launched agent created.
// It watches the projects directory with fsnotify, falling back to periodic
// scans if the watch cannot be established. On deadline it falls back to the
// latest existing session, logging a warning.
func (r *Reconciler) DiscoverNew(ctx context.Context, before map[string]bool, timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)

	dir, err := transcript.ProjectsDir(r.workdir)
	if err != nil {
		return r.fallback()
	}

	// The agent creates the projects directory on first run; wait for it.
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return r.fallback()
		}
		time.Sleep(250 * time.Millisecond)
	}

	// The new file may have appeared between the snapshot and now.
	if id, ok := r.newSession(before); ok {
		return id, true
	}

	fw, err := fsnotify.NewWatcher()
	if err == nil {
		defer fw.Close()
		if err = fw.Add(dir); err != nil {
			log.Printf("[reconcile] cannot watch %s: %v", dir, err)
		}
	}
	if err != nil {
		return r.scanUntil(ctx, before, deadline)
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		select {
		case ev := <-fw.Events:
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			name := filepath.Base(ev.Name)
			if !strings.HasSuffix(name, ".jsonl") || before[name] {
				continue
			}
			return transcript.SessionIDFromPath(ev.Name), true
		case werr := <-fw.Errors:
			log.Printf("[reconcile] watch error: %v", werr)
		case <-timer.C:
			return r.fallback()
		case <-ctx.Done():
			return r.fallback()
		}
	}
}

// scanUntil polls the projects directory for a new transcript when fsnotify
// is unavailable.
func (r *Reconciler) scanUntil(ctx context.Context, before map[string]bool, deadline time.Time) (string, bool) {
	for {
		if id, ok := r.newSession(before); ok {
			return id, true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return r.fallback()
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// newSession returns the newest transcript whose filename is absent from the
// before snapshot.
func (r *Reconciler) newSession(before map[string]bool) (string, bool) {
	var bestID string
	var bestTime time.Time
	dir, err := transcript.ProjectsDir(r.workdir)
	if err != nil {
		return "", false
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".jsonl") || before[name] {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if bestID == "" || info.ModTime().After(bestTime) {
			bestTime = info.ModTime()
			bestID = strings.TrimSuffix(name, ".jsonl")
		}
	}
	return bestID, bestID != ""
}

func (r *Reconciler) fallback() (string, bool) {
	if id, ok := transcript.FindLatestSession(r.workdir); ok {
		log.Printf("[reconcile] no new transcript appeared, using latest session: %s", id)
		return id, true
	}
	log.Println("[reconcile] could not discover a session")
	return "", false
}
