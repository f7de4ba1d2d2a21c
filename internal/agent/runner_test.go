package agent

import (
	"reflect"
	"testing"

	"github.com/claude-watch/backend/internal/config"
)

func TestStartArgs(t *testing.T) {
	r := NewTmuxRunner(config.AgentConfig{
		WorkDir:     "/home/user/project",
		TmuxSession: "claude-watch",
	})

	want := []string{
		"new-session", "-d",
		"-s", "claude-watch",
		"-c", "/home/user/project",
		"-e", "CLAUDE_WATCH_SESSION=1",
		"claude",
	}
	if got := r.startArgs(); !reflect.DeepEqual(got, want) {
		t.Errorf("startArgs() = %v, want %v", got, want)
	}
}

func TestStartArgsWithModel(t *testing.T) {
	r := NewTmuxRunner(config.AgentConfig{
		WorkDir:     "/home/user/project",
		TmuxSession: "claude-watch",
		Model:       "opus",
	})

	got := r.startArgs()
	if len(got) < 2 || got[len(got)-2] != "--model" || got[len(got)-1] != "opus" {
		t.Errorf("startArgs() = %v, want trailing --model opus", got)
	}
}

func TestFindAgentProcessMiss(t *testing.T) {
	if pid, ok := FindAgentProcess("/definitely/not/a/real/workdir"); ok {
		t.Errorf("FindAgentProcess = %d, true; want miss", pid)
	}
}
