package agent

import (
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// FindAgentProcess scans the process table for a claude process whose
// working directory matches workdir. tmux can report a session alive after
// the agent inside it has exited, so this is the ground truth for whether
// an agent is actually serving the workdir.
func FindAgentProcess(workdir string) (int32, bool) {
	procs, err := process.Processes()
	if err != nil {
		return 0, false
	}
	workdir = filepath.Clean(workdir)
	for _, p := range procs {
		if !isAgentProcess(p) {
			continue
		}
		cwd, err := p.Cwd()
		if err != nil || filepath.Clean(cwd) != workdir {
			continue
		}
		return p.Pid, true
	}
	return 0, false
}

func isAgentProcess(p *process.Process) bool {
	name, err := p.Name()
	if err != nil {
		return false
	}
	switch name {
	case "claude", "claude-code":
		return true
	case "node":
		// claude installed via npm runs as node with the script path in argv.
		args, err := p.CmdlineSlice()
		if err != nil {
			return false
		}
		for _, a := range args[1:] {
			if strings.Contains(a, "claude") && !strings.Contains(a, "node_modules/.bin") {
				return true
			}
		}
	}
	return false
}
