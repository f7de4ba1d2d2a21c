package transcript

import (
	"bufio"
	"log"
	"os"
	"strings"
)

// ReadContextUsage scans the transcript backwards for the most recent
// non-sidechain assistant entry carrying usage counters, which reflects the
// current context window fill. It opens its own file handle, independent of
// any poll offset, so it is safe to call concurrently with the watcher.
// Returns false if no such entry exists yet.
func ReadContextUsage(workdir, sessionID string) (TokenUsage, bool) {
	path, err := Path(workdir, sessionID)
	if err != nil {
		return TokenUsage{}, false
	}
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[transcript] cannot read %s: %v", path, err)
		}
		return TokenUsage{}, false
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		entry, err := ParseEntry([]byte(line))
		if err != nil {
			continue
		}
		if entry.Type != "assistant" || entry.Sidechain || entry.Usage == nil {
			continue
		}
		return *entry.Usage, true
	}
	return TokenUsage{}, false
}
