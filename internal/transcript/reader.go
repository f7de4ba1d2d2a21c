// Package transcript reads Claude Code session transcripts.
//
// Claude Code writes one append-only JSONL file per session at
// ~/.claude/projects/<encoded-workdir>/<session-id>.jsonl, where the encoded
// workdir replaces path separators with dashes (/home/user/proj becomes
// -home-user-proj). This package only ever reads those files; the agent owns
// them and may be writing the tail concurrently, so partial or malformed
// trailing lines are normal, not errors.
package transcript

import (
	"bufio"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EncodeWorkDir converts a working directory path into the directory name
// Claude Code uses under ~/.claude/projects.
func EncodeWorkDir(workdir string) string {
	encoded := strings.ReplaceAll(filepath.Clean(workdir), string(filepath.Separator), "-")
	if !strings.HasPrefix(encoded, "-") {
		encoded = "-" + encoded
	}
	return encoded
}

// ProjectsDir returns the transcript directory for a working directory.
func ProjectsDir(workdir string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".claude", "projects", EncodeWorkDir(workdir)), nil
}

// Path returns the transcript file path for (workdir, sessionID).
func Path(workdir, sessionID string) (string, error) {
	dir, err := ProjectsDir(workdir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, sessionID+".jsonl"), nil
}

// LineCount returns the number of complete lines currently in the session's
// transcript. A trailing line without a newline is still being written by the
// agent and is not counted. A missing, unreadable, or empty file counts as
// zero lines; the transcript simply hasn't been created yet.
func LineCount(workdir, sessionID string) int {
	path, err := Path(workdir, sessionID)
	if err != nil {
		return 0
	}
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	count := 0
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			count++
		}
		if err != nil {
			return count
		}
	}
}

// ReadNewEntries reads transcript entries starting at the 0-based line index
// fromLine. Blank lines and lines that fail to parse are skipped silently (a
// concurrently-written tail is expected to be ragged). It returns the parsed
// entries in file order and the new line offset, the total number of lines
// consumed, including skipped ones, so that a malformed line is never
// re-visited on the next poll. A missing file yields no entries and the
// unchanged offset.
func ReadNewEntries(workdir, sessionID string, fromLine int) ([]Entry, int) {
	path, err := Path(workdir, sessionID)
	if err != nil {
		return nil, fromLine
	}
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[transcript] cannot read %s: %v", path, err)
		}
		return nil, fromLine
	}
	defer f.Close()

	var entries []Entry
	offset := fromLine
	lineNo := 0
	reader := bufio.NewReader(f)
	for {
		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && readErr != io.EOF {
			log.Printf("[transcript] read error on %s: %v", path, readErr)
			return entries, offset
		}
		// An unterminated trailing line is still being written; leave it for
		// the next poll rather than consuming half a record.
		complete := len(line) > 0 && line[len(line)-1] == '\n'
		if complete {
			lineNo++
			if lineNo > fromLine {
				offset = lineNo
				trimmed := strings.TrimSpace(string(line))
				if trimmed != "" {
					if entry, err := ParseEntry([]byte(trimmed)); err == nil {
						entries = append(entries, entry)
					}
				}
			}
		}
		if readErr == io.EOF {
			return entries, offset
		}
	}
}

// FindLatestSession returns the session id of the most recently modified
// transcript in the project directory, or false if none exist yet.
func FindLatestSession(workdir string) (string, bool) {
	dir, err := ProjectsDir(workdir)
	if err != nil {
		return "", false
	}
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	var bestID string
	var bestTime time.Time
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".jsonl") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if bestID == "" || info.ModTime().After(bestTime) {
			bestTime = info.ModTime()
			bestID = strings.TrimSuffix(de.Name(), ".jsonl")
		}
	}
	if bestID == "" {
		return "", false
	}
	return bestID, true
}

// ListSessionFiles returns the transcript filenames present for a workdir.
// Used to snapshot the directory before launching the agent so the new
// session's file can be picked out afterwards.
func ListSessionFiles(workdir string) map[string]bool {
	files := make(map[string]bool)
	dir, err := ProjectsDir(workdir)
	if err != nil {
		return files
	}
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return files
	}
	for _, de := range dirEntries {
		if !de.IsDir() && strings.HasSuffix(de.Name(), ".jsonl") {
			files[de.Name()] = true
		}
	}
	return files
}

// SessionIDFromPath extracts the session id from a transcript file path.
func SessionIDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".jsonl")
}
