package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// FilePattern matches journal files inside the journal directory.
const FilePattern = "*.log"

// UnknownMissionsFile is the side file unclassified missions are appended to.
const UnknownMissionsFile = "unknown_mission_types.json"

// IsJournalFile reports whether path names a journal file.
func IsJournalFile(path string) bool {
	ok, _ := filepath.Match(FilePattern, filepath.Base(path))
	return ok
}

// FilesModifiedAfter lists the journal files in dir whose modification date
// (UTC) is strictly after the date of cutoff. Files are returned sorted by
// name, which for game journals is session start order.
func FilesModifiedAfter(dir string, cutoff time.Time) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("journal directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("journal directory: %s is not a directory", dir)
	}

	matches, err := filepath.Glob(filepath.Join(dir, FilePattern))
	if err != nil {
		return nil, fmt.Errorf("list journals: %w", err)
	}

	cutoffDay := dateOf(cutoff)
	var files []string
	for _, path := range matches {
		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		if dateOf(fi.ModTime().UTC()).After(cutoffDay) {
			files = append(files, path)
		}
	}

	sort.Strings(files)
	return files, nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Latest returns the most recently modified journal file in dir, or ""
// when there is none. Ties go to the greater name.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, FilePattern))
	if err != nil {
		return "", fmt.Errorf("list journals: %w", err)
	}

	var (
		best    string
		bestMod time.Time
	)
	for _, path := range matches {
		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		mod := fi.ModTime()
		if best == "" || mod.After(bestMod) || (mod.Equal(bestMod) && path > best) {
			best, bestMod = path, mod
		}
	}
	return best, nil
}
