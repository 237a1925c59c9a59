package git

import "strings"

// TrackedDiffEntry is one line of `git diff --name-status`.
type TrackedDiffEntry struct {
	Status string `json:"status"`
	Path   string `json:"path"`
	// OldPath is set only for renames and copies.
	OldPath *string `json:"oldPath,omitempty"`
}

// IsRenameOrCopy reports whether status denotes a rename (R) or copy (C).
func IsRenameOrCopy(status string) bool {
	return strings.HasPrefix(status, "R") || strings.HasPrefix(status, "C")
}

// ParseNameStatus parses tab-separated name-status output. Renames and copies
// need status, old path and new path; everything else needs status and path.
// Blank and malformed lines are skipped. Output order is preserved.
func ParseNameStatus(output string) []TrackedDiffEntry {
	entries := []TrackedDiffEntry{}
	for line := range strings.SplitSeq(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		status := parts[0]

		if IsRenameOrCopy(status) {
			if len(parts) < 3 {
				continue
			}
			oldPath := parts[1]
			entries = append(entries, TrackedDiffEntry{Status: status, Path: parts[2], OldPath: &oldPath})
			continue
		}

		if len(parts) < 2 {
			continue
		}
		entries = append(entries, TrackedDiffEntry{Status: status, Path: parts[1]})
	}
	return entries
}
