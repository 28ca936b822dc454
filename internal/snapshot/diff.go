package snapshot

import (
	"fmt"

	"github.com/jdholdren/awesync/internal/awesome"
)

// Diff counts the resources added, updated and removed between the last
// exported snapshot and the current one. Resources are matched by URL.
func Diff(last, current []awesome.ParsedResource) awesome.DiffCounts {
	prev := make(map[string]awesome.ParsedResource, len(last))
	for _, r := range last {
		prev[r.URL] = r
	}

	var (
		d    awesome.DiffCounts
		seen = make(map[string]struct{}, len(current))
	)
	for _, r := range current {
		if _, dup := seen[r.URL]; dup {
			continue
		}
		seen[r.URL] = struct{}{}

		old, ok := prev[r.URL]
		switch {
		case !ok:
			d.Added++
		case !old.SameContent(r):
			d.Updated++
		}
	}
	for url := range prev {
		if _, ok := seen[url]; !ok {
			d.Removed++
		}
	}

	return d
}

// CommitMessage summarizes a diff for the export commit.
func CommitMessage(d awesome.DiffCounts) string {
	noun := "resources"
	if d.Added == 1 {
		noun = "resource"
	}
	return fmt.Sprintf("Added %d %s, updated %d, removed %d", d.Added, noun, d.Updated, d.Removed)
}
