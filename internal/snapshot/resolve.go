// Package snapshot compares catalog state: it decides what an incoming
// resource means for the catalog and counts the change between two exports.
package snapshot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jdholdren/awesync/internal/awesome"
)

// Index maps a resource URL to the approved catalog row that owns it.
type Index map[string]awesome.Resource

// NewIndex builds an index over approved resources.
func NewIndex(resources []awesome.Resource) Index {
	idx := make(Index, len(resources))
	for _, r := range resources {
		idx[r.URL] = r
	}
	return idx
}

// Put records r, so later resources in the same batch resolve against it.
func (idx Index) Put(r awesome.Resource) {
	idx[r.URL] = r
}

// Resolution is the outcome of comparing an incoming resource with the catalog.
// It is one of Create, Update or Skip.
type Resolution interface {
	isResolution()
	fmt.Stringer
}

// Create means the URL is new to the catalog.
type Create struct {
	Resource awesome.ParsedResource
	Reason   string
}

// Update means the URL exists and Merged should replace its content.
type Update struct {
	Existing awesome.Resource
	Merged   awesome.ParsedResource
	Changed  []string
	Reason   string
}

// Skip means the catalog already holds this content.
type Skip struct {
	Existing awesome.Resource
	Reason   string
}

func (Create) isResolution() {}
func (Update) isResolution() {}
func (Skip) isResolution()   {}

func (c Create) String() string { return "create: " + c.Reason }
func (u Update) String() string { return "update: " + u.Reason }
func (s Skip) String() string   { return "skip: " + s.Reason }

// Resolve decides what to do with incoming. When the URL is already in the
// catalog the incoming fields win, except that the longer description is kept.
func Resolve(incoming awesome.ParsedResource, idx Index) Resolution {
	existing, ok := idx[incoming.URL]
	if !ok {
		return Create{Resource: incoming, Reason: "new url"}
	}

	merged := incoming
	if utf8.RuneCountInString(existing.Description) >= utf8.RuneCountInString(incoming.Description) {
		merged.Description = existing.Description
	}

	changed := existing.ChangedFields(merged)
	if len(changed) == 0 {
		return Skip{Existing: existing, Reason: "no changes"}
	}

	return Update{
		Existing: existing,
		Merged:   merged,
		Changed:  changed,
		Reason:   "changed " + strings.Join(changed, ", "),
	}
}
