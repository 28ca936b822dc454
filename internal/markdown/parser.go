// Package markdown reads and writes documents that follow the awesome-list
// convention: a parser, a compliance linter and a formatter.
package markdown

import (
	"regexp"
	"strings"

	"github.com/jdholdren/awesync/internal/awesome"
)

var (
	headerPattern       = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*$`)
	resourcePattern     = regexp.MustCompile(`^\s*[-*+]\s+\[([^\]]+)\]\(([^)]+)\)\s*[-–:]\s*(.*?)\s*$`)
	bareResourcePattern = regexp.MustCompile(`^\s*[-*+]\s+\[([^\]]+)\]\(([^)]+)\)\s*$`)
	badgePattern        = regexp.MustCompile(`\[!\[([^\]]*)\]\(([^)\s]+)\)\]\(([^)\s]+)\)`)
	linkTitlePattern    = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	bulletPattern       = regexp.MustCompile(`^\s*[-*+]\s+(.*)$`)
	rulePattern         = regexp.MustCompile(`^\s*(-{3,}|\*{3,}|_{3,})\s*$`)
)

// Sections whose lines never contribute resources.
var skippedSections = []string{
	"Table of Contents",
	"License",
	"Contributing",
	"Contributors",
	"Code of Conduct",
	"Registries",
}

// Badges are only looked for near the top of a document.
const badgeScanLines = 10

type metaSection int

const (
	metaNone metaSection = iota
	metaLicense
	metaContributors
)

// scanState is the value threaded through the line fold. Each step returns a
// new state. Slices are appended to, so only the latest state may be read.
type scanState struct {
	line int

	category       string
	subcategory    string
	subSubcategory string

	// Skip flags for the section opened at each header depth.
	skipCategory       bool
	skipSubcategory    bool
	skipSubSubcategory bool

	meta            metaSection
	titleSeen       bool
	descriptionDone bool
	descriptionPart []string

	doc awesome.ParsedDocument
}

// Parse extracts a document from markdown. It never fails: lines it cannot
// make sense of are skipped, since the linter decides what is acceptable.
func Parse(text string) awesome.ParsedDocument {
	final := foldLines(text, scanState{}, scanState.next)

	doc := final.doc
	doc.Description = strings.Join(final.descriptionPart, " ")
	if doc.Badges == nil {
		doc.Badges = []awesome.Badge{}
	}
	if doc.Resources == nil {
		doc.Resources = []awesome.ParsedResource{}
	}

	return doc
}

// foldLines is a left fold over the lines of text.
func foldLines[S any](text string, init S, step func(S, string) S) S {
	acc := init
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		acc = step(acc, line)
	}
	return acc
}

func (s scanState) next(line string) scanState {
	s.line++

	if s.line <= badgeScanLines {
		s = s.withBadges(line)
	}

	if m := headerPattern.FindStringSubmatch(line); m != nil {
		return s.withHeader(len(m[1]), m[2])
	}

	if rulePattern.MatchString(line) {
		s.descriptionDone = s.descriptionDone || s.titleSeen
		return s
	}

	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return s
	}

	if s.titleSeen && !s.descriptionDone {
		return s.withDescriptionLine(trimmed)
	}

	switch s.meta {
	case metaLicense:
		if s.doc.Metadata.License == "" {
			s.doc.Metadata.License = licenseText(trimmed)
		}
	case metaContributors:
		if name := contributorName(line); name != "" {
			s.doc.Metadata.Contributors = append(s.doc.Metadata.Contributors, name)
		}
	}

	if r, ok := s.resource(line); ok {
		s.doc.Resources = append(s.doc.Resources, r)
	}

	return s
}

func (s scanState) withHeader(depth int, text string) scanState {
	skip := mentionsSkippedSection(text)

	switch depth {
	case 1:
		if !s.titleSeen {
			s.titleSeen = true
			s.doc.Title = strings.TrimPrefix(text, "Awesome ")
		}
	case 2:
		s.descriptionDone = s.descriptionDone || s.titleSeen
		s.category, s.subcategory, s.subSubcategory = text, "", ""
		s.skipCategory, s.skipSubcategory, s.skipSubSubcategory = skip, false, false
		s.meta = metaNone
		switch {
		case strings.Contains(text, "Contributors"):
			s.meta = metaContributors
		case strings.Contains(text, "License"):
			s.meta = metaLicense
		}
	case 3:
		s.subcategory, s.subSubcategory = text, ""
		s.skipSubcategory, s.skipSubSubcategory = skip, false
	case 4:
		s.subSubcategory = text
		s.skipSubSubcategory = skip
	}

	return s
}

func (s scanState) withBadges(line string) scanState {
	for _, m := range badgePattern.FindAllStringSubmatch(line, -1) {
		s.doc.Badges = append(s.doc.Badges, awesome.Badge{
			Alt:      m[1],
			ImageURL: m[2],
			LinkURL:  m[3],
		})
	}
	return s
}

func (s scanState) withDescriptionLine(trimmed string) scanState {
	if isBadgeLine(trimmed) {
		return s
	}
	trimmed = strings.TrimSpace(strings.TrimLeft(trimmed, ">"))
	if trimmed == "" {
		return s
	}
	s.descriptionPart = append(s.descriptionPart, trimmed)
	return s
}

// resource reports the entry on line, if the line is a resource inside an
// active, non-skipped category.
func (s scanState) resource(line string) (awesome.ParsedResource, bool) {
	if s.category == "" || s.skipCategory || s.skipSubcategory || s.skipSubSubcategory {
		return awesome.ParsedResource{}, false
	}
	if mentionsSkippedSection(line) {
		return awesome.ParsedResource{}, false
	}

	var title, url, description string
	if m := resourcePattern.FindStringSubmatch(line); m != nil {
		title, url, description = m[1], m[2], m[3]
	} else if m := bareResourcePattern.FindStringSubmatch(line); m != nil {
		title, url = m[1], m[2]
	} else {
		return awesome.ParsedResource{}, false
	}

	url = strings.TrimSpace(url)
	if url == "" || strings.HasPrefix(url, "#") {
		return awesome.ParsedResource{}, false
	}

	return awesome.ParsedResource{
		Title:          strings.TrimSpace(title),
		URL:            url,
		Description:    strings.TrimSpace(description),
		Category:       s.category,
		Subcategory:    s.subcategory,
		SubSubcategory: s.subSubcategory,
	}, true
}

func mentionsSkippedSection(text string) bool {
	for _, name := range skippedSections {
		if strings.Contains(text, name) {
			return true
		}
	}
	return false
}

func isBadgeLine(trimmed string) bool {
	return strings.TrimSpace(badgePattern.ReplaceAllString(trimmed, "")) == "" && badgePattern.MatchString(trimmed)
}

func licenseText(trimmed string) string {
	if m := badgePattern.FindStringSubmatch(trimmed); m != nil && m[1] != "" {
		return m[1]
	}
	return trimmed
}

func contributorName(line string) string {
	m := bulletPattern.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	if l := linkTitlePattern.FindStringSubmatch(m[1]); l != nil {
		return strings.TrimSpace(l[1])
	}
	return strings.TrimSpace(m[1])
}
