package markdown

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jdholdren/awesync/internal/awesome"
)

const (
	awesomeBadge = "[![Awesome](https://awesome.re/badge.svg)](https://awesome.re)"
	licenseBadge = "[![CC0](https://mirrors.creativecommons.org/presskit/buttons/88x31/svg/cc-zero.svg)](https://creativecommons.org/publicdomain/zero/1.0)"

	// Bucket for catalog rows that have no category.
	fallbackCategory = "Miscellaneous"
)

// FormatConfig controls the document produced by Render.
type FormatConfig struct {
	Title               string `yaml:"title"`
	Description         string `yaml:"description"`
	IncludeContributing bool   `yaml:"include_contributing"`
	IncludeLicense      bool   `yaml:"include_license"`
	WebsiteURL          string `yaml:"website_url"`
	RepoURL             string `yaml:"repo_url"`
}

type (
	leafGroup struct {
		name  string
		items []awesome.ParsedResource
	}

	subGroup struct {
		leafGroup
		leaves []*leafGroup
		byName map[string]*leafGroup
	}

	categoryGroup struct {
		leafGroup
		subs   []*subGroup
		byName map[string]*subGroup
	}
)

// Render writes resources as an awesome list. Categories, subcategories and
// sub-subcategories appear in the order they are first seen; resources keep
// their input order inside each group.
func Render(resources []awesome.ParsedResource, cfg FormatConfig) string {
	var (
		groups  = groupResources(resources)
		anchors = newAnchorer()
		blocks  []string
	)

	title := collapse(cfg.Title)
	if title == "" {
		title = "List"
	}
	if !strings.HasPrefix(title, "Awesome") {
		title = "Awesome " + title
	}
	anchors.anchor(title)
	blocks = append(blocks, "# "+title, awesomeBadge)

	if desc := sentence(cfg.Description); desc != "" {
		blocks = append(blocks, "> "+desc)
	}
	if cfg.WebsiteURL != "" {
		site := cleanURL(cfg.WebsiteURL)
		blocks = append(blocks, fmt.Sprintf("Browse and search this list at [%s](%s).", site, site))
	}

	// Anchors are claimed in document order, so the contents section is
	// computed from the same walk that renders the sections.
	var toc, sections []string
	anchors.anchor("Contents")
	for _, cat := range groups {
		toc = append(toc, fmt.Sprintf("- [%s](#%s)", cat.name, anchors.anchor(cat.name)))
		sections = append(sections, "## "+cat.name)
		if len(cat.items) > 0 {
			sections = append(sections, renderItems(cat.items))
		}
		for _, sub := range cat.subs {
			toc = append(toc, fmt.Sprintf("  - [%s](#%s)", sub.name, anchors.anchor(sub.name)))
			sections = append(sections, "### "+sub.name)
			if len(sub.items) > 0 {
				sections = append(sections, renderItems(sub.items))
			}
			for _, leaf := range sub.leaves {
				toc = append(toc, fmt.Sprintf("    - [%s](#%s)", leaf.name, anchors.anchor(leaf.name)))
				sections = append(sections, "#### "+leaf.name, renderItems(leaf.items))
			}
		}
	}

	blocks = append(blocks, "## Contents")
	if len(toc) > 0 {
		blocks = append(blocks, strings.Join(toc, "\n"))
	}
	blocks = append(blocks, sections...)

	if cfg.IncludeContributing {
		blocks = append(blocks, "## Contributing", contributingBlurb(cfg.RepoURL))
	}
	if cfg.IncludeLicense {
		blocks = append(blocks,
			"## License",
			licenseBadge,
			"To the extent possible under law, the contributors have waived all copyright and related or neighboring rights to this work.",
		)
	}

	return strings.Join(blocks, "\n\n") + "\n"
}

// RenderContributingGuide writes the CONTRIBUTING.md that accompanies a rendered list.
func RenderContributingGuide(websiteURL, repoURL string) string {
	submit := "Open a pull request that edits the README."
	switch {
	case websiteURL != "" && repoURL != "":
		submit = fmt.Sprintf("Suggest a resource on [the website](%s) or open a pull request against [the repository](%s).", cleanURL(websiteURL), cleanURL(repoURL))
	case websiteURL != "":
		submit = fmt.Sprintf("Suggest a resource on [the website](%s).", cleanURL(websiteURL))
	case repoURL != "":
		submit = fmt.Sprintf("Open a pull request against [the repository](%s).", cleanURL(repoURL))
	}

	blocks := []string{
		"# Contribution Guidelines",
		"Thanks for helping improve this list!",
		"## Adding a resource",
		strings.Join([]string{
			"- Search the list first to make sure the resource is not already there.",
			"- " + submit,
			"- Use the format `- [Name](https://example.com) - Short description.`",
			"- Start descriptions with a capital letter and end them with a period.",
			"- Prefer `https` links and leave off trailing slashes.",
			"- Add the resource to the most specific category that fits.",
		}, "\n"),
		"## How the list is maintained",
		"The README is generated from a curated catalog. Accepted pull requests are imported into the catalog, and the next export rewrites the README from it.",
	}

	return strings.Join(blocks, "\n\n") + "\n"
}

func groupResources(resources []awesome.ParsedResource) []*categoryGroup {
	var (
		groups []*categoryGroup
		byName = map[string]*categoryGroup{}
	)
	for _, r := range resources {
		r.URL = cleanURL(r.URL)
		if r.URL == "" {
			continue
		}

		catName := headingName(r.Category)
		if catName == "" {
			catName = fallbackCategory
		}
		subName, leafName := headingName(r.Subcategory), headingName(r.SubSubcategory)
		if subName == "" {
			// A sub-subcategory without a parent would skip a header level.
			subName, leafName = leafName, ""
		}

		cat, ok := byName[catName]
		if !ok {
			cat = &categoryGroup{leafGroup: leafGroup{name: catName}, byName: map[string]*subGroup{}}
			byName[catName] = cat
			groups = append(groups, cat)
		}
		if subName == "" {
			cat.items = append(cat.items, r)
			continue
		}

		sub, ok := cat.byName[subName]
		if !ok {
			sub = &subGroup{leafGroup: leafGroup{name: subName}, byName: map[string]*leafGroup{}}
			cat.byName[subName] = sub
			cat.subs = append(cat.subs, sub)
		}
		if leafName == "" {
			sub.items = append(sub.items, r)
			continue
		}

		leaf, ok := sub.byName[leafName]
		if !ok {
			leaf = &leafGroup{name: leafName}
			sub.byName[leafName] = leaf
			sub.leaves = append(sub.leaves, leaf)
		}
		leaf.items = append(leaf.items, r)
	}

	return groups
}

func renderItems(items []awesome.ParsedResource) string {
	lines := make([]string, 0, len(items))
	for _, r := range items {
		title := headingName(r.Title)
		if title == "" {
			title = headingName(r.URL)
		}
		line := fmt.Sprintf("- [%s](%s)", title, r.URL)
		if desc := sentence(r.Description); desc != "" {
			line += " - " + desc
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func contributingBlurb(repoURL string) string {
	if repoURL == "" {
		return "Contributions are welcome! Read the contribution guidelines in CONTRIBUTING.md first."
	}
	guide := strings.TrimRight(cleanURL(repoURL), "/") + "/blob/HEAD/CONTRIBUTING.md"
	return fmt.Sprintf("Contributions are welcome! Read the [contribution guidelines](%s) first.", guide)
}

// sentence collapses whitespace, capitalizes the first letter and makes sure
// the text ends with terminal punctuation. Targets of links inside the text
// get their spaces encoded.
func sentence(s string) string {
	s = collapse(s)
	if s == "" {
		return ""
	}
	s = linkURLPattern.ReplaceAllStringFunc(s, func(link string) string {
		return "](" + encodeURLRunes(link[2:len(link)-1], unicode.IsSpace) + ")"
	})
	if r, size := utf8.DecodeRuneInString(s); capitalizable(r) {
		s = string(unicode.ToUpper(r)) + s[size:]
	}
	if r, _ := utf8.DecodeLastRuneInString(s); !strings.ContainsRune(".!?", r) {
		s += "."
	}
	return s
}

// headingName cleans text that ends up inside link brackets.
func headingName(s string) string {
	return collapse(strings.NewReplacer("[", "", "]", "").Replace(s))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanURL makes a URL safe to place inside a markdown link.
func cleanURL(u string) string {
	u = encodeURLRunes(strings.TrimSpace(u), func(r rune) bool {
		return r == '(' || r == ')' || unicode.IsSpace(r)
	})
	for len(u) > 1 && strings.HasSuffix(u, "/") {
		u = strings.TrimSuffix(u, "/")
	}
	return u
}

// encodeURLRunes percent-encodes the runes of u that match.
func encodeURLRunes(u string, match func(rune) bool) string {
	var b strings.Builder
	for _, r := range u {
		if !match(r) {
			b.WriteRune(r)
			continue
		}
		var buf [utf8.UTFMax]byte
		for _, c := range buf[:utf8.EncodeRune(buf[:], r)] {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// anchorer produces GitHub-style heading anchors, numbering duplicates.
type anchorer struct {
	seen map[string]int
}

func newAnchorer() *anchorer {
	return &anchorer{seen: map[string]int{}}
}

func (a *anchorer) anchor(heading string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(heading) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}

	base := b.String()
	n := a.seen[base]
	a.seen[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n)
}
