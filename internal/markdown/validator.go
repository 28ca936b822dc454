package markdown

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jdholdren/awesync/internal/awesome"
)

// Rule names reported on validation errors.
const (
	RuleTitle              = "title"
	RuleBadge              = "badge"
	RuleTOC                = "toc"
	RuleTOCFormat          = "toc-format"
	RuleListFormat         = "list-format"
	RuleURLTrailingSlash   = "url-trailing-slash"
	RuleDescriptionCapital = "description-capital"
	RuleDescriptionPeriod  = "description-period"
	RuleCategoryNesting    = "category-nesting"
	RuleCategoryCapital    = "category-capital"
	RuleURLSpaces          = "url-spaces"
	RuleURLProtocol        = "url-protocol"
	RuleURLHTTPS           = "url-https"
	RuleCapitalization     = "capitalization"
	RuleTrailingWhitespace = "trailing-whitespace"
	RuleListMarker         = "list-marker"
	RuleFinalNewline       = "final-newline"
	RuleDoubleBlank        = "double-blank"
	RuleLicense            = "license"
)

var (
	awesomeBadgePattern   = regexp.MustCompile(`\[!\[Awesome\]\(https://awesome\.re/badge(?:-flat2?)?\.svg\)\]\(https://awesome\.re\)`)
	listItemPattern       = regexp.MustCompile(`^\s*- \[[^\]]+\]\(([^)\s]+)\)(?: - (.+))?$`)
	tocEntryPattern       = regexp.MustCompile(`^\s*- \[[^\]]+\]\(#[^)\s]*\)$`)
	anyBulletPattern      = regexp.MustCompile(`^\s*[-*+]\s`)
	starMarkerPattern     = regexp.MustCompile(`^\s*\*\s`)
	blockquotePattern     = regexp.MustCompile(`^>\s?(.*)$`)
	linkURLPattern        = regexp.MustCompile(`\]\(([^)]*)\)`)
	bareURLPattern        = regexp.MustCompile(`(?:https?|mailto):\S+`)
	resourceCountPattern  = regexp.MustCompile(`^\s*[-*] \[[^\]]+\]\([^)#][^)]*\)`)
	licenseMentionPattern = regexp.MustCompile(`(?i)license|cc0|cc-zero`)
	localhostPattern      = regexp.MustCompile(`^http://(localhost|127\.0\.0\.1)(:\d+)?(/|$)`)
)

type spelling struct {
	wrong   *regexp.Regexp
	written string
	correct string
}

// Terms that have a canonical casing.
var spellings = func() []spelling {
	pairs := [][2]string{
		{"Github", "GitHub"},
		{"Gitlab", "GitLab"},
		{"Javascript", "JavaScript"},
		{"Typescript", "TypeScript"},
		{"Json", "JSON"},
		{"Yaml", "YAML"},
		{"Html", "HTML"},
		{"Css", "CSS"},
		{"Api", "API"},
		{"Url", "URL"},
		{"Macos", "macOS"},
		{"MacOS", "macOS"},
		{"Nodejs", "Node.js"},
		{"NodeJS", "Node.js"},
		{"Postgresql", "PostgreSQL"},
		{"Mysql", "MySQL"},
		{"Mongodb", "MongoDB"},
		{"Graphql", "GraphQL"},
		{"Youtube", "YouTube"},
		{"Wordpress", "WordPress"},
		{"Stackoverflow", "Stack Overflow"},
	}
	out := make([]spelling, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, spelling{
			wrong:   regexp.MustCompile(`\b` + regexp.QuoteMeta(p[0]) + `\b`),
			written: p[0],
			correct: p[1],
		})
	}
	return out
}()

type linter struct {
	errs  []awesome.ValidationError
	warns []awesome.ValidationError
}

func (l *linter) report(line int, rule string, sev awesome.Severity, format string, args ...any) {
	e := awesome.ValidationError{
		Line:     line,
		Rule:     rule,
		Message:  fmt.Sprintf(format, args...),
		Severity: sev,
	}
	if sev == awesome.SeverityError {
		l.errs = append(l.errs, e)
		return
	}
	l.warns = append(l.warns, e)
}

// Validate lints a document against the awesome-list conventions. It has no
// side effects and returns the same result for the same input.
func Validate(text string) awesome.ValidationResult {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := documentLines(text)

	var (
		l          linter
		titleLine  int
		titleText  string
		hasBadge   bool
		hasTOC     bool
		inTOC      bool
		lastDepth  int
		prevBlank  bool
		stats      = awesome.ValidationStats{TotalLines: len(lines)}
		categories int
	)

	for i, line := range lines {
		n := i + 1

		if awesomeBadgePattern.MatchString(line) {
			hasBadge = true
		}
		if resourceCountPattern.MatchString(line) {
			stats.TotalResources++
		}
		if strings.TrimRight(line, " \t") != line {
			l.report(n, RuleTrailingWhitespace, awesome.SeverityWarning, "Trailing whitespace")
		}

		blank := strings.TrimSpace(line) == ""
		if blank && prevBlank {
			l.report(n, RuleDoubleBlank, awesome.SeverityWarning, "Multiple consecutive blank lines")
		}
		prevBlank = blank
		if blank {
			continue
		}

		lintURLs(&l, n, line)
		lintSpelling(&l, n, line)

		if m := headerPattern.FindStringSubmatch(line); m != nil {
			depth, heading := len(m[1]), m[2]
			if lastDepth > 0 && depth > lastDepth+1 {
				l.report(n, RuleCategoryNesting, awesome.SeverityError,
					"Header level %d skips a level after level %d", depth, lastDepth)
			}
			lastDepth = depth

			inTOC = false
			switch depth {
			case 1:
				if titleLine == 0 {
					titleLine, titleText = n, heading
				}
			case 2:
				if !hasTOC && strings.Contains(heading, "Contents") {
					inTOC, hasTOC = true, true
					break
				}
				categories++
				if r, _ := utf8.DecodeRuneInString(heading); !unicode.IsUpper(r) {
					l.report(n, RuleCategoryCapital, awesome.SeverityWarning,
						"Category %q should start with an uppercase letter", heading)
				}
			}
			continue
		}

		if starMarkerPattern.MatchString(line) {
			l.report(n, RuleListMarker, awesome.SeverityError, "Use '-' instead of '*' for list items")
		}

		if inTOC {
			if anyBulletPattern.MatchString(line) && !tocEntryPattern.MatchString(line) {
				l.report(n, RuleTOCFormat, awesome.SeverityError, "Table of contents entries must be '- [Text](#anchor)'")
			}
			continue
		}

		if strings.HasPrefix(strings.TrimLeft(line, " \t"), "- [") {
			lintListItem(&l, n, line)
			continue
		}

		if m := blockquotePattern.FindStringSubmatch(line); m != nil {
			lintDescription(&l, n, strings.TrimSpace(m[1]), awesome.SeverityWarning)
		}
	}

	if titleLine == 0 {
		l.report(1, RuleTitle, awesome.SeverityError, "Missing main title (# Awesome Name)")
	} else if !strings.Contains(titleText, "Awesome") {
		l.report(titleLine, RuleTitle, awesome.SeverityError, "Title should contain 'Awesome'")
	}
	if !hasBadge {
		l.report(max(titleLine, 1), RuleBadge, awesome.SeverityError, "Missing awesome badge")
	}
	if categories > 3 && !hasTOC {
		l.report(1, RuleTOC, awesome.SeverityWarning, "Lists with more than 3 categories should have a Contents section")
	}
	if !licenseMentionPattern.MatchString(text) {
		l.report(max(len(lines), 1), RuleLicense, awesome.SeverityWarning, "No license information found")
	}
	switch {
	case !strings.HasSuffix(text, "\n"):
		l.report(max(len(lines), 1), RuleFinalNewline, awesome.SeverityError, "File must end with a single newline")
	case strings.HasSuffix(text, "\n\n"):
		l.report(len(lines), RuleFinalNewline, awesome.SeverityError, "File must end with exactly one newline")
	}

	stats.TotalCategories = categories

	sort.SliceStable(l.errs, func(i, j int) bool { return l.errs[i].Line < l.errs[j].Line })
	sort.SliceStable(l.warns, func(i, j int) bool { return l.warns[i].Line < l.warns[j].Line })
	if l.errs == nil {
		l.errs = []awesome.ValidationError{}
	}
	if l.warns == nil {
		l.warns = []awesome.ValidationError{}
	}

	return awesome.ValidationResult{
		Valid:    len(l.errs) == 0,
		Errors:   l.errs,
		Warnings: l.warns,
		Stats:    stats,
	}
}

// documentLines splits text into lines, dropping the empty element produced
// by a final newline.
func documentLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func lintListItem(l *linter, n int, line string) {
	m := listItemPattern.FindStringSubmatch(line)
	if m == nil {
		l.report(n, RuleListFormat, awesome.SeverityError, "List items must be '- [Name](url) - Description.'")
		return
	}

	if url := m[1]; url != "/" && strings.HasSuffix(url, "/") {
		l.report(n, RuleURLTrailingSlash, awesome.SeverityError, "URL %q should not end with a slash", url)
	}
	if desc := strings.TrimSpace(m[2]); desc != "" {
		lintDescription(l, n, desc, awesome.SeverityError)
	}
}

// lintDescription checks casing and punctuation. Descriptions that start with
// something other than a letter that has an uppercase form are not held to
// the casing rule.
func lintDescription(l *linter, n int, desc string, sev awesome.Severity) {
	if desc == "" {
		return
	}
	if r, _ := utf8.DecodeRuneInString(desc); capitalizable(r) {
		l.report(n, RuleDescriptionCapital, sev, "Description should start with an uppercase letter")
	}
	if r, _ := utf8.DecodeLastRuneInString(desc); !strings.ContainsRune(".!?", r) {
		l.report(n, RuleDescriptionPeriod, sev, "Description should end with '.', '!' or '?'")
	}
}

// capitalizable reports whether r is lowercase and has an uppercase form.
// "ß" has none.
func capitalizable(r rune) bool {
	return unicode.IsLower(r) && unicode.ToUpper(r) != r
}

func lintURLs(l *linter, n int, line string) {
	for _, m := range linkURLPattern.FindAllStringSubmatch(line, -1) {
		url := m[1]
		if strings.Contains(url, " ") {
			l.report(n, RuleURLSpaces, awesome.SeverityError, "URL %q contains spaces", url)
		}
		if !hasKnownScheme(url) {
			l.report(n, RuleURLProtocol, awesome.SeverityWarning, "URL %q should use http(s), mailto or an anchor", url)
		}
		if strings.HasPrefix(url, "http://") && !localhostPattern.MatchString(url) {
			l.report(n, RuleURLHTTPS, awesome.SeverityWarning, "URL %q should use https", url)
		}
	}
}

func hasKnownScheme(url string) bool {
	for _, prefix := range []string{"#", "http://", "https://", "mailto:"} {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}

func lintSpelling(l *linter, n int, line string) {
	prose := linkURLPattern.ReplaceAllString(line, "]")
	prose = bareURLPattern.ReplaceAllString(prose, "")
	for _, s := range spellings {
		if s.wrong.MatchString(prose) {
			l.report(n, RuleCapitalization, awesome.SeverityWarning, "Use %q instead of %q", s.correct, s.written)
		}
	}
}
