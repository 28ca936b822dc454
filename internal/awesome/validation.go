package awesome

import "fmt"

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

type (
	// ValidationError is a single rule violation. Line is 1-indexed.
	ValidationError struct {
		Line     int      `json:"line"`
		Rule     string   `json:"rule"`
		Message  string   `json:"message"`
		Severity Severity `json:"severity"`
	}

	ValidationStats struct {
		TotalLines      int `json:"total_lines"`
		TotalResources  int `json:"total_resources"`
		TotalCategories int `json:"total_categories"`
	}

	ValidationResult struct {
		Valid    bool              `json:"valid"`
		Errors   []ValidationError `json:"errors"`
		Warnings []ValidationError `json:"warnings"`
		Stats    ValidationStats   `json:"stats"`
	}
)

func (e ValidationError) String() string {
	return fmt.Sprintf("line %d: %s (%s)", e.Line, e.Message, e.Rule)
}

// Acceptable reports whether the document may be imported. Strict mode also
// rejects documents with warnings.
func (r ValidationResult) Acceptable(strict bool) bool {
	if len(r.Errors) > 0 {
		return false
	}
	return !strict || len(r.Warnings) == 0
}
