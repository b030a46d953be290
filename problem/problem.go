// Package problem defines the payload scrapers send to the receiver.
package problem

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// UntitledProblem is used wherever a payload carries no usable title.
const UntitledProblem = "Untitled Problem"

// Export is one solved problem as posted by a scraper to POST /add.
//
// Numeric platform-specific fields are kept as json.Number so that they are
// rendered exactly as the scraper sent them.
type Export struct {
	QuestionID  string   `json:"questionId"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Difficulty  string   `json:"difficulty"`
	Tags        []string `json:"tags"`
	ProblemLink string   `json:"problemLink"`
	CurrentCode string   `json:"currentCode"`
	Language    string   `json:"language"`
	Timestamp   string   `json:"timestamp"`
	Platform    string   `json:"platform"`

	// Optional, platform-specific (Codeforces sends these).
	TimeLimit   json.Number `json:"timeLimit,omitempty"`   // ms
	MemoryLimit json.Number `json:"memoryLimit,omitempty"` // MB
	Tests       []TestCase  `json:"tests,omitempty"`
	Interactive *bool       `json:"interactive,omitempty"`
	TimeTaken   json.Number `json:"timeTaken,omitempty"`
}

// ErrNotObject is returned by Decode when the payload is valid JSON but not
// an object.
var ErrNotObject = errors.New("payload must be a JSON object")

// Decode parses a complete payload. Trailing data after the object and
// non-object documents such as null are rejected.
func Decode(data []byte) (*Export, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] != '{' && json.Valid(trimmed) {
		return nil, ErrNotObject
	}

	var p Export
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// TestCase is a literal sample test shipped with the problem statement.
type TestCase struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// NoteName returns the name a note for this export is saved under:
// "<questionId> <title>", or UntitledProblem when both are empty.
func (e *Export) NoteName() string {
	name := strings.TrimSpace(e.QuestionID + " " + e.Title)
	if name == "" {
		return UntitledProblem
	}
	return name
}

// DisplayTitle returns the title used as context for asset names.
func (e *Export) DisplayTitle() string {
	if strings.TrimSpace(e.Title) == "" {
		return UntitledProblem
	}
	return e.Title
}
