// Package queryanalyzer extracts structured constraints from natural
// language memory queries, currently temporal ranges.
package queryanalyzer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/recollect-ai/recollect/pkg/ai"
)

// TemporalConstraint is an inclusive date range extracted from a query.
type TemporalConstraint struct {
	Start time.Time
	End   time.Time
}

func (c TemporalConstraint) String() string {
	return fmt.Sprintf("%s to %s", c.Start.Format("2006-01-02"), c.End.Format("2006-01-02"))
}

// Analysis is the structured result of analyzing one query.
type Analysis struct {
	// TemporalConstraint is nil when the query has no time reference.
	TemporalConstraint *TemporalConstraint
}

// Analyzer extracts structured information from queries.
type Analyzer interface {
	Analyze(ctx context.Context, query string, referenceDate time.Time) (Analysis, error)
}

const temporalPromptTemplate = `Today is %s. Convert temporal expressions to date ranges.

June 2024 = 2024-06-01 to 2024-06-30
March 2023 = 2023-03-01 to 2023-03-31
dogs in June 2023 = 2023-06-01 to 2023-06-30
last year = %d-01-01 to %d-12-31
events in January 2020 = 2020-01-01 to 2020-01-31
what is the weather = none
%s =`

// LLMAnalyzer resolves temporal expressions with a few-shot completion.
type LLMAnalyzer struct {
	logger *log.Logger
	llm    ai.Completion
	model  string
}

func NewLLMAnalyzer(logger *log.Logger, llm ai.Completion, model string) (*LLMAnalyzer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm cannot be nil")
	}
	if model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	return &LLMAnalyzer{logger: logger, llm: llm, model: model}, nil
}

var _ Analyzer = (*LLMAnalyzer)(nil)

func (a *LLMAnalyzer) Analyze(ctx context.Context, query string, referenceDate time.Time) (Analysis, error) {
	if referenceDate.IsZero() {
		referenceDate = time.Now().UTC()
	}
	prompt := fmt.Sprintf(temporalPromptTemplate,
		referenceDate.Format("2006-01-02"),
		referenceDate.Year()-1, referenceDate.Year()-1,
		query)

	result, err := a.llm.Completion(ctx, a.model,
		"You convert temporal expressions in queries to absolute date ranges. Answer with 'YYYY-MM-DD to YYYY-MM-DD' or 'none'.",
		prompt)
	if err != nil {
		return Analysis{}, fmt.Errorf("analyzing query: %w", err)
	}

	constraint := ParseConstraint(result)
	if constraint == nil {
		a.logger.Debug("no temporal constraint found", "query", query)
	}
	return Analysis{TemporalConstraint: constraint}, nil
}

var dateRangePattern = regexp.MustCompile(`(?i)(\d{4}-\d{2}-\d{2})\s+to\s+(\d{4}-\d{2}-\d{2})`)

// ParseConstraint parses a "YYYY-MM-DD to YYYY-MM-DD" answer into an
// inclusive constraint spanning whole days. "none" answers, malformed dates
// and inverted ranges all yield nil.
func ParseConstraint(result string) *TemporalConstraint {
	trimmed := strings.ToLower(strings.TrimSpace(result))
	if trimmed == "" || trimmed == "none" || trimmed == "null" || trimmed == "no" {
		return nil
	}

	match := dateRangePattern.FindStringSubmatch(result)
	if match == nil {
		return nil
	}
	start, err := time.Parse("2006-01-02", match[1])
	if err != nil {
		return nil
	}
	end, err := time.Parse("2006-01-02", match[2])
	if err != nil {
		return nil
	}

	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	end = time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 999999000, time.UTC)
	if end.Before(start) {
		return nil
	}
	return &TemporalConstraint{Start: start, End: end}
}
