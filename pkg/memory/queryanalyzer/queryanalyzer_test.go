package queryanalyzer

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConstraint(t *testing.T) {
	t.Run("plain range", func(t *testing.T) {
		c := ParseConstraint("2024-06-01 to 2024-06-30")
		require.NotNil(t, c)
		assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), c.Start)
		assert.Equal(t, time.Date(2024, 6, 30, 23, 59, 59, 999999000, time.UTC), c.End)
	})

	t.Run("range embedded in chatter", func(t *testing.T) {
		c := ParseConstraint("The answer is 2023-01-01 to 2023-01-31, I think.")
		require.NotNil(t, c)
		assert.Equal(t, "2023-01-01 to 2023-01-31", c.String())
	})

	t.Run("negative answers", func(t *testing.T) {
		for _, answer := range []string{"none", "None", " NULL ", "no", ""} {
			assert.Nil(t, ParseConstraint(answer), answer)
		}
	})

	t.Run("inverted range", func(t *testing.T) {
		assert.Nil(t, ParseConstraint("2024-06-30 to 2024-06-01"))
	})

	t.Run("single day range", func(t *testing.T) {
		c := ParseConstraint("2024-06-15 to 2024-06-15")
		require.NotNil(t, c)
		assert.True(t, c.End.After(c.Start))
	})

	t.Run("malformed output", func(t *testing.T) {
		assert.Nil(t, ParseConstraint("June 2024"))
		assert.Nil(t, ParseConstraint("2024-6-1 to 2024-6-30"))
	})
}

type fakeCompleter struct {
	response string
	err      error

	gotUser string
}

func (f *fakeCompleter) Completion(_ context.Context, _, _, user string) (string, error) {
	f.gotUser = user
	return f.response, f.err
}

func TestLLMAnalyzer(t *testing.T) {
	logger := log.New(io.Discard)
	ref := time.Date(2024, 8, 24, 12, 0, 0, 0, time.UTC)

	t.Run("extracts constraint", func(t *testing.T) {
		llm := &fakeCompleter{response: "2024-06-01 to 2024-06-30"}
		analyzer, err := NewLLMAnalyzer(logger, llm, "test-model")
		require.NoError(t, err)

		analysis, err := analyzer.Analyze(context.Background(), "what happened in June 2024", ref)
		require.NoError(t, err)
		require.NotNil(t, analysis.TemporalConstraint)
		assert.Equal(t, "2024-06-01 to 2024-06-30", analysis.TemporalConstraint.String())

		// The few-shot prompt carries the reference date and last year.
		assert.Contains(t, llm.gotUser, "Today is 2024-08-24")
		assert.Contains(t, llm.gotUser, "2023-01-01 to 2023-12-31")
		assert.Contains(t, llm.gotUser, "what happened in June 2024 =")
	})

	t.Run("no constraint", func(t *testing.T) {
		llm := &fakeCompleter{response: "none"}
		analyzer, err := NewLLMAnalyzer(logger, llm, "test-model")
		require.NoError(t, err)

		analysis, err := analyzer.Analyze(context.Background(), "what is the weather", ref)
		require.NoError(t, err)
		assert.Nil(t, analysis.TemporalConstraint)
	})

	t.Run("llm error propagates", func(t *testing.T) {
		llm := &fakeCompleter{err: errors.New("boom")}
		analyzer, err := NewLLMAnalyzer(logger, llm, "test-model")
		require.NoError(t, err)

		_, err = analyzer.Analyze(context.Background(), "query", ref)
		require.Error(t, err)
	})

	t.Run("constructor validation", func(t *testing.T) {
		_, err := NewLLMAnalyzer(nil, &fakeCompleter{}, "m")
		require.Error(t, err)
		_, err = NewLLMAnalyzer(logger, nil, "m")
		require.Error(t, err)
		_, err = NewLLMAnalyzer(logger, &fakeCompleter{}, "")
		require.Error(t, err)
	})
}
