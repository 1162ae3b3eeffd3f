package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatWidth(t *testing.T) {
	tests := []struct {
		pattern string
		i       int
		want    string
	}{
		{"t/%03d.in", 7, "t/007.in"},
		{"a%02db%1d", 5, "a05b5"},
		{"%d", 42, "42"},
		{"no-placeholder.in", 3, "no-placeholder.in"},
	}

	for _, tc := range tests {
		got := FormatWidth(tc.pattern, tc.i)
		assert.Equal(t, tc.want, got)
	}
}

func TestAnswerPath(t *testing.T) {
	assert.Equal(t, "t/007.in.a", AnswerPath("t/007.in"))
}

func TestInvalidLanguageResultHasNoPayload(t *testing.T) {
	result := InvalidLanguageResult("abc")
	assert.Equal(t, CodeInvalidLanguage, result.Code)
	assert.Nil(t, result.Judgement)
	assert.Nil(t, result.RunCached)
}
