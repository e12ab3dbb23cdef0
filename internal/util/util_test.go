package util

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSpace(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "already normal", input: "apple 10-K", want: "apple 10-K"},
		{name: "tabs and newlines", input: "  apple\t\t10-K\nrisk  ", want: "apple 10-K risk"},
		{name: "blank", input: " \n\t ", want: ""},
		{name: "cjk with full spaces", input: "苹果  年报", want: "苹果 年报"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSpace(tt.input))
		})
	}
}

func TestUniqueTrimmed(t *testing.T) {
	items := []string{" a ", "b", "", "a", "  ", "c", "d", "b", "e"}

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, UniqueTrimmed(items, 0))
	assert.Equal(t, []string{"a", "b", "c"}, UniqueTrimmed(items, 3))
	assert.Empty(t, UniqueTrimmed(nil, 5))
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		maxLen        int
		preserveWords bool
		want          string
	}{
		{name: "short enough", input: "revenue", maxLen: 10, want: "revenue"},
		{name: "zero length", input: "revenue", maxLen: 0, want: ""},
		{name: "tiny limit", input: "revenue", maxLen: 2, want: ".."},
		{name: "hard cut", input: "revenue recognition", maxLen: 10, want: "revenue..."},
		{name: "word boundary", input: "revenue recognition policy", maxLen: 23, preserveWords: true, want: "revenue recognition..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateString(tt.input, tt.maxLen, tt.preserveWords))
		})
	}
}

func TestTruncateString_UTF8(t *testing.T) {
	inputs := []string{
		"查询中文数据库中的用户信息",
		"Query for 用户信息 in the database system",
		"Hello 👋 World 🌍 Testing 🎉 Emoji",
	}
	for _, in := range inputs {
		out := TruncateString(in, 10, true)
		assert.True(t, utf8.ValidString(out), "invalid UTF-8 for %q", in)
		assert.LessOrEqual(t, utf8.RuneCountInString(out), 10)
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "苹果公", TruncateRunes("苹果公司年报", 3))
	assert.Equal(t, "abc", TruncateRunes("abc", 10))
	assert.Equal(t, "abc", TruncateRunes("abc", -1))
}
