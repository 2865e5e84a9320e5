package framework

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegexFiltersDefaultAllowsEverything(t *testing.T) {
	var f RegexFilters
	assert.True(t, f.AsFilter(TestID{Path: []string{"anything", "at all"}}))
	assert.False(t, f.IsDefined())
}

func TestRegexFiltersMustMatch(t *testing.T) {
	var f RegexFilters
	require.NoError(t, f.MustMatch.Set("^filesystem/"))
	assert.True(t, f.AsFilter(TestID{Path: []string{"filesystem", "write file"}}))
	assert.False(t, f.AsFilter(TestID{Path: []string{"system", "os release"}}))
}

func TestRegexFiltersMustNotMatchWins(t *testing.T) {
	var f RegexFilters
	require.NoError(t, f.MustMatch.Set("filesystem"))
	require.NoError(t, f.MustNotMatch.Set("restore"))
	assert.True(t, f.AsFilter(TestID{Path: []string{"filesystem", "write file"}}))
	assert.False(t, f.AsFilter(TestID{Path: []string{"filesystem", "restore file"}}))
}

func TestRegexListRejectsInvalidPattern(t *testing.T) {
	var l RegexList
	assert.Error(t, l.Set("("))
}

func TestRegexListString(t *testing.T) {
	var l RegexList
	require.NoError(t, l.Set("a"))
	require.NoError(t, l.Set("b"))
	assert.Equal(t, `"a" or "b"`, l.String())
}
