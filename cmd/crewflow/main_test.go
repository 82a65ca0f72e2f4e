package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContext(t *testing.T) {
	extra, err := parseContext([]string{"language=go", "framework=gin", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"language":  "go",
		"framework": "gin",
		"note":      "a=b", // values may contain '='
	}, extra)
}

func TestParseContextEmpty(t *testing.T) {
	extra, err := parseContext(nil)
	require.NoError(t, err)
	assert.Nil(t, extra)
}

func TestParseContextRejectsMalformedPairs(t *testing.T) {
	for _, pair := range []string{"novalue", "=orphan"} {
		_, err := parseContext([]string{pair})
		require.Error(t, err, pair)
		assert.Contains(t, err.Error(), "expected key=value")
	}
}

func TestRootCommandShape(t *testing.T) {
	root := rootCmd()

	names := make([]string, 0, 4)
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"feature", "bugfix", "resume", "version"}, names)

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "crewflow.yaml", flag.DefValue)
}

func TestUniqueSteps(t *testing.T) {
	got := uniqueSteps([]string{"a", "b", "a", "c", "b"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
