package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codalotl/intentbench/internal/config"
	"github.com/codalotl/intentbench/internal/suite"
)

func TestDefaultSuiteAndConfigAreCoherent(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	s := suite.Default()
	require.NoError(t, s.Validate())
	require.NotEmpty(t, s.Items(), "default suite must define queries")

	prompt := s.SystemPrompt()
	for _, label := range s.LabelNames() {
		require.NotEqual(t, "unknown", label, "unknown is reserved for unparseable replies")
		require.True(t, strings.Contains(prompt, label), "system prompt must list label %s", label)
	}
}
