package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"migrate", "log-query", "triage", "candidates", "extract", "run", "status", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "aminoscout", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestStageCommand_Flags(t *testing.T) {
	for _, tc := range []struct {
		cmd   string
		flags []string
	}{
		{"triage", []string{"limit"}},
		{"candidates", []string{"limit", "top-k"}},
		{"extract", []string{"limit"}},
		{"run", []string{"triage-limit", "discover-limit", "top-k", "extract-limit"}},
		{"status", []string{"review-limit", "json"}},
		{"serve", []string{"port"}},
	} {
		c, _, err := rootCmd.Find([]string{tc.cmd})
		require.NoError(t, err)
		for _, name := range tc.flags {
			flag := c.Flags().Lookup(name)
			require.NotNil(t, flag, "%s should have --%s flag", tc.cmd, name)
		}
	}
}

func TestLogQueryCommand_RequiresText(t *testing.T) {
	assert.Error(t, logQueryCmd.Args(logQueryCmd, nil))
	assert.NoError(t, logQueryCmd.Args(logQueryCmd, []string{"red", "lentils"}))
}

func TestLimitOr(t *testing.T) {
	assert.Equal(t, 7, limitOr(7, 25))
	assert.Equal(t, 25, limitOr(0, 25))
	assert.Equal(t, 25, limitOr(-1, 25))
}
