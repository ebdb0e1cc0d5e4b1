package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCommandFlags(t *testing.T) {
	budget := checkCmd.Flags().Lookup("budget")
	require.NotNil(t, budget)
	assert.Equal(t, "0", budget.DefValue)

	showPossible := checkCmd.Flags().Lookup("show-possible-null-derefs")
	require.NotNil(t, showPossible)
	assert.Equal(t, "false", showPossible.DefValue)

	require.NoError(t, checkCmd.Flags().Set("budget", "128"))
	assert.Equal(t, 128, traceBudget)
	assert.True(t, checkCmd.Flags().Changed("budget"))

	require.NoError(t, checkCmd.Flags().Set("show-possible-null-derefs", "true"))
	assert.True(t, showPossibleNulls)
}
