package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessCmd_RejectsNonIntegerMRID(t *testing.T) {
	configFile, secretsDir, repoDir, parallelism := "", "", "", 0
	cmd := NewProcessCmd(&configFile, &secretsDir, &repoDir, &parallelism)

	err := cmd.RunE(cmd, []string{"not-a-number"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mr-id must be an integer")
}
