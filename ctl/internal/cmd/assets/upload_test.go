package assets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadCmdArgs(t *testing.T) {
	cmd := NewUploadCmd()
	assert.Error(t, cmd.Args(cmd, []string{"public/images"}))
	assert.NoError(t, cmd.Args(cmd, []string{"public/images", ""}))

	require.NoError(t, cmd.ParseFlags([]string{"--no-optimize"}))
	noOptimize, err := cmd.Flags().GetBool("no-optimize")
	require.NoError(t, err)
	assert.True(t, noOptimize)
}

func TestListCmdArgs(t *testing.T) {
	cmd := NewListCmd()
	assert.Error(t, cmd.Args(cmd, []string{"images"}))
	assert.NotNil(t, cmd.Flags().Lookup("prefix"))
}
