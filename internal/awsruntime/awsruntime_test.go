package awsruntime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesRegionOverride(t *testing.T) {
	cfg, err := Load(context.Background(), Options{Region: "us-west-2"})
	require.NoError(t, err)
	assert.Equal(t, "us-west-2", cfg.Region)
}

func TestLoadWithoutRegionUsesDefaultChain(t *testing.T) {
	_, err := Load(context.Background(), Options{})
	require.NoError(t, err)
}
