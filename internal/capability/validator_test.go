package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intentflow/internal/common/logger"
)

func newValidator(t *testing.T) *SchemaValidator {
	v, err := NewSchemaValidator(logger.NewNoOpLogger())
	require.NoError(t, err)
	return v
}

func TestValidate_AcceptsRoutedIntent(t *testing.T) {
	v := newValidator(t)

	verdict, err := v.Validate(context.Background(), Input{
		Kind:      "swap",
		Chain:     "ethereum",
		Venue:     "uniswap",
		Asset:     "ETH",
		AmountUSD: 1000,
	})
	require.NoError(t, err)
	assert.True(t, verdict.Valid)
	assert.Empty(t, verdict.Errors)
}

func TestValidate_RejectsUnknownKind(t *testing.T) {
	v := newValidator(t)

	verdict, err := v.Validate(context.Background(), Input{
		Kind:  "teleport",
		Chain: "ethereum",
	})
	require.NoError(t, err)
	assert.False(t, verdict.Valid)
	assert.NotEmpty(t, verdict.Errors)
}

func TestValidate_RejectsOverLeverage(t *testing.T) {
	v := newValidator(t)

	verdict, err := v.Validate(context.Background(), Input{
		Kind:     "perp",
		Chain:    "arbitrum",
		Leverage: 150,
	})
	require.NoError(t, err)
	assert.False(t, verdict.Valid)
}

func TestValidate_WarnsOnMissingEstimate(t *testing.T) {
	v := newValidator(t)

	verdict, err := v.Validate(context.Background(), Input{
		Kind:  "perp",
		Chain: "arbitrum",
	})
	require.NoError(t, err)
	assert.True(t, verdict.Valid)
	assert.NotEmpty(t, verdict.Warnings)
}
