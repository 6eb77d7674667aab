package utils

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"
)

func TestRawToFloat64(t *testing.T) {
	out, err := RawToFloat64(sdkmath.NewInt(1_500_000), 6)
	require.NoError(t, err)
	require.InDelta(t, 1.5, out, 1e-9)

	out, err = RawToFloat64(sdkmath.NewInt(42), 0)
	require.NoError(t, err)
	require.InDelta(t, 42.0, out, 1e-9)

	_, err = RawToFloat64(sdkmath.NewInt(1), 19)
	require.ErrorIs(t, err, ErrInvalidDecimals)

	_, err = RawToFloat64(sdkmath.Int{}, 6)
	require.ErrorIs(t, err, ErrAmountNil)

	_, err = RawToFloat64(sdkmath.NewInt(-1), 6)
	require.ErrorIs(t, err, ErrAmountNegative)
}

func TestFloat64ToRaw(t *testing.T) {
	out, err := Float64ToRaw(1.5, 6)
	require.NoError(t, err)
	require.Equal(t, int64(1_500_000), out.Int64())

	out, err = Float64ToRaw(0, 18)
	require.NoError(t, err)
	require.True(t, out.IsZero())

	// Sub-unit dust truncates away.
	out, err = Float64ToRaw(0.1234567899, 6)
	require.NoError(t, err)
	require.Equal(t, int64(123_457), out.Int64()) // string render rounds at the 6th place

	_, err = Float64ToRaw(-0.5, 6)
	require.ErrorIs(t, err, ErrAmountNegative)
}

func TestRoundTripThroughRaw(t *testing.T) {
	raw, err := Float64ToRaw(1234.5678, 8)
	require.NoError(t, err)

	back, err := RawToFloat64(raw, 8)
	require.NoError(t, err)
	require.InDelta(t, 1234.5678, back, 1e-6)
}
