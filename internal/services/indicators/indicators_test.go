package indicators

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEMA(t *testing.T) {
	closes := []float64{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}

	values, err := EMA(closes, 3)
	require.NoError(t, err)
	require.NotEmpty(t, values)

	// On a monotonically rising series the EMA rises too.
	for i := 1; i < len(values); i++ {
		require.Greater(t, values[i], values[i-1])
	}
}

func TestEMANotEnoughData(t *testing.T) {
	_, err := EMA([]float64{10, 11}, 5)
	require.Error(t, err)
}

func TestATRConstantRange(t *testing.T) {
	n := 30
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		highs[i] = 102
		lows[i] = 98
		closes[i] = 100
	}

	values, err := ATR(highs, lows, closes, 14)
	require.NoError(t, err)
	require.NotEmpty(t, values)
	// True range is 4 on every candle, so the averaged value settles at 4.
	require.InDelta(t, 4.0, values[len(values)-1], 1e-9)

	require.InDelta(t, 4.0, LastATR(highs, lows, closes, 14), 1e-9)
}

func TestATRInputValidation(t *testing.T) {
	_, err := ATR([]float64{1, 2}, []float64{1, 2}, []float64{1, 2}, 14)
	require.Error(t, err)

	_, err = ATR(make([]float64, 30), make([]float64, 29), make([]float64, 30), 14)
	require.Error(t, err)

	require.Equal(t, 0.0, LastATR(nil, nil, nil, 14))
}

func TestSlope(t *testing.T) {
	require.Equal(t, 0.0, Slope(nil))
	require.Equal(t, 0.0, Slope([]float64{5}))

	require.InDelta(t, 2.0, Slope([]float64{1, 3, 5, 7}), 1e-12)
	require.InDelta(t, -1.0, Slope([]float64{10, 9, 8, 7, 6}), 1e-12)
	require.InDelta(t, 0.0, Slope([]float64{4, 4, 4, 4}), 1e-12)
}

func TestMomentum(t *testing.T) {
	require.Equal(t, 0.0, Momentum(nil, 20))
	require.Equal(t, 0.0, Momentum([]float64{100}, 20))

	// Rising 1 per candle around an average of 104.5 over the last 10.
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 80 + float64(i)
	}
	m := Momentum(closes, 10)
	require.InDelta(t, 1.0/104.5, m, 1e-9)

	// Flat series has no drift.
	flat := []float64{100, 100, 100, 100, 100}
	require.InDelta(t, 0.0, Momentum(flat, 20), 1e-12)
}

func TestVolumeSurge(t *testing.T) {
	// Too little history defaults to neutral.
	require.Equal(t, 1.0, VolumeSurge(make([]float64, 19)))

	volumes := make([]float64, 20)
	for i := 0; i < 10; i++ {
		volumes[i] = 100
	}
	for i := 10; i < 20; i++ {
		volumes[i] = 300
	}
	require.InDelta(t, 3.0, VolumeSurge(volumes), 1e-12)

	// Zero prior volume defaults to neutral instead of dividing by zero.
	zeros := make([]float64, 20)
	for i := 10; i < 20; i++ {
		zeros[i] = 100
	}
	require.Equal(t, 1.0, VolumeSurge(zeros))
}