package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicksBetween(t *testing.T) {
	testCases := []struct {
		desc     string
		from, to Price
		tick     float64
		want     float64
	}{
		{desc: "down three 0.1 ticks", from: 100, to: 99.7, tick: 0.1, want: -3},
		{desc: "large price", from: 1000, to: 999.7, tick: 0.1, want: -3},
		{desc: "fractional start", from: 100.3, to: 100, tick: 0.1, want: -3},
		{desc: "cent ticks", from: 10.1, to: 10.17, tick: 0.01, want: 7},
		{desc: "partial tick", from: 100, to: 100.05, tick: 0.1, want: 0.5},
		{desc: "no tick size", from: 1, to: 2, tick: 0, want: 0},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, TicksBetween(tc.from, tc.to, tc.tick))
		})
	}
}

func TestIsExitReason(t *testing.T) {
	testCases := []struct {
		reason string
		exit   bool
	}{
		{reason: string(ExitStopLoss), exit: true},
		{reason: string(ExitTimeStop), exit: true},
		{reason: string(ExitRangeBreak), exit: true},
		{reason: "grid_take"},
		{reason: "tape_long"},
	}
	for _, tc := range testCases {
		t.Run(tc.reason, func(t *testing.T) {
			assert.Equal(t, tc.exit, IsExitReason(tc.reason))
		})
	}
}

func TestParseStrategyID(t *testing.T) {
	for _, id := range AllStrategies() {
		parsed, ok := ParseStrategyID(" " + strings.ToUpper(id.String()))
		require.True(t, ok, id.String())
		assert.Equal(t, id, parsed)
	}
	_, ok := ParseStrategyID("scalper")
	assert.False(t, ok)
}
