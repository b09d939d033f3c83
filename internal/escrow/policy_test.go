// internal/escrow/policy_test.go
package escrow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestRefundSplitTiers(t *testing.T) {
	cases := []struct {
		days           int
		clientPct      int64
		counterpartPct int64
	}{
		{30, 100, 0},
		{15, 100, 0},
		{14, 100, 0},
		{13, 50, 50},
		{8, 50, 50},
		{7, 50, 50},
		{6, 25, 75},
		{4, 25, 75},
		{3, 25, 75},
		{2, 0, 100},
		{1, 0, 100},
		{0, 0, 100},
	}

	for _, tc := range cases {
		clientPct, counterpartPct := RefundSplit(tc.days)
		assert.Equal(t, tc.clientPct, clientPct, "client pct at %d days", tc.days)
		assert.Equal(t, tc.counterpartPct, counterpartPct, "counterpart pct at %d days", tc.days)
	}
}

func TestRefundSplitAlwaysSumsToHundred(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		days := rapid.IntRange(0, 365).Draw(t, "days")
		clientPct, counterpartPct := RefundSplit(days)
		assert.Equal(t, int64(100), clientPct+counterpartPct)
		assert.GreaterOrEqual(t, clientPct, int64(0))
		assert.GreaterOrEqual(t, counterpartPct, int64(0))
	})
}
