// internal/escrow/domain_test.go
package escrow

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func heldTransaction(amountCents int64, serviceDate time.Time) *Transaction {
	return &Transaction{
		ID:              uuid.New(),
		BookingID:       uuid.New(),
		AmountHeld:      decimal.NewFromInt(amountCents),
		State:           StateHeld,
		HeldSince:       testBase,
		ServiceDate:     serviceDate,
		PlatformFeeRate: decimal.RequireFromString("0.10"),
		Version:         1,
	}
}

func TestReleaseSplitsPlatformFee(t *testing.T) {
	txn := heldTransaction(10000, testBase.Add(5*24*time.Hour))

	rel, err := txn.Release()
	require.NoError(t, err)

	assert.True(t, rel.Payout.Equal(decimal.NewFromInt(9000)), "payout %s", rel.Payout)
	assert.True(t, rel.PlatformFee.Equal(decimal.NewFromInt(1000)), "fee %s", rel.PlatformFee)
}

func TestReleaseFlooredPayoutKeepsSumExact(t *testing.T) {
	// 10% of 10001 is 1000.1, so the payout floors to 9000 and the
	// platform keeps the residual cent.
	txn := heldTransaction(10001, testBase.Add(5*24*time.Hour))

	rel, err := txn.Release()
	require.NoError(t, err)

	assert.True(t, rel.Payout.Equal(decimal.NewFromInt(9000)), "payout %s", rel.Payout)
	assert.True(t, rel.PlatformFee.Equal(decimal.NewFromInt(1001)), "fee %s", rel.PlatformFee)
	assert.True(t, rel.Payout.Add(rel.PlatformFee).Equal(txn.AmountHeld))
}

func TestReleaseRejectsTerminalStates(t *testing.T) {
	for _, state := range []State{StateReleased, StateRefunded, StatePartiallyRefunded} {
		txn := heldTransaction(10000, testBase.Add(5*24*time.Hour))
		txn.State = state

		_, err := txn.Release()
		assert.ErrorIs(t, err, ErrInvalidStateTransition, "state %s", state)
	}
}

func TestCancelTenDaysOut(t *testing.T) {
	txn := heldTransaction(20000, testBase.Add(10*24*time.Hour))

	c, err := txn.Cancel(testBase)
	require.NoError(t, err)

	assert.Equal(t, 10, c.DaysUntilService)
	assert.True(t, c.ClientShare.Equal(decimal.NewFromInt(10000)), "client %s", c.ClientShare)
	assert.True(t, c.CounterpartShare.Equal(decimal.NewFromInt(10000)), "counterpart %s", c.CounterpartShare)
	assert.Equal(t, StatePartiallyRefunded, c.NextState)
}

func TestCancelFullRefundIsRefundedState(t *testing.T) {
	txn := heldTransaction(20000, testBase.Add(20*24*time.Hour))

	c, err := txn.Cancel(testBase)
	require.NoError(t, err)

	assert.True(t, c.ClientShare.Equal(decimal.NewFromInt(20000)))
	assert.True(t, c.CounterpartShare.IsZero())
	assert.Equal(t, StateRefunded, c.NextState)
}

func TestCancelBoundaryDaysFavourClient(t *testing.T) {
	cases := []struct {
		days        int
		clientCents int64
	}{
		{14, 10000},
		{13, 5000},
		{7, 5000},
		{6, 2500},
		{3, 2500},
		{2, 0},
	}

	for _, tc := range cases {
		txn := heldTransaction(10000, testBase.Add(time.Duration(tc.days)*24*time.Hour))

		c, err := txn.Cancel(testBase)
		require.NoError(t, err, "days %d", tc.days)

		assert.Equal(t, tc.days, c.DaysUntilService)
		assert.True(t, c.ClientShare.Equal(decimal.NewFromInt(tc.clientCents)),
			"days %d: client %s", tc.days, c.ClientShare)
		assert.True(t, c.ClientShare.Add(c.CounterpartShare).Equal(txn.AmountHeld),
			"days %d: shares must sum to amount held", tc.days)
	}
}

func TestCancelResidualCentGoesToCounterpart(t *testing.T) {
	// 50% of 10001 is 5000.5; the client share truncates toward zero.
	txn := heldTransaction(10001, testBase.Add(10*24*time.Hour))

	c, err := txn.Cancel(testBase)
	require.NoError(t, err)

	assert.True(t, c.ClientShare.Equal(decimal.NewFromInt(5000)), "client %s", c.ClientShare)
	assert.True(t, c.CounterpartShare.Equal(decimal.NewFromInt(5001)), "counterpart %s", c.CounterpartShare)
}

func TestCancelRejectsTerminalStates(t *testing.T) {
	txn := heldTransaction(10000, testBase.Add(10*24*time.Hour))
	txn.State = StateReleased

	_, err := txn.Cancel(testBase)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestCancelAfterServiceDate(t *testing.T) {
	txn := heldTransaction(10000, testBase.Add(-24*time.Hour))

	_, err := txn.Cancel(testBase)
	assert.ErrorIs(t, err, ErrServiceDatePassed)

	// The service date itself is already too late.
	txn.ServiceDate = testBase
	_, err = txn.Cancel(testBase)
	assert.ErrorIs(t, err, ErrServiceDatePassed)
}

func TestAutoReleaseEligibility(t *testing.T) {
	grace := 7 * 24 * time.Hour

	t.Run("grace period still running", func(t *testing.T) {
		txn := heldTransaction(10000, testBase.Add(24*time.Hour))
		_, err := txn.AutoRelease(testBase.Add(3*24*time.Hour), grace)
		assert.ErrorIs(t, err, ErrNotEligible)
	})

	t.Run("service date not reached", func(t *testing.T) {
		txn := heldTransaction(10000, testBase.Add(30*24*time.Hour))
		_, err := txn.AutoRelease(testBase.Add(10*24*time.Hour), grace)
		assert.ErrorIs(t, err, ErrNotEligible)
	})

	t.Run("already terminal", func(t *testing.T) {
		txn := heldTransaction(10000, testBase.Add(24*time.Hour))
		txn.State = StateRefunded
		_, err := txn.AutoRelease(testBase.Add(10*24*time.Hour), grace)
		assert.ErrorIs(t, err, ErrInvalidStateTransition)
	})

	t.Run("eligible", func(t *testing.T) {
		txn := heldTransaction(10000, testBase.Add(24*time.Hour))
		rel, err := txn.AutoRelease(testBase.Add(10*24*time.Hour), grace)
		require.NoError(t, err)
		assert.True(t, rel.Payout.Equal(decimal.NewFromInt(9000)))
	})
}

func TestDaysUntilTruncatesTowardZero(t *testing.T) {
	assert.Equal(t, 3, DaysUntil(testBase.Add(3*24*time.Hour+23*time.Hour), testBase))
	assert.Equal(t, 14, DaysUntil(testBase.Add(14*24*time.Hour), testBase))
	assert.Equal(t, 13, DaysUntil(testBase.Add(14*24*time.Hour-time.Minute), testBase))
	assert.Equal(t, 0, DaysUntil(testBase.Add(time.Hour), testBase))
}

func TestCancelSharesAlwaysSumToAmountHeld(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		amount := rapid.Int64Range(1, 100_000_000).Draw(t, "amount")
		days := rapid.IntRange(1, 60).Draw(t, "days")

		txn := heldTransaction(amount, testBase.Add(time.Duration(days)*24*time.Hour))
		c, err := txn.Cancel(testBase)
		require.NoError(t, err)

		assert.True(t, c.ClientShare.Add(c.CounterpartShare).Equal(txn.AmountHeld),
			"amount %d days %d: %s + %s", amount, days, c.ClientShare, c.CounterpartShare)
		assert.False(t, c.ClientShare.IsNegative())
		assert.False(t, c.CounterpartShare.IsNegative())
		assert.True(t, c.ClientShare.Equal(c.ClientShare.Floor()), "client share must be whole cents")
	})
}

func TestReleaseSumAlwaysEqualsAmountHeld(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		amount := rapid.Int64Range(1, 100_000_000).Draw(t, "amount")

		txn := heldTransaction(amount, testBase.Add(24*time.Hour))
		rel, err := txn.Release()
		require.NoError(t, err)

		assert.True(t, rel.Payout.Add(rel.PlatformFee).Equal(txn.AmountHeld))
		assert.True(t, rel.Payout.Equal(rel.Payout.Floor()), "payout must be whole cents")
		assert.False(t, rel.PlatformFee.IsNegative())
	})
}
