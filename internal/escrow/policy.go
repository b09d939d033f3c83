// internal/escrow/policy.go
package escrow

// RefundSplit returns the client / counterpart percentage split for a
// cancellation with the given notice, in whole days before the service
// date. The boundary day always selects the tier more favourable to the
// client: exactly 14 days is 100/0, exactly 7 is 50/50, exactly 3 is 25/75.
func RefundSplit(daysUntilService int) (clientPct, counterpartPct int64) {
	switch {
	case daysUntilService >= 14:
		return 100, 0
	case daysUntilService >= 7:
		return 50, 50
	case daysUntilService >= 3:
		return 25, 75
	default:
		return 0, 100
	}
}
