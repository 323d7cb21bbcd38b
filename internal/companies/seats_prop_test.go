package companies

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// The store enforces seat accounting with a guarded increment and a floor-zero
// decrement. These properties pin down that contract: under any interleaving
// of accepts and deactivations the counter stays within [0, max].
func TestSeatAccountingProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("used seats stay within capacity under random accept/deactivate sequences", prop.ForAll(
		func(maxSeats int, ops []bool) bool {
			sub := &Subscription{MaxSeats: maxSeats}
			for _, accept := range ops {
				if accept {
					if sub.HasFreeSeat() {
						sub.UsedSeats++
					}
				} else if sub.UsedSeats > 0 {
					sub.UsedSeats--
				}
				if sub.UsedSeats < 0 || sub.UsedSeats > sub.MaxSeats {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 50), gen.SliceOf(gen.Bool()),
	))

	properties.Property("the guarded increment refuses exactly when the subscription is full", prop.ForAll(
		func(maxSeats, used int) bool {
			if used > maxSeats {
				return true
			}
			sub := &Subscription{MaxSeats: maxSeats, UsedSeats: used}
			return sub.HasFreeSeat() == (used < maxSeats)
		},
		gen.IntRange(1, 50), gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}
