package tracker

import (
	"github.com/schoolrun/schoolrun/pkg/model"
	"golang.org/x/exp/slices"
)

// A stop this close is treated as reached and progress advances past it.
const stopReachedKm = 0.03

// NextStop picks the lowest-order stop not yet passed. Proximity only ever
// advances progress past a reached stop; a GPS fix that happens to lie near a
// later stop (parallel street, looping route) never jumps the target forward,
// and stops at or below lastPassedOrder are never revisited.
func NextStop(stops []*model.Stop, location *model.Location, lastPassedOrder int) *model.Stop {
	upcoming := make([]*model.Stop, 0, len(stops))
	for _, stop := range stops {
		if stop.Order > lastPassedOrder {
			upcoming = append(upcoming, stop)
		}
	}

	if len(upcoming) == 0 {
		return nil
	}

	slices.SortFunc(upcoming, func(a, b *model.Stop) int {
		return a.Order - b.Order
	})

	next := upcoming[0]

	if location.DistanceTo(next.Location) <= stopReachedKm && len(upcoming) > 1 {
		// Standing at the stop: the next target is the one after it. The
		// terminus stays the target once reached.
		return upcoming[1]
	}

	return next
}
