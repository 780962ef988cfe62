package routing

import (
	"math"

	"wavepick/internal/core/id"
)

// maxTwoOptPasses bounds the improvement loop. A warehouse task touches a
// few dozen locations at most, so the local optimum lands in single-digit
// passes; the cap just guards against degenerate geometry.
const maxTwoOptPasses = 50

// nearestNeighborTour builds the seed tour: from the entry point, repeatedly
// walk to the closest unvisited location. Ties break by lowest id so the
// tour is deterministic.
func nearestNeighborTour(entry point, locations []id.ID, dist *distanceFunc) []id.ID {
	remaining := make([]id.ID, len(locations))
	copy(remaining, locations)
	tour := make([]id.ID, 0, len(locations))

	type costFn func(id.ID) float64
	next := costFn(func(loc id.ID) float64 { return dist.fromEntry(entry, loc) })

	for len(remaining) > 0 {
		best := 0
		bestCost := math.Inf(1)
		for i, loc := range remaining {
			c := next(loc)
			if c < bestCost || (c == bestCost && loc.String() < remaining[best].String()) {
				best, bestCost = i, c
			}
		}
		chosen := remaining[best]
		tour = append(tour, chosen)
		remaining = append(remaining[:best], remaining[best+1:]...)
		next = func(loc id.ID) float64 { return dist.between(chosen, loc) }
	}
	return tour
}

// tourLength measures an open tour starting at the entry point.
func tourLength(entry point, tour []id.ID, dist *distanceFunc) float64 {
	if len(tour) == 0 {
		return 0
	}
	total := dist.fromEntry(entry, tour[0])
	for i := 1; i < len(tour); i++ {
		total += dist.between(tour[i-1], tour[i])
	}
	return total
}

// twoOpt improves a tour by reversing segments whenever the swap shortens
// the walk, until no improving swap remains or the pass budget runs out.
// The result is never longer than the seed.
func twoOpt(entry point, tour []id.ID, dist *distanceFunc) []id.ID {
	if len(tour) < 3 {
		return tour
	}

	improved := true
	for pass := 0; improved && pass < maxTwoOptPasses; pass++ {
		improved = false
		for i := 0; i < len(tour)-1; i++ {
			for j := i + 1; j < len(tour); j++ {
				// Reversing tour[i..j] replaces the edges into i and out of j.
				var before, after float64
				if i == 0 {
					before = dist.fromEntry(entry, tour[i])
					after = dist.fromEntry(entry, tour[j])
				} else {
					before = dist.between(tour[i-1], tour[i])
					after = dist.between(tour[i-1], tour[j])
				}
				if j < len(tour)-1 {
					before += dist.between(tour[j], tour[j+1])
					after += dist.between(tour[i], tour[j+1])
				}
				if after+1e-9 < before {
					reverse(tour[i : j+1])
					improved = true
				}
			}
		}
	}
	return tour
}

func reverse(s []id.ID) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
