package matcher

import (
	"time"

	"github.com/example/delivery-matching/internal/models"
	"github.com/example/delivery-matching/internal/normalize"
)

const (
	cityBonus     = 50
	countryBonus  = 20
	capacityBonus = 20
	soonBonus     = 10
	laterBonus    = 5

	// CandidateScore is the lowest score that makes a pair a candidate match.
	// Only the city bonus reaches it on its own.
	CandidateScore = cityBonus
)

// Score rates a (trip, request) pair in [0,100] as a sum of bonuses:
// destination city, destination country, spare capacity and how soon the
// trip departs relative to now.
func Score(trip models.Trip, req models.Request, now time.Time) int {
	score := 0
	if normalize.City(trip.DestinationCity) == normalize.City(req.DeliveryCity) {
		score += cityBonus
	}
	if trip.DestinationCountry == req.DeliveryCountry {
		score += countryBonus
	}
	if trip.AvailableCapacityKg >= req.WeightKg {
		score += capacityBonus
	}
	switch days := normalize.DaysUntil(now, trip.DepartureDate); {
	case days <= 7:
		score += soonBonus
	case days <= 14:
		score += laterBonus
	}
	return score
}

// IsCandidate reports whether a score clears the candidate threshold.
func IsCandidate(score int) bool { return score >= CandidateScore }
