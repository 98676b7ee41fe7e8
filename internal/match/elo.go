package match

import "math"

// BaseRating is the rating every player starts at, per game and
// overall.
const BaseRating = 1200

// eloK tapers the update step with experience: fresh players move
// fast, established players slowly, high-rated players slowest.
func eloK(gamesPlayed, rating int) float64 {
	switch {
	case rating >= 2400:
		return 10
	case gamesPlayed < 30:
		return 40
	default:
		return 20
	}
}

// eloDelta computes the rating change for a player with rating and
// gamesPlayed against an opponent rated oppRating. score is 1 for a
// win, 0.5 for a draw, 0 for a loss.
func eloDelta(rating, gamesPlayed, oppRating int, score float64) int {
	expected := 1.0 / (1.0 + math.Pow(10, float64(oppRating-rating)/400.0))
	return int(math.Round(eloK(gamesPlayed, rating) * (score - expected)))
}
