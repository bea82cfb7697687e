package rating

import "math"

const (
	DefaultK       = 32
	DefaultRating  = 1200
	FallbackRating = 1500
	TimeoutPenalty = 25
	Floor          = 100
)

// Results understood by Calculate.
const (
	RedWin   = "red_win"
	BlackWin = "black_win"
	Draw     = "draw"
)

// Change is the signed rating delta per side.
type Change struct {
	Red   int
	Black int
}

// ExpectedScore is the Elo expectation of a scoring against b.
func ExpectedScore(a, b int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(b-a)/400.0))
}

// Calculate returns rating deltas for a finished game. Unknown results yield no change.
func Calculate(red, black int, result string, k int) Change {
	var actualRed, actualBlack float64
	switch result {
	case RedWin:
		actualRed, actualBlack = 1, 0
	case BlackWin:
		actualRed, actualBlack = 0, 1
	case Draw:
		actualRed, actualBlack = 0.5, 0.5
	default:
		return Change{}
	}
	expRed := ExpectedScore(red, black)
	expBlack := ExpectedScore(black, red)
	return Change{
		Red:   int(math.Round(float64(k) * (actualRed - expRed))),
		Black: int(math.Round(float64(k) * (actualBlack - expBlack))),
	}
}

// ApplyTimeout returns new ratings after a timeout ending: the Elo change for
// both sides, an extra penalty for the side that ran out of time, and the
// floor applied to each result.
func ApplyTimeout(red, black int, result string, k int) (newRed, newBlack int) {
	c := Calculate(red, black, result, k)
	newRed = red + c.Red
	newBlack = black + c.Black
	switch result {
	case BlackWin:
		newRed -= TimeoutPenalty
	case RedWin:
		newBlack -= TimeoutPenalty
	}
	return max(newRed, Floor), max(newBlack, Floor)
}
