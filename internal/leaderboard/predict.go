package leaderboard

import (
	"math"
	"sort"
	"time"

	"github.com/yourusername/lapwatch/internal/models"
)

// predictionWindow is the number of most recent laps a prediction looks at
const predictionWindow = 6

// Prediction is the expected duration of a competitor's next lap
type Prediction struct {
	LapTimeSec float64
	// Confidence is in [0, 1] and drops as lap times get less consistent.
	Confidence float64
}

// PredictLapTime predicts the next lap duration from lap durations in lap
// order. Recent laps weigh more. Unusually slow laps, such as breaks, are
// down-weighted by Tukey's fences rather than dropped, and a steady
// slowdown adds a tenth of its per-lap slope.
func PredictLapTime(lapTimes []float64) Prediction {
	switch len(lapTimes) {
	case 0:
		return Prediction{}
	case 1:
		return Prediction{LapTimeSec: lapTimes[0], Confidence: 0.5}
	}

	if len(lapTimes) > predictionWindow {
		lapTimes = lapTimes[len(lapTimes)-predictionWindow:]
	}
	weights := outlierWeights(lapTimes)

	var sum, total float64
	normal := make([]float64, 0, len(lapTimes))
	outliers := 0
	for i, t := range lapTimes {
		w := weights[i] * float64(i+1)
		sum += t * w
		total += w
		if weights[i] >= 0.5 {
			normal = append(normal, t)
		}
		if weights[i] < 1 {
			outliers++
		}
	}

	predicted := lapTimes[len(lapTimes)-1]
	if total > 0 {
		predicted = sum / total
	}
	if len(normal) >= 3 {
		if slope := regressionSlope(normal); slope > 0 {
			predicted += slope * 0.1
		}
	}

	cv := variation(lapTimes)
	if len(normal) >= 2 {
		cv = variation(normal)
	}
	var confidence float64
	switch {
	case cv < 0.15:
		confidence = 0.9
	case cv < 0.25:
		confidence = 0.7
	case cv < 0.35:
		confidence = 0.5
	default:
		confidence = 0.3
	}
	if len(lapTimes) < 3 {
		confidence *= 0.7
	}
	if outliers*2 > len(lapTimes) {
		confidence *= 0.8
	}

	return Prediction{LapTimeSec: math.Max(0, predicted), Confidence: confidence}
}

// PredictPassing projects the next passing of a competitor from the last
// passing and the predicted lap duration, relative to now.
func PredictPassing(e *models.LeaderboardEntry, lapTimes []float64, now time.Time) (models.PassingPrediction, bool) {
	if e.LastPassing == nil || len(lapTimes) == 0 {
		return models.PassingPrediction{}, false
	}

	p := PredictLapTime(lapTimes)
	next := e.LastPassing.Add(time.Duration(p.LapTimeSec * float64(time.Second)))
	return models.PassingPrediction{
		Bib:             e.Bib,
		Name:            e.Name,
		Lap:             e.Lap,
		LastPassing:     *e.LastPassing,
		PredictedLapSec: math.Round(p.LapTimeSec*10) / 10,
		Confidence:      p.Confidence,
		NextPassing:     next,
		SecondsUntil:    math.Round(next.Sub(now).Seconds()*10) / 10,
	}, true
}

func outlierWeights(values []float64) []float64 {
	weights := make([]float64, len(values))
	for i := range weights {
		weights[i] = 1
	}
	if len(values) < 3 {
		return weights
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	half := len(sorted) / 2
	q1 := median(sorted[:half])
	q3 := median(sorted[len(sorted)-half:])
	iqr := q3 - q1

	for i, v := range values {
		switch {
		case v > q3+3*iqr:
			weights[i] = 0.1
		case v > q3+1.5*iqr:
			weights[i] = 0.3
		}
	}
	return weights
}

// median of an ascending slice
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

func variation(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	if mean <= 0 {
		return 0
	}

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance) / mean
}

// regressionSlope is the least squares slope of values against their index
func regressionSlope(values []float64) float64 {
	n := float64(len(values))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / den
}
