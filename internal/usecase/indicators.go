package usecase

import (
	"math"

	"github.com/vitos/perp_scanner/internal/domain"
)

func closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func volumes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStdDev uses the n-1 denominator.
func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sq float64
	for _, v := range values {
		sq += (v - m) * (v - m)
	}
	return math.Sqrt(sq / float64(len(values)-1))
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

func tail(values []float64, n int) []float64 {
	if n >= len(values) {
		return values
	}
	return values[len(values)-n:]
}

// RSISeries is a simple-moving-average RSI. Positions without a full window read 50,
// a window with no losses reads 100 and a window with no movement at all reads 50.
func RSISeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = 50
	}
	if period < 1 || len(values) < period+1 {
		return out
	}

	for i := period; i < len(values); i++ {
		var gain, loss float64
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - values[j-1]
			if d > 0 {
				gain += d
			} else {
				loss -= d
			}
		}
		gain /= float64(period)
		loss /= float64(period)

		switch {
		case loss == 0 && gain == 0:
			out[i] = 50
		case loss == 0:
			out[i] = 100
		default:
			out[i] = 100 - 100/(1+gain/loss)
		}
	}
	return out
}

// EMA seeds with the first value and applies alpha = 2/(span+1).
func EMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / float64(span+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// MACDHistogram returns MACD(fast, slow) minus its signal EMA.
func MACDHistogram(values []float64, fast, slow, signal int) []float64 {
	f := EMA(values, fast)
	s := EMA(values, slow)
	macd := make([]float64, len(values))
	for i := range values {
		macd[i] = f[i] - s[i]
	}
	sig := EMA(macd, signal)
	hist := make([]float64, len(values))
	for i := range values {
		hist[i] = macd[i] - sig[i]
	}
	return hist
}

// Stochastic returns the last %K and its smoothing %D; ok is false without enough candles.
func Stochastic(candles []domain.Candle, kPeriod, dPeriod int) (k, d float64, ok bool) {
	if len(candles) < kPeriod+dPeriod-1 {
		return 0, 0, false
	}
	ks := make([]float64, 0, dPeriod)
	for end := len(candles) - dPeriod + 1; end <= len(candles); end++ {
		window := candles[end-kPeriod : end]
		lo, hi := window[0].Low, window[0].High
		for _, c := range window {
			lo = math.Min(lo, c.Low)
			hi = math.Max(hi, c.High)
		}
		v := 50.0
		if hi > lo {
			v = (window[len(window)-1].Close - lo) / (hi - lo) * 100
		}
		ks = append(ks, v)
	}
	return ks[len(ks)-1], mean(ks), true
}

// MomentumScore blends RSI, MACD and Stochastic readings on the 1h and 4h
// timeframes into a 0..100 technical score.
func MomentumScore(c1h, c4h []domain.Candle) float64 {
	var score float64

	if len(c1h) >= 15 {
		rsi := last(RSISeries(closes(c1h), 14))
		switch {
		case rsi < 30:
			score += 20
		case rsi > 70:
			score -= 20
		case rsi >= 40 && rsi <= 60:
			score += 15
		}
	}
	if len(c4h) >= 15 {
		rsi := last(RSISeries(closes(c4h), 14))
		if rsi >= 40 && rsi <= 60 {
			score += 15
		}
	}

	if len(c1h) >= 35 {
		hist := MACDHistogram(closes(c1h), 12, 26, 9)
		n := len(hist)
		if hist[n-1] > 0 {
			score += 20
		}
		if hist[n-1] > 0 && hist[n-2] <= 0 {
			score += 15
		}
	}
	if len(c4h) >= 35 {
		if last(MACDHistogram(closes(c4h), 12, 26, 9)) > 0 {
			score += 20
		}
	}

	if k, d, ok := Stochastic(c1h, 14, 3); ok && k < 20 && k > d {
		score += 15
	}

	return math.Max(0, math.Min(100, score))
}
