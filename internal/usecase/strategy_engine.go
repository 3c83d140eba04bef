package usecase

import (
	"math"
	"strings"

	"github.com/vitos/perp_scanner/internal/domain"
)

const reasonSeparator = " • "

// StrategyEngine evaluates the four strategy lenses independently and picks the best.
// It holds no state; every evaluation is a pure function of its input.
type StrategyEngine struct{}

func NewStrategyEngine() *StrategyEngine {
	return &StrategyEngine{}
}

// Evaluate returns every opportunity and the highest-confidence active one,
// falling back to scalping when nothing is active.
func (e *StrategyEngine) Evaluate(in domain.StrategyInput) domain.StrategyEvaluation {
	opps := []domain.StrategyOpportunity{
		e.Scalping(in),
		e.Momentum(in),
		e.DipBuying(in),
		e.Breakout(in),
	}

	best := opps[0]
	found := false
	for _, o := range opps {
		if o.Active && (!found || o.Confidence > best.Confidence) {
			best = o
			found = true
		}
	}
	return domain.StrategyEvaluation{Best: best, Opportunities: opps}
}

type reasons []string

func (r *reasons) add(s string) { *r = append(*r, s) }

func (r reasons) String() string { return strings.Join(r, reasonSeparator) }

func capConfidence(c float64) float64 {
	return math.Min(c, 100)
}

func inactive(kind domain.StrategyKind, price float64, why string) domain.StrategyOpportunity {
	return domain.StrategyOpportunity{
		Strategy:   kind,
		EntryPrice: price,
		ExitPrice:  price,
		StopPrice:  price,
		Reasoning:  why,
	}
}

func (e *StrategyEngine) Scalping(in domain.StrategyInput) domain.StrategyOpportunity {
	c := in.Candles1h
	if len(c) < 5 || in.Price <= 0 {
		return inactive(domain.StrategyScalping, in.Price, "not enough candles for scalping")
	}

	rsi := RSISeries(closes(c), 7)
	curRSI, prevRSI := rsi[len(rsi)-1], rsi[len(rsi)-2]
	n := len(c)
	imb := in.OrderFlow.Imbalance

	microDip := c[n-1].Close < c[n-3].Close && c[n-1].Close > c[n-1].Low*1.002
	reversal := imb > 10 || (curRSI < 45 && curRSI > prevRSI)

	var conf float64
	var why reasons
	if microDip {
		conf += 30
		why.add("micro dip above local low")
	}
	if reversal {
		conf += 25
		why.add("reversal signal")
	}
	if imb > 20 {
		conf += 25
		why.add("strong bid imbalance")
	}
	if curRSI > 30 && curRSI < 50 {
		conf += 20
		why.add("fast RSI in recovery zone")
	}
	conf = capConfidence(conf)

	lev := 15
	if conf > 60 {
		lev = 20
	}
	entry := in.Price * 0.998
	return domain.StrategyOpportunity{
		Strategy:        domain.StrategyScalping,
		Active:          microDip && reversal,
		Confidence:      conf,
		EntryPrice:      entry,
		ExitPrice:       entry * 1.015,
		StopPrice:       entry * 0.992,
		Leverage:        lev,
		TargetProfitPct: 1.5,
		Timeframe:       "5-30 minutes",
		Reasoning:       why.String(),
	}
}

func (e *StrategyEngine) Momentum(in domain.StrategyInput) domain.StrategyOpportunity {
	c := in.Candles1h
	if len(c) < 20 || in.Price <= 0 {
		return inactive(domain.StrategyMomentum, in.Price, "not enough candles for momentum")
	}

	cl := closes(c)
	vol := volumes(c)
	rsi := last(RSISeries(cl, 14))
	var surge float64
	if base := mean(tail(vol, 20)); base > 0 {
		surge = mean(tail(vol, 5)) / base
	}
	ref := cl[len(cl)-10]
	var momentum float64
	if ref > 0 {
		momentum = (cl[len(cl)-1] - ref) / ref * 100
	}
	strong := momentum > 2 && surge > 1.3 && rsi > 50

	var conf float64
	var why reasons
	if in.CompositeScore > 60 {
		conf += 30
		why.add("technical score supportive")
	}
	if strong {
		conf += 35
		why.add("strong 10-bar momentum with volume")
	}
	if surge > 1.5 {
		conf += 20
		why.add("volume surge")
	}
	if rsi > 55 {
		conf += 15
		why.add("RSI trending")
	}
	conf = capConfidence(conf)

	lev := 15
	if conf > 70 {
		lev = 25
	}
	entry := in.Price * 1.002
	return domain.StrategyOpportunity{
		Strategy:        domain.StrategyMomentum,
		Active:          strong && in.CompositeScore > 60,
		Confidence:      conf,
		EntryPrice:      entry,
		ExitPrice:       entry * 1.08,
		StopPrice:       entry * 0.97,
		Leverage:        lev,
		TargetProfitPct: 8,
		Timeframe:       "2-8 hours",
		Reasoning:       why.String(),
	}
}

func (e *StrategyEngine) DipBuying(in domain.StrategyInput) domain.StrategyOpportunity {
	c := in.Candles1h
	if len(c) < 20 || in.Price <= 0 {
		return inactive(domain.StrategyDipBuying, in.Price, "not enough candles for dip buying")
	}

	n := len(c)
	rsi := last(RSISeries(closes(c), 14))
	recentHigh := c[n-5].High
	for _, k := range c[n-5:] {
		recentHigh = math.Max(recentHigh, k.High)
	}
	var drop float64
	if recentHigh > 0 {
		drop = (c[n-1].Close - recentHigh) / recentHigh * 100
	}
	green := c[n-1].IsGreen()
	support := c[n-20].Low
	for _, k := range c[n-20:] {
		support = math.Min(support, k.Low)
	}
	nearSupport := math.Abs(in.Price-support)/in.Price < 0.015

	var conf float64
	var why reasons
	switch {
	case rsi < 35:
		conf += 40
		why.add("RSI oversold")
	case rsi < 45:
		conf += 25
		why.add("RSI weak")
	}
	switch {
	case drop < -5:
		conf += 30
		why.add("deep pullback")
	case drop < -3:
		conf += 20
		why.add("pullback")
	}
	if green {
		conf += 15
		why.add("green candle")
	}
	if nearSupport {
		conf += 15
		why.add("near 20-bar support")
	}
	conf = capConfidence(conf)

	lev := 12
	if conf > 65 {
		lev = 20
	}
	entry := in.Price * 0.995
	return domain.StrategyOpportunity{
		Strategy:        domain.StrategyDipBuying,
		Active:          rsi < 40 && drop < -3 && green,
		Confidence:      conf,
		EntryPrice:      entry,
		ExitPrice:       entry * 1.05,
		StopPrice:       support * 0.995,
		Leverage:        lev,
		TargetProfitPct: 5,
		Timeframe:       "1-4 hours",
		Reasoning:       why.String(),
	}
}

func (e *StrategyEngine) Breakout(in domain.StrategyInput) domain.StrategyOpportunity {
	c := in.Candles1h
	if len(c) < 20 || in.Price <= 0 {
		return inactive(domain.StrategyBreakout, in.Price, "not enough candles for breakout")
	}

	n := len(c)
	high := c[n-20].High
	for _, k := range c[n-20:] {
		high = math.Max(high, k.High)
	}
	nearHigh := in.Price >= high*0.995
	var surge float64
	if base := mean(tail(volumes(c), 10)); base > 0 {
		surge = c[n-1].Volume / base
	}
	imb := in.OrderFlow.Imbalance

	var conf float64
	var why reasons
	if nearHigh {
		conf += 35
		why.add("testing 20-bar high")
	}
	switch {
	case surge > 1.8:
		conf += 30
		why.add("strong volume surge")
	case surge > 1.4:
		conf += 20
		why.add("volume surge")
	}
	if imb > 20 {
		conf += 25
		why.add("bid imbalance")
	}
	if in.OrderFlow.Metrics.BidAskRatio > 1.2 {
		conf += 10
		why.add("bids outweigh asks")
	}
	conf = capConfidence(conf)

	lev := 20
	if conf > 75 {
		lev = 30
	}
	entry := high * 1.001
	return domain.StrategyOpportunity{
		Strategy:        domain.StrategyBreakout,
		Active:          nearHigh && surge > 1.4 && imb > 15,
		Confidence:      conf,
		EntryPrice:      entry,
		ExitPrice:       entry * 1.12,
		StopPrice:       entry * 0.96,
		Leverage:        lev,
		TargetProfitPct: 12,
		Timeframe:       "4-24 hours",
		Reasoning:       why.String(),
	}
}
