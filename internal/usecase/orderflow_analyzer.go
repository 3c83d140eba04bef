package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/vitos/perp_scanner/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultOrderFlowHistory = 50
	wallPercentile          = 90.0
	maxWallsPerSide         = 5
	clusterTolerance        = 0.001
	maxClustersPerSide      = 3
	imbalanceTopLevels      = 10
)

// imbalanceRing is a fixed-capacity buffer of recent imbalance scores, oldest first on read.
type imbalanceRing struct {
	values []float64
	head   int
	size   int
}

func newImbalanceRing(capacity int) *imbalanceRing {
	return &imbalanceRing{values: make([]float64, capacity)}
}

func (r *imbalanceRing) push(v float64) {
	r.values[r.head] = v
	r.head = (r.head + 1) % len(r.values)
	if r.size < len(r.values) {
		r.size++
	}
}

// lastN returns up to n most recent values, oldest first.
func (r *imbalanceRing) lastN(n int) []float64 {
	if n > r.size {
		n = r.size
	}
	out := make([]float64, n)
	start := (r.head - n + len(r.values)) % len(r.values)
	for i := 0; i < n; i++ {
		out[i] = r.values[(start+i)%len(r.values)]
	}
	return out
}

// OrderFlowAnalyzer scores order-book snapshots and tracks the trend of their imbalance.
type OrderFlowAnalyzer struct {
	mu      sync.Mutex
	history *imbalanceRing
	last    domain.OrderFlowAnalysis
	cache   domain.SnapshotCache
	logger  *zap.Logger
	timeNow func() time.Time
}

// NewOrderFlowAnalyzer creates an analyzer keeping capacity snapshots. cache may be nil.
func NewOrderFlowAnalyzer(capacity int, cache domain.SnapshotCache, logger *zap.Logger) *OrderFlowAnalyzer {
	if capacity < 2 {
		capacity = DefaultOrderFlowHistory
	}
	return &OrderFlowAnalyzer{
		history: newImbalanceRing(capacity),
		cache:   cache,
		logger:  logger.With(zap.String("component", "orderflow")),
		timeNow: time.Now,
	}
}

// Warm seeds the ring buffer from the snapshot cache after a restart.
func (a *OrderFlowAnalyzer) Warm(ctx context.Context) (int, error) {
	if a.cache == nil {
		return 0, nil
	}
	recent, err := a.cache.LoadRecent(ctx, len(a.history.values))
	if err != nil {
		return 0, fmt.Errorf("load cached snapshots: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, snap := range recent {
		if snap.Available {
			a.history.push(snap.Imbalance)
			a.last = snap
		}
	}
	return len(recent), nil
}

// Analyze scores book. A missing side yields a neutral, unavailable analysis that is not recorded.
func (a *OrderFlowAnalyzer) Analyze(ctx context.Context, book *domain.OrderBook) domain.OrderFlowAnalysis {
	now := a.timeNow()
	if book == nil || len(book.Bids) == 0 || len(book.Asks) == 0 {
		return emptyAnalysis(now)
	}

	res := domain.OrderFlowAnalysis{
		Timestamp: now,
		Available: true,
		Metrics:   bookMetrics(book),
		Walls:     detectWalls(book),
		Imbalance: imbalanceScore(book),
	}
	res.Support = clusterLevels(book.Bids)
	res.Resistance = clusterLevels(book.Asks)
	res.Prediction = predictDirection(res)
	res.Strength = bookStrength(res.Metrics, len(book.Bids)+len(book.Asks))

	a.mu.Lock()
	a.history.push(res.Imbalance)
	a.last = res
	a.mu.Unlock()

	if a.cache != nil {
		if err := a.cache.Publish(ctx, res); err != nil {
			a.logger.Debug("Failed to publish order-flow snapshot", zap.Error(err))
		}
	}
	return res
}

// Latest returns the last recorded analysis.
func (a *OrderFlowAnalyzer) Latest() domain.OrderFlowAnalysis {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Trend regresses the last periods imbalance scores against time.
func (a *OrderFlowAnalyzer) Trend(periods int) domain.OrderFlowTrend {
	a.mu.Lock()
	values := a.history.lastN(periods)
	a.mu.Unlock()

	if periods < 2 || len(values) < periods {
		return domain.OrderFlowTrend{Trend: domain.FlowInsufficientData, Periods: len(values)}
	}

	slope := linearSlope(values)
	t := domain.OrderFlowTrend{
		Trend:        domain.FlowStable,
		Slope:        slope,
		Periods:      periods,
		AvgImbalance: mean(values),
	}
	switch {
	case slope > 5:
		t.Trend = domain.FlowStrengtheningBids
	case slope < -5:
		t.Trend = domain.FlowStrengtheningAsks
	}
	return t
}

func emptyAnalysis(now time.Time) domain.OrderFlowAnalysis {
	return domain.OrderFlowAnalysis{
		Timestamp:  now,
		Support:    []domain.LiquidityCluster{},
		Resistance: []domain.LiquidityCluster{},
		Walls:      domain.WallAnalysis{BidWalls: []domain.Wall{}, AskWalls: []domain.Wall{}},
		Prediction: domain.FlowPrediction{Direction: domain.DirectionUnknown, Reasons: []string{"order book unavailable"}},
		Strength:   domain.BookStrength{Quality: "POOR"},
	}
}

func sideVolume(levels []domain.OrderBookEntry, n int) float64 {
	if n > len(levels) || n <= 0 {
		n = len(levels)
	}
	var v float64
	for _, l := range levels[:n] {
		v += l.Size
	}
	return v
}

func weightedPrice(levels []domain.OrderBookEntry) float64 {
	var notional, size float64
	for _, l := range levels {
		notional += l.Price * l.Size
		size += l.Size
	}
	if size == 0 {
		return 0
	}
	return notional / size
}

func bookMetrics(book *domain.OrderBook) domain.BookMetrics {
	m := domain.BookMetrics{
		BestBid:          book.Bids[0].Price,
		BestAsk:          book.Asks[0].Price,
		TotalBidVolume:   sideVolume(book.Bids, 0),
		TotalAskVolume:   sideVolume(book.Asks, 0),
		Top5BidVolume:    sideVolume(book.Bids, 5),
		Top5AskVolume:    sideVolume(book.Asks, 5),
		Top10BidVolume:   sideVolume(book.Bids, 10),
		Top10AskVolume:   sideVolume(book.Asks, 10),
		Top20BidVolume:   sideVolume(book.Bids, 20),
		Top20AskVolume:   sideVolume(book.Asks, 20),
		WeightedBidPrice: weightedPrice(book.Bids),
		WeightedAskPrice: weightedPrice(book.Asks),
	}
	m.Spread = m.BestAsk - m.BestBid
	if m.BestBid > 0 {
		m.SpreadPct = m.Spread / m.BestBid * 100
	}
	if m.TotalAskVolume > 0 {
		m.BidAskRatio = m.TotalBidVolume / m.TotalAskVolume
	}
	m.MidPrice = (m.BestBid + m.BestAsk) / 2
	return m
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

func sideWalls(levels []domain.OrderBookEntry) (walls []domain.Wall, count int, threshold float64, strongest *domain.Wall) {
	sizes := make([]float64, len(levels))
	for i, l := range levels {
		sizes[i] = l.Size
	}
	threshold = percentile(sizes, wallPercentile)
	walls = []domain.Wall{}
	if threshold <= 0 {
		return walls, 0, threshold, nil
	}
	for _, l := range levels {
		if l.Size < threshold {
			continue
		}
		count++
		w := domain.Wall{Price: l.Price, Size: l.Size}
		if len(walls) < maxWallsPerSide {
			walls = append(walls, w)
		}
		if strongest == nil || w.Size > strongest.Size {
			strongest = &w
		}
	}
	return walls, count, threshold, strongest
}

func detectWalls(book *domain.OrderBook) domain.WallAnalysis {
	var wa domain.WallAnalysis
	wa.BidWalls, wa.BidWallCount, wa.BidThreshold, wa.StrongestBid = sideWalls(book.Bids)
	wa.AskWalls, wa.AskWallCount, wa.AskThreshold, wa.StrongestAsk = sideWalls(book.Asks)
	return wa
}

// imbalanceScore blends full-book and top-of-book pressure, 60/40, scaled to [-100, 100].
func imbalanceScore(book *domain.OrderBook) float64 {
	ratio := func(bid, ask float64) float64 {
		if bid+ask == 0 {
			return 0
		}
		return (bid - ask) / (bid + ask)
	}
	full := ratio(sideVolume(book.Bids, 0), sideVolume(book.Asks, 0))
	top := ratio(sideVolume(book.Bids, imbalanceTopLevels), sideVolume(book.Asks, imbalanceTopLevels))
	score := (full*0.6 + top*0.4) * 100
	return math.Max(-100, math.Min(100, score))
}

// clusterLevels walks levels in book order, merging each into the running cluster
// while it stays within clusterTolerance of the cluster price.
func clusterLevels(levels []domain.OrderBookEntry) []domain.LiquidityCluster {
	var clusters []domain.LiquidityCluster
	var cur *domain.LiquidityCluster
	for _, l := range levels {
		if cur != nil && cur.Price > 0 && math.Abs(l.Price-cur.Price)/cur.Price <= clusterTolerance {
			cur.Volume += l.Size
			cur.Price = (cur.Price + l.Price) / 2
			cur.Levels++
			continue
		}
		clusters = append(clusters, domain.LiquidityCluster{Price: l.Price, Volume: l.Size, Levels: 1})
		cur = &clusters[len(clusters)-1]
	}

	out := []domain.LiquidityCluster{}
	for _, c := range clusters {
		if c.Levels >= 2 {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Volume > out[j].Volume })
	if len(out) > maxClustersPerSide {
		out = out[:maxClustersPerSide]
	}
	return out
}

func predictDirection(a domain.OrderFlowAnalysis) domain.FlowPrediction {
	var score float64
	reasons := []string{}

	switch imb := a.Imbalance; {
	case imb > 20:
		score += 30
		reasons = append(reasons, fmt.Sprintf("strong bid imbalance %.1f", imb))
	case imb < -20:
		score -= 30
		reasons = append(reasons, fmt.Sprintf("strong ask imbalance %.1f", imb))
	case imb > 10:
		score += 15
		reasons = append(reasons, fmt.Sprintf("bid imbalance %.1f", imb))
	case imb < -10:
		score -= 15
		reasons = append(reasons, fmt.Sprintf("ask imbalance %.1f", imb))
	}

	switch r := a.Metrics.BidAskRatio; {
	case r > 1.3:
		score += 20
		reasons = append(reasons, fmt.Sprintf("bid/ask ratio %.2f", r))
	case r < 0.7:
		score -= 20
		reasons = append(reasons, fmt.Sprintf("bid/ask ratio %.2f", r))
	}

	bw, aw := a.Walls.BidWallCount, a.Walls.AskWallCount
	switch {
	case bw > aw && bw > 2:
		score += 15
		reasons = append(reasons, fmt.Sprintf("%d bid walls vs %d ask walls", bw, aw))
	case aw > bw && aw > 2:
		score -= 15
		reasons = append(reasons, fmt.Sprintf("%d ask walls vs %d bid walls", aw, bw))
	}

	switch sp := a.Metrics.SpreadPct; {
	case sp < 0.05:
		score += 5
		reasons = append(reasons, "tight spread")
	case sp > 0.2:
		score -= 5
		reasons = append(reasons, "wide spread")
	}

	p := domain.FlowPrediction{
		Direction:  domain.SignalNeutral,
		Score:      score,
		Confidence: math.Min(math.Abs(score), 100),
		Reasons:    reasons,
	}
	switch {
	case score > 20:
		p.Direction = domain.SignalBullish
	case score < -20:
		p.Direction = domain.SignalBearish
	}
	return p
}

func bookStrength(m domain.BookMetrics, depth int) domain.BookStrength {
	var s int
	switch total := m.TotalBidVolume + m.TotalAskVolume; {
	case total > 10000:
		s += 30
	case total > 5000:
		s += 20
	case total > 1000:
		s += 10
	}
	switch {
	case depth > 100:
		s += 25
	case depth > 50:
		s += 15
	}
	switch {
	case m.SpreadPct < 0.05:
		s += 25
	case m.SpreadPct < 0.1:
		s += 15
	case m.SpreadPct < 0.2:
		s += 5
	}
	if total := m.TotalBidVolume + m.TotalAskVolume; total > 0 {
		concentration := (m.Top10BidVolume + m.Top10AskVolume) / total * 100
		switch {
		case concentration < 30:
			s += 20
		case concentration < 50:
			s += 10
		}
	}

	q := "POOR"
	switch {
	case s >= 80:
		q = "EXCELLENT"
	case s >= 60:
		q = "GOOD"
	case s >= 40:
		q = "MODERATE"
	case s >= 20:
		q = "WEAK"
	}
	return domain.BookStrength{Score: s, Quality: q}
}

// linearSlope is the least-squares slope of values against their index.
func linearSlope(values []float64) float64 {
	n := float64(len(values))
	var sx, sy, sxy, sxx float64
	for i, v := range values {
		x := float64(i)
		sx += x
		sy += v
		sxy += x * v
		sxx += x * x
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0
	}
	return (n*sxy - sx*sy) / den
}
