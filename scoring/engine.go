package scoring

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"dealhound/models"
)

// HistoryProvider supplies the price observations scoring is computed over.
type HistoryProvider interface {
	PriceHistory(ctx context.Context, productID uuid.UUID, since time.Time) ([]models.PricePoint, error)
}

// Thresholds are the tier cutoffs. PerCategory overrides the qualifying
// threshold for specific category slugs; hot and super cutoffs are global.
type Thresholds struct {
	Default     float64
	Hot         float64
	Super       float64
	PerCategory map[string]float64
}

func (t Thresholds) forCategory(slug string) float64 {
	if v, ok := t.PerCategory[slug]; ok {
		return v
	}
	return t.Default
}

// Engine turns a price observation plus its history into a deal score.
type Engine struct {
	history    HistoryProvider
	thresholds Thresholds
	windowDays int
}

func NewEngine(history HistoryProvider, thresholds Thresholds, windowDays int) *Engine {
	if windowDays <= 0 {
		windowDays = 90
	}
	return &Engine{history: history, thresholds: thresholds, windowDays: windowDays}
}

// Score computes the 0-100 deal quality score for the current price. It never
// returns an error: when history is missing or the store is unreachable the
// result degrades to scoring against the listed original price alone, since a
// scoring failure must not abort an ingestion run.
func (e *Engine) Score(ctx context.Context, productID uuid.UUID, currentPrice float64, originalPrice *float64, categorySlug string) models.DealScore {
	since := time.Now().AddDate(0, 0, -e.windowDays)

	var history []models.PricePoint
	if e.history != nil {
		var err error
		history, err = e.history.PriceHistory(ctx, productID, since)
		if err != nil {
			log.Printf("scoring: history lookup for %s failed: %v", productID, err)
			history = nil
		}
	}

	var comps models.ScoreComponents
	var reasons []string

	if len(history) >= 3 {
		comps, reasons = e.scoreWithHistory(currentPrice, originalPrice, history)
	} else {
		comps, reasons = e.scoreWithoutHistory(currentPrice, originalPrice)
	}

	score := math.Min(comps.Total(), 100)
	tier := e.tier(score, categorySlug)

	rationale := strings.Join(reasons, "; ")
	if rationale == "" {
		rationale = "no significant signals"
	}

	return models.DealScore{
		Score:      score,
		Tier:       tier,
		Rationale:  rationale,
		Components: comps,
	}
}

func (e *Engine) scoreWithHistory(current float64, original *float64, history []models.PricePoint) (models.ScoreComponents, []string) {
	var comps models.ScoreComponents
	var reasons []string

	mean, stddev := meanStddev(history)
	low, high := priceRange(history)
	recentMean := e.recentMean(history, mean)

	// Position against the long-window mean, up to 30 points.
	if mean > 0 && current < mean {
		pctBelow := (mean - current) / mean * 100
		comps.BelowMean = math.Min(pctBelow*1.5, 30)
		if pctBelow > 5 {
			reasons = append(reasons, fmt.Sprintf("%.0f%% below %d-day average", pctBelow, e.windowDays))
		}
	}

	// Position against the recent mean, up to 20 points. This catches drops
	// that the long window has already absorbed.
	if recentMean > 0 && current < recentMean {
		pctBelow := (recentMean - current) / recentMean * 100
		comps.BelowRecent = math.Min(pctBelow*2.0, 20)
		if pctBelow > 10 {
			reasons = append(reasons, fmt.Sprintf("%.0f%% below recent prices", pctBelow))
		}
	}

	// Position within the observed range, up to 25 points.
	if high > low {
		position := (high - current) / (high - low)
		comps.RangePosition = math.Min(math.Max(position, 0)*25, 25)
		if current <= low*1.02 {
			reasons = append(reasons, "at or near the lowest observed price")
		}
	} else if current < low {
		// Degenerate range: every observation was the same price.
		comps.RangePosition = 25
		reasons = append(reasons, "below every observed price")
	}

	comps.ListedDiscount, reasons = listedDiscount(current, original, reasons)

	// Statistical outlier bonus, up to 10 points for prices more than one
	// standard deviation below the mean.
	if stddev > 0 && current < mean {
		z := (mean - current) / stddev
		if z > 1 {
			comps.Outlier = math.Min((z-1)*5, 10)
			reasons = append(reasons, fmt.Sprintf("%.1f standard deviations below average", z))
		}
	}

	return comps, reasons
}

// scoreWithoutHistory handles products with fewer than three observations.
// The storefront's original price stands in for the missing mean and recent
// baselines so a genuinely deep first-seen discount can still qualify. Range
// and outlier points stay zero since there is no distribution to place the
// price in.
func (e *Engine) scoreWithoutHistory(current float64, original *float64) (models.ScoreComponents, []string) {
	var comps models.ScoreComponents
	var reasons []string

	ref := current
	if original != nil && *original > 0 {
		ref = *original
	}
	if ref > 0 && current < ref {
		pctBelow := (ref - current) / ref * 100
		comps.BelowMean = math.Min(pctBelow*1.5, 30)
		comps.BelowRecent = math.Min(pctBelow*2.0, 20)
		if pctBelow > 5 {
			reasons = append(reasons, fmt.Sprintf("%.0f%% below listed reference price", pctBelow))
		}
	}

	comps.ListedDiscount, reasons = listedDiscount(current, original, reasons)
	if len(reasons) > 0 {
		reasons = append(reasons, "limited price history")
	}
	return comps, reasons
}

// listedDiscount awards up to 15 points for the storefront's claimed
// discount. The cap is deliberately low: listed original prices are the
// least trustworthy signal available.
func listedDiscount(current float64, original *float64, reasons []string) (float64, []string) {
	if original == nil || *original <= current {
		return 0, reasons
	}
	pct := (*original - current) / *original * 100
	score := math.Min(pct*0.3, 15)
	if pct > 10 {
		reasons = append(reasons, fmt.Sprintf("listed %.0f%% off", pct))
	}
	return score, reasons
}

func (e *Engine) tier(score float64, categorySlug string) models.Tier {
	switch {
	case score >= e.thresholds.Super:
		return models.TierSuper
	case score >= e.thresholds.Hot:
		return models.TierHot
	case score >= e.thresholds.forCategory(categorySlug):
		return models.TierDeal
	default:
		return models.TierNone
	}
}

func meanStddev(history []models.PricePoint) (float64, float64) {
	var sum float64
	for _, p := range history {
		sum += p.Price
	}
	mean := sum / float64(len(history))

	var variance float64
	for _, p := range history {
		d := p.Price - mean
		variance += d * d
	}
	variance /= float64(len(history))
	return mean, math.Sqrt(variance)
}

func priceRange(history []models.PricePoint) (low, high float64) {
	low, high = history[0].Price, history[0].Price
	for _, p := range history[1:] {
		if p.Price < low {
			low = p.Price
		}
		if p.Price > high {
			high = p.Price
		}
	}
	return low, high
}

// recentMean averages the trailing seven days, falling back to the full-window
// mean when the window has no recent observations.
func (e *Engine) recentMean(history []models.PricePoint, fallback float64) float64 {
	cutoff := time.Now().AddDate(0, 0, -7)
	var sum float64
	var n int
	for _, p := range history {
		if p.RecordedAt.After(cutoff) {
			sum += p.Price
			n++
		}
	}
	if n == 0 {
		return fallback
	}
	return sum / float64(n)
}
