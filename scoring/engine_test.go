package scoring

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"dealhound/models"
)

type fakeHistory struct {
	points []models.PricePoint
	err    error
}

func (f *fakeHistory) PriceHistory(ctx context.Context, productID uuid.UUID, since time.Time) ([]models.PricePoint, error) {
	return f.points, f.err
}

func defaultThresholds() Thresholds {
	return Thresholds{Default: 50, Hot: 70, Super: 85}
}

// history around a 100k mean with a 10k spread, observed over three months.
func spreadHistory() []models.PricePoint {
	now := time.Now()
	prices := []float64{100000, 90000, 110000, 100000, 80000, 120000, 100000, 100000}
	points := make([]models.PricePoint, 0, len(prices))
	for i, p := range prices {
		points = append(points, models.PricePoint{
			Price:      p,
			RecordedAt: now.AddDate(0, 0, -(i*10 + 10)),
		})
	}
	return points
}

func TestScoreDeepDropLandsInHotTier(t *testing.T) {
	history := spreadHistory()
	// Recent observations hold at the mean so the recent-drop component
	// fires on today's price.
	now := time.Now()
	for d := 1; d <= 3; d++ {
		history = append(history, models.PricePoint{Price: 100000, RecordedAt: now.AddDate(0, 0, -d)})
	}

	engine := NewEngine(&fakeHistory{points: history}, defaultThresholds(), 90)
	score := engine.Score(context.Background(), uuid.New(), 82000, nil, "")

	if score.Tier != models.TierHot {
		t.Fatalf("tier = %s (score %.2f), want hot_deal", score.Tier, score.Score)
	}
	if score.Score < 70 || score.Score >= 85 {
		t.Fatalf("score %.2f outside hot band", score.Score)
	}
	if score.Components.BelowRecent != 20 {
		t.Errorf("recent component %.2f, want clamped 20", score.Components.BelowRecent)
	}
	if score.Rationale == "" || score.Rationale == "no significant signals" {
		t.Errorf("expected a real rationale, got %q", score.Rationale)
	}
}

func TestScoreAtMeanDoesNotQualify(t *testing.T) {
	engine := NewEngine(&fakeHistory{points: spreadHistory()}, defaultThresholds(), 90)
	score := engine.Score(context.Background(), uuid.New(), 100000, nil, "")

	if score.Qualifies() {
		t.Fatalf("price at the mean qualified with score %.2f", score.Score)
	}
	if score.Rationale != "no significant signals" {
		t.Errorf("rationale = %q", score.Rationale)
	}
}

func TestScoreMonotonicInPrice(t *testing.T) {
	engine := NewEngine(&fakeHistory{points: spreadHistory()}, defaultThresholds(), 90)
	ctx := context.Background()
	id := uuid.New()

	prev := math.Inf(-1)
	for _, price := range []float64{95000, 90000, 85000, 80000, 75000} {
		s := engine.Score(ctx, id, price, nil, "")
		if s.Score < prev {
			t.Fatalf("score dropped (%.2f -> %.2f) as price fell to %.0f", prev, s.Score, price)
		}
		prev = s.Score
	}
}

func TestScoreNeverExceedsHundred(t *testing.T) {
	history := spreadHistory()
	engine := NewEngine(&fakeHistory{points: history}, defaultThresholds(), 90)
	orig := 500000.0
	score := engine.Score(context.Background(), uuid.New(), 1000, &orig, "")
	if score.Score > 100 {
		t.Fatalf("score %.2f over cap", score.Score)
	}
	if score.Tier != models.TierSuper {
		t.Fatalf("extreme drop tier = %s", score.Tier)
	}
}

func TestScoreThinHistoryUsesListedReference(t *testing.T) {
	engine := NewEngine(&fakeHistory{points: []models.PricePoint{{Price: 100, RecordedAt: time.Now()}}}, defaultThresholds(), 90)

	// Half off the listed original on a first observation is a real deal
	// even without accumulated history.
	orig := 200.0
	score := engine.Score(context.Background(), uuid.New(), 100, &orig, "")

	if score.Components.RangePosition != 0 || score.Components.Outlier != 0 {
		t.Fatalf("distribution components fired with one observation: %+v", score.Components)
	}
	if score.Components.BelowMean != 30 || score.Components.BelowRecent != 20 {
		t.Errorf("reference-price components = %.2f/%.2f, want clamped 30/20", score.Components.BelowMean, score.Components.BelowRecent)
	}
	if score.Components.ListedDiscount != 15 {
		t.Errorf("listed discount %.2f, want clamped 15", score.Components.ListedDiscount)
	}
	if !score.Qualifies() {
		t.Errorf("deep first-seen discount rejected with score %.2f", score.Score)
	}
}

func TestScoreThinHistoryWithoutOriginalPriceScoresZero(t *testing.T) {
	engine := NewEngine(&fakeHistory{}, defaultThresholds(), 90)

	score := engine.Score(context.Background(), uuid.New(), 100, nil, "")

	if score.Score != 0 {
		t.Fatalf("score = %.2f with no reference at all", score.Score)
	}
	if score.Qualifies() {
		t.Fatal("reference-free observation qualified")
	}
}

func TestScoreSurvivesHistoryError(t *testing.T) {
	engine := NewEngine(&fakeHistory{err: errors.New("connection refused")}, defaultThresholds(), 90)
	orig := 150.0
	score := engine.Score(context.Background(), uuid.New(), 100, &orig, "")
	if score.Components.ListedDiscount <= 0 {
		t.Fatalf("expected listed-discount scoring despite store error, got %+v", score.Components)
	}
}

func TestCategoryThresholdOverride(t *testing.T) {
	th := defaultThresholds()
	th.PerCategory = map[string]float64{"electronics": 30}
	engine := NewEngine(&fakeHistory{points: spreadHistory()}, th, 90)
	ctx := context.Background()
	id := uuid.New()

	// A mild drop scoring between 30 and 50.
	def := engine.Score(ctx, id, 93000, nil, "")
	if def.Qualifies() {
		t.Fatalf("default threshold should reject score %.2f", def.Score)
	}
	elec := engine.Score(ctx, id, 93000, nil, "electronics")
	if !elec.Qualifies() {
		t.Fatalf("electronics threshold should accept score %.2f", elec.Score)
	}
	if elec.Tier != models.TierDeal {
		t.Fatalf("tier = %s", elec.Tier)
	}
}
