package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"dealhound/models"
)

func TestAddStatsCoversEveryCounter(t *testing.T) {
	m := New()
	m.AddStats("megamart", &models.IngestStats{
		Fetched:          10,
		ProductsCreated:  4,
		ProductsUpdated:  6,
		DealsCreated:     3,
		DealsUpdated:     2,
		DealsSkipped:     5,
		DealsDeactivated: 1,
		Errors:           7,
	})

	got := map[string]float64{
		"deals_found":       testutil.ToFloat64(m.dealsFound.WithLabelValues("megamart")),
		"products_created":  testutil.ToFloat64(m.productsCreated.WithLabelValues("megamart")),
		"products_updated":  testutil.ToFloat64(m.productsUpdated.WithLabelValues("megamart")),
		"deals_created":     testutil.ToFloat64(m.dealsCreated.WithLabelValues("megamart")),
		"deals_updated":     testutil.ToFloat64(m.dealsUpdated.WithLabelValues("megamart")),
		"deals_skipped":     testutil.ToFloat64(m.dealsSkipped.WithLabelValues("megamart")),
		"deals_deactivated": testutil.ToFloat64(m.dealsDeactivated.WithLabelValues("megamart")),
		"ingest_errors":     testutil.ToFloat64(m.ingestErrors.WithLabelValues("megamart")),
	}
	want := map[string]float64{
		"deals_found":       10,
		"products_created":  4,
		"products_updated":  6,
		"deals_created":     3,
		"deals_updated":     2,
		"deals_skipped":     5,
		"deals_deactivated": 1,
		"ingest_errors":     7,
	}
	for name, w := range want {
		if got[name] != w {
			t.Errorf("%s = %v, want %v", name, got[name], w)
		}
	}
}

func TestNilMetricsIsInert(t *testing.T) {
	var m *Metrics
	m.RunStarted()
	m.RunFinished("megamart", models.RunStatusCompleted, 1.5)
	m.AddStats("megamart", &models.IngestStats{Fetched: 1})
	m.ObserveScore("megamart", 80)
}
