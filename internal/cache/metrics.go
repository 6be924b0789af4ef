package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lapwatch",
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by key namespace and result",
	},
	[]string{"namespace", "result"},
)

// Gauges exposes the entry count and hit ratio of c. They are computed at
// scrape time.
func Gauges(c *Cache) []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "lapwatch",
			Name:      "cache_items",
			Help:      "Cached entries, including expired ones not yet evicted",
		}, func() float64 {
			return float64(c.ItemCount())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "lapwatch",
			Name:      "cache_hit_ratio",
			Help:      "Share of cache lookups served from the cache",
		}, func() float64 {
			_, _, ratio := c.Stats()
			return ratio
		}),
	}
}
