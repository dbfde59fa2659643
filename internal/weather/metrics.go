package weather

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	openMeteoRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exposure_openmeteo_requests_total",
		Help: "The total number of Open-Meteo archive requests sent",
	})
	openMeteoCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exposure_openmeteo_cache_hits_total",
		Help: "The total number of Open-Meteo responses served from the disk cache",
	})
	stackCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exposure_geotiff_stack_cache_hits_total",
		Help: "The total number of hourly GeoTIFFs served from the decoded cache",
	})
	stackCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exposure_geotiff_stack_cache_misses_total",
		Help: "The total number of hourly GeoTIFFs read from disk",
	})
	exportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exposure_weather_exports_total",
		Help: "The total number of weather exports by kind and outcome",
	}, []string{"kind", "status"})
)

// WriteMetrics writes every registered metric to path in the Prometheus
// text format, for the node exporter textfile collector.
func WriteMetrics(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
