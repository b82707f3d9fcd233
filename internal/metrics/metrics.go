package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversions_total",
		Help: "Total number of conversion runs by result",
	}, []string{"result"})

	ConversionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conversion_duration_seconds",
		Help:    "Wall time of a conversion run",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	ConversionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversion_errors_total",
		Help: "Total number of failed conversions by error kind",
	}, []string{"kind"})

	BytesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bytes_written_total",
		Help: "Bytes written per output layout",
	}, []string{"layout"})

	QuantisedValues = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantised_values_total",
		Help: "Number of values converted to fixed point per tensor",
	}, []string{"tensor"})

	NetworkHiddenSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "network_hidden_size",
		Help: "Hidden size of the last converted network",
	})

	NetworkBuckets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "network_buckets",
		Help: "Input bucket count of the last converted network",
	})
)

func RecordConversion(result string, duration time.Duration) {
	ConversionsTotal.WithLabelValues(result).Inc()
	ConversionDuration.Observe(duration.Seconds())
}

func RecordError(kind string) {
	ConversionErrors.WithLabelValues(kind).Inc()
}

func RecordBytesWritten(layout string, n int64) {
	BytesWritten.WithLabelValues(layout).Add(float64(n))
}

func RecordQuantised(tensor string, count int) {
	if count > 0 {
		QuantisedValues.WithLabelValues(tensor).Add(float64(count))
	}
}

func RecordNetwork(hiddenSize, buckets int) {
	NetworkHiddenSize.Set(float64(hiddenSize))
	NetworkBuckets.Set(float64(buckets))
}

// WriteTextfile dumps the default registry in the node_exporter textfile
// format so batch runs can be scraped after they exit.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
