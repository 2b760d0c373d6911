package translator

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	MemoryRequests    *prometheus.CounterVec
	ServedBytes       prometheus.Counter
	Objects           prometheus.Counter
	ObjectBytes       prometheus.Counter
	TranslateDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MemoryRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewclient_memory_requests_total",
			Help: "Total number of memory requests served to the translation server",
		}, []string{"result"}),
		ServedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewclient_served_bytes_total",
			Help: "Total number of image bytes sent in reply to memory requests, filler included",
		}),
		Objects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewclient_objects_total",
			Help: "Total number of translated objects received",
		}),
		ObjectBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewclient_object_bytes_total",
			Help: "Total size of translated objects received",
		}),
		TranslateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rewclient_translate_duration_seconds",
			Help:    "Time from sending a translate request until its object arrived",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.MemoryRequests,
			m.ServedBytes,
			m.Objects,
			m.ObjectBytes,
			m.TranslateDuration,
		)
	}

	return m
}
