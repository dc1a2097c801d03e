package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/popbox/popbox/dns"
	"github.com/popbox/popbox/metrics"
	"github.com/popbox/popbox/pop3client"
)

func init() {
	dns.MetricLookup = histogramVec{
		promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "popbox_dns_lookup_duration_seconds",
				Help:    "DNS lookups.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20, 30},
			},
			[]string{
				"pkg",
				"type",   // Lower-case Resolver method name without leading Lookup.
				"result", // ok, nxdomain, temporary, timeout, canceled, error
			},
		),
	}

	pop3client.MetricCommands = histogramVec{promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "popbox_command_duration_seconds",
			Help:    "POP3 client command duration and result in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20, 30, 60},
		},
		[]string{
			"cmd",
			"result", // ok, rejected, error
		},
	)}
	pop3client.MetricLogin = counterVec{promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popbox_login_total",
			Help: "POP3 login attempts, by the mechanism of the last attempted command.",
		},
		[]string{
			"mechanism", // USER, APOP
			"result",    // ok, error
		},
	)}
	pop3client.MetricConnection = counterVec{promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popbox_connection_total",
			Help: "POP3 connection attempts, including dns lookups, tls handshake and greeting.",
		},
		[]string{
			"mode",   // Plain, SSL
			"result", // ok, error
		},
	)}
	pop3client.MetricPanicInc = func() {
		metrics.PanicInc(metrics.Pop3client)
	}
}

type counterVec struct {
	*prometheus.CounterVec
}

func (m counterVec) IncLabels(labels ...string) {
	m.CounterVec.WithLabelValues(labels...).Inc()
}

type histogramVec struct {
	*prometheus.HistogramVec
}

func (m histogramVec) ObserveLabels(v float64, labels ...string) {
	m.HistogramVec.WithLabelValues(labels...).Observe(v)
}
