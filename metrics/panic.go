// Package metrics has prometheus metric variables/functions shared between
// packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricPanic = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "popbox_panic_total",
		Help: "Number of unhandled panics, by package.",
	},
	[]string{
		"pkg",
	},
)

type Panic string

const (
	Pop3client Panic = "pop3client"
	Watch      Panic = "watch"
)

func PanicInc(name Panic) {
	metricPanic.WithLabelValues(string(name)).Inc()
}
