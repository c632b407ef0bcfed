package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "listing_search_seconds",
		Help:    "Time spent answering listing searches.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	reservationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listing_reservations_total",
		Help: "Reservation attempts grouped by outcome.",
	}, []string{"result"})

	publishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listing_published_total",
		Help: "Listings published.",
	})
)
