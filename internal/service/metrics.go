package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_logins_total",
			Help: "Total number of login attempts",
		},
		[]string{"outcome"},
	)

	refreshRotationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authgate_refresh_rotations_total",
			Help: "Total number of successful refresh token rotations",
		},
	)

	refreshFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_refresh_failures_total",
			Help: "Total number of failed refresh attempts",
		},
		[]string{"reason"},
	)

	revocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_revocations_total",
			Help: "Total number of session revocations",
		},
		[]string{"trigger"},
	)
)
