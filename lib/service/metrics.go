package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentsCredited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "invoicehub",
		Name:      "payments_credited_total",
		Help:      "Ledger rows written for incoming transfers.",
	}, []string{"collection", "status"})

	amountCredited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "invoicehub",
		Name:      "amount_credited_total",
		Help:      "Sum of credited amounts in whole asset units.",
	}, []string{"asset"})

	sweepsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "invoicehub",
		Name:      "sweeps_total",
		Help:      "Sweep attempts by outcome.",
	}, []string{"outcome"})
)
