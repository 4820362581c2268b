// Package metrics holds the Prometheus collectors for the digest pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rfd_digest"

var (
	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Pipeline runs by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_failures_total",
		Help:      "Listing page fetch failures by kind.",
	}, []string{"kind"})

	DealsParsed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deals_parsed_total",
		Help:      "Deals extracted from listing pages.",
	})

	ItemsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "listing_items_skipped_total",
		Help:      "Listing items that could not be parsed and were skipped.",
	})

	RecipientsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recipients_delivered_total",
		Help:      "Envelope recipients of successfully sent digests.",
	})

	SubscribeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscribe_requests_total",
		Help:      "Subscribe requests by resulting status.",
	}, []string{"status"})
)
