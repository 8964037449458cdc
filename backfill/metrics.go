package backfill

import (
	"github.com/rangekv/go-rangekv/metrics"
)

const namespace = "backfill"

var (
	chunksSent = metrics.NewCounter(
		"chunks_sent",
		namespace,
		"number of item chunks shipped to backfillees",
		[]string{},
	).WithLabelValues()

	itemBytesSent = metrics.NewCounter(
		"item_bytes_sent",
		namespace,
		"item bytes shipped to backfillees",
		[]string{},
	).WithLabelValues()

	bytesInFlight = metrics.NewGauge(
		"bytes_in_flight",
		namespace,
		"item bytes sent and not yet acknowledged",
		[]string{},
	).WithLabelValues()

	preItemBytesBuffered = metrics.NewGauge(
		"pre_item_bytes",
		namespace,
		"pre-item bytes buffered per client",
		[]string{},
	).WithLabelValues()

	activeSessions = metrics.NewGauge(
		"sessions",
		namespace,
		"live backfill sessions",
		[]string{},
	).WithLabelValues()

	registeredClients = metrics.NewGauge(
		"clients",
		namespace,
		"registered backfillee clients",
		[]string{},
	).WithLabelValues()

	protocolViolations = metrics.NewCounter(
		"protocol_violations",
		namespace,
		"fatal protocol violations observed",
		[]string{},
	).WithLabelValues()
)
