/*
Package metrics holds the Prometheus instruments for the vending
service. All metrics are package-level promauto variables registered
on the default registry and exposed at /metrics.
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Purchases counts purchase attempts by outcome: dispensed,
// no_customer, out_of_stock, insufficient_credit, invalid_beverage,
// invalid_price, error.
var Purchases = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vendcore",
	Subsystem: "purchase",
	Name:      "attempts_total",
	Help:      "Purchase attempts by outcome.",
}, []string{"outcome"})

// Connections counts connection registry operations: connect,
// disconnect.
var Connections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vendcore",
	Subsystem: "registry",
	Name:      "operations_total",
	Help:      "Connection registry operations.",
}, []string{"operation"})

// MonitorRequests counts HTTP exchanges with the fleet monitor by
// endpoint and outcome (ok, error).
var MonitorRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vendcore",
	Subsystem: "monitor",
	Name:      "requests_total",
	Help:      "HTTP requests to the fleet monitor.",
}, []string{"endpoint", "outcome"})

// ReconcileEntries counts monitor entries processed by background
// reconciliation, by result: updated, missing, invalid, unchanged.
var ReconcileEntries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vendcore",
	Subsystem: "reconcile",
	Name:      "entries_total",
	Help:      "Monitor entries processed by reconciliation, by result.",
}, []string{"result"})

// DeviceBoots counts device boot attempts by outcome: issued,
// conflict, unknown, error.
var DeviceBoots = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vendcore",
	Subsystem: "device",
	Name:      "boots_total",
	Help:      "Device boot attempts by outcome.",
}, []string{"outcome"})

// HTTPRequests counts API requests by route pattern and status class.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vendcore",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "API requests by route and status class.",
}, []string{"route", "class"})
