// Package metrics records sequencer and API activity.
package metrics

import "time"

// Metric names shared by the recorders.
const (
	CommandsTotal   = "commands_total"
	CommandLatency  = "command_latency"
	StoreFailures   = "store_failures_total"
	HTTPRequests    = "http_requests_total"
	LastSeq         = "last_seq"
	LiveListings    = "live_listings"
	FeedSubscribers = "feed_subscribers"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
	SetGauge(name string, value float64)
}
