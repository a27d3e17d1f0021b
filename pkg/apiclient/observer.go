package apiclient

import "time"

// Observer receives client events, typically to export metrics.
type Observer interface {
	// UpstreamRequest is called once per upstream call. status is 0 when
	// no response was received.
	UpstreamRequest(method string, status int)
	// RefreshCompleted is called once per token exchange.
	RefreshCompleted(err error, elapsed time.Duration)
	// RefreshCoalesced is called when a caller reuses an exchange started
	// by someone else.
	RefreshCoalesced()
}

type nopObserver struct{}

func (nopObserver) UpstreamRequest(string, int)            {}
func (nopObserver) RefreshCompleted(error, time.Duration) {}
func (nopObserver) RefreshCoalesced()                     {}
