package transport

import (
	"net/http"
)

// Scheduler runs completion callbacks. Implementations serialize tasks so
// that callbacks never run concurrently with each other.
type Scheduler interface {
	Post(task func()) bool
}

// Exchange is one request of a request/response round trip.
type Exchange struct {
	URL         string
	Method      string
	ContentType string
	Header      http.Header
	Body        []byte
}

// Call is an issued exchange.
type Call interface {
	// Abort suppresses a failure callback that has not been delivered yet
	// and releases the request. A success callback already queued still runs.
	Abort()
}

// Exchanger issues exchanges. Exactly one of onSuccess or onFailure is
// invoked per call, later, through the exchanger's Scheduler; never from
// inside Do.
type Exchanger interface {
	Do(x Exchange, onSuccess func(body []byte), onFailure func(err error)) Call
}
