package purge

import (
	"encoding/json"

	"github.com/opencontainers/go-digest"
)

const (
	StatusFulfilled = "fulfilled"
	StatusRejected  = "rejected"
)

// Result is the settled outcome of one deletion: either a fulfilled status
// code, with the decoded body of a 200 response, or a rejection reason.
type Result struct {
	value  int
	body   json.RawMessage
	reason error
}

func Fulfilled(value int, body json.RawMessage) Result {
	return Result{value: value, body: body}
}

func Rejected(reason error) Result {
	return Result{reason: reason}
}

func (r Result) Status() string {
	if r.reason != nil {
		return StatusRejected
	}
	return StatusFulfilled
}

func (r Result) Value() int {
	return r.value
}

// Body is the response body of a 200 deletion, nil otherwise.
func (r Result) Body() json.RawMessage {
	return r.body
}

func (r Result) Reason() error {
	return r.reason
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r.reason != nil {
		return json.Marshal(struct {
			Status string `json:"status"`
			Reason string `json:"reason"`
		}{StatusRejected, r.reason.Error()})
	}
	var value interface{} = r.value
	if len(r.body) > 0 {
		value = r.body
	}
	return json.Marshal(struct {
		Status string      `json:"status"`
		Value  interface{} `json:"value"`
	}{StatusFulfilled, value})
}

type Outcome struct {
	Digest digest.Digest `json:"digest"`
	Result Result        `json:"result"`
}

type Report struct {
	Image    string    `json:"image"`
	Tags     []string  `json:"tags"`
	Outcomes []Outcome `json:"outcomes"`
}

// Rejected returns the outcomes whose deletion failed.
func (r *Report) Rejected() []Outcome {
	var rejected []Outcome
	for _, o := range r.Outcomes {
		if o.Result.Status() == StatusRejected {
			rejected = append(rejected, o)
		}
	}
	return rejected
}
