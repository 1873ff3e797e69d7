// Package mockteo provides a mock Tencent Cloud EdgeOne API server for testing.
// It verifies TC3-HMAC-SHA256 signatures the way the real API does.
package mockteo

import (
	"sync"
	"time"
)

// PurgeTask is a CreatePurgeTask call accepted by the mock.
type PurgeTask struct {
	JobID      string    `json:"jobId"`
	RequestID  string    `json:"requestId"`
	SecretID   string    `json:"secretId"`
	Host       string    `json:"host"`
	Region     string    `json:"region,omitempty"`
	ZoneID     string    `json:"zoneId"`
	Type       string    `json:"type"`
	Targets    []string  `json:"targets"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// FailReason mirrors the API's FailedList item.
type FailReason struct {
	Reason  string   `json:"Reason"`
	Targets []string `json:"Targets"`
}

// rawResponse replaces the next response verbatim.
type rawResponse struct {
	status int
	body   string
}

// injectedError is returned as the next response's error object.
type injectedError struct {
	code    string
	message string
}

// FailureInjection controls canned failures for the next request(s).
type FailureInjection struct {
	nextError   *injectedError
	nextRaw     *rawResponse
	failedList  []FailReason
	omitJobID   bool
	dropRequest bool
}

// State holds the internal mock server state.
type State struct {
	mu               sync.RWMutex
	credentials      map[string]string
	purges           []PurgeTask
	failureInjection FailureInjection
}

// purgeRequest is the CreatePurgeTask request body.
type purgeRequest struct {
	ZoneID  string   `json:"ZoneId"`
	Type    string   `json:"Type"`
	Targets []string `json:"Targets"`
}

type errorObject struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

type responseBody struct {
	JobID      string       `json:"JobId,omitempty"`
	RequestID  string       `json:"RequestId"`
	FailedList []FailReason `json:"FailedList,omitempty"`
	Error      *errorObject `json:"Error,omitempty"`
}

type envelope struct {
	Response responseBody `json:"Response"`
}

// StateResponse is the response for GET /admin/state
type StateResponse struct {
	Purges []PurgeTask `json:"purges"`
}
