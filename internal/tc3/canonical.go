package tc3

import "strings"

// CanonicalRequest is the signing-input representation of a POST request.
// The header block always carries content-type, host and x-tc-action in that order.
type CanonicalRequest struct {
	Method        string
	URI           string
	Query         string
	ContentType   string
	Host          string
	Action        string
	HashedPayload string
}

// NewCanonicalRequest builds the canonical form of a JSON POST to "/".
func NewCanonicalRequest(contentType, host, action string, payload []byte) CanonicalRequest {
	return CanonicalRequest{
		Method:        "POST",
		URI:           "/",
		Query:         "",
		ContentType:   contentType,
		Host:          host,
		Action:        action,
		HashedPayload: HashHex(payload),
	}
}

// Headers returns the canonical header block, including its trailing newline.
func (r CanonicalRequest) Headers() string {
	return "content-type:" + r.ContentType + "\n" +
		"host:" + r.Host + "\n" +
		"x-tc-action:" + strings.ToLower(r.Action) + "\n"
}

// String renders the canonical request exactly as it is hashed.
func (r CanonicalRequest) String() string {
	return strings.Join([]string{
		r.Method,
		r.URI,
		r.Query,
		r.Headers(),
		SignedHeaders,
		r.HashedPayload,
	}, "\n")
}
