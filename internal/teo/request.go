package teo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gmkits/edgeone-purge/internal/tc3"
)

// Header names sent with every purge request.
const (
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	HeaderHost          = "Host"
	HeaderAction        = "X-TC-Action"
	HeaderTimestamp     = "X-TC-Timestamp"
	HeaderVersion       = "X-TC-Version"
	HeaderRegion        = "X-TC-Region"
)

// SignedRequest is a fully signed purge request ready to be sent.
type SignedRequest struct {
	URL    string
	Host   string
	Header http.Header
	Body   []byte
}

// RequestBuilder assembles signed CreatePurgeTask requests.
// Region is optional and, being outside the signed headers, does not affect the signature.
type RequestBuilder struct {
	Region string
}

// Build validates spec, serializes the payload and signs it for the host of spec.Site.
func (b RequestBuilder) Build(creds Credentials, spec PurgeSpec, sc tc3.SigningContext) (*SignedRequest, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	spec = spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	// The host is embedded in the canonical headers and must equal the Host header.
	host := spec.Site.Host()

	body, err := marshalPayload(purgePayload{
		ZoneID:  spec.ZoneID,
		Type:    spec.Type,
		Targets: spec.Targets,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal purge payload: %w", err)
	}

	cr := tc3.NewCanonicalRequest(ContentType, host, Action, body)
	authorization := tc3.Sign(creds.SecretID, creds.SecretKey, sc, cr)

	// Header keys are assigned directly to keep the vendor's spelling on the wire.
	header := http.Header{}
	header[HeaderAuthorization] = []string{authorization}
	header[HeaderContentType] = []string{ContentType}
	header[HeaderHost] = []string{host}
	header[HeaderAction] = []string{Action}
	header[HeaderTimestamp] = []string{strconv.FormatInt(sc.Timestamp, 10)}
	header[HeaderVersion] = []string{Version}
	if b.Region != "" {
		header[HeaderRegion] = []string{b.Region}
	}

	return &SignedRequest{
		URL:    "https://" + host + "/",
		Host:   host,
		Header: header,
		Body:   body,
	}, nil
}

// marshalPayload encodes compact JSON without HTML escaping so URL targets
// keep their literal '&', '<' and '>'.
func marshalPayload(p purgePayload) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
