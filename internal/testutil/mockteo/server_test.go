package mockteo

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gmkits/edgeone-purge/internal/tc3"
	"github.com/gmkits/edgeone-purge/internal/teo"
)

const (
	testSecretID  = "AKIDz8krbsJ5yKBZQpn74WFkmLPx3EXAMPLE"
	testSecretKey = "Gu5t9xGARNpq86cd98joQYCN3EXAMPLE"
)

var testSpec = teo.PurgeSpec{
	ZoneID:  "zone-2o0i41pv2h8c",
	Type:    teo.PurgeURL,
	Targets: []string{"https://www.example.com/a.css", "https://www.example.com/b.js"},
}

// signedRequest builds a signed CreatePurgeTask aimed at s but carrying the real Host.
func signedRequest(t *testing.T, s *Server, creds teo.Credentials) *http.Request {
	t.Helper()
	sr, err := teo.RequestBuilder{Region: "ap-guangzhou"}.Build(creds, testSpec, tc3.NewSigningContext(time.Now()))
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	return toHTTP(t, s, sr)
}

func toHTTP(t *testing.T, s *Server, sr *teo.SignedRequest) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.URL()+"/", bytes.NewReader(sr.Body))
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}
	for k, v := range sr.Header {
		req.Header[k] = v
	}
	req.Host = sr.Host
	return req
}

func do(t *testing.T, req *http.Request) (int, envelope) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.StatusCode, env
}

func startServer(t *testing.T) *Server {
	t.Helper()
	s := New()
	t.Cleanup(s.Close)
	s.AddCredentials(testSecretID, testSecretKey)
	return s
}

func TestNew(t *testing.T) {
	s := New()
	defer s.Close()

	if s.URL() == "" {
		t.Fatal("expected non-empty URL")
	}

	resp, err := http.Get(s.URL() + "/admin/state")
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestNewHandler_NoListener(t *testing.T) {
	s := NewHandler(nil)
	if s.URL() != "" {
		t.Errorf("expected empty URL, got %q", s.URL())
	}
	if s.Handler() == nil {
		t.Error("expected non-nil handler")
	}
	s.Close()
}

func TestPurge_Accepted(t *testing.T) {
	s := startServer(t)

	status, env := do(t, signedRequest(t, s, teo.Credentials{SecretID: testSecretID, SecretKey: testSecretKey}))
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if env.Response.Error != nil {
		t.Fatalf("unexpected error: %+v", env.Response.Error)
	}
	if env.Response.JobID == "" || env.Response.RequestID == "" {
		t.Errorf("expected JobId and RequestId, got %+v", env.Response)
	}

	purges := s.Purges()
	if len(purges) != 1 {
		t.Fatalf("expected 1 purge, got %d", len(purges))
	}
	p := purges[0]
	if p.JobID != env.Response.JobID {
		t.Errorf("JobID = %q, want %q", p.JobID, env.Response.JobID)
	}
	if p.Host != teo.DomesticHost {
		t.Errorf("Host = %q, want %q", p.Host, teo.DomesticHost)
	}
	if p.Region != "ap-guangzhou" {
		t.Errorf("Region = %q, want ap-guangzhou", p.Region)
	}
	if p.Type != "purge_url" || p.ZoneID != testSpec.ZoneID {
		t.Errorf("unexpected task %+v", p)
	}
	if strings.Join(p.Targets, ",") != strings.Join(testSpec.Targets, ",") {
		t.Errorf("Targets = %v, want %v", p.Targets, testSpec.Targets)
	}
}

func TestPurge_SignatureRejected(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*http.Request)
		creds  teo.Credentials
	}{
		{
			name:  "unknown secret id",
			creds: teo.Credentials{SecretID: "AKIDunknown0000000000", SecretKey: testSecretKey},
		},
		{
			name:  "wrong secret key",
			creds: teo.Credentials{SecretID: testSecretID, SecretKey: "wrong"},
		},
		{
			name:  "host differs from signed host",
			creds: teo.Credentials{SecretID: testSecretID, SecretKey: testSecretKey},
			mutate: func(r *http.Request) {
				r.Host = teo.InternationalHost
			},
		},
		{
			name:  "body altered after signing",
			creds: teo.Credentials{SecretID: testSecretID, SecretKey: testSecretKey},
			mutate: func(r *http.Request) {
				body := `{"ZoneId":"zone-other","Type":"purge_url","Targets":["x"]}`
				r.Body = io.NopCloser(strings.NewReader(body))
				r.ContentLength = int64(len(body))
			},
		},
		{
			name:  "missing authorization",
			creds: teo.Credentials{SecretID: testSecretID, SecretKey: testSecretKey},
			mutate: func(r *http.Request) {
				r.Header.Del("Authorization")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := startServer(t)
			req := signedRequest(t, s, tt.creds)
			if tt.mutate != nil {
				tt.mutate(req)
			}

			_, env := do(t, req)
			if env.Response.Error == nil || env.Response.Error.Code != "AuthFailure.SignatureFailure" {
				t.Errorf("expected AuthFailure.SignatureFailure, got %+v", env.Response)
			}
			if len(s.Purges()) != 0 {
				t.Error("expected no purge to be recorded")
			}
		})
	}
}

func TestPurge_WrongActionOrVersion(t *testing.T) {
	tests := []struct {
		header string
		value  string
		code   string
	}{
		{"X-TC-Action", "DescribeZones", "InvalidAction"},
		{"X-TC-Version", "2018-01-01", "NoSuchVersion"},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			s := startServer(t)
			req := signedRequest(t, s, teo.Credentials{SecretID: testSecretID, SecretKey: testSecretKey})
			req.Header[tt.header] = []string{tt.value}

			_, env := do(t, req)
			if env.Response.Error == nil || env.Response.Error.Code != tt.code {
				t.Errorf("expected %s, got %+v", tt.code, env.Response)
			}
		})
	}
}

func TestFailureInjection(t *testing.T) {
	creds := teo.Credentials{SecretID: testSecretID, SecretKey: testSecretKey}

	t.Run("next error applies once", func(t *testing.T) {
		s := startServer(t)
		s.SetNextError("LimitExceeded", "quota exhausted")

		_, env := do(t, signedRequest(t, s, creds))
		if env.Response.Error == nil || env.Response.Error.Code != "LimitExceeded" {
			t.Fatalf("expected LimitExceeded, got %+v", env.Response)
		}

		_, env = do(t, signedRequest(t, s, creds))
		if env.Response.Error != nil {
			t.Errorf("expected success after injected error, got %+v", env.Response.Error)
		}
	})

	t.Run("raw response", func(t *testing.T) {
		s := startServer(t)
		s.SetNextRawResponse(http.StatusBadGateway, "<html>bad gateway</html>")

		resp, err := http.DefaultClient.Do(signedRequest(t, s, creds))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)

		if resp.StatusCode != http.StatusBadGateway || string(body) != "<html>bad gateway</html>" {
			t.Errorf("got %d %q", resp.StatusCode, body)
		}
	})

	t.Run("failed targets and omitted job id", func(t *testing.T) {
		s := startServer(t)
		s.SetFailedTargets("invalid url", "https://www.example.com/b.js")
		s.SetOmitJobID(true)

		_, env := do(t, signedRequest(t, s, creds))
		if env.Response.JobID != "" {
			t.Errorf("expected no JobId, got %q", env.Response.JobID)
		}
		if len(env.Response.FailedList) != 1 || env.Response.FailedList[0].Reason != "invalid url" {
			t.Errorf("unexpected FailedList %+v", env.Response.FailedList)
		}
	})

	t.Run("dropped connection", func(t *testing.T) {
		s := startServer(t)
		s.SetNextDropConnection()

		resp, err := http.DefaultClient.Do(signedRequest(t, s, creds))
		if err == nil {
			resp.Body.Close()
			t.Fatal("expected the connection to be dropped")
		}
	})
}

func TestAdminEndpoints(t *testing.T) {
	s := New()
	defer s.Close()

	body := `{"secretId":"` + testSecretID + `","secretKey":"` + testSecretKey + `"}`
	resp, err := http.Post(s.URL()+"/admin/credentials", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp, err = http.Post(s.URL()+"/admin/credentials", "application/json", strings.NewReader(`{"secretId":""}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing key, got %d", resp.StatusCode)
	}

	do(t, signedRequest(t, s, teo.Credentials{SecretID: testSecretID, SecretKey: testSecretKey}))

	resp, err = http.Get(s.URL() + "/admin/state")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var state StateResponse
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	resp.Body.Close()
	if len(state.Purges) != 1 {
		t.Fatalf("expected 1 purge in state, got %d", len(state.Purges))
	}

	req, _ := http.NewRequest(http.MethodDelete, s.URL()+"/admin/reset", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
	if len(s.Purges()) != 0 {
		t.Error("expected reset to clear purges")
	}

	// Credentials were cleared too.
	_, env := do(t, signedRequest(t, s, teo.Credentials{SecretID: testSecretID, SecretKey: testSecretKey}))
	if env.Response.Error == nil {
		t.Error("expected signature failure after reset")
	}
}

func TestAccessLog(t *testing.T) {
	t.Run("one masked record per exchange", func(t *testing.T) {
		var buf bytes.Buffer
		s := NewWithLogger(slog.New(slog.NewTextHandler(&buf, nil)))
		defer s.Close()
		s.AddCredentials(testSecretID, testSecretKey)

		_, env := do(t, signedRequest(t, s, teo.Credentials{SecretID: testSecretID, SecretKey: testSecretKey}))

		logs := buf.String()
		if n := strings.Count(logs, "mockteo exchange"); n != 1 {
			t.Errorf("expected one exchange record, got %d:\n%s", n, logs)
		}
		if !strings.Contains(logs, "request.X-TC-Action=CreatePurgeTask") || !strings.Contains(logs, "response.status=200") {
			t.Errorf("expected grouped request and response attributes, got:\n%s", logs)
		}
		if id := env.Response.RequestID; id == "" || !strings.Contains(logs, "request_id="+id) {
			t.Errorf("expected request_id=%s in logs:\n%s", id, logs)
		}
		if strings.Contains(logs, testSecretID) {
			t.Error("logs contain the unmasked SecretId")
		}
		if strings.Contains(logs, "request.body") {
			t.Error("bodies must only be logged at debug level")
		}
	})

	t.Run("debug level includes bodies", func(t *testing.T) {
		var buf bytes.Buffer
		s := NewWithLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
		defer s.Close()
		s.AddCredentials(testSecretID, testSecretKey)

		do(t, signedRequest(t, s, teo.Credentials{SecretID: testSecretID, SecretKey: testSecretKey}))

		logs := buf.String()
		if !strings.Contains(logs, "ZoneId") || !strings.Contains(logs, "JobId") {
			t.Errorf("expected request and response bodies at debug, got:\n%s", logs)
		}
	})
}

func TestRequestIDHeaderMatchesEnvelope(t *testing.T) {
	s := startServer(t)

	resp, err := http.DefaultClient.Do(signedRequest(t, s, teo.Credentials{SecretID: testSecretID, SecretKey: testSecretKey}))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got := resp.Header.Get("X-TC-RequestId"); got == "" || got != env.Response.RequestID {
		t.Errorf("X-TC-RequestId = %q, want %q", got, env.Response.RequestID)
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	s := startServer(t)

	req, err := http.NewRequest(http.MethodPost, s.URL()+"/", bytes.NewReader(make([]byte, maxBodyBytes+1)))
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}
	req.Header.Set("X-TC-Action", "CreatePurgeTask")

	_, env := do(t, req)
	if env.Response.Error == nil || env.Response.Error.Code != "RequestSizeLimitExceeded" {
		t.Errorf("expected RequestSizeLimitExceeded, got %+v", env.Response)
	}
}
