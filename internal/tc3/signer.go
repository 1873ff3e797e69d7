// Package tc3 implements the Tencent Cloud TC3-HMAC-SHA256 request signing scheme
// as used by the EdgeOne (teo) API.
package tc3

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const (
	// Algorithm is the signature algorithm name sent in the Authorization header.
	Algorithm = "TC3-HMAC-SHA256"

	// Service is the service name bound into the credential scope.
	Service = "teo"

	// SignedHeaders lists the headers covered by the signature, in canonical order.
	SignedHeaders = "content-type;host;x-tc-action"

	keyPrefix  = "TC3"
	terminator = "tc3_request"
	dateLayout = "2006-01-02"
)

// SigningContext pins the timestamp and the UTC date derived from it.
// Both values must come from the same clock read.
type SigningContext struct {
	Timestamp int64
	Date      string
}

// NewSigningContext derives a signing context from t.
func NewSigningContext(t time.Time) SigningContext {
	t = t.UTC()
	return SigningContext{
		Timestamp: t.Unix(),
		Date:      t.Format(dateLayout),
	}
}

// CredentialScope returns "<date>/teo/tc3_request".
func (c SigningContext) CredentialScope() string {
	return c.Date + "/" + Service + "/" + terminator
}

// DeriveSignature computes the hex signature of stringToSign using the
// day-scoped key chain TC3<secret> -> date -> service -> tc3_request.
func DeriveSignature(secretKey, date, stringToSign string) string {
	kDate := hmacSHA256([]byte(keyPrefix+secretKey), date)
	kService := hmacSHA256(kDate, Service)
	kSigning := hmacSHA256(kService, terminator)
	return hex.EncodeToString(hmacSHA256(kSigning, stringToSign))
}

// StringToSign joins the algorithm, timestamp, scope and hashed canonical request.
func StringToSign(timestamp int64, credentialScope, hashedCanonicalRequest string) string {
	return strings.Join([]string{
		Algorithm,
		strconv.FormatInt(timestamp, 10),
		credentialScope,
		hashedCanonicalRequest,
	}, "\n")
}

// Authorization formats the Authorization header value.
func Authorization(secretID, credentialScope, signature string) string {
	return Algorithm + " Credential=" + secretID + "/" + credentialScope +
		", SignedHeaders=" + SignedHeaders + ", Signature=" + signature
}

// Sign runs the full pipeline for cr and returns the Authorization header value.
func Sign(secretID, secretKey string, sc SigningContext, cr CanonicalRequest) string {
	scope := sc.CredentialScope()
	sts := StringToSign(sc.Timestamp, scope, HashHex([]byte(cr.String())))
	return Authorization(secretID, scope, DeriveSignature(secretKey, sc.Date, sts))
}

// Verify reports whether authorization is the header Sign would produce.
func Verify(authorization, secretID, secretKey string, sc SigningContext, cr CanonicalRequest) bool {
	want := Sign(secretID, secretKey, sc, cr)
	return hmac.Equal([]byte(authorization), []byte(want))
}

// HashHex returns the lowercase hex SHA-256 digest of b.
func HashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}
