package monetico

import (
	"net/url"
	"sort"
	"strings"
)

// VerifyStatus is the outcome of verifying one inbound callback.
type VerifyStatus int

const (
	// Verified means the seal matched and all required fields are present.
	Verified VerifyStatus = iota
	// Rejected means the seal did not match.
	Rejected
	// Malformed means required fields were missing or the URL did not parse.
	Malformed
)

func (s VerifyStatus) String() string {
	switch s {
	case Verified:
		return "verified"
	case Rejected:
		return "rejected"
	default:
		return "malformed"
	}
}

// SuccessCode is the gateway's all-zero success sentinel. Any other result
// code is a gateway-specific decline, reported as-is.
const SuccessCode = "00000"

const (
	sealField      = "MAC"
	paymentIDField = "paymentId"
	resultField    = "error"
)

// Response is the parsed field set of one gateway callback.
type Response struct {
	// PaymentID is the correlation reference echoed back by the gateway.
	PaymentID string
	// Reference is the merchant order reference, when present.
	Reference string
	// Fields holds every query parameter except the seal.
	Fields url.Values
	// Seal is the MAC the gateway attached.
	Seal string
}

// ResultCode reads the gateway result field; empty means the field was
// absent, which callers treat as a non-success.
func (r Response) ResultCode() string {
	return r.Fields.Get(resultField)
}

// Success reports whether the result code is the success sentinel.
func (r Response) Success() bool {
	return r.ResultCode() == SuccessCode
}

// ResponseVerifier recomputes callback seals against the merchant key.
type ResponseVerifier struct {
	signer *Signer
}

// NewResponseVerifier wraps a signer for callback verification.
func NewResponseVerifier(signer *Signer) *ResponseVerifier {
	return &ResponseVerifier{signer: signer}
}

// Verify parses a raw callback URL, separates the seal from the sealed field
// set, and recomputes the MAC. A missing seal or correlation reference is
// Malformed; a seal mismatch is Rejected.
func (v *ResponseVerifier) Verify(rawURL string) (Response, VerifyStatus) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Response{}, Malformed
	}
	query, err := url.ParseQuery(parsed.RawQuery)
	if err != nil {
		return Response{}, Malformed
	}
	seal := query.Get(sealField)
	if strings.TrimSpace(seal) == "" {
		return Response{}, Malformed
	}
	query.Del(sealField)
	resp := Response{
		PaymentID: query.Get(paymentIDField),
		Reference: query.Get("reference"),
		Fields:    query,
		Seal:      seal,
	}
	if strings.TrimSpace(resp.PaymentID) == "" {
		return Response{}, Malformed
	}
	if !v.signer.Verify(sealedResponseValues(query), seal) {
		return resp, Rejected
	}
	return resp, Verified
}

// sealedResponseValues canonicalizes the response field set: every parameter
// except the seal, as name=value pairs in ascending name order. The gateway
// computes its MAC over the same canonical form regardless of the order the
// parameters appear in the callback URL.
func sealedResponseValues(query url.Values) []string {
	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)
	values := make([]string, 0, len(names))
	for _, name := range names {
		values = append(values, name+"="+query.Get(name))
	}
	return values
}

// SealResponse attaches a seal to a response field set. It exists for the
// merchant-side tests and tooling that simulate gateway callbacks; the
// gateway performs the equivalent computation on its side.
func (v *ResponseVerifier) SealResponse(query url.Values) string {
	q := url.Values{}
	for name, vals := range query {
		if name == sealField {
			continue
		}
		q[name] = vals
	}
	return v.signer.Seal(sealedResponseValues(q))
}
