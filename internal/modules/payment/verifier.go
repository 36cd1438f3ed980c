package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/pkg/clock"
)

const SignatureHeader = "Gateway-Signature"

var (
	ErrMissingSecret    = domain.NewError(domain.KindFatal, "webhook secret is not configured")
	ErrInvalidSignature = domain.NewError(domain.KindValidation, "invalid webhook signature")
)

// Verifier checks "t=<unix>,v1=<hex>" signatures, where the hex value is
// HMAC-SHA256(secret, t + "." + body).
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	clock     clock.Clock
}

func NewVerifier(secret string, tolerance time.Duration, clk clock.Clock) *Verifier {
	if clk == nil {
		clk = clock.System{}
	}
	return &Verifier{secret: []byte(secret), tolerance: tolerance, clock: clk}
}

func (v *Verifier) Verify(header string, body []byte) error {
	if len(v.secret) == 0 {
		return ErrMissingSecret
	}
	ts, sigs := parseSignatureHeader(header)
	if ts == 0 || len(sigs) == 0 {
		return domain.Wrap(domain.KindValidation, ErrInvalidSignature, "malformed %s header", SignatureHeader)
	}
	signedAt := time.Unix(ts, 0)
	if v.tolerance > 0 {
		skew := v.clock.Now().Sub(signedAt)
		if skew < 0 {
			skew = -skew
		}
		if skew > v.tolerance {
			return domain.Wrap(domain.KindValidation, ErrInvalidSignature, "timestamp outside tolerance")
		}
	}

	expected := computeMAC(v.secret, ts, body)
	for _, s := range sigs {
		got, err := hex.DecodeString(s)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign produces a header value for body. Used by tooling and tests that
// play the gateway's part.
func Sign(secret string, at time.Time, body []byte) string {
	ts := at.Unix()
	return "t=" + strconv.FormatInt(ts, 10) + ",v1=" + hex.EncodeToString(computeMAC([]byte(secret), ts, body))
}

func computeMAC(secret []byte, ts int64, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (int64, []string) {
	var (
		ts   int64
		sigs []string
	)
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				ts = n
			}
		case "v1":
			sigs = append(sigs, val)
		}
	}
	return ts, sigs
}
