package payment

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/pkg/clock"

	"github.com/stretchr/testify/assert"
)

func TestVerifier(t *testing.T) {
	now := time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	v := NewVerifier("whsec_test", 5*time.Minute, clk)
	body := []byte(`{"id":"evt_1"}`)

	assert.NoError(t, v.Verify(Sign("whsec_test", now, body), body))
	assert.NoError(t, v.Verify(Sign("whsec_test", now.Add(-4*time.Minute), body), body))

	tests := []struct {
		name   string
		header string
		body   []byte
	}{
		{"empty header", "", body},
		{"wrong secret", Sign("other", now, body), body},
		{"tampered body", Sign("whsec_test", now, body), []byte(`{"id":"evt_2"}`)},
		{"too old", Sign("whsec_test", now.Add(-6*time.Minute), body), body},
		{"from the future", Sign("whsec_test", now.Add(6*time.Minute), body), body},
		{"not hex", "t=" + strconv.FormatInt(now.Unix(), 10) + ",v1=zz", body},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.header, tt.body)
			assert.True(t, errors.Is(err, ErrInvalidSignature), "got %v", err)
			assert.True(t, domain.IsKind(err, domain.KindValidation))
		})
	}
}

func TestVerifier_AcceptsAnyMatchingSignature(t *testing.T) {
	now := time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)
	v := NewVerifier("whsec_test", 5*time.Minute, clock.NewFake(now))
	body := []byte(`{}`)
	header := Sign("whsec_test", now, body) + ",v1=deadbeef"
	assert.NoError(t, v.Verify(header, body))
}

func TestVerifier_MissingSecret(t *testing.T) {
	v := NewVerifier("", 5*time.Minute, nil)
	err := v.Verify(Sign("x", time.Now(), nil), nil)
	assert.ErrorIs(t, err, ErrMissingSecret)
	assert.True(t, domain.IsKind(err, domain.KindFatal))
}
