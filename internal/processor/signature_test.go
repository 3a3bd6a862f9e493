package processor

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	now := time.Unix(1_760_000_000, 0)
	secret := "whsec_test"

	tests := []struct {
		name    string
		header  string
		secret  string
		payload []byte
		wantErr error
	}{
		{name: "valid", header: Sign(payload, secret, now), secret: secret, payload: payload},
		{
			name:    "rotated_second_signature_matches",
			header:  Sign(payload, "whsec_old", now) + ",v1=" + computeSignature(strconv.FormatInt(now.Unix(), 10), payload, secret),
			secret:  secret,
			payload: payload,
		},
		{name: "wrong_secret", header: Sign(payload, "other", now), secret: secret, payload: payload, wantErr: ErrInvalidSignature},
		{name: "tampered_payload", header: Sign(payload, secret, now), secret: secret, payload: []byte(`{"id":"evt_2"}`), wantErr: ErrInvalidSignature},
		{name: "too_old", header: Sign(payload, secret, now.Add(-6*time.Minute)), secret: secret, payload: payload, wantErr: ErrSignatureExpired},
		{name: "from_future", header: Sign(payload, secret, now.Add(6*time.Minute)), secret: secret, payload: payload, wantErr: ErrSignatureExpired},
		{name: "within_tolerance", header: Sign(payload, secret, now.Add(-4*time.Minute)), secret: secret, payload: payload},
		{name: "missing_header", header: "", secret: secret, payload: payload, wantErr: ErrInvalidSignature},
		{name: "no_v1", header: "t=1760000000", secret: secret, payload: payload, wantErr: ErrInvalidSignature},
		{name: "bad_timestamp", header: "t=abc,v1=00", secret: secret, payload: payload, wantErr: ErrInvalidSignature},
		{name: "no_secret_configured", header: Sign(payload, "", now), secret: "", payload: payload, wantErr: ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := VerifySignature(tt.payload, tt.header, tt.secret, 5*time.Minute, now)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}

				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("want %v, got %v", tt.wantErr, err)
			}
		})
	}
}
