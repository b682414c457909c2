package telephony

import (
	"context"

	"followup-caller/internal/calls"
	"followup-caller/internal/postcall"
)

// Provider is what the rest of the service needs from a voice carrier.
//
// Rules:
// - No carrier HTTP calls outside this package.
// - Carrier identifiers (call sid, recording sid) are opaque strings elsewhere.
type Provider interface {
	calls.Provider
	postcall.RecordingSource
	Name() string
	HealthCheck(ctx context.Context) error
}

var _ Provider = (*TwilioClient)(nil)
