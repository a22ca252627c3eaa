package shopify

import (
	"time"

	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/signature"
)

const DefaultReplayWindow = 5 * time.Minute

// Verifier checks the base64 HMAC and, when Shopify sends a trigger time,
// rejects deliveries outside the replay window.
type Verifier struct {
	ReplayWindow       time.Duration
	RequireTriggeredAt bool
	Now                func() time.Time
}

func (v Verifier) Verify(env core.Envelope, secret string) core.Verification {
	verification := signature.Shopify().Verify(env, secret)
	if !verification.Valid || verification.Unsigned {
		return verification
	}
	if env.Header(HeaderWebhookID) == "" {
		return core.Verification{Kind: core.KindSignatureInvalid, Reason: HeaderWebhookID + " header is required"}
	}

	triggered := env.Header(HeaderTriggered)
	if triggered == "" {
		if v.RequireTriggeredAt {
			return core.Verification{Kind: core.KindSignatureInvalid, Reason: HeaderTriggered + " header is required"}
		}
		return verification
	}
	triggeredAt, err := time.Parse(time.RFC3339Nano, triggered)
	if err != nil {
		return core.Verification{Kind: core.KindSignatureInvalid, Reason: "unparseable " + HeaderTriggered}
	}
	now := time.Now().UTC()
	if v.Now != nil {
		now = v.Now().UTC()
	}
	window := v.ReplayWindow
	if window <= 0 {
		window = DefaultReplayWindow
	}
	delta := now.Sub(triggeredAt.UTC())
	if delta < 0 {
		delta = -delta
	}
	if delta > window {
		return core.Verification{Kind: core.KindSignatureInvalid, Reason: "webhook trigger time outside replay window"}
	}
	return verification
}

var _ core.SignatureVerifier = Verifier{}
