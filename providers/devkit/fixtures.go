package devkit

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/signature"
)

// Fixture is a signed sample delivery for one built-in integration.
type Fixture struct {
	IntegrationID string
	Secret        string
	Envelope      core.Envelope
	// WantEventType is set for direct-dispatch integrations.
	WantEventType string
	// WantCursor is set for reconciling integrations.
	WantCursor string
	WantTenant string
}

const FixtureSecret = "fixture-secret"

func GmailFixture(email string, historyID string) Fixture {
	data, _ := json.Marshal(map[string]any{"emailAddress": email, "historyId": json.Number(historyID)})
	body, _ := json.Marshal(map[string]any{
		"message": map[string]any{
			"data":      base64.StdEncoding.EncodeToString(data),
			"messageId": "pubsub-" + historyID,
		},
		"subscription": "projects/acme/subscriptions/gmail-push",
	})
	return signedFixture("gmail", signature.Generic("gmail"), body, nil, Fixture{
		WantCursor: historyID,
		WantTenant: email,
	})
}

func GitHubFixture() Fixture {
	body := []byte(`{"action":"opened","repository":{"full_name":"acme/api","owner":{"login":"acme"}}}`)
	return signedFixture("github", signature.GitHub(), body, map[string]string{
		"X-GitHub-Event":    "issues",
		"X-GitHub-Delivery": "delivery-1",
	}, Fixture{
		WantEventType: "issues.opened",
		WantTenant:    "acme",
	})
}

func ShopifyFixture(now time.Time) Fixture {
	body := []byte(`{"id":1001,"email":"buyer@example.com"}`)
	return signedFixture("shopify", signature.Shopify(), body, map[string]string{
		"X-Shopify-Topic":        "orders/create",
		"X-Shopify-Shop-Domain":  "acme.myshopify.com",
		"X-Shopify-Webhook-Id":   "wh-1001",
		"X-Shopify-Triggered-At": now.UTC().Format(time.RFC3339),
	}, Fixture{
		WantEventType: "orders/create",
		WantTenant:    "acme.myshopify.com",
	})
}

func SheetsFixture() Fixture {
	body := []byte(`{"spreadsheetId":"sheet-1","type":"rowAdded","sheetName":"Leads","row":2}`)
	return signedFixture("sheets", signature.Sheets(), body, nil, Fixture{
		WantEventType: "rowAdded",
		WantTenant:    "sheet-1",
	})
}

func BuiltinFixtures(now time.Time) []Fixture {
	return []Fixture{
		GmailFixture("user@example.com", "1000"),
		GitHubFixture(),
		ShopifyFixture(now),
		SheetsFixture(),
	}
}

func signedFixture(id string, scheme signature.Scheme, body []byte, headers map[string]string, fixture Fixture) Fixture {
	all := map[string]string{"Content-Type": "application/json"}
	for key, value := range headers {
		all[key] = value
	}
	all[scheme.Header] = scheme.HeaderValue(body, FixtureSecret)
	fixture.IntegrationID = id
	fixture.Secret = FixtureSecret
	fixture.Envelope = core.NewEnvelope(core.EnvelopeInput{Headers: all, Body: body})
	return fixture
}
