package gmail

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/ratelimit"
	"github.com/goliatone/go-webhooks/transport"
)

const (
	DeltaTypeHistory = "history"

	cursorSeparator = "#"
)

// HistoryClient pages through users.history.list.
type HistoryClient struct {
	IntegrationID string
	BaseURL       string
	PageSize      int
	Credentials   core.SecretResolver
	Client        *transport.RESTClient
	Throttle      *ratelimit.Policy
}

type MessageRef struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	LabelIDs []string `json:"labelIds,omitempty"`
}

type messageChange struct {
	Message MessageRef `json:"message"`
}

type labelChange struct {
	Message  MessageRef `json:"message"`
	LabelIDs []string   `json:"labelIds"`
}

type HistoryRecord struct {
	ID              string          `json:"id"`
	MessagesAdded   []messageChange `json:"messagesAdded,omitempty"`
	MessagesDeleted []messageChange `json:"messagesDeleted,omitempty"`
	LabelsAdded     []labelChange   `json:"labelsAdded,omitempty"`
	LabelsRemoved   []labelChange   `json:"labelsRemoved,omitempty"`
}

type historyListResponse struct {
	History       []HistoryRecord `json:"history"`
	NextPageToken string          `json:"nextPageToken"`
	HistoryID     string          `json:"historyId"`
}

// EncodeCursor joins a start history id with a page token. Continuation
// cursors let a paginated fetch resume where the previous page stopped.
func EncodeCursor(startHistoryID string, pageToken string) string {
	startHistoryID = strings.TrimSpace(startHistoryID)
	pageToken = strings.TrimSpace(pageToken)
	if pageToken == "" {
		return startHistoryID
	}
	return startHistoryID + cursorSeparator + pageToken
}

func DecodeCursor(cursor string) (startHistoryID string, pageToken string) {
	start, token, _ := strings.Cut(strings.TrimSpace(cursor), cursorSeparator)
	return strings.TrimSpace(start), strings.TrimSpace(token)
}

func (c *HistoryClient) FetchDelta(ctx context.Context, since string, tenantID string) (core.DeltaPage, error) {
	if c == nil || c.Client == nil || c.Credentials == nil {
		return core.DeltaPage{}, fmt.Errorf("providers/gmail: history client is not configured")
	}
	start, pageToken := DecodeCursor(since)
	if start == "" {
		return core.DeltaPage{}, fmt.Errorf("providers/gmail: start history id is required")
	}
	token, ok, err := c.Credentials.GetSecret(ctx, c.IntegrationID, tenantID, core.SecretPurposeEndpoint)
	if err != nil {
		return core.DeltaPage{}, fmt.Errorf("providers/gmail: resolve access token: %w", err)
	}
	if !ok || strings.TrimSpace(token) == "" {
		return core.DeltaPage{}, fmt.Errorf("providers/gmail: no access token for %q", tenantID)
	}

	throttleKey := ratelimit.Key{IntegrationID: c.IntegrationID, TenantID: tenantID}
	if err := c.Throttle.BeforeFetch(ctx, throttleKey); err != nil {
		return core.DeltaPage{}, err
	}

	userID := strings.TrimSpace(tenantID)
	if userID == "" {
		userID = "me"
	}
	response, err := c.Client.Do(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    c.BaseURL + "/gmail/v1/users/" + url.PathEscape(userID) + "/history",
		Query: map[string]string{
			"startHistoryId": start,
			"pageToken":      pageToken,
			"maxResults":     strconv.Itoa(c.PageSize),
		},
		Headers: map[string]string{
			"Authorization": "Bearer " + strings.TrimSpace(token),
			"Accept":        "application/json",
		},
	})
	if err != nil {
		return core.DeltaPage{}, err
	}
	if err := c.Throttle.AfterFetch(ctx, throttleKey, response.StatusCode, response.Headers); err != nil {
		return core.DeltaPage{}, err
	}
	var decoded historyListResponse
	if err := response.DecodeJSON(&decoded); err != nil {
		return core.DeltaPage{}, err
	}

	page := core.DeltaPage{Items: make([]core.Delta, 0, len(decoded.History))}
	for _, record := range decoded.History {
		page.Items = append(page.Items, core.Delta{
			ID:      record.ID,
			Type:    DeltaTypeHistory,
			Payload: record,
		})
	}
	if next := strings.TrimSpace(decoded.NextPageToken); next != "" {
		page.HasMore = true
		page.NextCursor = EncodeCursor(start, next)
	}
	return page, nil
}
