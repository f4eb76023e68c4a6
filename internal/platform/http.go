package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/pkg/config"
	"github.com/postpilot/postpilot/pkg/logging"
	"github.com/postpilot/postpilot/pkg/telemetry"
)

const timestampLayout = "2006-01-02T15:04:05-0700"

// rate limit and temporary-unavailability codes of the Graph API
var transientCodes = map[int]bool{1: true, 2: true, 4: true, 17: true, 32: true, 613: true}

// HTTPClient talks to a Graph-style platform API with the account's bearer token
type HTTPClient struct {
	baseURL   string
	timeout   time.Duration
	transport http.RoundTripper
	logger    *zap.Logger
}

var _ Client = (*HTTPClient)(nil)

// New creates a new platform client
func New(cfg *config.PlatformConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("platform_base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid platform_base_url: %w", err)
	}

	logger := logging.WithComponent("platform-client")
	logger.Info("Platform client initialized", zap.String("url", cfg.BaseURL))

	return &HTTPClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		timeout:   cfg.Timeout,
		transport: http.DefaultTransport,
		logger:    logger,
	}, nil
}

// WithTransport swaps the underlying round tripper
func (c *HTTPClient) WithTransport(rt http.RoundTripper) *HTTPClient {
	c.transport = rt
	return c
}

// httpClient returns a client that authenticates as account
func (c *HTTPClient) httpClient(ctx context.Context, account *models.Account) *http.Client {
	token := &oauth2.Token{AccessToken: account.AccessToken, TokenType: "Bearer"}
	if account.TokenExpiresAt != nil {
		token.Expiry = *account.TokenExpiresAt
	}
	base := &http.Client{Transport: c.transport, Timeout: c.timeout}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	client.Timeout = c.timeout
	return client
}

type apiError struct {
	Error struct {
		Message     string `json:"message"`
		Type        string `json:"type"`
		Code        int    `json:"code"`
		IsTransient bool   `json:"is_transient"`
	} `json:"error"`
}

// call performs one API request and decodes the JSON response into out
func (c *HTTPClient) call(ctx context.Context, account *models.Account, op, method, path string, params url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			endpoint += "?" + params.Encode()
		}
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return NewPermanent(op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient(ctx, account).Do(req)
	if err != nil {
		return NewTransient(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewTransient(op, err)
	}

	if resp.StatusCode >= 400 {
		kind := KindForStatus(resp.StatusCode)
		msg := strings.TrimSpace(string(data))
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
			if apiErr.Error.IsTransient || transientCodes[apiErr.Error.Code] {
				kind = Transient
			}
		}
		return &Error{Kind: kind, Op: op, Status: resp.StatusCode, Err: errors.New(msg)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return NewTransient(op, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	return nil
}

type idResponse struct {
	ID string `json:"id"`
}

// createContainer stages a post; replyTo makes it a reply
func (c *HTTPClient) createContainer(ctx context.Context, account *models.Account, text string, media []models.MediaRef, replyTo string) (string, error) {
	path := "/" + account.ExternalUserID + "/threads"
	params := url.Values{}
	if text != "" {
		params.Set("text", text)
	}
	if replyTo != "" {
		params.Set("reply_to_id", replyTo)
	}

	switch len(media) {
	case 0:
		params.Set("media_type", "TEXT")
	case 1:
		setMedia(params, media[0])
	default:
		children := make([]string, 0, len(media))
		for _, m := range media {
			item := url.Values{}
			setMedia(item, m)
			item.Set("is_carousel_item", "true")
			var child idResponse
			if err := c.call(ctx, account, "publish", http.MethodPost, path, item, &child); err != nil {
				return "", err
			}
			children = append(children, child.ID)
		}
		params.Set("media_type", "CAROUSEL")
		params.Set("children", strings.Join(children, ","))
	}

	var container idResponse
	if err := c.call(ctx, account, "publish", http.MethodPost, path, params, &container); err != nil {
		return "", err
	}
	if container.ID == "" {
		return "", NewTransient("publish", errors.New("empty container id"))
	}
	return container.ID, nil
}

func setMedia(params url.Values, m models.MediaRef) {
	switch m.Kind {
	case models.MediaVideo:
		params.Set("media_type", "VIDEO")
		params.Set("video_url", m.URL)
	default:
		params.Set("media_type", "IMAGE")
		params.Set("image_url", m.URL)
	}
}

func (c *HTTPClient) publishContainer(ctx context.Context, account *models.Account, creationID string) (string, error) {
	var published idResponse
	params := url.Values{"creation_id": {creationID}}
	if err := c.call(ctx, account, "publish", http.MethodPost, "/"+account.ExternalUserID+"/threads_publish", params, &published); err != nil {
		return "", err
	}
	if published.ID == "" {
		return "", NewTransient("publish", errors.New("empty post id"))
	}
	return published.ID, nil
}

// Publish creates and publishes a post
func (c *HTTPClient) Publish(ctx context.Context, account *models.Account, caption string, media []models.MediaRef) (*Published, error) {
	ctx, span := telemetry.StartSpan(ctx, "platform.publish")
	defer span.End()

	creationID, err := c.createContainer(ctx, account, caption, media, "")
	if err != nil {
		return nil, err
	}
	id, err := c.publishContainer(ctx, account, creationID)
	if err != nil {
		return nil, err
	}

	result := &Published{ExternalID: id}
	var meta struct {
		Permalink string `json:"permalink"`
	}
	// the post exists now; a failed lookup must not turn into a retry
	if err := c.call(ctx, account, "permalink", http.MethodGet, "/"+id, url.Values{"fields": {"permalink"}}, &meta); err != nil {
		c.logger.Warn("Failed to fetch permalink", zap.String("external_id", id), zap.Error(err))
	} else {
		result.Permalink = meta.Permalink
	}
	return result, nil
}

type insightsResponse struct {
	Data []struct {
		Name   string `json:"name"`
		Values []struct {
			Value int64 `json:"value"`
		} `json:"values"`
		TotalValue struct {
			Value int64 `json:"value"`
		} `json:"total_value"`
	} `json:"data"`
}

// FetchInsights fetches engagement counters of a published post
func (c *HTTPClient) FetchInsights(ctx context.Context, account *models.Account, externalID string) (*Insights, error) {
	ctx, span := telemetry.StartSpan(ctx, "platform.fetch_insights")
	defer span.End()

	var resp insightsResponse
	params := url.Values{"metric": {"likes,replies,reposts,quotes"}}
	if err := c.call(ctx, account, "insights", http.MethodGet, "/"+externalID+"/insights", params, &resp); err != nil {
		return nil, err
	}

	insights := &Insights{}
	for _, d := range resp.Data {
		v := d.TotalValue.Value
		if len(d.Values) > 0 {
			v = d.Values[0].Value
		}
		switch d.Name {
		case "likes":
			insights.Likes = v
		case "replies":
			insights.Comments = v
		case "reposts":
			insights.Reposts = v
		case "quotes":
			insights.Quotes = v
		}
	}
	return insights, nil
}

// SendReply publishes text as a reply to targetExternalID
func (c *HTTPClient) SendReply(ctx context.Context, account *models.Account, targetExternalID, text string, media []models.MediaRef) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "platform.send_reply")
	defer span.End()

	creationID, err := c.createContainer(ctx, account, text, media, targetExternalID)
	if err != nil {
		return "", err
	}
	return c.publishContainer(ctx, account, creationID)
}

type mentionsResponse struct {
	Data []struct {
		ID          string `json:"id"`
		Text        string `json:"text"`
		Username    string `json:"username"`
		Timestamp   string `json:"timestamp"`
		IsQuotePost bool   `json:"is_quote_post"`
		Owner       struct {
			ID string `json:"id"`
		} `json:"owner"`
		RootPost struct {
			ID string `json:"id"`
		} `json:"root_post"`
	} `json:"data"`
}

// FetchRecentEvents lists recent replies and quotes mentioning the account
func (c *HTTPClient) FetchRecentEvents(ctx context.Context, account *models.Account) ([]models.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "platform.fetch_events")
	defer span.End()

	var resp mentionsResponse
	params := url.Values{
		"fields": {"id,text,username,owner{id},timestamp,is_quote_post,root_post"},
		"limit":  {"50"},
	}
	if err := c.call(ctx, account, "events", http.MethodGet, "/"+account.ExternalUserID+"/mentions", params, &resp); err != nil {
		return nil, err
	}

	events := make([]models.Event, 0, len(resp.Data))
	for _, item := range resp.Data {
		occurred, err := time.Parse(timestampLayout, item.Timestamp)
		if err != nil {
			occurred = time.Now().UTC()
		}
		eventType := models.TriggerReply
		if item.IsQuotePost {
			eventType = models.TriggerQuote
		}
		actorID := item.Owner.ID
		if actorID == "" {
			// the owner field is withheld for accounts that restrict it
			actorID = item.Username
		}
		text := item.Text
		events = append(events, models.Event{
			Type:          eventType,
			AccountID:     account.ID,
			SourcePostID:  item.RootPost.ID,
			ActorID:       actorID,
			ActorUsername: item.Username,
			Text:          &text,
			ExternalID:    item.ID,
			OccurredAt:    occurred.UTC(),
		})
	}
	return events, nil
}
