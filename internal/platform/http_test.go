package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/pkg/config"
)

type fakeAPI struct {
	mu       sync.Mutex
	requests []string
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()
	f.handler(w, r)
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*HTTPClient, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{handler: handler}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	c, err := New(&config.PlatformConfig{BaseURL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c, api
}

var account = &models.Account{ID: "acc", ExternalUserID: "u1", AccessToken: "secret"}

func TestPublishText(t *testing.T) {
	c, api := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/u1/threads":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "TEXT", r.PostForm.Get("media_type"))
			assert.Equal(t, "hello", r.PostForm.Get("text"))
			fmt.Fprint(w, `{"id":"c1"}`)
		case "/u1/threads_publish":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "c1", r.PostForm.Get("creation_id"))
			fmt.Fprint(w, `{"id":"X"}`)
		case "/X":
			fmt.Fprint(w, `{"permalink":"https://example.com/p/X"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	got, err := c.Publish(context.Background(), account, "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, &Published{ExternalID: "X", Permalink: "https://example.com/p/X"}, got)
	assert.Equal(t, []string{"POST /u1/threads", "POST /u1/threads_publish", "GET /X"}, api.requests)
}

func TestPublishCarousel(t *testing.T) {
	var children int
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/u1/threads":
			require.NoError(t, r.ParseForm())
			if r.PostForm.Get("is_carousel_item") == "true" {
				children++
				fmt.Fprintf(w, `{"id":"child%d"}`, children)
				return
			}
			assert.Equal(t, "CAROUSEL", r.PostForm.Get("media_type"))
			assert.Equal(t, "child1,child2", r.PostForm.Get("children"))
			fmt.Fprint(w, `{"id":"c1"}`)
		case "/u1/threads_publish":
			fmt.Fprint(w, `{"id":"X"}`)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	})

	media := []models.MediaRef{
		{Kind: models.MediaImage, URL: "https://cdn.example.com/1.jpg"},
		{Kind: models.MediaVideo, URL: "https://cdn.example.com/2.mp4"},
	}
	got, err := c.Publish(context.Background(), account, "two", media)
	require.NoError(t, err, "permalink lookup failure is not a publish failure")
	assert.Equal(t, "X", got.ExternalID)
	assert.Empty(t, got.Permalink)
	assert.Equal(t, 2, children)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, want: Transient},
		{name: "server error", status: http.StatusBadGateway, body: `oops`, want: Transient},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":{"message":"bad token","code":190}}`, want: Permanent},
		{name: "not found", status: http.StatusNotFound, body: `{"error":{"message":"gone","code":100}}`, want: Permanent},
		{name: "app rate limit code", status: http.StatusBadRequest, body: `{"error":{"message":"slow down","code":4}}`, want: Transient},
		{name: "flagged transient", status: http.StatusBadRequest, body: `{"error":{"message":"retry","is_transient":true}}`, want: Transient},
	}

	for _, tt := range tests {
		tt := tt // per-iteration copy; go 1.21 shares loop variables
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			_, err := c.FetchInsights(context.Background(), account, "X")
			require.Error(t, err)
			var pe *Error
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.want, pe.Kind)
			assert.Equal(t, tt.status, pe.Status)
			assert.Equal(t, tt.want, Classify(err))
		})
	}
}

func TestClassifyUnknownIsTransient(t *testing.T) {
	assert.Equal(t, Transient, Classify(errors.New("mystery")))
	assert.Equal(t, Permanent, Classify(fmt.Errorf("wrapped: %w", NewPermanent("publish", errors.New("no")))))
	assert.False(t, IsPermanent(nil))
}

func TestFetchInsights(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/X/insights", r.URL.Path)
		fmt.Fprint(w, `{"data":[
			{"name":"likes","values":[{"value":12}]},
			{"name":"replies","total_value":{"value":3}},
			{"name":"reposts","values":[{"value":1}]},
			{"name":"quotes","values":[{"value":0}]}
		]}`)
	})

	got, err := c.FetchInsights(context.Background(), account, "X")
	require.NoError(t, err)
	assert.Equal(t, &Insights{Likes: 12, Comments: 3, Reposts: 1}, got)
}

func TestFetchRecentEvents(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/u1/mentions", r.URL.Path)
		fmt.Fprint(w, `{"data":[
			{"id":"m1","text":"nice","username":"bob","owner":{"id":"9001"},"timestamp":"2026-01-02T03:04:05+0000","root_post":{"id":"X"}},
			{"id":"m2","text":"look","username":"amy","timestamp":"2026-01-02T03:04:06+0000","is_quote_post":true,"root_post":{"id":"X"}}
		]}`)
	})

	events, err := c.FetchRecentEvents(context.Background(), account)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.TriggerReply, events[0].Type)
	assert.Equal(t, models.TriggerQuote, events[1].Type)
	assert.Equal(t, "acc", events[0].AccountID)
	assert.Equal(t, "X", events[0].SourcePostID)
	assert.Equal(t, "nice", events[0].TextOrEmpty())
	assert.Equal(t, "9001", events[0].ActorID)
	assert.Equal(t, "bob", events[0].ActorUsername)
	assert.Equal(t, "amy", events[1].ActorID, "falls back to the handle without an owner id")
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), events[0].OccurredAt)
}
