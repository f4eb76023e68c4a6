// Package platform is the contract with the social platform API and its HTTP implementation.
package platform

import (
	"context"

	"github.com/postpilot/postpilot/internal/models"
)

// Published is the platform's handle on a newly created post
type Published struct {
	ExternalID string
	Permalink  string
}

// Insights are engagement counters of one published post
type Insights struct {
	Likes    int64
	Comments int64
	Reposts  int64
	Quotes   int64
}

// Metrics converts insights to the stored snapshot shape
func (i Insights) Metrics() models.Metrics {
	return models.Metrics{Likes: i.Likes, Comments: i.Comments, Reposts: i.Reposts, Quotes: i.Quotes}
}

// Client calls the platform on behalf of one account. Every method may fail
// with an *Error; other errors are treated as transient.
type Client interface {
	Publish(ctx context.Context, account *models.Account, caption string, media []models.MediaRef) (*Published, error)
	FetchInsights(ctx context.Context, account *models.Account, externalID string) (*Insights, error)
	// SendReply answers targetExternalID and returns the reply's external id
	SendReply(ctx context.Context, account *models.Account, targetExternalID, text string, media []models.MediaRef) (string, error)
	FetchRecentEvents(ctx context.Context, account *models.Account) ([]models.Event, error)
}
