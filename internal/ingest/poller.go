package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/platform"
	"github.com/postpilot/postpilot/internal/store"
	"github.com/postpilot/postpilot/pkg/logging"
	"github.com/postpilot/postpilot/pkg/telemetry"
)

// Poller pulls recent interactions for accounts whose webhooks may have been missed
type Poller struct {
	accounts store.Accounts
	client   platform.Client
	handler  *Dispatcher
	logger   *zap.Logger
}

// NewPoller creates a poller feeding events through the dispatcher
func NewPoller(accounts store.Accounts, client platform.Client, handler *Dispatcher) *Poller {
	return &Poller{
		accounts: accounts,
		client:   client,
		handler:  handler,
		logger:   logging.WithComponent("poller"),
	}
}

// Tick fetches and handles recent events of every account and returns how many were seen
func (p *Poller) Tick(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "ingest.poll")
	defer span.End()

	accounts, err := p.accounts.ListAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list accounts: %w", err)
	}

	seen := 0
	for i := range accounts {
		if ctx.Err() != nil {
			break
		}
		account := &accounts[i]
		events, err := p.client.FetchRecentEvents(ctx, account)
		if err != nil {
			p.logger.Warn("Failed to fetch events", zap.String("account_id", account.ID), zap.Error(err))
			continue
		}
		for _, event := range events {
			event := event // per-iteration copy; go 1.21 shares loop variables
			if err := event.Validate(); err != nil {
				continue
			}
			p.handler.Handle(ctx, event)
			seen++
		}
	}

	p.logger.Debug("Poll finished", zap.Int("accounts", len(accounts)), zap.Int("events", seen))
	return seen, nil
}
