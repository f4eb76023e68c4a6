package autoreply

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/postpilot/postpilot/internal/memstore"
	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/store"
)

// blockingAccounts holds GetAccount for one id until release is closed
type blockingAccounts struct {
	store.Store
	slowID  string
	entered chan struct{}
	release chan struct{}
}

func (b *blockingAccounts) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	if id == b.slowID {
		close(b.entered)
		<-b.release
	}
	return b.Store.GetAccount(ctx, id)
}

func TestTickLookupDoesNotSerializeLoads(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	require.NoError(t, mem.CreateAccount(ctx, &models.Account{ID: "slow", ExternalUserID: "u1", Handle: "slow", AccessToken: "t"}))
	require.NoError(t, mem.CreateAccount(ctx, &models.Account{ID: "fast", ExternalUserID: "u2", Handle: "fast", AccessToken: "t"}))
	require.NoError(t, mem.CreateRule(ctx, &models.AutoReplyRule{
		ID: "r1", AccountID: "fast", Name: "thanks", IsActive: true,
		TriggerOn: datatypes.JSONSlice[models.TriggerType]{models.TriggerReply}, ReplyText: "thanks",
	}))

	st := &blockingAccounts{Store: mem, slowID: "slow", entered: make(chan struct{}), release: make(chan struct{})}
	lookup := &tickLookup{store: st, accounts: map[string]*models.Account{}, rules: map[string]map[string]models.AutoReplyRule{}}

	slowDone := make(chan error, 1)
	go func() {
		_, err := lookup.account(ctx, "slow")
		slowDone <- err
	}()
	<-st.entered

	fastDone := make(chan struct{})
	go func() {
		defer close(fastDone)
		a, err := lookup.account(ctx, "fast")
		assert.NoError(t, err)
		assert.Equal(t, "fast", a.ID)
		r, ok := lookup.rule(ctx, "fast", "r1")
		assert.True(t, ok)
		assert.Equal(t, "thanks", r.Name)
	}()

	select {
	case <-fastDone:
	case <-time.After(time.Second):
		t.Fatal("lookup of another account waited on a slow load")
	}

	close(st.release)
	require.NoError(t, <-slowDone)

	a, err := lookup.account(ctx, "slow")
	require.NoError(t, err)
	assert.Equal(t, "slow", a.ID)
}
