package autoreply

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/postpilot/postpilot/internal/claim"
	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/platform"
	"github.com/postpilot/postpilot/internal/store"
	"github.com/postpilot/postpilot/pkg/config"
	"github.com/postpilot/postpilot/pkg/logging"
	"github.com/postpilot/postpilot/pkg/telemetry"
)

// SendResult summarizes one reply tick
type SendResult struct {
	claim.Stats
	Sent       int
	FailedSend int
}

// Worker sends due replies. A failed reply stays failed for manual review.
type Worker struct {
	store    store.Store
	client   platform.Client
	cfg      config.RepliesConfig
	sched    config.SchedulerConfig
	instance string
	limiter  *rate.Limiter
	now      func() time.Time
	logger   *zap.Logger
}

// NewWorker creates a reply worker; leases and concurrency follow the scheduler settings
func NewWorker(st store.Store, client platform.Client, cfg config.RepliesConfig, sched config.SchedulerConfig, instance string) *Worker {
	return &Worker{
		store:    st,
		client:   client,
		cfg:      cfg,
		sched:    sched,
		instance: instance,
		limiter:  claim.NewLimiter(sched.RateLimit, sched.RateBurst),
		now:      time.Now,
		logger:   logging.WithComponent("replies"),
	}
}

// WithClock overrides the time source
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Tick sends every pending reply whose send time has come
func (w *Worker) Tick(ctx context.Context) (SendResult, error) {
	if w.sched.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.sched.TickTimeout)
		defer cancel()
	}
	ctx, span := telemetry.StartSpan(ctx, "autoreply.tick")
	defer span.End()

	due, err := w.store.DueReplies(ctx, w.now().UTC(), w.cfg.BatchSize)
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to select due replies: %w", err)
	}
	if len(due) == 0 {
		return SendResult{}, nil
	}

	lookup := &tickLookup{store: w.store, accounts: map[string]*models.Account{}, rules: map[string]map[string]models.AutoReplyRule{}}
	var sent, failed atomic.Int64
	runner := &claim.Runner[models.AutoReply]{
		Name:        "replies",
		Owner:       claim.NewOwner(w.instance),
		TTL:         w.sched.LeaseTTL,
		Concurrency: w.sched.Concurrency,
		Limiter:     w.limiter,
		Now:         w.now,
		Logger:      w.logger,
		Key:         func(r models.AutoReply) string { return r.AccountID },
		ID:          func(r models.AutoReply) string { return r.ID },
		Claim: func(ctx context.Context, r models.AutoReply, c store.Claim) (bool, error) {
			return w.store.ClaimReply(ctx, r.ID, c)
		},
		Process: func(ctx context.Context, r models.AutoReply, owner string) error {
			ok, err := w.send(ctx, lookup, r.ID, owner)
			if err != nil {
				return err
			}
			if ok {
				sent.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		},
	}

	stats := runner.Run(ctx, due)
	result := SendResult{Stats: stats, Sent: int(sent.Load()), FailedSend: int(failed.Load())}
	w.logger.Info("Reply tick finished",
		zap.Int("selected", stats.Selected),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.FailedSend))
	return result, nil
}

// send delivers one claimed reply. It reports false when the reply was marked failed.
func (w *Worker) send(ctx context.Context, lookup *tickLookup, id, owner string) (bool, error) {
	reply, err := w.store.GetReply(ctx, id)
	if err != nil {
		return false, err
	}
	log := logging.WithSpan(ctx, w.logger).With(zap.String("reply_id", reply.ID), zap.String("account_id", reply.AccountID))

	account, err := lookup.account(ctx, reply.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		return false, w.finish(ctx, reply, owner, "", fmt.Errorf("account %s not found", reply.AccountID), log)
	}
	if err != nil {
		return false, err
	}
	if account.TokenExpired(w.now()) {
		return false, w.finish(ctx, reply, owner, "", errors.New("access token expired"), log)
	}

	var media []models.MediaRef
	if rule, ok := lookup.rule(ctx, reply.AccountID, reply.RuleID); ok {
		media = rule.ReplyMedia
	}
	if err := models.ValidateMedia(media); err != nil {
		return false, w.finish(ctx, reply, owner, "", err, log)
	}

	externalID, err := w.client.SendReply(ctx, account, replyTarget(reply), reply.ReplyText, media)
	if err != nil {
		return false, w.finish(ctx, reply, owner, "", err, log)
	}
	return true, w.finish(ctx, reply, owner, externalID, nil, log)
}

// finish records the delivery outcome; cause nil means sent
func (w *Worker) finish(ctx context.Context, reply *models.AutoReply, owner, externalID string, cause error, log *zap.Logger) error {
	now := w.now().UTC()
	if cause == nil {
		reply.ReplyStatus = models.ReplySent
		reply.SentAt = &now
		reply.ReplyExternalID = &externalID
		reply.ErrorMessage = nil
	} else {
		msg := cause.Error()
		reply.ReplyStatus = models.ReplyFailed
		reply.ErrorMessage = &msg
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.store.SaveReplyResult(wctx, reply, owner); err != nil {
		return fmt.Errorf("failed to save reply result: %w", err)
	}

	if cause != nil {
		log.Error("Reply failed", zap.String("kind", platform.Classify(cause).String()), zap.Error(cause))
		telemetry.Incr(ctx, telemetry.RepliesFailed, 1)
		return nil
	}
	log.Info("Reply sent", zap.String("reply_external_id", externalID))
	telemetry.Incr(ctx, telemetry.RepliesSent, 1)
	return nil
}

// tickLookup caches accounts and rules for the duration of one tick.
// The mutex guards only the maps; concurrent first loads of one key share a single store call.
type tickLookup struct {
	store    store.Store
	loads    singleflight.Group
	mu       sync.Mutex
	accounts map[string]*models.Account
	rules    map[string]map[string]models.AutoReplyRule
}

func (l *tickLookup) account(ctx context.Context, id string) (*models.Account, error) {
	l.mu.Lock()
	a, ok := l.accounts[id]
	l.mu.Unlock()
	if ok {
		return a, nil
	}

	v, err, _ := l.loads.Do("account:"+id, func() (interface{}, error) {
		a, err := l.store.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.accounts[id] = a
		l.mu.Unlock()
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Account), nil
}

func (l *tickLookup) rule(ctx context.Context, accountID, ruleID string) (models.AutoReplyRule, bool) {
	l.mu.Lock()
	byID, ok := l.rules[accountID]
	l.mu.Unlock()
	if !ok {
		v, err, _ := l.loads.Do("rules:"+accountID, func() (interface{}, error) {
			rules, err := l.store.ListRules(ctx, accountID)
			if err != nil {
				return nil, err
			}
			loaded := make(map[string]models.AutoReplyRule, len(rules))
			for _, r := range rules {
				loaded[r.ID] = r
			}
			l.mu.Lock()
			l.rules[accountID] = loaded
			l.mu.Unlock()
			return loaded, nil
		})
		if err != nil {
			return models.AutoReplyRule{}, false
		}
		byID = v.(map[string]models.AutoReplyRule)
	}
	r, ok := byID[ruleID]
	return r, ok
}
