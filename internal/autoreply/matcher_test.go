package autoreply

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/postpilot/postpilot/internal/models"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func textEvent(typ models.TriggerType, text string) *models.Event {
	return &models.Event{
		Type: typ, AccountID: "acc", SourcePostID: "X", ActorID: "u9", ActorUsername: "bob",
		Text: &text, ExternalID: "e1", OccurredAt: t0,
	}
}

func rule(id string, priority int, mutate ...func(*models.AutoReplyRule)) models.AutoReplyRule {
	r := models.AutoReplyRule{
		ID: id, AccountID: "acc", Name: id, IsActive: true, Priority: priority,
		TriggerOn: datatypes.JSONSlice[models.TriggerType]{models.TriggerReply},
		ReplyText: "thanks {username}",
		CreatedAt: t0,
	}
	for _, m := range mutate {
		m(&r)
	}
	return r
}

func keywords(cond models.KeywordCondition, match models.MatchType, kws ...string) func(*models.AutoReplyRule) {
	return func(r *models.AutoReplyRule) {
		r.KeywordCondition = cond
		r.MatchType = match
		r.Keywords = kws
	}
}

func tags(cond models.KeywordCondition, match models.MatchType, hs ...string) func(*models.AutoReplyRule) {
	return func(r *models.AutoReplyRule) {
		r.HashtagCondition = cond
		r.HashtagMatchType = match
		r.Hashtags = hs
	}
}

func TestMatchKeywords(t *testing.T) {
	tests := []struct {
		name string
		rule models.AutoReplyRule
		text string
		want bool
	}{
		{"all present", rule("r", 0, keywords(models.ConditionAll, models.MatchPartial, "a", "b")), "a and b present", true},
		{"all missing one", rule("r", 0, keywords(models.ConditionAll, models.MatchPartial, "a", "b")), "only a", false},
		{"any", rule("r", 0, keywords(models.ConditionAny, models.MatchPartial, "price", "cost")), "what does it cost?", true},
		{"any none present", rule("r", 0, keywords(models.ConditionAny, models.MatchPartial, "price", "cost")), "love it", false},
		{"none passes", rule("r", 0, keywords(models.ConditionNone, models.MatchPartial, "spam")), "great post", true},
		{"none blocks", rule("r", 0, keywords(models.ConditionNone, models.MatchPartial, "spam")), "buy SPAM here", false},
		{"exact whole text", rule("r", 0, keywords(models.ConditionAny, models.MatchExact, "Hello")), "  hello ", true},
		{"exact rejects substring", rule("r", 0, keywords(models.ConditionAny, models.MatchExact, "hello")), "hello there", false},
		{"case folded", rule("r", 0, keywords(models.ConditionAll, models.MatchPartial, "STRASSE")), "die Straße", true},
		{"empty keyword list", rule("r", 0, keywords(models.ConditionAll, models.MatchPartial)), "anything", true},
		{"disabled", rule("r", 0, keywords(models.ConditionDisabled, models.MatchPartial, "x")), "anything", true},
	}
	for _, tt := range tests {
		tt := tt // per-iteration copy; go 1.21 shares loop variables
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Match(textEvent(models.TriggerReply, tt.text), []models.AutoReplyRule{tt.rule})
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestMatchHashtags(t *testing.T) {
	tests := []struct {
		name string
		rule models.AutoReplyRule
		text string
		want bool
	}{
		{"exact tag", rule("r", 0, tags(models.ConditionAny, models.MatchExact, "#launch")), "big day #Launch!", true},
		{"tag without hash", rule("r", 0, tags(models.ConditionAny, models.MatchExact, "launch")), "big day #launch", true},
		{"plain word is not a tag", rule("r", 0, tags(models.ConditionAny, models.MatchExact, "launch")), "big launch day", false},
		{"exact rejects longer tag", rule("r", 0, tags(models.ConditionAny, models.MatchExact, "launch")), "#launchday", false},
		{"partial tag", rule("r", 0, tags(models.ConditionAny, models.MatchPartial, "launch")), "#launchday", true},
		{"all tags", rule("r", 0, tags(models.ConditionAll, models.MatchExact, "a", "b")), "#a #b", true},
		{"none tags", rule("r", 0, tags(models.ConditionNone, models.MatchExact, "ad")), "#ad here", false},
		{"unicode tag", rule("r", 0, tags(models.ConditionAny, models.MatchExact, "café")), "#CAFÉ time", true},
	}
	for _, tt := range tests {
		tt := tt // per-iteration copy; go 1.21 shares loop variables
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Match(textEvent(models.TriggerReply, tt.text), []models.AutoReplyRule{tt.rule})
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestMatchFirstByPriority(t *testing.T) {
	rules := []models.AutoReplyRule{
		rule("late", 5),
		rule("b", 1, func(r *models.AutoReplyRule) { r.CreatedAt = t0.Add(time.Minute) }),
		rule("a", 1, func(r *models.AutoReplyRule) { r.CreatedAt = t0.Add(time.Minute) }),
		rule("older", 1),
		rule("inactive", 0, func(r *models.AutoReplyRule) { r.IsActive = false }),
	}

	got, ok := Match(textEvent(models.TriggerReply, "hi"), rules)
	require.True(t, ok)
	assert.Equal(t, "older", got.ID)

	rules[3].IsActive = false
	got, ok = Match(textEvent(models.TriggerReply, "hi"), rules)
	require.True(t, ok)
	assert.Equal(t, "a", got.ID, "creation time ties break on id")
}

func TestMatchIsDeterministic(t *testing.T) {
	rules := []models.AutoReplyRule{
		rule("x", 2, keywords(models.ConditionAny, models.MatchPartial, "hi")),
		rule("y", 1, keywords(models.ConditionAny, models.MatchPartial, "hi")),
		rule("z", 1, keywords(models.ConditionAny, models.MatchPartial, "hi")),
	}
	event := textEvent(models.TriggerReply, "hi there")
	first, ok := Match(event, rules)
	require.True(t, ok)
	for i := 0; i < 50; i++ {
		got, ok := Match(event, rules)
		require.True(t, ok)
		assert.Equal(t, first.ID, got.ID)
	}
	assert.Equal(t, "x", rules[0].ID, "input order untouched")
}

func TestMatchTriggerAndWindow(t *testing.T) {
	start, end := t0.Add(-time.Hour), t0.Add(time.Hour)
	windowed := rule("w", 0, func(r *models.AutoReplyRule) {
		r.FilterStartDate = &start
		r.FilterEndDate = &end
	})

	_, ok := Match(textEvent(models.TriggerQuote, "hi"), []models.AutoReplyRule{windowed})
	assert.False(t, ok, "rule does not listen to quotes")

	_, ok = Match(textEvent(models.TriggerReply, "hi"), []models.AutoReplyRule{windowed})
	assert.True(t, ok)

	late := textEvent(models.TriggerReply, "hi")
	late.OccurredAt = end.Add(time.Second)
	_, ok = Match(late, []models.AutoReplyRule{windowed})
	assert.False(t, ok)

	edge := textEvent(models.TriggerReply, "hi")
	edge.OccurredAt = end
	_, ok = Match(edge, []models.AutoReplyRule{windowed})
	assert.True(t, ok, "window bounds are inclusive")
}

func TestBuildReplyTiming(t *testing.T) {
	event := textEvent(models.TriggerReply, "when is launch?")

	immediate := rule("i", 0)
	r := BuildReply(&immediate, event, t0)
	assert.Equal(t, models.ReplyPending, r.ReplyStatus)
	assert.True(t, r.ScheduledSendAt.Equal(t0))
	assert.Equal(t, "thanks bob", r.ReplyText)
	assert.Equal(t, "e1", r.TriggerExternalID)
	assert.Equal(t, "when is launch?", *r.TriggerText)

	delayed := rule("d", 0, func(r *models.AutoReplyRule) {
		r.TimingType = models.TimingDelayed
		r.DelayMinutes = 15
		r.ReplyText = "{username} asked: {text}"
	})
	r = BuildReply(&delayed, event, t0)
	assert.Equal(t, models.ReplyPending, r.ReplyStatus)
	assert.True(t, r.ScheduledSendAt.Equal(t0.Add(15*time.Minute)))
	assert.Equal(t, "bob asked: when is launch?", r.ReplyText)

	threshold := rule("t", 0, func(r *models.AutoReplyRule) {
		r.TimingType = models.TimingLikeThreshold
		r.LikeThreshold = 50
	})
	r = BuildReply(&threshold, event, t0)
	assert.Equal(t, models.ReplyWaitingLikes, r.ReplyStatus)
	assert.Nil(t, r.ScheduledSendAt)
	assert.Equal(t, int64(50), r.LikeThreshold)
}

func TestRenderReplyWithoutText(t *testing.T) {
	like := &models.Event{Type: models.TriggerLike, ActorUsername: "amy"}
	assert.Equal(t, "hi amy, you said ''", RenderReply("hi {username}, you said '{text}'", like))
}
