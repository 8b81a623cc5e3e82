package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatform/flow-engine-go/internal/model"
	"github.com/chatform/flow-engine-go/internal/repository"
)

// MatchResult is the matcher's explicit outcome. The matched group id
// is what the caller records in trigger history.
type MatchResult struct {
	Matched bool
	GroupID string
}

// Matcher evaluates a bot's trigger definition against one occurrence.
// Groups are tried in declaration order with AND semantics inside each;
// the first group surviving its policies wins.
type Matcher struct {
	history repository.TriggerHistoryRepository
	runs    repository.RunRepository
	inbound repository.InboundLogRepository
	clock   Clock
}

func NewMatcher(
	history repository.TriggerHistoryRepository,
	runs repository.RunRepository,
	inbound repository.InboundLogRepository,
	clock Clock,
) *Matcher {
	return &Matcher{
		history: history,
		runs:    runs,
		inbound: inbound,
		clock:   clock,
	}
}

// Match evaluates the definition. With eventOnly set (the event-router
// path) only groups containing an event-only condition are considered.
func (m *Matcher) Match(ctx context.Context, rc *RunContext, def *model.TriggerDefinition, eventOnly bool) (MatchResult, error) {
	if def == nil || len(def.Groups) == 0 {
		return MatchResult{}, nil
	}

	for i := range def.Groups {
		group := &def.Groups[i]
		if eventOnly && !group.HasEventCondition() {
			continue
		}
		if !sourceEligible(group, rc.Envelope) {
			continue
		}

		ok, err := m.groupMatches(ctx, rc, group)
		if err != nil {
			return MatchResult{}, err
		}
		if !ok {
			continue
		}

		ok, err = m.groupPolicyAllows(ctx, rc, group)
		if err != nil {
			return MatchResult{}, err
		}
		if !ok {
			continue
		}

		// Bot-level policy applies to ordinary message triggers only,
		// layered after content matched.
		if !rc.Envelope.Kind.IsEvent() {
			ok, err = m.botPolicyAllows(ctx, rc, def.Policy)
			if err != nil {
				return MatchResult{}, err
			}
			if !ok {
				return MatchResult{}, nil
			}
		}

		return MatchResult{Matched: true, GroupID: group.ID}, nil
	}

	return MatchResult{}, nil
}

// sourceEligible applies the explicit source flags plus the auto-detect
// rule: a group containing a group-scoped or channel-scoped condition
// implicitly allows that source.
func sourceEligible(group *model.TriggerGroup, env *model.Envelope) bool {
	if env.IsGroup {
		if group.Sources.Group {
			return true
		}
		for _, c := range group.Conditions {
			if c.Kind.GroupScoped() {
				return true
			}
		}
		return false
	}
	if env.IsChannel {
		if group.Sources.Channel {
			return true
		}
		for _, c := range group.Conditions {
			if c.Kind.ChannelScoped() {
				return true
			}
		}
		return false
	}
	// Direct chats are the default when no flags are set at all.
	if !group.Sources.Direct && !group.Sources.Group && !group.Sources.Channel {
		return true
	}
	return group.Sources.Direct
}

func (m *Matcher) groupMatches(ctx context.Context, rc *RunContext, group *model.TriggerGroup) (bool, error) {
	for _, cond := range group.Conditions {
		ok, err := m.conditionMatches(ctx, rc, cond)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (m *Matcher) conditionMatches(ctx context.Context, rc *RunContext, cond model.TriggerCondition) (bool, error) {
	env := rc.Envelope

	if cond.Kind.IsEventOnly() {
		return eventKindMatches(cond.Kind, env.Kind), nil
	}

	switch cond.Kind {
	case model.ConditionAny:
		return true, nil

	case model.ConditionContains, model.ConditionStartsWith, model.ConditionExact, model.ConditionRegex:
		if env.Kind.IsEvent() {
			return false, nil
		}
		return matchText(cond.Kind, cond.Value, env.Body), nil

	case model.ConditionFirstMessage:
		count, err := m.inbound.Count(ctx, rc.Bot.ID, rc.Contact.ID)
		if err != nil {
			return false, fmt.Errorf("count inbound messages: %w", err)
		}
		// The triggering message is already persisted, so "first ever"
		// means exactly one row.
		return count == 1, nil

	case model.ConditionContactField:
		actual, ok := rc.Contact.Field(cond.Field)
		if !ok {
			return false, nil
		}
		return compare(cond.Op, actual, cond.Value), nil

	case model.ConditionHasTag:
		return rc.Contact.HasTag(cond.Value), nil

	case model.ConditionNotHasTag:
		return !rc.Contact.HasTag(cond.Value), nil

	case model.ConditionQuietFor:
		var prev *time.Time
		var err error
		if env.Kind.IsEvent() {
			// Events are never written to the inbound log, so the
			// newest row is the contact's latest message.
			prev, err = m.inbound.MostRecent(ctx, rc.Bot.ID, rc.Contact.ID)
		} else {
			// The triggering message is already in the log, so the
			// quiet period is measured from the message before it.
			prev, err = m.inbound.SecondMostRecent(ctx, rc.Bot.ID, rc.Contact.ID)
		}
		if err != nil {
			return false, fmt.Errorf("query inbound log: %w", err)
		}
		if prev == nil {
			return true, nil
		}
		return m.clock.Now().Sub(*prev) >= window(cond.Amount, cond.Unit), nil

	case model.ConditionNotTriggeredWithin:
		// Deliberately broad: measured against the most recent trigger of
		// any group for this bot+contact.
		last, err := m.history.LastAnyGroup(ctx, rc.Bot.ID, rc.Contact.ID)
		if err != nil {
			return false, fmt.Errorf("query trigger history: %w", err)
		}
		if last == nil {
			return true, nil
		}
		return m.clock.Now().Sub(last.TriggeredAt) >= window(cond.Amount, cond.Unit), nil
	}

	log.Warn().Str("kind", string(cond.Kind)).Msg("unknown trigger condition kind")
	return false, nil
}

func eventKindMatches(cond model.ConditionKind, occ model.OccurrenceKind) bool {
	switch cond {
	case model.ConditionStatusViewed:
		return occ == model.OccurrenceStatusViewed
	case model.ConditionStatusReact:
		return occ == model.OccurrenceStatusReact
	case model.ConditionStatusReply:
		return occ == model.OccurrenceStatusReply
	case model.ConditionGroupJoin:
		return occ == model.OccurrenceGroupJoin
	case model.ConditionGroupLeave:
		return occ == model.OccurrenceGroupLeave
	case model.ConditionCallReceived:
		return occ == model.OccurrenceCallReceived
	case model.ConditionCallRejected:
		return occ == model.OccurrenceCallRejected
	case model.ConditionCallAccepted:
		return occ == model.OccurrenceCallAccepted
	case model.ConditionPollVote:
		return occ == model.OccurrencePollVote
	}
	return false
}

// groupPolicyAllows applies the group's policies in order: active
// hours, cooldown, once-per-user.
func (m *Matcher) groupPolicyAllows(ctx context.Context, rc *RunContext, group *model.TriggerGroup) (bool, error) {
	now := m.clock.Now().In(rc.Bot.Location())

	if !withinActiveHours(group.ActiveHours, now) {
		return false, nil
	}

	if group.Cooldown != nil && group.Cooldown.Amount > 0 {
		last, err := m.history.LastForGroup(ctx, rc.Bot.ID, rc.Contact.ID, group.ID)
		if err != nil {
			return false, fmt.Errorf("query trigger history: %w", err)
		}
		if last != nil && m.clock.Now().Sub(last.TriggeredAt) < window(group.Cooldown.Amount, group.Cooldown.Unit) {
			return false, nil
		}
	}

	if group.OncePerUser {
		fired, err := m.history.ExistsForGroup(ctx, rc.Bot.ID, rc.Contact.ID, group.ID)
		if err != nil {
			return false, fmt.Errorf("query trigger history: %w", err)
		}
		if fired {
			return false, nil
		}
	}

	return true, nil
}

// botPolicyAllows applies the bot-level trigger policy: active hours,
// once-per-user against the run log, and a cooldown from the most
// recent run.
func (m *Matcher) botPolicyAllows(ctx context.Context, rc *RunContext, policy *model.TriggerPolicy) (bool, error) {
	if policy == nil {
		return true, nil
	}

	now := m.clock.Now().In(rc.Bot.Location())
	if !withinActiveHours(policy.ActiveHours, now) {
		return false, nil
	}

	if policy.OncePerUser {
		ran, err := m.runs.Exists(ctx, rc.Bot.ID, rc.Contact.ID)
		if err != nil {
			return false, fmt.Errorf("query run log: %w", err)
		}
		if ran {
			return false, nil
		}
	}

	if policy.Cooldown != nil && policy.Cooldown.Amount > 0 {
		last, err := m.runs.Last(ctx, rc.Bot.ID, rc.Contact.ID)
		if err != nil {
			return false, fmt.Errorf("query run log: %w", err)
		}
		if last != nil && m.clock.Now().Sub(last.StartedAt) < window(policy.Cooldown.Amount, policy.Cooldown.Unit) {
			return false, nil
		}
	}

	return true, nil
}
