package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chatform/flow-engine-go/internal/config"
	apperrors "github.com/chatform/flow-engine-go/internal/errors"
	"github.com/chatform/flow-engine-go/internal/model"
	"github.com/chatform/flow-engine-go/internal/repository"
)

// OccurrenceCache is the shared short-lived state the router keeps in
// redis: delivery dedupe keys, per-contact execution leases and the
// call-id to caller mapping.
type OccurrenceCache interface {
	MarkProcessed(ctx context.Context, botID, occurrenceID string, ttl time.Duration) (bool, error)
	AcquireLease(ctx context.Context, botID, contactID string, ttl time.Duration) (func(), bool, error)
	RememberCallPeer(ctx context.Context, botID, callID, phone string, ttl time.Duration) error
	CallPeer(ctx context.Context, botID, callID string) (string, error)
}

// Router turns one inbound envelope into at most one flow run: it
// resolves the bot and contact, applies the policy gates, and decides
// between resuming a stored session and evaluating triggers. It is the
// only component that starts interpreter walks.
type Router struct {
	bots     repository.BotRepository
	contacts repository.ContactRepository
	sessions repository.SessionRepository
	history  repository.TriggerHistoryRepository
	runs     repository.RunRepository
	inbound  repository.InboundLogRepository
	vars     repository.VariableRepository

	cache   OccurrenceCache
	matcher *Matcher
	interp  *Interpreter
	locks   *KeyedLocks
	clock   Clock
	lockTTL time.Duration
}

func NewRouter(
	bots repository.BotRepository,
	contacts repository.ContactRepository,
	sessions repository.SessionRepository,
	history repository.TriggerHistoryRepository,
	runs repository.RunRepository,
	inbound repository.InboundLogRepository,
	vars repository.VariableRepository,
	c OccurrenceCache,
	matcher *Matcher,
	interp *Interpreter,
	clock Clock,
	lockTTL time.Duration,
) *Router {
	return &Router{
		bots:     bots,
		contacts: contacts,
		sessions: sessions,
		history:  history,
		runs:     runs,
		inbound:  inbound,
		vars:     vars,
		cache:    c,
		matcher:  matcher,
		interp:   interp,
		locks:    NewKeyedLocks(),
		clock:    clock,
		lockTTL:  lockTTL,
	}
}

// Handle processes one occurrence end to end. Policy refusals (bot
// disabled, takeover, quota) return nil: the occurrence was accepted
// and deliberately produced no run.
func (r *Router) Handle(ctx context.Context, env *model.Envelope) error {
	if env.MessageID != "" {
		first, err := r.cache.MarkProcessed(ctx, env.BotID, env.MessageID, config.DedupeTTL)
		if err != nil {
			log.Error().Err(err).Str("messageId", env.MessageID).Msg("dedupe check failed")
		} else if !first {
			log.Debug().
				Str("botId", env.BotID).
				Str("messageId", env.MessageID).
				Msg("duplicate delivery dropped")
			return nil
		}
	}

	bot, err := r.resolveBot(ctx, env.BotID)
	if err != nil {
		return err
	}
	if !bot.Enabled {
		log.Debug().Str("botId", bot.ID).Msg("bot disabled, occurrence dropped")
		return nil
	}

	if env.Kind.IsEvent() {
		r.resolveCallPeer(ctx, bot, env)
	}
	if env.Phone == "" {
		return apperrors.InvalidInput("phone", "missing contact identifier")
	}

	contact, err := r.resolveContact(ctx, bot, env)
	if err != nil {
		return err
	}

	if env.Kind == model.OccurrenceMessage {
		if err := r.inbound.Append(ctx, bot.ID, contact.ID, env.ReceivedAt); err != nil {
			log.Error().Err(err).Str("contactId", contact.ID).Msg("inbound log append failed")
		}
	}

	now := r.clock.Now()
	if !contact.IsBotActive {
		log.Debug().Str("contactId", contact.ID).Msg("bot paused for contact")
		return nil
	}
	if contact.TakenOver(now) {
		log.Debug().Str("contactId", contact.ID).Msg("contact under operator takeover")
		return nil
	}

	flow, err := bot.Flow()
	if err != nil || flow == nil || len(flow.Nodes) == 0 {
		if err != nil {
			log.Warn().Err(err).Str("botId", bot.ID).Msg("flow graph unreadable")
		}
		return apperrors.ConfigGap("bot has no flow graph")
	}

	unlock := r.locks.Lock(SessionLockKey(bot.ID, contact.ID))
	defer unlock()
	release, acquired, err := r.cache.AcquireLease(ctx, bot.ID, contact.ID, r.lockTTL)
	if err != nil {
		return apperrors.Transient("session lease", err)
	}
	if !acquired {
		log.Warn().
			Str("botId", bot.ID).
			Str("contactId", contact.ID).
			Msg("contact busy on another instance, occurrence dropped")
		return nil
	}
	defer release()

	varMap, err := r.vars.GetAll(ctx, contact.ID)
	if err != nil {
		return apperrors.Database(err)
	}
	rc := &RunContext{
		Bot:      bot,
		Contact:  contact,
		Envelope: env,
		Flow:     flow,
		Vars:     varMap,
	}

	// Messages are consumed by a pending session before any trigger is
	// considered. Events never feed wait states.
	if env.Kind == model.OccurrenceMessage {
		session, err := r.sessions.Find(ctx, bot.ID, contact.ID)
		if err != nil {
			return apperrors.Database(err)
		}
		if session != nil {
			r.interp.Resume(ctx, rc, session)
			return nil
		}
		if r.interp.RecoverList(ctx, rc) {
			return nil
		}
	}

	return r.match(ctx, rc)
}

// match evaluates the bot's trigger definition and starts a run when a
// group fires and the quota allows it.
func (r *Router) match(ctx context.Context, rc *RunContext) error {
	def, err := rc.Bot.Triggers()
	if err != nil || def == nil || len(def.Groups) == 0 {
		if err != nil {
			log.Warn().Err(err).Str("botId", rc.Bot.ID).Msg("trigger definition unreadable")
		}
		return apperrors.ConfigGap("bot has no trigger definition")
	}

	result, err := r.matcher.Match(ctx, rc, def, rc.Envelope.Kind.IsEvent())
	if err != nil {
		return fmt.Errorf("trigger match: %w", err)
	}
	if !result.Matched {
		return nil
	}

	if allowed, err := r.withinRunLimit(ctx, rc.Bot); err != nil {
		return err
	} else if !allowed {
		log.Info().
			Str("botId", rc.Bot.ID).
			Int("runLimit", rc.Bot.RunLimit).
			Msg("monthly run limit reached, flow not started")
		return nil
	}

	entry := rc.Flow.EntryNode()
	if entry == nil {
		return apperrors.ConfigGap("flow graph has no trigger node")
	}

	if err := r.history.Append(ctx, rc.Bot.ID, rc.Contact.ID, result.GroupID); err != nil {
		log.Error().Err(err).Str("groupId", result.GroupID).Msg("trigger history append failed")
	}
	if err := r.runs.Append(ctx, uuid.NewString(), rc.Bot.ID, rc.Contact.ID); err != nil {
		log.Error().Err(err).Str("botId", rc.Bot.ID).Msg("run log append failed")
	}

	log.Info().
		Str("botId", rc.Bot.ID).
		Str("contactId", rc.Contact.ID).
		Str("groupId", result.GroupID).
		Str("kind", string(rc.Envelope.Kind)).
		Msg("flow run started")

	r.interp.ExecuteEdges(ctx, rc, rc.Flow.EdgesFrom(entry.ID))
	return nil
}

// resolveBot accepts either the internal bot id or the channel id the
// gateway knows the bot by.
func (r *Router) resolveBot(ctx context.Context, id string) (*model.Bot, error) {
	bot, err := r.bots.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if bot == nil {
		bot, err = r.bots.FindByChannelID(ctx, id)
		if err != nil {
			return nil, apperrors.Database(err)
		}
	}
	if bot == nil {
		return nil, apperrors.NotFound("bot")
	}
	return bot, nil
}

// resolveContact finds or creates the contact for the envelope's chat
// and keeps the display name current.
func (r *Router) resolveContact(ctx context.Context, bot *model.Bot, env *model.Envelope) (*model.Contact, error) {
	contact, err := r.contacts.FindByPhone(ctx, bot.ID, env.Phone)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if contact == nil {
		contact, err = r.contacts.Create(ctx, model.CreateContactParams{
			BotID:     bot.ID,
			Phone:     env.Phone,
			Name:      env.Name,
			IsGroup:   env.IsGroup,
			IsChannel: env.IsChannel,
		})
		if err != nil {
			return nil, apperrors.Database(err)
		}
		log.Info().
			Str("botId", bot.ID).
			Str("contactId", contact.ID).
			Bool("isGroup", contact.IsGroup).
			Msg("contact created")
		return contact, nil
	}
	if env.Name != "" && env.Name != contact.Name {
		if err := r.contacts.UpdateName(ctx, contact.ID, env.Name); err != nil {
			log.Error().Err(err).Str("contactId", contact.ID).Msg("contact name update failed")
		} else {
			contact.Name = env.Name
		}
	}
	return contact, nil
}

// resolveCallPeer bridges call-received and call-ended events: the
// first delivery carries both call id and caller, later ones only the
// call id.
func (r *Router) resolveCallPeer(ctx context.Context, bot *model.Bot, env *model.Envelope) {
	callID := env.EventData["callId"]
	if callID == "" {
		return
	}
	if env.Phone != "" {
		if err := r.cache.RememberCallPeer(ctx, bot.ID, callID, env.Phone, config.CallPeerTTL); err != nil {
			log.Error().Err(err).Str("callId", callID).Msg("remember call peer failed")
		}
		return
	}
	phone, err := r.cache.CallPeer(ctx, bot.ID, callID)
	if err != nil {
		log.Error().Err(err).Str("callId", callID).Msg("call peer lookup failed")
		return
	}
	env.Phone = phone
}

// withinRunLimit enforces the monthly run quota, counted in the bot's
// own timezone.
func (r *Router) withinRunLimit(ctx context.Context, bot *model.Bot) (bool, error) {
	if bot.RunLimit <= 0 {
		return true, nil
	}
	now := r.clock.Now().In(bot.Location())
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	count, err := r.runs.CountSince(ctx, bot.ID, monthStart)
	if err != nil {
		return false, apperrors.Database(err)
	}
	return count < bot.RunLimit, nil
}
