package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatform/flow-engine-go/internal/config"
	"github.com/chatform/flow-engine-go/internal/gateway"
	"github.com/chatform/flow-engine-go/internal/model"
)

// executeMessage runs the node's ordered action list against the acting
// contact. A wait_reply action suspends the run; remaining actions are
// not executed.
func (it *Interpreter) executeMessage(ctx context.Context, rc *RunContext, node *model.Node) (nodeResult, error) {
	cfg, err := decodeConfig[MessageConfig](node)
	if err != nil {
		return nodeResult{}, err
	}

	for _, action := range cfg.Actions {
		if action.Kind == "wait_reply" {
			state := model.ReplyWait{SaveVar: action.SaveVar}
			if err := it.suspend(ctx, rc, node.ID, state, action.TimeoutSeconds); err != nil {
				return nodeResult{}, err
			}
			return nodeResult{halt: true}, nil
		}
		it.runMessageAction(ctx, rc, rc.ChatID(), action)
	}

	return nodeResult{next: defaultEdges(rc.Flow, node.ID)}, nil
}

// executeSendTo runs the same action vocabulary against a different
// chat, resolved from a literal or a contact variable. It never touches
// the acting contact's session, so wait_reply is ignored here.
func (it *Interpreter) executeSendTo(ctx context.Context, rc *RunContext, node *model.Node) (nodeResult, error) {
	cfg, err := decodeConfig[SendToConfig](node)
	if err != nil {
		return nodeResult{}, err
	}

	target := it.resolver.Resolve(cfg.Target, rc)
	if target == "" {
		log.Warn().
			Str("botId", rc.Bot.ID).
			Str("nodeId", node.ID).
			Msg("send-to node target resolved empty, skipping")
		return nodeResult{next: defaultEdges(rc.Flow, node.ID)}, nil
	}

	for _, action := range cfg.Actions {
		if action.Kind == "wait_reply" {
			log.Warn().
				Str("nodeId", node.ID).
				Msg("wait_reply is not supported on send-to nodes, skipping")
			continue
		}
		it.runMessageAction(ctx, rc, target, action)
	}

	return nodeResult{next: defaultEdges(rc.Flow, node.ID)}, nil
}

// runMessageAction performs one send or chat side effect. Failures are
// logged and swallowed so the rest of the node still runs.
func (it *Interpreter) runMessageAction(ctx context.Context, rc *RunContext, to string, action MessageAction) {
	var err error

	switch action.Kind {
	case "text":
		_, err = it.gw.SendText(ctx, to, it.resolver.Resolve(action.Text, rc))
	case "image":
		_, err = it.gw.SendImage(ctx, to, action.URL, it.resolver.Resolve(action.Caption, rc))
	case "video":
		_, err = it.gw.SendVideo(ctx, to, action.URL, it.resolver.Resolve(action.Caption, rc))
	case "audio":
		_, err = it.gw.SendVoice(ctx, to, action.URL)
	case "file":
		_, err = it.gw.SendFile(ctx, to, action.URL, action.Filename)
	case "contact":
		_, err = it.gw.SendContactCard(ctx, to, gateway.ContactCard{
			Name:  it.resolver.Resolve(action.ContactName, rc),
			Phone: it.resolver.Resolve(action.ContactPhone, rc),
		})
	case "location":
		_, err = it.gw.SendLocation(ctx, to, gateway.Location{
			Latitude:  action.Latitude,
			Longitude: action.Longitude,
			Name:      action.LocationName,
			Address:   action.Address,
		})
	case "link":
		_, err = it.gw.SendLinkPreview(ctx, to, action.URL, it.resolver.Resolve(action.Text, rc))
	case "reaction":
		if rc.Envelope != nil && rc.Envelope.MessageID != "" {
			_, err = it.gw.SendReaction(ctx, to, rc.Envelope.MessageID, action.Emoji)
		}
	case "seen":
		err = it.gw.SendSeen(ctx, to)
	case "delay":
		it.sleep(ctx, action.Seconds)
	case "typing":
		if err = it.gw.StartTyping(ctx, to); err == nil {
			it.sleep(ctx, action.Seconds)
			err = it.gw.StopTyping(ctx, to)
		}
	default:
		log.Warn().Str("kind", action.Kind).Msg("unknown message action kind, skipping")
	}

	if err != nil {
		log.Error().
			Err(err).
			Str("botId", rc.Bot.ID).
			Str("to", to).
			Str("action", action.Kind).
			Msg("message action failed")
	}
}

// sleep is a cooperative in-task delay, clamped to the configured
// maximum. A restart during the sleep loses only this run's remainder.
func (it *Interpreter) sleep(ctx context.Context, seconds int) {
	if seconds <= 0 {
		return
	}
	d := time.Duration(seconds) * time.Second
	if d > config.MaxDelay {
		d = config.MaxDelay
	}
	it.clock.Sleep(ctx, d)
}

func (it *Interpreter) executeDelay(ctx context.Context, rc *RunContext, node *model.Node) (nodeResult, error) {
	cfg, err := decodeConfig[DelayConfig](node)
	if err != nil {
		return nodeResult{}, err
	}

	if cfg.Typing {
		if err := it.gw.StartTyping(ctx, rc.ChatID()); err != nil {
			log.Error().Err(err).Str("nodeId", node.ID).Msg("start typing failed")
		}
	}
	it.sleep(ctx, cfg.Seconds)
	if cfg.Typing {
		if err := it.gw.StopTyping(ctx, rc.ChatID()); err != nil {
			log.Error().Err(err).Str("nodeId", node.ID).Msg("stop typing failed")
		}
	}

	return nodeResult{next: defaultEdges(rc.Flow, node.ID)}, nil
}

// executeCondition evaluates the node's predicate tree and follows the
// yes or no branch.
func (it *Interpreter) executeCondition(ctx context.Context, rc *RunContext, node *model.Node) (nodeResult, error) {
	cfg, err := decodeConfig[ConditionConfig](node)
	if err != nil {
		return nodeResult{}, err
	}

	branch := model.BranchNo
	if cfg.Root.Evaluate(rc, it.resolver) {
		branch = model.BranchYes
	}

	return nodeResult{next: rc.Flow.EdgesFromExactHandle(node.ID, branch)}, nil
}

// executeNote is documentation only.
func (it *Interpreter) executeNote(ctx context.Context, rc *RunContext, node *model.Node) (nodeResult, error) {
	return nodeResult{next: defaultEdges(rc.Flow, node.ID)}, nil
}
