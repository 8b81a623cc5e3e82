package engine

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/chatform/flow-engine-go/internal/model"
)

// executeRegistration starts the multi-question wizard: ask the first
// question and suspend.
func (it *Interpreter) executeRegistration(ctx context.Context, rc *RunContext, node *model.Node) (nodeResult, error) {
	cfg, err := decodeConfig[RegistrationConfig](node)
	if err != nil {
		return nodeResult{}, err
	}
	if len(cfg.Questions) == 0 {
		log.Warn().
			Str("botId", rc.Bot.ID).
			Str("nodeId", node.ID).
			Msg("registration node has no questions, skipping")
		return nodeResult{next: defaultEdges(rc.Flow, node.ID)}, nil
	}

	if err := it.askQuestion(ctx, rc, cfg.Questions[0]); err != nil {
		return nodeResult{}, err
	}

	state := model.RegistrationWait{
		QuestionIndex: 0,
		Answers:       map[string]string{},
		CancelKeyword: cfg.CancelKeyword,
	}
	if err := it.suspend(ctx, rc, node.ID, state, cfg.TimeoutSeconds); err != nil {
		return nodeResult{}, err
	}
	return nodeResult{halt: true}, nil
}

func (it *Interpreter) askQuestion(ctx context.Context, rc *RunContext, q RegQuestion) error {
	_, err := it.gw.SendText(ctx, rc.ChatID(), it.resolver.Resolve(q.Prompt, rc))
	return err
}

// resumeRegistration handles one inbound answer of a suspended wizard.
// It returns the edges to continue on (empty while the wizard is still
// collecting answers).
func (it *Interpreter) resumeRegistration(ctx context.Context, rc *RunContext, session *model.Session, wait model.RegistrationWait) []model.Edge {
	node := rc.Flow.NodeByID(session.CurrentNodeID)
	if node == nil {
		// The graph changed underneath the session; discard it.
		log.Warn().
			Str("botId", rc.Bot.ID).
			Str("nodeId", session.CurrentNodeID).
			Msg("registration session references a missing node, discarding")
		it.clearSession(ctx, rc)
		return nil
	}

	cfg, err := decodeConfig[RegistrationConfig](node)
	if err != nil || wait.QuestionIndex >= len(cfg.Questions) {
		log.Warn().
			Str("botId", rc.Bot.ID).
			Str("nodeId", node.ID).
			Msg("registration session does not match node config, discarding")
		it.clearSession(ctx, rc)
		return nil
	}

	if wait.CancelKeyword != "" && strings.EqualFold(strings.TrimSpace(rc.Envelope.Body), wait.CancelKeyword) {
		it.clearSession(ctx, rc)
		return rc.Flow.EdgesFromHandle(node.ID, model.BranchCancel)
	}

	question := cfg.Questions[wait.QuestionIndex]
	answer, ok := ValidateAnswer(question, rc.Envelope)
	if !ok {
		msg := question.ErrorMessage
		if msg == "" {
			msg = "Invalid answer, please try again."
		}
		if _, err := it.gw.SendText(ctx, rc.ChatID(), it.resolver.Resolve(msg, rc)); err != nil {
			log.Error().Err(err).Str("nodeId", node.ID).Msg("send validation error failed")
		}
		// Same state, re-persisted so the deadline extends from now.
		it.persistRegistration(ctx, rc, session, wait, cfg.TimeoutSeconds)
		return nil
	}

	if wait.Answers == nil {
		wait.Answers = map[string]string{}
	}
	wait.Answers[question.Key] = answer
	it.storeVar(ctx, rc, question.Key, answer, nil)

	if wait.QuestionIndex+1 < len(cfg.Questions) {
		wait.QuestionIndex++
		if err := it.askQuestion(ctx, rc, cfg.Questions[wait.QuestionIndex]); err != nil {
			log.Error().Err(err).Str("nodeId", node.ID).Msg("send next question failed")
		}
		it.persistRegistration(ctx, rc, session, wait, cfg.TimeoutSeconds)
		return nil
	}

	// All questions answered.
	it.clearSession(ctx, rc)

	if cfg.SummaryVar != "" {
		it.storeVar(ctx, rc, cfg.SummaryVar, formatSummary(cfg.Questions, wait.Answers), nil)
	}
	if cfg.CompleteMessage != "" {
		if _, err := it.gw.SendText(ctx, rc.ChatID(), it.resolver.Resolve(cfg.CompleteMessage, rc)); err != nil {
			log.Error().Err(err).Str("nodeId", node.ID).Msg("send completion message failed")
		}
	}
	if cfg.WebhookURL != "" {
		if err := it.postWebhook(ctx, rc, cfg.WebhookURL); err != nil {
			log.Error().Err(err).Str("nodeId", node.ID).Msg("registration webhook failed")
		}
	}

	return rc.Flow.EdgesFromHandle(node.ID, model.BranchComplete)
}

func (it *Interpreter) persistRegistration(ctx context.Context, rc *RunContext, session *model.Session, wait model.RegistrationWait, timeoutSeconds int) {
	if err := it.resuspend(ctx, rc, session, wait, timeoutSeconds); err != nil {
		log.Error().
			Err(err).
			Str("botId", rc.Bot.ID).
			Str("contactId", rc.Contact.ID).
			Msg("persist registration state failed")
	}
}

func (it *Interpreter) clearSession(ctx context.Context, rc *RunContext) {
	if err := it.sessions.Delete(ctx, rc.Bot.ID, rc.Contact.ID); err != nil {
		log.Error().
			Err(err).
			Str("botId", rc.Bot.ID).
			Str("contactId", rc.Contact.ID).
			Msg("clear session failed")
	}
}

func formatSummary(questions []RegQuestion, answers map[string]string) string {
	var b strings.Builder
	for _, q := range questions {
		if answer, ok := answers[q.Key]; ok {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(q.Key)
			b.WriteString(": ")
			b.WriteString(answer)
		}
	}
	return b.String()
}
