package engine

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/chatform/flow-engine-go/internal/model"
)

// Resume routes an inbound occurrence into a stored session. Callers
// hold the per-(bot,contact) lock; the session version check is the
// cross-instance backstop: whichever task clears the row at the
// observed version wins, the loser does nothing.
func (it *Interpreter) Resume(ctx context.Context, rc *RunContext, session *model.Session) {
	if session.Expired(it.clock.Now()) {
		it.resumeExpired(ctx, rc, session)
		return
	}

	state, err := session.WaitState()
	if err != nil {
		log.Warn().
			Err(err).
			Str("botId", rc.Bot.ID).
			Str("contactId", rc.Contact.ID).
			Msg("undecodable session state, discarding")
		it.clearSession(ctx, rc)
		return
	}

	switch wait := state.(type) {
	case model.ListWait:
		it.resumeList(ctx, rc, session, wait)
	case model.ReplyWait:
		it.resumeReply(ctx, rc, session, wait)
	case model.RegistrationWait:
		edges := it.resumeRegistration(ctx, rc, session, wait)
		if len(edges) > 0 {
			it.ExecuteEdges(ctx, rc, edges)
		}
	}
}

// resumeExpired clears the session exactly once and runs the timeout
// edge with the late occurrence as context. The occurrence is not also
// evaluated against ordinary triggers in this pass.
func (it *Interpreter) resumeExpired(ctx context.Context, rc *RunContext, session *model.Session) {
	deleted, err := it.sessions.DeleteIfVersion(ctx, rc.Bot.ID, rc.Contact.ID, session.Version)
	if err != nil {
		log.Error().
			Err(err).
			Str("botId", rc.Bot.ID).
			Str("contactId", rc.Contact.ID).
			Msg("delete expired session failed")
		return
	}
	if !deleted {
		// Another task already observed the expiry.
		return
	}

	log.Info().
		Str("botId", rc.Bot.ID).
		Str("contactId", rc.Contact.ID).
		Str("nodeId", session.CurrentNodeID).
		Msg("session expired")

	if rc.Flow.NodeByID(session.CurrentNodeID) == nil {
		return
	}
	edges := rc.Flow.EdgesFromExactHandle(session.CurrentNodeID, model.BranchTimeout)
	if len(edges) > 0 {
		it.ExecuteEdges(ctx, rc, edges)
	}
}

// resumeReply accepts any inbound content, optionally stores it, and
// continues along the reply edge.
func (it *Interpreter) resumeReply(ctx context.Context, rc *RunContext, session *model.Session, wait model.ReplyWait) {
	deleted, err := it.sessions.DeleteIfVersion(ctx, rc.Bot.ID, rc.Contact.ID, session.Version)
	if err != nil || !deleted {
		if err != nil {
			log.Error().Err(err).Msg("clear reply session failed")
		}
		return
	}

	if wait.SaveVar != "" {
		it.storeVar(ctx, rc, wait.SaveVar, rc.Envelope.Body, nil)
	}

	if rc.Flow.NodeByID(session.CurrentNodeID) == nil {
		return
	}
	it.ExecuteEdges(ctx, rc, rc.Flow.EdgesFromHandle(session.CurrentNodeID, model.BranchReply))
}

// resumeList maps the clicked option back to its pre-filter original
// index and follows the edge keyed by that index. When the reply's list
// title does not match the stored one, the graph is searched for a list
// node with that title; if none exists the session is force-reset.
func (it *Interpreter) resumeList(ctx context.Context, rc *RunContext, session *model.Session, wait model.ListWait) {
	nodeID := session.CurrentNodeID

	if title := rc.Envelope.ListTitle; title != "" && !strings.EqualFold(title, wait.Title) {
		node, found := it.findListByTitle(rc, title)
		if node == nil {
			log.Warn().
				Str("botId", rc.Bot.ID).
				Str("contactId", rc.Contact.ID).
				Str("title", title).
				Msg("list reply for unknown list, resetting session")
			it.clearSession(ctx, rc)
			return
		}
		nodeID = node.ID
		wait = found
	}

	if rc.Flow.NodeByID(nodeID) == nil {
		log.Warn().
			Str("botId", rc.Bot.ID).
			Str("nodeId", nodeID).
			Msg("list session references a missing node, discarding")
		it.clearSession(ctx, rc)
		return
	}

	deleted, err := it.sessions.DeleteIfVersion(ctx, rc.Bot.ID, rc.Contact.ID, session.Version)
	if err != nil || !deleted {
		if err != nil {
			log.Error().Err(err).Msg("clear list session failed")
		}
		return
	}

	edges := it.listBranch(rc, nodeID, wait)
	rc.sessionWritten = false
	it.ExecuteEdges(ctx, rc, edges)

	// Multi-select lists stay open for further picks unless the branch
	// itself suspended on a new session.
	if wait.Multiple && !rc.sessionWritten {
		session, err := model.NewSession(rc.Bot.ID, rc.Contact.ID, nodeID, wait, nil)
		if err == nil {
			err = it.sessions.Upsert(ctx, session)
		}
		if err != nil {
			log.Error().Err(err).Msg("restore multi-select list session failed")
		}
	}
}

// listBranch resolves the selection to an edge set: the edge keyed by
// the option's original index, or the node's default edges.
func (it *Interpreter) listBranch(rc *RunContext, nodeID string, wait model.ListWait) []model.Edge {
	selected := strings.TrimSpace(rc.Envelope.Body)
	for _, b := range wait.Buttons {
		if strings.EqualFold(b.Label, selected) {
			return rc.Flow.EdgesFromHandle(nodeID, strconv.Itoa(b.OriginalIndex))
		}
	}
	log.Warn().
		Str("botId", rc.Bot.ID).
		Str("selected", selected).
		Msg("list reply does not match any stored option")
	return defaultEdges(rc.Flow, nodeID)
}

// findListByTitle searches the graph for a list node whose resolved
// title matches, rebuilding its unfiltered button set. It backs both
// the title-mismatch fallback and the session-loss recovery path.
func (it *Interpreter) findListByTitle(rc *RunContext, title string) (*model.Node, model.ListWait) {
	for i := range rc.Flow.Nodes {
		node := &rc.Flow.Nodes[i]
		if node.Kind != model.NodeKindList {
			continue
		}
		cfg, err := decodeConfig[ListConfig](node)
		if err != nil {
			continue
		}
		if !strings.EqualFold(it.resolver.Resolve(cfg.Title, rc), title) {
			continue
		}
		buttons := make([]model.ListButton, len(cfg.Options))
		for j, opt := range cfg.Options {
			buttons[j] = model.ListButton{
				OriginalIndex: j,
				Label:         it.resolver.Resolve(opt.Label, rc),
			}
		}
		return node, model.ListWait{Title: title, Buttons: buttons, Multiple: cfg.Multiple}
	}
	return nil, model.ListWait{}
}

// RecoverList is the list-response-without-session path: tolerate a
// lost session by matching the reply's list title against the graph.
// Returns true when a list node handled the reply.
func (it *Interpreter) RecoverList(ctx context.Context, rc *RunContext) bool {
	if rc.Envelope.ListTitle == "" {
		return false
	}
	node, wait := it.findListByTitle(rc, rc.Envelope.ListTitle)
	if node == nil {
		return false
	}

	log.Info().
		Str("botId", rc.Bot.ID).
		Str("contactId", rc.Contact.ID).
		Str("nodeId", node.ID).
		Msg("recovered list reply without session")

	it.ExecuteEdges(ctx, rc, it.listBranch(rc, node.ID, wait))
	return true
}
