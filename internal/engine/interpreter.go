package engine

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatform/flow-engine-go/internal/config"
	"github.com/chatform/flow-engine-go/internal/gateway"
	"github.com/chatform/flow-engine-go/internal/model"
	"github.com/chatform/flow-engine-go/internal/repository"
)

// Integrations is the external-integration collaborator behind the
// integration, spreadsheet and contacts node kinds. The engine's
// contract is only: invoke the operation and get back a flat field map.
type Integrations interface {
	Invoke(ctx context.Context, provider, operation string, params map[string]string) (map[string]string, error)
}

// nodeResult tells the walk loop what to do after a node executed:
// which outgoing edges to follow, and whether the run is suspended on a
// freshly persisted session.
type nodeResult struct {
	next []model.Edge
	halt bool
}

type nodeHandler func(ctx context.Context, rc *RunContext, node *model.Node) (nodeResult, error)

// Interpreter walks a flow graph from a set of starting edges,
// executing kind-specific node behavior. Node and action failures are
// logged and swallowed; nothing here aborts the caller.
type Interpreter struct {
	gw           gateway.Gateway
	sessions     repository.SessionRepository
	contacts     repository.ContactRepository
	vars         repository.VariableRepository
	resolver     *Resolver
	integrations Integrations
	httpClient   *http.Client
	clock        Clock

	handlers map[model.NodeKind]nodeHandler
}

func NewInterpreter(
	gw gateway.Gateway,
	sessions repository.SessionRepository,
	contacts repository.ContactRepository,
	vars repository.VariableRepository,
	resolver *Resolver,
	integrations Integrations,
	clock Clock,
) *Interpreter {
	it := &Interpreter{
		gw:           gw,
		sessions:     sessions,
		contacts:     contacts,
		vars:         vars,
		resolver:     resolver,
		integrations: integrations,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		clock:        clock,
	}
	it.handlers = map[model.NodeKind]nodeHandler{
		model.NodeKindMessage:      it.executeMessage,
		model.NodeKindCondition:    it.executeCondition,
		model.NodeKindDelay:        it.executeDelay,
		model.NodeKindAction:       it.executeAction,
		model.NodeKindList:         it.executeList,
		model.NodeKindRegistration: it.executeRegistration,
		model.NodeKindIntegration:  it.executeIntegration,
		model.NodeKindSpreadsheet:  it.executeIntegration,
		model.NodeKindContacts:     it.executeIntegration,
		model.NodeKindSendTo:       it.executeSendTo,
		model.NodeKindNote:         it.executeNote,
	}
	return it
}

// ExecuteEdges runs every edge's target in order. Edges are expected to
// arrive pre-sorted by target Y position (model.Flow guarantees that);
// flow authors rely on top-to-bottom execution for side effects.
func (it *Interpreter) ExecuteEdges(ctx context.Context, rc *RunContext, edges []model.Edge) {
	for _, edge := range edges {
		if it.executeFrom(ctx, rc, edge.Target) {
			return
		}
	}
}

// executeFrom runs one node and recurses into its selected successors,
// depth-first. Returns true when the run suspended on a session.
func (it *Interpreter) executeFrom(ctx context.Context, rc *RunContext, nodeID string) bool {
	rc.steps++
	if rc.steps > config.MaxNodesPerRun {
		log.Warn().
			Str("botId", rc.Bot.ID).
			Str("nodeId", nodeID).
			Msg("node limit reached, aborting run")
		return true
	}

	node := rc.Flow.NodeByID(nodeID)
	if node == nil {
		log.Warn().
			Str("botId", rc.Bot.ID).
			Str("nodeId", nodeID).
			Msg("edge targets a node not present in the graph")
		return false
	}

	handler, ok := it.handlers[node.Kind]
	if !ok {
		log.Warn().
			Str("botId", rc.Bot.ID).
			Str("nodeId", node.ID).
			Str("kind", string(node.Kind)).
			Msg("unknown node kind, skipping")
		// Unknown nodes are skipped but their default successors still
		// run, so one bad node does not dead-end the flow.
		for _, edge := range defaultEdges(rc.Flow, node.ID) {
			if it.executeFrom(ctx, rc, edge.Target) {
				return true
			}
		}
		return false
	}

	result, err := handler(ctx, rc, node)
	if err != nil {
		log.Error().
			Err(err).
			Str("botId", rc.Bot.ID).
			Str("contactId", rc.Contact.ID).
			Str("nodeId", node.ID).
			Str("kind", string(node.Kind)).
			Msg("node execution failed")
		return false
	}
	if result.halt {
		return true
	}

	for _, edge := range result.next {
		if it.executeFrom(ctx, rc, edge.Target) {
			return true
		}
	}
	return false
}

// ResumeEdges is ExecuteEdges for session resumption paths, where the
// caller already selected which edges to follow.
func (it *Interpreter) ResumeEdges(ctx context.Context, rc *RunContext, edges []model.Edge) {
	it.ExecuteEdges(ctx, rc, edges)
}

// defaultEdges returns the handle-less outgoing edges, in Y order.
func defaultEdges(flow *model.Flow, nodeID string) []model.Edge {
	var out []model.Edge
	for _, e := range flow.EdgesFrom(nodeID) {
		if e.BranchHandle == "" {
			out = append(out, e)
		}
	}
	return out
}

// suspend persists a session for the given wait state and marks the run
// context so multi-select list restoration knows a node took over.
func (it *Interpreter) suspend(ctx context.Context, rc *RunContext, nodeID string, state model.WaitState, timeoutSeconds int) error {
	var expiresAt *time.Time
	if timeoutSeconds > 0 {
		t := it.clock.Now().Add(time.Duration(timeoutSeconds) * time.Second)
		expiresAt = &t
	}
	session, err := model.NewSession(rc.Bot.ID, rc.Contact.ID, nodeID, state, expiresAt)
	if err != nil {
		return err
	}
	if err := it.sessions.Upsert(ctx, session); err != nil {
		return err
	}
	rc.sessionWritten = true
	log.Debug().
		Str("botId", rc.Bot.ID).
		Str("contactId", rc.Contact.ID).
		Str("nodeId", nodeID).
		Str("waitingFor", string(state.Kind())).
		Msg("session suspended")
	return nil
}

// resuspend replaces an existing session's wait state at its observed
// version. A lost check means another task advanced or cleared the
// session in the meantime; the stale write is dropped rather than
// resurrecting the row.
func (it *Interpreter) resuspend(ctx context.Context, rc *RunContext, session *model.Session, state model.WaitState, timeoutSeconds int) error {
	var expiresAt *time.Time
	if timeoutSeconds > 0 {
		t := it.clock.Now().Add(time.Duration(timeoutSeconds) * time.Second)
		expiresAt = &t
	}
	next, err := model.NewSession(rc.Bot.ID, rc.Contact.ID, session.CurrentNodeID, state, expiresAt)
	if err != nil {
		return err
	}
	updated, err := it.sessions.UpdateIfVersion(ctx, next, session.Version)
	if err != nil {
		return err
	}
	if !updated {
		log.Debug().
			Str("botId", rc.Bot.ID).
			Str("contactId", rc.Contact.ID).
			Str("nodeId", session.CurrentNodeID).
			Msg("session changed under resume, dropping stale write")
		return nil
	}
	rc.sessionWritten = true
	return nil
}

// storeVar writes a contact variable and keeps the in-run view current.
func (it *Interpreter) storeVar(ctx context.Context, rc *RunContext, key, value string, label *string) {
	if key == "" {
		return
	}
	if err := it.vars.Set(ctx, rc.Contact.ID, key, value, label); err != nil {
		log.Error().
			Err(err).
			Str("contactId", rc.Contact.ID).
			Str("key", key).
			Msg("store contact variable failed")
		return
	}
	rc.SetVar(key, value)
}
