package engine

import (
	"github.com/chatform/flow-engine-go/internal/model"
)

// RunContext carries everything one occurrence's execution needs: the
// read-only bot definition, the acting contact, the triggering
// occurrence and the decoded graph. Vars is the contact's variable map,
// loaded once per run and kept current as action nodes mutate it.
type RunContext struct {
	Bot      *model.Bot
	Contact  *model.Contact
	Envelope *model.Envelope
	Flow     *model.Flow
	Vars     map[string]string

	// steps counts executed nodes; the interpreter aborts the run when
	// it passes the safety limit.
	steps int

	// sessionWritten is set when a node persisted a new session during
	// this run. Multi-select list restoration checks it.
	sessionWritten bool
}

// ChatID is the channel address replies go to.
func (rc *RunContext) ChatID() string {
	return rc.Contact.Phone
}

// SetVar updates the in-run variable view after a store write.
func (rc *RunContext) SetVar(key, value string) {
	if rc.Vars == nil {
		rc.Vars = map[string]string{}
	}
	rc.Vars[key] = value
}

// DeleteVar removes a key from the in-run variable view.
func (rc *RunContext) DeleteVar(key string) {
	delete(rc.Vars, key)
}
