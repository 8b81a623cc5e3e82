package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatform/flow-engine-go/internal/model"
)

// seedSession persists a wait state and returns the stored row with its
// assigned version, the way the router sees it after a lookup.
func seedSession(t *testing.T, f *interpFixture, nodeID string, state model.WaitState, expiresAt *time.Time) *model.Session {
	t.Helper()
	session, err := model.NewSession("bot-1", "contact-1", nodeID, state, expiresAt)
	require.NoError(t, err)
	require.NoError(t, f.sessions.Upsert(context.Background(), session))
	stored, err := f.sessions.Find(context.Background(), "bot-1", "contact-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	return stored
}

func resume(f *interpFixture, flow *model.Flow, env *model.Envelope, session *model.Session) *RunContext {
	rc := runContext(testBot(flow, nil), testContact(), env, flow)
	f.interp.Resume(context.Background(), rc, session)
	return rc
}

func listFlow() *model.Flow {
	return &model.Flow{
		Nodes: []model.Node{
			node("list-1", model.NodeKindList, 0, ListConfig{
				Title: "Pick a sector",
				Options: []ListOption{
					{Label: "Sales"},
					{Label: "Support"},
					{Label: "Billing"},
				},
			}),
			textNode("sales", 50, "sales here"),
			textNode("support", 100, "support here"),
			textNode("billing", 150, "billing here"),
			textNode("fallback", 200, "pick from the list"),
		},
		Edges: []model.Edge{
			edge("list-1", "sales", "0"),
			edge("list-1", "support", "1"),
			edge("list-1", "billing", "2"),
			edge("list-1", "fallback", ""),
		},
	}
}

func TestListNodeSuspends(t *testing.T) {
	f := newInterpFixture(t)
	flow := listFlow()

	f.run(t, flow, "list-1")

	require.Len(t, f.gw.lists, 1)
	assert.Equal(t, "Pick a sector", f.gw.lists[0].Title)
	require.Len(t, f.gw.lists[0].Rows, 3)

	session, err := f.sessions.Find(context.Background(), "bot-1", "contact-1")
	require.NoError(t, err)
	require.NotNil(t, session)
	state, err := session.WaitState()
	require.NoError(t, err)
	wait, ok := state.(model.ListWait)
	require.True(t, ok)
	assert.Equal(t, []model.ListButton{
		{OriginalIndex: 0, Label: "Sales"},
		{OriginalIndex: 1, Label: "Support"},
		{OriginalIndex: 2, Label: "Billing"},
	}, wait.Buttons)
}

func TestResumeList(t *testing.T) {
	ctx := context.Background()

	t.Run("selection follows the original-index edge", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := listFlow()
		session := seedSession(t, f, "list-1", model.ListWait{
			Title: "Pick a sector",
			Buttons: []model.ListButton{
				{OriginalIndex: 0, Label: "Sales"},
				{OriginalIndex: 1, Label: "Support"},
				{OriginalIndex: 2, Label: "Billing"},
			},
		}, nil)

		resume(f, flow, msgEnvelope("Support"), session)

		assert.Equal(t, []string{"support here"}, texts(f.gw))
		stored, _ := f.sessions.Find(ctx, "bot-1", "contact-1")
		assert.Nil(t, stored)
	})

	t.Run("filtered-out options keep edges keyed by original index", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := listFlow()
		// Only two of the three options were displayed; Billing kept
		// its pre-filter index.
		session := seedSession(t, f, "list-1", model.ListWait{
			Title: "Pick a sector",
			Buttons: []model.ListButton{
				{OriginalIndex: 0, Label: "Sales"},
				{OriginalIndex: 2, Label: "Billing"},
			},
		}, nil)

		resume(f, flow, msgEnvelope("Billing"), session)

		assert.Equal(t, []string{"billing here"}, texts(f.gw))
	})

	t.Run("unmatched reply falls to the default edge", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := listFlow()
		session := seedSession(t, f, "list-1", model.ListWait{
			Title:   "Pick a sector",
			Buttons: []model.ListButton{{OriginalIndex: 0, Label: "Sales"}},
		}, nil)

		resume(f, flow, msgEnvelope("something else"), session)

		assert.Equal(t, []string{"pick from the list"}, texts(f.gw))
	})

	t.Run("stale version resumes nothing", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := listFlow()
		session := seedSession(t, f, "list-1", model.ListWait{
			Title:   "Pick a sector",
			Buttons: []model.ListButton{{OriginalIndex: 0, Label: "Sales"}},
		}, nil)
		stale := *session
		stale.Version = session.Version - 1

		resume(f, flow, msgEnvelope("Sales"), &stale)

		assert.Empty(t, texts(f.gw))
		stored, _ := f.sessions.Find(ctx, "bot-1", "contact-1")
		assert.NotNil(t, stored)
	})

	t.Run("multi-select restores the session after the branch", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := listFlow()
		session := seedSession(t, f, "list-1", model.ListWait{
			Title: "Pick a sector",
			Buttons: []model.ListButton{
				{OriginalIndex: 0, Label: "Sales"},
				{OriginalIndex: 1, Label: "Support"},
			},
			Multiple: true,
		}, nil)

		resume(f, flow, msgEnvelope("Sales"), session)

		assert.Equal(t, []string{"sales here"}, texts(f.gw))
		stored, err := f.sessions.Find(ctx, "bot-1", "contact-1")
		require.NoError(t, err)
		require.NotNil(t, stored)
		state, err := stored.WaitState()
		require.NoError(t, err)
		wait, ok := state.(model.ListWait)
		require.True(t, ok)
		assert.True(t, wait.Multiple)
	})

	t.Run("multi-select yields when the branch suspends", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := &model.Flow{
			Nodes: []model.Node{
				node("list-1", model.NodeKindList, 0, ListConfig{
					Title:    "Pick",
					Options:  []ListOption{{Label: "Ask me"}},
					Multiple: true,
				}),
				node("ask", model.NodeKindMessage, 50, MessageConfig{Actions: []MessageAction{
					{Kind: "wait_reply", SaveVar: "detail"},
				}}),
			},
			Edges: []model.Edge{edge("list-1", "ask", "0")},
		}
		session := seedSession(t, f, "list-1", model.ListWait{
			Title:    "Pick",
			Buttons:  []model.ListButton{{OriginalIndex: 0, Label: "Ask me"}},
			Multiple: true,
		}, nil)

		resume(f, flow, msgEnvelope("Ask me"), session)

		stored, err := f.sessions.Find(ctx, "bot-1", "contact-1")
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, model.WaitReply, stored.WaitingFor)
		assert.Equal(t, "ask", stored.CurrentNodeID)
	})

	t.Run("mismatched title falls back to the matching list node", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := listFlow()
		session := seedSession(t, f, "list-1", model.ListWait{
			Title:   "An older list",
			Buttons: []model.ListButton{{OriginalIndex: 0, Label: "Old option"}},
		}, nil)
		env := msgEnvelope("Support")
		env.ListTitle = "Pick a sector"

		resume(f, flow, env, session)

		assert.Equal(t, []string{"support here"}, texts(f.gw))
	})

	t.Run("unknown title resets the session", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := listFlow()
		session := seedSession(t, f, "list-1", model.ListWait{
			Title:   "Pick a sector",
			Buttons: []model.ListButton{{OriginalIndex: 0, Label: "Sales"}},
		}, nil)
		env := msgEnvelope("Sales")
		env.ListTitle = "A list from nowhere"

		resume(f, flow, env, session)

		assert.Empty(t, texts(f.gw))
		stored, _ := f.sessions.Find(ctx, "bot-1", "contact-1")
		assert.Nil(t, stored)
	})
}

func TestRecoverList(t *testing.T) {
	t.Run("lost session recovers through the list title", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := listFlow()
		env := msgEnvelope("Billing")
		env.ListTitle = "Pick a sector"
		rc := runContext(testBot(flow, nil), testContact(), env, flow)

		handled := f.interp.RecoverList(context.Background(), rc)

		assert.True(t, handled)
		assert.Equal(t, []string{"billing here"}, texts(f.gw))
	})

	t.Run("plain messages are not list replies", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := listFlow()
		rc := runContext(testBot(flow, nil), testContact(), msgEnvelope("Billing"), flow)

		handled := f.interp.RecoverList(context.Background(), rc)

		assert.False(t, handled)
		assert.Empty(t, f.gw.calls)
	})
}

func TestResumeReply(t *testing.T) {
	ctx := context.Background()

	replyFlow := func() *model.Flow {
		return &model.Flow{
			Nodes: []model.Node{
				node("ask", model.NodeKindMessage, 0, MessageConfig{Actions: []MessageAction{
					{Kind: "wait_reply", SaveVar: "city"},
				}}),
				textNode("next", 50, "you said {{city}}"),
			},
			Edges: []model.Edge{edge("ask", "next", model.BranchReply)},
		}
	}

	t.Run("reply is captured and the flow continues", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := replyFlow()
		session := seedSession(t, f, "ask", model.ReplyWait{SaveVar: "city"}, nil)

		resume(f, flow, msgEnvelope("Lisbon"), session)

		v, _ := f.vars.get("contact-1", "city")
		assert.Equal(t, "Lisbon", v)
		assert.Equal(t, []string{"you said Lisbon"}, texts(f.gw))
		stored, _ := f.sessions.Find(ctx, "bot-1", "contact-1")
		assert.Nil(t, stored)
	})

	t.Run("stale version stores nothing", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := replyFlow()
		session := seedSession(t, f, "ask", model.ReplyWait{SaveVar: "city"}, nil)
		stale := *session
		stale.Version = session.Version + 7

		resume(f, flow, msgEnvelope("Lisbon"), &stale)

		_, ok := f.vars.get("contact-1", "city")
		assert.False(t, ok)
		assert.Empty(t, f.gw.calls)
	})
}

func TestResumeExpired(t *testing.T) {
	ctx := context.Background()

	timeoutFlow := func() *model.Flow {
		return &model.Flow{
			Nodes: []model.Node{
				node("ask", model.NodeKindMessage, 0, MessageConfig{Actions: []MessageAction{
					{Kind: "wait_reply"},
				}}),
				textNode("late", 50, "we gave up waiting"),
				textNode("reply", 100, "normal path"),
			},
			Edges: []model.Edge{
				edge("ask", "late", model.BranchTimeout),
				edge("ask", "reply", model.BranchReply),
			},
		}
	}

	t.Run("expired session runs the timeout branch once", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := timeoutFlow()
		past := f.clock.Now().Add(-time.Minute)
		session := seedSession(t, f, "ask", model.ReplyWait{}, &past)

		resume(f, flow, msgEnvelope("too late"), session)

		assert.Equal(t, []string{"we gave up waiting"}, texts(f.gw))
		stored, _ := f.sessions.Find(ctx, "bot-1", "contact-1")
		assert.Nil(t, stored)

		// A concurrent task holding the same stale row loses the race.
		resume(f, flow, msgEnvelope("too late again"), session)
		assert.Equal(t, []string{"we gave up waiting"}, texts(f.gw))
	})

	t.Run("no timeout edge just clears the session", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := &model.Flow{Nodes: []model.Node{
			node("ask", model.NodeKindMessage, 0, MessageConfig{Actions: []MessageAction{
				{Kind: "wait_reply"},
			}}),
		}}
		past := f.clock.Now().Add(-time.Second)
		session := seedSession(t, f, "ask", model.ReplyWait{}, &past)

		resume(f, flow, msgEnvelope("late"), session)

		assert.Empty(t, f.gw.calls)
		stored, _ := f.sessions.Find(ctx, "bot-1", "contact-1")
		assert.Nil(t, stored)
	})
}

func TestResumeRegistration(t *testing.T) {
	ctx := context.Background()

	regFlow := func() *model.Flow {
		return &model.Flow{
			Nodes: []model.Node{
				node("reg", model.NodeKindRegistration, 0, RegistrationConfig{
					Questions: []RegQuestion{
						{Key: "full_name", Prompt: "Your name?", Type: "text"},
						{Key: "email", Prompt: "Your email?", Type: "email", ErrorMessage: "That is not an email."},
					},
					CancelKeyword:   "cancel",
					CompleteMessage: "Thanks, {{full_name}}!",
					SummaryVar:      "registration",
				}),
				textNode("done", 50, "registered"),
				textNode("bail", 100, "maybe later"),
			},
			Edges: []model.Edge{
				edge("reg", "done", model.BranchComplete),
				edge("reg", "bail", model.BranchCancel),
			},
		}
	}

	t.Run("node asks the first question and suspends", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := regFlow()

		f.run(t, flow, "reg")

		assert.Equal(t, []string{"Your name?"}, texts(f.gw))
		stored, err := f.sessions.Find(ctx, "bot-1", "contact-1")
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, model.WaitRegistration, stored.WaitingFor)
	})

	t.Run("valid answer advances to the next question", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := regFlow()
		session := seedSession(t, f, "reg", model.RegistrationWait{
			QuestionIndex: 0,
			Answers:       map[string]string{},
			CancelKeyword: "cancel",
		}, nil)

		resume(f, flow, msgEnvelope("Alice Smith"), session)

		assert.Equal(t, []string{"Your email?"}, texts(f.gw))
		v, _ := f.vars.get("contact-1", "full_name")
		assert.Equal(t, "Alice Smith", v)

		stored, err := f.sessions.Find(ctx, "bot-1", "contact-1")
		require.NoError(t, err)
		require.NotNil(t, stored)
		state, err := stored.WaitState()
		require.NoError(t, err)
		wait := state.(model.RegistrationWait)
		assert.Equal(t, 1, wait.QuestionIndex)
		assert.Equal(t, "Alice Smith", wait.Answers["full_name"])
	})

	t.Run("invalid answer re-prompts without advancing", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := regFlow()
		session := seedSession(t, f, "reg", model.RegistrationWait{
			QuestionIndex: 1,
			Answers:       map[string]string{"full_name": "Alice Smith"},
		}, nil)

		resume(f, flow, msgEnvelope("not an email"), session)

		assert.Equal(t, []string{"That is not an email."}, texts(f.gw))
		stored, err := f.sessions.Find(ctx, "bot-1", "contact-1")
		require.NoError(t, err)
		require.NotNil(t, stored)
		state, err := stored.WaitState()
		require.NoError(t, err)
		assert.Equal(t, 1, state.(model.RegistrationWait).QuestionIndex)
	})

	t.Run("last answer completes the wizard", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := regFlow()
		session := seedSession(t, f, "reg", model.RegistrationWait{
			QuestionIndex: 1,
			Answers:       map[string]string{"full_name": "Alice Smith"},
		}, nil)

		// The router loads stored variables before resuming.
		rc := runContext(testBot(flow, nil), testContact(), msgEnvelope("alice@example.com"), flow)
		rc.Vars["full_name"] = "Alice Smith"
		f.interp.Resume(ctx, rc, session)

		assert.Equal(t, []string{"Thanks, Alice Smith!", "registered"}, texts(f.gw))
		summary, _ := f.vars.get("contact-1", "registration")
		assert.Equal(t, "full_name: Alice Smith\nemail: alice@example.com", summary)
		stored, _ := f.sessions.Find(ctx, "bot-1", "contact-1")
		assert.Nil(t, stored)
	})

	t.Run("stale session version drops the re-persist", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := regFlow()
		session := seedSession(t, f, "reg", model.RegistrationWait{
			QuestionIndex: 0,
			Answers:       map[string]string{},
		}, nil)

		// Another task advanced the wizard between lookup and resume.
		advanced, err := model.NewSession("bot-1", "contact-1", "reg", model.RegistrationWait{
			QuestionIndex: 1,
			Answers:       map[string]string{"full_name": "Bea Cole"},
		}, nil)
		require.NoError(t, err)
		require.NoError(t, f.sessions.Upsert(ctx, advanced))

		resume(f, flow, msgEnvelope("Alice Smith"), session)

		stored, err := f.sessions.Find(ctx, "bot-1", "contact-1")
		require.NoError(t, err)
		require.NotNil(t, stored)
		state, err := stored.WaitState()
		require.NoError(t, err)
		wait := state.(model.RegistrationWait)
		assert.Equal(t, 1, wait.QuestionIndex)
		assert.Equal(t, "Bea Cole", wait.Answers["full_name"])
	})

	t.Run("re-persist does not resurrect a cleared session", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := regFlow()
		session := seedSession(t, f, "reg", model.RegistrationWait{
			QuestionIndex: 1,
			Answers:       map[string]string{"full_name": "Alice Smith"},
		}, nil)
		require.NoError(t, f.sessions.Delete(ctx, "bot-1", "contact-1"))

		resume(f, flow, msgEnvelope("not an email"), session)

		stored, err := f.sessions.Find(ctx, "bot-1", "contact-1")
		require.NoError(t, err)
		assert.Nil(t, stored)
	})

	t.Run("cancel keyword leaves through the cancel branch", func(t *testing.T) {
		f := newInterpFixture(t)
		flow := regFlow()
		session := seedSession(t, f, "reg", model.RegistrationWait{
			QuestionIndex: 0,
			CancelKeyword: "cancel",
		}, nil)

		resume(f, flow, msgEnvelope("  CANCEL "), session)

		assert.Equal(t, []string{"maybe later"}, texts(f.gw))
		stored, _ := f.sessions.Find(ctx, "bot-1", "contact-1")
		assert.Nil(t, stored)
	})
}
