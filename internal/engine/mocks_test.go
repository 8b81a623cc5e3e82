package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chatform/flow-engine-go/internal/gateway"
	"github.com/chatform/flow-engine-go/internal/model"
)

// Shared test doubles for the engine package. Stores are in-memory with
// the same semantics the SQL repositories promise; time is a fixed
// clock tests advance by hand.

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ sleepContext, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentCall struct {
	kind string
	to   string
	body string
}

type fakeGateway struct {
	mu    sync.Mutex
	calls []sentCall
	lists []gateway.ListMessage
	fail  bool
	next  int
}

func (g *fakeGateway) record(kind, to, body string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return "", fmt.Errorf("gateway unavailable")
	}
	g.calls = append(g.calls, sentCall{kind: kind, to: to, body: body})
	g.next++
	return fmt.Sprintf("msg-%d", g.next), nil
}

func (g *fakeGateway) sent(kind string) []sentCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []sentCall
	for _, c := range g.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (g *fakeGateway) SendText(_ context.Context, to, body string) (string, error) {
	return g.record("text", to, body)
}

func (g *fakeGateway) SendImage(_ context.Context, to, url, caption string) (string, error) {
	return g.record("image", to, url)
}

func (g *fakeGateway) SendVideo(_ context.Context, to, url, caption string) (string, error) {
	return g.record("video", to, url)
}

func (g *fakeGateway) SendVoice(_ context.Context, to, url string) (string, error) {
	return g.record("voice", to, url)
}

func (g *fakeGateway) SendFile(_ context.Context, to, url, filename string) (string, error) {
	return g.record("file", to, url)
}

func (g *fakeGateway) SendLocation(_ context.Context, to string, loc gateway.Location) (string, error) {
	return g.record("location", to, loc.Name)
}

func (g *fakeGateway) SendContactCard(_ context.Context, to string, card gateway.ContactCard) (string, error) {
	return g.record("contact", to, card.Phone)
}

func (g *fakeGateway) SendList(_ context.Context, to string, list gateway.ListMessage) (string, error) {
	g.mu.Lock()
	g.lists = append(g.lists, list)
	g.mu.Unlock()
	return g.record("list", to, list.Title)
}

func (g *fakeGateway) SendLinkPreview(_ context.Context, to, url, text string) (string, error) {
	return g.record("link", to, url)
}

func (g *fakeGateway) SendReaction(_ context.Context, to, messageID, emoji string) (string, error) {
	return g.record("reaction", to, emoji)
}

func (g *fakeGateway) SendSeen(_ context.Context, to string) error {
	_, err := g.record("seen", to, "")
	return err
}

func (g *fakeGateway) StartTyping(_ context.Context, to string) error {
	_, err := g.record("typing_start", to, "")
	return err
}

func (g *fakeGateway) StopTyping(_ context.Context, to string) error {
	_, err := g.record("typing_stop", to, "")
	return err
}

func (g *fakeGateway) GroupAddParticipant(_ context.Context, groupID, phone string) error {
	_, err := g.record("group_add", groupID, phone)
	return err
}

func (g *fakeGateway) GroupRemoveParticipant(_ context.Context, groupID, phone string) error {
	_, err := g.record("group_remove", groupID, phone)
	return err
}

func (g *fakeGateway) GroupSetSubject(_ context.Context, groupID, subject string) error {
	_, err := g.record("group_subject", groupID, subject)
	return err
}

func (g *fakeGateway) AssignLabel(_ context.Context, to, label string) error {
	_, err := g.record("label", to, label)
	return err
}

var _ gateway.Gateway = (*fakeGateway)(nil)

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: map[string]*model.Session{}}
}

func sessionKey(botID, contactID string) string {
	return botID + "/" + contactID
}

func (m *memSessions) Find(_ context.Context, botID, contactID string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionKey(botID, contactID)]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (m *memSessions) Upsert(_ context.Context, session *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKey(session.BotID, session.ContactID)
	version := 1
	if prev, ok := m.sessions[key]; ok {
		version = prev.Version + 1
	}
	copied := *session
	copied.Version = version
	m.sessions[key] = &copied
	return nil
}

func (m *memSessions) UpdateIfVersion(_ context.Context, session *model.Session, expected int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKey(session.BotID, session.ContactID)
	prev, ok := m.sessions[key]
	if !ok || prev.Version != expected {
		return false, nil
	}
	copied := *session
	copied.Version = expected + 1
	m.sessions[key] = &copied
	return true, nil
}

func (m *memSessions) Delete(_ context.Context, botID, contactID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionKey(botID, contactID))
	return nil
}

func (m *memSessions) DeleteIfVersion(_ context.Context, botID, contactID string, expected int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKey(botID, contactID)
	prev, ok := m.sessions[key]
	if !ok || prev.Version != expected {
		return false, nil
	}
	delete(m.sessions, key)
	return true, nil
}

type memVars struct {
	mu   sync.Mutex
	vars map[string]map[string]string
}

func newMemVars() *memVars {
	return &memVars{vars: map[string]map[string]string{}}
}

func (m *memVars) GetAll(_ context.Context, contactID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for k, v := range m.vars[contactID] {
		out[k] = v
	}
	return out, nil
}

func (m *memVars) Set(_ context.Context, contactID, key, value string, _ *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vars[contactID] == nil {
		m.vars[contactID] = map[string]string{}
	}
	m.vars[contactID][key] = value
	return nil
}

func (m *memVars) Delete(_ context.Context, contactID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vars[contactID], key)
	return nil
}

func (m *memVars) get(contactID, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vars[contactID][key]
	return v, ok
}

type memContacts struct {
	mu       sync.Mutex
	contacts map[string]*model.Contact
	nextID   int
}

func newMemContacts(seed ...*model.Contact) *memContacts {
	m := &memContacts{contacts: map[string]*model.Contact{}}
	for _, c := range seed {
		copied := *c
		m.contacts[c.ID] = &copied
	}
	return m
}

func (m *memContacts) FindByID(_ context.Context, id string) (*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (m *memContacts) FindByPhone(_ context.Context, botID, phone string) (*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contacts {
		if c.BotID == botID && c.Phone == phone {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memContacts) Create(_ context.Context, params model.CreateContactParams) (*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c := &model.Contact{
		ID:          fmt.Sprintf("contact-%d", m.nextID),
		BotID:       params.BotID,
		Phone:       params.Phone,
		Name:        params.Name,
		IsGroup:     params.IsGroup,
		IsChannel:   params.IsChannel,
		IsBotActive: true,
	}
	m.contacts[c.ID] = c
	copied := *c
	return &copied, nil
}

func (m *memContacts) UpdateTags(_ context.Context, id string, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contacts[id]; ok {
		data, _ := json.Marshal(tags)
		c.TagsJSON = data
	}
	return nil
}

func (m *memContacts) SetBotActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contacts[id]; ok {
		c.IsBotActive = active
	}
	return nil
}

func (m *memContacts) SetTakeoverUntil(_ context.Context, id string, until *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contacts[id]; ok {
		c.TakeoverUntil = until
	}
	return nil
}

func (m *memContacts) UpdateName(_ context.Context, id string, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contacts[id]; ok {
		c.Name = name
	}
	return nil
}

type memHistory struct {
	mu      sync.Mutex
	rows    []model.TriggerHistory
	counter int
}

func (m *memHistory) Append(_ context.Context, botID, contactID, triggerGroupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	m.rows = append(m.rows, model.TriggerHistory{
		ID:             fmt.Sprintf("hist-%d", m.counter),
		BotID:          botID,
		ContactID:      contactID,
		TriggerGroupID: triggerGroupID,
		TriggeredAt:    time.Now(),
	})
	return nil
}

func (m *memHistory) appendAt(botID, contactID, groupID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	m.rows = append(m.rows, model.TriggerHistory{
		ID:             fmt.Sprintf("hist-%d", m.counter),
		BotID:          botID,
		ContactID:      contactID,
		TriggerGroupID: groupID,
		TriggeredAt:    at,
	})
}

func (m *memHistory) LastForGroup(_ context.Context, botID, contactID, triggerGroupID string) (*model.TriggerHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *model.TriggerHistory
	for i := range m.rows {
		r := &m.rows[i]
		if r.BotID == botID && r.ContactID == contactID && r.TriggerGroupID == triggerGroupID {
			if last == nil || r.TriggeredAt.After(last.TriggeredAt) {
				last = r
			}
		}
	}
	if last == nil {
		return nil, nil
	}
	copied := *last
	return &copied, nil
}

func (m *memHistory) ExistsForGroup(ctx context.Context, botID, contactID, triggerGroupID string) (bool, error) {
	last, err := m.LastForGroup(ctx, botID, contactID, triggerGroupID)
	return last != nil, err
}

func (m *memHistory) LastAnyGroup(_ context.Context, botID, contactID string) (*model.TriggerHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *model.TriggerHistory
	for i := range m.rows {
		r := &m.rows[i]
		if r.BotID == botID && r.ContactID == contactID {
			if last == nil || r.TriggeredAt.After(last.TriggeredAt) {
				last = r
			}
		}
	}
	if last == nil {
		return nil, nil
	}
	copied := *last
	return &copied, nil
}

func (m *memHistory) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	newest := map[string]time.Time{}
	for _, r := range m.rows {
		key := r.BotID + "/" + r.ContactID + "/" + r.TriggerGroupID
		if r.TriggeredAt.After(newest[key]) {
			newest[key] = r.TriggeredAt
		}
	}
	var kept []model.TriggerHistory
	var removed int64
	for _, r := range m.rows {
		key := r.BotID + "/" + r.ContactID + "/" + r.TriggerGroupID
		if r.TriggeredAt.Before(cutoff) && r.TriggeredAt.Before(newest[key]) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	return removed, nil
}

type memRuns struct {
	mu   sync.Mutex
	rows []model.FlowRun
}

func (m *memRuns) Append(_ context.Context, id, botID, contactID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, model.FlowRun{ID: id, BotID: botID, ContactID: contactID, StartedAt: time.Now()})
	return nil
}

func (m *memRuns) appendAt(botID, contactID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, model.FlowRun{ID: fmt.Sprintf("run-%d", len(m.rows)+1), BotID: botID, ContactID: contactID, StartedAt: at})
}

func (m *memRuns) Last(_ context.Context, botID, contactID string) (*model.FlowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *model.FlowRun
	for i := range m.rows {
		r := &m.rows[i]
		if r.BotID == botID && r.ContactID == contactID {
			if last == nil || r.StartedAt.After(last.StartedAt) {
				last = r
			}
		}
	}
	if last == nil {
		return nil, nil
	}
	copied := *last
	return &copied, nil
}

func (m *memRuns) Exists(ctx context.Context, botID, contactID string) (bool, error) {
	last, err := m.Last(ctx, botID, contactID)
	return last != nil, err
}

func (m *memRuns) CountSince(_ context.Context, botID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, r := range m.rows {
		if r.BotID == botID && !r.StartedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

type memInbound struct {
	mu        sync.Mutex
	rows      []time.Time
	failCount error
}

func (m *memInbound) Append(_ context.Context, botID, contactID string, receivedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, receivedAt)
	return nil
}

func (m *memInbound) Count(_ context.Context, botID, contactID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCount != nil {
		return 0, m.failCount
	}
	return len(m.rows), nil
}

func (m *memInbound) SecondMostRecent(_ context.Context, botID, contactID string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rows) < 2 {
		return nil, nil
	}
	sorted := make([]time.Time, len(m.rows))
	copy(sorted, m.rows)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].After(sorted[i]) {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	t := sorted[1]
	return &t, nil
}

func (m *memInbound) MostRecent(_ context.Context, botID, contactID string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *time.Time
	for i := range m.rows {
		t := m.rows[i]
		if latest == nil || t.After(*latest) {
			latest = &t
		}
	}
	return latest, nil
}

func (m *memInbound) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []time.Time
	var removed int64
	for _, t := range m.rows {
		newer := 0
		for _, other := range m.rows {
			if other.After(t) {
				newer++
			}
		}
		if t.Before(cutoff) && newer >= 2 {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	m.rows = kept
	return removed, nil
}

type memBots struct {
	mu   sync.Mutex
	bots map[string]*model.Bot
}

func newMemBots(seed ...*model.Bot) *memBots {
	m := &memBots{bots: map[string]*model.Bot{}}
	for _, b := range seed {
		copied := *b
		m.bots[b.ID] = &copied
	}
	return m
}

func (m *memBots) FindByID(_ context.Context, id string) (*model.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return nil, nil
	}
	copied := *b
	return &copied, nil
}

func (m *memBots) FindByChannelID(_ context.Context, channelID string) (*model.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bots {
		if b.ChannelID == channelID {
			copied := *b
			return &copied, nil
		}
	}
	return nil, nil
}

type fakeIntegrations struct {
	mu       sync.Mutex
	response map[string]string
	err      error
	invoked  []string
}

func (f *fakeIntegrations) Invoke(_ context.Context, provider, operation string, _ map[string]string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoked = append(f.invoked, provider+"/"+operation)
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

type fakeCache struct {
	mu        sync.Mutex
	processed map[string]bool
	leased    bool
	callPeers map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{processed: map[string]bool{}, callPeers: map[string]string{}}
}

func (f *fakeCache) MarkProcessed(_ context.Context, botID, occurrenceID string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := botID + "/" + occurrenceID
	if f.processed[key] {
		return false, nil
	}
	f.processed[key] = true
	return true, nil
}

func (f *fakeCache) AcquireLease(_ context.Context, botID, contactID string, _ time.Duration) (func(), bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leased {
		return func() {}, false, nil
	}
	return func() {}, true, nil
}

func (f *fakeCache) RememberCallPeer(_ context.Context, botID, callID, phone string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callPeers[botID+"/"+callID] = phone
	return nil
}

func (f *fakeCache) CallPeer(_ context.Context, botID, callID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callPeers[botID+"/"+callID], nil
}

// Fixture builders.

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func testBot(flow *model.Flow, triggers *model.TriggerDefinition) *model.Bot {
	bot := &model.Bot{
		ID:        "bot-1",
		Name:      "Support",
		ChannelID: "channel-1",
		Enabled:   true,
	}
	if flow != nil {
		data, _ := json.Marshal(flow)
		bot.FlowJSON = data
	}
	if triggers != nil {
		data, _ := json.Marshal(triggers)
		bot.TriggerJSON = data
	}
	return bot
}

func testContact() *model.Contact {
	return &model.Contact{
		ID:          "contact-1",
		BotID:       "bot-1",
		Phone:       "5511999990000",
		Name:        "Alice",
		IsBotActive: true,
	}
}

func msgEnvelope(body string) *model.Envelope {
	return &model.Envelope{
		Kind:       model.OccurrenceMessage,
		BotID:      "bot-1",
		Phone:      "5511999990000",
		Name:       "Alice",
		MessageID:  "wamid-1",
		Body:       body,
		ReceivedAt: time.Now(),
	}
}

func node(id string, kind model.NodeKind, y float64, data any) model.Node {
	n := model.Node{ID: id, Kind: kind, Position: model.Position{Y: y}}
	if data != nil {
		raw, _ := json.Marshal(data)
		n.Data = raw
	}
	return n
}

func edge(source, target, handle string) model.Edge {
	return model.Edge{ID: source + "->" + target, Source: source, Target: target, BranchHandle: handle}
}

func runContext(bot *model.Bot, contact *model.Contact, env *model.Envelope, flow *model.Flow) *RunContext {
	return &RunContext{
		Bot:      bot,
		Contact:  contact,
		Envelope: env,
		Flow:     flow,
		Vars:     map[string]string{},
	}
}
