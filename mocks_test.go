package helpdesk

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testSupportChatID int64 = -100500
	testAdminID       int64 = 7
)

// sentMessage is a message recorded by fakeProvider.
type sentMessage struct {
	ID         int
	ChatID     int64
	ThreadID   int
	Text       string
	FromChatID int64
	FromMsgID  int
	Buttons    [][]Button
}

// fakeProvider is an in-memory ChannelProvider that records every call.
type fakeProvider struct {
	mu sync.Mutex

	nextThread int
	nextMsg    int
	createCall int

	threads  map[int]string
	closed   []int
	sent     []sentMessage
	answered []string

	// Hooks return an error to fail the call. Nil means success.
	createErr func(call int) error
	sendErr   func(chatID int64, threadID int) error
	copyErr   func(chatID int64, threadID int) error
	closeErr  error

	createDelay time.Duration
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		nextThread: 100,
		nextMsg:    1000,
		threads:    make(map[int]string),
	}
}

func (p *fakeProvider) CreateThread(ctx context.Context, chatID int64, title string) (int, error) {
	if p.createDelay > 0 {
		time.Sleep(p.createDelay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.createCall++
	if p.createErr != nil {
		if err := p.createErr(p.createCall); err != nil {
			return 0, err
		}
	}
	p.nextThread++
	p.threads[p.nextThread] = title
	return p.nextThread, nil
}

func (p *fakeProvider) CloseThread(ctx context.Context, chatID int64, threadID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closeErr != nil {
		return p.closeErr
	}
	p.closed = append(p.closed, threadID)
	return nil
}

func (p *fakeProvider) SendText(ctx context.Context, chatID int64, text string, opts SendOptions) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sendErr != nil {
		if err := p.sendErr(chatID, opts.ThreadID); err != nil {
			return 0, err
		}
	}
	p.nextMsg++
	p.sent = append(p.sent, sentMessage{
		ID:       p.nextMsg,
		ChatID:   chatID,
		ThreadID: opts.ThreadID,
		Text:     text,
		Buttons:  opts.Buttons,
	})
	return p.nextMsg, nil
}

func (p *fakeProvider) CopyMessage(ctx context.Context, toChatID, fromChatID int64, fromMsgID int, opts SendOptions) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.copyErr != nil {
		if err := p.copyErr(toChatID, opts.ThreadID); err != nil {
			return 0, err
		}
	}
	p.nextMsg++
	p.sent = append(p.sent, sentMessage{
		ID:         p.nextMsg,
		ChatID:     toChatID,
		ThreadID:   opts.ThreadID,
		FromChatID: fromChatID,
		FromMsgID:  fromMsgID,
	})
	return p.nextMsg, nil
}

func (p *fakeProvider) AnswerCallback(ctx context.Context, callbackID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.answered = append(p.answered, callbackID)
	return nil
}

func (p *fakeProvider) createdThreads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.threads)
}

func (p *fakeProvider) closedThreads() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.closed...)
}

func (p *fakeProvider) sentTo(chatID int64) []sentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []sentMessage
	for _, m := range p.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (p *fakeProvider) textsTo(chatID int64) []string {
	var out []string
	for _, m := range p.sentTo(chatID) {
		out = append(out, m.Text)
	}
	return out
}

func (p *fakeProvider) lastTo(chatID int64) sentMessage {
	msgs := p.sentTo(chatID)
	if len(msgs) == 0 {
		return sentMessage{}
	}
	return msgs[len(msgs)-1]
}

func (p *fakeProvider) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = nil
	p.answered = nil
}

// failingStore fails every operation with err.
type failingStore struct {
	err error
}

func (s failingStore) Get(context.Context, string) (string, error) { return "", s.err }
func (s failingStore) Set(context.Context, string, string, time.Duration) error {
	return s.err
}
func (s failingStore) SetIfAbsent(context.Context, string, string, time.Duration) (bool, error) {
	return false, s.err
}
func (s failingStore) Delete(context.Context, string) error            { return s.err }
func (s failingStore) Increment(context.Context, string) (int64, error) { return 0, s.err }

var errStoreDown = errors.New("store is down")

// flakyStore fails the next failSets writes of failKey and delegates everything else.
type flakyStore struct {
	KeyValueStore

	mu       sync.Mutex
	failKey  string
	failSets int
}

func (s *flakyStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	if key == s.failKey && s.failSets > 0 {
		s.failSets--
		s.mu.Unlock()
		return errStoreDown
	}
	s.mu.Unlock()
	return s.KeyValueStore.Set(ctx, key, value, ttl)
}

// MockLogger is a mock implementation of Logger interface using testify/mock
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(msg string, args ...any) {
	m.Called(msg, args)
}

func (m *MockLogger) Info(msg string, args ...any) {
	m.Called(msg, args)
}

func (m *MockLogger) Warn(msg string, args ...any) {
	m.Called(msg, args)
}

func (m *MockLogger) Error(msg string, args ...any) {
	m.Called(msg, args)
}

// MockMessageProvider is a mock implementation of MessageProvider interface using testify/mock
type MockMessageProvider struct {
	mock.Mock
}

func (m *MockMessageProvider) Messages(language Language) Messages {
	args := m.Called(language)
	return args.Get(0).(Messages)
}

// MockJournal is a mock implementation of Journal interface using testify/mock
type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) Record(ctx context.Context, ev TicketEvent) {
	m.Called(ctx, ev)
}

func noSleep(context.Context, time.Duration) error { return nil }

func testBackoff() Backoff {
	return Backoff{Attempts: 3, sleep: noSleep}
}

// stepClock returns a clock that moves forward by step on every call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return start.Add(time.Duration(n.Add(1)) * step)
	}
}

type testEnv struct {
	store    *MemoryStore
	provider *fakeProvider
	identity *IdentityLedger
	links    *MessageLinkTable
	tickets  *TicketStore
	relay    *Relay
	limiter  *RateLimiter
	engine   *Engine
}

func newTestEnv(t *testing.T, adminIDs ...int64) *testEnv {
	t.Helper()

	env := &testEnv{
		store:    NewMemoryStore(),
		provider: newFakeProvider(),
	}

	var err error
	env.identity, err = NewIdentityLedger(env.store, adminIDs, 100)
	require.NoError(t, err)

	env.links = NewMessageLinkTable(env.store, 0)
	env.tickets = NewTicketStore(env.store, env.provider, env.links, env.identity, TicketStoreConfig{
		SupportChatID: testSupportChatID,
		LockWait:      5 * time.Second,
		LockPoll:      time.Millisecond,
		Backoff:       testBackoff(),
	}, nil)
	env.relay = NewRelay(env.provider, env.links, env.tickets, testSupportChatID, testBackoff(), nil)

	env.limiter = NewRateLimiter(env.store, RateLimitConfig{}, nil)
	env.limiter.now = stepClock(time.Now(), time.Minute)

	env.engine = NewEngine(EngineParams{
		Identity:      env.identity,
		Limiter:       env.limiter,
		Tickets:       env.tickets,
		Relay:         env.relay,
		Provider:      env.provider,
		SupportChatID: testSupportChatID,
		Backoff:       testBackoff(),
	})

	return env
}

func (env *testEnv) setLanguage(t *testing.T, userID int64, l Language) {
	t.Helper()
	_, err := env.identity.SetLanguage(context.Background(), userID, l.String())
	require.NoError(t, err)
}

var eventSeq atomic.Int64

func nextEventID() string {
	return "ev" + i64(eventSeq.Add(1))
}

func userText(userID int64, text string) Event {
	return Event{
		ID:        nextEventID(),
		Kind:      EventMessage,
		ChatID:    userID,
		Private:   true,
		Sender:    Profile{ID: userID, FirstName: "User"},
		MessageID: int(eventSeq.Load()),
		Content:   TextContent(text),
	}
}

func userPhoto(userID int64) Event {
	ev := userText(userID, "")
	ev.Content = AttachmentContent("photo", "look")
	return ev
}

func supportText(senderID int64, threadID, replyTo int, text string) Event {
	return Event{
		ID:        nextEventID(),
		Kind:      EventMessage,
		ChatID:    testSupportChatID,
		Sender:    Profile{ID: senderID, Username: "agent"},
		MessageID: int(eventSeq.Load()),
		ThreadID:  threadID,
		ReplyToID: replyTo,
		Content:   TextContent(text),
	}
}

func callback(userID int64, data string) Event {
	return Event{
		ID:           nextEventID(),
		Kind:         EventCallback,
		ChatID:       userID,
		Private:      true,
		Sender:       Profile{ID: userID},
		CallbackID:   "cb" + i64(eventSeq.Load()),
		CallbackData: data,
	}
}

func providerErr(kind ErrorKind) error {
	return NewProviderError(kind, "test", errors.New(string(kind)))
}
