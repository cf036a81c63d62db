package helpdesk

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
)

// ErrLockBusy is returned when the ticket lock of a user cannot be acquired in time.
var ErrLockBusy = errm.New("ticket lock is busy")

const (
	defaultLockTTL  = 30 * time.Second
	defaultLockWait = 35 * time.Second
	defaultLockPoll = 100 * time.Millisecond
	// Thread allocation must end LockTTL/lockMarginDiv before the lock expires.
	lockMarginDiv = 5

	activityTTL    = 90 * 24 * time.Hour
	closedMarkTTL  = 90 * 24 * time.Hour
	maxThreadTitle = 120
)

// TicketStoreConfig contains TicketStore settings. Zero values are replaced with defaults.
type TicketStoreConfig struct {
	// SupportChatID is the chat where threads are created.
	SupportChatID int64
	// LockTTL is the lifetime of a ticket lock. Thread creation retries stop before it ends,
	// and a ticket is not saved if the lock was lost anyway.
	LockTTL time.Duration
	// LockWait is how long a caller waits for a ticket lock held by another caller.
	LockWait time.Duration
	// LockPoll is the interval of lock polling.
	LockPoll time.Duration
	Backoff  Backoff
}

// TicketStore owns ticket records and guarantees at most one open ticket per user.
//
// The ticket record of a user is changed only while the per-user lock is held.
// The lock is a SetIfAbsent key with an owner token, so it works across processes.
// Activity timestamps live in separate keys and never race with status changes.
type TicketStore struct {
	store    KeyValueStore
	provider ChannelProvider
	links    *MessageLinkTable
	identity *IdentityLedger
	journal  Journal
	metrics  *metrics
	log      Logger
	cfg      TicketStoreConfig

	fallbackLogged atomic.Bool

	now      func() time.Time
	newToken func() string
}

// NewTicketStore creates a new TicketStore.
func NewTicketStore(store KeyValueStore, provider ChannelProvider, links *MessageLinkTable,
	identity *IdentityLedger, cfg TicketStoreConfig, log Logger) *TicketStore {

	cfg.LockTTL = positiveOr(cfg.LockTTL, defaultLockTTL)
	cfg.LockWait = positiveOr(cfg.LockWait, defaultLockWait)
	cfg.LockPoll = positiveOr(cfg.LockPoll, defaultLockPoll)
	if cfg.Backoff.Attempts == 0 {
		cfg.Backoff = DefaultBackoff()
	}

	return &TicketStore{
		store:    store,
		provider: provider,
		links:    links,
		identity: identity,
		journal:  noopJournal{},
		log:      orNoop(log),
		cfg:      cfg,
		now:      time.Now,
		newToken: uuid.NewString,
	}
}

// SetJournal sets a receiver of ticket lifecycle events.
func (s *TicketStore) SetJournal(j Journal) {
	if j != nil {
		s.journal = j
	}
}

// OpenTicket returns the open ticket of the user.
func (s *TicketStore) OpenTicket(ctx context.Context, userID int64) (Ticket, bool, error) {
	t, ok, err := s.LastTicket(ctx, userID)
	if err != nil || !ok || !t.IsOpen() {
		return Ticket{}, false, err
	}
	return t, true, nil
}

// LastTicket returns the last ticket of the user, open or closed.
func (s *TicketStore) LastTicket(ctx context.Context, userID int64) (Ticket, bool, error) {
	raw, err := s.store.Get(ctx, ticketKey(userID))
	switch {
	case errm.Is(err, ErrNotFound):
		return Ticket{}, false, nil
	case err != nil:
		return Ticket{}, false, errm.Wrap(err, "get ticket", "user_id", userID)
	}

	var t Ticket
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return Ticket{}, false, errm.Wrap(err, "decode ticket", "user_id", userID)
	}
	t.LastUserActivityAt = s.activity(ctx, userActivityKey(t.No))
	t.LastSupportActivityAt = s.activity(ctx, supportActivityKey(t.No))

	return t, true, nil
}

// Ensure returns the open ticket of the user or creates a new one.
// With forceNew the open ticket is closed by the user and a new one is always created.
// The second return value is true if the ticket was created by this call.
// Nothing is persisted if the thread for a new ticket could not be allocated.
func (s *TicketStore) Ensure(ctx context.Context, profile Profile, forceNew bool) (Ticket, bool, error) {
	if !forceNew {
		t, ok, err := s.OpenTicket(ctx, profile.ID)
		if err != nil {
			return Ticket{}, false, err
		}
		if ok {
			return t, false, nil
		}
	}

	var (
		out     Ticket
		created bool
	)
	err := s.withLock(ctx, profile.ID, func(ctx context.Context, l lease) error {
		current, ok, err := s.OpenTicket(ctx, profile.ID)
		if err != nil {
			return err
		}
		if ok {
			if !forceNew {
				out = current
				return nil
			}
			if _, _, err := s.closeLocked(ctx, current, ClosedByUser); err != nil {
				return errm.Wrap(err, "close previous ticket")
			}
		}

		out, err = s.createLocked(ctx, l, profile)
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return Ticket{}, false, err
	}

	return out, created, nil
}

// Close closes the open ticket of the user. It returns false if there was nothing to close
// or the ticket was closed concurrently by another caller, so exactly one caller gets true.
func (s *TicketStore) Close(ctx context.Context, userID int64, by ClosedBy) (Ticket, bool, error) {
	var (
		out    Ticket
		closed bool
	)
	err := s.withLock(ctx, userID, func(ctx context.Context, _ lease) error {
		t, ok, err := s.OpenTicket(ctx, userID)
		if err != nil || !ok {
			return err
		}
		out, closed, err = s.closeLocked(ctx, t, by)
		return err
	})
	if err != nil {
		return Ticket{}, false, err
	}
	return out, closed, nil
}

// Touch updates the activity timestamp of one side of the ticket.
func (s *TicketStore) Touch(ctx context.Context, t Ticket, side ActivitySide) {
	key := lang.If(side == SideSupport, supportActivityKey(t.No), userActivityKey(t.No))
	if err := s.store.Set(ctx, key, i64(s.now().UnixMilli()), activityTTL); err != nil {
		s.log.Warn("cannot touch ticket", "error", err, "ticket_no", t.No, "side", side)
	}
}

// ResolveLink returns the open ticket a support chat message belongs to.
// Links created under a ticket that is already closed do not resolve.
func (s *TicketStore) ResolveLink(ctx context.Context, chatID int64, messageID int) (Ticket, bool, error) {
	link, ok, err := s.links.Resolve(ctx, chatID, messageID)
	if err != nil || !ok {
		return Ticket{}, false, err
	}
	t, ok, err := s.OpenTicket(ctx, link.UserID)
	if err != nil || !ok {
		return Ticket{}, false, err
	}
	if link.TicketNo != 0 && link.TicketNo != t.No {
		return Ticket{}, false, nil
	}
	return t, true, nil
}

// ByThread returns the open ticket that owns the thread.
func (s *TicketStore) ByThread(ctx context.Context, threadID int) (Ticket, bool, error) {
	if threadID == 0 {
		return Ticket{}, false, nil
	}
	raw, err := s.store.Get(ctx, threadKey(threadID))
	switch {
	case errm.Is(err, ErrNotFound):
		return Ticket{}, false, nil
	case err != nil:
		return Ticket{}, false, errm.Wrap(err, "get thread index", "thread_id", threadID)
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Ticket{}, false, errm.Wrap(err, "parse thread index", "thread_id", threadID)
	}

	t, ok, err := s.OpenTicket(ctx, userID)
	if err != nil || !ok || t.ThreadID != threadID {
		return Ticket{}, false, err
	}
	return t, true, nil
}

// ReallocateThread creates a new thread for an open ticket whose thread is gone.
// The ticket number is preserved. If the ticket was already moved by another caller,
// the current ticket is returned as is.
func (s *TicketStore) ReallocateThread(ctx context.Context, t Ticket) (Ticket, error) {
	var out Ticket
	err := s.withLock(ctx, t.UserID, func(ctx context.Context, l lease) error {
		current, ok, err := s.OpenTicket(ctx, t.UserID)
		if err != nil {
			return err
		}
		if !ok || current.No != t.No {
			return errm.New("ticket is not open anymore", "ticket_no", t.No)
		}
		if current.ThreadID != t.ThreadID {
			out = current
			return nil
		}

		threadID, err := s.allocateThread(ctx, l, current.No, current.User)
		if err != nil {
			return err
		}
		if err := s.checkLease(ctx, l); err != nil {
			if threadID != 0 {
				s.closeThread(ctx, threadID)
			}
			return err
		}
		if current.ThreadID != 0 {
			if err := s.store.Delete(ctx, threadKey(current.ThreadID)); err != nil {
				s.log.Warn("cannot delete thread index", "error", err, "thread_id", current.ThreadID)
			}
		}
		current.ThreadID = threadID
		if err := s.save(ctx, current); err != nil {
			return err
		}
		s.sendHeader(ctx, current)
		s.journal.Record(ctx, newTicketEvent(TicketEventMoved, current, s.now()))
		s.metrics.incThreadReallocated()

		s.log.Info("thread reallocated", "ticket_no", current.No, "user_id", current.UserID,
			"old_thread_id", t.ThreadID, "thread_id", threadID)

		out = current
		return nil
	})
	if err != nil {
		return Ticket{}, err
	}
	return out, nil
}

// FallbackActive returns true if threads are known to be unavailable in the support chat.
func (s *TicketStore) FallbackActive(ctx context.Context) bool {
	_, err := s.store.Get(ctx, keyFallback)
	return err == nil
}

// ResetFallback allows the next ticket to try creating a thread again.
func (s *TicketStore) ResetFallback(ctx context.Context) error {
	s.fallbackLogged.Store(false)
	return s.store.Delete(ctx, keyFallback)
}

func (s *TicketStore) createLocked(ctx context.Context, l lease, profile Profile) (Ticket, error) {
	no, err := s.store.Increment(ctx, keySequence)
	if err != nil {
		return Ticket{}, errm.Wrap(err, "next ticket number")
	}

	threadID, err := s.allocateThread(ctx, l, no, profile)
	if err != nil {
		return Ticket{}, err
	}
	if err := s.checkLease(ctx, l); err != nil {
		if threadID != 0 {
			s.closeThread(ctx, threadID)
		}
		return Ticket{}, err
	}

	now := s.now()
	t := Ticket{
		No:                 no,
		UserID:             profile.ID,
		ThreadID:           threadID,
		Status:             TicketOpen,
		User:               profile,
		CreatedAt:          now,
		LastUserActivityAt: now,
	}

	if err := s.save(ctx, t); err != nil {
		if threadID != 0 {
			s.closeThread(ctx, threadID)
		}
		return Ticket{}, err
	}
	s.Touch(ctx, t, SideUser)
	s.sendHeader(ctx, t)

	s.journal.Record(ctx, newTicketEvent(TicketEventCreated, t, now))
	s.metrics.incTicketCreated(t.InFallback())

	s.log.Info("ticket created", "ticket_no", t.No, "user_id", t.UserID, "thread_id", t.ThreadID)

	return t, nil
}

func (s *TicketStore) closeLocked(ctx context.Context, t Ticket, by ClosedBy) (Ticket, bool, error) {
	first, err := s.store.SetIfAbsent(ctx, closedKey(t.No), string(by), closedMarkTTL)
	if err != nil {
		return Ticket{}, false, errm.Wrap(err, "set close mark", "ticket_no", t.No)
	}
	if !first {
		return t, false, nil
	}

	now := s.now()
	t.Status = TicketClosed
	t.ClosedAt = &now
	t.ClosedBy = by

	if err := s.save(ctx, t); err != nil {
		// The ticket is still open, so the next close must be able to take the mark again.
		if derr := s.store.Delete(ctx, closedKey(t.No)); derr != nil {
			s.log.Error("cannot remove close mark", "error", derr, "ticket_no", t.No)
		}
		return Ticket{}, false, err
	}

	if t.ThreadID != 0 {
		if err := s.store.Delete(ctx, threadKey(t.ThreadID)); err != nil {
			s.log.Warn("cannot delete thread index", "error", err, "thread_id", t.ThreadID)
		}
	}
	if by == ClosedByUser {
		// Closed threads reject messages, so the notice goes first.
		if _, err := s.provider.SendText(ctx, s.cfg.SupportChatID, supportClosedByUser(t), SendOptions{ThreadID: t.ThreadID}); err != nil {
			s.log.Warn("cannot notify support about closed ticket", "error", err, "ticket_no", t.No)
		}
	}
	if t.ThreadID != 0 {
		s.closeThread(ctx, t.ThreadID)
	}

	s.journal.Record(ctx, newTicketEvent(TicketEventClosed, t, now))
	s.metrics.incTicketClosed(by)

	s.log.Info("ticket closed", "ticket_no", t.No, "user_id", t.UserID, "closed_by", by)

	return t, true, nil
}

// allocateThread returns zero thread id when the support chat cannot have threads.
// Retries stop before the lease expires.
func (s *TicketStore) allocateThread(ctx context.Context, l lease, no int64, profile Profile) (int, error) {
	if s.FallbackActive(ctx) {
		return 0, nil
	}

	allocCtx, cancel := context.WithDeadline(ctx, l.expires)
	defer cancel()

	var threadID int
	err := s.cfg.Backoff.Do(allocCtx, func(ctx context.Context) error {
		id, err := s.provider.CreateThread(ctx, s.cfg.SupportChatID, threadTitle(no, profile))
		threadID = id
		return err
	})
	switch {
	case err == nil:
		return threadID, nil

	case IsCapabilityError(err):
		if serr := s.store.Set(ctx, keyFallback, err.Error(), 0); serr != nil {
			s.log.Error("cannot save fallback flag", "error", serr)
		}
		if !s.fallbackLogged.Swap(true) {
			s.log.Warn("support chat does not support threads, switching to fallback mode", "error", err)
		}
		s.metrics.incFallback()
		return 0, nil

	default:
		s.metrics.incProviderError(ErrorKindOf(err))
		return 0, errm.Wrap(err, "create thread", "ticket_no", no)
	}
}

func (s *TicketStore) closeThread(ctx context.Context, threadID int) {
	if err := s.provider.CloseThread(ctx, s.cfg.SupportChatID, threadID); err != nil {
		s.log.Warn("cannot close thread", "error", err, "thread_id", threadID)
	}
}

func (s *TicketStore) sendHeader(ctx context.Context, t Ticket) {
	var payload string
	if s.identity != nil {
		payload = s.identity.StartPayload(ctx, t.UserID)
	}

	var msgID int
	err := s.cfg.Backoff.Do(ctx, func(ctx context.Context) error {
		id, err := s.provider.SendText(ctx, s.cfg.SupportChatID, ticketHeader(t, payload), SendOptions{ThreadID: t.ThreadID})
		msgID = id
		return err
	})
	if err != nil {
		s.log.Warn("cannot send ticket header", "error", err, "ticket_no", t.No)
		return
	}
	if err := s.links.Link(ctx, s.cfg.SupportChatID, msgID, t.UserID, t.No); err != nil {
		s.log.Warn("cannot link ticket header", "error", err, "ticket_no", t.No)
	}
}

func (s *TicketStore) save(ctx context.Context, t Ticket) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return errm.Wrap(err, "encode ticket")
	}
	if err := s.store.Set(ctx, ticketKey(t.UserID), string(raw), 0); err != nil {
		return errm.Wrap(err, "save ticket", "ticket_no", t.No)
	}
	if t.IsOpen() && t.ThreadID != 0 {
		if err := s.store.Set(ctx, threadKey(t.ThreadID), i64(t.UserID), 0); err != nil {
			return errm.Wrap(err, "save thread index", "thread_id", t.ThreadID)
		}
	}
	return nil
}

func (s *TicketStore) activity(ctx context.Context, key string) time.Time {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// lease is a held ticket lock. Work that must finish under the lock ends before expires.
type lease struct {
	userID  int64
	token   string
	expires time.Time
}

func (s *TicketStore) withLock(ctx context.Context, userID int64, f func(ctx context.Context, l lease) error) error {
	token := s.newToken()
	deadline := s.now().Add(s.cfg.LockWait)

	var l lease
	for {
		ok, err := s.store.SetIfAbsent(ctx, lockKey(userID), token, s.cfg.LockTTL)
		if err != nil {
			return errm.Wrap(err, "acquire ticket lock", "user_id", userID)
		}
		if ok {
			// Wall clock: the lease bounds context deadlines.
			l = lease{userID: userID, token: token, expires: time.Now().Add(s.cfg.LockTTL - s.cfg.LockTTL/lockMarginDiv)}
			break
		}
		if !s.now().Before(deadline) {
			return errm.Wrap(ErrLockBusy, "wait", "user_id", userID)
		}
		if err := sleepCtx(ctx, s.cfg.LockPoll); err != nil {
			return err
		}
	}
	defer s.unlock(context.WithoutCancel(ctx), userID, token)

	return f(ctx, l)
}

// checkLease returns ErrLockBusy if the lock expired and may belong to another caller now.
func (s *TicketStore) checkLease(ctx context.Context, l lease) error {
	owner, err := s.store.Get(ctx, lockKey(l.userID))
	if err != nil && !errm.Is(err, ErrNotFound) {
		return errm.Wrap(err, "check ticket lock", "user_id", l.userID)
	}
	if owner != l.token {
		return errm.Wrap(ErrLockBusy, "ticket lock expired during thread allocation", "user_id", l.userID)
	}
	return nil
}

// unlock deletes the lock only if it still belongs to the caller.
// Get and Delete are not atomic, LockTTL keeps the window negligible.
func (s *TicketStore) unlock(ctx context.Context, userID int64, token string) {
	owner, err := s.store.Get(ctx, lockKey(userID))
	if err != nil || owner != token {
		return
	}
	if err := s.store.Delete(ctx, lockKey(userID)); err != nil {
		s.log.Warn("cannot release ticket lock", "error", err, "user_id", userID)
	}
}

func threadTitle(no int64, profile Profile) string {
	title := "#" + i64(no) + " u" + i64(profile.ID)
	if name := profile.DisplayName(); name != "" {
		title += " " + name
	}
	runes := []rune(title)
	if len(runes) > maxThreadTitle {
		title = string(runes[:maxThreadTitle])
	}
	return title
}
