package helpdesk

import (
	"context"
	"errors"
	"time"

	"github.com/maxbolgarin/contem"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	"github.com/prometheus/client_golang/prometheus"
	tele "gopkg.in/telebot.v4"
)

var allowedUpdates = []string{"message", "callback_query", "my_chat_member"}

// Service is the helpdesk bot: it receives updates, deduplicates them and routes them through the Engine.
type Service struct {
	cfg Config
	bot *tele.Bot

	store      KeyValueStore
	tickets    *TicketStore
	engine     *Engine
	dedup      *DedupGuard
	dispatcher *Dispatcher

	metrics  *metrics
	gatherer prometheus.Gatherer
	log      Logger
}

// New creates the service with optional options. Resources that need closing are registered in ctx.
func New(ctx contem.Context, cfg Config, optsFuncs ...func(*Options)) (*Service, error) {
	opts := prepareOpts(cfg, optsFuncs...)
	if opts.Provider != nil {
		cfg.Offline = true
	}
	if err := cfg.prepareAndValidate(); err != nil {
		return nil, errm.Wrap(err, "prepare and validate config")
	}

	s := &Service{
		cfg:     cfg,
		metrics: newMetrics(MetricsConfig{Registry: opts.Registry}),
		log:     opts.Logger,
	}
	if g, ok := opts.Registry.(prometheus.Gatherer); ok {
		s.gatherer = g
	}

	provider := opts.Provider
	if provider == nil {
		bot, err := newTelebot(cfg, s.log)
		if err != nil {
			return nil, err
		}
		s.bot = bot
		provider = NewTelegramProvider(bot, cfg.TelegramRPS, s.log)
	}

	var mongo *MongoDB
	connectMongo := func() (*MongoDB, error) {
		if mongo != nil {
			return mongo, nil
		}
		db, err := NewMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, errm.Wrap(err, "connect mongo")
		}
		mongo = db
		return mongo, nil
	}

	store := opts.Store
	if store == nil {
		var err error
		store, err = newStore(ctx, cfg, connectMongo)
		if err != nil {
			return nil, errm.Wrap(err, "new store", "storage", cfg.Storage)
		}
	}
	if size := lang.Deref(cfg.CacheSize); size > 0 {
		cached, err := NewCachedStore(store, size, cfg.CacheTTL, CachedKeyPrefixes...)
		if err != nil {
			return nil, errm.Wrap(err, "new cached store")
		}
		store = cached
	}
	s.store = store

	identity, err := NewIdentityLedger(store, cfg.AdminIDs, lang.Deref(cfg.CacheSize))
	if err != nil {
		return nil, errm.Wrap(err, "new identity ledger")
	}
	links := NewMessageLinkTable(store, DefaultLinkTTL)

	s.tickets = NewTicketStore(store, provider, links, identity, TicketStoreConfig{
		SupportChatID: cfg.SupportChatID,
	}, s.log)
	s.tickets.metrics = s.metrics

	journal, err := newJournal(ctx, cfg, opts.Journal, connectMongo, s.log)
	if err != nil {
		return nil, errm.Wrap(err, "new journal")
	}
	s.tickets.SetJournal(journal)

	relay := NewRelay(provider, links, s.tickets, cfg.SupportChatID, Backoff{}, s.log)
	relay.metrics = s.metrics

	s.engine = NewEngine(EngineParams{
		Identity:      identity,
		Limiter:       NewRateLimiter(store, cfg.RateLimit, s.log),
		Tickets:       s.tickets,
		Relay:         relay,
		Provider:      provider,
		Msgs:          opts.Msgs,
		SupportChatID: cfg.SupportChatID,
		Logger:        s.log,
	})
	s.engine.metrics = s.metrics

	s.dedup = NewDedupGuard(store, DefaultDedupTTL, s.log)

	s.dispatcher, err = NewDispatcher(cfg.Workers, cfg.EventTimeout, s.HandleUpdate, s.log)
	if err != nil {
		return nil, errm.Wrap(err, "new dispatcher")
	}
	s.dispatcher.metrics = s.metrics
	ctx.Add(s.dispatcher.Shutdown)

	return s, nil
}

// HandleUpdate processes one update synchronously. Redelivered updates are skipped.
func (s *Service) HandleUpdate(ctx context.Context, upd tele.Update) {
	s.metrics.incUpdate()
	logMembership(upd, s.log)

	ev, ok := EventFromUpdate(upd)
	if !ok {
		return
	}
	if !s.dedup.Claim(ctx, ev.ID) {
		s.metrics.incDuplicate()
		s.log.Debug("duplicate update", "event_id", ev.ID, "user_id", ev.Sender.ID)
		return
	}

	s.log.Debug("update", "event_id", ev.ID, "kind", ev.Kind, "user_id", ev.Sender.ID, "chat_id", ev.ChatID,
		"thread_id", ev.ThreadID, "text", maxLen(ev.Content.Text, MaxTextLenInLogs))

	if err := s.engine.Handle(ctx, ev); err != nil {
		s.log.Error("cannot handle event", "error", err, "event_id", ev.ID, "kind", ev.Kind,
			"user_id", ev.Sender.ID, "chat_id", ev.ChatID)
	}
}

// Submit schedules the update on the worker pool. It returns ErrOverloaded if all workers are busy.
func (s *Service) Submit(upd tele.Update) error {
	return s.dispatcher.Submit(upd)
}

// StartWebhook starts the webhook server and registers its URL in Telegram.
// The webhook stays registered after shutdown, so another instance keeps receiving updates.
func (s *Service) StartWebhook(ctx contem.Context) error {
	ws := NewWebhookServer(s.cfg.Webhook, s.Submit, s.gatherer, s.log)
	ws.metrics = s.metrics
	if err := ws.Start(); err != nil {
		return err
	}
	ctx.Add(ws.Shutdown)

	if s.bot == nil || s.cfg.Webhook.URL == "" {
		s.log.Warn("webhook url is not registered in telegram", "listen", s.cfg.Webhook.Listen)
		return nil
	}
	if err := SetWebhook(s.bot, s.cfg.Webhook); err != nil {
		return err
	}
	s.log.Info("webhook is set", "url", s.cfg.Webhook.URL)

	return nil
}

// StartPolling removes the webhook and receives updates by long polling.
// A full pool delays polling instead of dropping updates.
func (s *Service) StartPolling(ctx contem.Context) error {
	if s.bot == nil {
		return errm.New("polling requires a telegram bot")
	}
	if err := DeleteWebhook(s.bot, false); err != nil {
		return err
	}

	var (
		updates = make(chan tele.Update, s.cfg.Workers)
		stop    = make(chan struct{})
		poller  = &tele.LongPoller{Timeout: s.cfg.PollTimeout, AllowedUpdates: allowedUpdates}
	)

	lang.Go(s.log, func() { poller.Poll(s.bot, updates, stop) })
	lang.Go(s.log, func() { s.pollLoop(updates, stop) })

	ctx.AddFunc(func() { close(stop) })

	s.log.Info("polling started", "timeout", s.cfg.PollTimeout)

	return nil
}

func (s *Service) pollLoop(updates <-chan tele.Update, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case upd := <-updates:
			for errors.Is(s.Submit(upd), ErrOverloaded) {
				select {
				case <-stop:
					return
				case <-time.After(50 * time.Millisecond):
				}
			}
		}
	}
}

// Bot returns the underlying *tele.Bot. It is nil if a custom provider is used.
func (s *Service) Bot() *tele.Bot {
	return s.bot
}

// Tickets returns the ticket store.
func (s *Service) Tickets() *TicketStore {
	return s.tickets
}

func newStore(ctx contem.Context, cfg Config, connectMongo func() (*MongoDB, error)) (KeyValueStore, error) {
	switch cfg.Storage {
	case StorageMongo:
		db, err := connectMongo()
		if err != nil {
			return nil, err
		}
		return NewMongoStore(ctx, db)

	case StorageRedis:
		store, closer, err := NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		ctx.Add(closer)
		return store, nil

	case StorageDynamoDB:
		return NewDynamoStore(ctx, cfg.Dynamo)

	default:
		return NewMemoryStore(), nil
	}
}

func newJournal(ctx contem.Context, cfg Config, extra Journal, connectMongo func() (*MongoDB, error), log Logger) (Journal, error) {
	var journals MultiJournal
	if extra != nil {
		journals = append(journals, extra)
	}
	if cfg.Kafka.Enabled() {
		kj, err := NewKafkaJournal(ctx, cfg.Kafka, log)
		if err != nil {
			return nil, err
		}
		journals = append(journals, kj)
	}
	if cfg.Archive {
		db, err := connectMongo()
		if err != nil {
			return nil, err
		}
		archive, err := NewMongoArchive(ctx, db, 4, log)
		if err != nil {
			return nil, err
		}
		journals = append(journals, archive)
	}

	switch len(journals) {
	case 0:
		return noopJournal{}, nil
	case 1:
		return journals[0], nil
	default:
		return journals, nil
	}
}
