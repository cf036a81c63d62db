package helpdesk

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maxbolgarin/contem"
	"github.com/maxbolgarin/errm"
	"github.com/segmentio/kafka-go"
)

// TicketEventType is a type of ticket lifecycle event.
type TicketEventType string

const (
	TicketEventCreated TicketEventType = "ticket_created"
	TicketEventClosed  TicketEventType = "ticket_closed"
	// TicketEventMoved is recorded when a ticket gets a new thread because the old one was deleted.
	TicketEventMoved TicketEventType = "ticket_moved"
)

// TicketEvent is a record of a ticket state change.
type TicketEvent struct {
	ID     string          `json:"id"`
	Type   TicketEventType `json:"type"`
	At     time.Time       `json:"at"`
	Ticket Ticket          `json:"ticket"`
}

func newTicketEvent(typ TicketEventType, t Ticket, at time.Time) TicketEvent {
	return TicketEvent{
		ID:     uuid.NewString(),
		Type:   typ,
		At:     at,
		Ticket: t,
	}
}

// Journal receives ticket lifecycle events. Record must not block routing for long
// and must not fail it: errors are logged by the implementation.
type Journal interface {
	Record(ctx context.Context, ev TicketEvent)
}

type noopJournal struct{}

func (noopJournal) Record(context.Context, TicketEvent) {}

// MultiJournal sends every event to all journals in order.
type MultiJournal []Journal

func (m MultiJournal) Record(ctx context.Context, ev TicketEvent) {
	for _, j := range m {
		j.Record(ctx, ev)
	}
}

// KafkaConfig contains settings of the ticket event stream.
//
// You can use environment variables to fill it:
// HELPDESK_KAFKA_BROKERS - comma separated list of brokers, e.g. "kafka1:9092,kafka2:9092"
// HELPDESK_KAFKA_TOPIC - topic name
type KafkaConfig struct {
	Brokers string `yaml:"brokers" json:"brokers" env:"HELPDESK_KAFKA_BROKERS"`
	Topic   string `yaml:"topic" json:"topic" env:"HELPDESK_KAFKA_TOPIC"`
}

// Enabled returns true if both brokers and topic are set.
func (cfg KafkaConfig) Enabled() bool {
	return len(parseBrokers(cfg.Brokers)) > 0 && cfg.Topic != ""
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaJournal publishes ticket events as JSON. Messages are keyed by user id,
// so events of one user land in one partition in order.
type KafkaJournal struct {
	writer kafkaWriter
	log    Logger
}

// NewKafkaJournal creates an asynchronous writer. The writer is flushed and closed on ctx shutdown.
func NewKafkaJournal(ctx contem.Context, cfg KafkaConfig, log Logger) (*KafkaJournal, error) {
	if !cfg.Enabled() {
		return nil, errm.New("kafka brokers and topic are required")
	}
	log = orNoop(log)
	w := &kafka.Writer{
		Addr:         kafka.TCP(parseBrokers(cfg.Brokers)...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Error("cannot write ticket events", "error", err, "count", len(msgs))
			}
		},
	}
	ctx.Add(func(context.Context) error { return w.Close() })

	return &KafkaJournal{writer: w, log: log}, nil
}

func (j *KafkaJournal) Record(ctx context.Context, ev TicketEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		j.log.Error("cannot marshal ticket event", "error", err, "ticket_no", ev.Ticket.No)
		return
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.Ticket.UserID, 10)),
		Value: body,
		Time:  ev.At,
	}
	if err := j.writer.WriteMessages(ctx, msg); err != nil {
		j.log.Error("cannot write ticket event", "error", err, "ticket_no", ev.Ticket.No, "type", ev.Type)
	}
}

// ticketArchive is the part of AsyncCollection used by MongoArchive.
type ticketArchive interface {
	Replace(queue, name string, record any, filter Filter)
}

// MongoArchive keeps the latest state of every ticket in a collection, one document per ticket.
// Writes are queued per user, so states of one ticket are stored in order.
type MongoArchive struct {
	coll ticketArchive
}

// NewMongoArchive creates an archive over the tickets collection.
func NewMongoArchive(ctx contem.Context, db *MongoDB, workers int, log Logger) (*MongoArchive, error) {
	coll := db.Collection(TicketsCollectionName)
	if err := coll.CreateIndex(ctx, "user_id"); err != nil {
		return nil, errm.Wrap(err, "create user index")
	}
	return &MongoArchive{coll: NewAsyncCollection(ctx, coll, workers, orNoop(log))}, nil
}

func (a *MongoArchive) Record(_ context.Context, ev TicketEvent) {
	queue := strconv.FormatInt(ev.Ticket.UserID, 10)
	a.coll.Replace(queue, string(ev.Type), ev.Ticket, NewFilter("no", ev.Ticket.No))
}

func parseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
