package helpdesk

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeKafkaWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error { return nil }

type archivedTicket struct {
	queue  string
	name   string
	record any
	filter Filter
}

type fakeArchive struct {
	calls []archivedTicket
}

func (a *fakeArchive) Replace(queue, name string, record any, filter Filter) {
	a.calls = append(a.calls, archivedTicket{queue: queue, name: name, record: record, filter: filter})
}

func testTicketEvent(typ TicketEventType) TicketEvent {
	at := time.Unix(1_700_000_000, 0).UTC()
	return newTicketEvent(typ, Ticket{No: 5, UserID: 42, ThreadID: 9, Status: TicketOpen, CreatedAt: at}, at)
}

func TestKafkaJournal_Record(t *testing.T) {
	w := &fakeKafkaWriter{}
	j := &KafkaJournal{writer: w, log: NoopLogger{}}

	ev := testTicketEvent(TicketEventCreated)
	j.Record(context.Background(), ev)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "42", string(w.msgs[0].Key))
	assert.True(t, ev.At.Equal(w.msgs[0].Time))

	var got TicketEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, TicketEventCreated, got.Type)
	assert.Equal(t, int64(5), got.Ticket.No)
}

func TestKafkaJournal_ErrorsAreLogged(t *testing.T) {
	log := new(MockLogger)
	log.On("Error", "cannot write ticket event", mock.Anything).Once()

	j := &KafkaJournal{writer: &fakeKafkaWriter{err: errors.New("broker down")}, log: log}
	j.Record(context.Background(), testTicketEvent(TicketEventClosed))

	log.AssertExpectations(t)
}

func TestKafkaConfig(t *testing.T) {
	assert.False(t, KafkaConfig{}.Enabled())
	assert.False(t, KafkaConfig{Brokers: " , "}.Enabled())
	assert.False(t, KafkaConfig{Brokers: "kafka:9092"}.Enabled())
	assert.True(t, KafkaConfig{Brokers: "kafka:9092", Topic: "tickets"}.Enabled())

	assert.Equal(t, []string{"a:1", "b:2"}, parseBrokers(" a:1,,b:2 "))
	assert.Empty(t, parseBrokers(""))
}

func TestMongoArchive_Record(t *testing.T) {
	coll := &fakeArchive{}
	a := &MongoArchive{coll: coll}

	created := testTicketEvent(TicketEventCreated)
	a.Record(context.Background(), created)
	closed := testTicketEvent(TicketEventClosed)
	closed.Ticket.Status = TicketClosed
	a.Record(context.Background(), closed)

	require.Len(t, coll.calls, 2)
	assert.Equal(t, "42", coll.calls[0].queue)
	assert.Equal(t, string(TicketEventCreated), coll.calls[0].name)
	assert.Equal(t, NewFilter("no", int64(5)), coll.calls[0].filter)
	assert.Equal(t, TicketClosed, coll.calls[1].record.(Ticket).Status)
}

func TestMultiJournal(t *testing.T) {
	first := new(MockJournal)
	second := new(MockJournal)
	ev := testTicketEvent(TicketEventMoved)
	first.On("Record", mock.Anything, ev).Once()
	second.On("Record", mock.Anything, ev).Once()

	MultiJournal{first, second}.Record(context.Background(), ev)

	first.AssertExpectations(t)
	second.AssertExpectations(t)

	noopJournal{}.Record(context.Background(), ev)
}
