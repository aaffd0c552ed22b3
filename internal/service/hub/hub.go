package hub

import (
	"strconv"
	"sync"

	"arcade-service/pkg/logger"

	"go.uber.org/zap"
)

const bufferSize = 16

type Kind string

const (
	KindRoundStarted Kind = "round_started"
	KindPhaseTick    Kind = "phase_tick"
	KindBetPlaced    Kind = "bet_placed"
	KindRoundResult  Kind = "round_result"
	KindFlightTick   Kind = "flight_tick"
	KindCashout      Kind = "cashout"
	KindCrash        Kind = "crash"
	KindMatchWaiting Kind = "match_waiting"
	KindMatchFound   Kind = "match_found"
	KindMatchUpdate  Kind = "match_update"
	KindMatchResult  Kind = "match_result"
	KindMatchExpired Kind = "match_expired"
	KindSnapshot     Kind = "snapshot"
	KindError        Kind = "error"
	KindPong         Kind = "pong"
)

func (k Kind) Valid() bool {
	switch k {
	case KindRoundStarted, KindPhaseTick, KindBetPlaced, KindRoundResult,
		KindFlightTick, KindCashout, KindCrash,
		KindMatchWaiting, KindMatchFound, KindMatchUpdate, KindMatchResult, KindMatchExpired,
		KindSnapshot, KindError, KindPong:
		return true
	default:
		return false
	}
}

type Message struct {
	Type  Kind        `json:"type"`
	Topic string      `json:"topic"`
	Seq   int64       `json:"seq"`
	Data  interface{} `json:"data"`
}

// Publisher is the write side of the hub.
type Publisher interface {
	Publish(topic string, kind Kind, data interface{})
	Send(topic, key string, kind Kind, data interface{}) bool
}

func TableTopic(tableID int64) string {
	return "table:" + strconv.FormatInt(tableID, 10)
}

func PlayerTopic(playerID int64) string {
	return "player:" + strconv.FormatInt(playerID, 10)
}

func MatchTopic(matchID int64) string {
	return "match:" + strconv.FormatInt(matchID, 10)
}

type Subscription struct {
	Topic string
	Key   string
	C     <-chan Message

	ch chan Message
}

type topic struct {
	mu   sync.Mutex
	seq  int64
	subs map[string]*Subscription
}

// Hub fans messages out to subscribers grouped by topic. Every message on a
// topic gets the next sequence number and reaches subscribers in that order.
// A subscriber whose buffer is full misses the message.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic
}

func New() *Hub {
	return &Hub{topics: make(map[string]*topic)}
}

func (h *Hub) topic(name string) *topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[name]
	if !ok {
		t = &topic{subs: make(map[string]*Subscription)}
		h.topics[name] = t
	}
	return t
}

// Subscribe attaches key to topic. A previous subscription under the same
// key is closed and replaced.
func (h *Hub) Subscribe(name, key string) *Subscription {
	t := h.topic(name)
	ch := make(chan Message, bufferSize)
	sub := &Subscription{Topic: name, Key: key, C: ch, ch: ch}

	t.mu.Lock()
	if old, ok := t.subs[key]; ok {
		close(old.ch)
	}
	t.subs[key] = sub
	t.mu.Unlock()
	return sub
}

// Unsubscribe detaches sub and closes its channel. Stale subscriptions that
// were already replaced are ignored.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	t := h.topic(sub.Topic)
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.subs[sub.Key]; ok && cur == sub {
		delete(t.subs, sub.Key)
		close(sub.ch)
	}
}

func (h *Hub) Publish(name string, kind Kind, data interface{}) {
	t := h.topic(name)
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	msg := Message{Type: kind, Topic: name, Seq: t.seq, Data: data}
	for key, sub := range t.subs {
		select {
		case sub.ch <- msg:
		default:
			logger.Log.Warn("subscriber channel full",
				zap.String("topic", name),
				zap.String("key", key),
				zap.String("type", string(kind)))
		}
	}
}

// Send delivers to a single subscriber of topic and reports whether it was queued.
func (h *Hub) Send(name, key string, kind Kind, data interface{}) bool {
	t := h.topic(name)
	t.mu.Lock()
	defer t.mu.Unlock()

	sub, ok := t.subs[key]
	if !ok {
		return false
	}
	t.seq++
	select {
	case sub.ch <- Message{Type: kind, Topic: name, Seq: t.seq, Data: data}:
		return true
	default:
		logger.Log.Warn("subscriber channel full",
			zap.String("topic", name),
			zap.String("key", key),
			zap.String("type", string(kind)))
		return false
	}
}

func (h *Hub) Count(name string) int {
	t := h.topic(name)
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
