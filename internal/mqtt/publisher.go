package mqtt

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/strefethen/kef-hub-go/internal/kef"
)

const queueSize = 256

// StatePayload is published retained on the state topic.
type StatePayload struct {
	IP        string            `json:"ip"`
	Status    kef.SpeakerStatus `json:"status"`
	UpdatedAt string            `json:"updated_at"`
}

// EventPayload is published on the event topic for every change.
type EventPayload struct {
	IP        string            `json:"ip"`
	Fields    []string          `json:"fields"`
	Change    kef.SpeakerChange `json:"change"`
	Timestamp string            `json:"timestamp"`
}

type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// Publisher forwards speaker changes to MQTT. SpeakerChanged never blocks the
// caller: messages go through a bounded queue and are dropped when it is
// full.
type Publisher struct {
	broker Broker
	topics Topics
	logger *log.Logger
	now    func() time.Time

	queue     chan message
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewPublisher starts a publisher on broker.
func NewPublisher(broker Broker, prefix string, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.Default()
	}
	p := &Publisher{
		broker:  broker,
		topics:  Topics{Prefix: prefix},
		logger:  logger,
		now:     time.Now,
		queue:   make(chan message, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.run()
	return p
}

// SpeakerChanged publishes the change and the refreshed retained snapshot.
func (p *Publisher) SpeakerChanged(key string, change kef.SpeakerChange, snapshot kef.SpeakerStatus) {
	now := p.now().UTC().Format(time.RFC3339)

	event, err := json.Marshal(EventPayload{IP: key, Fields: change.Fields(), Change: change, Timestamp: now})
	if err != nil {
		p.logger.Printf("MQTT: encode event %s: %v", key, err)
		return
	}
	state, err := json.Marshal(StatePayload{IP: key, Status: snapshot, UpdatedAt: now})
	if err != nil {
		p.logger.Printf("MQTT: encode state %s: %v", key, err)
		return
	}

	p.enqueue(message{topic: p.topics.Event(key), payload: event, qos: 0})
	p.enqueue(message{topic: p.topics.State(key), payload: state, qos: 1, retained: true})
}

func (p *Publisher) enqueue(msg message) {
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.queue <- msg:
	default:
		p.logger.Printf("MQTT: queue full, dropping %s", msg.topic)
	}
}

func (p *Publisher) run() {
	defer close(p.stopped)
	for {
		select {
		case msg := <-p.queue:
			p.publish(msg)
		case <-p.done:
			// Flush what is already queued.
			for {
				select {
				case msg := <-p.queue:
					p.publish(msg)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) publish(msg message) {
	if err := p.broker.Publish(msg.topic, msg.payload, msg.qos, msg.retained); err != nil {
		p.logger.Printf("MQTT: publish %s: %v", msg.topic, err)
	}
}

// Close stops accepting changes, flushes the queue and closes the broker.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		<-p.stopped
		err = p.broker.Close()
	})
	return err
}
