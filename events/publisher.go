// Package events publishes capture results to an MQTT broker so external
// systems (automation, alerting, farm dashboards) can react to
// classifications without polling the admin API.
package events

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"

	"camgate/capture"
	"camgate/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// captureEvent is the wire shape of one published record.
type captureEvent struct {
	Event       string          `json:"event"`
	PublishedAt time.Time       `json:"published_at"`
	Record      *capture.Record `json:"record"`
}

// Publisher forwards finished capture records to MQTT. Publishing is
// fire-and-forget from the capture path's point of view: a slow or absent
// broker drops events, it never delays a capture.
type Publisher struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	queue  chan *capture.Record
	stop   chan struct{}

	stopOnce  sync.Once
	drops     atomic.Uint64
	published atomic.Uint64
}

// NewPublisher prepares a publisher; call Connect to reach the broker.
func NewPublisher(cfg config.MQTTConfig) *Publisher {
	qsize := cfg.QueueSize
	if qsize <= 0 {
		qsize = 1000
	}
	return &Publisher{
		cfg:   cfg,
		queue: make(chan *capture.Record, qsize),
		stop:  make(chan struct{}),
	}
}

// Connect establishes the broker connection and starts the publish loop.
// The paho client reconnects on its own afterwards.
func (p *Publisher) Connect() error {
	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", p.cfg.Broker, p.cfg.Port)
	opts.AddBroker(brokerURL)

	clientID := fmt.Sprintf("camgate-%d", time.Now().Unix())
	opts.SetClientID(clientID)

	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("Events: connected to MQTT broker %s, publishing to %s", brokerURL, p.cfg.Topic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("Events: MQTT connection lost: %v, reconnecting", err)
	})

	p.client = mqtt.NewClient(opts)

	log.Printf("Events: connecting to MQTT broker at %s...", brokerURL)
	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("events: connect to broker: %w", token.Error())
	}

	go p.publishLoop()
	return nil
}

// Publish queues a record for delivery without blocking. It returns false
// when the record was dropped because the queue is full.
func (p *Publisher) Publish(rec *capture.Record) bool {
	if p == nil || rec == nil {
		return true
	}
	select {
	case p.queue <- rec:
		return true
	default:
		p.drops.Add(1)
		return false
	}
}

func (p *Publisher) publishLoop() {
	for {
		select {
		case <-p.stop:
			return
		case rec := <-p.queue:
			p.publishOne(rec)
		}
	}
}

func (p *Publisher) publishOne(rec *capture.Record) {
	payload, err := json.Marshal(captureEvent{
		Event:       "capture",
		PublishedAt: time.Now().UTC(),
		Record:      rec,
	})
	if err != nil {
		log.Printf("Events: marshal record %s: %v", rec.ID, err)
		return
	}
	token := p.client.Publish(p.cfg.Topic, byte(p.cfg.QoS), false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.drops.Add(1)
		log.Printf("Events: publish timed out for record %s", rec.ID)
		return
	}
	if err := token.Error(); err != nil {
		p.drops.Add(1)
		log.Printf("Events: publish failed for record %s: %v", rec.ID, err)
		return
	}
	p.published.Add(1)
}

// IsConnected reports whether the broker connection is up.
func (p *Publisher) IsConnected() bool {
	return p != nil && p.client != nil && p.client.IsConnected()
}

// Published returns the number of events delivered to the broker.
func (p *Publisher) Published() uint64 {
	if p == nil {
		return 0
	}
	return p.published.Load()
}

// Drops returns the number of events lost to backpressure or publish errors.
func (p *Publisher) Drops() uint64 {
	if p == nil {
		return 0
	}
	return p.drops.Load()
}

// Stop disconnects from the broker and halts the publish loop.
func (p *Publisher) Stop() {
	if p == nil {
		return
	}
	p.stopOnce.Do(func() {
		close(p.stop)
		if p.client != nil && p.client.IsConnected() {
			p.client.Disconnect(250)
		}
	})
}
