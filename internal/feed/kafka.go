package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kgo"
)

var feedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "schoolhub_feed_events_total",
	Help: "Change events received by category",
}, []string{"category"})

// KafkaConfig holds connection settings for the kafka change feed.
type KafkaConfig struct {
	Brokers     string
	Group       string
	TopicPrefix string
}

// KafkaSource consumes change topics named <prefix><category> and fans each
// record out to that category's handlers. Offsets start at the end: the feed
// is a refresh signal, not a log replay, so missed history is irrelevant.
type KafkaSource struct {
	client *kgo.Client
	prefix string
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
	closed bool
}

// NewKafkaSource connects to the brokers and starts the poll loop.
func NewKafkaSource(cfg KafkaConfig, logger *slog.Logger) (*KafkaSource, error) {
	if cfg.Brokers == "" {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Group == "" {
		return nil, fmt.Errorf("kafka consumer group not configured")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(cfg.Brokers, ",")...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka feed client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &KafkaSource{
		client: client,
		prefix: cfg.TopicPrefix,
		logger: logger,
		cancel: cancel,
		subs:   make(map[string]map[int]Handler),
	}

	s.wg.Add(1)
	go s.run(ctx)
	return s, nil
}

// Subscribe registers a handler and joins the category's topic.
func (s *KafkaSource) Subscribe(category string, h Handler) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("feed source is closed")
	}
	if s.subs[category] == nil {
		s.subs[category] = make(map[int]Handler)
		s.client.AddConsumeTopics(s.prefix + category)
	}
	id := s.nextID
	s.nextID++
	s.subs[category][id] = h

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[category], id)
	}, nil
}

func (s *KafkaSource) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		fetches := s.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			s.logger.Error("kafka feed fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})
		fetches.EachRecord(s.dispatch)
	}
}

func (s *KafkaSource) dispatch(rec *kgo.Record) {
	category := strings.TrimPrefix(rec.Topic, s.prefix)
	feedEvents.WithLabelValues(category).Inc()

	ev := Event{
		Category:  category,
		Resource:  string(rec.Key),
		Timestamp: rec.Timestamp,
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	s.mu.RLock()
	handlers := make([]Handler, 0, len(s.subs[category]))
	for _, h := range s.subs[category] {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Close stops the poll loop and releases the client.
func (s *KafkaSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.client.Close()
	s.wg.Wait()
	return nil
}
