package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/cache"
	"github.com/NeuralTrust/TrustShield/pkg/common"
	"github.com/NeuralTrust/TrustShield/pkg/domain/security"
	"github.com/NeuralTrust/TrustShield/pkg/infra/prometheus"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	eventKeyPrefix  = "security:events:"
	recentEventsKey = "security:events:recent"

	MaxRecentEvents  = 1000
	DefaultQueueSize = 1000
	DefaultWorkers   = 4
)

// Learner receives every persisted event. The threat detector uses it to
// build per-IP history.
type Learner interface {
	Learn(ctx context.Context, event security.Event) error
}

type Stats struct {
	Total      int                        `json:"total"`
	ByType     map[security.EventType]int `json:"by_type"`
	BySeverity map[security.Severity]int  `json:"by_severity"`
}

type ServiceDI struct {
	Store        cache.Store
	Learner      Learner
	Logger       *logrus.Logger
	QueueSize    int
	TimeProvider func() time.Time
}

// Service logs security events and persists them asynchronously.
type Service struct {
	store   cache.Store
	learner Learner
	logger  *logrus.Logger
	now     func() time.Time

	taskChan chan func(context.Context)
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  atomic.Bool
	closed   atomic.Bool
}

func NewService(di ServiceDI) *Service {
	queueSize := di.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	now := di.TimeProvider
	if now == nil {
		now = time.Now
	}
	logger := di.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:    di.Store,
		learner:  di.Learner,
		logger:   logger,
		now:      now,
		taskChan: make(chan func(context.Context), queueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Service) StartWorkers(n int) {
	if n <= 0 {
		n = DefaultWorkers
	}
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < n; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case task := <-s.taskChan:
					task(s.ctx)
				case <-s.ctx.Done():
					return
				}
			}
		}()
	}
}

// Shutdown stops the workers. Events still queued are dropped.
func (s *Service) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Service) enqueueTask(task func(context.Context)) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.taskChan <- task:
		return true
	default:
		s.logger.Warn("event queue is full, dropping security event")
		return false
	}
}

func (s *Service) Log(
	ctx context.Context,
	eventType security.EventType,
	severity security.Severity,
	details map[string]interface{},
	resolution *security.Resolution,
) {
	event := security.Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Severity:   severity,
		Timestamp:  s.now().UTC(),
		Details:    details,
		Resolution: resolution,
	}
	if sc := security.FromContext(ctx); sc != nil {
		event.IP = sc.IP
		event.UserID = sc.UserID
		event.UserAgent = sc.UserAgent
		event.Path = sc.Path
		event.Method = sc.Method
	}

	fields := logrus.Fields{
		"event_id": event.ID,
		"type":     event.Type,
		"severity": event.Severity,
		"ip":       event.IP,
		"path":     event.Path,
	}
	if resolution != nil {
		fields["action"] = resolution.Action
		fields["reason"] = resolution.Reason
	}
	s.logger.WithFields(fields).Log(levelFor(severity), "security event")

	prometheus.SecurityEventsTotal.WithLabelValues(string(eventType), string(severity)).Inc()

	s.enqueueTask(func(ctx context.Context) {
		s.persist(ctx, event)
	})
}

func (s *Service) persist(ctx context.Context, event security.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.WithError(err).Warn("failed to encode security event")
		return
	}
	if err := s.store.Set(ctx, eventKeyPrefix+event.ID, string(payload), common.SecurityEventTTL); err != nil {
		s.logger.WithError(err).WithField("event_id", event.ID).Warn("failed to store security event")
		return
	}
	err = s.store.PushCapped(ctx, recentEventsKey, event.ID, MaxRecentEvents, common.SecurityEventTTL)
	if err != nil {
		s.logger.WithError(err).WithField("event_id", event.ID).Warn("failed to index security event")
	}
	if s.learner != nil {
		if err := s.learner.Learn(ctx, event); err != nil {
			s.logger.WithError(err).WithField("event_id", event.ID).Warn("failed to learn from security event")
		}
	}
}

// Recent returns up to limit events, newest first. Expired events are
// skipped.
func (s *Service) Recent(ctx context.Context, limit int) ([]security.Event, error) {
	ids, err := s.store.Range(ctx, recentEventsKey, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read recent events: %w", err)
	}
	events := make([]security.Event, 0, len(ids))
	for _, id := range ids {
		event, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, cache.ErrNotFound) {
				continue
			}
			return nil, err
		}
		events = append(events, *event)
	}
	return events, nil
}

func (s *Service) Get(ctx context.Context, id string) (*security.Event, error) {
	raw, err := s.store.Get(ctx, eventKeyPrefix+id)
	if err != nil {
		return nil, err
	}
	var event security.Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return nil, fmt.Errorf("failed to decode event %s: %w", id, err)
	}
	return &event, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	events, err := s.Recent(ctx, MaxRecentEvents)
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		Total:      len(events),
		ByType:     make(map[security.EventType]int),
		BySeverity: make(map[security.Severity]int),
	}
	for _, event := range events {
		stats.ByType[event.Type]++
		stats.BySeverity[event.Severity]++
	}
	return stats, nil
}

func levelFor(severity security.Severity) logrus.Level {
	switch severity {
	case security.SeverityCritical:
		return logrus.ErrorLevel
	case security.SeverityHigh, security.SeverityMedium:
		return logrus.WarnLevel
	case security.SeverityLow:
		return logrus.InfoLevel
	default:
		return logrus.InfoLevel
	}
}
