package observer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// FitEvent represents a fitting lifecycle event
type FitEvent struct {
	EventType    EventType              `json:"event_type"`
	Timestamp    time.Time              `json:"timestamp"`
	ShotID       string                 `json:"shot_id"`
	FitName      string                 `json:"fit_name,omitempty"`
	Duration     time.Duration          `json:"duration"`
	Success      bool                   `json:"success"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of fit event
type EventType string

const (
	// FitStarted when fitting of a shot begins
	FitStarted EventType = "fit_started"
	// FitCompleted when one named fit finishes
	FitCompleted EventType = "fit_completed"
	// FitFailed when one named fit fails
	FitFailed EventType = "fit_failed"
	// ShotFailed when a shot cannot be fitted or reported as a whole
	ShotFailed EventType = "shot_failed"
	// ResultsAvailable when a shot's report has been persisted
	ResultsAvailable EventType = "results_available"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event FitEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event FitEvent)
}

// LoggingObserver logs fit events
type LoggingObserver struct {
	logger *logrus.Logger
}

func NewLoggingObserver(logger *logrus.Logger) *LoggingObserver {
	return &LoggingObserver{logger: logger}
}

func (o *LoggingObserver) OnEvent(ctx context.Context, event FitEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"shot_id":    event.ShotID,
		"duration":   event.Duration,
		"success":    event.Success,
	}
	if event.FitName != "" {
		fields["fit"] = event.FitName
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case FitStarted:
		entry.Info("Shot fitting started")
	case FitCompleted:
		entry.Debug("Fit completed")
	case FitFailed:
		entry.Error("Fit failed")
	case ShotFailed:
		entry.Error("Shot fitting failed")
	case ResultsAvailable:
		entry.Info("Fit results available")
	default:
		entry.Info("Fit event occurred")
	}
}

func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver counts fit events
type MetricsObserver struct {
	mu            sync.RWMutex
	shotsStarted  int64
	fitsCompleted int64
	fitsFailed    int64
	shotsFailed   int64
	published     int64
	totalFitTime  time.Duration
}

func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

func (o *MetricsObserver) OnEvent(ctx context.Context, event FitEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case FitStarted:
		o.shotsStarted++
	case FitCompleted:
		o.fitsCompleted++
		o.totalFitTime += event.Duration
	case FitFailed:
		o.fitsFailed++
	case ShotFailed:
		o.shotsFailed++
	case ResultsAvailable:
		o.published++
	}
}

func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avg := time.Duration(0)
	if o.fitsCompleted > 0 {
		avg = o.totalFitTime / time.Duration(o.fitsCompleted)
	}

	return map[string]interface{}{
		"shots_started":     o.shotsStarted,
		"fits_completed":    o.fitsCompleted,
		"fits_failed":       o.fitsFailed,
		"shots_failed":      o.shotsFailed,
		"results_published": o.published,
		"total_fit_time":    o.totalFitTime.String(),
		"avg_fit_time":      avg.String(),
	}
}

// ChannelObserver forwards ResultsAvailable events to a caller-owned
// bounded channel. When the channel is full the event is dropped and
// counted instead of blocking the publisher.
type ChannelObserver struct {
	ch      chan<- FitEvent
	dropped atomic.Int64
}

func NewChannelObserver(ch chan<- FitEvent) *ChannelObserver {
	return &ChannelObserver{ch: ch}
}

func (o *ChannelObserver) OnEvent(ctx context.Context, event FitEvent) {
	if event.EventType != ResultsAvailable {
		return
	}
	select {
	case o.ch <- event:
	default:
		o.dropped.Add(1)
		logrus.WithField("shot_id", event.ShotID).Warn("Result notification dropped, consumer is behind")
	}
}

func (o *ChannelObserver) GetObserverName() string {
	return "channel_observer"
}

// Dropped returns the number of notifications lost to back-pressure
func (o *ChannelObserver) Dropped() int64 {
	return o.dropped.Load()
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

func NewEventPublisher() *EventPublisher {
	return &EventPublisher{observers: make([]Observer, 0)}
}

func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes the first observer with the same name
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers delivers event to all observers concurrently and returns
// once each has handled it. A panicking observer does not affect the others.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event FitEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, observer := range observers {
		wg.Add(1)
		go func(obs Observer) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("observer", obs.GetObserverName()).
						WithField("panic", r).
						Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
	wg.Wait()
}
