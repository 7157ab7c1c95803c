package observer

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type panickyObserver struct{}

func (panickyObserver) OnEvent(ctx context.Context, event FitEvent) { panic("boom") }
func (panickyObserver) GetObserverName() string                     { return "panicky" }

func TestEventPublisher_MetricsAndPanics(t *testing.T) {
	ctx := context.Background()
	metrics := NewMetricsObserver()
	pub := NewEventPublisher()
	pub.Subscribe(panickyObserver{})
	pub.Subscribe(metrics)

	pub.NotifyObservers(ctx, FitEvent{EventType: FitStarted, ShotID: "2024_03_01_1"})
	pub.NotifyObservers(ctx, FitEvent{EventType: FitCompleted, FitName: "a", Duration: 2 * time.Second, Success: true})
	pub.NotifyObservers(ctx, FitEvent{EventType: FitCompleted, FitName: "b", Duration: 4 * time.Second, Success: true})
	pub.NotifyObservers(ctx, FitEvent{EventType: FitFailed, FitName: "c"})
	pub.NotifyObservers(ctx, FitEvent{EventType: ShotFailed, ShotID: "2024_03_01_1"})
	pub.NotifyObservers(ctx, FitEvent{EventType: ResultsAvailable})

	m := metrics.GetMetrics()
	if m["shots_started"] != int64(1) || m["fits_completed"] != int64(2) || m["fits_failed"] != int64(1) || m["shots_failed"] != int64(1) || m["results_published"] != int64(1) {
		t.Errorf("Unexpected counters %v", m)
	}
	if m["avg_fit_time"] != "3s" {
		t.Errorf("Expected 3s average, got %v", m["avg_fit_time"])
	}
}

func TestEventPublisher_Unsubscribe(t *testing.T) {
	metrics := NewMetricsObserver()
	pub := NewEventPublisher()
	pub.Subscribe(metrics)
	pub.Unsubscribe(metrics)
	pub.NotifyObservers(context.Background(), FitEvent{EventType: FitStarted})

	if metrics.GetMetrics()["shots_started"] != int64(0) {
		t.Error("Unsubscribed observer still received events")
	}
}

func TestChannelObserver_DropsWhenFull(t *testing.T) {
	ch := make(chan FitEvent, 2)
	obs := NewChannelObserver(ch)
	pub := NewEventPublisher()
	pub.Subscribe(obs)

	pub.NotifyObservers(context.Background(), FitEvent{EventType: FitCompleted, ShotID: "ignored"})
	for _, id := range []string{"2024_03_01_1", "2024_03_01_2", "2024_03_01_3"} {
		pub.NotifyObservers(context.Background(), FitEvent{EventType: ResultsAvailable, ShotID: id})
	}

	if len(ch) != 2 {
		t.Fatalf("Expected 2 queued notifications, got %d", len(ch))
	}
	if first := <-ch; first.ShotID != "2024_03_01_1" || first.Timestamp.IsZero() {
		t.Errorf("Unexpected first notification %+v", first)
	}
	if obs.Dropped() != 1 {
		t.Errorf("Expected 1 dropped notification, got %d", obs.Dropped())
	}
}

func TestLoggingObserver(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})

	NewLoggingObserver(log).OnEvent(context.Background(), FitEvent{
		EventType:    FitFailed,
		ShotID:       "2024_03_01_1",
		FitName:      "side",
		ErrorMessage: "missing parameter",
	})

	out := buf.String()
	for _, want := range []string{`"level":"error"`, `"fit":"side"`, `"error":"missing parameter"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in %s", want, out)
		}
	}
}
