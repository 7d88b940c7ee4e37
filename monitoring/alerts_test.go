package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"irisserve/serving"
)

func TestAlertOnFailedLoad(t *testing.T) {
	alerts := NewAlertSystem(AlertConfig{}, nil, nil)

	alerts.OnModelState(serving.LoadEvent{State: serving.StateLoading, Path: "model/model.json"})
	alerts.OnModelState(serving.LoadEvent{State: serving.StateReady, Path: "model/model.json"})
	if len(alerts.GetActiveAlerts()) != 0 {
		t.Fatalf("expected no alerts for a successful load")
	}

	alerts.OnModelState(serving.LoadEvent{State: serving.StateFailed, Path: "model/model.json", Attempts: 3, Err: errors.New("not found")})
	active := alerts.GetActiveAlerts()
	if len(active) != 1 {
		t.Fatalf("expected 1 active alert, got %d", len(active))
	}
	if active[0].Key != AlertModelLoadFailed || active[0].Level != Critical || active[0].Message != "not found" {
		t.Fatalf("unexpected alert %+v", active[0])
	}
	if active[0].ID == "" {
		t.Fatalf("alert id not assigned")
	}
}

func TestAlertCooldownAndResolve(t *testing.T) {
	alerts := NewAlertSystem(AlertConfig{Cooldown: time.Hour}, nil, nil)

	alerts.OnArtifactChange("/models/model.json", "WRITE")
	alerts.OnArtifactChange("/models/model.json", "WRITE")
	stats := alerts.GetStats()
	if stats.TotalAlerts != 1 || stats.Suppressed != 1 || stats.ActiveAlerts != 1 {
		t.Fatalf("expected repeat to be suppressed, got %+v", stats)
	}

	if !alerts.ResolveAlert(AlertArtifactModified) {
		t.Fatalf("expected alert to resolve")
	}
	if alerts.ResolveAlert(AlertArtifactModified) {
		t.Fatalf("resolving twice should report false")
	}
	alerts.OnArtifactChange("/models/model.json", "CREATE")

	stats = alerts.GetStats()
	if stats.TotalAlerts != 2 || stats.ResolvedAlerts != 1 || stats.ActiveAlerts != 1 {
		t.Fatalf("unexpected stats after resolve %+v", stats)
	}
	history := alerts.GetAlertHistory(10)
	if len(history) != 2 || !history[0].Resolved || history[1].Resolved {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestAlertRejectsInvalid(t *testing.T) {
	alerts := NewAlertSystem(AlertConfig{}, nil, nil)
	if err := alerts.SendAlert(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil alert")
	}
	if err := alerts.SendAlert(context.Background(), &Alert{Title: "no key"}); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func TestAlertWebhookDelivery(t *testing.T) {
	var mu sync.Mutex
	var received []Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, alert)
		mu.Unlock()
	}))
	defer srv.Close()

	alerts := NewAlertSystem(AlertConfig{WebhookURL: srv.URL}, nil, nil)
	alerts.OnModelState(serving.LoadEvent{State: serving.StateFailed, Path: "model/model.json", Err: errors.New("corrupt")})
	alerts.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].Key != AlertModelLoadFailed {
		t.Fatalf("unexpected webhook payloads %+v", received)
	}
	if stats := alerts.GetStats(); stats.Delivered != 1 || stats.DeliveryErrors != 0 {
		t.Fatalf("unexpected delivery stats %+v", stats)
	}
}

func TestAlertWebhookFailureCounted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	alerts := NewAlertSystem(AlertConfig{WebhookURL: srv.URL}, nil, nil)
	alerts.OnArtifactChange("/models/model.json", "REMOVE")
	alerts.Flush()

	if stats := alerts.GetStats(); stats.DeliveryErrors != 1 {
		t.Fatalf("expected delivery error to be counted, got %+v", stats)
	}
}
