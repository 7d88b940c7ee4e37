package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"irisserve/serving"
)

// AlertLevel 告警级别
type AlertLevel string

const (
	Info     AlertLevel = "info"
	Warning  AlertLevel = "warning"
	Critical AlertLevel = "critical"
)

// 告警键, 同一键同时只有一个活动告警
const (
	AlertModelLoadFailed  = "model_load_failed"
	AlertArtifactModified = "artifact_modified"
)

// Alert 告警结构
type Alert struct {
	ID         string                 `json:"id"`
	Key        string                 `json:"key"`
	Level      AlertLevel             `json:"level"`
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	Source     string                 `json:"source"`
	Timestamp  time.Time              `json:"timestamp"`
	Resolved   bool                   `json:"resolved"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// AlertStats 告警统计
type AlertStats struct {
	TotalAlerts    int64                `json:"total_alerts"`
	ActiveAlerts   int64                `json:"active_alerts"`
	ResolvedAlerts int64                `json:"resolved_alerts"`
	Suppressed     int64                `json:"suppressed"`
	Delivered      int64                `json:"delivered"`
	DeliveryErrors int64                `json:"delivery_errors"`
	ByLevel        map[AlertLevel]int64 `json:"by_level"`
	LastAlert      time.Time            `json:"last_alert"`
}

// AlertConfig 告警配置. An empty WebhookURL keeps alerts local.
type AlertConfig struct {
	WebhookURL string
	Cooldown   time.Duration
	Timeout    time.Duration
}

// AlertSystem 告警系统
type AlertSystem struct {
	mu       sync.RWMutex
	alerts   map[string]*Alert // 告警键 -> 活动告警
	history  []*Alert
	lastSent map[string]time.Time
	stats    AlertStats

	config     AlertConfig
	httpClient *http.Client
	logger     *zap.Logger
	events     *EventHub
	wg         sync.WaitGroup
}

const maxAlertHistory = 200

// NewAlertSystem 创建告警系统. events may be nil.
func NewAlertSystem(config AlertConfig, logger *zap.Logger, events *EventHub) *AlertSystem {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &AlertSystem{
		alerts:     make(map[string]*Alert),
		lastSent:   make(map[string]time.Time),
		stats:      AlertStats{ByLevel: make(map[AlertLevel]int64)},
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger.Named("alerts"),
		events:     events,
	}
}

// SendAlert 发送告警. Repeats of an active key within the cooldown are
// suppressed. Webhook delivery happens in the background.
func (a *AlertSystem) SendAlert(ctx context.Context, alert *Alert) error {
	if alert == nil {
		return errors.New("alert is nil")
	}
	if alert.Key == "" {
		return errors.New("alert key is required")
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	a.mu.Lock()
	if _, active := a.alerts[alert.Key]; active && a.config.Cooldown > 0 &&
		alert.Timestamp.Sub(a.lastSent[alert.Key]) < a.config.Cooldown {
		a.stats.Suppressed++
		a.mu.Unlock()
		return nil
	}
	if _, active := a.alerts[alert.Key]; !active {
		a.stats.ActiveAlerts++
	}
	a.alerts[alert.Key] = alert
	a.lastSent[alert.Key] = alert.Timestamp
	a.history = append(a.history, alert)
	if len(a.history) > maxAlertHistory {
		a.history = a.history[len(a.history)-maxAlertHistory:]
	}
	a.stats.TotalAlerts++
	a.stats.ByLevel[alert.Level]++
	a.stats.LastAlert = alert.Timestamp
	snapshot := *alert
	a.mu.Unlock()

	fields := []zap.Field{
		zap.String("key", alert.Key),
		zap.String("level", string(alert.Level)),
		zap.String("title", alert.Title),
		zap.String("message", alert.Message),
	}
	if alert.Level == Critical {
		a.logger.Error("alert raised", fields...)
	} else {
		a.logger.Warn("alert raised", fields...)
	}
	if a.events != nil {
		a.events.Publish(AlertEvent, snapshot)
	}

	if a.config.WebhookURL != "" {
		a.wg.Add(1)
		go a.deliver(context.WithoutCancel(ctx), snapshot)
	}
	return nil
}

func (a *AlertSystem) deliver(ctx context.Context, alert Alert) {
	defer a.wg.Done()
	err := a.sendWebhookRequest(ctx, alert)
	a.mu.Lock()
	if err != nil {
		a.stats.DeliveryErrors++
	} else {
		a.stats.Delivered++
	}
	a.mu.Unlock()
	if err != nil {
		a.logger.Warn("alert delivery failed", zap.String("key", alert.Key), zap.Error(err))
	}
}

// Flush waits for pending webhook deliveries.
func (a *AlertSystem) Flush() {
	a.wg.Wait()
}

// ResolveAlert 解决告警
func (a *AlertSystem) ResolveAlert(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	alert, ok := a.alerts[key]
	if !ok {
		return false
	}
	now := time.Now().UTC()
	alert.Resolved = true
	alert.ResolvedAt = &now
	delete(a.alerts, key)
	delete(a.lastSent, key)
	a.stats.ActiveAlerts--
	a.stats.ResolvedAlerts++
	a.logger.Info("alert resolved", zap.String("key", key))
	return true
}

// GetActiveAlerts 获取活动告警, 按时间排序
func (a *AlertSystem) GetActiveAlerts() []Alert {
	a.mu.RLock()
	defer a.mu.RUnlock()

	active := make([]Alert, 0, len(a.alerts))
	for _, alert := range a.alerts {
		active = append(active, *alert)
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].Timestamp.Before(active[j].Timestamp)
	})
	return active
}

// GetAlertHistory 获取最近的告警
func (a *AlertSystem) GetAlertHistory(limit int) []Alert {
	a.mu.RLock()
	defer a.mu.RUnlock()

	start := 0
	if limit > 0 && len(a.history) > limit {
		start = len(a.history) - limit
	}
	history := make([]Alert, 0, len(a.history)-start)
	for _, alert := range a.history[start:] {
		history = append(history, *alert)
	}
	return history
}

// GetStats 获取告警统计
func (a *AlertSystem) GetStats() AlertStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := a.stats
	stats.ByLevel = make(map[AlertLevel]int64, len(a.stats.ByLevel))
	for level, n := range a.stats.ByLevel {
		stats.ByLevel[level] = n
	}
	return stats
}

// OnModelState implements serving.LoadObserver. FAILED is terminal, so the
// critical alert stays active for the life of the process.
func (a *AlertSystem) OnModelState(event serving.LoadEvent) {
	if event.State == serving.StateFailed {
		msg := "model failed to load"
		if event.Err != nil {
			msg = event.Err.Error()
		}
		_ = a.SendAlert(context.Background(), &Alert{
			Key:     AlertModelLoadFailed,
			Level:   Critical,
			Title:   "Model load failed",
			Message: msg,
			Source:  "loader",
			Metadata: map[string]interface{}{
				"path":     event.Path,
				"attempts": event.Attempts,
			},
		})
	}
}

// OnArtifactChange raises a warning: the serving handle no longer matches
// the artifact on disk.
func (a *AlertSystem) OnArtifactChange(path, op string) {
	_ = a.SendAlert(context.Background(), &Alert{
		Key:     AlertArtifactModified,
		Level:   Warning,
		Title:   "Model artifact changed",
		Message: fmt.Sprintf("%s (%s); restart instances to serve the new model", path, op),
		Source:  "watcher",
		Metadata: map[string]interface{}{
			"path": path,
			"op":   op,
		},
	})
}

// sendWebhookRequest 发送Webhook请求
func (a *AlertSystem) sendWebhookRequest(ctx context.Context, alert Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}
