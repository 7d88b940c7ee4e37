package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"irisserve/serving"
)

// MetricType 指标类型
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// 服务指标名
const (
	MetricPredictions      = "predictions_total"
	MetricPredictionErrors = "prediction_errors_total"
	MetricPredictLatency   = "predict_latency_ms"
	MetricModelLoads       = "model_loads_total"
	MetricModelLoaded      = "model_loaded"
	MetricModelLoadTime    = "model_load_duration_ms"
	MetricArtifactChanges  = "artifact_changes_total"
	MetricHeapAlloc        = "memory_heap_alloc"
	MetricGoroutines       = "system_goroutines"
)

const maxSamplesPerSeries = 1000

// Metric 指标
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Help      string            `json:"help,omitempty"`
}

// Summary 指标摘要
type Summary struct {
	Name    string     `json:"name"`
	Type    MetricType `json:"type"`
	Count   int        `json:"count"`
	Latest  float64    `json:"latest"`
	Min     float64    `json:"min"`
	Max     float64    `json:"max"`
	Average float64    `json:"average"`
	Updated time.Time  `json:"updated"`
}

// Snapshot is the JSON body of GET /metrics.
type Snapshot struct {
	Uptime    string                 `json:"uptime"`
	Series    map[string]Summary     `json:"series"`
	System    map[string]interface{} `json:"system"`
	Validator interface{}            `json:"validator,omitempty"`
}

// MetricsCollector 指标收集器. Series are keyed by name plus sorted labels.
type MetricsCollector struct {
	metrics     map[string][]*Metric
	counters    map[string]float64
	metricsLock sync.RWMutex

	startTime time.Time
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics:   make(map[string][]*Metric),
		counters:  make(map[string]float64),
		startTime: time.Now(),
	}
}

// RecordMetric 记录指标
func (mc *MetricsCollector) RecordMetric(metric *Metric) {
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()
	mc.recordLocked(metric)
}

func (mc *MetricsCollector) recordLocked(metric *Metric) {
	metric.Timestamp = time.Now()
	key := seriesKey(metric.Name, metric.Labels)
	series := append(mc.metrics[key], metric)
	// 保留最近的样本
	if len(series) > maxSamplesPerSeries {
		series = series[len(series)-maxSamplesPerSeries:]
	}
	mc.metrics[key] = series
}

// IncrCounter 增加计数器, 记录累计值
func (mc *MetricsCollector) IncrCounter(name string, value float64, labels map[string]string) {
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()
	key := seriesKey(name, labels)
	mc.counters[key] += value
	mc.recordLocked(&Metric{
		Name:   name,
		Type:   MetricTypeCounter,
		Value:  mc.counters[key],
		Labels: labels,
	})
}

// SetGauge 设置仪表
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.RecordMetric(&Metric{
		Name:   name,
		Type:   MetricTypeGauge,
		Value:  value,
		Labels: labels,
	})
}

// RecordHistogram 记录直方图原始值
func (mc *MetricsCollector) RecordHistogram(name string, value float64, labels map[string]string) {
	mc.RecordMetric(&Metric{
		Name:   name,
		Type:   MetricTypeHistogram,
		Value:  value,
		Labels: labels,
	})
}

// Counter returns the running total of a counter series.
func (mc *MetricsCollector) Counter(name string, labels map[string]string) float64 {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()
	return mc.counters[seriesKey(name, labels)]
}

// GetMetric 获取指标
func (mc *MetricsCollector) GetMetric(name string, labels map[string]string) ([]*Metric, error) {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()

	metrics, ok := mc.metrics[seriesKey(name, labels)]
	if !ok {
		return nil, fmt.Errorf("metric %s not found", seriesKey(name, labels))
	}
	result := make([]*Metric, len(metrics))
	for i, m := range metrics {
		metricCopy := *m
		result[i] = &metricCopy
	}
	return result, nil
}

// GetMetricSummary 获取指标摘要
func (mc *MetricsCollector) GetMetricSummary(name string, labels map[string]string) (Summary, error) {
	metrics, err := mc.GetMetric(name, labels)
	if err != nil {
		return Summary{}, err
	}
	return summarize(seriesKey(name, labels), metrics), nil
}

func summarize(key string, metrics []*Metric) Summary {
	summary := Summary{Name: key, Count: len(metrics)}
	if len(metrics) == 0 {
		return summary
	}
	last := metrics[len(metrics)-1]
	summary.Type = last.Type
	summary.Latest = last.Value
	summary.Updated = last.Timestamp
	summary.Min = metrics[0].Value
	summary.Max = metrics[0].Value
	sum := 0.0
	for _, m := range metrics {
		sum += m.Value
		if m.Value < summary.Min {
			summary.Min = m.Value
		}
		if m.Value > summary.Max {
			summary.Max = m.Value
		}
	}
	summary.Average = sum / float64(len(metrics))
	return summary
}

// Snapshot 汇总全部序列
func (mc *MetricsCollector) Snapshot() Snapshot {
	mc.metricsLock.RLock()
	series := make(map[string]Summary, len(mc.metrics))
	for key, metrics := range mc.metrics {
		series[key] = summarize(key, metrics)
	}
	mc.metricsLock.RUnlock()

	return Snapshot{
		Uptime: mc.GetUptime().String(),
		Series: series,
		System: mc.GetSystemStats(),
	}
}

// ExportPrometheus 导出Prometheus文本格式, 每个序列输出最新值
func (mc *MetricsCollector) ExportPrometheus() string {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()

	keys := make([]string, 0, len(mc.metrics))
	for key := range mc.metrics {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	described := make(map[string]bool)
	for _, key := range keys {
		series := mc.metrics[key]
		if len(series) == 0 {
			continue
		}
		metric := series[len(series)-1]
		if !described[metric.Name] {
			help := metric.Help
			if help == "" {
				help = fmt.Sprintf("Metric %s", metric.Name)
			}
			promType := metric.Type
			if promType == MetricTypeHistogram {
				promType = MetricTypeGauge
			}
			fmt.Fprintf(&b, "# HELP %s %s\n", metric.Name, help)
			fmt.Fprintf(&b, "# TYPE %s %s\n", metric.Name, promType)
			described[metric.Name] = true
		}
		fmt.Fprintf(&b, "%s %g\n", key, metric.Value)
	}
	return b.String()
}

// GetUptime 获取运行时间
func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}

// GetSystemStats 获取系统统计
func (mc *MetricsCollector) GetSystemStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc":      m.Alloc,
			"sys":        m.Sys,
			"heap_alloc": m.HeapAlloc,
			"heap_inuse": m.HeapInuse,
			"gc_count":   m.NumGC,
		},
		"num_cpu": runtime.NumCPU(),
	}
}

// CollectSystemMetrics samples runtime gauges every interval until ctx ends.
func (mc *MetricsCollector) CollectSystemMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			mc.SetGauge(MetricHeapAlloc, float64(m.HeapAlloc), nil)
			mc.SetGauge(MetricGoroutines, float64(runtime.NumGoroutine()), nil)
		}
	}
}

// RecordPrediction 记录一次成功预测
func (mc *MetricsCollector) RecordPrediction(species string, latency time.Duration) {
	mc.IncrCounter(MetricPredictions, 1, map[string]string{"species": species})
	mc.RecordHistogram(MetricPredictLatency, float64(latency.Microseconds())/1000, nil)
}

// RecordPredictionError 记录一次失败请求, kind 为 validation/model_unavailable/inference
func (mc *MetricsCollector) RecordPredictionError(kind string) {
	mc.IncrCounter(MetricPredictionErrors, 1, map[string]string{"kind": kind})
}

// RecordArtifactChange 记录模型文件变更
func (mc *MetricsCollector) RecordArtifactChange(path, op string) {
	mc.IncrCounter(MetricArtifactChanges, 1, nil)
}

// OnModelState implements serving.LoadObserver.
func (mc *MetricsCollector) OnModelState(event serving.LoadEvent) {
	switch event.State {
	case serving.StateReady:
		mc.IncrCounter(MetricModelLoads, 1, map[string]string{"result": "ready"})
		mc.SetGauge(MetricModelLoaded, 1, nil)
		mc.RecordHistogram(MetricModelLoadTime, float64(event.Duration.Microseconds())/1000, nil)
	case serving.StateFailed:
		mc.IncrCounter(MetricModelLoads, 1, map[string]string{"result": "failed"})
		mc.SetGauge(MetricModelLoaded, 0, nil)
		mc.RecordHistogram(MetricModelLoadTime, float64(event.Duration.Microseconds())/1000, nil)
	}
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return fmt.Sprintf("%s{%s}", name, strings.Join(parts, ","))
}
