package logx

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PerformanceLogger tracks per-metric timing and error-rate statistics for
// repeated operations — used by pkg/evaluator to time its evaluation pass
// per (slot, apn) rather than for any one-off call.
type PerformanceLogger struct {
	logger       *Logger
	metrics      map[string]*PerformanceMetric
	metricsMutex sync.RWMutex
}

// PerformanceMetric tracks performance data for a specific operation.
type PerformanceMetric struct {
	Name          string        `json:"name"`
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	MinDuration   time.Duration `json:"min_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastExecuted  time.Time     `json:"last_executed"`
	ErrorCount    int64         `json:"error_count"`
	SuccessRate   float64       `json:"success_rate"`
	ConcurrentOps int64         `json:"concurrent_ops"`
	MaxConcurrent int64         `json:"max_concurrent"`
}

// PerformanceContext tracks one in-flight operation started by StartOperation.
type PerformanceContext struct {
	metricName string
	startTime  time.Time
	logger     *PerformanceLogger
	ctx        context.Context
}

// NewPerformanceLogger creates a new performance logger.
func NewPerformanceLogger(logger *Logger) *PerformanceLogger {
	return &PerformanceLogger{
		logger:  logger,
		metrics: make(map[string]*PerformanceMetric),
	}
}

// StartOperation starts tracking a performance operation.
func (pl *PerformanceLogger) StartOperation(ctx context.Context, metricName string) *PerformanceContext {
	pl.metricsMutex.Lock()
	defer pl.metricsMutex.Unlock()

	metric, exists := pl.metrics[metricName]
	if !exists {
		metric = &PerformanceMetric{
			Name:         metricName,
			MinDuration:  time.Hour, // start with a high value
			LastExecuted: time.Now(),
		}
		pl.metrics[metricName] = metric
	}

	metric.ConcurrentOps++
	if metric.ConcurrentOps > metric.MaxConcurrent {
		metric.MaxConcurrent = metric.ConcurrentOps
	}

	return &PerformanceContext{
		metricName: metricName,
		startTime:  time.Now(),
		logger:     pl,
		ctx:        ctx,
	}
}

// Complete marks an operation as completed and logs performance data.
func (pc *PerformanceContext) Complete(err error) {
	duration := time.Since(pc.startTime)

	pc.logger.metricsMutex.Lock()
	defer pc.logger.metricsMutex.Unlock()

	metric := pc.logger.metrics[pc.metricName]
	metric.Count++
	metric.TotalDuration += duration
	metric.LastExecuted = time.Now()
	metric.ConcurrentOps--

	if duration < metric.MinDuration {
		metric.MinDuration = duration
	}
	if duration > metric.MaxDuration {
		metric.MaxDuration = duration
	}
	metric.AvgDuration = metric.TotalDuration / time.Duration(metric.Count)

	if err != nil {
		metric.ErrorCount++
		metric.SuccessRate = float64(metric.Count-metric.ErrorCount) / float64(metric.Count) * 100

		pc.logger.logger.Error("Performance operation failed",
			"metric", pc.metricName,
			"duration", duration.String(),
			"error", err.Error(),
			"success_rate", fmt.Sprintf("%.2f%%", metric.SuccessRate),
		)
		return
	}

	metric.SuccessRate = float64(metric.Count-metric.ErrorCount) / float64(metric.Count) * 100
	if duration > 100*time.Millisecond || metric.Count%100 == 0 {
		pc.logger.logger.Info("Performance operation completed",
			"metric", pc.metricName,
			"duration", duration.String(),
			"avg_duration", metric.AvgDuration.String(),
			"success_rate", fmt.Sprintf("%.2f%%", metric.SuccessRate),
			"total_operations", metric.Count,
		)
	}
}

// LogMetrics logs all current performance metrics.
func (pl *PerformanceLogger) LogMetrics() {
	pl.metricsMutex.RLock()
	defer pl.metricsMutex.RUnlock()

	for name, metric := range pl.metrics {
		pl.logger.Info("Performance metric summary",
			"metric", name,
			"total_operations", metric.Count,
			"avg_duration", metric.AvgDuration.String(),
			"min_duration", metric.MinDuration.String(),
			"max_duration", metric.MaxDuration.String(),
			"success_rate", fmt.Sprintf("%.2f%%", metric.SuccessRate),
			"error_count", metric.ErrorCount,
			"max_concurrent", metric.MaxConcurrent,
			"last_executed", metric.LastExecuted.Format(time.RFC3339),
		)
	}
}

// GetMetric returns a copy of a specific performance metric.
func (pl *PerformanceLogger) GetMetric(name string) *PerformanceMetric {
	pl.metricsMutex.RLock()
	defer pl.metricsMutex.RUnlock()

	metric, exists := pl.metrics[name]
	if !exists {
		return nil
	}
	cp := *metric
	return &cp
}

// GetAllMetrics returns a copy of every tracked performance metric.
func (pl *PerformanceLogger) GetAllMetrics() map[string]*PerformanceMetric {
	pl.metricsMutex.RLock()
	defer pl.metricsMutex.RUnlock()

	result := make(map[string]*PerformanceMetric, len(pl.metrics))
	for name, metric := range pl.metrics {
		cp := *metric
		result[name] = &cp
	}
	return result
}

// ResetMetrics clears every tracked metric.
func (pl *PerformanceLogger) ResetMetrics() {
	pl.metricsMutex.Lock()
	defer pl.metricsMutex.Unlock()

	pl.metrics = make(map[string]*PerformanceMetric)
	pl.logger.Info("Performance metrics reset")
}

// LogSlowOperations logs every metric whose average duration exceeds threshold.
func (pl *PerformanceLogger) LogSlowOperations(threshold time.Duration) {
	pl.metricsMutex.RLock()
	defer pl.metricsMutex.RUnlock()

	for name, metric := range pl.metrics {
		if metric.AvgDuration > threshold {
			pl.logger.Warn("Slow operation detected",
				"metric", name,
				"avg_duration", metric.AvgDuration.String(),
				"threshold", threshold.String(),
				"total_operations", metric.Count,
				"max_duration", metric.MaxDuration.String(),
			)
		}
	}
}

// LogHighErrorRates logs every metric whose success rate has fallen below threshold.
func (pl *PerformanceLogger) LogHighErrorRates(threshold float64) {
	pl.metricsMutex.RLock()
	defer pl.metricsMutex.RUnlock()

	for name, metric := range pl.metrics {
		if metric.SuccessRate < threshold && metric.Count > 10 {
			pl.logger.Error("High error rate detected",
				"metric", name,
				"success_rate", fmt.Sprintf("%.2f%%", metric.SuccessRate),
				"threshold", fmt.Sprintf("%.2f%%", threshold),
				"error_count", metric.ErrorCount,
				"total_operations", metric.Count,
			)
		}
	}
}
