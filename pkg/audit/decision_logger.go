package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qns-project/qns-core/pkg"
	"github.com/qns-project/qns-core/pkg/logx"
)

// DecisionRecord is a single entry in the QNS decision trail: one publish,
// handover, fallback, or restriction arm/release emitted by an Evaluator.
type DecisionRecord struct {
	Timestamp     time.Time                `json:"timestamp"`
	DecisionID    string                   `json:"decision_id"`
	DecisionType  string                   `json:"decision_type"` // publish, handover, fallback, restrict_armed, restrict_released
	Slot          int                      `json:"slot"`
	Apn           pkg.ApnKind              `json:"apn"`
	Trigger       string                   `json:"trigger"` // the InboxEvent kind that caused re-evaluation
	FromNetworks  []pkg.AccessNetworkKind  `json:"from_networks,omitempty"`
	ToNetworks    []pkg.AccessNetworkKind  `json:"to_networks,omitempty"`
	Reasoning     string                   `json:"reasoning"`
	PreCondition  *pkg.PreCondition        `json:"pre_condition,omitempty"`
	Restriction   *pkg.RestrictType        `json:"restriction,omitempty"`
	Transport     *pkg.TransportKind       `json:"transport,omitempty"`
	Context       map[string]interface{}   `json:"context"`
	RootCause     string                   `json:"root_cause,omitempty"`
	ExecutionTime time.Duration            `json:"execution_time"`
	Success       bool                     `json:"success"`
	Error         string                   `json:"error,omitempty"`
}

// DecisionLogger manages the audit trail for a slot's QNS decisions.
type DecisionLogger struct {
	logger     *logx.Logger
	mu         sync.RWMutex
	records    []*DecisionRecord
	maxRecords int
	logFile    string
	csvFile    string
	enabled    bool
}

// NewDecisionLogger creates a new decision logger instance.
func NewDecisionLogger(logger *logx.Logger, maxRecords int, logDir string) *DecisionLogger {
	if maxRecords <= 0 {
		maxRecords = 1000
	}
	if logDir == "" {
		logDir = "/var/log/qnsd"
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		logger.Error("failed to create audit log directory", "error", err, "path", logDir)
	}

	return &DecisionLogger{
		logger:     logger,
		records:    make([]*DecisionRecord, 0, maxRecords),
		maxRecords: maxRecords,
		logFile:    filepath.Join(logDir, "decision_audit.log"),
		csvFile:    filepath.Join(logDir, "decision_audit.csv"),
		enabled:    true,
	}
}

// NewDecisionID generates a decision ID for a new DecisionRecord.
func NewDecisionID() string {
	return uuid.New().String()
}

// LogDecision records a decision in the audit trail.
func (dl *DecisionLogger) LogDecision(ctx context.Context, record *DecisionRecord) error {
	if !dl.enabled {
		return nil
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.records = append(dl.records, record)
	if len(dl.records) > dl.maxRecords {
		dl.records = dl.records[len(dl.records)-dl.maxRecords:]
	}

	if err := dl.writeToLogFile(record); err != nil {
		dl.logger.Error("failed to write decision to log file", "error", err, "decision_id", record.DecisionID)
	}
	if err := dl.writeToCSV(record); err != nil {
		dl.logger.Error("failed to write decision to CSV", "error", err, "decision_id", record.DecisionID)
	}

	dl.logger.Info("decision recorded",
		"decision_id", record.DecisionID,
		"type", record.DecisionType,
		"slot", record.Slot,
		"apn", record.Apn.String(),
		"trigger", record.Trigger,
		"success", record.Success,
		"execution_time", record.ExecutionTime,
	)

	return nil
}

// GetRecentDecisions returns recent decisions within the specified time window.
func (dl *DecisionLogger) GetRecentDecisions(since time.Time, limit int) []*DecisionRecord {
	dl.mu.RLock()
	defer dl.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var recent []*DecisionRecord
	count := 0
	for i := len(dl.records) - 1; i >= 0 && count < limit; i-- {
		record := dl.records[i]
		if record.Timestamp.After(since) {
			recent = append([]*DecisionRecord{record}, recent...)
			count++
		}
	}
	return recent
}

// GetDecisionsByType returns decisions of a specific type.
func (dl *DecisionLogger) GetDecisionsByType(decisionType string, limit int) []*DecisionRecord {
	dl.mu.RLock()
	defer dl.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var filtered []*DecisionRecord
	count := 0
	for i := len(dl.records) - 1; i >= 0 && count < limit; i-- {
		record := dl.records[i]
		if record.DecisionType == decisionType {
			filtered = append([]*DecisionRecord{record}, filtered...)
			count++
		}
	}
	return filtered
}

// GetDecisionByID returns a specific decision by ID.
func (dl *DecisionLogger) GetDecisionByID(decisionID string) *DecisionRecord {
	dl.mu.RLock()
	defer dl.mu.RUnlock()

	for _, record := range dl.records {
		if record.DecisionID == decisionID {
			return record
		}
	}
	return nil
}

// GetDecisionStats returns statistics about decisions recorded since the
// given time.
func (dl *DecisionLogger) GetDecisionStats(since time.Time) *DecisionStats {
	dl.mu.RLock()
	defer dl.mu.RUnlock()

	stats := &DecisionStats{
		DecisionTypes: make(map[string]int),
		Triggers:      make(map[string]int),
		RootCauses:    make(map[string]int),
	}

	var totalExecutionTime time.Duration
	validDecisions := 0

	for _, record := range dl.records {
		if record.Timestamp.After(since) {
			stats.TotalDecisions++
			if record.Success {
				stats.SuccessfulDecisions++
			} else {
				stats.FailedDecisions++
			}
			stats.DecisionTypes[record.DecisionType]++
			stats.Triggers[record.Trigger]++
			if record.RootCause != "" {
				stats.RootCauses[record.RootCause]++
			}
			totalExecutionTime += record.ExecutionTime
			validDecisions++
		}
	}

	if validDecisions > 0 {
		stats.AverageExecutionTime = totalExecutionTime / time.Duration(validDecisions)
	}
	return stats
}

// DecisionStats summarizes decisions recorded over a time window.
type DecisionStats struct {
	TotalDecisions       int            `json:"total_decisions"`
	SuccessfulDecisions  int            `json:"successful_decisions"`
	FailedDecisions      int            `json:"failed_decisions"`
	AverageExecutionTime time.Duration  `json:"average_execution_time"`
	DecisionTypes        map[string]int `json:"decision_types"`
	Triggers             map[string]int `json:"triggers"`
	RootCauses           map[string]int `json:"root_causes"`
}

func (dl *DecisionLogger) writeToLogFile(record *DecisionRecord) error {
	file, err := os.OpenFile(dl.logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	logEntry := fmt.Sprintf("[%s] %s | slot=%d apn=%s | %s | %s | %v | %v\n",
		record.Timestamp.Format(time.RFC3339),
		record.DecisionID,
		record.Slot,
		record.Apn.String(),
		record.DecisionType,
		record.Trigger,
		record.Success,
		record.ExecutionTime,
	)

	_, err = file.WriteString(logEntry)
	return err
}

func (dl *DecisionLogger) writeToCSV(record *DecisionRecord) error {
	if _, err := os.Stat(dl.csvFile); os.IsNotExist(err) {
		if err := dl.createCSVHeader(); err != nil {
			return err
		}
	}

	file, err := os.OpenFile(dl.csvFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	row := []string{
		record.Timestamp.Format(time.RFC3339),
		record.DecisionID,
		fmt.Sprintf("%d", record.Slot),
		record.Apn.String(),
		record.DecisionType,
		record.Trigger,
		fmt.Sprintf("%v", record.Success),
		record.ExecutionTime.String(),
		networksString(record.FromNetworks),
		networksString(record.ToNetworks),
		record.Reasoning,
		record.RootCause,
		record.Error,
	}

	return writer.Write(row)
}

func networksString(nets []pkg.AccessNetworkKind) string {
	out := ""
	for i, n := range nets {
		if i > 0 {
			out += "|"
		}
		out += n.String()
	}
	return out
}

func (dl *DecisionLogger) createCSVHeader() error {
	file, err := os.Create(dl.csvFile)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	headers := []string{
		"Timestamp", "DecisionID", "Slot", "Apn", "DecisionType", "Trigger",
		"Success", "ExecutionTime", "FromNetworks", "ToNetworks",
		"Reasoning", "RootCause", "Error",
	}
	return writer.Write(headers)
}

func (dl *DecisionLogger) Enable() {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	dl.enabled = true
	dl.logger.Info("decision audit logging enabled")
}

func (dl *DecisionLogger) Disable() {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	dl.enabled = false
	dl.logger.Info("decision audit logging disabled")
}

func (dl *DecisionLogger) IsEnabled() bool {
	dl.mu.RLock()
	defer dl.mu.RUnlock()
	return dl.enabled
}

// Clear clears all stored decisions.
func (dl *DecisionLogger) Clear() {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	dl.records = make([]*DecisionRecord, 0, dl.maxRecords)
	dl.logger.Info("decision audit trail cleared")
}

// GetRecordCount returns the current number of stored records.
func (dl *DecisionLogger) GetRecordCount() int {
	dl.mu.RLock()
	defer dl.mu.RUnlock()
	return len(dl.records)
}
