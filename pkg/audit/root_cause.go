package audit

import (
	"fmt"
	"time"

	"github.com/qns-project/qns-core/pkg/logx"
)

// RootCause represents a root cause analysis result
type RootCause struct {
	ID              string                 `json:"id"`
	Timestamp       time.Time              `json:"timestamp"`
	DecisionID      string                 `json:"decision_id"`
	Category        string                 `json:"category"`
	Description     string                 `json:"description"`
	Confidence      float64                `json:"confidence"` // 0.0-1.0 confidence in analysis
	Evidence        []string               `json:"evidence"`
	Impact          string                 `json:"impact"` // low, medium, high, critical
	Recommendations []string               `json:"recommendations"`
	Metrics         map[string]interface{} `json:"metrics"`
}

// RootCauseAnalyzer performs automated root cause analysis
type RootCauseAnalyzer struct {
	logger *logx.Logger
}

// NewRootCauseAnalyzer creates a new root cause analyzer
func NewRootCauseAnalyzer(logger *logx.Logger) *RootCauseAnalyzer {
	return &RootCauseAnalyzer{
		logger: logger,
	}
}

// AnalyzeRootCause performs root cause analysis on a decision record
func (rca *RootCauseAnalyzer) AnalyzeRootCause(record *DecisionRecord, relatedRecords []*DecisionRecord) *RootCause {
	if record == nil {
		return nil
	}

	switch record.DecisionType {
	case "handover":
		return rca.analyzeHandoverRootCause(record, relatedRecords)
	case "fallback":
		return rca.analyzeFallbackRootCause(record, relatedRecords)
	case "restrict_armed":
		return rca.analyzeRestrictArmedRootCause(record, relatedRecords)
	case "restrict_released":
		return rca.analyzeRestrictReleasedRootCause(record, relatedRecords)
	default:
		return rca.analyzeGenericRootCause(record, relatedRecords)
	}
}

// analyzeHandoverRootCause analyzes root causes for handover decisions: a
// move between access networks while a call is in progress.
func (rca *RootCauseAnalyzer) analyzeHandoverRootCause(record *DecisionRecord, relatedRecords []*DecisionRecord) *RootCause {
	var evidence []string
	var recommendations []string
	metrics := make(map[string]interface{})
	confidence := 0.3
	category := "handover"
	impact := "medium"

	if record.PreCondition != nil {
		metrics["precondition"] = fmt.Sprintf("%+v", *record.PreCondition)
	}
	if record.Restriction != nil {
		evidence = append(evidence, fmt.Sprintf("restriction active at handover time: %s", record.Restriction.String()))
		confidence += 0.2
		impact = "high"
		recommendations = append(recommendations, "confirm the restriction timer that forced this handover was intended")
	}
	if record.Transport != nil {
		evidence = append(evidence, fmt.Sprintf("handover landed on transport: %s", record.Transport.String()))
	}
	if len(record.FromNetworks) > 0 && len(record.ToNetworks) > 0 {
		evidence = append(evidence, fmt.Sprintf("access network changed %s -> %s",
			networksString(record.FromNetworks), networksString(record.ToNetworks)))
		confidence += 0.2
	}
	if record.Reasoning != "" {
		evidence = append(evidence, record.Reasoning)
		confidence += 0.1
	}

	if record.ExecutionTime > 2*time.Second {
		evidence = append(evidence, fmt.Sprintf("slow handover evaluation: %v", record.ExecutionTime))
		category = "evaluator_performance"
		recommendations = append(recommendations, "check the evaluator's inbox for backlog during the handover")
	}

	if len(relatedRecords) > 0 {
		if pattern := rca.analyzeRelatedRecordsPattern(record, relatedRecords); pattern != "" {
			evidence = append(evidence, fmt.Sprintf("pattern detected: %s", pattern))
			confidence += 0.2
			recommendations = append(recommendations, "investigate repeated handovers for the same slot/APN")
		}
	}

	if confidence > 1.0 {
		confidence = 1.0
	}
	if len(evidence) == 0 {
		evidence = append(evidence, "no specific indicators found")
		confidence = 0.1
		category = "unknown"
	}

	return &RootCause{
		ID:              fmt.Sprintf("rc_%s_%d", record.DecisionID, time.Now().Unix()),
		Timestamp:       time.Now(),
		DecisionID:      record.DecisionID,
		Category:        category,
		Description:     rca.generateRootCauseDescription(category, evidence),
		Confidence:      confidence,
		Evidence:        evidence,
		Impact:          impact,
		Recommendations: recommendations,
		Metrics:         metrics,
	}
}

// analyzeFallbackRootCause analyzes root causes for fallback decisions: a
// drop from a preferred transport (typically WLAN) back to cellular outside
// an active call.
func (rca *RootCauseAnalyzer) analyzeFallbackRootCause(record *DecisionRecord, relatedRecords []*DecisionRecord) *RootCause {
	var evidence []string
	var recommendations []string
	confidence := 0.3
	category := "fallback"
	impact := "medium"

	evidence = append(evidence, fmt.Sprintf("trigger: %s", record.Trigger))

	switch record.Trigger {
	case "EventThresholdCrossed":
		evidence = append(evidence, "a signal-quality threshold crossing drove the fallback")
		category = "signal_quality"
		confidence += 0.3
		recommendations = append(recommendations, "check Wi-Fi RSSI/RSRP thresholds against the carrier config for this APN")
	case "EventRestrictInfoChanged":
		evidence = append(evidence, "a restriction state change drove the fallback")
		category = "restriction"
		impact = "high"
		confidence += 0.3
		recommendations = append(recommendations, "inspect the restriction manager's timers for this transport")
	case "EventIwlanAvailabilityChanged":
		evidence = append(evidence, "IWLAN availability was withdrawn")
		category = "iwlan_availability"
		confidence += 0.2
	}

	if record.Restriction != nil {
		evidence = append(evidence, fmt.Sprintf("restriction at time of fallback: %s", record.Restriction.String()))
		confidence += 0.1
	}
	if len(record.FromNetworks) > 0 && len(record.ToNetworks) > 0 {
		evidence = append(evidence, fmt.Sprintf("access network changed %s -> %s",
			networksString(record.FromNetworks), networksString(record.ToNetworks)))
	}

	if len(relatedRecords) > 0 {
		if pattern := rca.analyzeRelatedRecordsPattern(record, relatedRecords); pattern != "" {
			evidence = append(evidence, fmt.Sprintf("pattern detected: %s", pattern))
			confidence += 0.2
			recommendations = append(recommendations, "recurring fallbacks for the same APN suggest flapping coverage")
		}
	}

	if confidence > 1.0 {
		confidence = 1.0
	}

	return &RootCause{
		ID:              fmt.Sprintf("rc_%s_%d", record.DecisionID, time.Now().Unix()),
		Timestamp:       time.Now(),
		DecisionID:      record.DecisionID,
		Category:        category,
		Description:     rca.generateRootCauseDescription(category, evidence),
		Confidence:      confidence,
		Evidence:        evidence,
		Impact:          impact,
		Recommendations: recommendations,
		Metrics:         make(map[string]interface{}),
	}
}

// analyzeRestrictArmedRootCause analyzes root causes for a restriction being
// armed on a transport.
func (rca *RootCauseAnalyzer) analyzeRestrictArmedRootCause(record *DecisionRecord, relatedRecords []*DecisionRecord) *RootCause {
	var evidence []string
	var recommendations []string
	confidence := 0.5
	category := "restriction_armed"
	impact := "medium"

	if record.Restriction != nil {
		evidence = append(evidence, fmt.Sprintf("restriction armed: %s", record.Restriction.String()))
		confidence += 0.2
	}
	if record.Transport != nil {
		evidence = append(evidence, fmt.Sprintf("restricted transport: %s", record.Transport.String()))
	}
	evidence = append(evidence, fmt.Sprintf("trigger: %s", record.Trigger))

	recommendations = append(recommendations, "monitor the restriction timer to confirm it releases on schedule")

	if confidence > 1.0 {
		confidence = 1.0
	}

	return &RootCause{
		ID:              fmt.Sprintf("rc_%s_%d", record.DecisionID, time.Now().Unix()),
		Timestamp:       time.Now(),
		DecisionID:      record.DecisionID,
		Category:        category,
		Description:     "a restriction was armed on a transport, blocking it from the qualified list until released",
		Confidence:      confidence,
		Evidence:        evidence,
		Impact:          impact,
		Recommendations: recommendations,
		Metrics:         make(map[string]interface{}),
	}
}

// analyzeRestrictReleasedRootCause analyzes root causes for a restriction
// release, the usually-benign counterpart to an armed restriction.
func (rca *RootCauseAnalyzer) analyzeRestrictReleasedRootCause(record *DecisionRecord, relatedRecords []*DecisionRecord) *RootCause {
	var evidence []string
	var recommendations []string
	confidence := 0.6
	category := "restriction_released"
	impact := "low"

	evidence = append(evidence, "restriction released, transport rejoins the qualified candidate pool")
	if record.Transport != nil {
		evidence = append(evidence, fmt.Sprintf("released transport: %s", record.Transport.String()))
	}
	recommendations = append(recommendations, "confirm the transport reconnects cleanly after release")

	return &RootCause{
		ID:              fmt.Sprintf("rc_%s_%d", record.DecisionID, time.Now().Unix()),
		Timestamp:       time.Now(),
		DecisionID:      record.DecisionID,
		Category:        category,
		Description:     "restriction released on schedule",
		Confidence:      confidence,
		Evidence:        evidence,
		Impact:          impact,
		Recommendations: recommendations,
		Metrics:         make(map[string]interface{}),
	}
}

// analyzeGenericRootCause analyzes root causes for decision types not
// otherwise recognized, such as a plain publish.
func (rca *RootCauseAnalyzer) analyzeGenericRootCause(record *DecisionRecord, relatedRecords []*DecisionRecord) *RootCause {
	var evidence []string
	var recommendations []string
	confidence := 0.3
	category := "general"
	impact := "medium"

	evidence = append(evidence, fmt.Sprintf("generic decision analysis for type: %s", record.DecisionType))
	if record.Reasoning != "" {
		evidence = append(evidence, record.Reasoning)
	}

	if record.ExecutionTime > 2*time.Second {
		evidence = append(evidence, fmt.Sprintf("slow execution: %v", record.ExecutionTime))
		confidence += 0.2
		recommendations = append(recommendations, "investigate evaluator inbox performance")
	}

	recommendations = append(recommendations, "review policy thresholds and rule tables for this APN")

	return &RootCause{
		ID:              fmt.Sprintf("rc_%s_%d", record.DecisionID, time.Now().Unix()),
		Timestamp:       time.Now(),
		DecisionID:      record.DecisionID,
		Category:        category,
		Description:     fmt.Sprintf("generic analysis for %s decision", record.DecisionType),
		Confidence:      confidence,
		Evidence:        evidence,
		Impact:          impact,
		Recommendations: recommendations,
		Metrics:         make(map[string]interface{}),
	}
}

// analyzeRelatedRecordsPattern analyzes patterns in related records
func (rca *RootCauseAnalyzer) analyzeRelatedRecordsPattern(record *DecisionRecord, relatedRecords []*DecisionRecord) string {
	if len(relatedRecords) < 3 {
		return ""
	}

	failureCount := 0
	recentWindow := 1 * time.Hour

	for _, related := range relatedRecords {
		if !related.Success &&
			related.Timestamp.After(record.Timestamp.Add(-recentWindow)) &&
			related.DecisionType == record.DecisionType {
			failureCount++
		}
	}

	if failureCount >= 3 {
		return fmt.Sprintf("multiple failures in last hour (%d failures)", failureCount)
	}

	sameApnCount := 0
	for _, related := range relatedRecords {
		if related.Apn == record.Apn && related.Slot == record.Slot &&
			related.DecisionType == record.DecisionType &&
			related.Timestamp.After(record.Timestamp.Add(-recentWindow)) {
			sameApnCount++
		}
	}
	if sameApnCount >= 3 {
		return fmt.Sprintf("recurring %s decisions on slot %d / apn %s (%d occurrences)",
			record.DecisionType, record.Slot, record.Apn.String(), sameApnCount)
	}

	return ""
}

// generateRootCauseDescription generates a human-readable description
func (rca *RootCauseAnalyzer) generateRootCauseDescription(category string, evidence []string) string {
	switch category {
	case "signal_quality":
		return "a signal-quality threshold crossing drove a transport change"
	case "restriction":
		return "an active restriction drove a transport change"
	case "iwlan_availability":
		return "loss of IWLAN availability drove a transport change"
	case "evaluator_performance":
		return "evaluator inbox processing was slower than expected"
	case "handover":
		return "an in-call handover between access networks"
	case "restriction_armed":
		return "a transport was restricted and removed from the qualified candidate pool"
	case "restriction_released":
		return "a restriction was released on schedule"
	default:
		if len(evidence) > 0 {
			return fmt.Sprintf("issue detected: %s", evidence[0])
		}
		return "unknown root cause"
	}
}

// GetRootCauseByCategory returns root causes by category
func (rca *RootCauseAnalyzer) GetRootCauseByCategory(records []*DecisionRecord, category string) []*RootCause {
	var results []*RootCause

	for _, record := range records {
		rootCause := rca.AnalyzeRootCause(record, nil)
		if rootCause != nil && rootCause.Category == category {
			results = append(results, rootCause)
		}
	}

	return results
}

// GetRootCauseStats returns statistics about root causes
func (rca *RootCauseAnalyzer) GetRootCauseStats(records []*DecisionRecord) map[string]interface{} {
	stats := make(map[string]interface{})
	categories := make(map[string]int)
	impacts := make(map[string]int)
	var totalConfidence float64
	validRootCauses := 0

	for _, record := range records {
		rootCause := rca.AnalyzeRootCause(record, nil)
		if rootCause != nil {
			categories[rootCause.Category]++
			impacts[rootCause.Impact]++
			totalConfidence += rootCause.Confidence
			validRootCauses++
		}
	}

	stats["total_analyzed"] = len(records)
	stats["valid_root_causes"] = validRootCauses
	stats["categories"] = categories
	stats["impacts"] = impacts

	if validRootCauses > 0 {
		stats["average_confidence"] = totalConfidence / float64(validRootCauses)
	} else {
		stats["average_confidence"] = 0.0
	}

	return stats
}
