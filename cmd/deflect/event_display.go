package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/steveyegge/deflect/internal/events"
)

// displayEvent prints an event in a two-line format: a summary line and a
// line of key metadata
func displayEvent(event *events.JobEvent) {
	emoji := getEventEmoji(event)
	severityColor := getSeverityColor(event.Severity)

	timestamp := event.Timestamp.Format("15:04:05")

	subject := event.JobID
	if subject == "" {
		subject = event.InstanceID
	}
	jobID := color.New(color.FgGreen).Sprint(shortID(subject))
	eventType := color.New(color.FgMagenta).Sprint(event.Type)

	maxMessageLen := 60 - len(shortID(subject)) - len(string(event.Type))
	message := truncateString(event.Message, maxMessageLen)

	fmt.Printf("%s [%s] %s %s: %s\n", emoji, timestamp, jobID, eventType, severityColor.Sprint(message))

	if metadata := extractEventMetadata(event); metadata != "" {
		gray := color.New(color.FgHiBlack)
		fmt.Printf("  %s\n", gray.Sprint(metadata))
	} else {
		fmt.Println()
	}
}

// getEventEmoji returns the icon for an event type, falling back to severity
func getEventEmoji(event *events.JobEvent) string {
	switch event.Type {
	case events.EventTypeJobEnqueued:
		return "📥"
	case events.EventTypeJobClaimed:
		return "📌"
	case events.EventTypeJobCompleted:
		return "✅"
	case events.EventTypeJobRetryScheduled:
		return "🔁"
	case events.EventTypeJobFailed:
		return "🔥"
	case events.EventTypeJobRequeued:
		return "♻️"
	case events.EventTypeDecisionMade:
		return "🎯"
	case events.EventTypeSimilarityReused:
		return "🔀"
	case events.EventTypeFeedbackRecorded:
		return "💬"
	case events.EventTypeCleanupCompleted:
		return "🧹"
	case events.EventTypeProcessorPaused:
		return "⏸️"
	case events.EventTypeProcessorResumed:
		return "▶️"
	}

	switch event.Severity {
	case events.SeverityInfo:
		return "ℹ️"
	case events.SeverityWarning:
		return "⚠️"
	case events.SeverityError:
		return "❌"
	case events.SeverityCritical:
		return "🔥"
	default:
		return "•"
	}
}

// getSeverityColor returns the appropriate color for a severity level
func getSeverityColor(severity events.EventSeverity) *color.Color {
	switch severity {
	case events.SeverityInfo:
		return color.New(color.FgCyan)
	case events.SeverityWarning:
		return color.New(color.FgYellow)
	case events.SeverityError:
		return color.New(color.FgRed)
	case events.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgWhite)
	}
}

// extractEventMetadata picks the key data fields for each event type,
// pipe-separated and truncated to fit a narrow terminal
func extractEventMetadata(event *events.JobEvent) string {
	var fields []string

	switch event.Type {
	case events.EventTypeDecisionMade:
		// decision: response_type | category | confidence | cost
		fields = []string{
			getStringField(event.Data, "response_type", ""),
			getStringField(event.Data, "category", ""),
			fmt.Sprintf("%.0f%%", getFloatField(event.Data, "confidence", 0)*100),
			fmt.Sprintf("$%.4f", getFloatField(event.Data, "cost_usd", 0)),
		}
		if reason := getStringField(event.Data, "reason", ""); reason != "" {
			fields = append(fields, reason)
		}

	case events.EventTypeJobRetryScheduled:
		// retry: attempt | error kind | delay
		fields = []string{
			fmt.Sprintf("attempt %d/%d", getIntField(event.Data, "retry_count", 0), getIntField(event.Data, "max_retries", 0)),
			getStringField(event.Data, "error_kind", ""),
			"in " + formatDurationMs(getIntField(event.Data, "delay_ms", 0)),
		}

	case events.EventTypeJobFailed:
		// failed: attempts | error kind | exhausted
		fields = []string{
			fmt.Sprintf("%d attempt(s)", getIntField(event.Data, "retry_count", 0)),
			getStringField(event.Data, "error_kind", ""),
		}
		if getBoolField(event.Data, "exhausted", false) {
			fields = append(fields, "retries exhausted")
		} else {
			fields = append(fields, "non-retryable")
		}

	case events.EventTypeCleanupCompleted:
		// cleanup: jobs | events | duration
		fields = []string{
			fmt.Sprintf("%d jobs", getIntField(event.Data, "jobs_deleted", 0)),
			fmt.Sprintf("%d events", getIntField(event.Data, "events_deleted", 0)),
			formatDurationMs(getIntField(event.Data, "processing_time_ms", 0)),
		}
	}

	if event.TenantID != "" && len(fields) > 0 {
		fields = append([]string{event.TenantID}, fields...)
	}
	return truncateString(joinFields(fields), 70)
}

func getStringField(data map[string]interface{}, key, defaultValue string) string {
	if val, ok := data[key].(string); ok {
		return val
	}
	return defaultValue
}

func getIntField(data map[string]interface{}, key string, defaultValue int) int {
	if val, ok := data[key].(int); ok {
		return val
	}
	if val, ok := data[key].(float64); ok {
		return int(val)
	}
	return defaultValue
}

func getFloatField(data map[string]interface{}, key string, defaultValue float64) float64 {
	if val, ok := data[key].(float64); ok {
		return val
	}
	if val, ok := data[key].(int); ok {
		return float64(val)
	}
	return defaultValue
}

func getBoolField(data map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := data[key].(bool); ok {
		return val
	}
	return defaultValue
}

// formatDurationMs formats milliseconds into a human-readable duration
func formatDurationMs(ms int) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	return fmt.Sprintf("%.1fm", float64(ms)/60000)
}

// joinFields joins the non-empty fields with " | "
func joinFields(fields []string) string {
	nonEmpty := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			nonEmpty = append(nonEmpty, f)
		}
	}
	return strings.Join(nonEmpty, " | ")
}

// shortID trims uuids to their first block for display
func shortID(id string) string {
	if len(id) == 36 && id[8] == '-' {
		return id[:8]
	}
	return id
}

// truncateString truncates a string to maxLen, adding "..." if needed
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
