// Package notify publishes campaign and priority events over MQTT and sends
// push alerts through shoutrrr.
package notify

import (
	"fmt"
	"time"

	"github.com/tphakala/threatlink/internal/campaign"
	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/pipeline"
)

// EventType names a published event. It is also the MQTT topic suffix.
type EventType string

const (
	EventDocumentAnalyzed EventType = "document/analyzed"
	EventCampaign         EventType = "campaign"
	EventCriticalPriority EventType = "priority/critical"
)

// CampaignPayload describes a created or grown campaign.
type CampaignPayload struct {
	Key        string   `json:"key"`
	Name       string   `json:"name"`
	Outcome    string   `json:"outcome"`
	Articles   int      `json:"articles"`
	Status     string   `json:"status"`
	Confidence float64  `json:"confidence"`
	Added      []string `json:"added,omitempty"`
}

// PriorityPayload carries a document's priority score.
type PriorityPayload struct {
	Overall float64 `json:"overall"`
	Level   string  `json:"level"`
}

// Event is the JSON body of every MQTT message.
type Event struct {
	Type          EventType        `json:"type"`
	DocumentID    string           `json:"document_id"`
	RunID         string           `json:"run_id"`
	Relationships int              `json:"relationships"`
	Campaign      *CampaignPayload `json:"campaign,omitempty"`
	Priority      *PriorityPayload `json:"priority,omitempty"`
	Partial       bool             `json:"partial,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// alertable events are also pushed to people.
func (e *Event) alertable() bool {
	return e.Type == EventCampaign || e.Type == EventCriticalPriority
}

// dedupKey identifies repeated alerts about the same thing.
func (e *Event) dedupKey() string {
	switch e.Type {
	case EventCampaign:
		return fmt.Sprintf("campaign:%s:%d", e.Campaign.Key, e.Campaign.Articles)
	case EventCriticalPriority:
		return "critical:" + e.DocumentID
	default:
		return string(e.Type) + ":" + e.RunID
	}
}

func (e *Event) title() string {
	switch e.Type {
	case EventCampaign:
		if e.Campaign.Outcome == string(campaign.OutcomeCreated) {
			return "New campaign: " + e.Campaign.Name
		}
		return "Campaign grew: " + e.Campaign.Name
	case EventCriticalPriority:
		return "Critical report " + e.DocumentID
	default:
		return "Document analyzed"
	}
}

func (e *Event) message() string {
	switch e.Type {
	case EventCampaign:
		return fmt.Sprintf("%s (%s) now spans %d reports, confidence %.2f. Triggered by %s.",
			e.Campaign.Name, e.Campaign.Key, e.Campaign.Articles, e.Campaign.Confidence, e.DocumentID)
	case EventCriticalPriority:
		return fmt.Sprintf("Report %s scored %.1f (%s) with %d related reports.",
			e.DocumentID, e.Priority.Overall, e.Priority.Level, e.Relationships)
	default:
		return fmt.Sprintf("Report %s analyzed with %d related reports.", e.DocumentID, e.Relationships)
	}
}

// EventsFor derives the events of one finished run. Every run yields a
// document event; campaign creation or growth and critical scores add one each.
func EventsFor(result *pipeline.AnalysisResult, at time.Time) []Event {
	base := Event{
		DocumentID:    result.DocumentID,
		RunID:         result.RunID,
		Relationships: len(result.Relationships),
		Partial:       result.Partial(),
		OccurredAt:    at.UTC(),
	}
	if result.Priority != nil {
		base.Priority = &PriorityPayload{
			Overall: result.Priority.Overall,
			Level:   string(result.Priority.PriorityLevel),
		}
	}

	analyzed := base
	analyzed.Type = EventDocumentAnalyzed
	events := []Event{analyzed}

	if d := result.Campaign; d != nil && d.Campaign != nil &&
		(d.Outcome == campaign.OutcomeCreated || d.Outcome == campaign.OutcomeJoined) {
		ev := base
		ev.Type = EventCampaign
		ev.Campaign = &CampaignPayload{
			Key:        d.Campaign.CampaignKey,
			Name:       d.Campaign.Name,
			Outcome:    string(d.Outcome),
			Articles:   d.Campaign.ArticleCount,
			Status:     string(d.Campaign.Status),
			Confidence: d.Campaign.DetectionConfidence,
			Added:      d.Added,
		}
		events = append(events, ev)
	}

	if result.Priority != nil && result.Priority.PriorityLevel == entities.PriorityCritical {
		ev := base
		ev.Type = EventCriticalPriority
		events = append(events, ev)
	}
	return events
}
