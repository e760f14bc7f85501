package models

import "time"

// Category is one of the four coarse classifications carried directly on
// every health event record.
type Category string

const (
	CategoryIssue               Category = "issue"
	CategoryAccountNotification Category = "accountNotification"
	CategoryScheduledChange     Category = "scheduledChange"
	CategoryInvestigation       Category = "investigation"
)

// Categories lists the fixed category set in display order.
func Categories() []Category {
	return []Category{
		CategoryIssue,
		CategoryAccountNotification,
		CategoryScheduledChange,
		CategoryInvestigation,
	}
}

// CategoryName returns the human-readable name shown by the dashboard.
func CategoryName(c Category) string {
	switch c {
	case CategoryIssue:
		return "Service Issues"
	case CategoryAccountNotification:
		return "Account Notifications"
	case CategoryScheduledChange:
		return "Scheduled Changes"
	case CategoryInvestigation:
		return "Investigations"
	}
	return string(c)
}

type Status string

const (
	StatusOpen     Status = "open"
	StatusUpcoming Status = "upcoming"
	StatusClosed   Status = "closed"
)

// HealthEvent is one record in the health-events table. Records are written
// by the ingest pipeline and are read-only to the dashboard. All timestamps
// are stored as strings because the pipeline writes them that way.
type HealthEvent struct {
	HealthKey     string        `json:"healthkey" dynamodbav:"healthkey"`
	ARN           string        `json:"arn" dynamodbav:"arn"`
	Account       string        `json:"account,omitempty" dynamodbav:"account"`
	Service       string        `json:"service" dynamodbav:"service"`
	EventType     string        `json:"event_type" dynamodbav:"event_type"`
	EventCategory string        `json:"eventCategory" dynamodbav:"eventCategory"`
	Region        string        `json:"region" dynamodbav:"region"`
	StatusCode    string        `json:"status_code" dynamodbav:"status_code"`
	StartTime     string        `json:"start_time" dynamodbav:"start_time"`
	EndTime       string        `json:"end_time,omitempty" dynamodbav:"end_time"`
	LastUpdate    string        `json:"last_update,omitempty" dynamodbav:"last_update"`
	Description   string        `json:"description,omitempty" dynamodbav:"description"`
	Summary       *EventSummary `json:"__summary,omitempty" dynamodbav:"__summary"`
}

// EventSummary is the optional nested summary object attached by the
// ingest pipeline.
type EventSummary struct {
	Title    string          `json:"title" dynamodbav:"title"`
	Risk     string          `json:"risk,omitempty" dynamodbav:"risk"`
	Schedule []ScheduleEntry `json:"schedule,omitempty" dynamodbav:"schedule"`
}

type ScheduleEntry struct {
	Event    string `json:"event" dynamodbav:"event"`
	Datetime string `json:"datetime" dynamodbav:"datetime"`
}

// EventDigest is the trimmed event shape embedded in cached reports and
// drill-down listings.
type EventDigest struct {
	ARN                string `json:"arn"`
	Account            string `json:"account,omitempty"`
	Service            string `json:"service"`
	Region             string `json:"region"`
	EventType          string `json:"event_type"`
	Status             string `json:"status"`
	StartTime          string `json:"start_time"`
	LastUpdate         string `json:"last_update,omitempty"`
	DescriptionPreview string `json:"description_preview,omitempty"`
}

const descriptionPreviewLen = 150

// Digest converts a full event record to its report shape, truncating the
// free-text description to a short preview.
func (e HealthEvent) Digest() EventDigest {
	preview := e.Description
	if len(preview) > descriptionPreviewLen {
		preview = preview[:descriptionPreviewLen] + "..."
	}
	return EventDigest{
		ARN:                e.ARN,
		Account:            e.Account,
		Service:            e.Service,
		Region:             e.Region,
		EventType:          e.EventType,
		Status:             e.StatusCode,
		StartTime:          e.StartTime,
		LastUpdate:         e.LastUpdate,
		DescriptionPreview: preview,
	}
}

// SuggestedPrompt is one entry in the suggested-prompts collection shown by
// the analysis UI. usage_count is bumped on every accepted submission whose
// text matches case-insensitively.
type SuggestedPrompt struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	UsageCount int       `json:"usage_count"`
	LastUsed   time.Time `json:"last_used"`
	Category   string    `json:"category"`
}

const (
	PromptCategoryUserGenerated = "user-generated"
	PromptCategorySeeded        = "pre-seeded"
)
