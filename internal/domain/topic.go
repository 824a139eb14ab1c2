package domain

import (
	"strings"
	"time"
)

const maxSearchQueryLen = 380

// Option is a keyed, human-labelled choice offered when a brief is collected.
type Option struct {
	Key   string `yaml:"key" json:"key"`
	Label string `yaml:"label" json:"label"`
}

// Topic describes the channel the posts are written for.
type Topic struct {
	ChannelName        string            `yaml:"channelName"`
	ChannelDescription string            `yaml:"channelDescription"`
	ContentTypes       []Option          `yaml:"contentTypes"`
	Audiences          []Option          `yaml:"audiences"`
	SearchQueries      map[string]string `yaml:"searchQueries"`
	SearchContext      string            `yaml:"searchContext"`
	ResearchQueries    []string          `yaml:"researchQueries"`
}

// ContentTypeLabel returns the label for a content type key, or the key itself.
func (t Topic) ContentTypeLabel(key string) string {
	return labelFor(t.ContentTypes, key)
}

// AudienceLabel returns the label for an audience key, or the key itself.
func (t Topic) AudienceLabel(key string) string {
	return labelFor(t.Audiences, key)
}

// SearchQueryFor assembles the research query for a brief.
func (t Topic) SearchQueryFor(contentType, keyTakeaway, extra string) string {
	base, ok := t.SearchQueries[contentType]
	if !ok || base == "" {
		base = keyTakeaway
	}

	parts := []string{base, keyTakeaway}
	if extra = strings.TrimSpace(extra); extra != "" {
		parts = append(parts, extra)
	}
	if t.SearchContext != "" {
		parts = append(parts, t.SearchContext)
	}

	query := strings.Join(parts, " ")
	if r := []rune(query); len(r) > maxSearchQueryLen {
		query = string(r[:maxSearchQueryLen])
	}
	return query
}

func labelFor(options []Option, key string) string {
	for _, opt := range options {
		if opt.Key == key {
			return opt.Label
		}
	}
	return key
}

// TopicStatus tracks a plan slot through its life.
type TopicStatus string

const (
	TopicPending TopicStatus = "pending"
	TopicQueued  TopicStatus = "queued"
	TopicUsed    TopicStatus = "used"
)

// PlanTopic is one day of a content plan.
type PlanTopic struct {
	ID          int         `json:"id"`
	Day         string      `json:"day"`
	Type        string      `json:"type"`
	TypeLabel   string      `json:"type_label"`
	Theme       string      `json:"theme"`
	Audience    string      `json:"audience"`
	KeyTakeaway string      `json:"key_takeaway"`
	ExtraPoints string      `json:"extra_points,omitempty"`
	Status      TopicStatus `json:"status"`
	QueuedAt    *time.Time  `json:"queued_at,omitempty"`
	UsedAt      *time.Time  `json:"used_at,omitempty"`
}

// Brief converts the plan slot into a pipeline brief.
func (p PlanTopic) Brief() Brief {
	takeaway := p.KeyTakeaway
	if takeaway == "" {
		takeaway = p.Theme
	}
	return Brief{
		TopicAngle:  p.Type,
		Audience:    p.Audience,
		KeyTakeaway: takeaway,
		ExtraPoints: p.ExtraPoints,
	}
}

// Plan is a weekly content plan.
type Plan struct {
	ID        string      `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	RefinedAt *time.Time  `json:"refined_at,omitempty"`
	Days      []PlanTopic `json:"days"`
}
