package domain

import "time"

// Brief is the human-supplied description of the post to write.
type Brief struct {
	TopicAngle  string `json:"topic_angle" yaml:"topicAngle"`
	Audience    string `json:"audience" yaml:"audience"`
	KeyTakeaway string `json:"key_takeaway" yaml:"keyTakeaway"`
	ExtraPoints string `json:"extra_points,omitempty" yaml:"extraPoints"`
}

// PlanRef points back to the content-plan topic a request was generated from.
type PlanRef struct {
	PlanID  string `json:"plan_id"`
	TopicID int    `json:"topic_id"`
}

// ContentRequest is a single pipeline run input. It is never mutated after creation.
type ContentRequest struct {
	ID          string
	RequesterID string
	Brief       Brief
	CreatedAt   time.Time
	Origin      *PlanRef
}

// Source is one result returned by the research collaborator.
type Source struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Summary string  `json:"summary"`
	Score   float64 `json:"score"`
}

// SourceNote is the synthesized takeaway list for a single source.
type SourceNote struct {
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	KeyPoints []string `json:"key_points,omitempty"`
}

// KeyStat is a quotable number tied to the source it came from.
type KeyStat struct {
	Stat      string `json:"stat"`
	SourceURL string `json:"source_url"`
}

// Example is a concrete company case found during research.
type Example struct {
	Company   string `json:"company"`
	Situation string `json:"situation"`
	Outcome   string `json:"outcome"`
}

// ResearchBundle is the structured research output for one request.
type ResearchBundle struct {
	RequestID string       `json:"request_id"`
	Sources   []Source     `json:"sources"`
	Summary   string       `json:"summary"`
	Notes     []SourceNote `json:"notes,omitempty"`
	KeyStats  []KeyStat    `json:"key_stats,omitempty"`
	Examples  []Example    `json:"examples,omitempty"`
}

// Draft is the first full text produced from the brief and research.
type Draft struct {
	Text     string
	Words    int
	Chars    int
	BundleID string
}

// CriticName enumerates the fixed critic set.
type CriticName string

const (
	CriticGenericDetector    CriticName = "generic_detector"
	CriticRhythmAnalyzer     CriticName = "rhythm_analyzer"
	CriticSpecificityChecker CriticName = "specificity_checker"
	CriticFactChecker        CriticName = "fact_checker"
)

// AllCritics lists every critic in a stable order.
func AllCritics() []CriticName {
	return []CriticName{
		CriticGenericDetector,
		CriticRhythmAnalyzer,
		CriticSpecificityChecker,
		CriticFactChecker,
	}
}

// Valid reports whether the name belongs to the enumerated set.
func (c CriticName) Valid() bool {
	for _, name := range AllCritics() {
		if c == name {
			return true
		}
	}
	return false
}

// Severity ranks how much an issue hurts the post.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Verdict is the overall outcome of one critic.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// Issue is a single problem flagged by a critic.
type Issue struct {
	Location   string   `json:"location"`
	Severity   Severity `json:"severity"`
	Problem    string   `json:"problem"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// CritiqueFinding is the full report of one critic for one draft.
type CritiqueFinding struct {
	Critic  CriticName `json:"critic_name"`
	Issues  []Issue    `json:"issues"`
	Verdict Verdict    `json:"verdict"`
}

// Collection names a storage partition for post records.
type Collection string

const (
	CollectionQueued    Collection = "queued"
	CollectionPublished Collection = "published"
)

// PostRecord is the only persisted entity.
type PostRecord struct {
	ID          string            `json:"id"`
	RequesterID string            `json:"requester_id"`
	Status      Status            `json:"status"`
	Brief       Brief             `json:"brief"`
	Research    ResearchBundle    `json:"research"`
	Draft       string            `json:"draft"`
	Critiques   []CritiqueFinding `json:"critiques"`
	FinalText   string            `json:"final_text"`
	CreatedAt   time.Time         `json:"created_at"`
	QueuedAt    time.Time         `json:"queued_at"`
	PublishedAt *time.Time        `json:"published_at"`
	Origin      *PlanRef          `json:"origin,omitempty"`
}
