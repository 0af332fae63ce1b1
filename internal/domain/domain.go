package domain

// Job statuses. Transitions are enforced by the orchestrator.
const (
	StatusSubmitted = "submitted"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusCancelled = "cancelled"
	StatusPaused    = "paused"
)

// Event kinds published on a job's stream.
const (
	KindStatusUpdate   = "status_update"
	KindOutline        = "outline"
	KindWorkerStart    = "worker_start"
	KindWorkerProgress = "worker_progress"
	KindWorkerComplete = "worker_complete"
	KindWorkerError    = "worker_error"
	KindContent        = "content"
	KindJobComplete    = "job_complete"
	KindError          = "error"
	KindCancelled      = "cancelled"
	KindResumed        = "resumed"
	KindConnected      = "connected"
)

// Depth bounds for a research job.
const (
	MinDepth = 1
	MaxDepth = 5
)

type Job struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	Depth     int    `json:"depth" minimum:"1" maximum:"5"`
	Status    string `json:"status" enum:"submitted,running,completed,error,cancelled,paused"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Section struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	Key       string `json:"key"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Artifact kinds. Citations are the only kind produced today; the column
// is open for datasets, figures, and tables later.
const (
	ArtifactCitations = "citations"
)

// Artifact is a supplementary record attached to a section: today a
// citation list, persisted separately so the section content stays pure
// report text.
type Artifact struct {
	ID         string `json:"id"`
	JobID      string `json:"job_id"`
	SectionKey string `json:"section_key"`
	Kind       string `json:"kind" enum:"citations"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// SectionPlan describes one unit of report work before it runs.
type SectionPlan struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	Guidance string `json:"guidance"`
}

// DefaultPlan is the fixed set of section descriptors every job fans out
// to. Depth shapes prompt detail, not section count.
func DefaultPlan() []SectionPlan {
	return []SectionPlan{
		{Key: "executive_summary", Title: "Executive Summary", Guidance: "Key findings, challenges, and recommendations at a glance"},
		{Key: "current_landscape", Title: "Current Landscape", Guidance: "State of the field, recent developments, and major actors"},
		{Key: "detailed_analysis", Title: "Detailed Analysis", Guidance: "Technical deep dive with specific examples, tools, and techniques"},
		{Key: "recommendations", Title: "Recommendations", Guidance: "Actionable guidance, best practices, and future outlook"},
		{Key: "references", Title: "References", Guidance: "Sources and further reading relevant to the topic"},
	}
}

// Event is a transient broadcast payload. Events are never persisted;
// the Job and Section rows remain the source of truth.
type Event struct {
	Kind         string `json:"kind" enum:"status_update,outline,worker_start,worker_progress,worker_complete,worker_error,content,job_complete,error,cancelled,resumed,connected"`
	Text         string `json:"text,omitempty"`
	SectionKey   string `json:"section_key,omitempty"`
	SectionTitle string `json:"section_title,omitempty"`
	Progress     *int   `json:"progress,omitempty" minimum:"0" maximum:"100"`
	Citations    string `json:"citations,omitempty"`
	FullReport   string `json:"full_report,omitempty"`
}

// Terminal reports whether a status admits no further transitions
// other than resume.
func Terminal(status string) bool {
	switch status {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Resumable reports whether a job in the given status may be resumed.
func Resumable(status string) bool {
	switch status {
	case StatusCancelled, StatusError, StatusPaused:
		return true
	}
	return false
}

// Progress returns a pointer for use in Event payloads.
func Progress(v int) *int { return &v }
