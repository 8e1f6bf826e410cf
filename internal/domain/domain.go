package domain

// Worker queue identifiers. Domain agents use their own tags (e.g. "finance.agent").
const (
	WorkerDirector = "director"
	WorkerSafety   = "safety"
)

type Command struct {
	ID           string         `json:"id"`
	OrgID        string         `json:"org_id"`
	SessionID    string         `json:"session_id"`
	CommandType  string         `json:"command_type"`
	Payload      map[string]any `json:"payload,omitempty"`
	Status       string         `json:"status" enum:"queued,in_progress,completed,failed,cancelled"`
	Priority     int            `json:"priority"`
	ScheduledFor *string        `json:"scheduled_for,omitempty" format:"date-time"`
	StartedAt    *string        `json:"started_at,omitempty" format:"date-time"`
	CompletedAt  *string        `json:"completed_at,omitempty" format:"date-time"`
	FailedAt     *string        `json:"failed_at,omitempty" format:"date-time"`
	Result       map[string]any `json:"result,omitempty"`
	LastError    *string        `json:"last_error,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	IssuedBy     string         `json:"issued_by"`
	CreatedAt    string         `json:"created_at" format:"date-time"`
	UpdatedAt    string         `json:"updated_at" format:"date-time"`
}

type Job struct {
	ID          string         `json:"id"`
	OrgID       string         `json:"org_id"`
	CommandID   string         `json:"command_id"`
	Worker      string         `json:"worker"`
	DomainAgent *string        `json:"domain_agent,omitempty"`
	Status      string         `json:"status" enum:"pending,running,completed,failed,cancelled"`
	Attempts    int            `json:"attempts"`
	ScheduledAt string         `json:"scheduled_at" format:"date-time"`
	StartedAt   *string        `json:"started_at,omitempty" format:"date-time"`
	CompletedAt *string        `json:"completed_at,omitempty" format:"date-time"`
	FailedAt    *string        `json:"failed_at,omitempty" format:"date-time"`
	LastError   *string        `json:"last_error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	UpdatedAt   string         `json:"updated_at" format:"date-time"`
}

type Session struct {
	ID                string         `json:"id"`
	OrgID             string         `json:"org_id"`
	ChatSessionID     *string        `json:"chat_session_id,omitempty"`
	Status            string         `json:"status" enum:"active,closed"`
	DirectorState     map[string]any `json:"director_state,omitempty"`
	SafetyState       map[string]any `json:"safety_state,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CurrentObjective  *string        `json:"current_objective,omitempty"`
	LastDirectorRunID *string        `json:"last_director_run_id,omitempty"`
	LastSafetyRunID   *string        `json:"last_safety_run_id,omitempty"`
	ClosedAt          *string        `json:"closed_at,omitempty" format:"date-time"`
	CreatedAt         string         `json:"created_at" format:"date-time"`
	UpdatedAt         string         `json:"updated_at" format:"date-time"`
}

// Envelope is the {command, job, session} triple every orchestration step
// exchanges, so a single logical step never reads the three records at
// different points in time.
type Envelope struct {
	Command Command `json:"command"`
	Job     Job     `json:"job"`
	Session Session `json:"session"`
}

type Connector struct {
	ID            string         `json:"id"`
	OrgID         string         `json:"org_id"`
	ConnectorType string         `json:"connector_type"`
	Name          string         `json:"name"`
	Status        string         `json:"status" enum:"active,pending,inactive,error"`
	Config        map[string]any `json:"config,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	LastSyncedAt  *string        `json:"last_synced_at,omitempty" format:"date-time"`
	LastError     *string        `json:"last_error,omitempty"`
	CreatedAt     string         `json:"created_at" format:"date-time"`
	UpdatedAt     string         `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
