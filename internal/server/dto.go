package server

import (
	"encoding/json"

	"lexline/internal/domain"
)

type CreateCommandRequest struct {
	SessionID     string         `json:"session_id,omitempty"`
	ChatSessionID string         `json:"chat_session_id,omitempty"`
	CommandType   string         `json:"command_type"`
	Payload       any            `json:"payload,omitempty"`
	Priority      int            `json:"priority,omitempty"`
	ScheduledFor  string         `json:"scheduled_for,omitempty" format:"date-time"`
	Worker        string         `json:"worker,omitempty"`
	DomainAgent   string         `json:"domain_agent,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type ClaimJobRequest struct {
	Worker string `json:"worker"`
	Limit  int    `json:"limit,omitempty"`
}

type CompleteJobRequest struct {
	Status string `json:"status" enum:"completed,failed,cancelled"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type EscalateJobRequest struct {
	Reasons     []string `json:"reasons,omitempty"`
	Mitigations []string `json:"mitigations,omitempty"`
}

type RegisterConnectorRequest struct {
	ConnectorType string         `json:"connector_type"`
	Name          string         `json:"name"`
	Status        string         `json:"status,omitempty" enum:"active,pending,inactive,error,"`
	Config        map[string]any `json:"config,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	OrgID      string         `json:"org_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	resp := EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		OrgID:      e.OrgID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
	}
	if e.Payload != "" {
		var m map[string]any
		if json.Unmarshal([]byte(e.Payload), &m) == nil {
			resp.Payload = m
		}
	}
	return resp
}
