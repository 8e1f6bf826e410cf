package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"lexline/internal/domain"
	"lexline/internal/engine"
	"lexline/internal/repo"
	"lexline/internal/safety"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"command_rejected"`
	Message string         `json:"message" example:"command rejected by safety review"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Lexline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the error envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Lexline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerCommands(group, cfg.Engine)
	registerJobs(group, cfg.Engine)
	registerSessions(group, cfg.Engine)
	registerConnectors(group, cfg.Engine)
	registerCoverage(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ge *safety.GatewayError
	if errors.As(err, &ge) {
		return newAPIError(http.StatusBadGateway, "safety_gateway_error", err.Error(), map[string]any{"upstream_status": ge.StatusCode})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "transition"):
		return newAPIError(http.StatusConflict, "invalid_transition", msg, nil)
	case strings.Contains(lowered, "safety gateway"):
		return newAPIError(http.StatusBadGateway, "safety_gateway_error", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Lexline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerCommands(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-command",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/commands",
		Summary:       "Enqueue command",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OrgID string               `path:"org_id"`
		Body  CreateCommandRequest `json:"body"`
	}) (*struct {
		Body engine.IntakeOutcome `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.CommandType == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "command_type is required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		outcome, err := e.EnqueueCommand(ctx, engine.EnqueueInput{
			OrgID:         input.OrgID,
			SessionID:     input.Body.SessionID,
			ChatSessionID: input.Body.ChatSessionID,
			CommandType:   input.Body.CommandType,
			Payload:       input.Body.Payload,
			Priority:      input.Body.Priority,
			ScheduledFor:  input.Body.ScheduledFor,
			Worker:        input.Body.Worker,
			DomainAgent:   input.Body.DomainAgent,
			IssuedBy:      userID,
			Metadata:      input.Body.Metadata,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if outcome.Status == engine.IntakeRejected {
			if outcome.CommandID == "" {
				// Shape validation failed before anything was created.
				return nil, newAPIError(http.StatusBadRequest, outcome.Code, "command payload failed validation", nil)
			}
			return nil, newAPIError(http.StatusUnprocessableEntity, outcome.Code, "command rejected by safety review", map[string]any{
				"command_id":  outcome.CommandID,
				"job_id":      outcome.JobID,
				"session_id":  outcome.SessionID,
				"reasons":     outcome.Reasons,
				"mitigations": outcome.Mitigations,
			})
		}
		return &struct {
			Body engine.IntakeOutcome `json:"body"`
		}{Body: outcome}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-command",
		Method:      http.MethodGet,
		Path:        "/commands/{command_id}",
		Summary:     "Get command envelope",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CommandID string `path:"command_id"`
	}) (*struct {
		Body domain.Envelope `json:"body"`
	}, error) {
		env, err := e.Repo.GetEnvelope(ctx, input.CommandID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusNotFound, "command_not_found", "command not found", nil)
			}
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Envelope `json:"body"`
		}{Body: env}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-session-commands",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/sessions/{session_id}/commands",
		Summary:     "List commands for a session",
	}, func(ctx context.Context, input *struct {
		OrgID     string `path:"org_id"`
		SessionID string `path:"session_id"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body []domain.Command `json:"body"`
	}, error) {
		commands, err := e.Repo.ListSessionCommands(ctx, input.OrgID, input.SessionID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if commands == nil {
			commands = []domain.Command{}
		}
		return &struct {
			Body []domain.Command `json:"body"`
		}{Body: commands}, nil
	})
}

func registerJobs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "claim-job",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/jobs/claim",
		Summary:     "Claim next pending job",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OrgID string          `path:"org_id"`
		Body  ClaimJobRequest `json:"body"`
	}) (*struct {
		Body engine.ClaimOutcome `json:"body"`
	}, error) {
		if input.Body.Worker == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "worker is required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		outcome, err := e.ClaimNextJob(ctx, engine.ClaimInput{
			OrgID:  input.OrgID,
			Worker: input.Body.Worker,
			UserID: userID,
			Limit:  input.Body.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ClaimOutcome `json:"body"`
		}{Body: outcome}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}",
		Summary:     "Get job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		job, err := e.Repo.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: job}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/complete",
		Summary:     "Complete job",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		JobID string             `path:"job_id"`
		Body  CompleteJobRequest `json:"body"`
	}) (*struct {
		Body engine.CompletionOutcome `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		outcome, err := e.CompleteJob(ctx, engine.CompleteInput{
			JobID:        input.JobID,
			Status:       input.Body.Status,
			Result:       input.Body.Result,
			ErrorMessage: input.Body.Error,
			UserID:       userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		switch outcome.Kind {
		case engine.CompletionCommandNotFound:
			return nil, newAPIError(http.StatusNotFound, "command_not_found", "command not found", nil)
		case engine.CompletionAlreadyCompleted:
			return nil, newAPIError(http.StatusConflict, "already_completed", "job already reached a terminal status", map[string]any{"status": outcome.Status})
		case engine.CompletionCompleted:
			return &struct {
				Body engine.CompletionOutcome `json:"body"`
			}{Body: outcome}, nil
		default:
			// Result shape validation failure; nothing was mutated.
			return nil, newAPIError(http.StatusBadRequest, outcome.Code, "result payload failed validation", nil)
		}
	})

	huma.Register(api, huma.Operation{
		OperationID: "escalate-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/escalate",
		Summary:     "Escalate job for human review",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		JobID string             `path:"job_id"`
		Body  EscalateJobRequest `json:"body"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		job, err := e.EscalateJob(ctx, input.JobID, input.Body.Reasons, input.Body.Mitigations, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: job}, nil
	})
}

func registerSessions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "close-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/close",
		Summary:     "Close session",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body domain.Session `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sess, err := e.CloseSession(ctx, input.SessionID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Session `json:"body"`
		}{Body: sess}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/sessions",
		Summary:     "List sessions",
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body []domain.Session `json:"body"`
	}, error) {
		sessions, err := e.Repo.ListSessions(ctx, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		if sessions == nil {
			sessions = []domain.Session{}
		}
		return &struct {
			Body []domain.Session `json:"body"`
		}{Body: sessions}, nil
	})
}

func registerConnectors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-connector",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/connectors",
		Summary:       "Register connector",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OrgID string                   `path:"org_id"`
		Body  RegisterConnectorRequest `json:"body"`
	}) (*struct {
		Body domain.Connector `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		conn, err := e.RegisterConnector(ctx, engine.RegisterConnectorInput{
			OrgID:         input.OrgID,
			ConnectorType: input.Body.ConnectorType,
			Name:          input.Body.Name,
			Status:        input.Body.Status,
			Config:        input.Body.Config,
			Metadata:      input.Body.Metadata,
			UserID:        userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Connector `json:"body"`
		}{Body: conn}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-connectors",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/connectors",
		Summary:     "List connectors",
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body []domain.Connector `json:"body"`
	}, error) {
		items, err := e.Repo.ListConnectors(ctx, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Connector{}
		}
		return &struct {
			Body []domain.Connector `json:"body"`
		}{Body: items}, nil
	})
}

func registerCoverage(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "connector-coverage",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/coverage",
		Summary:     "Connector coverage report",
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body engine.CoverageReport `json:"body"`
	}, error) {
		report, err := e.ConnectorCoverage(ctx, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.CoverageReport `json:"body"`
		}{Body: report}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/events",
		Summary:     "Latest events",
	}, func(ctx context.Context, input *struct {
		OrgID      string `path:"org_id"`
		Limit      int    `query:"limit"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		events, err := e.Repo.LatestEvents(ctx, limit, input.OrgID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := make([]EventResponse, 0, len(events))
		for _, evt := range events {
			resp = append(resp, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: resp}, nil
	})
}
