package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lexline/internal/app"
	"lexline/internal/config"
	"lexline/internal/db"
	"lexline/internal/domain"
	"lexline/internal/engine"
	"lexline/internal/migrate"
	"lexline/internal/repo"
	"lexline/internal/safety"
	"lexline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "lx",
	Short: "Lexline CLI",
	Long: `Lexline orchestrates operator commands for a legal workspace.
Core concepts:
- Workspace: your .lexline directory holding the database; the manifest lives in lexline.yml.
- Command: a unit of operator intent, safety-gated before any worker runs it.
- Job: the dispatchable twin of a command; workers claim, run and complete jobs.
- Session: the conversation context correlating a command stream.
- Connector: an integration (accounting, caselaw, storage, ...) the org has registered.
- Coverage: the report comparing registered connectors against the capability manifest.
- Event log: diary of changes, view with 'lx log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("LEXLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "user identifier")
	rootCmd.PersistentFlags().String("org", "", "org id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
	_ = viper.BindPFlag("org", rootCmd.PersistentFlags().Lookup("org"))
}

func registerCommands() {
	rootCmd.AddCommand(commandCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(connectorCmd())
	rootCmd.AddCommand(coverageCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- command ---

func commandCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "command", Short: "Manage commands"}
	cmd.AddCommand(commandEnqueueCmd())
	cmd.AddCommand(commandShowCmd())
	cmd.AddCommand(commandListCmd())
	return cmd
}

func commandEnqueueCmd() *cobra.Command {
	var commandType, payloadJSON, sessionID, chatSessionID, scheduledFor, worker, domainAgent string
	var priority int
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a command",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				payload, err := parseJSONFlag(payloadJSON)
				if err != nil {
					return fmt.Errorf("--payload: %w", err)
				}
				outcome, err := e.EnqueueCommand(ctx, engine.EnqueueInput{
					OrgID:         e.Config.Org.ID,
					SessionID:     sessionID,
					ChatSessionID: chatSessionID,
					CommandType:   commandType,
					Payload:       payload,
					Priority:      priority,
					ScheduledFor:  scheduledFor,
					Worker:        worker,
					DomainAgent:   domainAgent,
					IssuedBy:      viper.GetString("user-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(outcome)
			})
		},
	}
	cmd.Flags().StringVar(&commandType, "type", "", "command type, e.g. finance.domain")
	cmd.Flags().StringVar(&payloadJSON, "payload", "", "payload as JSON object")
	cmd.Flags().StringVar(&sessionID, "session", "", "existing session id (new session when empty)")
	cmd.Flags().StringVar(&chatSessionID, "chat-session", "", "external chat session id")
	cmd.Flags().StringVar(&scheduledFor, "scheduled-for", "", "RFC3339 timestamp to defer dispatch")
	cmd.Flags().StringVar(&worker, "worker", "", "target worker (defaults to director)")
	cmd.Flags().StringVar(&domainAgent, "domain-agent", "", "domain agent specialization")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (lower runs first)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func commandShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <command-id>",
		Short: "Show a command envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				env, err := r.GetEnvelope(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(env)
			})
		},
	}
	return cmd
}

func commandListCmd() *cobra.Command {
	var sessionID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List commands for a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("--session required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				commands, err := e.Repo.ListSessionCommands(ctx, e.Config.Org.ID, sessionID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(commands)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Priority", "Issued By", "Created"})
				for _, c := range commands {
					tw.AppendRow(table.Row{c.ID, c.CommandType, c.Status, c.Priority, c.IssuedBy, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().IntVar(&limit, "limit", 0, "max commands to list")
	return cmd
}

// --- job ---

func jobCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "job", Short: "Manage jobs"}
	cmd.AddCommand(jobClaimCmd())
	cmd.AddCommand(jobShowCmd())
	cmd.AddCommand(jobCompleteCmd())
	cmd.AddCommand(jobEscalateCmd())
	return cmd
}

func jobClaimCmd() *cobra.Command {
	var worker string
	var limit int
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim the next pending job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				outcome, err := e.ClaimNextJob(ctx, engine.ClaimInput{
					OrgID:  e.Config.Org.ID,
					Worker: worker,
					UserID: viper.GetString("user-id"),
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(outcome)
			})
		},
	}
	cmd.Flags().StringVar(&worker, "worker", domain.WorkerDirector, "worker type")
	cmd.Flags().IntVar(&limit, "limit", 5, "pending jobs to consider")
	return cmd
}

func jobShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				job, err := r.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(job)
			})
		},
	}
	return cmd
}

func jobCompleteCmd() *cobra.Command {
	var status, resultJSON, errMsg string
	cmd := &cobra.Command{
		Use:   "complete <job-id>",
		Short: "Complete a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				result, err := parseJSONFlag(resultJSON)
				if err != nil {
					return fmt.Errorf("--result: %w", err)
				}
				outcome, err := e.CompleteJob(ctx, engine.CompleteInput{
					JobID:        args[0],
					Status:       status,
					Result:       result,
					ErrorMessage: errMsg,
					UserID:       viper.GetString("user-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(outcome)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "completed", "terminal status (completed, failed, cancelled)")
	cmd.Flags().StringVar(&resultJSON, "result", "", "result as JSON object")
	cmd.Flags().StringVar(&errMsg, "error", "", "error message")
	return cmd
}

func jobEscalateCmd() *cobra.Command {
	var reasons, mitigations []string
	cmd := &cobra.Command{
		Use:   "escalate <job-id>",
		Short: "Send a running job back to pending for human review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				job, err := e.EscalateJob(ctx, args[0], reasons, mitigations, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(job)
			})
		},
	}
	cmd.Flags().StringSliceVar(&reasons, "reason", nil, "escalation reason (repeatable)")
	cmd.Flags().StringSliceVar(&mitigations, "mitigation", nil, "suggested mitigation (repeatable)")
	return cmd
}

// --- session ---

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Manage sessions"}
	cmd.AddCommand(sessionListCmd())
	cmd.AddCommand(sessionCloseCmd())
	return cmd
}

func sessionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sessions, err := e.Repo.ListSessions(ctx, e.Config.Org.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sessions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Objective", "Created", "Closed"})
				for _, s := range sessions {
					objective := ""
					if s.CurrentObjective != nil {
						objective = *s.CurrentObjective
					}
					closed := ""
					if s.ClosedAt != nil {
						closed = *s.ClosedAt
					}
					tw.AppendRow(table.Row{s.ID, s.Status, objective, s.CreatedAt, closed})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func sessionCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <session-id>",
		Short: "Close a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sess, err := e.CloseSession(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(sess)
			})
		},
	}
	return cmd
}

// --- connector ---

func connectorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "connector", Short: "Manage connectors"}
	cmd.AddCommand(connectorRegisterCmd())
	cmd.AddCommand(connectorListCmd())
	return cmd
}

func connectorRegisterCmd() *cobra.Command {
	var connectorType, name, status, configJSON string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register or update a connector",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cfg, err := parseJSONFlag(configJSON)
				if err != nil {
					return fmt.Errorf("--config: %w", err)
				}
				cfgMap, _ := cfg.(map[string]any)
				conn, err := e.RegisterConnector(ctx, engine.RegisterConnectorInput{
					OrgID:         e.Config.Org.ID,
					ConnectorType: connectorType,
					Name:          name,
					Status:        status,
					Config:        cfgMap,
					UserID:        viper.GetString("user-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(conn)
			})
		},
	}
	cmd.Flags().StringVar(&connectorType, "type", "", "connector type, e.g. accounting")
	cmd.Flags().StringVar(&name, "name", "", "connector name, e.g. ledger")
	cmd.Flags().StringVar(&status, "status", "", "status (defaults to active)")
	cmd.Flags().StringVar(&configJSON, "config", "", "connector config as JSON object")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func connectorListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List connectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListConnectors(ctx, e.Config.Org.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Name", "Status", "Last Synced"})
				for _, c := range items {
					synced := ""
					if c.LastSyncedAt != nil {
						synced = *c.LastSyncedAt
					}
					tw.AppendRow(table.Row{c.ID, c.ConnectorType, c.Name, c.Status, synced})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

// --- coverage ---

func coverageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Connector coverage against the capability manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.ConnectorCoverage(ctx, e.Config.Org.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Domain", "Connector", "Required", "Status", "Missing"})
				for _, dom := range report.Connectors.Coverage {
					for _, conn := range dom.Connectors {
						tw.AppendRow(table.Row{dom.Domain, conn.Type + ":" + conn.Name, conn.Required, conn.Status, strings.Join(dom.Missing, ", ")})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

// --- config ---

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configImportCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default lexline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orgID == "" {
				return fmt.Errorf("--org-id required")
			}
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(orgID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org-id", "", "org id")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the resolved config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a config file into the org config store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filePath == "" {
				return fmt.Errorf("--file required")
			}
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertOrgConfig(ctx, cfg.Org.ID, cfg); err != nil {
					return err
				}
				fmt.Printf("Imported config for org %s\n", cfg.Org.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "config file path")
	return cmd
}

func configValidateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filePath == "" {
				filePath = config.Path(viper.GetString("workspace"))
			}
			if _, err := config.FromFile(filePath); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", filePath)
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "config file path (defaults to workspace lexline.yml)")
	return cmd
}

// --- api keys ---

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var name, key string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				return fmt.Errorf("--key required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				k := domain.APIKey{
					ID:        fmt.Sprintf("key-%d", time.Now().UnixNano()),
					UserID:    viper.GetString("user-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(key),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, k); err != nil {
					return err
				}
				return printJSONOrTable(k)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	cmd.Flags().StringVar(&key, "key", "", "raw key value (only its hash is stored)")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

// --- log ---

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Org.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			resolved, err := app.ResolveOrgAndConfig(cmd.Context(), r, viper.GetString("org"), workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, resolved.Config, gatewayFromConfig(resolved.Config))
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("LEXLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("LEXLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Lexline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func gatewayFromConfig(cfg *config.Config) safety.Gateway {
	if cfg == nil || strings.TrimSpace(cfg.Safety.GatewayURL) == "" {
		return safety.Static{}
	}
	return safety.NewClient(cfg.Safety.GatewayURL, cfg.Safety.APIKey, time.Duration(cfg.Safety.TimeoutSeconds)*time.Second)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	resolved, err := app.ResolveOrgAndConfig(ctx, r, viper.GetString("org"), workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, resolved.Config, gatewayFromConfig(resolved.Config))
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func parseJSONFlag(raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
