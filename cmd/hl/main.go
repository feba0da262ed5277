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

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"hourline/internal/config"
	"hourline/internal/db"
	"hourline/internal/domain"
	"hourline/internal/engine"
	"hourline/internal/migrate"
	"hourline/internal/repo"
	"hourline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "hl",
	Short: "Hourline CLI",
	Long: `Hourline tracks community-service hour claims through review.
Core concepts:
- Workspace: your .hourline directory holding the database; hourline.yml configures proof and consent rules.
- Organizations: schools or community groups; every claim and event belongs to one.
- Claims: requests for service-hour credit (scheduled_event, donation, ad_hoc_service, other); they go pending -> approved/rejected exactly once.
- Events: scheduled service events organized by a coordinator; claims against them can inherit the event duration.
- Delegations: a coordinator hands review authority for one event to a student, who becomes a student-coordinator.
- Review: coordinators and delegates decide claims; a rejection always carries a comment; admins only audit outcomes.
- Audit log: diary of changes, view with 'hl log tail'.`,
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
	viper.SetEnvPrefix("HOURLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "acting actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(claimCmd())
	rootCmd.AddCommand(leaderboardCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage organizations"}
	org.AddCommand(orgCreateCmd())
	org.AddCommand(orgListCmd())
	org.AddCommand(orgShowCmd())
	return org
}

func orgCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				o, err := e.CreateOrg(ctx, viper.GetString("actor-id"), id, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "organization id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func orgListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListOrgs(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func orgShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				o, err := r.GetOrg(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
}

func actorCmd() *cobra.Command {
	actor := &cobra.Command{Use: "actor", Short: "Manage actors"}
	actor.AddCommand(actorRegisterCmd())
	actor.AddCommand(actorListCmd())
	actor.AddCommand(actorShowCmd())
	actor.AddCommand(actorConsentCmd())
	return actor
}

func actorRegisterCmd() *cobra.Command {
	var opts engine.RegisterActorOptions
	var role string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Role = domain.Role(role)
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := e.RegisterActor(ctx, viper.GetString("actor-id"), opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "actor id")
	cmd.Flags().StringVar(&opts.OrgID, "org", "", "organization id (omit for admins)")
	cmd.Flags().StringVar(&role, "role", "student", "role (student, student_coordinator, coordinator, admin)")
	cmd.Flags().StringVar(&opts.DisplayName, "display-name", "", "display name")
	cmd.Flags().BoolVar(&opts.Minor, "minor", false, "actor is a minor requiring guardian consent")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func actorListCmd() *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListActors(ctx, orgID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Org", "Role", "Minor", "Consent"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.OrgID, a.Role, a.Minor, a.Consent})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id filter")
	return cmd
}

func actorShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a, err := r.GetActor(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func actorConsentCmd() *cobra.Command {
	var target, status string
	cmd := &cobra.Command{
		Use:   "consent",
		Short: "Record guardian consent for a minor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actor, err := e.ResolveActor(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if err := e.SetConsent(ctx, actor, target, domain.ConsentStatus(status)); err != nil {
					return err
				}
				a, err := e.Repo.GetActor(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "target actor id")
	cmd.Flags().StringVar(&status, "status", "approved", "consent status (none, pending, approved)")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func eventCmd() *cobra.Command {
	event := &cobra.Command{
		Use:   "event",
		Short: "Manage events and delegations",
		Long:  "Events are coordinator-organized service occasions. Claims of kind scheduled_event reference one. Delegating an event hands its claim review to a student.",
	}
	event.AddCommand(eventCreateCmd())
	event.AddCommand(eventListCmd())
	event.AddCommand(eventDelegateCmd())
	event.AddCommand(eventUndelegateCmd())
	event.AddCommand(eventDelegatesCmd())
	return event
}

func eventCreateCmd() *cobra.Command {
	var d engine.EventDraft
	var duration int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an event",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("duration") {
				d.DurationMinutes = &duration
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actor, err := e.ResolveActor(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				evt, err := e.CreateEvent(ctx, actor, d)
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
	cmd.Flags().StringVar(&d.ID, "id", "", "event id (optional)")
	cmd.Flags().StringVar(&d.Title, "title", "", "title")
	cmd.Flags().StringVar(&d.StartsAt, "starts-at", "", "start time (RFC3339)")
	cmd.Flags().IntVar(&d.Capacity, "capacity", 0, "volunteer capacity")
	cmd.Flags().IntVar(&duration, "duration", 0, "duration in minutes")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func eventListCmd() *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListEvents(ctx, orgID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Org", "Title", "Starts", "Capacity"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.OrgID, evt.Title, evt.StartsAt, evt.Capacity})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id filter")
	return cmd
}

func eventDelegateCmd() *cobra.Command {
	var eventID, delegateID string
	cmd := &cobra.Command{
		Use:   "delegate",
		Short: "Delegate event review authority to a student",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actor, err := e.ResolveActor(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if err := e.Delegate(ctx, actor, eventID, delegateID); err != nil {
					return err
				}
				fmt.Printf("Delegated %s to %s\n", eventID, delegateID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "event id")
	cmd.Flags().StringVar(&delegateID, "actor", "", "delegate actor id")
	_ = cmd.MarkFlagRequired("event")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func eventUndelegateCmd() *cobra.Command {
	var eventID, delegateID string
	cmd := &cobra.Command{
		Use:   "undelegate",
		Short: "Revoke an event delegation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actor, err := e.ResolveActor(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if err := e.Undelegate(ctx, actor, eventID, delegateID); err != nil {
					return err
				}
				fmt.Printf("Revoked delegation of %s from %s\n", eventID, delegateID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "event id")
	cmd.Flags().StringVar(&delegateID, "actor", "", "delegate actor id")
	_ = cmd.MarkFlagRequired("event")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func eventDelegatesCmd() *cobra.Command {
	var eventID string
	cmd := &cobra.Command{
		Use:   "delegates",
		Short: "List event delegates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				ids, err := r.ListDelegatesFor(ctx, eventID)
				if err != nil {
					return err
				}
				return printJSONOrTable(ids)
			})
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "event id")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func claimCmd() *cobra.Command {
	claim := &cobra.Command{
		Use:   "claim",
		Short: "Manage claims",
		Long:  "Claims request service-hour credit. They are pending until a coordinator or event delegate approves or rejects them; the decision is final.",
	}
	claim.AddCommand(claimSubmitCmd())
	claim.AddCommand(claimListCmd())
	claim.AddCommand(claimShowCmd())
	claim.AddCommand(claimApproveCmd())
	claim.AddCommand(claimRejectCmd())
	return claim
}

func claimSubmitCmd() *cobra.Command {
	var d engine.Draft
	var kind string
	var hours float64
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a claim",
		RunE: func(cmd *cobra.Command, args []string) error {
			d.Kind = domain.ClaimKind(kind)
			if cmd.Flags().Changed("hours") {
				d.Hours = &hours
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actor, err := e.ResolveActor(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				c, err := e.Submit(ctx, actor, d)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "claim kind (scheduled_event, donation, ad_hoc_service, other)")
	cmd.Flags().StringVar(&d.EventID, "event", "", "event id (scheduled_event only)")
	cmd.Flags().Float64Var(&hours, "hours", 0, "claimed hours")
	cmd.Flags().StringVar(&d.ProofRef, "proof", "", "proof reference")
	cmd.Flags().StringVar(&d.Description, "description", "", "description")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func claimListCmd() *cobra.Command {
	var opts engine.ListOptions
	var state, kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visible claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.State = domain.ClaimState(state)
			opts.Kind = domain.ClaimKind(kind)
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actor, err := e.ResolveActor(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				claims, err := e.List(ctx, actor, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(claims)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Owner", "Kind", "Hours", "State", "Created"})
				for _, c := range claims {
					tw.AppendRow(table.Row{c.ID, c.OwnerID, c.Kind, c.CreditedHours(), c.State, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "state filter (pending, approved, rejected)")
	cmd.Flags().StringVar(&kind, "kind", "", "kind filter")
	cmd.Flags().StringVar(&opts.EventID, "event", "", "event id filter")
	cmd.Flags().StringVar(&opts.OrgID, "org", "", "organization filter (admins only)")
	cmd.Flags().StringVar(&opts.Search, "q", "", "description search")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "max claims")
	return cmd
}

func claimShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actor, err := e.ResolveActor(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				c, err := e.Get(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func claimApproveCmd() *cobra.Command {
	var comment string
	var hoursAwarded float64
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a pending claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var award *float64
			if cmd.Flags().Changed("hours-awarded") {
				award = &hoursAwarded
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actor, err := e.ResolveActor(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				c, err := e.Review(ctx, actor, args[0], domain.StateApproved, comment, award)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "review comment")
	cmd.Flags().Float64Var(&hoursAwarded, "hours-awarded", 0, "hours to credit (open-ended claims)")
	return cmd
}

func claimRejectCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actor, err := e.ResolveActor(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				c, err := e.Review(ctx, actor, args[0], domain.StateRejected, comment, nil)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "review comment (required)")
	_ = cmd.MarkFlagRequired("comment")
	return cmd
}

func leaderboardCmd() *cobra.Command {
	var orgID string
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Approved-hours leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rows, err := e.Leaderboard(ctx, orgID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Actor", "Name", "Org", "Hours", "Claims"})
				for _, row := range rows {
					tw.AppendRow(table.Row{row.ActorID, row.DisplayName, row.OrgID, row.Hours, row.Claims})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().IntVar(&limit, "limit", 20, "max rows")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Audit log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var orgID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestAuditEvents(ctx, n, orgID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&orgID, "org", "", "organization id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind (org, actor, event, claim)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	apikey := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	apikey.AddCommand(apikeyCreateCmd())
	apikey.AddCommand(apikeyListCmd())
	apikey.AddCommand(apikeyDeleteCmd())
	return apikey
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// The plaintext key is shown once; only the hash is stored.
				return printJSONOrTable(map[string]string{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"key":      secret,
				})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default hourline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              cfg.Auth.JWTSecret,
				AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
				Logger:                 logger,
			}
			if secret := os.Getenv("HOURLINE_JWT_SECRET"); secret != "" {
				authCfg.JWTSecret = secret
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("HOURLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e, logger)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving Hourline API",
				zap.String("addr", addr),
				zap.String("base_path", basePath))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
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
	return fn(ctx, repo.Repo{DB: conn})
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
