package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/datamartlabs/source-assistant/pkg/assistant"
	"github.com/datamartlabs/source-assistant/pkg/persistence/assistantstore"
)

var (
	configPath string
	dbPath     string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:          "source-assistant",
		Short:        "Inspect and drive AI source assistant sessions",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "sqlite database path (overrides config)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "zerolog level (overrides config)")

	root.AddCommand(
		newInitDBCommand(),
		newSessionShowCommand(),
		newLedgerListCommand(),
		newContextShowCommand(),
		newApplyCommand(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if strings.TrimSpace(logLevel) != "" {
		level = logLevel
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "parse log level %q", level)
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	return nil
}

func openStore() (*assistantstore.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	path := cfg.DBPath
	if strings.TrimSpace(dbPath) != "" {
		path = dbPath
	}
	dsn, err := assistantstore.DSNForFile(path)
	if err != nil {
		return nil, err
	}
	return assistantstore.Open(dsn)
}

func newInitDBCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the sqlite database and run migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			log.Info().Msg("database initialized")
			return nil
		},
	}
}

func newSessionShowCommand() *cobra.Command {
	var dataMartID, projectID string
	cmd := &cobra.Command{
		Use:   "session <session-id>",
		Short: "Show a session and its chat turns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			ctx := cmd.Context()

			session, err := store.Sessions().Get(ctx, args[0], assistant.Scope{DataMartID: dataMartID, ProjectID: projectID})
			if err != nil {
				return err
			}
			turns, err := store.Turns().ListBySession(ctx, session.ID)
			if err != nil {
				return err
			}
			printJSON(cmd, map[string]any{"session": session, "turns": turns})
			return nil
		},
	}
	cmd.Flags().StringVar(&dataMartID, "data-mart", "", "data mart id")
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	return cmd
}

func newLedgerListCommand() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "ledger <session-id>",
		Short: "List apply ledger records of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			records, err := store.Ledger().ListBySession(cmd.Context(), args[0], userID)
			if err != nil {
				return err
			}
			printJSON(cmd, records)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "creator user id")
	return cmd
}

func newContextShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "context <session-id>",
		Short: "Show the stored conversation context of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			stored, ok, err := store.Contexts().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errors.Errorf("no stored context for session %s", args[0])
			}
			printJSON(cmd, map[string]any{
				"sessionId":            stored.SessionID,
				"conversationSnapshot": json.RawMessage(stored.ConversationSnapshot),
				"stateSnapshot":        json.RawMessage(stored.StateSnapshot),
				"updatedAt":            stored.UpdatedAt,
			})
			return nil
		},
	}
}

func newApplyCommand() *cobra.Command {
	var dataMartID, projectID, userID, assistantMessageID string
	cmd := &cobra.Command{
		Use:   "apply <session-id> <request-id>",
		Short: "Apply (or replay) a proposed action from a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			service, err := buildApplyService(store)
			if err != nil {
				return err
			}
			result, err := service.Apply(cmd.Context(), assistant.ApplyCommand{
				SessionID:          args[0],
				RequestID:          args[1],
				DataMartID:         dataMartID,
				ProjectID:          projectID,
				UserID:             userID,
				AssistantMessageID: assistantMessageID,
			})
			if err != nil {
				return err
			}
			printJSON(cmd, result)
			return nil
		},
	}
	cmd.Flags().StringVar(&dataMartID, "data-mart", "", "data mart id")
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&userID, "user", "", "acting user id")
	cmd.Flags().StringVar(&assistantMessageID, "message", "", "assistant message id the action belongs to")
	return cmd
}

func buildApplyService(store *assistantstore.Store) (*assistant.ApplyService, error) {
	logger := log.Logger

	engine := assistant.NewExecutionEngine(assistant.ExecutionEngineConfig{
		Templates: store.Templates(),
		Artifacts: store.Artifacts(),
		Turns:     store.Turns(),
		Validator: passthroughValidator{},
		Replacer:  unsupportedReplacer{},
		Clock:     assistant.SystemClock(),
		Logger:    logger,
	})

	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	publisher, err := assistant.NewApplyEventPublisher(pubsub, assistant.SystemClock())
	if err != nil {
		return nil, err
	}

	return assistant.NewApplyService(assistant.ApplyServiceConfig{
		Ledger:    store.Ledger(),
		Sessions:  store.Sessions(),
		Turns:     store.Turns(),
		Engine:    engine,
		Tx:        store,
		Publisher: publisher,
		Clock:     assistant.SystemClock(),
		Logger:    logger,
	})
}

// passthroughValidator accepts any source list. The CLI has no scope catalog
// to validate against.
type passthroughValidator struct{}

func (passthroughValidator) ValidateSources(context.Context, []assistant.TemplateSource, assistant.Scope) error {
	return nil
}

// unsupportedReplacer rejects template-document edits; the CLI cannot render
// templates.
type unsupportedReplacer struct{}

func (unsupportedReplacer) Apply(context.Context, assistant.ReplaceTemplateRequest) (assistant.ReplaceTemplateResult, error) {
	return assistant.ReplaceTemplateResult{}, assistant.NewClientInputError("template document replacement is not available from the CLI")
}

func printJSON(cmd *cobra.Command, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}
