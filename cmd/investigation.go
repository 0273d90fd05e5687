package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/olorin-labs/olorin-risk/api/schemas"
	"github.com/olorin-labs/olorin-risk/internal/investigation"
	"github.com/olorin-labs/olorin-risk/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// withService opens the backend and hands an investigation service to fn.
func withService(cmd *cobra.Command, provider storeProvider, fn func(ctx context.Context, svc *investigation.Service) error) error {
	ctx := cmd.Context()
	cfg, err := getConfigFromContext(ctx)
	if err != nil {
		return err
	}
	be, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}
	return fn(ctx, investigation.NewService(be, cfg.Locking(), observability.GetLogger(), nil))
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func newInvestigationCmd(provider storeProvider) *cobra.Command {
	invCmd := &cobra.Command{
		Use:     "investigation",
		Aliases: []string{"inv"},
		Short:   "Create, read and update version-guarded investigations",
	}
	var userID string
	invCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "Acting user ID (required)")
	_ = invCmd.MarkPersistentFlagRequired("user")

	invCmd.AddCommand(newInvestigationCreateCmd(provider, &userID))
	invCmd.AddCommand(newInvestigationGetCmd(provider, &userID))
	invCmd.AddCommand(newInvestigationUpdateCmd(provider, &userID))
	invCmd.AddCommand(newInvestigationHistoryCmd(provider, &userID))
	return invCmd
}

func newInvestigationCreateCmd(provider storeProvider, userID *string) *cobra.Command {
	var id string
	var settings schemas.InvestigationSettings

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an investigation at version 1",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, provider, func(ctx context.Context, svc *investigation.Service) error {
				req := investigation.CreateRequest{InvestigationID: id, UserID: *userID}
				if settings.Name != "" || settings.EntityType != "" || settings.EntityID != "" {
					req.Settings = &settings
				}
				state, err := svc.Create(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), state)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Investigation ID (generated when empty)")
	cmd.Flags().StringVar(&settings.Name, "name", "", "Investigation name")
	cmd.Flags().StringVar(&settings.EntityType, "entity-type", "", "Entity type: user_id, ip, device_id, email or account")
	cmd.Flags().StringVar(&settings.EntityID, "entity-id", "", "Entity identifier")
	return cmd
}

func newInvestigationGetCmd(provider storeProvider, userID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <investigation-id>",
		Short: "Print an investigation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, provider, func(ctx context.Context, svc *investigation.Service) error {
				state, err := svc.Get(ctx, args[0], *userID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), state)
			})
		},
	}
}

func newInvestigationUpdateCmd(provider storeProvider, userID *string) *cobra.Command {
	var ifMatch, payloadArg string

	cmd := &cobra.Command{
		Use:   "update <investigation-id>",
		Short: "Apply a partial update guarded by the expected version",
		Long: `Applies a JSON update payload. --payload takes inline JSON or @path to a
file. --if-match pins the expected version; without it, a write that loses a
race is retried against the fresh record.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(payloadArg)
			if err != nil {
				return err
			}
			expected, err := investigation.ParseExpectedVersion(ifMatch)
			if err != nil {
				return err
			}
			return withService(cmd, provider, func(ctx context.Context, svc *investigation.Service) error {
				state, err := svc.Update(ctx, args[0], *userID, payload, expected)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), state)
			})
		},
	}
	cmd.Flags().StringVar(&ifMatch, "if-match", "", "Expected version (e.g. 3 or \"3\")")
	cmd.Flags().StringVar(&payloadArg, "payload", "", "Update payload as JSON, or @file (required)")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}

func readPayload(arg string) (schemas.UpdatePayload, error) {
	var payload schemas.UpdatePayload
	data := []byte(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return payload, fmt.Errorf("error reading payload file: %w", err)
		}
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", investigation.ErrInvalidPayload, err)
	}
	return payload, nil
}

func newInvestigationHistoryCmd(provider storeProvider, userID *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <investigation-id>",
		Short: "Print version transitions, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, provider, func(ctx context.Context, svc *investigation.Service) error {
				entries, err := svc.History(ctx, args[0], *userID, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entries)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries (0 selects the configured default)")
	return cmd
}
