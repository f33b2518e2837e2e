package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/solatis/rulebook/internal/core/auth"
	"github.com/solatis/rulebook/internal/core/config"
)

func newAPIKeyCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Issue and revoke API keys",
	}

	// withAuthenticator runs fn with an authenticator over the configured
	// secrets and database.
	withAuthenticator := func(cmd *cobra.Command, fn func(*auth.Authenticator, map[string][]byte) error) error {
		cfg, err := g.loadConfig(cmd)
		if err != nil {
			return err
		}
		secrets, err := config.HMACSecrets()
		if err != nil {
			return fmt.Errorf("failed to load HMAC secrets: %w", err)
		}
		if len(secrets) == 0 {
			return fmt.Errorf("no HMAC secrets configured (set RB_HMAC_SECRET environment variable)")
		}

		database, queries, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := requireMigrated(database); err != nil {
			return err
		}
		return fn(auth.NewAuthenticator(secrets, queries, g.logger), secrets)
	}

	var name, secretID string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API key and print it once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthenticator(cmd, func(a *auth.Authenticator, secrets map[string][]byte) error {
				id := secretID
				if id == "" {
					if len(secrets) > 1 {
						ids := make([]string, 0, len(secrets))
						for k := range secrets {
							ids = append(ids, k)
						}
						sort.Strings(ids)
						return fmt.Errorf("several secrets configured, choose one with --secret-id (%v)", ids)
					}
					for k := range secrets {
						id = k
					}
				}

				key, info, err := a.IssueAPIKey(cmd.Context(), name, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "api_key_id: %s\napi_key: %s\n", info.ID, key)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "human-readable key name")
	create.Flags().StringVar(&secretID, "secret-id", "", "secret used to sign the key (required when several are configured)")
	create.MarkFlagRequired("name")

	revoke := &cobra.Command{
		Use:   "revoke <api-key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthenticator(cmd, func(a *auth.Authenticator, _ map[string][]byte) error {
				return a.RevokeAPIKey(cmd.Context(), args[0])
			})
		},
	}

	cmd.AddCommand(create, revoke)
	return cmd
}
