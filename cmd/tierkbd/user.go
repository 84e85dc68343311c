package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tierkb/internal/access"
	"github.com/fyrsmithlabs/tierkb/internal/config"
	"github.com/fyrsmithlabs/tierkb/internal/userstore"
)

var (
	userPassword string
	userTier     string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts in the user store",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create an account",
	Long: `Create an account in the user store.

Examples:
  # Create a low-tier account (the default)
  tierkbd user add alice --password s3cret

  # Create an account at a specific tier
  tierkbd user add bob --password s3cret --access-level med`,
	Args: cobra.ExactArgs(1),
	RunE: runUserAdd,
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Delete an account",
	Long: `Delete an account from the user store.

The account is soft-deleted: it stops authenticating immediately but
its record is retained.`,
	Args: cobra.ExactArgs(1),
	RunE: runUserDelete,
}

func init() {
	userAddCmd.Flags().StringVar(&userPassword, "password", "", "password for the new account")
	userAddCmd.Flags().StringVar(&userTier, "access-level", "", "access tier (defaults to the least privileged)")
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userDeleteCmd)
	rootCmd.AddCommand(userCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	tier, err := addUser(cfg, args[0], userPassword, userTier)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s (access level %s)\n", args[0], tier)
	return nil
}

func runUserDelete(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := deleteUser(cfg, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}

// addUser creates an account and returns the tier it landed on. An
// empty tier defaults to the least privileged one.
func addUser(cfg *config.Config, username, password, tier string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password is required")
	}

	policy, err := access.NewPolicy(cfg.Storage.Tiers)
	if err != nil {
		return "", fmt.Errorf("building access policy: %w", err)
	}
	if tier == "" {
		tiers := policy.Tiers()
		tier = tiers[len(tiers)-1]
	}
	if _, err := policy.Parse(tier); err != nil {
		return "", err
	}

	users, err := userstore.Open(cfg.Storage.UsersFile, zap.NewNop())
	if err != nil {
		return "", fmt.Errorf("opening user store: %w", err)
	}
	if err := users.Create(username, password, tier); err != nil {
		return "", err
	}
	return tier, nil
}

func deleteUser(cfg *config.Config, username string) error {
	users, err := userstore.Open(cfg.Storage.UsersFile, zap.NewNop())
	if err != nil {
		return fmt.Errorf("opening user store: %w", err)
	}
	return users.Delete(username)
}
