/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/carbonwise/internal/auth"
	"github.com/friendsincode/carbonwise/internal/db"
)

var (
	apiKeyName    string
	apiKeyRoles   []string
	apiKeyExpires time.Duration
)

var apiKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apiKeyCreateCmd = &cobra.Command{
	Use:   "create <owner>",
	Short: "Create an API key and print it once",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyCreate,
}

var apiKeyListCmd = &cobra.Command{
	Use:   "list [owner]",
	Short: "List API keys",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAPIKeyList,
}

var apiKeyRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyRevoke,
}

func init() {
	apiKeyCreateCmd.Flags().StringVar(&apiKeyName, "name", "cli", "Key label")
	apiKeyCreateCmd.Flags().StringSliceVar(&apiKeyRoles, "roles", []string{auth.RoleSubmitter}, "Roles: submitter, operator, admin")
	apiKeyCreateCmd.Flags().DurationVar(&apiKeyExpires, "expires", 90*24*time.Hour, "Lifetime of the key")

	apiKeyCmd.AddCommand(apiKeyCreateCmd, apiKeyListCmd, apiKeyRevokeCmd)
	rootCmd.AddCommand(apiKeyCmd)
}

// initDatabase opens and migrates the configured database.
func initDatabase() (*gorm.DB, error) {
	database, err := db.Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database); err != nil {
		_ = db.Close(database)
		return nil, err
	}
	return database, nil
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	for _, role := range apiKeyRoles {
		switch role {
		case auth.RoleSubmitter, auth.RoleOperator, auth.RoleAdmin:
		default:
			return fmt.Errorf("unknown role %q", role)
		}
	}

	plaintext, key, err := auth.CreateAPIKey(database, args[0], apiKeyName, apiKeyRoles, apiKeyExpires)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	fmt.Printf("id:      %s\n", key.ID)
	fmt.Printf("owner:   %s\n", key.Owner)
	fmt.Printf("roles:   %s\n", key.Roles)
	fmt.Printf("expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
	fmt.Printf("key:     %s\n", plaintext)
	fmt.Println("\nStore the key now; it cannot be shown again.")
	return nil
}

func runAPIKeyList(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	owner := ""
	if len(args) == 1 {
		owner = args[0]
	}
	keys, err := auth.ListAPIKeys(database, owner)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOWNER\tNAME\tPREFIX\tROLES\tSTATUS\tEXPIRES")
	for _, k := range keys {
		status := "active"
		switch {
		case k.IsRevoked():
			status = "revoked"
		case k.IsExpired():
			status = "expired"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			k.ID, k.Owner, k.Name, k.KeyPrefix, k.Roles, status, k.ExpiresAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	if err := auth.RevokeAPIKey(database, args[0]); err != nil {
		return err
	}
	fmt.Printf("revoked %s\n", args[0])
	return nil
}
