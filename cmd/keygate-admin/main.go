// Package main is the entrypoint for the Keygate admin CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/keygate-io/keygate/internal/auth"
	"github.com/keygate-io/keygate/internal/db"
	"github.com/keygate-io/keygate/internal/license"
	"github.com/keygate-io/keygate/internal/maintenance"
	"github.com/keygate-io/keygate/internal/models"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "keygate-admin",
		Short: "Keygate license administration",
		Long: `Keygate Admin manages licenses directly against the license database.

Set DATABASE_URL to the Postgres connection string of the Keygate server.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newIssueCmd(),
		newShowCmd(),
		newLookupCmd(),
		newCancelCmd(),
		newExpireCmd(),
		newGenKeyCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Keygate Admin %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// openDB connects to the license database using DATABASE_URL.
func openDB(ctx context.Context) (*db.DB, zerolog.Logger, error) {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return nil, logger, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	cfg := db.DefaultConfig(url)
	cfg.MaxConns = 2
	cfg.MinConns = 1

	database, err := db.New(ctx, cfg, logger)
	if err != nil {
		return nil, logger, fmt.Errorf("connect to database: %w", err)
	}
	return database, logger, nil
}

func newIssueCmd() *cobra.Command {
	var email, contact, ref string

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a new paid license",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			database, logger, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			lifecycle := license.NewLifecycle(database, license.DefaultConfig(), logger)
			lic, err := lifecycle.Issue(ctx, email, contact, ref)
			if err != nil {
				return fmt.Errorf("issue license: %w", err)
			}

			fmt.Printf("License issued: %s\n", lic.Key)
			if lic.OwnerEmail != "" {
				fmt.Printf("  Owner: %s\n", lic.OwnerEmail)
			}
			fmt.Printf("  Subscription: %s\n", lic.SubscriptionRef)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Owner email address")
	cmd.Flags().StringVar(&contact, "contact", "", "Owner contact number")
	cmd.Flags().StringVar(&ref, "ref", "", "Subscription or order reference (required)")
	_ = cmd.MarkFlagRequired("ref")

	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <license-key>",
		Short: "Show a license record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			database, _, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			lic, err := database.GetLicenseByKey(ctx, license.NormalizeKey(args[0]))
			if err != nil {
				return fmt.Errorf("get license: %w", err)
			}

			printLicense(lic)
			return nil
		},
	}
}

func newLookupCmd() *cobra.Command {
	var hardwareID string

	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Find the license bound to a device",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			database, _, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			lic, err := database.FindLicenseByHardwareID(ctx, hardwareID)
			if err != nil {
				return fmt.Errorf("find license: %w", err)
			}

			printLicense(lic)
			return nil
		},
	}

	cmd.Flags().StringVar(&hardwareID, "hardware-id", "", "Hardware fingerprint (required)")
	_ = cmd.MarkFlagRequired("hardware-id")

	return cmd
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <license-key>",
		Short: "Cancel a license",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			database, logger, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			lifecycle := license.NewLifecycle(database, license.DefaultConfig(), logger)
			if err := lifecycle.Cancel(ctx, args[0]); err != nil {
				return fmt.Errorf("cancel license: %w", err)
			}

			fmt.Println("License cancelled.")
			return nil
		},
	}
}

func newExpireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Run the expiry sweep immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			database, logger, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			maintenance.NewExpiryScheduler(database, logger).RunNow()
			return nil
		},
	}
}

func newGenKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Generate a new admin API key",
		Long: `Generate a new admin API key.

Set the printed value as ADMIN_API_KEY on the Keygate server and use it
as a bearer token against /api/v1/admin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := auth.GenerateAPIKey()
			if err != nil {
				return fmt.Errorf("generate API key: %w", err)
			}
			fmt.Println(key)
			return nil
		},
	}
}

func printLicense(lic *models.License) {
	fmt.Printf("Key:          %s\n", lic.Key)
	fmt.Printf("Status:       %s\n", lic.Status)
	fmt.Printf("Subscription: %s\n", lic.SubscriptionRef)
	if lic.IsTrial() {
		fmt.Printf("Trial:        yes\n")
	}
	if lic.OwnerEmail != "" {
		fmt.Printf("Owner:        %s\n", lic.OwnerEmail)
	}
	if lic.OwnerContact != "" {
		fmt.Printf("Contact:      %s\n", lic.OwnerContact)
	}
	if lic.HardwareID != nil {
		fmt.Printf("Hardware:     %s\n", *lic.HardwareID)
	} else {
		fmt.Printf("Hardware:     (unbound)\n")
	}
	if lic.ExpiresAt != nil {
		fmt.Printf("Expires:      %s\n", lic.ExpiresAt.UTC().Format(time.RFC3339))
	}
	fmt.Printf("Created:      %s\n", lic.CreatedAt.UTC().Format(time.RFC3339))
}
