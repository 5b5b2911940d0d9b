// Package directorycmd holds the operator commands managing directory
// registrations without going through the admin API.
package directorycmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openkcm/directory-auth/internal/business"
	"github.com/openkcm/directory-auth/internal/cmdutils"
	"github.com/openkcm/directory-auth/internal/config"
	"github.com/openkcm/directory-auth/internal/directory"
)

func Cmd(buildInfo string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Manage directory registrations",
	}

	cmd.AddCommand(
		registerCmd(buildInfo),
		getCmd(buildInfo),
	)

	return cmd
}

type registrationOutput struct {
	ID              int64   `json:"id"`
	ClientID        string  `json:"clientId"`
	TenantID        string  `json:"tenantId"`
	DirectoryDomain string  `json:"directoryDomain"`
	DomainHint      string  `json:"domainHint"`
	RefID           *int64  `json:"refId,omitempty"`
	RefIDStr        *string `json:"refIdStr,omitempty"`
}

func printRegistration(w io.Writer, reg directory.Registration) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(registrationOutput{
		ID:              reg.ID,
		ClientID:        reg.ClientID,
		TenantID:        reg.TenantID,
		DirectoryDomain: reg.DirectoryDomain,
		DomainHint:      reg.DomainHint,
		RefID:           reg.RefID,
		RefIDStr:        reg.RefIDStr,
	})
}

// ClientSecretEnv names the environment variable the register command reads
// the client secret from.
const ClientSecretEnv = "DIRECTORY_AUTH_CLIENT_SECRET"

const maxSecretSize = 4096

var errClientSecret = errors.New("exactly one of --client-secret, --client-secret-stdin or " + ClientSecretEnv + " must provide the client secret")

// readClientSecret returns the secret from stdin, the environment or the
// flag. A flag value shows up in process listings and shell history.
func readClientSecret(cmd *cobra.Command, fromStdin bool) (string, error) {
	var sources []string

	flagValue, _ := cmd.Flags().GetString("client-secret")
	if cmd.Flags().Changed("client-secret") {
		sources = append(sources, flagValue)
	}

	if env, ok := os.LookupEnv(ClientSecretEnv); ok && env != "" {
		sources = append(sources, env)
	}

	if fromStdin {
		b, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxSecretSize))
		if err != nil {
			return "", fmt.Errorf("reading client secret from stdin: %w", err)
		}
		sources = append(sources, strings.TrimRight(string(b), "\r\n"))
	}

	if len(sources) != 1 || strings.TrimSpace(sources[0]) == "" {
		return "", errClientSecret
	}

	return sources[0], nil
}

func registerCmd(buildInfo string) *cobra.Command {
	var (
		reg       directory.Registration
		refID     int64
		fromStdin bool
	)

	var cmd *cobra.Command
	cmd = cmdutils.CobraCommand(
		"register",
		"Register a directory",
		"Adds a tenant registration to the configured directory backend",
		buildInfo,
		cmdutils.RunAsJob,
		func(ctx context.Context, cfg *config.Config) error {
			if cmd.Flags().Changed("ref-id") {
				reg.RefID = &refID
			}

			got, err := business.RegisterDirectory(ctx, cfg, reg)
			if err != nil {
				return err
			}

			return printRegistration(cmd.OutOrStdout(), got)
		},
	)

	cmd.Flags().StringVar(&reg.ClientID, "client-id", "", "application (client) id of the directory")
	cmd.Flags().StringVar(&reg.ClientSecret, "client-secret", "", "client secret of the application; prefer --client-secret-stdin or "+ClientSecretEnv)
	cmd.Flags().BoolVar(&fromStdin, "client-secret-stdin", false, "read the client secret from stdin")
	cmd.Flags().StringVar(&reg.TenantID, "tenant-id", "", "directory (tenant) id")
	cmd.Flags().StringVar(&reg.DirectoryDomain, "domain", "", "directory domain, e.g. @contoso.com")
	cmd.Flags().Int64Var(&refID, "ref-id", 0, "optional numeric reference id")

	for _, name := range []string{"client-id", "tenant-id", "domain"} {
		_ = cmd.MarkFlagRequired(name)
	}
	cmd.MarkFlagsMutuallyExclusive("client-secret", "client-secret-stdin")

	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		secret, err := readClientSecret(cmd, fromStdin)
		if err != nil {
			return err
		}
		reg.ClientSecret = secret

		return nil
	}

	return cmd
}

func getCmd(buildInfo string) *cobra.Command {
	var tenantID, domain string

	var cmd *cobra.Command
	cmd = cmdutils.CobraCommand(
		"get",
		"Show a directory registration",
		"Looks up a registration by tenant id or directory domain",
		buildInfo,
		cmdutils.RunAsJob,
		func(ctx context.Context, cfg *config.Config) error {
			reg, err := business.LookupDirectory(ctx, cfg, tenantID, domain)
			if err != nil {
				return fmt.Errorf("looking up directory: %w", err)
			}

			return printRegistration(cmd.OutOrStdout(), reg)
		},
	)

	cmd.Flags().StringVar(&tenantID, "tenant-id", "", "directory (tenant) id")
	cmd.Flags().StringVar(&domain, "domain", "", "directory domain, e.g. @contoso.com")
	cmd.MarkFlagsOneRequired("tenant-id", "domain")
	cmd.MarkFlagsMutuallyExclusive("tenant-id", "domain")

	return cmd
}
