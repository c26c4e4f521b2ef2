package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"licensekit/internal/config"
	"licensekit/internal/exporter"
	"licensekit/internal/license"
	"licensekit/internal/registry"
	"licensekit/pkg/contracts/domain"
)

func RunKeygenCommand(flags *globalFlags) *cobra.Command {
	var force bool

	command := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the RSA signing key pair",
		Long: `Generate a 2048-bit RSA key pair in the keys directory.

An existing key pair is kept unless --force is given; replacing it makes every
license signed with the old key fail signature verification.`,
		Args: cobra.NoArgs,
	}
	command.Flags().BoolVar(&force, "force", false, "overwrite an existing key pair")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, flags, nil)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		meta, err := a.Keys().GenerateKeyPair(cmd.Context(), force)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Key pair created in %s\n", a.Keys().Dir())
		fmt.Fprintf(out, "  algorithm:   %s-%d\n", meta.Algorithm, meta.Bits)
		fmt.Fprintf(out, "  fingerprint: %s\n", meta.PublicKeyFingerprint)
		fmt.Fprintf(out, "  encrypted:   %t\n", meta.Encrypted)
		fmt.Fprintf(out, "Distribute %s with the client build.\n", a.Keys().PublicKeyPath())
		return nil
	}

	return command
}

func RunGenerateCommand(flags *globalFlags) *cobra.Command {
	var (
		req     license.GenerateRequest
		maxUser int
		asJSON  bool
	)

	command := &cobra.Command{
		Use:   "generate",
		Short: "Issue a signed license for a client machine",
		Long: `Issue a signed license bound to a hardware id and record it in the registry.

When --hwid is omitted the license is bound to this machine. When --expires is
omitted the tier's default duration applies.`,
		Args: cobra.NoArgs,
	}
	command.Flags().StringVar(&req.Client, "client", "", "client name (required)")
	command.Flags().StringVar(&req.LicenseType, "type", string(domain.LicenseTypeBasic), "license tier: DEMO, BASIC, PRO or ENTERPRISE")
	command.Flags().StringVar(&req.HardwareID, "hwid", "", "64 character hex hardware id of the client machine")
	command.Flags().StringVar(&req.Expires, "expires", "", "expiry date (YYYY-MM-DD)")
	command.Flags().IntVar(&maxUser, "max-users", 0, "user limit for PRO and ENTERPRISE licenses")
	command.Flags().StringVar(&req.Notes, "notes", "", "free-form notes kept in the registry")
	command.Flags().StringVarP(&req.OutputPath, "out", "o", "", "write the license to this path instead of the output directory")
	command.Flags().BoolVar(&asJSON, "json", false, "print the registry record as JSON")
	_ = command.MarkFlagRequired("client")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, flags, nil)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		ctx := cmd.Context()
		if cmd.Flags().Changed("max-users") {
			req.MaxUsers = &maxUser
		}
		if req.HardwareID == "" {
			hwid, err := a.Fingerprints().HardwareID(ctx)
			if err != nil {
				return fmt.Errorf("failed to fingerprint this machine, pass --hwid: %w", err)
			}
			req.HardwareID = hwid
		}

		issuer, err := a.Issuer()
		if err != nil {
			return err
		}
		result, err := issuer.Generate(ctx, req)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			return writeJSON(out, result)
		}
		rec := result.Record
		fmt.Fprintf(out, "License %s issued\n", rec.ID)
		fmt.Fprintf(out, "  client:  %s\n", rec.Client)
		fmt.Fprintf(out, "  type:    %s\n", rec.LicenseType)
		fmt.Fprintf(out, "  expires: %s\n", rec.Expires)
		fmt.Fprintf(out, "  file:    %s\n", rec.FilePath)
		for _, w := range result.Warnings {
			fmt.Fprintf(out, "warning: %s\n", w)
		}
		return nil
	}

	return command
}

func RunListCommand(flags *globalFlags) *cobra.Command {
	var (
		client     string
		tier       string
		activeOnly bool
		revoked    bool
		asJSON     bool
	)

	command := &cobra.Command{
		Use:   "list",
		Short: "List issued licenses",
		Args:  cobra.NoArgs,
	}
	command.Flags().StringVar(&client, "client", "", "filter by client name (substring, case-insensitive)")
	command.Flags().StringVar(&tier, "type", "", "filter by license tier")
	command.Flags().BoolVar(&activeOnly, "active", false, "only licenses that are neither revoked nor expired")
	command.Flags().BoolVar(&revoked, "revoked", false, "only revoked licenses")
	command.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		filter := registry.Filter{Client: client}
		if tier != "" {
			lt, err := license.ParseLicenseType(tier)
			if err != nil {
				return err
			}
			filter.LicenseType = lt
		}
		if activeOnly {
			filter.Active = &activeOnly
		}
		if revoked {
			filter.Revoked = &revoked
		}

		a, err := openApp(cmd, flags, nil)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		issuer, err := a.Issuer()
		if err != nil {
			return err
		}
		records, err := issuer.List(cmd.Context(), filter)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			return writeJSON(out, records)
		}
		if len(records) == 0 {
			fmt.Fprintln(out, "No licenses found")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCLIENT\tTYPE\tEXPIRES\tSTATUS\tHARDWARE")
		for _, rec := range records {
			status := "active"
			if rec.Revoked {
				status = "revoked"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				rec.ID, rec.Client, rec.LicenseType, rec.Expires, status, shortID(rec.HardwareID))
		}
		return tw.Flush()
	}

	return command
}

func RunShowCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <license-id>",
		Short: "Print a registry record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, flags, nil)
			if err != nil {
				return err
			}
			defer closeApp(cmd, a)

			issuer, err := a.Issuer()
			if err != nil {
				return err
			}
			rec, err := issuer.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func RunRevokeCommand(flags *globalFlags) *cobra.Command {
	var (
		reason   string
		noExport bool
	)

	command := &cobra.Command{
		Use:   "revoke <license-id>",
		Short: "Revoke a license and refresh the blacklist export",
		Long: `Mark a license as revoked in the registry.

Clients learn about the revocation through the blacklist file, which is
rewritten afterwards unless --no-export is given.`,
		Args: cobra.ExactArgs(1),
	}
	command.Flags().StringVar(&reason, "reason", "", "reason recorded with the revocation")
	command.Flags().BoolVar(&noExport, "no-export", false, "skip rewriting the blacklist file")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, flags, nil)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		ctx := cmd.Context()
		issuer, err := a.Issuer()
		if err != nil {
			return err
		}
		result, err := issuer.Revoke(ctx, args[0], strings.TrimSpace(reason))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if result.AlreadyRevoked {
			fmt.Fprintf(out, "License %s was already revoked\n", result.Record.ID)
		} else {
			fmt.Fprintf(out, "License %s revoked\n", result.Record.ID)
		}

		if noExport {
			return nil
		}
		path, count, err := issuer.WriteBlacklist(ctx, "")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Blacklist written to %s (%d entries)\n", path, count)
		return nil
	}

	return command
}

func RunExportBlacklistCommand(flags *globalFlags) *cobra.Command {
	var outPath string

	command := &cobra.Command{
		Use:   "export-blacklist",
		Short: "Write the revoked license ids for distribution to clients",
		Args:  cobra.NoArgs,
	}
	command.Flags().StringVarP(&outPath, "out", "o", "", "destination file (default is the configured blacklist path)")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, flags, nil)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		issuer, err := a.Issuer()
		if err != nil {
			return err
		}
		path, count, err := issuer.WriteBlacklist(cmd.Context(), outPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Blacklist written to %s (%d entries)\n", path, count)
		return nil
	}

	return command
}

func RunStatsCommand(flags *globalFlags) *cobra.Command {
	var asJSON bool

	command := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the registry by status and tier",
		Args:  cobra.NoArgs,
	}
	command.Flags().BoolVar(&asJSON, "json", false, "print statistics as JSON")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, flags, nil)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		issuer, err := a.Issuer()
		if err != nil {
			return err
		}
		stats, err := issuer.Stats(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			return writeJSON(out, stats)
		}
		fmt.Fprintf(out, "Total:   %d\n", stats.Total)
		fmt.Fprintf(out, "Active:  %d\n", stats.Active)
		fmt.Fprintf(out, "Expired: %d\n", stats.Expired)
		fmt.Fprintf(out, "Revoked: %d\n", stats.Revoked)
		for _, lt := range domain.AllLicenseTypes {
			if n := stats.ByTier[lt]; n > 0 {
				fmt.Fprintf(out, "  %-10s %d\n", lt, n)
			}
		}
		return nil
	}

	return command
}

func RunExportCommand(flags *globalFlags) *cobra.Command {
	var (
		format  string
		outPath string
	)

	command := &cobra.Command{
		Use:   "export",
		Short: "Write a registry report as CSV or Excel",
		Args:  cobra.NoArgs,
	}
	command.Flags().StringVar(&format, "format", string(exporter.FormatCSV), "report format: csv or xlsx")
	command.Flags().StringVarP(&outPath, "out", "o", "", "destination file (default is a timestamped file in the reports directory)")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		f, err := exporter.ParseFormat(format)
		if err != nil {
			return err
		}

		a, err := openApp(cmd, flags, nil)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		issuer, err := a.Issuer()
		if err != nil {
			return err
		}
		path, err := issuer.ExportFile(cmd.Context(), f, outPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", path)
		return nil
	}

	return command
}

func RunServeCommand(flags *globalFlags) *cobra.Command {
	var (
		issuer bool
		host   string
		port   int
	)

	command := &cobra.Command{
		Use:   "serve",
		Short: "Start the license HTTP service",
		Long: `Serve the license status API. With --issuer the registry API is mounted
as well; keep that off on customer machines.`,
		Args: cobra.NoArgs,
	}
	command.Flags().BoolVar(&issuer, "issuer", false, "mount the registry API")
	command.Flags().StringVar(&host, "host", "", "listen host (default from config)")
	command.Flags().IntVar(&port, "port", 0, "listen port (default from config)")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, flags, func(cfg *config.Config) {
			if cmd.Flags().Changed("issuer") {
				cfg.Server.EnableIssuer = issuer
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port > 0 {
				cfg.Server.Port = port
			}
		})
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		return a.Serve(cmd.Context(), nil)
	}

	return command
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(hwid string) string {
	if len(hwid) <= 12 {
		return hwid
	}
	return hwid[:12] + "…"
}
