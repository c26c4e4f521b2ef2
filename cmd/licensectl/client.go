package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"licensekit/internal/config"
	"licensekit/internal/license"
	"licensekit/pkg/contracts/domain"
)

// exitInvalidLicense is returned by validate when the license is rejected
const exitInvalidLicense = 2

func RunFingerprintCommand(flags *globalFlags) *cobra.Command {
	var (
		asJSON  bool
		refresh bool
	)

	command := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the hardware id of this machine",
		Long: `Probe this machine's identifiers and print the derived hardware id.

Send the hardware id to the license issuer to obtain a license bound to this
machine.`,
		Args: cobra.NoArgs,
	}
	command.Flags().BoolVar(&asJSON, "json", false, "print the full fingerprint as JSON")
	command.Flags().BoolVar(&refresh, "refresh", false, "ignore any cached fingerprint and probe again")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, flags, nil)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		fetch := a.Fingerprints().Fingerprint
		if refresh {
			fetch = a.Fingerprints().Refresh
		}
		fp, err := fetch(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			return writeJSON(out, fp)
		}
		fmt.Fprintf(out, "Hardware ID: %s\n", fp.HardwareID)
		fmt.Fprintf(out, "Platform:    %s\n", fp.Platform)
		fmt.Fprintf(out, "Hostname:    %s\n", fp.Hostname)
		fmt.Fprintf(out, "Sources:     %s\n", strings.Join(fp.Sources, ", "))
		if fp.FallbackUsed {
			fmt.Fprintln(out, "warning: too few hardware identifiers, host facts were used")
		}
		return nil
	}

	return command
}

func RunValidateCommand(flags *globalFlags) *cobra.Command {
	var (
		file       string
		verbose    bool
		expectHWID string
		noHardware bool
		registry   bool
		asJSON     bool
	)

	command := &cobra.Command{
		Use:   "validate",
		Short: "Validate a license file",
		Long: `Validate a license file against the public key, its expiry date, this
machine's hardware id and the blacklist.

The command exits with status 2 when the license is not valid.`,
		Args: cobra.NoArgs,
	}
	command.Flags().StringVarP(&file, "file", "f", "", "license file (default is the configured license path)")
	command.Flags().BoolVarP(&verbose, "verbose", "v", false, "run every stage and print the per-stage summary")
	command.Flags().StringVar(&expectHWID, "expect-hwid", "", "compare against this hardware id instead of probing the machine")
	command.Flags().BoolVar(&noHardware, "no-hardware", false, "skip the hardware check")
	command.Flags().BoolVar(&registry, "registry", false, "look the license up in the issuer registry")
	command.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, flags, func(cfg *config.Config) {
			if registry {
				cfg.Server.EnableIssuer = true
			}
		})
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		ctx := cmd.Context()
		v, err := a.Validator(ctx, false)
		if err != nil {
			return err
		}

		path := file
		if path == "" {
			path = a.Config.License.Path
		}
		opts := license.Options{Verbose: verbose}

		var result *domain.ValidationResult
		switch {
		case expectHWID != "":
			opts.ExpectedHardwareID = strings.TrimSpace(expectHWID)
			result = v.ValidateFile(ctx, path, opts)
		case noHardware || !a.Config.License.CheckHardware:
			result = v.ValidateFile(ctx, path, opts)
		default:
			result = v.ValidateForHost(ctx, path, a.Fingerprints(), opts)
		}

		out := cmd.OutOrStdout()
		if asJSON {
			if err := writeJSON(out, result); err != nil {
				return err
			}
		} else {
			printResult(out, path, result)
		}

		if !result.IsValid() {
			return &exitError{code: exitInvalidLicense, msg: "license " + string(result.Status)}
		}
		return nil
	}

	return command
}

func printResult(out io.Writer, path string, r *domain.ValidationResult) {
	fmt.Fprintf(out, "License: %s\n", path)
	fmt.Fprintf(out, "Status:  %s\n", r.Status)
	if r.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", r.Message)
	}
	if r.LicenseID != "" {
		fmt.Fprintf(out, "ID:      %s\n", r.LicenseID)
	}
	if r.Client != "" {
		fmt.Fprintf(out, "Client:  %s\n", r.Client)
	}
	if r.LicenseType != "" {
		fmt.Fprintf(out, "Type:    %s\n", r.LicenseType)
	}
	if r.Expires != "" {
		fmt.Fprintf(out, "Expires: %s", r.Expires)
		if r.DaysRemaining != nil {
			fmt.Fprintf(out, " (%d days remaining)", *r.DaysRemaining)
		}
		fmt.Fprintln(out)
	}
	if len(r.Features) > 0 {
		fmt.Fprintf(out, "Features: %s\n", strings.Join(r.Features, ", "))
	}
	if r.RegistryFound != nil {
		fmt.Fprintf(out, "Registry: found=%t\n", *r.RegistryFound)
	}

	for _, s := range r.Stages {
		mark := "ok"
		switch {
		case s.Skipped:
			mark = "skipped"
		case !s.Passed:
			mark = "FAIL"
		}
		line := fmt.Sprintf("  %-18s %s", s.Stage, mark)
		if s.Detail != "" {
			line += "  " + s.Detail
		}
		fmt.Fprintln(out, line)
	}
}
