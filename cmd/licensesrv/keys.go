package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"licensesrv/internal/config"
	"licensesrv/internal/keycodec"
	"licensesrv/internal/license"
)

// codecFor returns a codec for secret, or for the configured secret when
// secret is empty.
func codecFor(configPath, secret string) (*keycodec.Codec, int, error) {
	if secret != "" {
		return keycodec.New(secret), config.DefaultLicenseDays, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, 0, err
	}
	return keycodec.New(cfg.Keys.Secret), cfg.Keys.DefaultDays, nil
}

func newKeygenCmd(configPath *string) *cobra.Command {
	var (
		deviceID string
		days     int
		secret   string
		sealed   bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a license key without touching the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			codec, defaultDays, err := codecFor(*configPath, secret)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("days") {
				days = defaultDays
			}
			deviceID = strings.TrimSpace(deviceID)
			if deviceID == "" {
				return errors.New("device id is required")
			}

			p := keycodec.NewPayload(deviceID, days, time.Now())
			cmd.Printf("Device ID:   %s\n", deviceID)
			cmd.Printf("Fingerprint: %s\n", p.Fingerprint)
			cmd.Printf("License key: %s\n", codec.Encode(p))
			cmd.Printf("Expires:     %s\n", license.FormatExpiry(p.Expiry()))
			if sealed {
				cmd.Printf("Sealed:      %s\n", codec.Seal(p))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "device id to bind the key to")
	cmd.Flags().IntVar(&days, "days", config.DefaultLicenseDays, "validity in days; negative values give an already expired key")
	cmd.Flags().StringVar(&secret, "secret", "", "key secret (overrides the configured secret)")
	cmd.Flags().BoolVar(&sealed, "sealed", false, "also print the sealed token that decode accepts")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}

func newDecodeCmd(configPath *string) *cobra.Command {
	var secret string

	cmd := &cobra.Command{
		Use:   "decode <sealed-key>",
		Short: "Verify a sealed key and print its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, _, err := codecFor(*configPath, secret)
			if err != nil {
				return err
			}
			p, err := codec.Decode(args[0])
			if err != nil {
				return fmt.Errorf("decode %q: %w", args[0], err)
			}
			cmd.Printf("Fingerprint: %s\n", p.Fingerprint)
			cmd.Printf("Expires:     %s\n", license.FormatExpiry(p.Expiry()))
			cmd.Printf("Version:     %d\n", p.Version)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "key secret (overrides the configured secret)")
	return cmd
}
