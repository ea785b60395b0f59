package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/courier/internal/dkim"
	"github.com/foxzi/courier/internal/dnscheck"
)

var (
	dkimDomain   string
	dkimSelector string
	dkimKeyFile  string
	dkimOutDir   string
)

var dkimCmd = &cobra.Command{
	Use:   "dkim",
	Short: "DKIM key management commands",
}

var dkimGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new DKIM key pair",
	Long:  `Generate a new RSA 2048-bit DKIM key pair for signing campaign email and print the DNS record.`,
	RunE:  runDKIMGenerate,
}

var dkimShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show DKIM DNS record from existing key",
	RunE:  runDKIMShow,
}

var dkimCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check SPF, DKIM and DMARC records of the email sender domain",
	Long: `Look up the DNS records receivers use to authenticate campaign email.
The domain and selector default to the email channel configuration, and the
published DKIM key is compared with the configured signing key.`,
	RunE: runDKIMCheck,
}

func init() {
	dkimGenerateCmd.Flags().StringVar(&dkimDomain, "domain", "", "Domain name (required)")
	dkimGenerateCmd.Flags().StringVar(&dkimSelector, "selector", "courier", "DKIM selector")
	dkimGenerateCmd.Flags().StringVar(&dkimOutDir, "out", ".", "Output directory for key file")
	dkimGenerateCmd.MarkFlagRequired("domain")

	dkimShowCmd.Flags().StringVar(&dkimKeyFile, "key", "", "Path to private key file (required)")
	dkimShowCmd.Flags().StringVar(&dkimDomain, "domain", "", "Domain name (required)")
	dkimShowCmd.Flags().StringVar(&dkimSelector, "selector", "courier", "DKIM selector")
	dkimShowCmd.MarkFlagRequired("key")
	dkimShowCmd.MarkFlagRequired("domain")

	dkimCheckCmd.Flags().StringVar(&dkimDomain, "domain", "", "Domain to check (default: DKIM domain or From domain)")
	dkimCheckCmd.Flags().StringVar(&dkimSelector, "selector", "", "DKIM selector (default: configured selector)")

	dkimCmd.AddCommand(dkimGenerateCmd, dkimShowCmd, dkimCheckCmd)
	rootCmd.AddCommand(dkimCmd)
}

func runDKIMGenerate(cmd *cobra.Command, args []string) error {
	kp, err := dkim.GenerateKey(dkimDomain, dkimSelector)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	keyPath := filepath.Join(dkimOutDir, fmt.Sprintf("%s.key", dkimDomain))
	if err := kp.SavePrivateKey(keyPath); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}

	record, err := kp.DNSRecord()
	if err != nil {
		return fmt.Errorf("failed to build DNS record: %w", err)
	}

	fmt.Printf("DKIM key generated successfully\n\n")
	fmt.Printf("Private key saved to: %s\n\n", keyPath)
	fmt.Printf("DNS Record:\n")
	fmt.Printf("  Name: %s\n", kp.DNSName())
	fmt.Printf("  Type: TXT\n")
	fmt.Printf("  Value: %s\n\n", record)
	fmt.Printf("Config:\n")
	fmt.Printf("  channels.email.dkim: {enabled: true, domain: %s, selector: %s, key_file: %s}\n", dkimDomain, dkimSelector, keyPath)

	return nil
}

func runDKIMShow(cmd *cobra.Command, args []string) error {
	privateKey, err := dkim.LoadPrivateKey(dkimKeyFile)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	kp := &dkim.KeyPair{PrivateKey: privateKey, Domain: dkimDomain, Selector: dkimSelector}
	record, err := kp.DNSRecord()
	if err != nil {
		return err
	}

	fmt.Printf("DKIM DNS Record:\n\n")
	fmt.Printf("  Name: %s\n", kp.DNSName())
	fmt.Printf("  Type: TXT\n")
	fmt.Printf("  Value: %s\n", record)

	return nil
}

func runDKIMCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	email := cfg.Channels.Email
	domain := dkimDomain
	if domain == "" {
		domain = email.DKIM.Domain
	}
	if domain == "" {
		domain = dnscheck.SenderDomain(email.From)
	}
	if domain == "" {
		return fmt.Errorf("no domain to check (use --domain or set channels.email.from)")
	}

	opts := dnscheck.Options{Selector: dkimSelector}
	if opts.Selector == "" {
		opts.Selector = email.DKIM.Selector
	}
	if email.DKIM.KeyFile != "" {
		key, err := dkim.LoadPrivateKey(email.DKIM.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to load DKIM key: %w", err)
		}
		opts.PublicKey, err = (&dkim.KeyPair{PrivateKey: key}).PublicKey()
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	report, err := dnscheck.New(nil).Check(ctx, domain, opts)
	if err != nil {
		return err
	}

	fmt.Printf("Sender domain: %s\n\n", report.Domain)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tSTATUS\tDETAILS")
	for _, r := range report.Results {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Type, r.Status, r.Message)
	}
	w.Flush()

	if !report.Healthy() {
		return fmt.Errorf("sender domain %s is missing required records", domain)
	}
	return nil
}
