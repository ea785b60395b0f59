package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	courierTLS "github.com/foxzi/courier/internal/tls"
)

var tlsCmd = &cobra.Command{
	Use:   "tls",
	Short: "API TLS certificate commands",
}

var tlsInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the certificates the API listener will serve",
	RunE:  runTLSInfo,
}

func init() {
	tlsCmd.AddCommand(tlsInfoCmd)
	rootCmd.AddCommand(tlsCmd)
}

func runTLSInfo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	t := cfg.API.TLS
	switch {
	case t.ACME.Enabled:
		m := courierTLS.NewACMEManager(t.ACME.Email, t.ACME.Domains, t.ACME.CacheDir)
		fmt.Printf("Source: ACME (cache %s)\n\n", t.ACME.CacheDir)

		certs := m.CachedCertificates(context.Background())
		if len(certs) == 0 {
			fmt.Println("No certificates issued yet, they are obtained on the first TLS handshake")
			return nil
		}
		for _, c := range certs {
			printCertificate(&c)
		}
	case t.CertFile != "":
		fmt.Printf("Source: %s\n\n", t.CertFile)
		info, err := courierTLS.ReadCertificateInfo(t.CertFile)
		if err != nil {
			return err
		}
		printCertificate(info)
	default:
		fmt.Println("TLS is not configured, the API serves plain HTTP")
	}

	return nil
}

func printCertificate(c *courierTLS.CertificateInfo) {
	fmt.Printf("Domain:     %s\n", c.Domain)
	if c.Issuer != "" {
		fmt.Printf("Issuer:     %s\n", c.Issuer)
	}
	if len(c.DNSNames) > 0 {
		fmt.Printf("DNS names:  %v\n", c.DNSNames)
	}
	fmt.Printf("Valid:      %s - %s\n", c.NotBefore.Format("2006-01-02"), c.NotAfter.Format("2006-01-02"))
	if c.DaysLeft < 7 {
		fmt.Printf("Days left:  %d (renew soon)\n\n", c.DaysLeft)
	} else {
		fmt.Printf("Days left:  %d\n\n", c.DaysLeft)
	}
}
