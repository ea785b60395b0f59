package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/courier/internal/dkim"
	"github.com/foxzi/courier/internal/sandbox"
)

var (
	initDomain   string
	initOutput   string
	initDKIM     bool
	initAPIKey   string
	initSMTPHost string
	initDataDir  string
	initMode     string
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize Courier configuration",
	Long: `Interactive wizard to create a Courier configuration file.

This command helps you set up Courier by:
  1. Creating a configuration file with a hashed API key
  2. Creating a sample client directory
  3. Optionally generating DKIM keys for campaign email

Examples:
  # Interactive mode - prompts for missing values
  courier init

  # Quick setup for testing, every channel captured in the sandbox
  courier init --domain agency.test --mode sandbox --data-dir ./data -o test.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initDomain, "domain", "", "Sender domain for email (e.g., agency.example)")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().BoolVar(&initDKIM, "dkim", false, "Generate DKIM keys")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "API key (auto-generated if not provided)")
	initCmd.Flags().StringVar(&initSMTPHost, "smtp-host", "", "SMTP relay host (default: smtp.<domain>)")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/courier", "Data directory for the database and keys")
	initCmd.Flags().StringVar(&initMode, "mode", sandbox.ModeSandbox, "Channel mode: production, sandbox, redirect")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Courier Configuration Wizard")
	fmt.Println("============================")
	fmt.Println()

	switch initMode {
	case sandbox.ModeProduction, sandbox.ModeSandbox, sandbox.ModeRedirect:
	default:
		return fmt.Errorf("unknown mode %q", initMode)
	}

	if initDomain == "" {
		initDomain = prompt(reader, "Sender domain (e.g., agency.example)", "")
		if initDomain == "" {
			return fmt.Errorf("domain is required")
		}
	}

	if initSMTPHost == "" {
		initSMTPHost = prompt(reader, "SMTP relay host", "smtp."+initDomain)
	}

	initDataDir = prompt(reader, "Data directory", initDataDir)

	if !initDKIM {
		answer := prompt(reader, "Generate DKIM keys? [y/N]", "n")
		initDKIM = strings.ToLower(answer) == "y" || strings.ToLower(answer) == "yes"
	}

	if initAPIKey == "" {
		initAPIKey = generateRandomString(32)
		fmt.Printf("  Generated API key: %s\n", initAPIKey)
	}

	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	fmt.Println()
	fmt.Println("Creating configuration...")

	if err := os.MkdirAll(initDataDir, 0755); err != nil {
		fmt.Printf("  Warning: Could not create data directory: %v\n", err)
	}

	var dkimKeyPath, dkimDNSName, dkimDNSRecord string
	if initDKIM {
		kp, err := dkim.GenerateKey(initDomain, "courier")
		if err != nil {
			return fmt.Errorf("failed to generate DKIM key: %w", err)
		}

		dkimKeyPath = filepath.Join(initDataDir, "dkim", initDomain+".key")
		if err := kp.SavePrivateKey(dkimKeyPath); err != nil {
			return fmt.Errorf("failed to save DKIM key: %w", err)
		}

		dkimDNSRecord, err = kp.DNSRecord()
		if err != nil {
			return err
		}
		dkimDNSName = kp.DNSName()
		fmt.Printf("  DKIM key saved to: %s\n", dkimKeyPath)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(initAPIKey), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash API key: %w", err)
	}

	if err := os.WriteFile(initOutput, []byte(generateConfig(string(hash), dkimKeyPath)), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Printf("  Configuration saved to: %s\n", initOutput)

	clientsPath := filepath.Join(initDataDir, "clients.yaml")
	if _, err := os.Stat(clientsPath); os.IsNotExist(err) {
		if err := os.WriteFile(clientsPath, []byte(sampleDirectory), 0644); err != nil {
			fmt.Printf("  Warning: Could not write sample directory: %v\n", err)
		} else {
			fmt.Printf("  Sample client directory saved to: %s\n", clientsPath)
		}
	}
	fmt.Println()

	if dkimDNSName != "" {
		fmt.Println("DNS Record")
		fmt.Println("==========")
		fmt.Printf("   Name:  %s\n", dkimDNSName)
		fmt.Printf("   Type:  TXT\n")
		fmt.Printf("   Value: %s\n", dkimDNSRecord)
		fmt.Println()
	}

	printNextSteps()
	return nil
}

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

const sampleDirectory = `# Client directory read by the file driver. Edits are picked up without a restart.
clients:
  - id: c-0001
    name: Sample Client
    type: individual
    tier: gold
    city: Pune
    state: MH
    email: client@example.com
    phone: "+910000000000"
    active: true
    preferences:
      channels:
        email: {enabled: true}
        whatsapp: {enabled: true}
      categories:
        offer: true

invoices:
  - id: inv-0001
    number: INV-0001
    client_id: c-0001
    amount: "1500.00"
    currency: INR
    due_date: 2024-01-01T00:00:00Z
    status: open
`

func generateConfig(apiKeyHash, dkimKeyPath string) string {
	dkimSection := `    # dkim:
    #   enabled: true
    #   domain: "` + initDomain + `"
    #   selector: "courier"
    #   key_file: "` + initDataDir + `/dkim/` + initDomain + `.key"`
	if dkimKeyPath != "" {
		dkimSection = fmt.Sprintf(`    dkim:
      enabled: true
      domain: "%s"
      selector: "courier"
      key_file: "%s"`, initDomain, dkimKeyPath)
	}

	redirect := ""
	if initMode == sandbox.ModeRedirect {
		redirect = fmt.Sprintf("\n    redirect_to: \"qa@%s\"", initDomain)
	}

	return fmt.Sprintf(`# Courier configuration
# Generated by: courier init
# ${VAR} references are expanded from the environment (see --env-file)

api:
  listen_addr: ":8080"
  keys:
    - name: admin
      hash: "%[1]s"

storage:
  path: "%[2]s/courier.db"

logging:
  level: info
  format: json

directory:
  driver: file
  path: "%[2]s/clients.yaml"
  # driver: postgres
  # dsn: "${COURIER_DIRECTORY_DSN}"

dispatch:
  concurrency: 10
  cost_per_message:
    email: "0.01"
    sms: "0.20"
    whatsapp: "0.35"

channels:
  email:
    enabled: true
    mode: %[3]s%[4]s
    host: "%[5]s"
    port: 587
    security: starttls
    username: "${COURIER_SMTP_USERNAME}"
    password: "${COURIER_SMTP_PASSWORD}"
    from: "noreply@%[6]s"
    from_name: "Courier"
%[7]s
  sms:
    enabled: false
    mode: %[3]s%[4]s
    url: "${COURIER_SMS_URL}"
    api_key: "${COURIER_SMS_API_KEY}"
  whatsapp:
    enabled: false
    mode: %[3]s%[4]s
    url: "${COURIER_AMQP_URL}"
    exchange: notifications
  sandbox:
    simulate_errors: false
    error_probability: 0.1

rate_limit:
  enabled: true
  global:
    messages_per_hour: 10000
  default_recipient:
    messages_per_day: 5

reminder:
  enabled: true
  interval: 1h
  timezone: Asia/Kolkata
  channels: [email, whatsapp]

broadcast:
  poll_interval: 30s

metrics:
  enabled: true
  listen_addr: ":9090"
  allowed_ips: ["127.0.0.1"]
`, apiKeyHash, initDataDir, initMode, redirect, initSMTPHost, initDomain, dkimSection)
}

func printNextSteps() {
	fmt.Println("Next Steps")
	fmt.Println("==========")
	fmt.Println()
	fmt.Println("1. Edit the client directory and SMTP settings")
	fmt.Println()
	fmt.Println("2. Validate the configuration:")
	fmt.Printf("   courier config validate -c %s\n", initOutput)
	fmt.Println()
	fmt.Println("3. Start the server:")
	fmt.Printf("   courier serve -c %s\n", initOutput)
	fmt.Println()
	fmt.Println("4. Preview a campaign audience:")
	fmt.Println("   curl -X POST http://localhost:8080/api/v1/broadcasts/eligible-clients \\")
	fmt.Printf("     -H \"Authorization: Bearer %s\" \\\n", initAPIKey)
	fmt.Println("     -H \"Content-Type: application/json\" \\")
	fmt.Println(`     -d '{"targetAudience": {"allClients": true}, "channels": ["email"], "type": "announcement"}'`)
	fmt.Println()
	fmt.Println("Credentials")
	fmt.Println("-----------")
	fmt.Printf("API Key: %s (stored hashed, not shown again)\n", initAPIKey)
	fmt.Println()
}
