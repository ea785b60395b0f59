package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var apikeyCost int

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "API key commands",
}

var apikeyHashCmd = &cobra.Command{
	Use:   "hash [key]",
	Short: "Print the bcrypt hash of an API key for api.keys in the config",
	Long: `Print the bcrypt hash of an API key. The key is read from the
argument or, when omitted, from the first line of standard input.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAPIKeyHash,
}

func init() {
	apikeyHashCmd.Flags().IntVar(&apikeyCost, "cost", bcrypt.DefaultCost, "bcrypt cost")

	apikeyCmd.AddCommand(apikeyHashCmd)
	rootCmd.AddCommand(apikeyCmd)
}

func runAPIKeyHash(cmd *cobra.Command, args []string) error {
	var key string
	if len(args) == 1 {
		key = args[0]
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read key: %w", err)
		}
		key = strings.TrimSpace(line)
	}
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), apikeyCost)
	if err != nil {
		return fmt.Errorf("failed to hash key: %w", err)
	}

	fmt.Println(string(hash))
	return nil
}
