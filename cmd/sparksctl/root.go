package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fulmine-labs/sparks/internal/client"
)

var (
	verbose bool
	baseURL string
	apiPath string
	timeout time.Duration
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&baseURL, "url", "u", envOr("SPARKS_URL", client.DefaultBaseURL), "sparks API base url")
	rootCmd.PersistentFlags().StringVarP(&apiPath, "api-path", "", client.DefaultAPIPath, "API path prefix")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "", client.DefaultTimeout, "request timeout")
}

var rootCmd = &cobra.Command{
	Use:           "sparksctl",
	Short:         "sparks image generation CLI",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newClient() *client.Client {
	return client.New(baseURL, apiPath, timeout)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
