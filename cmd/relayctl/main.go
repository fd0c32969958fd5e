// relayctl is an operator CLI for the agent mailbox relay.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "Operate an agent mailbox relay from the command line",
}

var registerCmd = &cobra.Command{
	Use:   "register [name]",
	Short: "Register a new agent and print its API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegister,
}

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the identity behind an API key",
	RunE:  runMe,
}

var approveCmd = &cobra.Command{
	Use:   "approve [verification-code]",
	Short: "Approve a pending connection request",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check relay health",
	RunE:  runHealth,
}

var apiKey string

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("MAILBOX_SERVER_URL_HTTP", "http://localhost:8080"), "relay base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("MAILBOX_API_KEY"), "agent API key")

	rootCmd.AddCommand(registerCmd, meCmd, approveCmd, healthCmd)
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func doRequest(method, path string, body any, authed bool) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		if apiKey == "" {
			return nil, fmt.Errorf("--api-key (or MAILBOX_API_KEY) is required")
		}
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("relay returned %d: %v", resp.StatusCode, out)
	}
	return out, nil
}

func runRegister(_ *cobra.Command, args []string) error {
	out, err := doRequest(http.MethodPost, "/agents/register", map[string]string{"name": args[0]}, false)
	if err != nil {
		return err
	}
	fmt.Printf("agent id:  %v\n", out["id"])
	fmt.Printf("agent key: %v\n", out["api_key"])
	fmt.Println("store this key now; the relay does not show it again")
	return nil
}

func runMe(_ *cobra.Command, _ []string) error {
	out, err := doRequest(http.MethodGet, "/agents/me", nil, true)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func runApprove(_ *cobra.Command, args []string) error {
	out, err := doRequest(http.MethodPost, "/connections/approve", map[string]string{"verification_code": args[0]}, true)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func runHealth(_ *cobra.Command, _ []string) error {
	out, err := doRequest(http.MethodGet, "/health", nil, false)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
