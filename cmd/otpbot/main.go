package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"otpbot/internal/client"
	logx "otpbot/pkg/logx"
)

var (
	serverURL string
	apiToken  string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:          "otpbot",
	Short:        "Detect one-time passcodes in observed pages and keep a short recent list",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("OTPBOT_SERVER", client.DefaultServer), "daemon base URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("OTPBOT_TOKEN"), "daemon bearer token")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level for client commands")

	rootCmd.AddCommand(serveCmd, watchCmd, scanCmd, listCmd, clearCmd, ackCmd, settingsCmd)
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func newClient() *client.Client {
	return client.New(client.Config{Server: serverURL, Token: apiToken}, logx.NewConsole(logLevel))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
