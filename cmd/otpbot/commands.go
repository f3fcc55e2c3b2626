package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"otpbot/internal/client"
	"otpbot/internal/detector"
	"otpbot/internal/otp"
	logx "otpbot/pkg/logx"
)

var watchCmd = &cobra.Command{
	Use:   "watch FILE",
	Short: "Observe a text or HTML file and relay new codes to the daemon",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

var scanCmd = &cobra.Command{
	Use:   "scan FILE",
	Short: "Print the codes found in a file once, without contacting the daemon",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the recent codes, newest first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every recent code",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := newClient().Clear(cmd.Context()); err != nil {
			return err
		}
		pterm.Success.Println("Cleared all codes")
		return nil
	},
}

var ackCmd = &cobra.Command{
	Use:   "ack ID",
	Short: "Mark a code as copied",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().Acknowledge(cmd.Context(), args[0]); err != nil {
			return err
		}
		pterm.Success.Printfln("Marked %s as copied", args[0])
		return nil
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the shared settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := newClient().Settings(cmd.Context())
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		if output == "json" {
			return printJSON(cmd.OutOrStdout(), s)
		}
		printSettings(s)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change one or more settings; unspecified fields keep their value",
	Args:  cobra.NoArgs,
	RunE:  runSettingsSet,
}

func init() {
	watchCmd.Flags().String("url", "", "source URL recorded with each code (default file://<abs path>)")
	watchCmd.Flags().Duration("debounce", detector.DefaultDebounce, "quiet period after a change before scanning")
	watchCmd.Flags().Duration("settings-refresh", 30*time.Second, "how often to re-read settings from the daemon")

	scanCmd.Flags().String("pattern", "", "custom token pattern (default "+otp.DefaultPattern+")")
	scanCmd.Flags().StringP("output", "o", "", "Output format (json)")

	listCmd.Flags().StringP("output", "o", "", "Output format (json)")
	settingsShowCmd.Flags().StringP("output", "o", "", "Output format (json)")

	settingsSetCmd.Flags().Bool("capture", true, "enable automatic capture")
	settingsSetCmd.Flags().Bool("notifications", true, "enable notifications")
	settingsSetCmd.Flags().Bool("enhanced-security", true, "enable the script-blocking header policy")
	settingsSetCmd.Flags().Bool("auto-clear", false, "periodically remove codes older than the retention window")
	settingsSetCmd.Flags().String("pattern", "", "custom token pattern; empty restores the default")

	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runWatch(cmd *cobra.Command, args []string) error {
	url, _ := cmd.Flags().GetString("url")
	debounce, _ := cmd.Flags().GetDuration("debounce")
	refresh, _ := cmd.Flags().GetDuration("settings-refresh")

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logx.NewConsole(logLevel)
	cl := newClient()

	var settings atomic.Value
	settings.Store(otp.DefaultSettings())
	loadSettings := func() {
		s, err := cl.Settings(ctx)
		if err != nil {
			log.Warn("settings unavailable; keeping previous", logx.Err(err))
			return
		}
		settings.Store(s)
	}
	loadSettings()
	if refresh > 0 {
		go func() {
			t := time.NewTicker(refresh)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					loadSettings()
				}
			}
		}()
	}

	doc := detector.NewFileDocument(args[0], url, log)
	det := detector.New(doc, client.RelaySink{Client: cl}, detector.Options{
		Debounce: debounce,
		Settings: func() otp.Settings { return settings.Load().(otp.Settings) },
		Log:      log,
	})
	pterm.Info.Printfln("Watching %s (source %s)", doc.Path(), doc.URL())
	return det.Run(ctx)
}

type scanReport struct {
	Path  string   `json:"path"`
	URL   string   `json:"url"`
	Codes []string `json:"codes"`
}

func runScan(cmd *cobra.Command, args []string) error {
	pattern, _ := cmd.Flags().GetString("pattern")
	output, _ := cmd.Flags().GetString("output")

	m, err := otp.NewMatcher(pattern)
	if err != nil {
		return err
	}
	doc := detector.NewFileDocument(args[0], "", logx.Nop())
	text, err := doc.Text(cmd.Context())
	if err != nil {
		return err
	}
	codes := lo.Uniq(lo.Filter(m.FindAll(text), func(s string, _ int) bool { return otp.IsValidCode(s) }))

	if output == "json" {
		return printJSON(cmd.OutOrStdout(), scanReport{Path: doc.Path(), URL: doc.URL(), Codes: codes})
	}
	if len(codes) == 0 {
		pterm.Info.Println("No codes found")
		return nil
	}
	for _, c := range codes {
		pterm.Println(c)
	}
	return nil
}

func runList(cmd *cobra.Command, _ []string) error {
	output, _ := cmd.Flags().GetString("output")

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	entries, err := newClient().Entries(ctx)
	if err != nil {
		return err
	}
	if output == "json" {
		return printJSON(cmd.OutOrStdout(), entries)
	}
	if len(entries) == 0 {
		pterm.Info.Println("No recent codes")
		return nil
	}

	table := pterm.TableData{{"ID", "Code", "Source", "Seen", "Copied"}}
	for _, e := range entries {
		table = append(table, []string{
			e.ID,
			e.Code,
			e.SourceURL,
			humanize.Time(e.ObservedAt),
			lo.Ternary(e.Acknowledged, "yes", ""),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
}

func printSettings(s otp.Settings) {
	onOff := func(b bool) string { return lo.Ternary(b, "on", "off") }
	table := pterm.TableData{
		{"Setting", "Value"},
		{"Auto capture", onOff(s.CaptureEnabled)},
		{"Notifications", onOff(s.NotificationsEnabled)},
		{"Enhanced security", onOff(s.EnhancedSecurity)},
		{"Auto clear", onOff(s.AutoClear)},
		{"Pattern", lo.Ternary(s.CustomPattern == "", otp.DefaultPattern, s.CustomPattern)},
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(table).Render()
}

func runSettingsSet(cmd *cobra.Command, _ []string) error {
	cl := newClient()
	s, err := cl.Settings(cmd.Context())
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	changed := 0
	for name, dst := range map[string]*bool{
		"capture":           &s.CaptureEnabled,
		"notifications":     &s.NotificationsEnabled,
		"enhanced-security": &s.EnhancedSecurity,
		"auto-clear":        &s.AutoClear,
	} {
		if flags.Changed(name) {
			*dst, _ = flags.GetBool(name)
			changed++
		}
	}
	if flags.Changed("pattern") {
		p, _ := flags.GetString("pattern")
		if err := otp.ValidatePattern(p); err != nil {
			return err
		}
		s.CustomPattern = lo.Ternary(p == "", otp.DefaultPattern, p)
		changed++
	}
	if changed == 0 {
		return fmt.Errorf("nothing to change; pass at least one flag")
	}

	out, err := cl.UpdateSettings(cmd.Context(), s)
	if err != nil {
		return err
	}
	pterm.Success.Println("Settings updated")
	printSettings(out)
	return nil
}
