// Command glucose-oracle syncs a Nightscout site into the local cache and
// answers "when this happened before, what did I do and how did it go?"
// from the terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/iradkot/glucose-oracle/internal/cache"
	"github.com/iradkot/glucose-oracle/internal/models"
	"github.com/iradkot/glucose-oracle/internal/nightscout"
	"github.com/iradkot/glucose-oracle/internal/oracle"
)

const recentWindow = 2 * time.Hour

var (
	dataDir    string
	jsonOutput bool
)

func main() {
	// A missing .env file is fine; the environment and the settings file
	// are consulted either way.
	_ = godotenv.Load()

	logger := newLogger()
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "glucose-oracle",
		Short:         "Match the current glucose trajectory against your own history",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory for the local cache database (default: user config dir)")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit JSON instead of text")

	root.AddCommand(newStatusCmd(), newSyncCmd(), newInsightsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("GLUCOSE_ORACLE_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadSettings reads the settings file and applies environment overrides.
// NIGHTSCOUT_TOKEN takes precedence over NIGHTSCOUT_API_SECRET.
func loadSettings() (*models.Settings, error) {
	settings := models.DefaultSettings()
	if err := settings.Load(); err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	if url := os.Getenv("NIGHTSCOUT_URL"); url != "" {
		settings.NightscoutURL = url
	}
	if secret := os.Getenv("NIGHTSCOUT_API_SECRET"); secret != "" {
		settings.APISecret = secret
		settings.UseToken = false
	}
	if token := os.Getenv("NIGHTSCOUT_TOKEN"); token != "" {
		settings.APIToken = token
		settings.UseToken = true
	}

	if !settings.IsConfigured() {
		return nil, fmt.Errorf("no Nightscout URL configured (set NIGHTSCOUT_URL or edit the settings file)")
	}
	return settings, nil
}

func newClient(settings *models.Settings) *nightscout.Client {
	return nightscout.NewClient(settings.NightscoutURL, settings.APISecret, settings.APIToken, settings.UseToken)
}

func openStore() (*cache.SQLiteStore, error) {
	dir := dataDir
	if dir == "" {
		configDir, err := models.GetConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolving config directory: %w", err)
		}
		dir = configDir
	}
	return cache.OpenSQLite(dir)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Ping the Nightscout server and report its version",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			status, err := newClient(settings).Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("reaching %s: %w", settings.NightscoutURL, err)
			}

			if jsonOutput {
				return printJSON(status)
			}
			fmt.Printf("%s (%s) is %s, server time %s\n", status.Name, status.Version, status.Status, status.ServerTime)
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Refresh the local cache from Nightscout",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := runSync(cmd.Context(), store, settings)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]any{
					"fullSync":     result.DidFullSync,
					"entries":      len(result.Entries),
					"treatments":   len(result.Treatments),
					"deviceStatus": len(result.DeviceStatus),
					"lastSyncedMs": result.Meta.LastSyncedMs,
				})
			}

			kind := "incremental"
			if result.DidFullSync {
				kind = "full"
			}
			fmt.Printf("%s sync complete: %d entries, %d treatments, %d device statuses\n",
				kind, len(result.Entries), len(result.Treatments), len(result.DeviceStatus))
			return nil
		},
	}
}

func runSync(ctx context.Context, store cache.Store, settings *models.Settings) (*cache.SyncResult, error) {
	c := cache.New(store, newClient(settings), slog.Default())
	result, err := c.Sync(ctx, time.Now(), settings.RetentionDays)
	if err != nil {
		return nil, fmt.Errorf("sync failed: %w", err)
	}
	return result, nil
}

func newInsightsCmd() *cobra.Command {
	var (
		noLoadFilter bool
		samples      int
	)

	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Find historical episodes similar to right now",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := runSync(cmd.Context(), store, settings)
			if err != nil {
				return err
			}
			if len(result.Entries) == 0 {
				return fmt.Errorf("no glucose entries in the cache; is the site reporting data?")
			}

			anchor := result.Entries[len(result.Entries)-1]
			recentStart := anchor.Mills - recentWindow.Milliseconds()
			var recent []models.BgEntry
			for _, e := range result.Entries {
				if e.Mills >= recentStart {
					recent = append(recent, e)
				}
			}

			cfg := oracle.DefaultConfig()
			cfg.TargetLow = settings.TargetLow
			cfg.TargetHigh = settings.TargetHigh
			cfg.IdealTarget = settings.IdealTarget

			insights := oracle.New(cfg).ComputeInsights(oracle.Query{
				Anchor:           anchor,
				Recent:           recent,
				History:          result.Entries,
				Treatments:       result.Treatments,
				DeviceStatus:     result.DeviceStatus,
				ExcludeLoad:      noLoadFilter,
				SlopeSampleCount: samples,
			})

			if jsonOutput {
				return printJSON(insights)
			}
			printInsights(anchor, insights)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noLoadFilter, "no-load-filter", false, "match without requiring similar insulin/carbs on board")
	cmd.Flags().IntVar(&samples, "samples", 0, "slope sample count override (0 = default)")
	return cmd
}

func printInsights(anchor models.BgEntry, insights models.Insights) {
	fmt.Printf("Now: %.0f mg/dL at %s\n", anchor.SGV, anchor.Time().Format("15:04"))
	fmt.Printf("Similar past episodes: %d\n", insights.MatchCount)

	if len(insights.MedianSeries) > 0 {
		last := insights.MedianSeries[len(insights.MedianSeries)-1]
		fmt.Printf("Median historical path ends at %.0f mg/dL (+%d min)\n", last.SGV, last.MinuteOffset)
	}

	for _, card := range insights.Strategies {
		marker := " "
		if card.IsBest {
			marker = "*"
		}
		outcome := "no 2h outcome"
		if card.AvgGlucose2h != nil {
			outcome = fmt.Sprintf("avg %.0f mg/dL at +2h, %.0f%% in range", *card.AvgGlucose2h, card.SuccessRate*100)
		}
		fmt.Printf("%s %s (%d matches): %s; %s\n", marker, card.Title, card.MatchCount, card.Summary, outcome)
	}

	fmt.Println()
	fmt.Println(insights.Disclaimer)
}
