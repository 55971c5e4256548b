package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hrygo/contextbudget/internal/profile"
	"github.com/hrygo/contextbudget/internal/replay"
	"github.com/hrygo/contextbudget/plugin/ai/compress"
	budget "github.com/hrygo/contextbudget/plugin/ai/context"
)

var (
	cfgFile string
	v       *viper.Viper = profile.NewViper()

	rootCmd = &cobra.Command{
		Use:           "ctxbudget",
		Short:         "Fit conversation history into a token budget",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (YAML)")
	rootCmd.PersistentFlags().String("mode", "dev", `mode of the process, "prod" or "dev"`)
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Int("max-tokens", budget.DefaultMaxTokenBudget, "default token budget per request")

	for key, flag := range map[string]string{
		"mode":                    "mode",
		"log_level":               "log-level",
		"budget.max_token_budget": "max-tokens",
	} {
		if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(newReplayCmd(), newConfigCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadProfile reads the config file and sets up the default logger.
func loadProfile() (*profile.Profile, error) {
	p, err := profile.Load(v, cfgFile)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: p.SlogLevel()}
	var handler slog.Handler = slog.NewJSONHandler(os.Stderr, opts)
	if p.IsDev() {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	return p, nil
}

func newManager(p *profile.Profile) (*budget.Manager, error) {
	var opts []budget.Option
	if p.UseOpenAI() {
		summarizer, err := compress.NewOpenAISummarizer(p.OpenAI)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create openai summarizer")
		}
		opts = append(opts, budget.WithSummarizer(summarizer))
	}
	return budget.NewManager(p.Budget, opts...)
}

func newReplayCmd() *cobra.Command {
	var withMetrics bool
	cmd := &cobra.Command{
		Use:   "replay <transcript.yaml>",
		Short: "Replay a transcript and print the optimized context of every query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			transcript, err := replay.LoadFile(args[0])
			if err != nil {
				return err
			}

			m, err := newManager(p)
			if err != nil {
				return err
			}
			defer m.Destroy()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := replay.Run(ctx, m, transcript)
			if err != nil {
				return err
			}

			out := map[string]any{"report": report}
			if withMetrics {
				out["metrics"] = m.Metrics()
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&withMetrics, "metrics", false, "include request metrics in the output")
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := loadProfile(); err != nil {
				return err
			}
			settings := v.AllSettings()
			if summarizer, ok := settings["summarizer"].(map[string]any); ok {
				if openai, ok := summarizer["openai"].(map[string]any); ok {
					if key, _ := openai["api_key"].(string); key != "" {
						openai["api_key"] = "********"
					}
				}
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(settings)
		},
	}
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
