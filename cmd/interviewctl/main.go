package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/loqalabs/loqa-interview/internal/analytics"
	"github.com/loqalabs/loqa-interview/internal/config"
	"github.com/loqalabs/loqa-interview/internal/evaluation"
	"github.com/loqalabs/loqa-interview/internal/transcript"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

var rootCmd = &cobra.Command{
	Use:          "interviewctl",
	Short:        "Offline tools for interview transcripts and configuration",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Compute conversational metrics for an exported transcript",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		maxRate, _ := cmd.Flags().GetFloat64("max-rate")
		length, _ := cmd.Flags().GetString("length")
		return runMetrics(cmd, path, maxRate, length)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a transcript, a configuration file or a phenomenon catalogue",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		cfgPath, _ := cmd.Flags().GetString("config")
		cataloguePath, _ := cmd.Flags().GetString("catalogue")
		if path == "" && cfgPath == "" && cataloguePath == "" {
			return fmt.Errorf("nothing to validate: pass --file, --config or --catalogue")
		}
		return runValidate(cmd, path, cfgPath, cataloguePath)
	},
}

func init() {
	metricsCmd.Flags().String("file", "", "Path to a transcript in export format")
	metricsCmd.Flags().Float64("max-rate", analytics.DefaultPolicy().MaxSpeechRate, "Upper bound for plausible speech rate in words per second")
	metricsCmd.Flags().String("length", "block", "Response length mode: block or utterance")
	_ = metricsCmd.MarkFlagRequired("file")

	validateCmd.Flags().String("file", "", "Path to a transcript in export format")
	validateCmd.Flags().String("config", "", "Path to configuration file")
	validateCmd.Flags().String("catalogue", "", "Path to a phenomenon catalogue (YAML or JSON)")

	rootCmd.AddCommand(versionCmd, metricsCmd, validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMetrics(cmd *cobra.Command, path string, maxRate float64, length string) error {
	mode, err := analytics.ParseLengthMode(length)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	t, err := transcript.Decode(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	m := analytics.Compute(t.WithoutEmpty(), analytics.Policy{MaxSpeechRate: maxRate, ResponseLength: mode})
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

func runValidate(cmd *cobra.Command, path, cfgPath, cataloguePath string) error {
	out := cmd.OutOrStdout()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		t, err := transcript.Decode(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(out, "transcript %s valid (%d utterances, %d blank)\n", path, len(t), len(t)-len(t.WithoutEmpty()))
	}
	if cfgPath != "" {
		if _, err := config.Load(cfgPath); err != nil {
			return err
		}
		fmt.Fprintf(out, "config %s valid\n", cfgPath)
	}
	if cataloguePath != "" {
		catalogue, err := evaluation.LoadCatalogue(cataloguePath)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "catalogue %s valid (%d phenomena)\n", cataloguePath, len(catalogue))
	}
	return nil
}
