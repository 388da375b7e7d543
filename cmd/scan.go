package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/strixsec/strix/internal/events"
	"github.com/strixsec/strix/internal/orchestrator"
	"github.com/strixsec/strix/pkg/types"
)

var scanCmd = &cobra.Command{
	Use:   "scan <target-url>",
	Short: "Run a one-shot vulnerability scan",
	Long: `Run a full assessment pipeline against one target and print the
results, writing the Markdown report to the reports directory.

Example:
  strix scan https://staging.example.com
  strix scan https://staging.example.com --max-pages 50`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	target := args[0]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	emitter := events.EmitterFunc(func(message string, level events.Level) {
		printEvent(message, level)
	})

	o, err := orchestrator.New(orchestrator.Options{
		Config:  cfg,
		Logger:  log,
		Emitter: emitter,
	})
	if err != nil {
		return err
	}

	result, err := o.Run(ctx, target)
	if err != nil {
		return err
	}

	printSummary(result)
	return nil
}

func printEvent(message string, level events.Level) {
	switch level {
	case events.LevelStep:
		color.Cyan("%s", message)
	case events.LevelWarning:
		color.Yellow("%s", message)
	case events.LevelError:
		color.Red("%s", message)
	case events.LevelSuccess:
		color.Green("%s", message)
	default:
		fmt.Println(message)
	}
}

func printSummary(result *types.ScanResult) {
	fmt.Println()
	bold := color.New(color.Bold)
	bold.Println("Scan Summary")
	fmt.Printf("  Target:     %s\n", result.Target)
	fmt.Printf("  Endpoints:  %d\n", result.AttackSurface.Len())
	fmt.Printf("  Findings:   %d\n", len(result.Findings))

	risk := color.GreenString(string(result.RiskLevel))
	if result.RiskLevel == types.RiskHigh {
		risk = color.RedString(string(result.RiskLevel))
	}
	fmt.Printf("  Risk level: %s\n", risk)

	if result.ReportPath != "" {
		fmt.Printf("  Report:     %s\n", result.ReportPath)
	}

	for i, f := range result.Findings {
		fmt.Println()
		severity := color.YellowString(string(f.Severity))
		if f.Severity == types.SeverityCritical || f.Severity == types.SeverityHigh {
			severity = color.RedString(string(f.Severity))
		}
		fmt.Printf("  [%d] %s (%s)\n", i+1, f.Vulnerability, severity)
		fmt.Printf("      Endpoint: %s %s\n", f.Endpoint.Method, f.Endpoint.URL)
		if f.Parameter != "" {
			fmt.Printf("      Parameter: %s\n", f.Parameter)
		}
		if f.SeverityScore != nil {
			fmt.Printf("      Score: %.1f/9\n", *f.SeverityScore)
		}
	}
}
