package backtest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Writer handles writing backtest artifacts to disk
type Writer struct {
	outputDir string
}

// NewWriter creates an artifact writer rooted at outputDir, one dated
// subdirectory per day
func NewWriter(outputDir string) *Writer {
	return &Writer{outputDir: filepath.Join(outputDir, time.Now().Format("2006-01-02"))}
}

// OutputDir returns the full output directory path
func (w *Writer) OutputDir() string { return w.outputDir }

// WriteResults writes each bet as a JSON line followed by the full result
// as the final line
func (w *Writer) WriteResults(result *Result) error {
	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	file, err := os.Create(filepath.Join(w.outputDir, result.RunID+".jsonl"))
	if err != nil {
		return fmt.Errorf("create results file: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	for _, bet := range result.Bets {
		if err := enc.Encode(bet); err != nil {
			return fmt.Errorf("write bet: %w", err)
		}
	}
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("write result summary: %w", err)
	}
	return nil
}

// WriteReport writes a markdown summary of the run
func (w *Writer) WriteReport(result *Result) error {
	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	report := w.generateMarkdownReport(result)
	path := filepath.Join(w.outputDir, result.RunID+".md")
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func (w *Writer) generateMarkdownReport(result *Result) string {
	var report strings.Builder

	report.WriteString("# Backtest Report\n\n")
	report.WriteString(fmt.Sprintf("**Run**: %s\n", result.RunID))
	report.WriteString(fmt.Sprintf("**Generated**: %s\n", time.Now().UTC().Format("2006-01-02 15:04:05 UTC")))
	report.WriteString(fmt.Sprintf("**League**: %s, season %d, weeks %v\n", result.Config.League, result.Config.Season, result.Config.Weeks))
	report.WriteString(fmt.Sprintf("**Risk mode**: %s\n", result.Config.RiskMode))
	report.WriteString(fmt.Sprintf("**Starting bankroll**: %.2f\n\n", result.Config.StartingBankroll))

	if result.Stage == StageFailed {
		report.WriteString("## Run Failed\n\n")
		report.WriteString(fmt.Sprintf("- **Failed stage**: %s\n", result.FailedStage))
		report.WriteString(fmt.Sprintf("- **Error**: %s\n\n", result.ErrorMessage))
	}

	report.WriteString("## Summary\n\n")
	report.WriteString(fmt.Sprintf("- **Props loaded**: %d\n", result.PropsLoaded))
	report.WriteString(fmt.Sprintf("- **Bets placed**: %d (%d skipped below threshold)\n", len(result.Bets), result.Skipped))
	report.WriteString(fmt.Sprintf("- **ROI**: %.2f%%\n", result.ROI*100))
	report.WriteString(fmt.Sprintf("- **Sharpe**: %.3f\n", result.Sharpe))
	report.WriteString(fmt.Sprintf("- **Max drawdown**: %.2f%%\n", result.MaxDrawdown*100))
	report.WriteString(fmt.Sprintf("- **Recovery rate**: %.2f%%\n", result.RecoveryRate*100))
	if len(result.Bankroll) > 0 {
		report.WriteString(fmt.Sprintf("- **Final bankroll**: %.2f\n", result.Bankroll[len(result.Bankroll)-1]))
	}
	report.WriteString("\n")

	report.WriteString("## Calibration\n\n")
	report.WriteString(fmt.Sprintf("- **ECE**: %.4f\n", result.Calibration.ECE))
	report.WriteString(fmt.Sprintf("- **Brier**: %.4f\n", result.Calibration.Brier))
	report.WriteString(fmt.Sprintf("- **MCE**: %.4f\n\n", result.Calibration.MCE))

	if len(result.Bands) > 0 {
		report.WriteString("## Win Rate by Confidence\n\n")
		report.WriteString("| Band | Bets | Wins | Win Rate |\n")
		report.WriteString("|------|------|------|----------|\n")
		for _, b := range result.Bands {
			report.WriteString(fmt.Sprintf("| %.2f-%.2f | %d | %d | %.1f%% |\n", b.Low, b.High, b.Bets, b.Wins, b.WinRate*100))
		}
		report.WriteString("\n")
	}

	if len(result.Weeks) > 0 {
		report.WriteString("## Weekly Breakdown\n\n")
		report.WriteString("| Week | Bets | Wins | Staked | Profit | ROI | Bankroll |\n")
		report.WriteString("|------|------|------|--------|--------|-----|----------|\n")
		for _, ws := range result.Weeks {
			report.WriteString(fmt.Sprintf("| %d | %d | %d | %.2f | %+.2f | %.1f%% | %.2f |\n",
				ws.Week, ws.Bets, ws.Wins, ws.Staked, ws.Profit, ws.ROI*100, ws.EndBankroll))
		}
		report.WriteString("\n")
	}

	return report.String()
}
