package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"altlens/pkg/api"
)

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Get the status of an analysis job",
	Long:  `Retrieve the current state of an analysis job: its status (starting, running, complete, error), progress percentage, current phase, and the produced artifacts once complete.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"), viper.GetString("session"))

		status, err := client.Status(args[0])
		if err != nil {
			cmd.Printf("Failed to fetch status: %v\n", err)
			return
		}

		printStatus(cmd, status)
	},
}

func printStatus(cmd *cobra.Command, status *api.JobStatusResponse) {
	cmd.Printf("%s %sAnalysis%s\n", statusIcon(status.Status), colorBold, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sJob ID:%s    %s\n", colorDim, colorReset, status.JobID)
	cmd.Printf("%sStatus:%s    %s\n", colorDim, colorReset, colorizeStatus(status.Status))
	cmd.Printf("%sProgress:%s  %d%%\n", colorDim, colorReset, status.Percent)

	if status.Message != "" {
		cmd.Printf("%sMessage:%s   %s\n", colorDim, colorReset, status.Message)
	}
	if status.Phase != "" {
		cmd.Printf("%sPhase:%s     %s\n", colorDim, colorReset, status.Phase)
	}
	if status.TotalImages > 0 {
		cmd.Printf("%sImages:%s    %d/%d\n", colorDim, colorReset, status.CurrentImage, status.TotalImages)
	}
	if status.Error != "" {
		cmd.Printf("%sError:%s     %s%s%s\n", colorDim, colorReset, colorRed, status.Error, colorReset)
	}

	if status.Result != nil {
		cmd.Printf("%sDuration:%s  %s\n", colorDim, colorReset, status.Result.Duration)
		cmd.Printf("%sArtifacts:%s\n", colorDim, colorReset)
		for _, name := range status.Result.Artifacts {
			cmd.Printf("  %s\n", name)
		}
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "complete":
		return colorGreen + "✓" + colorReset
	case "error":
		return colorRed + "✗" + colorReset
	case "running":
		return colorYellow + "⏳" + colorReset
	case "starting":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	switch status {
	case "complete":
		return colorGreen + status + colorReset
	case "error":
		return colorRed + status + colorReset
	case "running":
		return colorYellow + status + colorReset
	case "starting":
		return colorCyan + status + colorReset
	default:
		return status
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
