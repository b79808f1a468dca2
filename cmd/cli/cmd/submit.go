package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"altlens/pkg/api"
)

var (
	submitBatch     bool
	submitLanguage  string
	submitProvider  string
	submitModel     string
	submitMaxImages int
	submitWait      bool
)

var submitCmd = &cobra.Command{
	Use:   "submit [url]",
	Short: "Start an accessibility analysis of a page or site",
	Long: `Submit a URL for analysis. By default a single page is analyzed; use
--batch to crawl and analyze a whole site. With --wait the command polls the
job until it reaches a terminal state.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"), viper.GetString("session"))

		mode := api.ModePage
		if submitBatch {
			mode = api.ModeBatch
		}

		resp, err := client.Submit(api.SubmitAnalysisRequest{
			URL:       args[0],
			Mode:      mode,
			Language:  submitLanguage,
			Provider:  submitProvider,
			Model:     submitModel,
			MaxImages: submitMaxImages,
		})
		if err != nil {
			cmd.Printf("Failed to submit analysis: %v\n", err)
			return
		}

		cmd.Printf("Job ID:     %s\n", resp.JobID)
		cmd.Printf("Session:    %s\n", client.SessionID)

		if !submitWait {
			cmd.Printf("\nPoll with: altctl status %s --session %s\n", resp.JobID, client.SessionID)
			return
		}

		pollUntilDone(cmd, client, resp.JobID)
	},
}

func pollUntilDone(cmd *cobra.Command, client *Client, jobID string) {
	lastMessage := ""

	for {
		time.Sleep(time.Second)

		status, err := client.Status(jobID)
		if err != nil {
			cmd.Printf("Failed to poll job: %v\n", err)
			return
		}

		if status.Message != lastMessage {
			lastMessage = status.Message
			cmd.Printf("[%3d%%] %s\n", status.Percent, status.Message)
		}

		switch status.Status {
		case "complete":
			cmd.Println("\nAnalysis complete.")
			printStatus(cmd, status)
			return
		case "error":
			cmd.Printf("\nAnalysis failed: %s\n", status.Error)
			return
		}
	}
}

func init() {
	submitCmd.Flags().BoolVar(&submitBatch, "batch", false, "Analyze a whole site instead of a single page")
	submitCmd.Flags().StringVar(&submitLanguage, "lang", "", "Language for the generated descriptions")
	submitCmd.Flags().StringVar(&submitProvider, "provider", "", "Vision provider override")
	submitCmd.Flags().StringVar(&submitModel, "model", "", "Model override")
	submitCmd.Flags().IntVar(&submitMaxImages, "max-images", 0, "Cap on images in a batch run")
	submitCmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "Poll until the job finishes")

	rootCmd.AddCommand(submitCmd)
}
