package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newSubmitCommand() *cobra.Command {
	var (
		noDiarization   bool
		noSummarization bool
		whisperModel    string
		llmModel        string
		priority        int
	)
	cmd := &cobra.Command{
		Use:   "submit <media-file>",
		Short: "Upload a media file for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			fields := map[string]string{
				"priority": strconv.Itoa(priority),
			}
			if noDiarization {
				fields["enable_diarization"] = "false"
			}
			if noSummarization {
				fields["enable_summarization"] = "false"
			}
			if whisperModel != "" {
				fields["whisper_model"] = whisperModel
			}
			if llmModel != "" {
				fields["llm_model"] = llmModel
			}

			var response jobEnvelope
			if err := c.upload("/api/jobs", args[0], fields, &response); err != nil {
				return err
			}
			if flagJSON {
				return printJSON(response)
			}
			fmt.Printf("submitted %s\n", response.Job.OriginalFilename)
			fmt.Printf("job id: %s\n", response.Job.ID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noDiarization, "no-diarization", false, "skip speaker identification")
	cmd.Flags().BoolVar(&noSummarization, "no-summary", false, "skip summary generation")
	cmd.Flags().StringVar(&whisperModel, "model", "", "whisper model override")
	cmd.Flags().StringVar(&llmModel, "llm-model", "", "summary model override")
	cmd.Flags().IntVar(&priority, "priority", 0, "queue priority (lower runs first)")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's stage and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			var response statusEnvelope
			if err := c.get("/api/jobs/"+args[0], &response); err != nil {
				return err
			}
			if flagJSON {
				return printJSON(response)
			}
			job := response.Job
			fmt.Printf("file:    %s\n", job.OriginalFilename)
			fmt.Printf("status:  %s\n", job.Status)
			fmt.Printf("stage:   %s\n", job.Stage)
			if response.LanguageName != "" {
				fmt.Printf("language: %s\n", response.LanguageName)
			}
			if response.Progress != nil {
				fmt.Printf("progress: %.0f%% (%s)\n", response.Progress.Percent, response.Progress.Message)
			}
			return nil
		},
	}
}

func newResultCommand() *cobra.Command {
	var summaryOnly bool
	cmd := &cobra.Command{
		Use:   "result <job-id>",
		Short: "Print a job's transcript and summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			var response resultEnvelope
			if err := c.get("/api/jobs/"+args[0]+"/result", &response); err != nil {
				return err
			}
			if flagJSON {
				return printJSON(response)
			}
			if response.Error != "" {
				fmt.Printf("job failed: %s\n", response.Error)
				return nil
			}
			if response.Summary != "" {
				fmt.Println("== Summary ==")
				fmt.Println(response.Summary)
				fmt.Println()
			}
			if summaryOnly {
				return nil
			}
			fmt.Println("== Transcript ==")
			if len(response.Segments) == 0 {
				fmt.Println(response.Transcript)
				return nil
			}
			for _, segment := range response.Segments {
				if segment.Speaker != "" {
					fmt.Printf("[%s] %s\n", segment.Speaker, segment.Text)
				} else {
					fmt.Println(segment.Text)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&summaryOnly, "summary-only", false, "print only the summary")
	return cmd
}

func newListCommand() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			path := "/api/jobs"
			params := []string{}
			if status != "" {
				params = append(params, "status="+status)
			}
			if limit > 0 {
				params = append(params, "limit="+strconv.Itoa(limit))
			}
			if len(params) > 0 {
				path += "?" + strings.Join(params, "&")
			}
			var response listEnvelope
			if err := c.get(path, &response); err != nil {
				return err
			}
			if flagJSON {
				return printJSON(response)
			}
			if len(response.Jobs) == 0 {
				fmt.Println("no jobs")
				return nil
			}
			rows := make([]table.Row, 0, len(response.Jobs))
			for _, job := range response.Jobs {
				rows = append(rows, table.Row{
					job.ID, job.OriginalFilename, string(job.Status), string(job.Stage),
					job.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				})
			}
			renderTable(table.Row{"ID", "File", "Status", "Stage", "Created"}, rows)
			fmt.Printf("%d job(s)\n", response.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (queued, processing, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of jobs to show")
	return cmd
}

func newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if err := c.post("/api/jobs/"+args[0]+"/cancel", nil); err != nil {
				return err
			}
			fmt.Println("cancelled")
			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a job and its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if err := c.delete("/api/jobs/" + args[0]); err != nil {
				return err
			}
			fmt.Println("deleted")
			return nil
		},
	}
}

func newQueueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show scheduler state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			var response queueEnvelope
			if err := c.get("/api/queue", &response); err != nil {
				return err
			}
			if flagJSON {
				return printJSON(response)
			}
			stats := response.Queue
			fmt.Printf("running: %v\n", stats.Running)
			fmt.Printf("workers: %d\n", stats.Workers)
			fmt.Printf("queued:  %d\n", stats.Queued)
			if len(stats.Active) > 0 {
				fmt.Printf("active:  %s\n", strings.Join(stats.Active, ", "))
			}
			return nil
		},
	}
}
