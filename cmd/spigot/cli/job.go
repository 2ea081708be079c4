package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/spigotdb/spigot/internal/model"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage background jobs on a running server",
		Long: `Submit, inspect, and cancel asynchronous jobs against a running Spigot server.

Job commands authenticate with an API key (--auth or SPIGOT_API_KEY) or an
admin token (SPIGOT_TOKEN).`,
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "Server base URL (default http://127.0.0.1:8080)")

	cmd.AddCommand(newJobSubmitCmd())
	cmd.AddCommand(newJobStatusCmd())
	cmd.AddCommand(newJobListCmd())
	cmd.AddCommand(newJobCancelCmd())

	return cmd
}

// ---------- job submit ----------

func newJobSubmitCmd() *cobra.Command {
	var (
		authCred   string
		paramsJSON string
		webhookURL string
	)

	cmd := &cobra.Command{
		Use:   "submit <job-type>",
		Short: "Submit an asynchronous job",
		Long: `Submit a job for background execution. Job types: data_import, data_export,
batch_operation, media_processing, table_recompute, custom.`,
		Example: `  spigot job submit table_recompute --params '{"table": "orders"}'
  spigot job submit data_export --params '{"table": "orders"}' --webhook https://ci.example.com/hook`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobSubmit(authCred, args[0], paramsJSON, webhookURL)
		},
	}

	cmd.Flags().StringVar(&authCred, "auth", "", "API key or admin token")
	cmd.Flags().StringVar(&paramsJSON, "params", "{}", "Job parameters as a JSON object")
	cmd.Flags().StringVar(&webhookURL, "webhook", "", "URL notified when this job finishes")

	return cmd
}

func runJobSubmit(authCred, jobType, paramsJSON, webhookURL string) error {
	credential, err := resolveCredential(authCred)
	if err != nil {
		return err
	}

	var params map[string]interface{}
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		return fmt.Errorf("--params must be a JSON object: %w", err)
	}

	payload := model.JobRequest{
		Type:       model.JobType(jobType),
		Parameters: params,
		WebhookURL: webhookURL,
	}

	var submitted model.Job
	if err := apiRequest(http.MethodPost, "/api/v1/batch/jobs", credential, payload, &submitted); err != nil {
		return err
	}

	fmt.Printf("Job submitted: %s (%s, %s)\n", submitted.ID, submitted.Type, submitted.Status)
	fmt.Printf("  Poll with: spigot job status %s\n", submitted.ID)
	return nil
}

// ---------- job status ----------

func newJobStatusCmd() *cobra.Command {
	var authCred string

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's current snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobStatus(authCred, args[0])
		},
	}

	cmd.Flags().StringVar(&authCred, "auth", "", "API key or admin token")

	return cmd
}

func runJobStatus(authCred, id string) error {
	credential, err := resolveCredential(authCred)
	if err != nil {
		return err
	}

	var j model.Job
	if err := apiRequest(http.MethodGet, "/api/v1/batch/jobs/"+id, credential, nil, &j); err != nil {
		return err
	}
	return printJSON(j)
}

// ---------- job list ----------

func newJobListCmd() *cobra.Command {
	var (
		authCred string
		status   string
		jobType  string
		limit    int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobList(authCred, status, jobType, limit)
		},
	}

	cmd.Flags().StringVar(&authCred, "auth", "", "API key or admin token")
	cmd.Flags().StringVar(&status, "status", "", "Only jobs with this status")
	cmd.Flags().StringVar(&jobType, "type", "", "Only jobs of this type")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs to show")

	return cmd
}

func runJobList(authCred, status, jobType string, limit int) error {
	credential, err := resolveCredential(authCred)
	if err != nil {
		return err
	}

	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if jobType != "" {
		query.Set("type", jobType)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/batch/jobs"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var resp struct {
		Jobs []*model.Job `json:"jobs"`
	}
	if err := apiRequest(http.MethodGet, path, credential, nil, &resp); err != nil {
		return err
	}

	if len(resp.Jobs) == 0 {
		fmt.Println("No jobs.")
		return nil
	}

	fmt.Printf("%-38s %-18s %-10s %8s\n", "ID", "TYPE", "STATUS", "PROGRESS")
	for _, j := range resp.Jobs {
		fmt.Printf("%-38s %-18s %-10s %7.0f%%\n", j.ID, j.Type, j.Status, j.Progress)
	}
	return nil
}

// ---------- job cancel ----------

func newJobCancelCmd() *cobra.Command {
	var authCred string

	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobCancel(authCred, args[0])
		},
	}

	cmd.Flags().StringVar(&authCred, "auth", "", "API key or admin token")

	return cmd
}

func runJobCancel(authCred, id string) error {
	credential, err := resolveCredential(authCred)
	if err != nil {
		return err
	}

	var j model.Job
	if err := apiRequest(http.MethodDelete, "/api/v1/batch/jobs/"+id, credential, nil, &j); err != nil {
		return err
	}
	fmt.Printf("Job %s is now %s\n", j.ID, j.Status)
	return nil
}
