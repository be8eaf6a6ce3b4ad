package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/enrichment-cli/internal/model"
	"github.com/sells-group/enrichment-cli/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect enrichment jobs",
	Long:  "Commands for listing and viewing enrichment job records.",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrichment jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		company, _ := cmd.Flags().GetString("company")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := st.ListJobs(ctx, store.JobFilter{
			Status:    model.JobStatus(status),
			CompanyID: company,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show full details of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "jobs show %s", args[0])
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		}
		formatJobDetail(os.Stdout, job)
		return nil
	},
}

func formatJobsList(w io.Writer, jobs []model.EnrichmentJob) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCOMPANY\tSTATUS\tMODULES\tATTEMPTS\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
			j.ID,
			j.CompanyName,
			j.Status,
			j.CompletedModuleCount,
			len(j.ModuleStatus),
			j.Attempts,
			j.CreatedAt.Format(time.DateTime),
		)
	}
	_ = tw.Flush()
}

func formatJobDetail(w io.Writer, j *model.EnrichmentJob) {
	fmt.Fprintf(w, "Job:        %s\n", j.ID)
	fmt.Fprintf(w, "Company:    %s (%s, %s)\n", j.CompanyName, j.CompanyID, j.BusinessID)
	fmt.Fprintf(w, "Status:     %s\n", j.Status)
	fmt.Fprintf(w, "Attempts:   %d\n", j.Attempts)
	fmt.Fprintf(w, "Pause done: %t\n", j.PauseDone)
	if j.DurationMs > 0 {
		fmt.Fprintf(w, "Duration:   %s\n", time.Duration(j.DurationMs)*time.Millisecond)
	}
	if j.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:      %s\n", j.ErrorMessage)
	}

	names := make([]string, 0, len(j.ModuleStatus))
	for m := range j.ModuleStatus {
		names = append(names, string(m))
	}
	sort.Strings(names)

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tSTATUS\tERROR")
	for _, n := range names {
		st := j.ModuleStatus[model.ModuleName(n)]
		fmt.Fprintf(tw, "%s\t%s\t%s\n", n, st.Status, st.Error)
	}
	_ = tw.Flush()
}

func init() {
	jobsListCmd.Flags().String("status", "", "filter by status (pending, processing, completed, failed)")
	jobsListCmd.Flags().String("company", "", "filter by company ID")
	jobsListCmd.Flags().Int("limit", 20, "maximum jobs to list")
	jobsShowCmd.Flags().Bool("json", false, "print the raw job record")

	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd)
	rootCmd.AddCommand(jobsCmd)
}
