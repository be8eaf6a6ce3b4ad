package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrichment-cli/internal/model"
)

var (
	runCompanyID  string
	runBusinessID string
	runName       string
	runModules    []string
	runLocale     string
	runDomain     string
	runUser       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one enrichment job synchronously",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		job, runErr := env.Dispatcher.RunSync(ctx, buildTrigger())
		if job != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(job); err != nil {
				return err
			}
		}
		if runErr != nil {
			return runErr
		}
		zap.L().Info("enrichment complete",
			zap.String("job_id", job.ID),
			zap.Int64("duration_ms", job.DurationMs),
		)
		return nil
	},
}

func buildTrigger() model.Trigger {
	tr := model.Trigger{
		CompanyID:   runCompanyID,
		BusinessID:  runBusinessID,
		CompanyName: runName,
		UserID:      runUser,
		Config: model.JobConfig{
			Locale:     runLocale,
			DomainHint: runDomain,
		},
	}
	for _, m := range runModules {
		if m = strings.TrimSpace(m); m != "" {
			tr.Config.Modules = append(tr.Config.Modules, model.ModuleName(m))
		}
	}
	return tr
}

func init() {
	runCmd.Flags().StringVar(&runCompanyID, "company-id", "", "company record ID")
	runCmd.Flags().StringVar(&runBusinessID, "business-id", "", "business ID or organisation number")
	runCmd.Flags().StringVar(&runName, "name", "", "company name")
	runCmd.Flags().StringSliceVar(&runModules, "modules", nil, "modules to run (default all)")
	runCmd.Flags().StringVar(&runLocale, "locale", "", "registry locale (fi, se; default inferred)")
	runCmd.Flags().StringVar(&runDomain, "domain", "", "company website or domain hint")
	runCmd.Flags().StringVar(&runUser, "user", "cli", "user recorded on the job")
	_ = runCmd.MarkFlagRequired("company-id")
	_ = runCmd.MarkFlagRequired("business-id")
	_ = runCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(runCmd)
}
