package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/activity"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/engine"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/postgres"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the activity status committed in the index and the log",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	IndexDir     string          `json:"indexDir"`
	Generation   uint64          `json:"generation"`
	Documents    int             `json:"documents"`
	Locked       bool            `json:"locked"`
	IndexStatus  activity.Status `json:"indexStatus"`
	LogStatus    activity.Status `json:"logStatus"`
	LastLoggedID int64           `json:"lastLoggedId"`
	Unapplied    int64           `json:"unapplied"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	dir, err := engine.OpenDirectory(cfg.Index.DataDir)
	if err != nil {
		return err
	}
	report := statusReport{IndexDir: dir.Path(), Locked: dir.IsLocked()}

	r, err := engine.OpenReader(dir, indexer.DefaultAnalyzer())
	switch {
	case errors.Is(err, engine.ErrIndexNotFound):
	case err != nil:
		return fmt.Errorf("reading index: %w", err)
	default:
		report.Generation = r.Generation()
		report.Documents = r.NumDocs()
		report.IndexStatus = activity.ParseStatus(r.CommitUserData())
	}

	pg, err := openPostgres()
	if err != nil {
		return err
	}
	if pg != nil {
		defer pg.Close()
	}
	actLog, err := activity.OpenLog(ctx, cfg.Activity, pg)
	if err != nil {
		return err
	}
	defer actLog.Close()
	if report.LogStatus, err = actLog.ReadStatus(ctx); err != nil {
		return fmt.Errorf("reading log status: %w", err)
	}
	if report.LastLoggedID, err = actLog.LastID(ctx); err != nil {
		return fmt.Errorf("reading last activity id: %w", err)
	}
	report.Unapplied = max(report.LastLoggedID-report.IndexStatus.LastActivityID, 0) + int64(len(report.IndexStatus.Gaps))

	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	fmt.Fprintf(out, "index:       %s (generation %d, %d documents, locked=%t)\n",
		report.IndexDir, report.Generation, report.Documents, report.Locked)
	fmt.Fprintf(out, "applied:     %s\n", report.IndexStatus)
	fmt.Fprintf(out, "log status:  %s\n", report.LogStatus)
	fmt.Fprintf(out, "last logged: %d\n", report.LastLoggedID)
	fmt.Fprintf(out, "unapplied:   %d\n", report.Unapplied)
	return nil
}

func openPostgres() (*postgres.Client, error) {
	if !cfg.Postgres.Enabled {
		return nil, nil
	}
	return postgres.New(cfg.Postgres)
}
