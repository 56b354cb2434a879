package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stablepay/stablepay/internal/history"
)

var historyBatchID string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded transfers",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.OpenSQLite(cfg.HistoryPath)
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.ListRecords(cmd.Context())
		if err != nil {
			return err
		}
		for _, r := range records {
			if historyBatchID != "" && r.BatchID != historyBatchID {
				continue
			}
			line := fmt.Sprintf("%s  %-9s  %s %s -> %s",
				r.Timestamp.Format("2006-01-02 15:04:05"), r.Status,
				r.Intent.Amount, r.Intent.Asset, r.Intent.Recipient)
			if r.Signature != "" {
				line += "  " + r.Signature
			}
			if r.BatchID != "" {
				line += "  batch=" + r.BatchID
			}
			if r.Error != "" {
				line += "  error=" + r.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

var historyBatchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "List recorded batch runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.OpenSQLite(cfg.HistoryPath)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.ListBatches(cmd.Context())
		if err != nil {
			return err
		}
		for _, run := range runs {
			fmt.Printf("%s  %-20s  %-19s  %d items  %s\n",
				run.CreatedAt.Format("2006-01-02 15:04:05"), run.Name, run.Status,
				len(run.Items), run.ID)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyBatchID, "batch", "", "only show records from this batch id")
	historyCmd.AddCommand(historyBatchesCmd)
}
