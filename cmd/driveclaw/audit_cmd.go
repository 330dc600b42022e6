package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/sipeed/driveclaw/pkg/audit"
	"github.com/sipeed/driveclaw/pkg/config"
)

const defaultTailLimit = 20

func newAuditCommand(opts *cliOptions) *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}
	auditCmd.AddCommand(
		newAuditTailCommand(opts),
		newAuditStatsCommand(opts),
	)
	return auditCmd
}

func newAuditTailCommand(opts *cliOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent audit records",
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, closeFn, err := openAuditReader(opts.cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			records, err := reader.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "lines", "n", defaultTailLimit, "Number of records to show")
	return cmd
}

func newAuditStatsCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the audit trail by outcome and operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, closeFn, err := openAuditReader(opts.cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			stats, err := reader.Stats(cmd.Context())
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

func openAuditReader(cfg *config.Config) (audit.Reader, func(), error) {
	store, err := audit.OpenStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	reader, ok := store.(audit.Reader)
	if !ok {
		_ = store.Close()
		return nil, nil, fmt.Errorf("audit backend %q keeps no readable history", cfg.Audit.Backend)
	}
	return reader, func() { _ = store.Close() }, nil
}

func printRecords(w io.Writer, records []audit.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No audit records yet.")
		return
	}
	for _, rec := range records {
		target := rec.TargetPath.OrElse("-")
		fmt.Fprintf(w, "%s  %-15s  %-8s %-16s %s  (%s, %dms)\n",
			rec.Timestamp.Local().Format(time.DateTime),
			rec.OutcomeTag,
			rec.Operation,
			rec.Channel+":"+rec.RequesterID,
			target,
			rec.ID,
			rec.DurationMs,
		)
		if rec.Detail != "" {
			fmt.Fprintf(w, "    %s\n", rec.Detail)
		}
	}
}

func printStats(w io.Writer, stats audit.Stats) {
	if stats.Total == 0 {
		fmt.Fprintln(w, "No audit records yet.")
		return
	}
	fmt.Fprintf(w, "Records: %d (%s to %s)\n", stats.Total,
		stats.First.Local().Format(time.DateTime), stats.Last.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Success rate: %.1f%%\n", stats.SuccessRate()*100)

	fmt.Fprintln(w, "\nBy outcome:")
	printCounts(w, stats.ByOutcome)
	fmt.Fprintln(w, "\nBy operation:")
	printCounts(w, stats.ByOperation)
}

func printCounts(w io.Writer, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		fmt.Fprintf(w, "  %-16s %d\n", k, counts[k])
	}
}
