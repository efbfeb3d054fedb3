package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/focusdo/internal/tasks"
	"github.com/stellarlinkco/focusdo/internal/tracker"
)

func newStatsCmd() *cobra.Command {
	var year int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show time logged on completed tasks during a year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if year == 0 {
				year = time.Now().Year()
			}
			return withTracker(func(tr *tracker.Tracker) error {
				writeStats(cmd.OutOrStdout(), tasks.ComputeYearStats(tr.Tasks(), year, time.Local))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "Calendar year (default current)")
	return cmd
}

func writeStats(w io.Writer, s tasks.YearStats) {
	if s.TotalSeconds == 0 {
		fmt.Fprintf(w, "%d: nothing logged yet\n", s.Year)
		return
	}
	fmt.Fprintf(w, "%d: %s across %d days\n", s.Year, tasks.FormatSeconds(s.TotalSeconds), len(s.Days))

	busiest := ""
	for day, secs := range s.Days {
		if secs == s.MaxSeconds && (busiest == "" || day < busiest) {
			busiest = day
		}
	}
	fmt.Fprintf(w, "Busiest day: %s (%s)\n", busiest, tasks.FormatSeconds(s.MaxSeconds))

	months := s.Months()
	peak := 0
	for _, secs := range months {
		peak = max(peak, secs)
	}
	for i, secs := range months {
		if secs == 0 {
			continue
		}
		bar := strings.Repeat("#", max(1, secs*20/peak))
		fmt.Fprintf(w, "%s %-20s %s\n", time.Month(i+1).String()[:3], bar, tasks.FormatSeconds(secs))
	}
}

func newExportCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all tasks as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(func(tr *tracker.Tracker) error {
				list := tr.Tasks()
				if out == "" || out == "-" {
					return tasks.ExportYAML(cmd.OutOrStdout(), list)
				}

				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create export file: %w", err)
				}
				if err := tasks.ExportYAML(f, list); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("close export file: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d tasks to %s\n", len(list), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Add tasks from a YAML export; tasks already present are skipped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open import file: %w", err)
			}
			defer f.Close()

			list, err := tasks.ImportYAML(f)
			if err != nil {
				return err
			}
			return withTracker(func(tr *tracker.Tracker) error {
				n := tr.Import(list)
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d tasks\n", n, len(list))
				return nil
			})
		},
	}
}
