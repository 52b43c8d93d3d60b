package history

import (
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/dtnitsch/pdf-batch-parser/pkg/db"
	"github.com/dtnitsch/pdf-batch-parser/pkg/report"
	"github.com/urfave/cli/v2"
)

const timeLayout = "2006-01-02 15:04:05"

// ListAction prints the most recent runs, newest first.
func ListAction(c *cli.Context) error {
	database, err := OpenHistory(c)
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := database.ListRuns(c.Int("limit"))
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Printf("No runs found in %s\n", database.Path())
		return nil
	}

	// Print table header
	fmt.Printf("%-36s %-20s %-12s %-8s %-8s %-8s %-8s %-8s %-8s\n",
		"Run ID", "Started", "Mode", "Found", "Sent", "Success", "Failed", "Done", "Ledger")
	fmt.Println(strings.Repeat("-", 120))

	for _, r := range runs {
		fmt.Printf("%-36s %-20s %-12s %-8d %-8d %-8d %-8d %-8d %-8d\n",
			r.RunID,
			r.StartedAt.Local().Format(timeLayout),
			r.Mode,
			r.Discovered,
			r.Dispatched,
			r.SuccessCount,
			r.FailedCount,
			r.SkippedDone,
			r.SkippedLedger,
		)
	}

	fmt.Printf("\nTotal: %d runs\n", len(runs))
	fmt.Printf("\nTip: Use 'pbp history show <run-id>' to see details\n")

	return nil
}

// ShowAction prints one run and the outcome of each of its files.
func ShowAction(c *cli.Context) error {
	database, err := OpenHistory(c)
	if err != nil {
		return err
	}
	defer database.Close()

	r, err := GetRunOrLatest(c, database)
	if err != nil {
		return err
	}

	files, err := database.GetRunFiles(r.RunID)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s\n", r.RunID)
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Started:     %s\n", r.StartedAt.Local().Format(timeLayout))
	if r.FinishedAt.Valid {
		fmt.Printf("Finished:    %s (%s)\n", r.FinishedAt.Time.Local().Format(timeLayout),
			r.FinishedAt.Time.Sub(r.StartedAt).Round(time.Second))
	} else {
		fmt.Printf("Finished:    (did not finish)\n")
	}
	fmt.Printf("Mode:        %s\n", r.Mode)
	fmt.Printf("Classifier:  %s\n", r.Classifier)
	fmt.Printf("Files:       %d found, %d dispatched (%d success, %d failed)\n",
		r.Discovered, r.Dispatched, r.SuccessCount, r.FailedCount)
	fmt.Printf("Skipped:     %d already done, %d in error ledger\n", r.SkippedDone, r.SkippedLedger)

	if top := topErrorTypes(files, 5); len(top) > 0 {
		fmt.Printf("Top errors:  %s\n", strings.Join(top, ", "))
	}

	if len(files) > 0 {
		fmt.Printf("\nFiles (%d):\n", len(files))
		fmt.Println(strings.Repeat("-", 60))
		for i, f := range files {
			fmt.Printf("%2d. [%s] %s\n", i+1, f.Status, f.Path)
			printFileDetail(f)
		}
	}

	fmt.Printf("\nTip: Use 'pbp ledger list' to see files excluded from future runs\n")

	return nil
}

func printFileDetail(f dbpkg.RunFile) {
	if f.Status == "failed" {
		fmt.Printf("    Error: [%s] %s (attempts: %d)\n", f.ErrorType, f.ErrorMessage, f.Attempts)
		return
	}
	worker := f.Worker
	if worker == "" {
		worker = "(none)"
	}
	fmt.Printf("    Folder: %s | Worker: %s | Attempts: %d | %dms\n", f.OutputFolder, worker, f.Attempts, f.DurationMS)
}

func topErrorTypes(files []dbpkg.RunFile, n int) []string {
	counts := make(map[string]int)
	for _, f := range files {
		if f.Status == "failed" {
			counts[f.ErrorType]++
		}
	}
	return report.TopCounts(counts, n)
}
