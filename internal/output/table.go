package output

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/wowkit/hoard/internal/reconcile"
)

// StatusTable renders reconciliation results as an aligned text table.
// Unless verbose is set, up-to-date rows are folded into a summary line.
func StatusTable(w io.Writer, results []reconcile.Result, verbose bool) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "No addons found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDON\tSTATUS\tRELEASED\tINSTALLED")

	rows, upToDate := 0, 0
	for _, res := range results {
		if res.Status == reconcile.StatusUpToDate {
			upToDate++
			if !verbose {
				continue
			}
		}
		status := string(res.Status)
		if res.Status == reconcile.StatusError && res.Err != nil {
			status = fmt.Sprintf("error: %v", res.Err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			res.Name, status, formatTime(res.ReleasedAt), formatTime(res.InstalledAt))
		rows++
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !verbose && upToDate > 0 {
		label := "addons are"
		if upToDate == 1 {
			label = "addon is"
		}
		if rows > 0 {
			_, err := fmt.Fprintf(w, "%d other %s up to date\n", upToDate, label)
			return err
		}
		_, err := fmt.Fprintf(w, "%d %s up to date\n", upToDate, label)
		return err
	}
	return nil
}

// formatTime renders a timestamp for table display; zero values render empty.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}
