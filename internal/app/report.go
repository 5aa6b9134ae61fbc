package app

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"api-runner/internal/bulk"
)

// describe renders one finished operation as a progress line.
func describe(op bulk.Operation) string {
	head := fmt.Sprintf("%s %s %s", op.Status, strings.ToUpper(op.Spec.Method), op.Spec.Name)
	switch {
	case op.Response != nil:
		return fmt.Sprintf("%s -> %d %s (%dms)", head, op.Response.StatusCode, op.Response.StatusText, op.Response.ElapsedMs)
	case op.Error != "":
		return head + ": " + op.Error
	default:
		return head
	}
}

// writeReport prints one row per operation followed by the status counts.
func writeReport(w io.Writer, ops []bulk.Operation, s bulk.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tMETHOD\tSTATUS\tRESULT\tTIME")
	for i, op := range ops {
		result, elapsed := "-", "-"
		switch {
		case op.Response != nil:
			result = fmt.Sprintf("%d %s", op.Response.StatusCode, op.Response.StatusText)
			elapsed = fmt.Sprintf("%dms", op.Response.ElapsedMs)
		case op.Error != "":
			result = op.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", i+1, op.Spec.Name, strings.ToUpper(op.Spec.Method), op.Status, result, elapsed)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\nTotal: %d  Completed: %d  Failed: %d  Pending: %d\n", s.Total, s.Completed, s.Failed, s.Pending)
}
