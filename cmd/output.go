package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/brenner/internal/ingest"
)

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printReport lists an ingest run. Rejections and warnings are shown, never fatal.
func printReport(w io.Writer, r *ingest.Report) {
	fmt.Fprintf(w, "Ingested %s: %d messages, %d operations, %d applied, version %d (watermark %d)\n",
		r.ThreadID, r.MessagesScanned, r.Operations, len(r.Applied), r.Version, r.Watermark)
	if !r.Changed {
		fmt.Fprintln(w, "Artifact unchanged")
	}
	for _, f := range r.ParseErrors {
		fmt.Fprintf(w, "  parse error: message %d block %d: %s\n", f.MessageID, f.Block, f.Error)
	}
	for _, rej := range r.Rejected {
		target := string(rej.Operation.Section)
		if rej.Operation.TargetID != "" {
			target += "/" + rej.Operation.TargetID
		}
		fmt.Fprintf(w, "  rejected %s %s (message %d): %s: %s\n",
			rej.Operation.Operation, target, rej.Operation.SourceMessageID, rej.Reason, rej.Detail)
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "  warning %s on %s: %s\n", warn.Code, warn.RecordID, warn.Message)
	}
	for _, sw := range r.StorageWarnings {
		fmt.Fprintf(w, "  storage warning: %s: %s\n", sw.File, sw.Reason)
	}
	if len(r.AnomaliesCreated) > 0 {
		fmt.Fprintf(w, "  anomalies created: %s\n", strings.Join(r.AnomaliesCreated, ", "))
	}
	if r.LogFile != "" {
		fmt.Fprintf(w, "  log: %s\n", r.LogFile)
	}
}
