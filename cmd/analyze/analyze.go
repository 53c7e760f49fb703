// Package analyze implements the analyze command, which runs documents
// from files through the correlation pipeline.
package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/threatlink/internal/app"
	"github.com/tphakala/threatlink/internal/pipeline"
)

type options struct {
	concurrency int
	stdinFormat string
	jsonOutput  bool
	notify      bool
}

// Command creates the analyze command.
func Command(ctx *app.Context) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "analyze [file ...]",
		Short: "Analyze documents from YAML or JSON files",
		Long: `Analyze extracted threat intelligence documents. Each file holds one
document or a list of documents; "-" reads from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), ctx, args, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "j", 0, "Documents analyzed in parallel (default: pipeline.workers)")
	cmd.Flags().StringVar(&opts.stdinFormat, "stdin-format", FormatYAML, "Format of stdin input: yaml or json")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print full results as JSON")
	cmd.Flags().BoolVar(&opts.notify, "notify", false, "Publish results to the configured MQTT and push channels")

	return cmd
}

func run(ctx context.Context, appCtx *app.Context, paths []string, opts options, stdin io.Reader, out io.Writer) error {
	reqs, err := LoadFiles(paths, stdin, opts.stdinFormat)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		return fmt.Errorf("no documents found in input")
	}

	a, err := app.Open(ctx, appCtx.Settings, appCtx.Build, app.Options{Notify: opts.notify})
	if err != nil {
		return err
	}
	defer a.Close()

	limit := opts.concurrency
	if limit <= 0 {
		limit = appCtx.Settings.Pipeline.Workers
	}
	summary, err := a.Orchestrator.AnalyzeBatch(ctx, reqs, limit)
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		err = writeJSON(out, summary)
	} else {
		err = writeTable(out, summary)
	}
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d documents failed", summary.Failed, len(reqs))
	}
	return nil
}

// report is the printable form of one outcome.
type report struct {
	DocumentID string                   `json:"document_id"`
	Status     string                   `json:"status"`
	Error      string                   `json:"error,omitempty"`
	Result     *pipeline.AnalysisResult `json:"result,omitempty"`
}

func reportsOf(summary *pipeline.BatchSummary) []report {
	reports := make([]report, 0, len(summary.Outcomes))
	for _, o := range summary.Outcomes {
		r := report{Result: o.Result}
		if o.Request != nil {
			r.DocumentID = o.Request.DocumentID
		}
		switch {
		case o.Err != nil:
			r.Status = "failed"
			r.Error = o.Err.Error()
		case o.Result.Partial():
			r.Status = "partial"
		default:
			r.Status = "ok"
		}
		reports = append(reports, r)
	}
	return reports
}

func writeJSON(out io.Writer, summary *pipeline.BatchSummary) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(reportsOf(summary))
}

func writeTable(out io.Writer, summary *pipeline.BatchSummary) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DOCUMENT\tSTATUS\tENTITIES\tRELATED\tCAMPAIGN\tPRIORITY")
	for _, r := range reportsOf(summary) {
		entities, related, campaign, priority := "-", "-", "-", "-"
		if res := r.Result; res != nil {
			if res.Entities != nil {
				entities = fmt.Sprint(res.Entities.Total())
			}
			related = fmt.Sprint(len(res.Relationships))
			if res.Campaign != nil && res.Campaign.Campaign != nil {
				campaign = res.Campaign.Campaign.Name
			}
			if res.Priority != nil {
				priority = fmt.Sprintf("%.2f %s", res.Priority.Overall, res.Priority.PriorityLevel)
			}
		}
		status := r.Status
		if r.Error != "" {
			status += ": " + r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.DocumentID, status, entities, related, campaign, priority)
	}
	fmt.Fprintf(w, "\n%d ok, %d partial, %d failed in %s\n",
		summary.Succeeded, summary.Partial, summary.Failed, summary.Duration.Round(time.Millisecond))
	return w.Flush()
}
