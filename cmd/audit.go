package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/deal-pipeline/internal/store"
)

// errAuditFailed makes the command exit non-zero without repeating the report.
var errAuditFailed = eris.New("audit: catalog invariants violated")

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check catalog invariants",
	Long:  "Reports non-canonical industries, stale derived values, orphan artifacts, duplicate canonical ids and terminal deals still queued. Pass without a reason is listed but does not fail the audit.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("catalog"); err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rep, err := st.Audit(ctx)
		if err != nil {
			return eris.Wrap(err, "audit")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return err
			}
		} else {
			formatAudit(os.Stdout, rep)
		}

		if !rep.Clean() {
			return errAuditFailed
		}
		return nil
	},
}

// formatAudit writes one line per check with its violation count and the
// first few offenders.
func formatAudit(out io.Writer, r *store.AuditReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CHECK\tCOUNT\tEXAMPLES")
	_, _ = fmt.Fprintln(w, "-----\t-----\t--------")
	orphans := make([]string, len(r.OrphanArtifacts))
	for i, id := range r.OrphanArtifacts {
		orphans[i] = fmt.Sprintf("artifact %d", id)
	}
	for _, c := range []struct {
		name string
		ids  []string
	}{
		{"non_canonical_industry", r.NonCanonicalIndustry},
		{"stale_derived", r.StaleDerived},
		{"orphan_artifacts", orphans},
		{"duplicate_canonical", r.DuplicateCanonical},
		{"terminal_in_queue", r.TerminalInQueue},
		{"pass_without_reason (advisory)", r.PassWithoutReason},
	} {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", c.name, len(c.ids), examples(c.ids, 3))
	}
	_ = w.Flush()
}

func examples(ids []string, n int) string {
	if len(ids) == 0 {
		return "-"
	}
	out := ""
	for i, id := range ids {
		if i == n {
			return out + fmt.Sprintf(", +%d more", len(ids)-n)
		}
		if i > 0 {
			out += ", "
		}
		out += id
	}
	return out
}

func init() {
	auditCmd.Flags().Bool("json", false, "print the report as JSON")
	rootCmd.AddCommand(auditCmd)
}
