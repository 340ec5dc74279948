package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/stayward/stayward/internal/auditledger"
	"github.com/stayward/stayward/internal/config"
	"github.com/stayward/stayward/internal/store"
	"github.com/stayward/stayward/pkg/client"
)

// errChainInvalid makes the process exit non-zero after the report is printed.
var errChainInvalid = errors.New("audit chain integrity check failed")

// ── verify ───────────────────────────────────────────────────────────────────

var verifyDirect bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of the audit chain",
	Long: `Verify recomputes every audit entry's hash and checks each link to its
predecessor. By default it asks the server (admin token required); with
--direct it reads the configured database itself.

Exits non-zero when any entry fails verification.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		var report *client.IntegrityReport
		if verifyDirect {
			cfg, err := serverConfig()
			if err != nil {
				return err
			}
			report, err = verifyDatabase(ctx, cfg.Database)
			if err != nil {
				return err
			}
		} else {
			c, err := newClient()
			if err != nil {
				return err
			}
			report, err = c.VerifyAudit(ctx)
			if err != nil {
				return err
			}
		}
		return printIntegrity(cmd.OutOrStdout(), report)
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyDirect, "direct", false, "read the database directly instead of calling the server")
}

func verifyDatabase(ctx context.Context, db config.DatabaseConfig) (*client.IntegrityReport, error) {
	if db.Driver == config.DriverMemory {
		return nil, errors.New("--direct needs a persistent database driver (postgres or sqlite)")
	}
	backend, err := store.Open(ctx, db, newLogger())
	if err != nil {
		return nil, err
	}
	defer backend.Close()

	r, err := backend.Ledger.Verify(ctx)
	if err != nil {
		return nil, err
	}
	return &client.IntegrityReport{Valid: r.Valid, OffendingIDs: r.OffendingIDs, Entries: r.Entries}, nil
}

func printIntegrity(w io.Writer, r *client.IntegrityReport) error {
	if r.Valid {
		fmt.Fprintf(w, "OK: %d entries verified\n", r.Entries)
		return nil
	}
	fmt.Fprintf(w, "FAILED: %d of %d entries do not verify\n", len(r.OffendingIDs), r.Entries)
	for _, id := range r.OffendingIDs {
		fmt.Fprintf(w, "  %s\n", id)
	}
	return errChainInvalid
}

// ── audit list ───────────────────────────────────────────────────────────────

var (
	auditActor  string
	auditEntity string
	auditAction string
	auditFrom   string
	auditTo     string
	auditPage   int
	auditLimit  int
	auditFormat string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Browse audit history",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit entries, newest first",
	Long: `List audit entries, newest first. Requires an admin token.

Examples:

  staywardctl audit list --entity Stay --action UPDATE
  staywardctl audit list --actor u-42 --from 2026-01-01 --to 2026-01-31`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := auditFilter()
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		page, err := c.ListAudit(cmd.Context(), f)
		if err != nil {
			return err
		}
		if auditFormat == "json" {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(page)
		}
		printAuditTable(cmd.OutOrStdout(), page)
		return nil
	},
}

func init() {
	f := auditListCmd.Flags()
	f.StringVar(&auditActor, "actor", "", "filter by actor ID")
	f.StringVar(&auditEntity, "entity", "", "filter by entity name (Stay, Petition, Audit, User)")
	f.StringVar(&auditAction, "action", "", "filter by action (VIEW, CREATE, UPDATE, DELETE, LOGIN, LOGOUT)")
	f.StringVar(&auditFrom, "from", "", "earliest timestamp (RFC 3339 or YYYY-MM-DD)")
	f.StringVar(&auditTo, "to", "", "latest timestamp (RFC 3339 or YYYY-MM-DD, inclusive day)")
	f.IntVar(&auditPage, "page", 1, "page number")
	f.IntVar(&auditLimit, "limit", 50, "entries per page (max 100)")
	f.StringVar(&auditFormat, "format", "text", "output format: text or json")
	auditCmd.AddCommand(auditListCmd)
}

func auditFilter() (client.AuditFilter, error) {
	f := client.AuditFilter{
		Actor:  auditActor,
		Entity: auditEntity,
		Page:   auditPage,
		Limit:  auditLimit,
	}
	if auditAction != "" {
		a, err := auditledger.ParseAction(strings.ToUpper(auditAction))
		if err != nil {
			return f, err
		}
		f.Action = string(a)
	}
	var err error
	if f.From, err = parseCLITime(auditFrom, false); err != nil {
		return f, fmt.Errorf("--from: %w", err)
	}
	if f.To, err = parseCLITime(auditTo, true); err != nil {
		return f, fmt.Errorf("--to: %w", err)
	}
	return f, nil
}

// parseCLITime accepts RFC 3339 or a bare date. With endOfDay a bare date
// means its last microsecond, so "--to 2026-01-31" includes that day.
func parseCLITime(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Microsecond)
	}
	return t, nil
}

func printAuditTable(w io.Writer, page *client.AuditPage) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIMESTAMP\tACTOR\tACTION\tENTITY\tENTITY ID\tOUTCOME")
	for _, e := range page.Entries {
		outcome, _ := e.Metadata["outcome"].(string)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Seq,
			e.Timestamp.UTC().Format(time.RFC3339),
			orDash(e.ActorID),
			e.Action,
			e.EntityName,
			orDash(e.EntityID),
			outcome,
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\npage %d of %d (%d entries)\n", page.Page, page.TotalPages, page.Total)
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
