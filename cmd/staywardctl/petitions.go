package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/stayward/stayward/pkg/client"
)

var petitionsCmd = &cobra.Command{
	Use:     "petitions",
	Aliases: []string{"petition"},
	Short:   "List and review unlock petitions",
}

// ── petitions list ───────────────────────────────────────────────────────────

var (
	petStatus string
	petRecord string
	petPage   int
	petLimit  int
)

var petitionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List petitions, newest first (admin)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		page, err := c.ListPetitions(cmd.Context(), client.PetitionFilter{
			Status:   strings.ToUpper(petStatus),
			RecordID: petRecord,
			Page:     petPage,
			Limit:    petLimit,
		})
		if err != nil {
			return err
		}
		printPetitionTable(cmd.OutOrStdout(), page)
		return nil
	},
}

// ── petitions review ─────────────────────────────────────────────────────────

var (
	reviewDecision string
	reviewNotes    string
)

var petitionsReviewCmd = &cobra.Command{
	Use:   "review <petition-id>",
	Short: "Approve or reject a pending petition (admin)",
	Long: `Review moves a PENDING petition to APPROVED or REJECTED. An approved
petition lets administrators edit the locked stay it names.

Examples:

  staywardctl petitions review 3f2c... --decision approve --notes "guest moved"
  staywardctl petitions review 3f2c... --decision reject`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		decision, err := parseDecision(reviewDecision)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		p, err := c.ReviewPetition(cmd.Context(), args[0], decision, reviewNotes)
		if client.IsConflict(err) {
			return fmt.Errorf("petition %s was already reviewed", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "petition %s is now %s (stay %s)\n", p.ID, p.Status, p.RecordID)
		return nil
	},
}

func init() {
	petitionsListCmd.Flags().StringVar(&petStatus, "status", "", "filter by status (PENDING, APPROVED, REJECTED)")
	petitionsListCmd.Flags().StringVar(&petRecord, "record", "", "filter by stay ID")
	petitionsListCmd.Flags().IntVar(&petPage, "page", 1, "page number")
	petitionsListCmd.Flags().IntVar(&petLimit, "limit", 50, "petitions per page (max 100)")

	petitionsReviewCmd.Flags().StringVar(&reviewDecision, "decision", "", "approve or reject")
	petitionsReviewCmd.Flags().StringVar(&reviewNotes, "notes", "", "reviewer notes")
	_ = petitionsReviewCmd.MarkFlagRequired("decision")

	petitionsCmd.AddCommand(petitionsListCmd)
	petitionsCmd.AddCommand(petitionsReviewCmd)
}

func parseDecision(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return client.DecisionApproved, nil
	case "reject", "rejected":
		return client.DecisionRejected, nil
	}
	return "", fmt.Errorf("--decision must be approve or reject, got %q", s)
}

func printPetitionTable(w io.Writer, page *client.PetitionPage) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTAY\tREQUESTER\tSTATUS\tCREATED\tREASON")
	for _, p := range page.Petitions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.RecordID, p.RequesterID, p.Status,
			p.CreatedAt.UTC().Format(time.RFC3339),
			truncate(p.Reason, 60),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\npage %d of %d (%d petitions)\n", page.Page, page.TotalPages, page.Total)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
