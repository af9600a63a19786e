package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/evidentry/evidentry/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	authToken string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "evctl",
	Short: "Evidentry governance ledger CLI",
	Long: `evctl is the command-line interface for Evidentry.

It manages approval councils and their memberships, submits decisions,
and inspects the tamper-evident evidence ledger.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.evidentry")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if authToken == "" {
			authToken = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.evidentry/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Evidentry server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Bearer token for authentication")

	rootCmd.AddCommand(councilCmd)
	rootCmd.AddCommand(memberCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(quorumCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	return client.New(serverURL, client.WithBearerToken(authToken))
}

// ── council ──────────────────────────────────────────────────────────────────

var councilCmd = &cobra.Command{
	Use:   "council",
	Short: "Manage approval councils",
}

var (
	councilName      string
	councilQuorum    int
	councilUnanimous bool
	councilVeto      bool
)

var councilCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new approval council (admin only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		created, err := c.CreateCouncil(context.Background(), client.CreateCouncilRequest{
			Name:             councilName,
			Quorum:           councilQuorum,
			RequireUnanimous: councilUnanimous,
			Policy:           client.ApprovalPolicy{RejectionVeto: councilVeto},
		})
		if err != nil {
			return fmt.Errorf("create council: %w", err)
		}

		fmt.Printf("✓ Council created\n\n")
		fmt.Printf("  ID:     %s\n", created.ID)
		fmt.Printf("  Name:   %s\n", created.Name)
		fmt.Printf("  Quorum: %d\n\n", created.Quorum)
		fmt.Printf("Next: evctl member add --council %s --user <id> --role PARTNER\n", created.ID)
		return nil
	},
}

var councilGetCmd = &cobra.Command{
	Use:   "get <council-id>",
	Short: "Show a council's configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		found, err := c.GetCouncil(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get council: %w", err)
		}

		fmt.Printf("ID:        %s\n", found.ID)
		fmt.Printf("Name:      %s\n", found.Name)
		fmt.Printf("Status:    %s\n", found.Status)
		fmt.Printf("Quorum:    %d\n", found.Quorum)
		fmt.Printf("Unanimous: %v\n", found.RequireUnanimous)
		fmt.Printf("Veto:      %v\n", found.Policy.RejectionVeto)
		return nil
	},
}

var councilArchiveCmd = &cobra.Command{
	Use:   "archive <council-id>",
	Short: "Archive a council (admin only)",
	Long: `Archive retires a council. Its decisions and ledger history remain
readable, but no further decisions are accepted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		archived, err := c.ArchiveCouncil(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("archive council: %w", err)
		}
		fmt.Printf("✓ Council archived: %s (%s)\n", archived.Name, archived.ID)
		return nil
	},
}

func init() {
	councilCreateCmd.Flags().StringVar(&councilName, "name", "", "Council display name")
	councilCreateCmd.Flags().IntVar(&councilQuorum, "quorum", 2, "Approvals required for quorum")
	councilCreateCmd.Flags().BoolVar(&councilUnanimous, "unanimous", false, "Require every voter to approve")
	councilCreateCmd.Flags().BoolVar(&councilVeto, "veto", false, "A single rejection blocks approval")
	_ = councilCreateCmd.MarkFlagRequired("name")

	councilCmd.AddCommand(councilCreateCmd)
	councilCmd.AddCommand(councilGetCmd)
	councilCmd.AddCommand(councilArchiveCmd)
}

// ── member ───────────────────────────────────────────────────────────────────

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Manage council memberships",
}

var (
	memberCouncilID string
	memberUserID    string
	memberRole      string
	memberNotes     string
	memberActive    bool
)

var memberAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Assign a user to a council (admin only)",
	Long: `Add assigns a user to a council. If the user previously held a revoked
membership on the same council, that membership is reactivated instead of
creating a duplicate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		m, err := c.AddMember(context.Background(), memberCouncilID, client.AddMemberRequest{
			UserID: memberUserID,
			Role:   memberRole,
			Notes:  memberNotes,
		})
		if err != nil {
			return fmt.Errorf("add member: %w", err)
		}

		fmt.Printf("✓ Membership active\n\n")
		fmt.Printf("  ID:   %s\n", m.ID)
		fmt.Printf("  User: %s\n", m.UserID)
		fmt.Printf("  Role: %s\n", m.Role)
		return nil
	},
}

var memberListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a council's memberships",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		members, err := c.ListMembers(context.Background(), memberCouncilID, memberActive)
		if err != nil {
			return fmt.Errorf("list members: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSER\tROLE\tSTATUS")
		for _, m := range members {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.UserID, m.Role, m.Status)
		}
		return w.Flush()
	},
}

var memberRevokeCmd = &cobra.Command{
	Use:   "revoke <membership-id>",
	Short: "Revoke a membership (admin only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		m, err := c.RevokeMember(context.Background(), memberCouncilID, args[0], memberNotes)
		if err != nil {
			return fmt.Errorf("revoke member: %w", err)
		}
		fmt.Printf("✓ Membership revoked: %s (%s)\n", m.UserID, m.ID)
		return nil
	},
}

func init() {
	memberCmd.PersistentFlags().StringVar(&memberCouncilID, "council", "", "Council UUID")
	_ = memberCmd.MarkPersistentFlagRequired("council")

	memberAddCmd.Flags().StringVar(&memberUserID, "user", "", "User ID to assign")
	memberAddCmd.Flags().StringVar(&memberRole, "role", "PARTNER", "Membership role: CHAIR, PARTNER, or OBSERVER")
	memberAddCmd.Flags().StringVar(&memberNotes, "notes", "", "Assignment notes")
	_ = memberAddCmd.MarkFlagRequired("user")

	memberListCmd.Flags().BoolVar(&memberActive, "active", false, "Only the current voter roster")

	memberRevokeCmd.Flags().StringVar(&memberNotes, "notes", "", "Revocation notes")

	memberCmd.AddCommand(memberAddCmd)
	memberCmd.AddCommand(memberListCmd)
	memberCmd.AddCommand(memberRevokeCmd)
}

// ── decide ───────────────────────────────────────────────────────────────────

var (
	decideCouncilID    string
	decideMembershipID string
	decideStep         string
	decideStatus       string
	decideNotes        string
	decideReasonCodes  []string
)

var decideCmd = &cobra.Command{
	Use:   "decide <assessment-id>",
	Short: "Submit a decision on an assessment",
	Long: `Decide records a council member's decision on an assessment. The decision
is written atomically with its ledger entry; the command prints the entry's
position in the chain and the council's fresh quorum verdict.

Resubmitting for the same step records a revision — the full history stays
in the ledger and only the latest decision counts toward quorum.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		result, err := c.SubmitDecision(context.Background(), args[0], client.SubmitDecisionRequest{
			CouncilID:    decideCouncilID,
			MembershipID: decideMembershipID,
			Step:         decideStep,
			Status:       decideStatus,
			Notes:        decideNotes,
			ReasonCodes:  decideReasonCodes,
		})
		if err != nil {
			return fmt.Errorf("submit decision: %w", err)
		}

		fmt.Printf("✓ Decision recorded\n\n")
		fmt.Printf("  Decision: %s (%s)\n", result.Decision.ID, result.Decision.Status)
		fmt.Printf("  Ledger:   seq %d, hash %s\n\n", result.LedgerEntry.Seq, result.LedgerEntry.Hash)
		printQuorum(result.Quorum)
		return nil
	},
}

func init() {
	decideCmd.Flags().StringVar(&decideCouncilID, "council", "", "Council UUID")
	decideCmd.Flags().StringVar(&decideMembershipID, "membership", "", "Membership UUID of the deciding member")
	decideCmd.Flags().StringVar(&decideStep, "step", "final_review", "Workflow step")
	decideCmd.Flags().StringVar(&decideStatus, "status", "", "Decision status: APPROVED, REJECTED, PENDING, or CONDITIONAL")
	decideCmd.Flags().StringVar(&decideNotes, "notes", "", "Decision notes")
	decideCmd.Flags().StringSliceVar(&decideReasonCodes, "reason", nil, "Reason codes (repeatable)")
	_ = decideCmd.MarkFlagRequired("council")
	_ = decideCmd.MarkFlagRequired("membership")
	_ = decideCmd.MarkFlagRequired("status")
}

// ── quorum ───────────────────────────────────────────────────────────────────

var quorumCouncilID string

var quorumCmd = &cobra.Command{
	Use:   "quorum <assessment-id>",
	Short: "Show a council's current verdict on an assessment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		quorum, err := c.Quorum(context.Background(), args[0], quorumCouncilID)
		if err != nil {
			return fmt.Errorf("get quorum: %w", err)
		}
		printQuorum(quorum)
		return nil
	},
}

func init() {
	quorumCmd.Flags().StringVar(&quorumCouncilID, "council", "", "Council UUID")
	_ = quorumCmd.MarkFlagRequired("council")
}

func printQuorum(q *client.QuorumResult) {
	verdict := "NOT APPROVED"
	if q.Approved {
		verdict = "APPROVED"
	}
	fmt.Printf("Verdict:    %s\n", verdict)
	fmt.Printf("Approvals:  %d of %d required\n", q.TotalApprovals, q.RequiredQuorum)
	fmt.Printf("Quorum met: %v\n", q.QuorumMet)
	if q.RequiresUnanimous {
		fmt.Printf("Unanimity:  required (%d voters evaluated)\n", q.Evaluated)
	}
}

// ── ledger ───────────────────────────────────────────────────────────────────

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and verify assessment ledgers",
}

var (
	ledgerFormat string
	ledgerType   string
	ledgerLimit  int
)

var ledgerListCmd = &cobra.Command{
	Use:   "list <assessment-id>",
	Short: "List an assessment's ledger entries in chain order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		var entries []client.LedgerEntry
		cursor := ""
		for {
			page, err := c.LedgerEntries(ctx, args[0], client.LedgerListOptions{
				EntryType: ledgerType,
				Cursor:    cursor,
				Limit:     ledgerLimit,
			})
			if err != nil {
				return fmt.Errorf("list ledger: %w", err)
			}
			entries = append(entries, page.Entries...)
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}

		if ledgerFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTYPE\tACTOR\tROLE\tHASH\tCREATED")
		for _, e := range entries {
			hash := e.Hash
			if len(hash) > 12 {
				hash = hash[:12]
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				e.Seq, e.Type, e.ActorID, e.ActorRole, hash, e.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify <assessment-id>",
	Short: "Replay an assessment's hash chain from genesis",
	Long: `Verify recomputes every entry hash from the stored fields and checks each
prev_hash link. A broken chain is reported with the failing entry's index;
the ledger itself is never modified.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		result, err := c.VerifyLedger(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("verify ledger: %w", err)
		}

		if result.Verified {
			fmt.Printf("✓ Chain verified: %d entries intact\n", result.Entries)
			return nil
		}

		fmt.Printf("✗ Chain BROKEN\n\n")
		fmt.Printf("  Assessment: %s\n", result.AssessmentID)
		if result.FailureIndex != nil {
			fmt.Printf("  Entry:      #%d\n", *result.FailureIndex)
		}
		fmt.Printf("  Reason:     %s\n", result.Reason)
		if result.ExpectedHash != "" {
			fmt.Printf("  Expected:   %s\n", result.ExpectedHash)
			fmt.Printf("  Actual:     %s\n", result.ActualHash)
		}
		os.Exit(1)
		return nil
	},
}

func init() {
	ledgerListCmd.Flags().StringVar(&ledgerFormat, "format", "text", "Output format: text or json")
	ledgerListCmd.Flags().StringVar(&ledgerType, "type", "", "Filter by entry type (e.g. APPROVAL, COMMENT)")
	ledgerListCmd.Flags().IntVar(&ledgerLimit, "limit", 100, "Page size per request")

	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerVerifyCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the evctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("evctl %s (Evidentry)\n", version)
	},
}
