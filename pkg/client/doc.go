// Package client is the Evidentry Go SDK.
//
// It covers the full API surface: council and membership administration,
// decision submission, quorum reads, and the tamper-evident evidence ledger.
//
// # Connecting
//
// Every call except health and metrics requires a bearer token:
//
//	c, err := client.New("https://evidentry.example.com",
//	    client.WithBearerToken(token),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Submitting a decision
//
// A decision is recorded against a membership on a council and produces a
// chained ledger entry plus a fresh quorum verdict in one round trip:
//
//	result, err := c.SubmitDecision(ctx, "asmt_2024_0117", client.SubmitDecisionRequest{
//	    CouncilID:    councilID,
//	    MembershipID: membershipID,
//	    Step:         "final_review",
//	    Status:       "APPROVED",
//	})
//	fmt.Println(result.Quorum.Approved)
//
// # Reading the ledger
//
// Ledger reads are cursor-paginated in chain order:
//
//	page, err := c.LedgerEntries(ctx, "asmt_2024_0117", client.LedgerListOptions{Limit: 50})
//	for page != nil {
//	    for _, e := range page.Entries {
//	        fmt.Printf("%3d %-14s %s\n", e.Seq, e.Type, e.Hash[:12])
//	    }
//	    if page.NextCursor == "" {
//	        break
//	    }
//	    page, err = c.LedgerEntries(ctx, "asmt_2024_0117", client.LedgerListOptions{Cursor: page.NextCursor})
//	}
//
// # Verifying chain integrity
//
// Verification replays every hash from genesis. A broken chain is reported,
// never repaired:
//
//	result, err := c.VerifyLedger(ctx, "asmt_2024_0117")
//	if !result.Verified {
//	    fmt.Printf("chain broken at entry %d: %s\n", *result.FailureIndex, result.Reason)
//	}
package client
