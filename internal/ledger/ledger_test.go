package ledger_test

import (
	"context"
	"testing"

	"github.com/evidentry/evidentry/internal/ledger"
)

var ctx = context.Background()

func mustAppend(t *testing.T, s *ledger.MemoryStore, assessmentID string, typ ledger.EntryType) *ledger.Entry {
	t.Helper()
	payload, err := ledger.MarshalPayload(&ledger.CommentPayload{Text: "entry of type " + string(typ)})
	if err != nil {
		t.Fatal(err)
	}
	e, err := s.Append(ctx, ledger.AppendRequest{
		AssessmentID: assessmentID,
		Type:         typ,
		Payload:      payload,
		ActorID:      "user_1",
		ActorRole:    "CHAIR",
	})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestAppend_chainsCorrectly(t *testing.T) {
	s := ledger.NewMemoryStore()

	e1 := mustAppend(t, s, "asmt_1", ledger.EntryTypeComment)
	e2 := mustAppend(t, s, "asmt_1", ledger.EntryTypeEscalation)

	if e1.PrevHash != nil {
		t.Errorf("first entry must have nil prev_hash, got %q", *e1.PrevHash)
	}
	if e1.Seq != 0 || e2.Seq != 1 {
		t.Errorf("expected seq 0,1 got %d,%d", e1.Seq, e2.Seq)
	}
	if e2.PrevHash == nil || *e2.PrevHash != e1.Hash {
		t.Errorf("chain broken: e2.PrevHash does not commit to e1.Hash")
	}
}

func TestAppend_independentChainsPerAssessment(t *testing.T) {
	s := ledger.NewMemoryStore()

	mustAppend(t, s, "asmt_1", ledger.EntryTypeComment)
	other := mustAppend(t, s, "asmt_2", ledger.EntryTypeComment)

	if other.Seq != 0 || other.PrevHash != nil {
		t.Errorf("asmt_2 first entry must start a fresh chain, got seq=%d prev=%v",
			other.Seq, other.PrevHash)
	}
}

func TestAppend_rejectsUnknownType(t *testing.T) {
	s := ledger.NewMemoryStore()
	_, err := s.Append(ctx, ledger.AppendRequest{
		AssessmentID: "asmt_1",
		Type:         ledger.EntryType("TAMPERED"),
		ActorID:      "user_1",
		ActorRole:    "CHAIR",
	})
	if err == nil {
		t.Fatal("expected error for unknown entry type")
	}
}

func TestTail(t *testing.T) {
	s := ledger.NewMemoryStore()

	tail, err := s.Tail(ctx, "asmt_1")
	if err != nil {
		t.Fatal(err)
	}
	if tail != nil {
		t.Errorf("empty ledger tail should be nil, got %+v", tail)
	}

	mustAppend(t, s, "asmt_1", ledger.EntryTypeComment)
	last := mustAppend(t, s, "asmt_1", ledger.EntryTypeComment)

	tail, err = s.Tail(ctx, "asmt_1")
	if err != nil {
		t.Fatal(err)
	}
	if tail == nil || tail.Hash != last.Hash {
		t.Errorf("tail should be the most recent entry")
	}
}

func TestVerify_emptyLedger(t *testing.T) {
	v := ledger.NewVerifier(ledger.NewMemoryStore())
	res, err := v.Verify(ctx, "asmt_none")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Verified || res.Entries != 0 {
		t.Errorf("empty ledger must verify trivially: %+v", res)
	}
}

func TestVerify_validChain(t *testing.T) {
	s := ledger.NewMemoryStore()
	for i := 0; i < 6; i++ {
		mustAppend(t, s, "asmt_1", ledger.EntryTypes[i%len(ledger.EntryTypes)])
	}

	res, err := ledger.NewVerifier(s).Verify(ctx, "asmt_1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Verified {
		t.Errorf("fresh chain failed verification: %+v", res)
	}
	if res.Entries != 6 {
		t.Errorf("expected 6 entries, got %d", res.Entries)
	}
}

func TestVerify_tamperDetectionAtEveryIndex(t *testing.T) {
	const n = 5

	type mutation struct {
		name   string
		mutate func(e *ledger.Entry)
	}
	mutations := []mutation{
		{"payload", func(e *ledger.Entry) { e.Payload = []byte(`{"text":"rewritten"}`) }},
		{"actor_id", func(e *ledger.Entry) { e.ActorID = "intruder" }},
		{"entry_type", func(e *ledger.Entry) { e.Type = ledger.EntryTypePolicyUpdate }},
		{"hash", func(e *ledger.Entry) { e.Hash = "deadbeef" + e.Hash[8:] }},
		{"prev_hash", func(e *ledger.Entry) {
			bogus := "0000000000000000000000000000000000000000000000000000000000000000"
			e.PrevHash = &bogus
		}},
	}

	for _, m := range mutations {
		for i := 0; i < n; i++ {
			s := ledger.NewMemoryStore()
			for j := 0; j < n; j++ {
				mustAppend(t, s, "asmt_1", ledger.EntryTypeComment)
			}

			entries, err := s.Entries(ctx, "asmt_1")
			if err != nil {
				t.Fatal(err)
			}
			m.mutate(entries[i])

			res, err := ledger.NewVerifier(s).Verify(ctx, "asmt_1")
			if err != nil {
				t.Fatal(err)
			}
			if res.Verified {
				t.Errorf("%s mutation at index %d went undetected", m.name, i)
				continue
			}
			if res.FailureIndex == nil || *res.FailureIndex != i {
				t.Errorf("%s mutation at index %d: reported failure index %v",
					m.name, i, res.FailureIndex)
			}
			if res.ExpectedHash == "" && res.ActualHash == "" {
				t.Errorf("%s mutation at index %d: no diagnostic hashes reported", m.name, i)
			}
		}
	}
}

func TestList_cursorPagination(t *testing.T) {
	s := ledger.NewMemoryStore()
	for i := 0; i < 7; i++ {
		mustAppend(t, s, "asmt_1", ledger.EntryTypeComment)
	}

	page1, err := s.List(ctx, "asmt_1", ledger.ListOptions{AfterSeq: -1, Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 3 || page1[0].Seq != 0 || page1[2].Seq != 2 {
		t.Fatalf("unexpected first page: %d entries", len(page1))
	}

	cursor := ledger.EncodeCursor(page1[len(page1)-1].Seq)
	after, err := ledger.DecodeCursor(cursor)
	if err != nil {
		t.Fatal(err)
	}

	page2, err := s.List(ctx, "asmt_1", ledger.ListOptions{AfterSeq: after, Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 3 || page2[0].Seq != 3 {
		t.Fatalf("unexpected second page: %d entries starting at %d", len(page2), page2[0].Seq)
	}

	page3, err := s.List(ctx, "asmt_1", ledger.ListOptions{AfterSeq: page2[2].Seq, Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(page3) != 1 || page3[0].Seq != 6 {
		t.Fatalf("unexpected final page: %d entries", len(page3))
	}
}

func TestList_entryTypeFilter(t *testing.T) {
	s := ledger.NewMemoryStore()
	mustAppend(t, s, "asmt_1", ledger.EntryTypeComment)
	mustAppend(t, s, "asmt_1", ledger.EntryTypeEscalation)
	mustAppend(t, s, "asmt_1", ledger.EntryTypeComment)

	got, err := s.List(ctx, "asmt_1", ledger.ListOptions{AfterSeq: -1, Limit: 10, Type: ledger.EntryTypeComment})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 COMMENT entries, got %d", len(got))
	}
	for _, e := range got {
		if e.Type != ledger.EntryTypeComment {
			t.Errorf("filter leaked entry of type %s", e.Type)
		}
	}
}

func TestDecodeCursor_malformed(t *testing.T) {
	for _, c := range []string{"not-base64!!", "", ledger.EncodeCursor(0) + "x"} {
		if _, err := ledger.DecodeCursor(c); err == nil {
			t.Errorf("cursor %q should not decode", c)
		}
	}
}
