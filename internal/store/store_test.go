package store

import (
	"testing"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func TestOpenInitializesSchema(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	for _, table := range []string{"bill", "section_item", "bill_to_bill", "section_to_section", "currency"} {
		if _, ok := stats[table]; !ok {
			t.Errorf("stats missing table %s", table)
		}
	}
}

func TestUpsertBillIdempotent(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.UpsertBill(Bill{Billnumber: "117hr21", Version: "ih", Length: intp(4000)})
	if err != nil {
		t.Fatalf("UpsertBill: %v", err)
	}
	id2, err := s.UpsertBill(Bill{Billnumber: "117hr21", Version: "ih", SectionsNum: intp(3)})
	if err != nil {
		t.Fatalf("UpsertBill again: %v", err)
	}
	if id1 != id2 {
		t.Errorf("upsert allocated a new id: %d vs %d", id1, id2)
	}

	b, err := s.GetBill("117hr21ih")
	if err != nil {
		t.Fatalf("GetBill: %v", err)
	}
	// Nil fields leave stored values untouched.
	if b.Length == nil || *b.Length != 4000 {
		t.Errorf("length lost on upsert: %+v", b.Length)
	}
	if b.SectionsNum == nil || *b.SectionsNum != 3 {
		t.Errorf("sections_num not updated: %+v", b.SectionsNum)
	}
}

func TestGetBillNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetBill("117hr9999ih"); err == nil {
		t.Error("expected error for missing bill")
	}
	if _, err := s.GetBill("notabill"); err == nil {
		t.Error("expected error for malformed identifier")
	}
}

func TestUpsertSectionItem(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.UpsertSectionItem(SectionItem{
		BillnumberVersion: "117hr21ih", SectionIDAttr: "H1",
		Label: "1.", Header: "Short title", Length: intp(120),
	})
	if err != nil {
		t.Fatalf("UpsertSectionItem: %v", err)
	}
	id2, err := s.UpsertSectionItem(SectionItem{
		BillnumberVersion: "117hr21ih", SectionIDAttr: "H1",
		Label: "1.", Header: "Short title (amended)",
	})
	if err != nil {
		t.Fatalf("UpsertSectionItem again: %v", err)
	}
	if id1 != id2 {
		t.Errorf("upsert allocated a new id: %d vs %d", id1, id2)
	}

	if _, err := s.UpsertSectionItem(SectionItem{BillnumberVersion: "117hr21ih"}); err != ErrNoSectionID {
		t.Errorf("expected ErrNoSectionID, got %v", err)
	}
}

func TestSaveBillToBillCreatesBillRows(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveBillToBill(BillToBill{
		BillnumberVersion:   "117hr21ih",
		BillnumberVersionTo: "116hr200ih",
		ScoreES:             floatp(71),
		IdentifiedBy:        "BillToBill_ES",
		SectionsNum:         intp(3),
		SectionsMatch:       intp(2),
		CurrencyID:          1,
	})
	if err != nil {
		t.Fatalf("SaveBillToBill: %v", err)
	}

	// Both bill rows were created lazily.
	if _, err := s.GetBill("117hr21ih"); err != nil {
		t.Errorf("query bill row not created: %v", err)
	}
	if _, err := s.GetBill("116hr200ih"); err != nil {
		t.Errorf("target bill row not created: %v", err)
	}

	rels, err := s.GetBillToBill("117hr21ih")
	if err != nil {
		t.Fatalf("GetBillToBill: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("relations = %+v", rels)
	}
	r := rels[0]
	if r.BillnumberVersionTo != "116hr200ih" || *r.ScoreES != 71 || *r.SectionsMatch != 2 {
		t.Errorf("relation = %+v", r)
	}
}

func TestBillToBillUpsertSemantics(t *testing.T) {
	s := newTestStore(t)

	// First pass: search-engine fold writes score_es.
	err := s.SaveBillToBill(BillToBill{
		BillnumberVersion:   "117hr21ih",
		BillnumberVersionTo: "116hr200ih",
		ScoreES:             floatp(50),
		IdentifiedBy:        "BillToBill_ES",
		CurrencyID:          1,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Second pass: comparator writes score/score_to and reasons but no
	// score_es.
	err = s.SaveBillToBill(BillToBill{
		BillnumberVersion:   "117hr21ih",
		BillnumberVersionTo: "116hr200ih",
		Score:               floatp(0.63),
		ScoreTo:             floatp(0.79),
		Reasons:             []string{"incorporates"},
		IdentifiedBy:        "comparematrix",
		CurrencyID:          2,
	})
	if err != nil {
		t.Fatal(err)
	}

	rels, err := s.GetBillToBill("117hr21ih")
	if err != nil {
		t.Fatal(err)
	}
	r := rels[0]
	if r.ScoreES == nil || *r.ScoreES != 50 {
		t.Errorf("nil score_es overwrote stored value: %+v", r.ScoreES)
	}
	if r.Score == nil || *r.Score != 0.63 || r.ScoreTo == nil || *r.ScoreTo != 0.79 {
		t.Errorf("comparator scores not stored: %+v", r)
	}
	if r.CurrencyID != 2 {
		t.Errorf("currency_id not advanced: %d", r.CurrencyID)
	}
	if r.IdentifiedBy != "comparematrix" {
		t.Errorf("identified_by = %q", r.IdentifiedBy)
	}

	// Third pass: a fresh score_es overwrites, never sums.
	err = s.SaveBillToBill(BillToBill{
		BillnumberVersion:   "117hr21ih",
		BillnumberVersionTo: "116hr200ih",
		ScoreES:             floatp(44),
		CurrencyID:          3,
	})
	if err != nil {
		t.Fatal(err)
	}
	rels, _ = s.GetBillToBill("117hr21ih")
	if *rels[0].ScoreES != 44 {
		t.Errorf("score_es = %v, want overwrite to 44", *rels[0].ScoreES)
	}
}

func TestReasonsAreSetUnionMerged(t *testing.T) {
	s := newTestStore(t)

	save := func(reasons []string) {
		t.Helper()
		err := s.SaveBillToBill(BillToBill{
			BillnumberVersion:   "117hr21ih",
			BillnumberVersionTo: "116hr200ih",
			Reasons:             reasons,
			CurrencyID:          1,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	save([]string{"incorporates", "some sections match"})
	save([]string{"some sections match", "nearly identical"})

	rels, err := s.GetBillToBill("117hr21ih")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"incorporates", "some sections match", "nearly identical"}
	got := rels[0].Reasons
	if len(got) != len(want) {
		t.Fatalf("reasons = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("reasons[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMergeReasons(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		incoming string
		want     string
	}{
		{"both empty", "", "", ""},
		{"only new", "", "a, b", "a, b"},
		{"union", "a,b", "b , c", "a, b, c"},
		{"duplicates collapse", "a, a , a", "a", "a"},
		{"whitespace trimmed", " a , ", "b", "a, b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MergeReasons(tt.existing, tt.incoming); got != tt.want {
				t.Errorf("MergeReasons(%q, %q) = %q, want %q",
					tt.existing, tt.incoming, got, tt.want)
			}
		})
	}
}

func TestSectionToSectionBulk(t *testing.T) {
	s := newTestStore(t)

	edges := []SectionToSection{
		{
			BillnumberVersion: "117hr21ih", SectionIDAttr: "H1",
			BillnumberVersionTo: "116hr200ih", SectionIDAttrTo: "A1",
			Score: floatp(40), CurrencyID: 1,
		},
		{
			BillnumberVersion: "117hr21ih", SectionIDAttr: "H2",
			BillnumberVersionTo: "116hr200ih", SectionIDAttrTo: "A2",
			Score: floatp(31), CurrencyID: 1,
		},
	}
	if err := s.SaveSectionToSectionBulk(edges); err != nil {
		t.Fatalf("SaveSectionToSectionBulk: %v", err)
	}

	stats, _ := s.Stats()
	if stats["section_to_section"] != 2 {
		t.Errorf("section_to_section rows = %d", stats["section_to_section"])
	}
	if stats["section_item"] != 4 {
		t.Errorf("section_item rows = %d, want 4 lazily created", stats["section_item"])
	}

	// Re-saving the same edges must not duplicate rows.
	if err := s.SaveSectionToSectionBulk(edges); err != nil {
		t.Fatal(err)
	}
	stats, _ = s.Stats()
	if stats["section_to_section"] != 2 {
		t.Errorf("idempotency violated: %d rows", stats["section_to_section"])
	}
}

func TestSaveRelationsCommitsTogether(t *testing.T) {
	s := newTestStore(t)

	relations := []BillToBill{{
		BillnumberVersion:   "117hr21ih",
		BillnumberVersionTo: "116hr200ih",
		ScoreES:             floatp(71),
		CurrencyID:          1,
	}}
	edges := []SectionToSection{{
		BillnumberVersion: "117hr21ih", SectionIDAttr: "H1",
		BillnumberVersionTo: "116hr200ih", SectionIDAttrTo: "A1",
		Score: floatp(40), CurrencyID: 1,
	}}

	if err := s.SaveRelations(relations, edges); err != nil {
		t.Fatalf("SaveRelations: %v", err)
	}
	stats, _ := s.Stats()
	if stats["bill_to_bill"] != 1 || stats["section_to_section"] != 1 {
		t.Errorf("stats = %v, want one row in each relation table", stats)
	}
}

func TestSaveRelationsRollsBackOnBadEdge(t *testing.T) {
	s := newTestStore(t)

	relations := []BillToBill{{
		BillnumberVersion:   "117hr21ih",
		BillnumberVersionTo: "116hr200ih",
		ScoreES:             floatp(71),
		CurrencyID:          1,
	}}
	// An edge without a section id cannot be persisted; the relation
	// written in the same call must roll back with it.
	edges := []SectionToSection{{
		BillnumberVersion: "117hr21ih", SectionIDAttr: "",
		BillnumberVersionTo: "116hr200ih", SectionIDAttrTo: "A1",
		Score: floatp(40), CurrencyID: 1,
	}}

	if err := s.SaveRelations(relations, edges); err == nil {
		t.Fatal("expected error for edge without a section id")
	}
	stats, _ := s.Stats()
	if stats["bill_to_bill"] != 0 {
		t.Errorf("relation row survived a failed transaction: %v", stats)
	}
	if stats["section_to_section"] != 0 {
		t.Errorf("section edge survived a failed transaction: %v", stats)
	}
}

func TestCurrencyEpochAndSweep(t *testing.T) {
	s := newTestStore(t)

	e1, err := s.CreateEpoch("v1")
	if err != nil {
		t.Fatalf("CreateEpoch: %v", err)
	}
	e2, err := s.CreateEpoch("v1")
	if err != nil {
		t.Fatal(err)
	}
	if e2.ID <= e1.ID {
		t.Errorf("epoch ids not monotonic: %d then %d", e1.ID, e2.ID)
	}
	if e1.RunID == e2.RunID {
		t.Error("run ids should differ per epoch")
	}

	latest, err := s.LatestEpoch()
	if err != nil || latest.ID != e2.ID {
		t.Errorf("LatestEpoch = %+v, %v", latest, err)
	}

	// One relation per epoch; sweeping at e2 removes only the older.
	for i, epoch := range []CurrencyEpoch{e1, e2} {
		target := []string{"116hr200ih", "116s5enr"}[i]
		err := s.SaveBillToBill(BillToBill{
			BillnumberVersion:   "117hr21ih",
			BillnumberVersionTo: target,
			ScoreES:             floatp(10),
			CurrencyID:          epoch.ID,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := s.Sweep(e2.ID)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	rels, _ := s.GetBillToBill("117hr21ih")
	if len(rels) != 1 || rels[0].BillnumberVersionTo != "116s5enr" {
		t.Errorf("surviving relations = %+v", rels)
	}
}

func TestLatestEpochEmpty(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.LatestEpoch(); err == nil {
		t.Error("expected error when no epoch exists")
	}
}

func TestSaveBillToBillBulk(t *testing.T) {
	s := newTestStore(t)

	relations := []BillToBill{
		{BillnumberVersion: "117hr21ih", BillnumberVersionTo: "116hr200ih", ScoreES: floatp(71), CurrencyID: 1},
		{BillnumberVersion: "117hr21ih", BillnumberVersionTo: "117s50is", ScoreES: floatp(22), CurrencyID: 1},
		{BillnumberVersion: "116hr200ih", BillnumberVersionTo: "117s50is", ScoreES: floatp(5), CurrencyID: 1},
	}
	if err := s.SaveBillToBillBulk(relations); err != nil {
		t.Fatalf("SaveBillToBillBulk: %v", err)
	}

	stats, _ := s.Stats()
	if stats["bill_to_bill"] != 3 {
		t.Errorf("bill_to_bill rows = %d", stats["bill_to_bill"])
	}
	if stats["bill"] != 3 {
		t.Errorf("bill rows = %d, want 3 distinct bills", stats["bill"])
	}

	rels, err := s.GetBillToBill("117hr21ih")
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 2 || rels[0].BillnumberVersionTo != "116hr200ih" {
		t.Errorf("relations for 117hr21ih = %+v", rels)
	}
}
