package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ibimina/saccoledger/internal/apperr"
	"github.com/ibimina/saccoledger/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	// Create temp directory for test database
	tempDir, err := os.MkdirTemp("", "saccoledger-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := New(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// seedDirectory creates one cooperative with group G001 and member M042.
func seedDirectory(t *testing.T, store *SQLiteStore) (*models.Cooperative, *models.Group, *models.Member) {
	t.Helper()
	ctx := context.Background()

	coop := &models.Cooperative{Name: "Umurenge SACCO", District: "Gasabo"}
	if err := store.CreateCooperative(ctx, coop); err != nil {
		t.Fatalf("CreateCooperative failed: %v", err)
	}
	group := &models.Group{CooperativeID: coop.ID, Code: "G001", Name: "Abishyizehamwe"}
	if err := store.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	member := &models.Member{
		CooperativeID: coop.ID,
		GroupID:       group.ID,
		MemberCode:    "M042",
		FullName:      "Uwase Aline",
		MsisdnMasked:  "250✱✱✱✱✱✱567",
	}
	if err := store.CreateMember(ctx, member); err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}
	return coop, group, member
}

func TestDirectory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	coop, group, member := seedDirectory(t, store)

	t.Run("ActiveGroupByCode scoped and unscoped", func(t *testing.T) {
		got, err := store.ActiveGroupByCode(ctx, coop.ID, "G001")
		if err != nil {
			t.Fatalf("ActiveGroupByCode failed: %v", err)
		}
		if got == nil || got.ID != group.ID {
			t.Fatalf("Expected group %s, got %+v", group.ID, got)
		}

		got, err = store.ActiveGroupByCode(ctx, "", "G001")
		if err != nil || got == nil {
			t.Fatalf("Unscoped lookup failed: %v, %+v", err, got)
		}

		got, err = store.ActiveGroupByCode(ctx, "other-coop", "G001")
		if err != nil {
			t.Fatalf("ActiveGroupByCode failed: %v", err)
		}
		if got != nil {
			t.Errorf("Expected no group outside the cooperative, got %+v", got)
		}
	})

	t.Run("inactive groups do not resolve", func(t *testing.T) {
		inactive := &models.Group{CooperativeID: coop.ID, Code: "G999", Name: "Closed", Status: models.StatusInactive}
		if err := store.CreateGroup(ctx, inactive); err != nil {
			t.Fatalf("CreateGroup failed: %v", err)
		}
		got, err := store.ActiveGroupByCode(ctx, coop.ID, "G999")
		if err != nil {
			t.Fatalf("ActiveGroupByCode failed: %v", err)
		}
		if got != nil {
			t.Errorf("Expected inactive group to be skipped, got %+v", got)
		}
	})

	t.Run("ActiveMemberByCode", func(t *testing.T) {
		got, err := store.ActiveMemberByCode(ctx, group.ID, "M042")
		if err != nil {
			t.Fatalf("ActiveMemberByCode failed: %v", err)
		}
		if got == nil || got.ID != member.ID {
			t.Fatalf("Expected member %s, got %+v", member.ID, got)
		}
		if got.MsisdnMasked != member.MsisdnMasked {
			t.Errorf("MsisdnMasked = %q, want %q", got.MsisdnMasked, member.MsisdnMasked)
		}

		missing, err := store.ActiveMemberByCode(ctx, group.ID, "M999")
		if err != nil || missing != nil {
			t.Errorf("Expected (nil, nil) for unknown member, got %+v, %v", missing, err)
		}
	})

	t.Run("SearchMembers scopes to group then cooperative", func(t *testing.T) {
		matches, err := store.SearchMembers(ctx, models.MemberQuery{Term: "uwase", GroupID: group.ID})
		if err != nil {
			t.Fatalf("SearchMembers failed: %v", err)
		}
		if len(matches) != 1 || matches[0].GroupName != group.Name {
			t.Fatalf("Expected one match in %s, got %+v", group.Name, matches)
		}

		matches, err = store.SearchMembers(ctx, models.MemberQuery{Term: "M04", CooperativeID: coop.ID})
		if err != nil {
			t.Fatalf("SearchMembers failed: %v", err)
		}
		if len(matches) != 1 {
			t.Errorf("Expected code search to match, got %d", len(matches))
		}

		matches, err = store.SearchMembers(ctx, models.MemberQuery{Term: "uwase", CooperativeID: "other-coop"})
		if err != nil {
			t.Fatalf("SearchMembers failed: %v", err)
		}
		if len(matches) != 0 {
			t.Errorf("Expected no matches in another cooperative, got %d", len(matches))
		}
	})

	t.Run("staff profiles", func(t *testing.T) {
		p, err := store.GetStaffProfile(ctx, "unknown")
		if err != nil || p != nil {
			t.Fatalf("Expected (nil, nil) for unknown user, got %+v, %v", p, err)
		}
		profile := &models.StaffProfile{UserID: "u1", CooperativeID: coop.ID, Role: models.RoleSaccoStaff}
		if err := store.UpsertStaffProfile(ctx, profile); err != nil {
			t.Fatalf("UpsertStaffProfile failed: %v", err)
		}
		profile.Role = models.RoleSaccoManager
		if err := store.UpsertStaffProfile(ctx, profile); err != nil {
			t.Fatalf("UpsertStaffProfile failed: %v", err)
		}
		p, err = store.GetStaffProfile(ctx, "u1")
		if err != nil {
			t.Fatalf("GetStaffProfile failed: %v", err)
		}
		if p.Role != models.RoleSaccoManager || p.CooperativeID != coop.ID {
			t.Errorf("Unexpected profile: %+v", p)
		}
	})

	t.Run("CreateMembers is all or nothing", func(t *testing.T) {
		tests := []struct {
			name     string
			codes    []string
			conflict bool
		}{
			{name: "taken code aborts the batch", codes: []string{"M200", "M042"}, conflict: true},
			{name: "repeated code aborts the batch", codes: []string{"M201", "M201"}, conflict: true},
			{name: "fresh codes are written", codes: []string{"M202", "M203"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				members := make([]*models.Member, len(tt.codes))
				for i, code := range tt.codes {
					members[i] = &models.Member{CooperativeID: coop.ID, GroupID: group.ID, MemberCode: code, FullName: "Member " + code}
				}
				err := store.CreateMembers(ctx, members)
				var conflict *apperr.ConflictError
				if tt.conflict != errors.As(err, &conflict) {
					t.Fatalf("CreateMembers error = %v, conflict want %v", err, tt.conflict)
				}
				if !tt.conflict && err != nil {
					t.Fatalf("CreateMembers failed: %v", err)
				}
				got, err := store.ActiveMemberByCode(ctx, group.ID, tt.codes[0])
				if err != nil {
					t.Fatalf("ActiveMemberByCode failed: %v", err)
				}
				if (got != nil) == tt.conflict {
					t.Errorf("Member %s stored = %v after conflict = %v", tt.codes[0], got != nil, tt.conflict)
				}
			})
		}
	})

	t.Run("GetGroup returns NotFound", func(t *testing.T) {
		_, err := store.GetGroup(ctx, "nonexistent-id")
		var nf *apperr.NotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("Expected NotFoundError, got %v", err)
		}
	})
}

func TestLedgerRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("InsertAccount is first-write-wins", func(t *testing.T) {
		first := &models.Account{OwnerType: models.OwnerGroup, OwnerID: "g1", CooperativeID: "c1", Currency: "RWF"}
		inserted, err := store.InsertAccount(ctx, first)
		if err != nil || !inserted {
			t.Fatalf("First insert: inserted=%v err=%v", inserted, err)
		}
		second := &models.Account{OwnerType: models.OwnerGroup, OwnerID: "g1", CooperativeID: "c1", Currency: "RWF"}
		inserted, err = store.InsertAccount(ctx, second)
		if err != nil {
			t.Fatalf("Second insert failed: %v", err)
		}
		if inserted {
			t.Error("Expected duplicate account insert to be skipped")
		}
		found, err := store.FindAccount(ctx, models.OwnerGroup, "g1", "RWF")
		if err != nil {
			t.Fatalf("FindAccount failed: %v", err)
		}
		if found.ID != first.ID {
			t.Errorf("Found account %s, want %s", found.ID, first.ID)
		}
	})

	t.Run("concurrent account creation yields one row", func(t *testing.T) {
		var wg sync.WaitGroup
		wins := make(chan bool, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := store.InsertAccount(ctx, &models.Account{
					OwnerType: models.OwnerClearing, OwnerID: "c1", CooperativeID: "c1", Currency: "RWF",
				})
				if err != nil {
					t.Errorf("InsertAccount failed: %v", err)
				}
				wins <- ok
			}()
		}
		wg.Wait()
		close(wins)
		count := 0
		for ok := range wins {
			if ok {
				count++
			}
		}
		if count != 1 {
			t.Errorf("Expected exactly one winning insert, got %d", count)
		}
	})

	t.Run("InsertEntry dedupes by external id and memo", func(t *testing.T) {
		clearing, _ := store.FindAccount(ctx, models.OwnerClearing, "c1", "RWF")
		group, _ := store.FindAccount(ctx, models.OwnerGroup, "g1", "RWF")
		entry := &models.LedgerEntry{
			CooperativeID: "c1", DebitID: clearing.ID, CreditID: group.ID,
			Amount: 5000, Currency: "RWF", ValueDate: time.Now().Unix(),
			ExternalID: "pay-1", Memo: models.MemoPosted,
		}
		inserted, err := store.InsertEntry(ctx, entry)
		if err != nil || !inserted {
			t.Fatalf("InsertEntry: inserted=%v err=%v", inserted, err)
		}
		dup := *entry
		dup.ID = ""
		inserted, err = store.InsertEntry(ctx, &dup)
		if err != nil {
			t.Fatalf("InsertEntry failed: %v", err)
		}
		if inserted {
			t.Error("Expected duplicate entry to be skipped")
		}

		entries, err := store.ListAccountEntries(ctx, group.ID)
		if err != nil {
			t.Fatalf("ListAccountEntries failed: %v", err)
		}
		if len(entries) != 1 {
			t.Errorf("Expected 1 entry, got %d", len(entries))
		}

		found, err := store.FindEntry(ctx, "pay-1", models.MemoPosted)
		if err != nil || found == nil || found.ID != entry.ID {
			t.Errorf("FindEntry = %+v, %v", found, err)
		}
		none, err := store.FindEntry(ctx, "pay-1", models.MemoSettled)
		if err != nil || none != nil {
			t.Errorf("Expected no SETTLED entry, got %+v, %v", none, err)
		}
	})
}

func TestPayments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	coop, group, member := seedDirectory(t, store)

	occurred := time.Date(2024, 3, 1, 10, 30, 0, 0, time.FixedZone("CAT", 2*60*60))
	base := func() *models.Payment {
		return &models.Payment{
			CooperativeID: coop.ID,
			Msisdn:        "250✱✱✱✱✱✱567",
			Amount:        5000,
			Currency:      "RWF",
			TxnID:         "MP240301.1030.A12345",
			OccurredAt:    occurred,
			Status:        models.StatusUnallocated,
			Reference:     "COOP1.X.G001",
			GroupID:       group.ID,
			Confidence:    1,
		}
	}

	var paymentID string

	t.Run("UpsertPayment inserts once", func(t *testing.T) {
		stored, err := store.UpsertPayment(ctx, base())
		if err != nil {
			t.Fatalf("UpsertPayment failed: %v", err)
		}
		if stored.ID == "" || stored.Version != 1 {
			t.Fatalf("Unexpected stored payment: %+v", stored)
		}
		if !stored.OccurredAt.Equal(occurred) {
			t.Errorf("OccurredAt = %v, want %v", stored.OccurredAt, occurred)
		}
		paymentID = stored.ID

		again, err := store.UpsertPayment(ctx, base())
		if err != nil {
			t.Fatalf("UpsertPayment failed: %v", err)
		}
		if again.ID != paymentID {
			t.Errorf("Re-ingestion created a new row: %s != %s", again.ID, paymentID)
		}
		if again.Version != 1 {
			t.Errorf("Identical re-ingestion bumped version to %d", again.Version)
		}
	})

	t.Run("same instant in another offset is the same payment", func(t *testing.T) {
		p := base()
		p.OccurredAt = occurred.UTC()
		stored, err := store.UpsertPayment(ctx, p)
		if err != nil {
			t.Fatalf("UpsertPayment failed: %v", err)
		}
		if stored.ID != paymentID {
			t.Errorf("Expected %s, got %s", paymentID, stored.ID)
		}
	})

	t.Run("re-ingestion upgrades but never regresses", func(t *testing.T) {
		p := base()
		p.Status = models.StatusPosted
		p.MemberID = member.ID
		stored, err := store.UpsertPayment(ctx, p)
		if err != nil {
			t.Fatalf("UpsertPayment failed: %v", err)
		}
		if stored.Status != models.StatusPosted || stored.MemberID != member.ID || stored.Version != 2 {
			t.Fatalf("Expected upgrade to POSTED, got %+v", stored)
		}

		p = base()
		p.Status = models.StatusPending
		p.GroupID = ""
		stored, err = store.UpsertPayment(ctx, p)
		if err != nil {
			t.Fatalf("UpsertPayment failed: %v", err)
		}
		if stored.Status != models.StatusPosted || stored.GroupID != group.ID {
			t.Errorf("Payment regressed: %+v", stored)
		}
	})

	t.Run("UpdatePayment checks version", func(t *testing.T) {
		_, err := store.UpdatePayment(ctx, paymentID, 1, models.PaymentPatch{})
		var conflict *apperr.ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("Expected ConflictError for stale version, got %v", err)
		}

		settled := models.StatusSettled
		updated, err := store.UpdatePayment(ctx, paymentID, 2, models.PaymentPatch{Status: &settled})
		if err != nil {
			t.Fatalf("UpdatePayment failed: %v", err)
		}
		if updated.Status != models.StatusSettled || updated.Version != 3 {
			t.Errorf("Unexpected payment after update: %+v", updated)
		}
	})

	t.Run("bulk status rejects the whole batch on one regression", func(t *testing.T) {
		other := base()
		other.TxnID = "MP240301.1031.B99999"
		other.GroupID = ""
		other.Status = models.StatusPending
		other.Reference = ""
		fresh, err := store.UpsertPayment(ctx, other)
		if err != nil {
			t.Fatalf("UpsertPayment failed: %v", err)
		}

		_, err = store.UpdatePaymentsStatus(ctx, coop.ID, []string{fresh.ID, paymentID}, models.StatusUnallocated)
		var verr *apperr.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("Expected ValidationError, got %v", err)
		}
		unchanged, _ := store.GetPayment(ctx, fresh.ID)
		if unchanged.Status != models.StatusPending {
			t.Errorf("Batch partially applied: %s", unchanged.Status)
		}

		updated, err := store.UpdatePaymentsStatus(ctx, coop.ID, []string{fresh.ID}, models.StatusUnallocated)
		if err != nil {
			t.Fatalf("UpdatePaymentsStatus failed: %v", err)
		}
		if updated[0].Status != models.StatusUnallocated {
			t.Errorf("Status = %s, want UNALLOCATED", updated[0].Status)
		}

		_, err = store.UpdatePaymentsStatus(ctx, coop.ID, []string{fresh.ID}, models.StatusPosted)
		if !errors.As(err, &verr) {
			t.Errorf("Expected POSTED without a group to fail, got %v", err)
		}

		assigned, err := store.AssignPaymentsGroup(ctx, coop.ID, []string{fresh.ID}, group.ID)
		if err != nil || len(assigned) != 1 {
			t.Fatalf("AssignPaymentsGroup = %v, %v", assigned, err)
		}
		if assigned[0].GroupID != group.ID || assigned[0].Version != updated[0].Version+1 {
			t.Errorf("Unexpected assigned payment: %+v", assigned[0])
		}
		again, err := store.AssignPaymentsGroup(ctx, coop.ID, []string{fresh.ID}, group.ID)
		if err != nil || len(again) != 0 {
			t.Errorf("Reassigning to the same group = %v, %v, want nothing", again, err)
		}

		_, err = store.UpdatePaymentsStatus(ctx, "other-coop", []string{fresh.ID}, models.StatusPosted)
		var forbidden *apperr.AuthorizationError
		if !errors.As(err, &forbidden) {
			t.Errorf("Expected AuthorizationError across cooperatives, got %v", err)
		}
	})

	t.Run("reconciliation rows carry source state", func(t *testing.T) {
		parsed := &models.RawMessage{CooperativeID: coop.ID, Body: "You have received 7000 RWF", ParsedJSON: `{"amount":7000}`}
		unparsed := &models.RawMessage{CooperativeID: coop.ID, Body: "garbled"}
		for _, m := range []*models.RawMessage{parsed, unparsed} {
			if err := store.CreateRawMessage(ctx, m); err != nil {
				t.Fatalf("CreateRawMessage failed: %v", err)
			}
		}

		for i, src := range []string{parsed.ID, unparsed.ID} {
			p := base()
			p.TxnID = "SRC-" + src
			p.Amount = int64(7000 + i)
			p.SourceID = src
			if _, err := store.UpsertPayment(ctx, p); err != nil {
				t.Fatalf("UpsertPayment failed: %v", err)
			}
		}

		rows, err := store.ListReconciliationRows(ctx, coop.ID, 50)
		if err != nil {
			t.Fatalf("ListReconciliationRows failed: %v", err)
		}
		seen := map[string]models.ReconciliationRow{}
		for _, r := range rows {
			seen[r.SourceID] = r
		}
		if r := seen[parsed.ID]; !r.HasSource || !r.SourceParsed {
			t.Errorf("Parsed source row = %+v", r)
		}
		if r := seen[unparsed.ID]; !r.HasSource || r.SourceParsed {
			t.Errorf("Unparsed source row = %+v", r)
		}
	})
}

func TestIdempotencyRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Unix()

	rec := &models.IdempotencyRecord{
		IdentityKey: "user-1", Key: "k1", RequestHash: "h1",
		Response: []byte(`{"paymentId":"p1"}`), CreatedAt: now, ExpiresAt: now + 3600,
	}
	saved, err := store.SaveIdempotency(ctx, rec)
	if err != nil || !saved {
		t.Fatalf("SaveIdempotency: saved=%v err=%v", saved, err)
	}

	second := *rec
	second.RequestHash = "h2"
	saved, err = store.SaveIdempotency(ctx, &second)
	if err != nil {
		t.Fatalf("SaveIdempotency failed: %v", err)
	}
	if saved {
		t.Error("Expected live record to win")
	}

	got, err := store.GetIdempotency(ctx, "user-1", "k1")
	if err != nil {
		t.Fatalf("GetIdempotency failed: %v", err)
	}
	if got.RequestHash != "h1" || string(got.Response) != `{"paymentId":"p1"}` {
		t.Errorf("Unexpected record: %+v", got)
	}

	t.Run("expired records are replaced", func(t *testing.T) {
		replacement := *rec
		replacement.RequestHash = "h3"
		replacement.CreatedAt = now + 7200
		replacement.ExpiresAt = now + 10800
		saved, err := store.SaveIdempotency(ctx, &replacement)
		if err != nil || !saved {
			t.Fatalf("Expected replacement: saved=%v err=%v", saved, err)
		}
		got, _ := store.GetIdempotency(ctx, "user-1", "k1")
		if got.RequestHash != "h3" {
			t.Errorf("RequestHash = %s, want h3", got.RequestHash)
		}
	})

	t.Run("identities are isolated", func(t *testing.T) {
		got, err := store.GetIdempotency(ctx, "user-2", "k1")
		if err != nil || got != nil {
			t.Errorf("Expected nothing for another identity, got %+v, %v", got, err)
		}
	})
}

func TestAudit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := &models.AuditEntry{
		ActorID: "u1", Action: "PAYMENT_APPLY", Entity: "PAYMENT", EntityID: "p1",
		Diff: map[string]any{"status": "POSTED"},
	}
	if err := store.WriteAudit(ctx, entry); err != nil {
		t.Fatalf("WriteAudit failed: %v", err)
	}
	entries, err := store.ListAudit(ctx, "PAYMENT", "p1")
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Diff["status"] != "POSTED" {
		t.Errorf("Unexpected audit trail: %+v", entries)
	}

	for i := 0; i < 2; i++ {
		if err := store.RecordUsage(ctx, "payment_apply", "c1", "POSTED", time.Now()); err != nil {
			t.Fatalf("RecordUsage failed: %v", err)
		}
	}
	var count int
	if err := store.db.QueryRow(
		"SELECT count FROM usage_metrics WHERE event = ? AND cooperative_id = ? AND status = ?",
		"payment_apply", "c1", "POSTED",
	).Scan(&count); err != nil {
		t.Fatalf("Failed to read usage: %v", err)
	}
	if count != 2 {
		t.Errorf("Usage count = %d, want 2", count)
	}
}
