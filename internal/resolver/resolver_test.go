package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/ibimina/saccoledger/internal/models"
)

type fakeDirectory struct {
	groups  []models.Group
	members []models.Member
	err     error
	calls   int
}

func (f *fakeDirectory) ActiveGroupByCode(_ context.Context, cooperativeID, code string) (*models.Group, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.groups {
		g := &f.groups[i]
		if g.Code == code && g.Status == models.StatusActive && (cooperativeID == "" || g.CooperativeID == cooperativeID) {
			return g, nil
		}
	}
	return nil, nil
}

func (f *fakeDirectory) ActiveMemberByCode(_ context.Context, groupID, code string) (*models.Member, error) {
	f.calls++
	for i := range f.members {
		m := &f.members[i]
		if m.GroupID == groupID && m.MemberCode == code && m.Status == models.StatusActive {
			return m, nil
		}
	}
	return nil, nil
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{
		groups: []models.Group{
			{ID: "g1", CooperativeID: "coop-1", Code: "G001", Status: models.StatusActive},
			{ID: "g2", CooperativeID: "coop-2", Code: "G002", Status: models.StatusActive},
			{ID: "g3", CooperativeID: "coop-1", Code: "G003", Status: models.StatusInactive},
		},
		members: []models.Member{
			{ID: "m42", GroupID: "g1", MemberCode: "M042", Status: models.StatusActive},
		},
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"coop1.x.g001.m042", "COOP1.X.G001.M042"},
		{"  ..COOP1..X...G001.M042.. ", "COOP1.X.G001.M042"},
		{"coop-1/x.g 001", "COOP1X.G001"},
		{"...", ""},
		{"", ""},
		{"#$%", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		reference  string
		fallback   string
		wantStatus models.PaymentStatus
		wantCoop   string
		wantGroup  string
		wantMember string
	}{
		{"absent reference", "", "coop-1", models.StatusPending, "coop-1", "", ""},
		{"reference normalises to nothing", " .. ", "coop-1", models.StatusPending, "coop-1", "", ""},
		{"too few segments", "COOP1.X", "coop-1", models.StatusUnallocated, "coop-1", "", ""},
		{"unknown group", "COOP1.X.G999.M042", "coop-1", models.StatusUnallocated, "coop-1", "", ""},
		{"inactive group", "COOP1.X.G003.M001", "coop-1", models.StatusUnallocated, "coop-1", "", ""},
		{"group only", "COOP1.X.G001", "coop-1", models.StatusUnallocated, "coop-1", "g1", ""},
		{"unknown member", "COOP1.X.G001.M999", "coop-1", models.StatusUnallocated, "coop-1", "g1", ""},
		{"fully resolved", "COOP1.X.G001.M042", "coop-1", models.StatusPosted, "coop-1", "g1", "m42"},
		{"lower case resolves", "coop1.x.g001.m042", "coop-1", models.StatusPosted, "coop-1", "g1", "m42"},
		{"group of another cooperative", "COOP2.X.G002.M001", "coop-1", models.StatusUnallocated, "coop-1", "", ""},
		{"unscoped lookup adopts group cooperative", "COOP2.X.G002", "", models.StatusUnallocated, "coop-2", "g2", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(newDirectory())
			res, err := r.Resolve(context.Background(), tt.reference, tt.fallback)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if res.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", res.Status, tt.wantStatus)
			}
			if res.CooperativeID != tt.wantCoop {
				t.Errorf("cooperative = %q, want %q", res.CooperativeID, tt.wantCoop)
			}
			if res.GroupID != tt.wantGroup {
				t.Errorf("group = %q, want %q", res.GroupID, tt.wantGroup)
			}
			if res.MemberID != tt.wantMember {
				t.Errorf("member = %q, want %q", res.MemberID, tt.wantMember)
			}
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	dir := newDirectory()
	r := New(dir)
	first, _ := r.Resolve(context.Background(), "COOP1.X.G001.M042", "coop-1")
	for i := 0; i < 5; i++ {
		again, _ := r.Resolve(context.Background(), "COOP1.X.G001.M042", "coop-1")
		if again != first {
			t.Fatalf("resolution changed between calls: %+v vs %+v", again, first)
		}
	}

	// Removing the member demotes the payment to UNALLOCATED with only the group set.
	dir.members = nil
	res, _ := r.Resolve(context.Background(), "COOP1.X.G001.M042", "coop-1")
	if res.Status != models.StatusUnallocated || res.GroupID != "g1" || res.MemberID != "" {
		t.Errorf("after member removal got %+v", res)
	}
}

func TestResolveDirectoryError(t *testing.T) {
	dir := newDirectory()
	dir.err = errors.New("database is locked")
	_, err := New(dir).Resolve(context.Background(), "A.B.G001.M042", "coop-1")
	if err == nil || !errors.Is(err, dir.err) {
		t.Errorf("expected wrapped directory error, got %v", err)
	}
}

func TestGroupCode(t *testing.T) {
	if got := GroupCode("nya.kgl.g001.m042"); got != "G001" {
		t.Errorf("GroupCode = %q, want G001", got)
	}
	if got := GroupCode("NYA.KGL"); got != "" {
		t.Errorf("GroupCode = %q, want empty", got)
	}
}
