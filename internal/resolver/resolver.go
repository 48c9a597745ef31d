// Package resolver routes a free-text mobile-money reference to the
// (cooperative, group, member) it names.
//
// References are dot-delimited: DISTRICT.SACCO.GROUP.MEMBER, e.g.
// "NYA.KGL.G001.M042". Only the third (group) and fourth (member) segments
// are looked up; the cooperative always comes from the caller's scope or the
// resolved group. Resolution never writes.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/ibimina/saccoledger/internal/models"
)

// Directory is the read-only lookup the resolver needs. Both methods return
// (nil, nil) when no active row matches.
type Directory interface {
	// ActiveGroupByCode finds an active group by code. An empty cooperativeID
	// searches all cooperatives.
	ActiveGroupByCode(ctx context.Context, cooperativeID, code string) (*models.Group, error)

	// ActiveMemberByCode finds an active member of groupID by member code.
	ActiveMemberByCode(ctx context.Context, groupID, code string) (*models.Member, error)
}

// Resolution is the outcome of resolving one reference.
type Resolution struct {
	Status        models.PaymentStatus
	CooperativeID string
	GroupID       string
	MemberID      string

	// Normalized is the cleaned reference, empty when absent.
	Normalized string
}

// Resolver resolves references against a Directory.
type Resolver struct {
	dir Directory
}

// New creates a Resolver.
func New(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Normalize uppercases the reference, keeps only letters, digits and dots,
// collapses repeated dots and trims dots at either end.
func Normalize(raw string) string {
	var b strings.Builder
	lastDot := true // suppresses leading dots
	for _, r := range strings.ToUpper(raw) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDot = false
		case r == '.':
			if !lastDot {
				b.WriteRune(r)
				lastDot = true
			}
		}
	}
	return strings.TrimRight(b.String(), ".")
}

// Segments splits a normalized reference. It returns nil for an empty one.
func Segments(normalized string) []string {
	if normalized == "" {
		return nil
	}
	return strings.Split(normalized, ".")
}

// GroupCode extracts the group segment from a raw reference, or "" when the
// reference has fewer than three segments.
func GroupCode(raw string) string {
	parts := Segments(Normalize(raw))
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// Resolve resolves raw against the directory, scoped to fallbackCooperativeID
// when it is non-empty. Unresolved groups or members are not errors; they
// yield UNALLOCATED. Only directory failures return an error.
func (r *Resolver) Resolve(ctx context.Context, raw, fallbackCooperativeID string) (Resolution, error) {
	res := Resolution{
		Status:        models.StatusPending,
		CooperativeID: fallbackCooperativeID,
		Normalized:    Normalize(raw),
	}
	if res.Normalized == "" {
		return res, nil
	}

	res.Status = models.StatusUnallocated
	parts := Segments(res.Normalized)
	if len(parts) < 3 {
		return res, nil
	}

	group, err := r.dir.ActiveGroupByCode(ctx, fallbackCooperativeID, parts[2])
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to look up group %s: %w", parts[2], err)
	}
	if group == nil {
		return res, nil
	}
	res.GroupID = group.ID
	res.CooperativeID = group.CooperativeID

	if len(parts) < 4 {
		return res, nil
	}

	member, err := r.dir.ActiveMemberByCode(ctx, group.ID, parts[3])
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to look up member %s: %w", parts[3], err)
	}
	if member == nil {
		return res, nil
	}
	res.MemberID = member.ID
	res.Status = models.StatusPosted
	return res, nil
}
