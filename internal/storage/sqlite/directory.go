package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ibimina/saccoledger/internal/apperr"
	"github.com/ibimina/saccoledger/internal/models"
)

// CreateCooperative persists a new cooperative.
func (s *SQLiteStore) CreateCooperative(ctx context.Context, coop *models.Cooperative) error {
	if coop.ID == "" {
		coop.ID = uuid.New().String()
	}
	if coop.Status == "" {
		coop.Status = models.StatusActive
	}
	if coop.CreatedAt == 0 {
		coop.CreatedAt = time.Now().Unix()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO cooperatives (id, name, district, status, created_at) VALUES (?, ?, ?, ?, ?)",
		coop.ID, coop.Name, coop.District, coop.Status, coop.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert cooperative: %w", err)
	}
	return nil
}

// GetCooperative retrieves a cooperative by ID.
func (s *SQLiteStore) GetCooperative(ctx context.Context, id string) (*models.Cooperative, error) {
	coop := &models.Cooperative{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, district, status, created_at FROM cooperatives WHERE id = ?",
		id,
	).Scan(&coop.ID, &coop.Name, &coop.District, &coop.Status, &coop.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("cooperative", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cooperative: %w", err)
	}
	return coop, nil
}

// CreateGroup persists a new group. Codes are stored upper case.
func (s *SQLiteStore) CreateGroup(ctx context.Context, group *models.Group) error {
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	if group.Status == "" {
		group.Status = models.StatusActive
	}
	if group.CreatedAt == 0 {
		group.CreatedAt = time.Now().Unix()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO groups (id, cooperative_id, code, name, status, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		group.ID, group.CooperativeID, group.Code, group.Name, group.Status, group.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}
	return nil
}

const groupColumns = "id, cooperative_id, code, name, status, created_at"

func scanGroup(row *sql.Row) (*models.Group, error) {
	g := &models.Group{}
	err := row.Scan(&g.ID, &g.CooperativeID, &g.Code, &g.Name, &g.Status, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GetGroup retrieves a group by ID.
func (s *SQLiteStore) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	g, err := scanGroup(s.db.QueryRowContext(ctx, "SELECT "+groupColumns+" FROM groups WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("group", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

// ActiveGroupByCode finds an active group by code, scoped to cooperativeID
// when it is non-empty. The oldest group wins when an unscoped code is shared.
func (s *SQLiteStore) ActiveGroupByCode(ctx context.Context, cooperativeID, code string) (*models.Group, error) {
	query := "SELECT " + groupColumns + " FROM groups WHERE code = ? AND status = ?"
	args := []any{code, models.StatusActive}
	if cooperativeID != "" {
		query += " AND cooperative_id = ?"
		args = append(args, cooperativeID)
	}
	query += " ORDER BY created_at, id LIMIT 1"

	g, err := scanGroup(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group by code: %w", err)
	}
	return g, nil
}

// CreateMember persists a new member with already-protected contact fields.
func (s *SQLiteStore) CreateMember(ctx context.Context, m *models.Member) error {
	return insertMember(ctx, s.db, m)
}

// CreateMembers persists members in one transaction. A member code already
// taken in its group is a ConflictError and nothing is written.
func (s *SQLiteStore) CreateMembers(ctx context.Context, members []*models.Member) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range members {
		if err := insertMember(ctx, tx, m); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertMember(ctx context.Context, q queryer, m *models.Member) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Status == "" {
		m.Status = models.StatusActive
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().Unix()
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO members (id, cooperative_id, group_id, member_code, full_name,
			msisdn_masked, msisdn_encrypted, msisdn_hash,
			national_id_masked, national_id_encrypted, national_id_hash, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.CooperativeID, m.GroupID, m.MemberCode, m.FullName,
		nullable(m.MsisdnMasked), nullable(m.MsisdnEncrypted), nullable(m.MsisdnHash),
		nullable(m.NationalIDMasked), nullable(m.NationalIDEncrypted), nullable(m.NationalIDHash),
		m.Status, m.CreatedAt,
	)
	if isUniqueViolation(err) {
		return apperr.Conflict("member code %s already exists in group %s", m.MemberCode, m.GroupID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}
	return nil
}

const memberColumns = `id, cooperative_id, group_id, member_code, full_name,
	msisdn_masked, msisdn_encrypted, msisdn_hash,
	national_id_masked, national_id_encrypted, national_id_hash, status, created_at`

func scanMember(row *sql.Row) (*models.Member, error) {
	m := &models.Member{}
	var msisdnMasked, msisdnEnc, msisdnHash, nidMasked, nidEnc, nidHash sql.NullString
	err := row.Scan(&m.ID, &m.CooperativeID, &m.GroupID, &m.MemberCode, &m.FullName,
		&msisdnMasked, &msisdnEnc, &msisdnHash, &nidMasked, &nidEnc, &nidHash,
		&m.Status, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.MsisdnMasked = msisdnMasked.String
	m.MsisdnEncrypted = msisdnEnc.String
	m.MsisdnHash = msisdnHash.String
	m.NationalIDMasked = nidMasked.String
	m.NationalIDEncrypted = nidEnc.String
	m.NationalIDHash = nidHash.String
	return m, nil
}

// GetMember retrieves a member by ID.
func (s *SQLiteStore) GetMember(ctx context.Context, id string) (*models.Member, error) {
	m, err := scanMember(s.db.QueryRowContext(ctx, "SELECT "+memberColumns+" FROM members WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("member", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

// ActiveMemberByCode finds an active member of a group by member code.
func (s *SQLiteStore) ActiveMemberByCode(ctx context.Context, groupID, code string) (*models.Member, error) {
	m, err := scanMember(s.db.QueryRowContext(ctx,
		"SELECT "+memberColumns+" FROM members WHERE group_id = ? AND member_code = ? AND status = ?",
		groupID, code, models.StatusActive,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member by code: %w", err)
	}
	return m, nil
}

// SearchMembers matches the term against full name, masked phone and member
// code (case-insensitive substring), scoped to the group when given, else the
// cooperative, ordered by name.
func (s *SQLiteStore) SearchMembers(ctx context.Context, q models.MemberQuery) ([]models.MemberMatch, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 8
	}
	like := "%" + q.Term + "%"

	query := `
		SELECT m.id, m.full_name, m.member_code, COALESCE(m.msisdn_masked, ''), m.group_id, g.name
		FROM members m
		JOIN groups g ON g.id = m.group_id
		WHERE m.status = ?
		  AND (m.full_name LIKE ? OR COALESCE(m.msisdn_masked, '') LIKE ? OR m.member_code LIKE ?)`
	args := []any{models.StatusActive, like, like, like}

	switch {
	case q.GroupID != "":
		query += " AND m.group_id = ?"
		args = append(args, q.GroupID)
	case q.CooperativeID != "":
		query += " AND m.cooperative_id = ?"
		args = append(args, q.CooperativeID)
	}
	query += " ORDER BY m.full_name ASC, m.id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search members: %w", err)
	}
	defer rows.Close()

	var matches []models.MemberMatch
	for rows.Next() {
		var m models.MemberMatch
		if err := rows.Scan(&m.ID, &m.FullName, &m.MemberCode, &m.MsisdnMasked, &m.GroupID, &m.GroupName); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return matches, nil
}

// GetStaffProfile retrieves a staff profile by user ID.
func (s *SQLiteStore) GetStaffProfile(ctx context.Context, userID string) (*models.StaffProfile, error) {
	p := &models.StaffProfile{}
	var coop sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, cooperative_id, role FROM staff_profiles WHERE user_id = ?",
		userID,
	).Scan(&p.UserID, &coop, &p.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Profile not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get staff profile: %w", err)
	}
	p.CooperativeID = coop.String
	return p, nil
}

// UpsertStaffProfile creates or replaces a staff profile.
func (s *SQLiteStore) UpsertStaffProfile(ctx context.Context, p *models.StaffProfile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO staff_profiles (user_id, cooperative_id, role) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET cooperative_id = excluded.cooperative_id, role = excluded.role`,
		p.UserID, nullable(p.CooperativeID), p.Role,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert staff profile: %w", err)
	}
	return nil
}
