package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/campus/pkg/storage"
)

// PrincipalStore persists principals and their initial role assignment
type PrincipalStore interface {
	CreatePrincipal(ctx context.Context, p *Principal, role Role) error
	GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error)
	GetPrincipalByID(ctx context.Context, id string) (*Principal, error)
	ListPrincipals(ctx context.Context, filter ListFilter) ([]*Principal, error)
	RecordLogin(ctx context.Context, id, refreshTokenHash string, at time.Time) error
	ClearRefreshToken(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error
}

// SQLStore implements PrincipalStore on database/sql
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new principal store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const principalColumns = `id, email, password_hash, first_name, last_name, phone, school_id,
	is_active, refresh_token_hash, last_login_at, created_at, updated_at`

// CreatePrincipal inserts p and its role assignment in one transaction.
// It returns ErrDuplicateEmail when the email is taken and ErrValidation
// when the role is not seeded.
func (s *SQLStore) CreatePrincipal(ctx context.Context, p *Principal, role Role) error {
	err := storage.Tx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO users (`+principalColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			p.ID, p.Email, p.PasswordHash, p.FirstName, p.LastName, p.Phone, p.SchoolID,
			p.IsActive, p.RefreshTokenHash, p.LastLoginAt, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			if storage.IsUniqueViolation(err) {
				return ErrDuplicateEmail
			}
			return fmt.Errorf("failed to insert user: %w", err)
		}

		var roleID string
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM roles WHERE name = $1 AND is_active = TRUE
		`, string(role)).Scan(&roleID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: role %q is not available", ErrValidation, role)
		}
		if err != nil {
			return fmt.Errorf("failed to look up role: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_roles (id, user_id, role_id, school_id, granted_at)
			VALUES ($1, $2, $3, $4, $5)
		`, newID(), p.ID, roleID, p.SchoolID, p.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to assign role: %w", err)
		}
		return nil
	})
	return err
}

// GetPrincipalByEmail looks a principal up by exact email
func (s *SQLStore) GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+principalColumns+` FROM users WHERE email = $1`, email)
	return scanPrincipalRow(row)
}

// GetPrincipalByID looks a principal up by ID
func (s *SQLStore) GetPrincipalByID(ctx context.Context, id string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+principalColumns+` FROM users WHERE id = $1`, id)
	return scanPrincipalRow(row)
}

// ListPrincipals lists principals ordered by creation time, optionally within one school
func (s *SQLStore) ListPrincipals(ctx context.Context, filter ListFilter) ([]*Principal, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		rows *sql.Rows
		err  error
	)
	if filter.SchoolID != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+principalColumns+` FROM users
			WHERE school_id = $1
			ORDER BY created_at, id
			LIMIT $2 OFFSET $3
		`, *filter.SchoolID, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+principalColumns+` FROM users
			ORDER BY created_at, id
			LIMIT $1 OFFSET $2
		`, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var principals []*Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		principals = append(principals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return principals, nil
}

// RecordLogin stores the refresh token hash and login time; the latest login wins
func (s *SQLStore) RecordLogin(ctx context.Context, id, refreshTokenHash string, at time.Time) error {
	return s.update(ctx, `
		UPDATE users SET refresh_token_hash = $1, last_login_at = $2, updated_at = $2
		WHERE id = $3
	`, refreshTokenHash, at, id)
}

// ClearRefreshToken removes the stored refresh token hash
func (s *SQLStore) ClearRefreshToken(ctx context.Context, id string) error {
	return s.update(ctx, `
		UPDATE users SET refresh_token_hash = NULL, updated_at = $1 WHERE id = $2
	`, time.Now().UTC(), id)
}

// SetActive activates or deactivates a principal
func (s *SQLStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.update(ctx, `
		UPDATE users SET is_active = $1, updated_at = $2 WHERE id = $3
	`, active, time.Now().UTC(), id)
}

func (s *SQLStore) update(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPrincipalRow(row *sql.Row) (*Principal, error) {
	p, err := scanPrincipal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return p, nil
}

func scanPrincipal(scanner rowScanner) (*Principal, error) {
	var (
		p                      Principal
		phone, school, refresh sql.NullString
		lastLogin              sql.NullTime
	)
	err := scanner.Scan(
		&p.ID, &p.Email, &p.PasswordHash, &p.FirstName, &p.LastName,
		&phone, &school, &p.IsActive, &refresh, &lastLogin,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if phone.Valid {
		p.Phone = &phone.String
	}
	if school.Valid {
		p.SchoolID = &school.String
	}
	if refresh.Valid {
		p.RefreshTokenHash = &refresh.String
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		p.LastLoginAt = &t
	}
	return &p, nil
}
