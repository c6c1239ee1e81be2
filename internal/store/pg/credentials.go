package pg

import (
	"context"
	"database/sql"
	"errors"

	"villaops.org/internal/identity"
)

func (s *Store) CreateCredential(ctx context.Context, c identity.Credential) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into credentials (user_id, email, password_hash, created_at, updated_at)
		values ($1, $2, $3, now(), now())
	`, c.UserID, identity.NormalizeEmail(c.Email), c.PasswordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return identity.ErrEmailTaken
		}
		return err
	}
	return nil
}

func (s *Store) CredentialByEmail(ctx context.Context, email string) (identity.Credential, error) {
	return s.credential(ctx, `where email = $1`, identity.NormalizeEmail(email))
}

func (s *Store) CredentialByUserID(ctx context.Context, userID string) (identity.Credential, error) {
	return s.credential(ctx, `where user_id = $1`, userID)
}

func (s *Store) credential(ctx context.Context, where string, arg string) (identity.Credential, error) {
	if s.db == nil {
		return identity.Credential{}, errNoDB
	}
	var c identity.Credential
	err := s.db.QueryRowContext(ctx, `
		select user_id, email, password_hash, created_at, updated_at
		from credentials `+where, arg).Scan(&c.UserID, &c.Email, &c.PasswordHash, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Credential{}, identity.ErrCredentialNotFound
	}
	if err != nil {
		return identity.Credential{}, err
	}
	return c, nil
}

func (s *Store) UpdatePassword(ctx context.Context, userID, hash string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update credentials set password_hash = $2, updated_at = now() where user_id = $1
	`, userID, hash)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrCredentialNotFound
	}
	return nil
}
