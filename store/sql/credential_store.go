package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-authclient/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// CredentialStore keeps a versioned credential history per profile. Exactly
// one row per profile is active; Store rotates the prior active row and
// inserts version MAX+1 in the same transaction.
type CredentialStore struct {
	db      *bun.DB
	repo    repository.Repository[*credentialRecord]
	secrets core.SecretProvider
}

func (s *CredentialStore) Store(ctx context.Context, set core.CredentialSet) (core.CredentialSet, error) {
	if s == nil || s.repo == nil || s.db == nil {
		return core.CredentialSet{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	set = core.CloneCredentialSet(set)
	if !set.HasAccessToken() {
		return core.CredentialSet{}, fmt.Errorf("sqlstore: credential access token is required")
	}
	if set.Profile == "" {
		set.Profile = core.DefaultProfile
	}
	now := time.Now().UTC()

	var stored core.CredentialSet
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		nextVersion, versionErr := s.nextVersion(ctx, tx, set.Profile)
		if versionErr != nil {
			return versionErr
		}

		_, rotateErr := tx.NewUpdate().
			Model((*credentialRecord)(nil)).
			Set("status = ?", CredentialStatusRotated).
			Set("revocation_reason = ?", "rotated").
			Set("updated_at = ?", now).
			Where("profile = ?", set.Profile).
			Where("status = ?", CredentialStatusActive).
			Exec(ctx)
		if rotateErr != nil {
			return rotateErr
		}

		record := newCredentialRecord(set, nextVersion, now)
		if sealErr := s.sealRecord(ctx, record); sealErr != nil {
			return sealErr
		}
		inserted, createErr := s.repo.CreateTx(ctx, tx, record)
		if createErr != nil {
			return createErr
		}
		stored = set
		stored.TokenType = inserted.TokenType
		stored.Version = inserted.Version
		return nil
	})
	if err != nil {
		return core.CredentialSet{}, err
	}

	return stored, nil
}

func (s *CredentialStore) Load(ctx context.Context, profile string) (*core.CredentialSet, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: credential store is not configured")
	}
	profile = normalizeProfile(profile)

	records, _, err := s.repo.List(ctx,
		repository.SelectBy("profile", "=", profile),
		repository.SelectBy("status", "=", CredentialStatusActive),
		repository.OrderBy("version DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	record := records[0]
	if err := s.openRecord(ctx, record); err != nil {
		return nil, err
	}
	set := record.toDomain()
	return &set, nil
}

func (s *CredentialStore) Clear(ctx context.Context, profile string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*credentialRecord)(nil)).
		Set("status = ?", CredentialStatusRevoked).
		Set("revocation_reason = ?", "cleared").
		Set("updated_at = ?", time.Now().UTC()).
		Where("profile = ?", normalizeProfile(profile)).
		Where("status = ?", CredentialStatusActive).
		Exec(ctx)
	return err
}

// sealRecord encrypts the token columns in place when a secret provider is
// configured. The encrypted flag records which path wrote the row, so rows
// persisted before encryption was enabled still load.
func (s *CredentialStore) sealRecord(ctx context.Context, record *credentialRecord) error {
	if s.secrets == nil {
		return nil
	}
	sealed, err := s.secrets.Encrypt(ctx, record.AccessToken)
	if err != nil {
		return fmt.Errorf("sqlstore: encrypt access token: %w", err)
	}
	record.AccessToken = sealed
	if len(record.RefreshToken) > 0 {
		sealed, err = s.secrets.Encrypt(ctx, record.RefreshToken)
		if err != nil {
			return fmt.Errorf("sqlstore: encrypt refresh token: %w", err)
		}
		record.RefreshToken = sealed
	}
	record.Encrypted = true
	return nil
}

func (s *CredentialStore) openRecord(ctx context.Context, record *credentialRecord) error {
	if !record.Encrypted {
		return nil
	}
	if s.secrets == nil {
		return fmt.Errorf("sqlstore: credential row for %q is encrypted but no secret provider is configured", record.Profile)
	}
	opened, err := s.secrets.Decrypt(ctx, record.AccessToken)
	if err != nil {
		return fmt.Errorf("sqlstore: decrypt access token: %w", err)
	}
	record.AccessToken = opened
	if len(record.RefreshToken) > 0 {
		opened, err = s.secrets.Decrypt(ctx, record.RefreshToken)
		if err != nil {
			return fmt.Errorf("sqlstore: decrypt refresh token: %w", err)
		}
		record.RefreshToken = opened
	}
	return nil
}

func (s *CredentialStore) nextVersion(ctx context.Context, tx bun.Tx, profile string) (int, error) {
	var maxVersion int
	if err := tx.NewSelect().
		Model((*credentialRecord)(nil)).
		ColumnExpr("COALESCE(MAX(version), 0)").
		Where("?TableAlias.profile = ?", profile).
		Scan(ctx, &maxVersion); err != nil {
		return 0, err
	}
	return maxVersion + 1, nil
}

func normalizeProfile(profile string) string {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return core.DefaultProfile
	}
	return profile
}
