package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-authclient/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const credentialCacheKeyPrefix = "go-authclient::credential::v1"

// CachedCredentialStore is a read-through decorator: Load hits the cache,
// Store and Clear write through to the base store and invalidate. The hot
// path is Load on every signed request, so this is the decorator that keeps
// the credential table out of the request loop.
type CachedCredentialStore struct {
	base  core.CredentialStore
	cache repositorycache.CacheService
}

func NewCachedCredentialStore(
	base core.CredentialStore,
	cacheService repositorycache.CacheService,
) (*CachedCredentialStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base credential store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: credential cache service is required")
	}
	return &CachedCredentialStore{base: base, cache: cacheService}, nil
}

// CredentialCacheKey returns the deterministic cache key contract for
// credential reads: go-authclient::credential::v1::<profile> with the
// profile segment URL-path escaped after normalization.
func CredentialCacheKey(profile string) (string, error) {
	profile = normalizeProfile(profile)
	if strings.Contains(profile, "::") {
		return "", fmt.Errorf("sqlstore: profile %q may not contain the cache key separator", profile)
	}
	return credentialCacheKeyPrefix + "::" + url.PathEscape(profile), nil
}

// cachedCredential distinguishes "no credential" from a cache miss so the
// unauthenticated state is cacheable too.
type cachedCredential struct {
	Found bool
	Set   core.CredentialSet
}

func (s *CachedCredentialStore) Load(ctx context.Context, profile string) (*core.CredentialSet, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	profile = normalizeProfile(profile)
	cacheKey, err := CredentialCacheKey(profile)
	if err != nil {
		return nil, err
	}

	entry, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedCredential, error) {
		fetched, fetchErr := s.base.Load(ctx, profile)
		if fetchErr != nil {
			return cachedCredential{}, fetchErr
		}
		if fetched == nil {
			return cachedCredential{}, nil
		}
		return cachedCredential{Found: true, Set: core.CloneCredentialSet(*fetched)}, nil
	})
	if err != nil {
		return nil, err
	}
	if !entry.Found {
		return nil, nil
	}
	set := core.CloneCredentialSet(entry.Set)
	return &set, nil
}

func (s *CachedCredentialStore) Store(ctx context.Context, set core.CredentialSet) (core.CredentialSet, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.CredentialSet{}, fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	stored, err := s.base.Store(ctx, set)
	if err != nil {
		return core.CredentialSet{}, err
	}
	if err := s.invalidate(ctx, stored.Profile); err != nil {
		return core.CredentialSet{}, err
	}
	return stored, nil
}

func (s *CachedCredentialStore) Clear(ctx context.Context, profile string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	if err := s.base.Clear(ctx, profile); err != nil {
		return err
	}
	return s.invalidate(ctx, profile)
}

func (s *CachedCredentialStore) invalidate(ctx context.Context, profile string) error {
	cacheKey, err := CredentialCacheKey(profile)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}
