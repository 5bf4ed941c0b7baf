package sqlstore

import "github.com/goliatone/go-authclient/core"

var (
	_ core.CredentialStore        = (*CredentialStore)(nil)
	_ core.CredentialStore        = (*CachedCredentialStore)(nil)
	_ core.SessionEventStore      = (*SessionEventStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
