package authclient

import (
	"database/sql"
	"fmt"

	"github.com/goliatone/go-authclient/auth"
	"github.com/goliatone/go-authclient/core"
	"github.com/goliatone/go-authclient/security"
	sqlstore "github.com/goliatone/go-authclient/store/sql"
	"github.com/goliatone/go-authclient/transport"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

func RESTTransport(client transport.HTTPDoer) core.TransportAdapter {
	return transport.NewRESTAdapter(client)
}

func GraphQLTransport(endpoint string, client transport.HTTPDoer) core.TransportAdapter {
	return transport.NewGraphQLAdapter(endpoint, client)
}

func TransportRegistry() *transport.Registry {
	return transport.NewDefaultRegistry()
}

func RefreshTokenExchanger(cfg auth.RefreshTokenExchangerConfig, adapter core.TransportAdapter) core.RefreshExchanger {
	return auth.NewRefreshTokenExchanger(cfg, adapter)
}

func AppKeySecrets(keyMaterial []byte, opts ...security.Option) (core.SecretProvider, error) {
	return security.NewAppKeySecretProvider(keyMaterial, opts...)
}

func MemoryKeyValueStore() core.KeyValueStore {
	return core.NewMemoryKeyValueStore()
}

func MemorySessionEventStore() core.SessionEventStore {
	return core.NewMemorySessionEventStore()
}

// OpenPostgresDB opens a bun handle over lib/pq. The caller owns the handle
// and passes it to SQLStoresFromDB or a persistence client.
func OpenPostgresDB(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("authclient: open postgres connection: %w", err)
	}
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

// OpenSQLiteDB opens a bun handle over mattn/go-sqlite3.
func OpenSQLiteDB(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("authclient: open sqlite connection: %w", err)
	}
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func SQLStores(client *persistence.Client, opts ...sqlstore.FactoryOption) (core.StoreProvider, error) {
	return sqlstore.NewRepositoryFactoryFromPersistence(client, opts...)
}

func SQLStoresFromDB(db *bun.DB, opts ...sqlstore.FactoryOption) (core.StoreProvider, error) {
	return sqlstore.NewRepositoryFactoryFromDB(db, opts...)
}

func CachedCredentialStore(base core.CredentialStore, cache repositorycache.CacheService) (core.CredentialStore, error) {
	return sqlstore.NewCachedCredentialStore(base, cache)
}
