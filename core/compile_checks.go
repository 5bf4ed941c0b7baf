package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ KeyValueStore     = (*MemoryKeyValueStore)(nil)
	_ CredentialStore   = (*KeyValueCredentialStore)(nil)
	_ SessionEventStore = (*MemorySessionEventStore)(nil)
	_ CredentialCodec   = JSONCredentialCodec{}
	_ CredentialCodec   = LegacyTokenCredentialCodec{}
	_ Signer            = BearerTokenSigner{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
