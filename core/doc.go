// Package core contains canonical services domain contracts, entities, and
// orchestration logic. Lower-level adapters must depend on this package; core
// must not depend on provider-specific or transport-specific adapters.
package core
