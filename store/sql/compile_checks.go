package sqlstore

import "github.com/goliatone/go-contact-sync/core"

var (
	_ core.ConnectionStore         = (*ConnectionStore)(nil)
	_ core.SourceStore             = (*SourceStore)(nil)
	_ core.IdentityStore           = (*IdentityStore)(nil)
	_ core.ContactReader           = (*ContactReader)(nil)
	_ core.ContactReader           = (*CachedContactReader)(nil)
	_ core.ContactCacheInvalidator = (*CachedContactReader)(nil)
	_ core.TxRunner                = (*TxRunner)(nil)
	_ core.SyncStores              = txStores{}
)
