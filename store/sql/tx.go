package sqlstore

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-contact-sync/core"
)

// TxRunner binds source and identity stores to one bun transaction.
type TxRunner struct {
	db *bun.DB
}

func NewTxRunner(db *bun.DB) *TxRunner {
	return &TxRunner{db: db}
}

func (r *TxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context, stores core.SyncStores) error) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("sqlstore: tx runner is not configured")
	}
	if fn == nil {
		return fmt.Errorf("sqlstore: tx function is required")
	}
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, txStores{
			sources:    NewSourceStore(tx),
			identities: NewIdentityStore(tx),
		})
	})
}

type txStores struct {
	sources    *SourceStore
	identities *IdentityStore
}

func (s txStores) Sources() core.SourceStore      { return s.sources }
func (s txStores) Identities() core.IdentityStore { return s.identities }
