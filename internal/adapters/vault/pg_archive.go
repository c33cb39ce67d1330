package vault

import (
	"database/sql"
	"fmt"

	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
	"github.com/JupitersGhost/ChaosMagnet/internal/ports"
)

// PgArchive mirrors bundle audit rows into Postgres so a fleet of nodes can
// be inspected centrally. The KEM secret key never leaves the file vault.
type PgArchive struct {
	db        *sql.DB
	tableName string
}

func NewPgArchive(db *sql.DB, table string) *PgArchive {
	return &PgArchive{db: db, tableName: table}
}

func (p *PgArchive) Name() string { return "postgres" }

func (p *PgArchive) Archive(b *domain.Bundle) error {
	if b == nil {
		return nil
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (bundle_id, ts, pool_snapshot, accumulated_bits, kem_public_key, signer_public_key, signature) "+
			"VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (bundle_id) DO NOTHING",
		p.tableName,
	)

	_, err := p.db.Exec(query,
		b.BundleID,
		b.Timestamp,
		b.PoolSnapshot,
		b.AccumulatedBits,
		b.KEMPublicKey,
		b.SignerPublicKey,
		b.Signature,
	)
	return err
}

var _ ports.BundleArchive = (*PgArchive)(nil)
