package vault

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
)

func testBundle(id string) *domain.Bundle {
	return &domain.Bundle{
		BundleID:        id,
		Timestamp:       time.Unix(1700000000, 0).UTC(),
		KEMPublicKey:    "aabb",
		KEMSecretKey:    "ccdd",
		SignerPublicKey: "eeff",
		Signature:       "0011",
		PoolSnapshot:    strings.Repeat("ab", 32),
		AccumulatedBits: 384,
		SourceMetrics: map[string]domain.EntropyMetrics{
			"osrng": {Shannon: 7.9, MinEntropy: 7.5, Collision: 7.7, AccumulatedBits: 384, SampleCount: 12},
		},
		HealthState: map[string]domain.HealthResult{"osrng": domain.HealthPass},
	}
}

func TestFileVaultStoreAndReload(t *testing.T) {
	dir := t.TempDir()
	v, err := NewFileVault(filepath.Join(dir, "bundles"))
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}

	b := testBundle("0f62708e-1111-2222-3333-444455556666")
	path, err := v.Store(b)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}

	var got domain.Bundle
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal bundle: %v", err)
	}
	if got.BundleID != b.BundleID || got.KEMSecretKey != b.KEMSecretKey {
		t.Fatalf("reloaded bundle mismatch: %+v", got)
	}
	if got.HealthState["osrng"] != domain.HealthPass {
		t.Fatalf("health state not preserved")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("bundle file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestFileVaultNeverRewrites(t *testing.T) {
	v, err := NewFileVault(t.TempDir())
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}

	b := testBundle("11112222-aaaa-bbbb-cccc-ddddeeeeffff")
	if _, err := v.Store(b); err != nil {
		t.Fatalf("first store: %v", err)
	}
	if _, err := v.Store(b); err == nil {
		t.Fatalf("second store of the same bundle must be rejected")
	}
}

func TestFileVaultDistinctMints(t *testing.T) {
	v, err := NewFileVault(t.TempDir())
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}

	p1, err := v.Store(testBundle("aaaa0000-0000-0000-0000-000000000001"))
	if err != nil {
		t.Fatalf("store 1: %v", err)
	}
	p2, err := v.Store(testBundle("bbbb0000-0000-0000-0000-000000000002"))
	if err != nil {
		t.Fatalf("store 2: %v", err)
	}
	if p1 == p2 {
		t.Fatalf("two mints must produce two distinct files")
	}
}

func TestPgArchiveInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	archive := NewPgArchive(db, "bundles")
	b := testBundle("0f62708e-1111-2222-3333-444455556666")

	expected := regexp.QuoteMeta(
		"INSERT INTO bundles (bundle_id, ts, pool_snapshot, accumulated_bits, kem_public_key, signer_public_key, signature) " +
			"VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (bundle_id) DO NOTHING")
	mock.ExpectExec(expected).
		WithArgs(b.BundleID, b.Timestamp, b.PoolSnapshot, b.AccumulatedBits, b.KEMPublicKey, b.SignerPublicKey, b.Signature).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := archive.Archive(b); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPgArchiveName(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer db.Close()

	if got := NewPgArchive(db, "bundles").Name(); got != "postgres" {
		t.Fatalf("archive name = %s, want postgres", got)
	}
}
