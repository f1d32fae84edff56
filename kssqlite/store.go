// Package kssqlite provides a sqlite-backed implementation
// of the [ksstore] interfaces and the bridge [xbridge.SequenceStore].
//
// By default this package requires cgo and uses github.com/mattn/go-sqlite3.
// Build with the "purego" tag, or disable cgo,
// to use the pure Go driver from modernc.org/sqlite instead.
package kssqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/kestrel-chain/kestrel/ks/kscodec"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksstore"
)

// Store is a single type satisfying all the [ksstore] interfaces
// and [xbridge.SequenceStore].
type Store struct {
	// The string "purego" or "cgo" depending on build tags.
	BuildType string

	db *sql.DB

	hs    ksconsensus.HashScheme
	reg   *kcrypto.Registry
	codec kscodec.MarshalCodec
}

func NewStore(
	ctx context.Context,
	dbPath string,
	hashScheme ksconsensus.HashScheme,
	reg *kcrypto.Registry,
	codec kscodec.MarshalCodec,
) (*Store, error) {
	// The driver type comes from the sqlitedriver_*.go file
	// chosen based on build tags.
	db, err := sql.Open(sqliteDriverType, dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := pragmas(ctx, db); err != nil {
		return nil, err
	}

	if err := migrate(ctx, db); err != nil {
		return nil, err
	}

	return &Store{
		BuildType: sqliteBuildType,

		db: db,

		hs:    hashScheme,
		reg:   reg,
		codec: codec,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveFinalization(
	ctx context.Context,
	height uint64, round uint32,
	blockHash string,
	vals ksconsensus.ValidatorSet,
	appStateHash string,
) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to open transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO finalizations(height, round, block_hash, app_state_hash, val_epoch)
VALUES(?, ?, ?, ?, ?);`,
		height, round, []byte(blockHash), []byte(appStateHash), vals.Epoch,
	); err != nil {
		if isPrimaryKeyConstraintError(err) {
			return ksstore.FinalizationOverwriteError{Height: height}
		}
		return fmt.Errorf("failed to insert finalization: %w", err)
	}

	for i, v := range vals.Validators {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO finalization_validators(height, idx, pub_key, power)
VALUES(?, ?, ?, ?);`,
			height, i, s.reg.Marshal(v.PubKey), v.Power,
		); err != nil {
			return fmt.Errorf("failed to insert finalization validator: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit finalization: %w", err)
	}

	return nil
}

func (s *Store) LoadFinalizationByHeight(ctx context.Context, height uint64) (
	round uint32,
	blockHash string,
	vals ksconsensus.ValidatorSet,
	appStateHash string,
	err error,
) {
	var bh, ash []byte
	var epoch uint64
	err = s.db.QueryRowContext(
		ctx,
		`SELECT round, block_hash, app_state_hash, val_epoch FROM finalizations WHERE height = ?;`,
		height,
	).Scan(&round, &bh, &ash, &epoch)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ksconsensus.HeightUnknownError{Want: height}
			return
		}
		err = fmt.Errorf("failed to query finalization: %w", err)
		return
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT pub_key, power FROM finalization_validators WHERE height = ? ORDER BY idx ASC;`,
		height,
	)
	if err != nil {
		err = fmt.Errorf("failed to query finalization validators: %w", err)
		return
	}
	defer rows.Close()

	var vs []ksconsensus.Validator
	for rows.Next() {
		var encKey []byte
		var power uint64
		if err = rows.Scan(&encKey, &power); err != nil {
			err = fmt.Errorf("failed to scan finalization validator row: %w", err)
			return
		}

		var key kcrypto.PubKey
		key, err = s.reg.Unmarshal(encKey)
		if err != nil {
			err = fmt.Errorf("failed to unmarshal validator key %x: %w", encKey, err)
			return
		}

		vs = append(vs, ksconsensus.Validator{PubKey: key, Power: power})
	}
	if err = rows.Err(); err != nil {
		return
	}

	vals, err = ksconsensus.NewValidatorSet(epoch, vs, s.hs)
	if err != nil {
		err = fmt.Errorf("failed to rebuild validator set: %w", err)
		return
	}

	return round, string(bh), vals, string(ash), nil
}

func (s *Store) Height(ctx context.Context) (uint64, error) {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(
		ctx,
		`SELECT MAX(height) FROM finalizations;`,
	).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to query max finalized height: %w", err)
	}

	if !max.Valid {
		return 0, ksstore.ErrStoreUninitialized
	}
	return uint64(max.Int64), nil
}

func (s *Store) SaveCommittedBlock(ctx context.Context, ch ksconsensus.CommittedHeader) error {
	hb, err := s.codec.MarshalHeader(ch.Header)
	if err != nil {
		return fmt.Errorf("failed to marshal committed header: %w", err)
	}

	qb, err := s.codec.MarshalQuorumCertificate(ch.QC)
	if err != nil {
		return fmt.Errorf("failed to marshal commit certificate: %w", err)
	}

	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO committed_blocks(height, header, qc) VALUES(?, ?, ?);`,
		ch.Header.Height, hb, qb,
	); err != nil {
		if isPrimaryKeyConstraintError(err) {
			return ksstore.CommittedBlockOverwriteError{Height: ch.Header.Height}
		}
		return fmt.Errorf("failed to insert committed block: %w", err)
	}

	return nil
}

func (s *Store) LoadCommittedBlock(ctx context.Context, height uint64) (ksconsensus.CommittedHeader, error) {
	var hb, qb []byte
	err := s.db.QueryRowContext(
		ctx,
		`SELECT header, qc FROM committed_blocks WHERE height = ?;`,
		height,
	).Scan(&hb, &qb)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ksconsensus.CommittedHeader{}, ksconsensus.HeightUnknownError{Want: height}
		}
		return ksconsensus.CommittedHeader{}, fmt.Errorf("failed to query committed block: %w", err)
	}

	var ch ksconsensus.CommittedHeader
	if err := s.codec.UnmarshalHeader(hb, &ch.Header); err != nil {
		return ksconsensus.CommittedHeader{}, fmt.Errorf("failed to unmarshal committed header: %w", err)
	}
	if err := s.codec.UnmarshalQuorumCertificate(qb, &ch.QC); err != nil {
		return ksconsensus.CommittedHeader{}, fmt.Errorf("failed to unmarshal commit certificate: %w", err)
	}

	return ch, nil
}

func (s *Store) SaveDoubleSignEvidence(ctx context.Context, ev ksconsensus.DoubleSignEvidence) error {
	// The unique constraint over all columns makes the dedup requirement
	// a plain INSERT OR IGNORE.
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO evidence(height, round, kind, pub_key, first_hash, second_hash)
VALUES(?, ?, ?, ?, ?, ?);`,
		ev.Height, ev.Round, ev.Kind,
		s.reg.Marshal(ev.PubKey),
		[]byte(ev.FirstHash), []byte(ev.SecondHash),
	); err != nil {
		return fmt.Errorf("failed to insert evidence: %w", err)
	}
	return nil
}

func (s *Store) LoadEvidence(ctx context.Context, height uint64) ([]ksconsensus.DoubleSignEvidence, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT round, kind, pub_key, first_hash, second_hash FROM evidence
  WHERE height = ? ORDER BY rowid ASC;`,
		height,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence: %w", err)
	}
	defer rows.Close()

	var evs []ksconsensus.DoubleSignEvidence
	for rows.Next() {
		ev := ksconsensus.DoubleSignEvidence{Height: height}
		var encKey, firstHash, secondHash []byte
		if err := rows.Scan(&ev.Round, &ev.Kind, &encKey, &firstHash, &secondHash); err != nil {
			return nil, fmt.Errorf("failed to scan evidence row: %w", err)
		}

		ev.PubKey, err = s.reg.Unmarshal(encKey)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal evidence key %x: %w", encKey, err)
		}
		ev.FirstHash = string(firstHash)
		ev.SecondHash = string(secondHash)

		evs = append(evs, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return evs, nil
}

func (s *Store) LastSequence(ctx context.Context, chainID, account string) (uint64, bool, error) {
	var seq uint64
	err := s.db.QueryRowContext(
		ctx,
		`SELECT seq FROM relay_sequences WHERE chain_id = ? AND account = ?;`,
		chainID, account,
	).Scan(&seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to query relay sequence: %w", err)
	}
	return seq, true, nil
}

func (s *Store) SetLastSequence(ctx context.Context, chainID, account string, seq uint64) error {
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO relay_sequences(chain_id, account, seq) VALUES(?, ?, ?)
  ON CONFLICT(chain_id, account) DO UPDATE SET seq = excluded.seq;`,
		chainID, account, seq,
	); err != nil {
		return fmt.Errorf("failed to upsert relay sequence: %w", err)
	}
	return nil
}

func pragmas(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`)
	if err != nil {
		return fmt.Errorf("failed to set foreign keys on: %w", err)
	}
	return nil
}
