package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"LiquidityBridge/internal/core"
	"LiquidityBridge/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// PostgresStore persists bridge state in the bridge schema (see migrations/).
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects with lib/pq and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Load(ctx context.Context) (core.State, error) {
	var st core.State

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, chain, amount::TEXT, ask_price::TEXT, withdrawn,
		       payout_address, source_tx_id, created_at
		FROM bridge.offers
		ORDER BY position`)
	if err != nil {
		return st, fmt.Errorf("query offers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			o              ledger.LiquidityOffer
			owner          string
			amount, askStr string
		)
		if err := rows.Scan(&o.ID, &owner, &o.Chain, &amount, &askStr, &o.Withdrawn,
			&o.PayoutAddress, &o.SourceTxID, &o.CreatedAt); err != nil {
			return st, fmt.Errorf("scan offer: %w", err)
		}
		o.Owner = ledger.Principal(owner)
		if o.Amount, err = strconv.ParseUint(amount, 10, 64); err != nil {
			return st, fmt.Errorf("offer %s amount: %w", o.ID, err)
		}
		if o.AskPrice, err = strconv.ParseUint(askStr, 10, 64); err != nil {
			return st, fmt.Errorf("offer %s ask price: %w", o.ID, err)
		}
		o.CreatedAt = o.CreatedAt.UTC()
		st.Offers = append(st.Offers, o)
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	txRows, err := s.db.QueryContext(ctx, `SELECT tx_id FROM bridge.consumed_tx_ids ORDER BY consumed_at, tx_id`)
	if err != nil {
		return st, fmt.Errorf("query consumed tx ids: %w", err)
	}
	defer txRows.Close()
	for txRows.Next() {
		var id string
		if err := txRows.Scan(&id); err != nil {
			return st, fmt.Errorf("scan tx id: %w", err)
		}
		st.ConsumedTxIDs = append(st.ConsumedTxIDs, id)
	}
	if err := txRows.Err(); err != nil {
		return st, err
	}

	var addr string
	err = s.db.QueryRowContext(ctx, `SELECT address FROM bridge.own_address WHERE id = 1`).Scan(&addr)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return st, fmt.Errorf("query own address: %w", err)
	default:
		a := common.HexToAddress(addr)
		st.OwnAddress = &a
	}
	return st, nil
}

func (s *PostgresStore) CommitDeposit(ctx context.Context, pos int, offer ledger.LiquidityOffer, txID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bridge.offers
				(position, id, owner, chain, amount, ask_price, withdrawn, payout_address, source_tx_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			pos, offer.ID, string(offer.Owner), offer.Chain,
			strconv.FormatUint(offer.Amount, 10), strconv.FormatUint(offer.AskPrice, 10),
			offer.Withdrawn, offer.PayoutAddress, offer.SourceTxID, offer.CreatedAt,
		); err != nil {
			return classify(err, "insert offer")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bridge.consumed_tx_ids (tx_id, kind) VALUES ($1, 'deposit')`, txID,
		); err != nil {
			return classify(err, "consume tx id")
		}
		return nil
	})
}

func (s *PostgresStore) CommitWithdraw(ctx context.Context, ids []uuid.UUID) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx,
				`UPDATE bridge.offers SET withdrawn = TRUE, updated_at = NOW() WHERE id = $1`, id)
			if err != nil {
				return fmt.Errorf("withdraw offer %s: %w", id, err)
			}
			if err := expectOne(res, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) CommitFills(ctx context.Context, updated []ledger.LiquidityOffer, buyTxID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, o := range updated {
			res, err := tx.ExecContext(ctx,
				`UPDATE bridge.offers SET amount = $2, withdrawn = $3, updated_at = NOW() WHERE id = $1`,
				o.ID, strconv.FormatUint(o.Amount, 10), o.Withdrawn)
			if err != nil {
				return fmt.Errorf("fill offer %s: %w", o.ID, err)
			}
			if err := expectOne(res, o.ID); err != nil {
				return err
			}
		}
		if buyTxID == "" {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bridge.consumed_tx_ids (tx_id, kind) VALUES ($1, 'buy') ON CONFLICT (tx_id) DO NOTHING`,
			buyTxID,
		); err != nil {
			return fmt.Errorf("consume buy tx id: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) SaveOwnAddress(ctx context.Context, addr common.Address) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bridge.own_address (id, address) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`,
		addr.Hex())
	if err != nil {
		return fmt.Errorf("save own address: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func expectOne(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: offer %s", ErrNotFound, id)
	}
	return nil
}

func classify(err error, what string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s: %s", ErrConflict, what, pqErr.Detail)
	}
	return fmt.Errorf("%s: %w", what, err)
}
