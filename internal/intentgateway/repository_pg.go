package intentgateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otcsettle/controlplane/internal/docstore"
)

type pgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(store *docstore.Store) Repository {
	return &pgRepository{pool: store.Pool}
}

func (r *pgRepository) Create(ctx context.Context, in *Intent) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO encrypted_intents(intent_id, nonce, commitment_hash, doc) VALUES ($1,$2,$3,$4)`,
		in.IntentID, in.Nonce, in.CommitmentHash, raw)
	return err
}

func (r *pgRepository) GetByID(ctx context.Context, intentID string) (*Intent, bool, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM encrypted_intents WHERE intent_id=$1`, intentID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var in Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, false, err
	}
	return &in, true, nil
}
