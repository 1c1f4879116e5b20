// Package replay wraps the two-key atomic reservation pattern used by both
// IntentGateway (§4.2) and ComplianceAttestor (§4.3) for nonce/hash replay
// defense, grounded on the original service's reserve_replay_keys Lua
// script: check key1, check key2, else set both under one TTL.
package replay

import (
	"context"
	"time"

	"github.com/otcsettle/controlplane/internal/apperr"
	"github.com/otcsettle/controlplane/internal/kvstore"
)

// Reserve atomically reserves key1 and key2 for ttl. code1/code2 name the
// apperr codes to surface when key1 or key2, respectively, is already taken.
func Reserve(ctx context.Context, kv *kvstore.Store, key1, key2 string, ttl time.Duration, code1, code2 string) error {
	status, err := kv.ReserveTwoKeys(ctx, key1, key2, ttl)
	if err != nil {
		return apperr.Unavailable(apperr.CodeRedisError, err.Error())
	}
	switch status {
	case kvstore.ReserveOK:
		return nil
	case kvstore.ReserveKey1Taken:
		return apperr.Conflict(code1, "replay key already reserved")
	case kvstore.ReserveKey2Taken:
		return apperr.Conflict(code2, "replay key already reserved")
	default:
		return apperr.Internal(apperr.CodeRedisError, "unexpected replay reservation status")
	}
}

// ReserveOne atomically reserves a single key for ttl, for guards that cover
// one key only (e.g. ProofCoordinator's (workflow_run_id, proof_type)
// guarantee when no receipt hash was supplied; with a receipt hash, both keys
// go through Reserve).
func ReserveOne(ctx context.Context, kv *kvstore.Store, key string, ttl time.Duration, code string) error {
	status, err := kv.ReserveOneKey(ctx, key, ttl)
	if err != nil {
		return apperr.Unavailable(apperr.CodeRedisError, err.Error())
	}
	switch status {
	case kvstore.ReserveOK:
		return nil
	case kvstore.ReserveKey1Taken:
		return apperr.Conflict(code, "replay key already reserved")
	default:
		return apperr.Internal(apperr.CodeRedisError, "unexpected replay reservation status")
	}
}
