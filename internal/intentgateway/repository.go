package intentgateway

import "context"

// Repository persists EncryptedIntent records. Uniqueness of nonce and
// commitment_hash is enforced upstream by the atomic KV reservation in
// service.go; Repository only needs to store and fetch by id.
type Repository interface {
	Create(ctx context.Context, in *Intent) error
	GetByID(ctx context.Context, intentID string) (*Intent, bool, error)
}
