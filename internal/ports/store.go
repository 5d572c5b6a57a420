package ports

import "context"

// KVStore est la surface clé/valeur durable partagée (cache, historique, réglages).
// Les composants doivent utiliser des clés préfixées pour éviter les collisions.
type KVStore interface {
	// Get renvoie ErrNotFound si la clé est absente.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete est idempotent.
	Delete(ctx context.Context, key string) error
	// DeleteIf ne supprime la clé que si sa valeur vaut encore expected.
	DeleteIf(ctx context.Context, key string, expected []byte) (bool, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
}
