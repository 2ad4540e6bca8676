package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/NeuralTrust/TrustShield/pkg/config"
)

const keyIDLength = 16

// KeyLookup resolves a presented API key to the id rate limit rules refer
// to. Unknown keys report false.
type KeyLookup interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
}

// KeyID derives a stable identifier from a key without keeping the key
// itself.
func KeyID(key string) string {
	return digest(key)[:keyIDLength]
}

func digest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Keyring holds the API keys issued through configuration. Only digests are
// kept in memory.
type Keyring struct {
	ids map[string]string
}

func NewKeyring(keys []config.APIKeyConfig) *Keyring {
	k := &Keyring{ids: make(map[string]string, len(keys))}
	for _, entry := range keys {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			continue
		}
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			id = KeyID(key)
		}
		k.ids[digest(key)] = id
	}
	return k
}

func (k *Keyring) Lookup(_ context.Context, key string) (string, bool, error) {
	id, ok := k.ids[digest(key)]
	return id, ok, nil
}

func (k *Keyring) Len() int {
	return len(k.ids)
}
