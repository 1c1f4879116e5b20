// Package vaultsecrets is the Vault-backed secret store. Its one caller is
// ProofCoordinator's artifact sealer, which keeps its Kyber768 anchor keypair
// here; AES keys, HMAC secrets and signer material come from config. Adapted
// from the teacher's own VaultStore (internal/services/vault.go) with its
// KV-v2-with-v1-fallback probing kept intact.
package vaultsecrets

import (
	"errors"
	"fmt"
	"strings"

	vaultapi "github.com/hashicorp/vault/api"
)

type Store struct {
	client *vaultapi.Client
	isKVv2 bool
	mount  string
}

func New(addr, token string) (*Store, error) {
	if addr == "" || token == "" {
		return nil, errors.New("vault required: set VAULT_ADDR and VAULT_TOKEN")
	}
	cfg := vaultapi.DefaultConfig()
	cfg.Address = addr
	c, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	c.SetToken(token)
	return &Store{client: c, mount: "secret", isKVv2: true}, nil
}

func (v *Store) PutJSON(path string, data map[string]any) error {
	if path == "" {
		return errors.New("vault path required")
	}
	path = strings.TrimPrefix(path, "/")
	if v.isKVv2 {
		_, err := v.client.Logical().Write(fmt.Sprintf("%s/data/%s", v.mount, path), map[string]any{"data": data})
		if err == nil {
			return nil
		}
		v.isKVv2 = false
	}
	_, err := v.client.Logical().Write(fmt.Sprintf("%s/%s", v.mount, path), data)
	return err
}

func (v *Store) GetJSON(path string) (map[string]any, error) {
	if path == "" {
		return nil, errors.New("vault path required")
	}
	path = strings.TrimPrefix(path, "/")
	if v.isKVv2 {
		sec, err := v.client.Logical().Read(fmt.Sprintf("%s/data/%s", v.mount, path))
		if err == nil && sec != nil {
			if inner, ok := sec.Data["data"].(map[string]any); ok {
				return inner, nil
			}
		}
		if err != nil {
			v.isKVv2 = false
		}
	}
	sec, err := v.client.Logical().Read(fmt.Sprintf("%s/%s", v.mount, path))
	if err != nil {
		return nil, err
	}
	if sec == nil {
		return nil, nil
	}
	return sec.Data, nil
}

// GetStringField reads a single string field out of the JSON document at
// path, returning ok=false when the path or field is absent.
func (v *Store) GetStringField(path, field string) (value string, ok bool, err error) {
	data, err := v.GetJSON(path)
	if err != nil {
		return "", false, err
	}
	if data == nil {
		return "", false, nil
	}
	s, ok := data[field].(string)
	return s, ok, nil
}
