package archive

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"gopkg.in/yaml.v3"
)

// keySource resolves the OpenPGP recipients of each archive group.
type keySource struct {
	defaults []*openpgp.Entity
	groups   map[string][]*openpgp.Entity
}

func loadKeys(cfg EncryptionConfig) (*keySource, error) {
	f, err := os.Open(cfg.Keyring)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	defer f.Close()
	ring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("read keyring %s: %w", cfg.Keyring, err)
	}
	if len(ring) == 0 {
		return nil, fmt.Errorf("keyring %s has no keys", cfg.Keyring)
	}

	ks := &keySource{groups: map[string][]*openpgp.Entity{}}
	if len(cfg.DefaultKeyIDs) == 0 {
		ks.defaults = ring
	} else if ks.defaults, err = findKeys(ring, cfg.DefaultKeyIDs); err != nil {
		return nil, err
	}

	if cfg.GroupingKeys == "" {
		return ks, nil
	}
	data, err := os.ReadFile(cfg.GroupingKeys)
	if err != nil {
		return nil, fmt.Errorf("read grouping keys: %w", err)
	}
	var mapping map[string][]string
	if err := yaml.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("parse grouping keys %s: %w", cfg.GroupingKeys, err)
	}
	for group, ids := range mapping {
		keys, err := findKeys(ring, ids)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", group, err)
		}
		ks.groups[group] = keys
	}
	return ks, nil
}

func (k *keySource) recipients(group string) []*openpgp.Entity {
	if keys, ok := k.groups[group]; ok {
		return keys
	}
	return k.defaults
}

// findKeys matches ids against the long key id, short key id or
// fingerprint of each primary key.
func findKeys(ring openpgp.EntityList, ids []string) ([]*openpgp.Entity, error) {
	out := make([]*openpgp.Entity, 0, len(ids))
	for _, id := range ids {
		want := strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(id), "0x"))
		var found *openpgp.Entity
		for _, e := range ring {
			pk := e.PrimaryKey
			fp := strings.ToUpper(fmt.Sprintf("%X", pk.Fingerprint))
			if want == strings.ToUpper(pk.KeyIdString()) || want == strings.ToUpper(pk.KeyIdShortString()) || want == fp {
				found = e
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("key %s not found in keyring", id)
		}
		out = append(out, found)
	}
	return out, nil
}

// encryptFile writes src encrypted for to into dst.
func encryptFile(dst, src string, to []*openpgp.Entity) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w, err := openpgp.Encrypt(out, to, nil, &openpgp.FileHints{IsBinary: true}, nil)
	if err != nil {
		out.Close()
		return fmt.Errorf("start encryption: %w", err)
	}
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		out.Close()
		return fmt.Errorf("encrypt archive: %w", err)
	}
	if err := w.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finish encryption: %w", err)
	}
	return out.Close()
}

// Decrypt returns the plaintext of an encrypted archive read from r using
// the private keys in keyring.
func Decrypt(r io.Reader, keyring openpgp.EntityList) ([]byte, error) {
	md, err := openpgp.ReadMessage(r, keyring, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("read encrypted archive: %w", err)
	}
	data, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, fmt.Errorf("decrypt archive: %w", err)
	}
	return data, nil
}
