package crypto

import (
	"crypto/rand"

	"github.com/kartikbazzad/ldbstore/internal/errs"
)

// EncryptBulk shares one derived key pair and one salt/iv across every
// item in the call (spec.md §4.11: "acceptable for the threat model").
// Each item still gets its own ciphertext and HMAC, just under the same
// salt/iv, so this is NOT simply EncryptBulk == N×Encrypt.
func (c *Cipher) EncryptBulk(masterKey string, plaintexts [][]byte) ([]string, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, errs.Wrap(errs.KeyDeriveFailed, "generate salt", err)
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, errs.Wrap(errs.EncryptFailed, "generate iv", err)
	}
	pair, err := c.deriveKeys(masterKey, salt)
	if err != nil {
		return nil, errs.Wrap(errs.KeyDeriveFailed, "derive keys", err)
	}

	out := make([]string, len(plaintexts))
	for i, pt := range plaintexts {
		wrapped, err := c.encryptWithKeys(pair, salt, iv, pt)
		if err != nil {
			return nil, err
		}
		out[i] = wrapped
	}
	return out, nil
}

// DecryptBulk decrypts a batch of envelopes previously produced by
// EncryptBulk (or individually, as long as each carries its own valid
// envelope — this does not require a shared salt/iv on the way in).
func (c *Cipher) DecryptBulk(masterKey string, wrapped []string) ([][]byte, error) {
	out := make([][]byte, len(wrapped))
	for i, w := range wrapped {
		pt, err := c.Decrypt(masterKey, w)
		if err != nil {
			return nil, err
		}
		out[i] = pt
	}
	return out, nil
}

// EncryptFieldsBulk encrypts the named fields of each record (already
// rendered to JSON bytes per field) under one shared salt/iv per call,
// returning field -> envelope per record.
func (c *Cipher) EncryptFieldsBulk(masterKey string, records []map[string][]byte) ([]map[string]string, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, errs.Wrap(errs.KeyDeriveFailed, "generate salt", err)
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, errs.Wrap(errs.EncryptFailed, "generate iv", err)
	}
	pair, err := c.deriveKeys(masterKey, salt)
	if err != nil {
		return nil, errs.Wrap(errs.KeyDeriveFailed, "derive keys", err)
	}

	out := make([]map[string]string, len(records))
	for i, fields := range records {
		enc := make(map[string]string, len(fields))
		for field, raw := range fields {
			wrapped, err := c.encryptWithKeys(pair, salt, iv, raw)
			if err != nil {
				return nil, err
			}
			enc[field] = wrapped
		}
		out[i] = enc
	}
	return out, nil
}

func (c *Cipher) DecryptFieldsBulk(masterKey string, records []map[string]string) ([]map[string][]byte, error) {
	out := make([]map[string][]byte, len(records))
	for i, fields := range records {
		dec := make(map[string][]byte, len(fields))
		for field, wrapped := range fields {
			pt, err := c.Decrypt(masterKey, wrapped)
			if err != nil {
				return nil, err
			}
			dec[field] = pt
		}
		out[i] = dec
	}
	return out, nil
}
