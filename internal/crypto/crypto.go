// Package crypto implements the at-rest authenticated-encryption layer
// (spec.md §4.11): AES-256-CTR for confidentiality, HMAC-SHA-256/512
// for integrity, keys derived from one master key and a per-payload
// random salt via PBKDF2. Grounded on docdb's general
// "background-goroutine-with-stop-channel" shutdown idiom (used by its
// pool/healer code) for the key-cache janitor, and on
// golang.org/x/crypto/pbkdf2 (an indirect dependency of the
// SnellerInc-sneller pack repo, which imports golang.org/x/crypto
// directly) for key derivation — docdb itself has no crypto layer to
// ground this package's cipher code on.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"
	"time"

	"golang.org/x/crypto/pbkdf2"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kartikbazzad/ldbstore/internal/errs"
)

const (
	SaltSize = 16
	IVSize   = 16
)

type HMACAlgo string

const (
	HMACSHA256 HMACAlgo = "sha256"
	HMACSHA512 HMACAlgo = "sha512"
)

func newHash(algo HMACAlgo) func() hash.Hash {
	if algo == HMACSHA512 {
		return sha512.New
	}
	return sha256.New
}

// Envelope is the bit-exact on-disk wrapper spec.md §6 defines.
type Envelope struct {
	Salt       string `json:"salt"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	HMAC       string `json:"hmac"`
}

type keyPair struct {
	aesKey  []byte
	hmacKey []byte
}

// Config bundles the knobs spec.md §4.11 names.
type Config struct {
	Iterations   int
	KeySize      int // AES key size, bytes (32 = AES-256)
	HMACAlgo     HMACAlgo
	KeyCacheSize int
	KeyCacheTTL  time.Duration
}

type cacheEntry struct {
	pair      keyPair
	expiresAt time.Time
}

// Cipher derives and caches keys, and performs envelope encrypt/decrypt.
// One Cipher is shared across all tables using the Crypto Layer.
type Cipher struct {
	cfg Config

	keyCache *lru.Cache[string, *cacheEntry]

	stop chan struct{}
	done chan struct{}
}

func New(cfg Config) *Cipher {
	if cfg.KeyCacheSize <= 0 {
		cfg.KeyCacheSize = 256
	}
	if cfg.KeySize <= 0 {
		cfg.KeySize = 32
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = 100000
	}
	kc, _ := lru.New[string, *cacheEntry](cfg.KeyCacheSize)
	c := &Cipher{cfg: cfg, keyCache: kc, stop: make(chan struct{}), done: make(chan struct{})}
	go c.janitor()
	return c
}

// Close stops the key-cache janitor goroutine and waits for it to exit.
func (c *Cipher) Close() {
	close(c.stop)
	<-c.done
}

func (c *Cipher) janitor() {
	defer close(c.done)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.pruneExpired()
		}
	}
}

func (c *Cipher) pruneExpired() {
	now := time.Now()
	for _, k := range c.keyCache.Keys() {
		if e, ok := c.keyCache.Peek(k); ok && now.After(e.expiresAt) {
			c.keyCache.Remove(k)
		}
	}
}

func masterKeyHash(masterKey string) string {
	h := sha256.Sum256([]byte(masterKey))
	return base64.StdEncoding.EncodeToString(h[:])
}

func (c *Cipher) deriveKeys(masterKey string, salt []byte) (keyPair, error) {
	cacheKey := fmt.Sprintf("%s:%s:%d", masterKeyHash(masterKey), base64.StdEncoding.EncodeToString(salt), c.cfg.Iterations)
	if e, ok := c.keyCache.Get(cacheKey); ok && time.Now().Before(e.expiresAt) {
		return e.pair, nil
	}

	keyLen := c.cfg.KeySize * 2
	derived := pbkdf2.Key([]byte(masterKey), salt, c.cfg.Iterations, keyLen, sha256.New)
	pair := keyPair{
		aesKey:  derived[:c.cfg.KeySize],
		hmacKey: derived[c.cfg.KeySize:],
	}

	ttl := c.cfg.KeyCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	c.keyCache.Add(cacheKey, &cacheEntry{pair: pair, expiresAt: time.Now().Add(ttl)})
	return pair, nil
}

// Encrypt produces the Base64-wrapped envelope JSON spec.md §6 defines.
func (c *Cipher) Encrypt(masterKey string, plaintext []byte) (string, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", errs.Wrap(errs.KeyDeriveFailed, "generate salt", err)
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", errs.Wrap(errs.EncryptFailed, "generate iv", err)
	}
	pair, err := c.deriveKeys(masterKey, salt)
	if err != nil {
		return "", errs.Wrap(errs.KeyDeriveFailed, "derive keys", err)
	}
	return c.encryptWithKeys(pair, salt, iv, plaintext)
}

func (c *Cipher) encryptWithKeys(pair keyPair, salt, iv, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(pair.aesKey)
	if err != nil {
		return "", errs.Wrap(errs.EncryptFailed, "create AES cipher", err)
	}
	stream := cipher.NewCTR(block, iv)
	ciphertext := make([]byte, len(plaintext))
	stream.XORKeyStream(ciphertext, plaintext)
	ciphertextB64 := base64.StdEncoding.EncodeToString(ciphertext)

	mac := hmac.New(newHash(c.cfg.HMACAlgo), pair.hmacKey)
	// MUST hash the base64 string of the ciphertext, not the raw bytes
	// (spec.md §6's wire-compatibility requirement).
	mac.Write([]byte(ciphertextB64))
	macSum := mac.Sum(nil)

	env := Envelope{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Ciphertext: ciphertextB64,
		HMAC:       base64.StdEncoding.EncodeToString(macSum),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", errs.Wrap(errs.EncryptFailed, "marshal envelope", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decrypt verifies the HMAC first; mismatch is always HMAC_MISMATCH,
// never silently surfaced as plaintext (spec.md §4.11).
func (c *Cipher) Decrypt(masterKey string, wrapped string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, errs.Wrap(errs.DecryptFailed, "base64-decode envelope", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errs.Wrap(errs.DecryptFailed, "unmarshal envelope", err)
	}
	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, errs.Wrap(errs.DecryptFailed, "decode salt", err)
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, errs.Wrap(errs.DecryptFailed, "decode iv", err)
	}
	pair, err := c.deriveKeys(masterKey, salt)
	if err != nil {
		return nil, errs.Wrap(errs.KeyDeriveFailed, "derive keys", err)
	}
	return c.decryptWithKeys(pair, iv, env)
}

func (c *Cipher) decryptWithKeys(pair keyPair, iv []byte, env Envelope) ([]byte, error) {
	mac := hmac.New(newHash(c.cfg.HMACAlgo), pair.hmacKey)
	mac.Write([]byte(env.Ciphertext))
	expected := mac.Sum(nil)
	actual, err := base64.StdEncoding.DecodeString(env.HMAC)
	if err != nil || !hmac.Equal(expected, actual) {
		return nil, errs.New(errs.DecryptFailed, "authentication failed").
			WithCause(errs.New(errs.HMACMismatch, "HMAC verification failed"))
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, errs.Wrap(errs.DecryptFailed, "decode ciphertext", err)
	}
	block, err := aes.NewCipher(pair.aesKey)
	if err != nil {
		return nil, errs.Wrap(errs.DecryptFailed, "create AES cipher", err)
	}
	stream := cipher.NewCTR(block, iv)
	plaintext := make([]byte, len(ciphertext))
	stream.XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}
