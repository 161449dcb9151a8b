package storage

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealedID      = "sealed"
	sealedVersion = 1
	saltLength    = 16

	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1

	// Bounds on parameters read back from storage.
	maxMemoryKB uint32 = 1024 * 1024
	maxTimeCost uint32 = 16
)

// SealConfig sets the argon2id cost of deriving the sealing key.
type SealConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
}

// DefaultSealConfig returns argon2id parameters suited to a client device.
func DefaultSealConfig() SealConfig {
	return SealConfig{Memory: 19 * 1024, Time: 2, Parallelism: 1}
}

func (c SealConfig) validate() error {
	if c.Memory < minMemoryKB {
		return errors.New("argon2 memory must be at least 8 MiB")
	}
	if c.Time < minTimeCost {
		return errors.New("argon2 time cost must be at least 1")
	}
	if c.Parallelism < minParallelism {
		return errors.New("argon2 parallelism must be at least 1")
	}
	return nil
}

// Sealed encrypts the document of an inner store with XChaCha20-Poly1305
// under a key derived from a passphrase. The stored form is
//
//	$sealed$v=1$m=<kb>,t=<n>,p=<n>$<salt>$<nonce||ciphertext>
//
// with base64 fields, so parameters can change without breaking old data.
type Sealed struct {
	inner      Storage
	passphrase []byte
	config     SealConfig

	mu   sync.Mutex
	salt []byte
	key  []byte
}

// NewSealed wraps inner.
func NewSealed(inner Storage, passphrase []byte, cfg SealConfig) (*Sealed, error) {
	if inner == nil {
		return nil, errors.New("sealed storage requires an inner store")
	}
	if len(passphrase) == 0 {
		return nil, errors.New("sealed storage requires a passphrase")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Sealed{inner: inner, passphrase: append([]byte(nil), passphrase...), config: cfg}, nil
}

func (s *Sealed) SetData(ctx context.Context, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key == nil {
		salt := make([]byte, saltLength)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return err
		}
		s.salt = salt
		s.key = s.derive(salt, s.config)
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(data)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	box := aead.Seal(nonce, nonce, []byte(data), s.salt)

	return s.inner.SetData(ctx, fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		sealedID,
		sealedVersion,
		s.config.Memory,
		s.config.Time,
		s.config.Parallelism,
		base64.StdEncoding.EncodeToString(s.salt),
		base64.StdEncoding.EncodeToString(box),
	))
}

// GetData returns "" when the inner store is empty.
func (s *Sealed) GetData(ctx context.Context) (string, error) {
	raw, err := s.inner.GetData(ctx)
	if err != nil || raw == "" {
		return "", err
	}
	env, err := parseEnvelope(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key
	if key == nil || string(s.salt) != string(env.salt) || s.config != env.config {
		key = s.derive(env.salt, env.config)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	if len(env.box) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrSealed)
	}
	nonce, ciphertext := env.box[:aead.NonceSize()], env.box[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, env.salt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealed, err)
	}
	// Keep writing under the salt we could read with.
	if env.config == s.config {
		s.salt, s.key = env.salt, key
	}
	return string(plain), nil
}

func (s *Sealed) ClearData(ctx context.Context) error {
	return s.inner.ClearData(ctx)
}

func (s *Sealed) derive(salt []byte, cfg SealConfig) []byte {
	return argon2.IDKey(s.passphrase, salt, cfg.Time, cfg.Memory, cfg.Parallelism, chacha20poly1305.KeySize)
}

type envelope struct {
	config SealConfig
	salt   []byte
	box    []byte
}

func parseEnvelope(raw string) (*envelope, error) {
	parts := strings.Split(raw, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != sealedID {
		return nil, errors.New("invalid envelope format")
	}
	if parts[2] != "v="+strconv.Itoa(sealedVersion) {
		return nil, errors.New("unsupported envelope version")
	}

	var cfg SealConfig
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, errors.New("invalid parameter")
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, errors.New("invalid parameter value")
		}
		switch k {
		case "m":
			cfg.Memory = uint32(n)
		case "t":
			cfg.Time = uint32(n)
		case "p":
			if n > 255 {
				return nil, errors.New("invalid parallelism")
			}
			cfg.Parallelism = uint8(n)
		default:
			return nil, errors.New("unknown parameter")
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Memory > maxMemoryKB || cfg.Time > maxTimeCost {
		return nil, errors.New("argon2 cost exceeds limits")
	}

	salt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < saltLength {
		return nil, errors.New("invalid salt")
	}
	box, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, errors.New("invalid ciphertext encoding")
	}
	return &envelope{config: cfg, salt: salt, box: box}, nil
}
