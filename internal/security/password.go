package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

const (
	// Argon2id parameters (OWASP recommendations)
	DefaultArgon2Time    = 3
	DefaultArgon2Memory  = 64 * 1024 // 64 MB
	DefaultArgon2Threads = 2
	argon2KeyLength      = 32
	saltLength           = 16

	// Upper bounds accepted when decoding a stored hash.
	maxArgon2Time   = 64
	maxArgon2Memory = 1024 * 1024 // 1 GiB
)

// ErrEmptyPassword is returned when hashing an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// HasherConfig tunes the Argon2id work factor.
type HasherConfig struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

func DefaultHasherConfig() HasherConfig {
	return HasherConfig{
		Time:    DefaultArgon2Time,
		Memory:  DefaultArgon2Memory,
		Threads: DefaultArgon2Threads,
	}
}

type PasswordHasher struct {
	time      uint32
	memory    uint32
	threads   uint8
	keyLength uint32
}

func NewPasswordHasher(cfg HasherConfig) *PasswordHasher {
	def := DefaultHasherConfig()
	if cfg.Time == 0 {
		cfg.Time = def.Time
	}
	if cfg.Memory == 0 {
		cfg.Memory = def.Memory
	}
	if cfg.Threads == 0 {
		cfg.Threads = def.Threads
	}
	return &PasswordHasher{
		time:      cfg.Time,
		memory:    cfg.Memory,
		threads:   cfg.Threads,
		keyLength: argon2KeyLength,
	}
}

// Hash generates a salted Argon2id hash encoded in PHC string format.
func (ph *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	hash := argon2.IDKey([]byte(password), salt, ph.time, ph.memory, ph.threads, ph.keyLength)

	// $argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		ph.memory,
		ph.time,
		ph.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

type hashParams struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	hash    []byte
}

func decodeHash(encodedHash string) (*hashParams, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if version != argon2.Version {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("incompatible argon2 version %d", version)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if time == 0 || time > maxArgon2Time {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("time value %d out of range", time)
	}
	if memory == 0 || memory > maxArgon2Memory {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("memory value %d out of range", memory)
	}
	if threads == 0 || threads > 255 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d out of range", threads)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if len(hash) == 0 || len(hash) > 1024 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", len(hash))
	}

	return &hashParams{memory: memory, time: time, threads: uint8(threads), salt: salt, hash: hash}, nil
}

// Verify checks if password matches the hash using the parameters embedded in it.
func (ph *PasswordHasher) Verify(password, encodedHash string) (bool, error) {
	p, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}

	testHash := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.hash)))

	// Use constant-time comparison to prevent timing attacks
	return subtle.ConstantTimeCompare(p.hash, testHash) == 1, nil
}

// NeedsRehash reports whether encodedHash was produced with weaker or
// different parameters than the hasher currently uses.
func (ph *PasswordHasher) NeedsRehash(encodedHash string) bool {
	p, err := decodeHash(encodedHash)
	if err != nil {
		return true
	}
	return p.memory != ph.memory || p.time != ph.time || p.threads != ph.threads
}
