package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the bcrypt work factor used for new hashes.
const DefaultBcryptCost = 12

// ErrUnsupportedHash is returned for stored hashes that are neither bcrypt
// nor a well-formed argon2id PHC string.
var ErrUnsupportedHash = errors.New("unsupported password hash")

// Argon2idParams are the cost parameters of an argon2id hash.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2idParams returns the parameters used for new argon2id hashes.
func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		MemoryKiB:   64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Verification limits. Hashes asking for more are rejected before any work
// is done.
const (
	maxArgonMemoryKiB  = 256 * 1024
	maxArgonIterations = 10
	maxArgonKeyLength  = 128
)

// Hash algorithms a PasswordScheme can name.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// PasswordScheme is the single hashing setup new hashes are written with.
// Stored hashes produced by any other scheme still verify, but take a
// different time to compare than the scheme's own hashes.
type PasswordScheme struct {
	Algorithm  string
	BcryptCost int
	Argon2id   Argon2idParams
}

// DefaultPasswordScheme is bcrypt at DefaultBcryptCost.
func DefaultPasswordScheme() PasswordScheme {
	return PasswordScheme{
		Algorithm:  AlgorithmBcrypt,
		BcryptCost: DefaultBcryptCost,
		Argon2id:   DefaultArgon2idParams(),
	}
}

// Validate rejects unknown algorithms and parameters outside the limits
// ComparePassword accepts.
func (s PasswordScheme) Validate() error {
	switch s.Algorithm {
	case AlgorithmBcrypt:
		if s.BcryptCost < bcrypt.MinCost || s.BcryptCost > bcrypt.MaxCost {
			return fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
		}
	case AlgorithmArgon2id:
		p := s.Argon2id
		if p.MemoryKiB < 8*uint32(p.Parallelism) || p.MemoryKiB > maxArgonMemoryKiB {
			return fmt.Errorf("argon2id memory must be between 8*parallelism and %d KiB", maxArgonMemoryKiB)
		}
		if p.Iterations == 0 || p.Iterations > maxArgonIterations {
			return fmt.Errorf("argon2id iterations must be between 1 and %d", maxArgonIterations)
		}
		if p.Parallelism == 0 {
			return errors.New("argon2id parallelism must be at least 1")
		}
		if p.SaltLength < 8 {
			return errors.New("argon2id salt length must be at least 8")
		}
		if p.KeyLength < 16 || p.KeyLength > maxArgonKeyLength {
			return fmt.Errorf("argon2id key length must be between 16 and %d", maxArgonKeyLength)
		}
	default:
		return fmt.Errorf("unknown password hash algorithm %q", s.Algorithm)
	}
	return nil
}

// Hash hashes password with the scheme's algorithm and parameters.
func (s PasswordScheme) Hash(password string) (string, error) {
	switch s.Algorithm {
	case AlgorithmBcrypt:
		return HashPasswordBcrypt(password, s.BcryptCost)
	case AlgorithmArgon2id:
		return HashPasswordArgon2id(password, s.Argon2id)
	default:
		return "", fmt.Errorf("unknown password hash algorithm %q", s.Algorithm)
	}
}

// Produced reports whether stored is a well-formed hash written with this
// scheme's algorithm and cost parameters. Salt length is not compared since
// it does not change the comparison cost.
func (s PasswordScheme) Produced(stored string) bool {
	switch s.Algorithm {
	case AlgorithmBcrypt:
		if !isBcrypt(stored) {
			return false
		}
		cost, err := bcrypt.Cost([]byte(stored))
		return err == nil && cost == s.BcryptCost
	case AlgorithmArgon2id:
		p, _, _, err := decodeArgon2id(stored)
		if err != nil {
			return false
		}
		return p.MemoryKiB == s.Argon2id.MemoryKiB &&
			p.Iterations == s.Argon2id.Iterations &&
			p.Parallelism == s.Argon2id.Parallelism &&
			p.KeyLength == s.Argon2id.KeyLength
	default:
		return false
	}
}

func isBcrypt(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$")
}

// HashPasswordBcrypt hashes password with bcrypt at the given cost.
func HashPasswordBcrypt(password string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(h), nil
}

// HashPasswordArgon2id hashes password and encodes it as
// $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt>$<key>.
func HashPasswordArgon2id(password string, p Argon2idParams) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("argon2id salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.MemoryKiB, p.Iterations, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key),
	), nil
}

// ComparePassword reports whether password matches the stored hash. The
// format is detected from the hash prefix. A malformed or unknown hash
// returns ErrUnsupportedHash.
func ComparePassword(stored, password string) (bool, error) {
	switch {
	case strings.HasPrefix(stored, "$argon2id$"):
		return compareArgon2id(stored, password)
	case isBcrypt(stored):
		err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, fmt.Errorf("%w: %v", ErrUnsupportedHash, err)
		}
	default:
		return false, ErrUnsupportedHash
	}
}

func compareArgon2id(encoded, password string) (bool, error) {
	p, salt, expected, err := decodeArgon2id(encoded)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

func decodeArgon2id(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2idParams{}, nil, nil, ErrUnsupportedHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return Argon2idParams{}, nil, nil, ErrUnsupportedHash
	}

	var mem, iter, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iter, &par); err != nil {
		return Argon2idParams{}, nil, nil, ErrUnsupportedHash
	}
	if mem == 0 || mem > maxArgonMemoryKiB || iter == 0 || iter > maxArgonIterations || par == 0 || par > 255 {
		return Argon2idParams{}, nil, nil, ErrUnsupportedHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) < 8 {
		return Argon2idParams{}, nil, nil, ErrUnsupportedHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) < 16 || len(key) > maxArgonKeyLength {
		return Argon2idParams{}, nil, nil, ErrUnsupportedHash
	}

	return Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  iter,
		Parallelism: uint8(par),
		SaltLength:  uint32(len(salt)),
		KeyLength:   uint32(len(key)),
	}, salt, key, nil
}
