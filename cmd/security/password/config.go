package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every variable read by FromEnv.
const EnvPrefix = "HEARTH_"

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the production baseline.
func DefaultConfig() Config {
	// Parallelism clamped to [1..4] to keep container usage predictable.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 8,
			MaxLength: 256,
		},
	}
}

// FromEnv loads config from environment variables.
//
// Env surface (all prefixed with HEARTH_):
// PASSWORD_MIN_LEN, PASSWORD_MAX_LEN, PASSWORD_REJECT_VERY_WEAK,
// ARGON2_MEMORY_KIB, ARGON2_ITERATIONS, ARGON2_PARALLELISM, ARGON2_SALT_LEN, ARGON2_KEY_LEN.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	ints := []struct {
		key      string
		min, max int
		set      func(int)
	}{
		{"PASSWORD_MIN_LEN", 1, 1024, func(n int) { cfg.Policy.MinLength = n }},
		{"PASSWORD_MAX_LEN", 1, 4096, func(n int) { cfg.Policy.MaxLength = n }},
		{"ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, func(n int) { cfg.Params.MemoryKiB = uint32(n) }}, // #nosec G115 -- range checked.
		{"ARGON2_ITERATIONS", 1, 20, func(n int) { cfg.Params.Iterations = uint32(n) }},              // #nosec G115 -- range checked.
		{"ARGON2_PARALLELISM", 1, math.MaxUint8, func(n int) { cfg.Params.Parallelism = uint8(n) }},   // #nosec G115 -- range checked.
		{"ARGON2_SALT_LEN", 8, 64, func(n int) { cfg.Params.SaltLength = uint32(n) }},                // #nosec G115 -- range checked.
		{"ARGON2_KEY_LEN", 16, 64, func(n int) { cfg.Params.KeyLength = uint32(n) }},                 // #nosec G115 -- range checked.
	}
	for _, f := range ints {
		v, ok := os.LookupEnv(EnvPrefix + f.key)
		if !ok {
			continue
		}
		n, err := atoiRange(v, f.min, f.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s%s: %w", EnvPrefix, f.key, err)
		}
		f.set(n)
	}

	if v, ok := os.LookupEnv(EnvPrefix + "PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("%sPASSWORD_REJECT_VERY_WEAK: invalid boolean", EnvPrefix)
		}
		cfg.Policy.RejectVeryWeak = b
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password policy invalid: min_len(%d) > max_len(%d)", cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	return cfg, nil
}

func atoiRange(s string, minVal, maxVal int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if n < minVal || n > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return n, nil
}
