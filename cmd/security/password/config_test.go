package password

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestFromEnv_Override(t *testing.T) {
	t.Setenv("GK_PASSWORD_MIN_LEN", "10")
	t.Setenv("GK_PASSWORD_MAX_LEN", "200")
	t.Setenv("GK_PASSWORD_REJECT_VERY_WEAK", "true")
	t.Setenv("GK_ARGON2_MEMORY_KIB", "32768")
	t.Setenv("GK_ARGON2_ITERATIONS", "4")
	t.Setenv("GK_ARGON2_PARALLELISM", "2")
	t.Setenv("GK_ARGON2_SALT_LEN", "24")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, Policy{MinLength: 10, MaxLength: 200, RejectVeryWeak: true}, cfg.Policy)
	require.Equal(t, uint32(32768), cfg.Params.MemoryKiB)
	require.Equal(t, uint32(4), cfg.Params.Iterations)
	require.Equal(t, uint8(2), cfg.Params.Parallelism)
	require.Equal(t, uint32(24), cfg.Params.SaltLength)
	require.Equal(t, uint32(32), cfg.Params.KeyLength)
}

func TestFromEnv_Invalid(t *testing.T) {
	t.Setenv("GK_ARGON2_ITERATIONS", "0")
	_, err := FromEnv()
	require.Error(t, err)
}

func TestFromEnv_MinAboveMax(t *testing.T) {
	t.Setenv("GK_PASSWORD_MIN_LEN", "40")
	t.Setenv("GK_PASSWORD_MAX_LEN", "20")
	_, err := FromEnv()
	require.Error(t, err)
}
