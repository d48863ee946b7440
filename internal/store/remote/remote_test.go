package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Endpoint:  "localhost:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "artifacts",
	}
}

func TestNewStoreValidatesConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"missing endpoint":   func(c *Config) { c.Endpoint = "" },
		"missing access key": func(c *Config) { c.AccessKey = " " },
		"missing secret key": func(c *Config) { c.SecretKey = "" },
		"missing bucket":     func(c *Config) { c.Bucket = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			_, err := NewStore(cfg)
			require.Error(t, err)
		})
	}
}

func TestNewStoreAcceptsValidConfig(t *testing.T) {
	// Client construction is offline; no bucket call happens until first use.
	s, err := NewStore(validConfig())
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, DefaultRootPrefix, s.rootPrefix)
}

func TestNewStoreDefaultsRegion(t *testing.T) {
	cfg := validConfig()
	cfg.Region = "  "
	s, err := NewStore(cfg)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", s.region)
}

func TestAssumeRoleDurationBounds(t *testing.T) {
	for _, seconds := range []int{1, 899, 43201} {
		cfg := validConfig()
		cfg.AssumeRole = &AssumeRoleConfig{
			RoleARN:         "arn:aws:iam::123456789012:role/artifact-pusher",
			DurationSeconds: seconds,
		}
		_, err := NewStore(cfg)
		require.Error(t, err, "duration %d", seconds)
		assert.Contains(t, err.Error(), "session duration")
	}
}

func TestAssumeRoleRequiresRoleARN(t *testing.T) {
	cfg := validConfig()
	cfg.AssumeRole = &AssumeRoleConfig{RoleARN: "  "}
	_, err := NewStore(cfg)
	require.Error(t, err)
}

func TestAssumeRoleAcceptsBoundedDuration(t *testing.T) {
	for _, seconds := range []int{0, 900, 3600, 43200} {
		cfg := validConfig()
		cfg.AssumeRole = &AssumeRoleConfig{
			RoleARN:         "arn:aws:iam::123456789012:role/artifact-pusher",
			SessionName:     "push",
			DurationSeconds: seconds,
		}
		_, err := NewStore(cfg)
		require.NoError(t, err, "duration %d", seconds)
	}
}

func TestKeyLayout(t *testing.T) {
	s := &Store{rootPrefix: "projects/"}
	assert.Equal(t, "projects/demo/ids/0123456789ab.json", s.idKey("demo", "0123456789ab"))
	assert.Equal(t, "projects/demo/tags/v1.0.0.json", s.tagKey("demo", "v1.0.0"))
	assert.Equal(t,
		"projects/demo/ids/0123456789ab/original-content/out/Counter.sol/Counter.json",
		s.originalKey("demo", "0123456789ab", "out/Counter.sol/Counter.json"))
}

func TestSanitizeArchivePath(t *testing.T) {
	cases := map[string]string{
		"out/Counter.json":       "out/Counter.json",
		"/out/Counter.json":      "out/Counter.json",
		"./out/Counter.json":     "out/Counter.json",
		".//.//out/Counter.json": "out/Counter.json",
		`out\Counter.json`:       "out/Counter.json",
		"///x":                   "x",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeArchivePath(in), "input %q", in)
	}
}

func TestNormalizePrefix(t *testing.T) {
	assert.Equal(t, DefaultRootPrefix, normalizePrefix(""))
	assert.Equal(t, DefaultRootPrefix, normalizePrefix("  "))
	assert.Equal(t, "warehouse/", normalizePrefix("warehouse"))
	assert.Equal(t, "warehouse/", normalizePrefix("/warehouse/"))
}
