package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Load_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("QUEUE_URL", "http://localhost:4566/000000000000/jobs")
	t.Setenv("TABLE_NAME", "contract-jobs")
	t.Setenv("BUCKET_NAME", "contract-sources")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.IsDev())
	require.False(t, cfg.IsProd())
	require.Equal(t, 4, cfg.WorkerCount)
	require.Equal(t, 3*time.Second, cfg.ResendInterval)
	require.Equal(t, 1000, cfg.MailboxSize)
	require.Equal(t, 24*time.Hour, cfg.RetentionInterval)
	require.Equal(t, 5*time.Hour, cfg.PresignTTL)
	require.Equal(t, "us-east-1", cfg.AWSRegion)
	require.False(t, cfg.LocalEndpoint())
}

func Test_Load_RequiredMissing(t *testing.T) {
	// t.Setenv registers restoration; os.Unsetenv actually removes the
	// variable, since a set-but-empty value still satisfies `required`.
	for _, k := range []string{"QUEUE_URL", "TABLE_NAME", "BUCKET_NAME"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	_, err := Load()
	require.Error(t, err)
}

func Test_Load_Overrides(t *testing.T) {
	t.Setenv("QUEUE_URL", "http://localhost:4566/000000000000/jobs")
	t.Setenv("TABLE_NAME", "contract-jobs")
	t.Setenv("BUCKET_NAME", "contract-sources")
	t.Setenv("AWS_ENDPOINT_URL", "http://localhost:4566")
	t.Setenv("WORKER_COUNT", "16")
	t.Setenv("RETENTION_INTERVAL", "48h")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.LocalEndpoint())
	require.Equal(t, 16, cfg.WorkerCount)
	require.Equal(t, 48*time.Hour, cfg.RetentionInterval)
}
