package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memories-downloader/pkg/models"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
	}{
		{
			name: "valid config",
			envVars: map[string]string{
				"OUTPUT_ROOT": "/tmp/memories",
				"EXPORT_PATH": "/tmp/memories_history.json",
				"LOG_LEVEL":   "info",
			},
			wantErr: false,
		},
		{
			name:    "defaults applied",
			envVars: map[string]string{},
			wantErr: false,
		},
		{
			name: "invalid log level",
			envVars: map[string]string{
				"LOG_LEVEL": "verbose",
			},
			wantErr: true,
		},
		{
			name: "invalid duplicate policy",
			envVars: map[string]string{
				"DUPLICATE_POLICY": "archive",
			},
			wantErr: true,
		},
		{
			name: "subdir with separator rejected",
			envVars: map[string]string{
				"DOWNLOADS_DIR": "nested/downloads",
			},
			wantErr: true,
		},
		{
			name: "zero concurrency rejected",
			envVars: map[string]string{
				"CONCURRENCY": "0",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear environment
			os.Clearenv()

			// Set test environment variables
			for key, value := range tt.envVars {
				os.Setenv(key, value)
			}

			cfg, err := Load()

			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "memories", filepath.Base(cfg.OutputRoot))
	require.Equal(t, 4, cfg.Concurrency)
	require.Equal(t, 3, cfg.MaxAttempts)
	require.Equal(t, 2*time.Minute, cfg.AttemptTimeout)
	require.Equal(t, "move", cfg.DuplicatePolicy)
}

func TestValidate_OutputRootMustBeDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	cfg := &Config{
		OutputRoot:      file,
		LogLevel:        "info",
		DownloadsDir:    "downloads",
		MediaDir:        "media",
		DuplicatesDir:   "duplicates",
		FailuresDir:     "failures",
		Concurrency:     4,
		MaxAttempts:     3,
		DuplicatePolicy: "move",
	}
	require.Error(t, cfg.Validate())
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{
		OutputRoot:    "/data/memories",
		DownloadsDir:  "downloads",
		MediaDir:      "media",
		DuplicatesDir: "duplicates",
		FailuresDir:   "failures",
	}

	require.Equal(t, "/data/memories/downloads", cfg.DownloadsPath())
	require.Equal(t, "/data/memories/media", cfg.MediaPath())
	require.Equal(t, "/data/memories/duplicates", cfg.DuplicatesPath())
	require.Equal(t, "/data/memories/failures", cfg.FailuresPath())
}

func TestRunOptions(t *testing.T) {
	cfg := &Config{
		Concurrency:     8,
		MaxAttempts:     5,
		AttemptTimeout:  time.Minute,
		ThrottleDelay:   time.Second,
		DuplicatePolicy: "delete",
	}

	opts := cfg.RunOptions()
	require.Equal(t, 8, opts.Concurrency)
	require.Equal(t, 5, opts.MaxAttempts)
	require.Equal(t, models.DuplicateDelete, opts.DuplicatePolicy)
	require.False(t, opts.DryRun)
}
