package bootstrap

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/finsight/internal/config"
	"github.com/spherical-ai/finsight/internal/domain"
	"github.com/spherical-ai/finsight/internal/progress"
	"github.com/spherical-ai/finsight/internal/queue"
	"github.com/spherical-ai/finsight/internal/storage"
)

func localConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Artifacts.Dir = t.TempDir()
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "runs.db")
	return cfg
}

func TestNew_LocalGraph(t *testing.T) {
	rec := progress.NewRecorder()
	app, err := New(context.Background(), localConfig(t), nil, Options{Progress: rec})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, app.Close()) })

	require.NoError(t, app.Ready(context.Background()))
	require.NotNil(t, app.Events)
	assert.IsType(t, &queue.MemoryQueue{}, app.Queue)
	require.NotNil(t, app.Runs)

	task := queue.NewDocumentTask(domain.Submission{
		Filename:     "statement.txt",
		Content:      base64.StdEncoding.EncodeToString([]byte("bank statement")),
		DeclaredType: "bank_statement",
	})
	events, err := progress.Watch(context.Background(), app.Events, task.ID)
	require.NoError(t, err)

	app.Pool.Execute(context.Background(), task)

	var streamed []domain.Stage
	for ev := range events {
		streamed = append(streamed, ev.State)
	}
	require.NotEmpty(t, streamed)
	assert.Equal(t, domain.StageReceived, streamed[0])
	assert.Equal(t, domain.StageFailed, streamed[len(streamed)-1])

	// no model is configured, so structured extraction has nothing to run
	latest, err := app.Status.Latest(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageFailed, latest.State)
	require.NotNil(t, latest.Result)
	assert.Equal(t, domain.KindStructuredExtraction, latest.Result.Failure.ErrorType)

	run, err := app.Runs.LatestForTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusFailed, run.Status)
	assert.Equal(t, "statement.txt", run.Filename)

	assert.NotEmpty(t, rec.Events(task.ID))
}

func TestNew_SkipLedger(t *testing.T) {
	app, err := New(context.Background(), localConfig(t), nil, Options{SkipLedger: true})
	require.NoError(t, err)
	defer app.Close()
	assert.Nil(t, app.Runs)
}

func TestNew_RedisQueueWithoutRedisFails(t *testing.T) {
	cfg := localConfig(t)
	cfg.Cache.Redis.Addr = "127.0.0.1:1"
	cfg.Queue.Driver = "redis"
	_, err := New(context.Background(), cfg, nil, Options{SkipLedger: true})
	assert.Error(t, err)
}
