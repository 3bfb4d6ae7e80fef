// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keduman/workflow-app/internal/config"
	"github.com/keduman/workflow-app/internal/controller/runner"
)

const testSeed = `
identities:
  - username: alice
    roles: [USER]
workflows:
  - id: leave
    name: Leave request
    steps:
      - id: request
        name: Request
        type: START
        rules:
          - name: Too long
            condition: days > 20
            action: REJECT
      - id: approved
        name: Approved
        type: END
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	seedPath := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(testSeed), 0o600))

	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Seed.Path = seedPath
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestControllerStartStop(t *testing.T) {
	c, err := New(testConfig(t), Options{Version: "test", Logger: quietLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Start(ctx)
	}()

	select {
	case <-c.Ready():
	case err := <-errCh:
		t.Fatalf("controller failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not become ready")
	}

	base := "http://" + c.Addr()

	resp, err := http.Get(base + "/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, base+"/v1/workflows/leave/start", nil)
	require.NoError(t, err)
	req.Header.Set("X-User", "alice")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap runner.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "request", snap.CurrentStepID)

	req, err = http.NewRequest(http.MethodPost, base+"/v1/tasks/"+snap.ID+"/submit", strings.NewReader(`{"days": 30}`))
	require.NoError(t, err)
	req.Header.Set("X-User", "alice")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	require.NoError(t, c.Shutdown(context.Background()))
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after shutdown")
	}
}

func TestController_StartTwice(t *testing.T) {
	c, err := New(testConfig(t), Options{Logger: quietLogger()})
	require.NoError(t, err)

	go func() { _ = c.Start(context.Background()) }()
	<-c.Ready()
	defer c.Shutdown(context.Background())

	assert.ErrorContains(t, c.Start(context.Background()), "already started")
}

func TestController_SQLiteBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend.Type = config.BackendSQLite
	cfg.Backend.SQLite.Path = filepath.Join(t.TempDir(), "workflow.db")

	c, err := New(cfg, Options{Logger: quietLogger()})
	require.NoError(t, err)
	defer c.Shutdown(context.Background())

	snap, err := c.Runner().Start(context.Background(), "leave", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Leave request", snap.TemplateName)
}

func TestController_TracingToStdout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"

	var spans bytes.Buffer
	c, err := New(cfg, Options{Logger: quietLogger(), TraceOutput: &spans})
	require.NoError(t, err)

	_, err = c.Runner().Start(context.Background(), "leave", "alice")
	require.NoError(t, err)
	require.NoError(t, c.Shutdown(context.Background()))

	assert.Contains(t, spans.String(), "instance.start")
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "unknown backend",
			mutate: func(c *config.Config) { c.Backend.Type = "cassandra" },
			want:   "unsupported backend type",
		},
		{
			name:   "missing seed file",
			mutate: func(c *config.Config) { c.Seed.Path = filepath.Join(filepath.Dir(c.Seed.Path), "nope.yaml") },
			want:   "failed to load seed file",
		},
		{
			name:   "bad tracing exporter",
			mutate: func(c *config.Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "zipkin" },
			want:   "failed to set up tracing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := New(cfg, Options{Logger: quietLogger()})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
