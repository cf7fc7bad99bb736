package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/greyhound/internal/bbox"
	"github.com/codefionn/greyhound/internal/config"
	"github.com/codefionn/greyhound/internal/download"
	"github.com/codefionn/greyhound/internal/logger"
	"github.com/codefionn/greyhound/internal/reader"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{config.EnvHost, config.EnvPipeline, logger.EnvLogLevel, logger.EnvLogPath} {
		t.Setenv(k, "")
	}
}

func TestParseArgsPrecedence(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("host = \"file:1\"\npipeline = \"from-file\"\nworkers = 2\n"), 0o644))
	t.Setenv(config.EnvPipeline, "from-env")

	cfg, opts, err := parseArgs([]string{"--config", path, "--host", "flag:2", "--schema", "X,Y", "-d", "1"})
	require.NoError(t, err)
	assert.Equal(t, path, opts.configPath)
	assert.Equal(t, "flag:2", cfg.Host)
	assert.Equal(t, "from-env", cfg.Pipeline)
	assert.Equal(t, 2, cfg.Workers, "unset flags keep file values")
	assert.Equal(t, 1, cfg.Depth)
	assert.Equal(t, []string{"X", "Y"}, cfg.Schema)
}

func TestParseArgsPositionalWorkers(t *testing.T) {
	clearEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "none.toml")

	cfg, _, err := parseArgs([]string{"--config", cfgPath, "6"})
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Workers)

	_, _, err = parseArgs([]string{"--config", cfgPath, "six"})
	assert.ErrorContains(t, err, "unexpected argument")

	_, _, err = parseArgs([]string{"--config", cfgPath, "1", "2"})
	assert.Error(t, err)
}

func TestParseArgsHelp(t *testing.T) {
	_, _, err := parseArgs([]string{"--help"})
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestSaveConfig(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "greyhound", "config.toml")
	require.NoError(t, run([]string{"--config", path, "--save-config", "--pipeline", "abc", "--workers", "3"}))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.Pipeline)
	assert.Equal(t, 3, cfg.Workers)
}

func TestMeterPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	m := newMeter(&buf, 2)
	assert.False(t, m.tty)

	m.region(download.Region{Index: 0}, &reader.ReadResult{NumPoints: 3, NumBytes: 36}, nil)
	m.region(download.Region{Index: 1}, nil, assert.AnError)
	m.finish()

	out := buf.String()
	assert.Contains(t, out, "region 0: read complete, points: 3 bytes: 36 B")
	assert.Contains(t, out, "region 1:")
	assert.Contains(t, out, assert.AnError.Error())
	assert.Equal(t, 2, m.done)
	assert.Equal(t, 1, m.failed)
}

func TestMeterLineFitsWidth(t *testing.T) {
	m := &meter{total: 4, width: 40, done: 2, points: 10, bytes: 2048}
	line := m.line()
	assert.Len(t, line, 39)
	assert.True(t, strings.HasPrefix(line, "["))
	assert.Contains(t, line, "2/4")

	m.width = 12
	assert.Len(t, m.line(), 11)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "0 B", formatBytes(0))
	assert.Equal(t, "1023 B", formatBytes(1023))
	assert.Equal(t, "1.0 KiB", formatBytes(1024))
	assert.Equal(t, "1.5 MiB", formatBytes(3<<19))
	assert.Equal(t, "4.0 GiB", formatBytes(4<<30))
}

const statsDoc = `{"stages":{"filters.stats":{"statistic":[
 {"name":{"value":"X","type":"string"},"minimum":{"value":"0","type":"double"},"maximum":{"value":"8","type":"double"}},
 {"name":{"value":"Y","type":"string"},"minimum":{"value":"0","type":"double"},"maximum":{"value":"8","type":"double"}},
 {"name":{"value":"Z","type":"string"},"minimum":{"value":"0","type":"double"},"maximum":{"value":"1","type":"double"}}
]}}}`

// fakeServer serves every region as 12 bytes per point, four points each.
type fakeServer struct {
	addr string

	mu        sync.Mutex
	reads     int
	destroyed []string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req map[string]any
			if json.Unmarshal(data, &req) != nil {
				return
			}
			fs.answer(conn, req)
		}
	}))
	t.Cleanup(srv.Close)
	fs.addr = strings.TrimPrefix(srv.URL, "http://")
	return fs
}

func (fs *fakeServer) answer(conn *websocket.Conn, req map[string]any) {
	switch cmd, _ := req["command"].(string); cmd {
	case "create":
		_ = conn.WriteJSON(map[string]any{"command": cmd, "status": 1, "session": "s-1"})
	case "stats":
		_ = conn.WriteJSON(map[string]any{"command": cmd, "status": 1, "stats": statsDoc})
	case "destroy":
		fs.mu.Lock()
		fs.destroyed = append(fs.destroyed, req["session"].(string))
		fs.mu.Unlock()
		_ = conn.WriteJSON(map[string]any{"command": cmd, "status": 1})
	case "read":
		fs.mu.Lock()
		fs.reads++
		fs.mu.Unlock()
		payload := bytes.Repeat([]byte{7}, 48)
		_ = conn.WriteJSON(map[string]any{"command": cmd, "status": 1, "numPoints": 4, "numBytes": len(payload)})
		_ = conn.WriteMessage(websocket.BinaryMessage, payload[:20])
		_ = conn.WriteMessage(websocket.BinaryMessage, payload[20:])
	default:
		_ = conn.WriteJSON(map[string]any{"command": cmd, "status": 0, "reason": "unknown command"})
	}
}

func TestRunDownloadsToDirectory(t *testing.T) {
	clearEnv(t)
	srv := newFakeServer(t)
	out := filepath.Join(t.TempDir(), "out")

	err := run([]string{
		"--config", filepath.Join(t.TempDir(), "none.toml"),
		"--host", srv.addr,
		"--pipeline", "p",
		"--depth", "1",
		"--workers", "2",
		"--schema", "X,Y,Z",
		"--output", out,
		"--compression", "zstd",
		"--log-level", "none",
		"--no-color",
		"--memprofile", filepath.Join(out, "..", "heap.out"),
	})
	require.NoError(t, err)

	srv.mu.Lock()
	assert.Equal(t, 4, srv.reads)
	assert.Equal(t, []string{"s-1"}, srv.destroyed)
	srv.mu.Unlock()

	assert.FileExists(t, filepath.Join(filepath.Dir(out), "heap.out"))

	m, err := download.LoadManifest(out)
	require.NoError(t, err)
	assert.Equal(t, "s-1", m.Session)
	require.Len(t, m.Regions, 4)

	quads, err := bbox.MustNew([]float64{0, 0, 0}, []float64{8, 8, 1}).SplitToDepth(1)
	require.NoError(t, err)
	for i, e := range m.Regions {
		assert.Equal(t, quads[i].Mins(), e.Mins)
		assert.Equal(t, int64(4), e.Points)
		data, err := download.ReadRegion(out, e)
		require.NoError(t, err)
		assert.Len(t, data, 48)
	}
}

func TestRunStatsOnly(t *testing.T) {
	clearEnv(t)
	srv := newFakeServer(t)

	start := time.Now()
	require.NoError(t, run([]string{
		"--config", filepath.Join(t.TempDir(), "none.toml"),
		"--host", srv.addr,
		"--pipeline", "p",
		"--stats-only",
		"--log-level", "none",
	}))
	assert.Less(t, time.Since(start), 5*time.Second)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Zero(t, srv.reads)
	assert.Equal(t, []string{"s-1"}, srv.destroyed)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	clearEnv(t)
	err := run([]string{"--config", filepath.Join(t.TempDir(), "none.toml"), "--log-level", "none"})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestRunRejectsExcessiveDepth(t *testing.T) {
	clearEnv(t)
	err := run([]string{
		"--config", filepath.Join(t.TempDir(), "none.toml"),
		"--pipeline", "p",
		"--depth", "31",
		"--log-level", "none",
	})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.ErrorContains(t, err, "depth")
}
