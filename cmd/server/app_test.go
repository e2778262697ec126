package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/phrazzld/avmerge/internal/config"
	"github.com/phrazzld/avmerge/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// copyEngine writes the video bytes followed by the audio bytes to the output.
type copyEngine struct{}

func (copyEngine) Merge(ctx context.Context, req engine.Request) error {
	req.Report("Writing merged video file")
	v, err := os.ReadFile(req.VideoPath)
	if err != nil {
		return err
	}
	a, err := os.ReadFile(req.AudioPath)
	if err != nil {
		return err
	}
	return os.WriteFile(req.OutputPath, append(v, a...), 0o644)
}

// failingEngine always reports corrupt input.
type failingEngine struct{}

func (failingEngine) Merge(ctx context.Context, req engine.Request) error {
	return engine.NewError(engine.KindCorruptInput, "could not decode video", nil)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		Server: config.ServerConfig{
			Port:            8000,
			LogLevel:        "debug",
			MaxUploadMB:     1,
			ShutdownTimeout: 5 * time.Second,
		},
		Storage: config.StorageConfig{
			TasksDir:       filepath.Join(root, "tasks"),
			OutputDir:      filepath.Join(root, "output"),
			TempDir:        filepath.Join(root, "temp"),
			MaxOutputFiles: 10,
		},
		Task: config.TaskConfig{
			WorkerCount:   2,
			QueueSize:     10,
			EngineTimeout: time.Minute,
		},
		Engine: config.EngineConfig{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, eng engine.Engine) (*application, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	app, err := buildApplication(context.Background(), cfg, logger, eng)
	require.NoError(t, err)

	srv := httptest.NewServer(app.setupRouter())
	t.Cleanup(func() {
		srv.Close()
		app.cleanup()
	})
	return app, srv
}

func submit(t *testing.T, srv *httptest.Server, path, video, audio string) map[string]interface{} {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("video_file", video)
	require.NoError(t, err)
	_, err = fw.Write([]byte("VIDEO"))
	require.NoError(t, err)
	fw, err = mw.CreateFormFile("audio_file", audio)
	require.NoError(t, err)
	_, err = fw.Write([]byte("AUDIO"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+path, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func getJSON(t *testing.T, url string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func waitForStatus(t *testing.T, srv *httptest.Server, id, want string) map[string]interface{} {
	t.Helper()
	var last map[string]interface{}
	require.Eventually(t, func() bool {
		_, last = getJSON(t, srv.URL+"/task/"+id+"/status")
		return last["status"] == want
	}, 5*time.Second, 20*time.Millisecond)
	return last
}

func TestServer_MergeLifecycle(t *testing.T) {
	cfg := testConfig(t)
	_, srv := newTestServer(t, cfg, copyEngine{})

	created := submit(t, srv, "/merge-replace-audio", "clip.mp4", "song.mp3")
	assert.Equal(t, "pending", created["status"])
	id, ok := created["task_id"].(string)
	require.True(t, ok)

	status := waitForStatus(t, srv, id, "success")
	assert.Equal(t, "replace-audio", status["type"])
	assert.Equal(t, "clip.mp4", status["video_filename"])
	assert.Equal(t, float64(len("VIDEOAUDIO")), status["file_size"])

	resp, err := http.Get(srv.URL + "/task/" + id + "/download")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "replaced_audio_"+id+".mp4")
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "VIDEOAUDIO", string(payload))

	// Uploads are removed once the task ends.
	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(cfg.Storage.TempDir)
		return err == nil && len(entries) == 0
	}, 5*time.Second, 20*time.Millisecond)

	code, info := getJSON(t, srv.URL+"/info")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1/10 files", info["storage_status"])
	assert.Equal(t, float64(1), info["total_tasks"])

	code, list := getJSON(t, srv.URL+"/tasks?status=success")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), list["total"])
	assert.Equal(t, "success", list["filter_status"])
}

func TestServer_FailedTask(t *testing.T) {
	_, srv := newTestServer(t, testConfig(t), failingEngine{})

	created := submit(t, srv, "/merge", "clip.mov", "song.wav")
	id := created["task_id"].(string)

	status := waitForStatus(t, srv, id, "failed")
	assert.Contains(t, status["error"], "could not decode video")

	code, body := getJSON(t, srv.URL+"/task/"+id+"/download")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "failed", body["status"])
}

func TestServer_CapacityEviction(t *testing.T) {
	cfg := testConfig(t)
	_, srv := newTestServer(t, cfg, copyEngine{})

	var ids []string
	for i := 0; i < 3; i++ {
		created := submit(t, srv, "/loop-video-to-audio", "clip.mkv", "song.flac")
		id := created["task_id"].(string)
		waitForStatus(t, srv, id, "success")
		ids = append(ids, id)
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Post(srv.URL+"/config/max-files?max_files=1", "", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var change map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&change))
	assert.Equal(t, float64(10), change["old_limit"])
	assert.Equal(t, float64(1), change["new_limit"])
	assert.Equal(t, true, change["cleanup_triggered"])
	assert.Equal(t, float64(1), change["current_files"])

	// The newest output survives; the evicted tasks are gone entirely.
	code, _ := getJSON(t, srv.URL+"/task/"+ids[0]+"/status")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = getJSON(t, srv.URL+"/task/"+ids[2]+"/status")
	assert.Equal(t, http.StatusOK, code)

	resp2, err := http.Post(srv.URL+"/config/max-files?max_files=0", "", nil)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestServer_HealthAndValidation(t *testing.T) {
	_, srv := newTestServer(t, testConfig(t), copyEngine{})

	code, health := getJSON(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "2.1.0", health["version"])

	code, body := getJSON(t, srv.URL+"/tasks?limit=0")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.NotEmpty(t, body["trace_id"])

	code, _ = getJSON(t, srv.URL+"/task/not-a-uuid/status")
	assert.Equal(t, http.StatusNotFound, code)

	resp, err := http.Post(srv.URL+"/cleanup", "", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
