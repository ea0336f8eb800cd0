package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	go_openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/mdtran/internal"
	"github.com/valpere/mdtran/internal/orchestrator"
	"github.com/valpere/mdtran/internal/prompt"
	"github.com/valpere/mdtran/internal/store"
)

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList([]string{"a,b", " c "}))
	assert.Equal(t, []string{"sk-1", "sk-2"}, splitList([]string{"sk-1 sk-2"}))
	assert.Empty(t, splitList(nil))
	assert.Empty(t, splitList([]string{",,"}))
}

func TestParseHeaders(t *testing.T) {
	h, err := parseHeaders([]string{"X-Title=mdtran", "HTTP-Referer = https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"X-Title": "mdtran", "HTTP-Referer": "https://example.com"}, h)

	h, err = parseHeaders(nil)
	require.NoError(t, err)
	assert.Nil(t, h)

	_, err = parseHeaders([]string{"no-equals"})
	assert.Error(t, err)
	_, err = parseHeaders([]string{"=value"})
	assert.Error(t, err)
}

func TestBuildClients(t *testing.T) {
	clients, err := buildClients([]string{"sk-1", "sk-2"}, "", time.Second, nil)
	require.NoError(t, err)
	require.Len(t, clients, 2)
	assert.Equal(t, "key-1", clients[0].Name())
	assert.Equal(t, "key-2", clients[1].Name())

	_, err = buildClients(nil, "", time.Second, nil)
	assert.Error(t, err)
}

func TestPrintOutcomes(t *testing.T) {
	var buf bytes.Buffer
	printOutcomes(&buf, &orchestrator.OrchestratorResult{
		Outcomes: []internal.Outcome{
			{JobID: "a.md", Status: internal.StatusSucceeded, Turns: 2},
			{JobID: "b.md", Status: internal.StatusFailed, Reason: internal.ReasonRetriesExhausted},
		},
		Succeeded: 1,
		Failed:    1,
	})

	out := buf.String()
	assert.Contains(t, out, "Translated 1/2 files (1 failed)")
	assert.Contains(t, out, "failed: b.md (retry budget exhausted)")
	assert.NotContains(t, out, "failed: a.md")
}

// fakeEndpoint replies to the first turn with a partial translation and to
// every later turn with the rest plus the completion marker.
func fakeEndpoint(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req go_openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		content := "第一部分。"
		if len(req.Messages) > 1 {
			content = "第二部分。" + prompt.DefaultSentinel
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model": req.Model,
			"choices": []map[string]interface{}{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": content}},
			},
			"usage": map[string]int{"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTranslateCommand_EndToEnd(t *testing.T) {
	srv := fakeEndpoint(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "workmd")
	out := filepath.Join(dir, "outputmd")
	dbPath := filepath.Join(dir, "data", "mdtran.db")

	require.NoError(t, os.MkdirAll(in, 0755))
	for _, name := range []string{"a.md", "b.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(in, name), []byte("# "+name+"\n"), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(in, "notes.txt"), []byte("skip"), 0644))

	rootCmd.SetArgs([]string{
		"translate",
		"--env-file", "",
		"--log-level", "error",
		"-i", in,
		"-o", out,
		"--api-keys", "sk-1,sk-2",
		"--base-url", srv.URL + "/v1",
		"--backoff-base", "1ms",
		"--backoff-max", "1ms",
		"--db", dbPath,
	})
	require.NoError(t, rootCmd.Execute())

	for _, name := range []string{"a.md", "b.md"} {
		got, err := os.ReadFile(filepath.Join(out, "translated_"+name))
		require.NoError(t, err)
		assert.Equal(t, "第一部分。第二部分。"+prompt.DefaultSentinel, string(got))
	}
	_, err := os.Stat(filepath.Join(out, "translated_notes.txt"))
	assert.True(t, os.IsNotExist(err))

	db, err := store.New(dbPath)
	require.NoError(t, err)
	defer db.Close()

	runs, err := db.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, 2, runs[0].JobsSucceeded)
	assert.Equal(t, int64(4), runs[0].Calls)
	assert.Equal(t, 2, runs[0].Concurrency)

	jobs, err := db.ListJobs(context.Background(), runs[0].ID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.Equal(t, 2, j.Turns)
		assert.True(t, strings.HasSuffix(j.Destination, "translated_"+j.JobID))
	}
}
