package main

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-companion/pkg/domain"
	"github.com/polisai/polis-companion/pkg/storage"
)

func mockUpstream(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"role": "assistant", "content": reply}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, baseURL, dbPath string) string {
	t.Helper()
	t.Setenv("COMPANION_TEST_API_KEY", "sk-test")

	path := filepath.Join(t.TempDir(), "companion.yaml")
	content := `
provider:
  base_url: ` + baseURL + `/v1
  api_key: ${COMPANION_TEST_API_KEY}
storage:
  driver: sqlite
  path: ` + dbPath + `
logging:
  level: error
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "log-level", "pretty"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "flag %s", name)
	}
	assert.Equal(t, "c", cmd.PersistentFlags().Lookup("config").Shorthand)
	assert.Equal(t, "l", cmd.PersistentFlags().Lookup("log-level").Shorthand)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"serve", "ask", "history"})
}

func TestAskPrintsReply(t *testing.T) {
	upstream := mockUpstream(t, "Enable MFA everywhere.")
	cfgPath := writeConfig(t, upstream.URL, filepath.Join(t.TempDir(), "c.db"))

	out, err := run(t, context.Background(), "ask", "--config", cfgPath, "How", "do", "I", "stay", "safe?")
	require.NoError(t, err)
	assert.Equal(t, "Enable MFA everywhere.\n", out)
}

func TestAskFiltersReply(t *testing.T) {
	upstream := mockUpstream(t, "Here is an exploit chain.")
	cfgPath := writeConfig(t, upstream.URL, filepath.Join(t.TempDir(), "c.db"))

	out, err := run(t, context.Background(), "ask", "-c", cfgPath, "tell me")
	require.NoError(t, err)
	assert.Contains(t, out, "I apologize, but I cannot provide specific information")
}

func TestAskRejectsTooLongMessage(t *testing.T) {
	upstream := mockUpstream(t, "unused")
	cfgPath := writeConfig(t, upstream.URL, filepath.Join(t.TempDir(), "c.db"))

	_, err := run(t, context.Background(), "ask", "-c", cfgPath, strings.Repeat("a", 2001))
	require.Error(t, err)
}

func TestHistoryPrintsMessages(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "c.db")
	store, err := storage.NewSQLiteConversationStore(dbPath, nil)
	require.NoError(t, err)
	id, err := store.AppendExchange(context.Background(), 0, "hello", "hi there")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	cfgPath := writeConfig(t, "http://127.0.0.1:1", dbPath)

	out, err := run(t, context.Background(), "history", "-c", cfgPath, "--conversation", "1")
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	var msgs []domain.Message
	require.NoError(t, json.Unmarshal([]byte(out), &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi there", msgs[1].Content)

	_, err = run(t, context.Background(), "history", "-c", cfgPath, "--conversation", "9")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	upstream := mockUpstream(t, "ok")
	cfgPath := writeConfig(t, upstream.URL, filepath.Join(t.TempDir(), "c.db"))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := run(t, ctx, "serve", "-c", cfgPath, "--addr", "127.0.0.1:0")
	require.NoError(t, err)
}
