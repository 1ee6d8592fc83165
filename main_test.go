package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zendesk-prioritizer/pkg/prioritizer"
	"zendesk-prioritizer/ticketlist"
)

var commentedAt = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// fakeZendesk serves one agent, two views and two tickets in view 7.
func fakeZendesk(t *testing.T) *httptest.Server {
	t.Helper()
	write := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id int64
		switch {
		case r.URL.Path == "/api/v2/users/me.json":
			write(w, map[string]any{"user": prioritizer.User{ID: 123, Name: "Agent"}})
		case r.URL.Path == "/api/v2/views.json":
			write(w, map[string]any{"views": []prioritizer.View{{ID: 7, Title: "Mine"}, {ID: 8, Title: "Team"}}})
		case r.URL.Path == "/api/v2/views/7/tickets.json":
			write(w, map[string]any{"tickets": []prioritizer.Ticket{
				{ID: 1, Subject: "Printer on fire", Priority: "urgent", RequesterID: 50},
				{ID: 2, Subject: "Password reset", RequesterID: 51},
			}})
		case scan(r.URL.Path, "/api/v2/tickets/%d/audits.json", &id):
			write(w, map[string]any{"count": 1, "audits": []prioritizer.Audit{{
				CreatedAt: commentedAt,
				Events:    []*prioritizer.Event{{Type: "Comment", Body: fmt.Sprintf("comment on %d", id), AuthorID: 50, Public: true}},
			}}})
		case scan(r.URL.Path, "/api/v2/users/%d.json", &id):
			write(w, map[string]any{"user": prioritizer.User{ID: id, Name: fmt.Sprintf("user-%d", id)}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func scan(path, format string, id *int64) bool {
	n, err := fmt.Sscanf(path, format, id)
	return err == nil && n == 1
}

// isolate runs the CLI against a fresh home and storage directory.
func isolate(t *testing.T, zendeskURL string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	t.Setenv("ZDP_STORAGE_PATH", filepath.Join(dir, "data"))
	t.Setenv("ZDP_LOG_LEVEL", "error")
	t.Setenv("ZDP_LAUNCH_MODE", "log")
	t.Setenv("ZDP_NOTIFY_PROVIDER", "log")
	t.Setenv("ZDP_ZENDESK_BASE_URL", zendeskURL)
	return dir
}

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestConfigInit(t *testing.T) {
	dir := isolate(t, "")

	stdout, _, err := executeCLI(t, "config", "init")
	require.NoError(t, err)
	path := filepath.Join(dir, ".zendesk-prioritizer", "config.toml")
	assert.Equal(t, path, strings.TrimSpace(stdout))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[storage]")

	_, _, err = executeCLI(t, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestSettingsSetAndGet(t *testing.T) {
	isolate(t, "")

	_, _, err := executeCLI(t, "settings", "set", "--domain", "acme", "--view-id", "7", "--user-id", "9", "--notify", "1,2", "--poll-interval", "10")
	require.NoError(t, err)

	stdout, _, err := executeCLI(t, "settings", "get")
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, "acme", got["zendeskDomain"])
	assert.Equal(t, float64(7), got["viewID"])
	assert.Equal(t, float64(9), got["userID"])
	assert.Equal(t, []any{float64(1), float64(2)}, got["notifyViewIds"])
	assert.Equal(t, float64(10), got["pollInterval"])

	// Unset flags keep their stored value.
	_, _, err = executeCLI(t, "settings", "set", "--poll-interval", "0")
	require.NoError(t, err)
	stdout, _, err = executeCLI(t, "settings", "get")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"zendeskDomain": "acme"`)
	assert.Contains(t, stdout, `"pollInterval": 5`, "zero falls back to the default interval")

	_, _, err = executeCLI(t, "settings", "set", "--notify", "1,2,3,4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at most 3 notify views")
}

func TestRefreshRequiresSettings(t *testing.T) {
	isolate(t, "")

	_, _, err := executeCLI(t, "refresh")
	require.Error(t, err)
	assert.Equal(t, "No domain specified", err.Error())
}

func TestRefreshPrintsPrioritizedList(t *testing.T) {
	srv := fakeZendesk(t)
	isolate(t, srv.URL)
	_, _, err := executeCLI(t, "settings", "set", "--domain", "acme", "--view-id", "7", "--user-id", "123")
	require.NoError(t, err)

	_, _, err = executeCLI(t, "star", "2")
	require.NoError(t, err)

	stdout, _, err := executeCLI(t, "refresh", "--json")
	require.NoError(t, err)
	var list ticketlist.List
	require.NoError(t, json.Unmarshal([]byte(stdout), &list))
	require.Len(t, list.Rows, 2)
	assert.Equal(t, int64(2), list.Rows[0].ID, "starred first")
	assert.True(t, list.Rows[0].Starred)
	assert.Equal(t, "user-51", list.Rows[0].Requester)
	assert.True(t, strings.HasPrefix(list.Rows[1].Comment, "comment on 1 ["))

	stdout, _, err = executeCLI(t, "refresh")
	require.NoError(t, err)
	assert.Contains(t, stdout, "#1")
	assert.Contains(t, stdout, "Printer on fire")
}

func TestRefreshReportsZendeskErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	isolate(t, srv.URL)
	_, _, err := executeCLI(t, "settings", "set", "--domain", "acme", "--view-id", "7", "--user-id", "123")
	require.NoError(t, err)

	_, _, err = executeCLI(t, "refresh")
	require.Error(t, err)
	assert.Equal(t, "401: Not Authorized. Please log in to Zendesk", err.Error())
}

func TestStarToggles(t *testing.T) {
	isolate(t, "")

	stdout, _, err := executeCLI(t, "star", "42")
	require.NoError(t, err)
	assert.Equal(t, "42 starred\n", stdout)

	stdout, _, err = executeCLI(t, "star", "42")
	require.NoError(t, err)
	assert.Equal(t, "42 unstarred\n", stdout)

	_, _, err = executeCLI(t, "star", "nope")
	require.Error(t, err)
}

func TestOpenPrintsAgentURL(t *testing.T) {
	isolate(t, "")
	_, _, err := executeCLI(t, "settings", "set", "--domain", "acme")
	require.NoError(t, err)

	stdout, _, err := executeCLI(t, "open", "42")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.zendesk.com/agent/tickets/42\n", stdout)

	stdout, _, err = executeCLI(t, "open", "--view", "7")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.zendesk.com/agent/filters/7\n", stdout)
}

func TestWhoamiSave(t *testing.T) {
	srv := fakeZendesk(t)
	isolate(t, srv.URL)

	stdout, _, err := executeCLI(t, "whoami", "--domain", "acme", "--save")
	require.NoError(t, err)
	assert.Equal(t, "123\tAgent\n", stdout)

	stdout, _, err = executeCLI(t, "settings", "get")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"userID": 123`)
	assert.Contains(t, stdout, `"zendeskDomain": "acme"`)
}

func TestViewsHonorFilter(t *testing.T) {
	srv := fakeZendesk(t)
	isolate(t, srv.URL)
	_, _, err := executeCLI(t, "settings", "set", "--domain", "acme", "--view-id", "7", "--filter", "7")
	require.NoError(t, err)

	stdout, _, err := executeCLI(t, "views")
	require.NoError(t, err)
	assert.Equal(t, "* 7\tMine\n", stdout)

	stdout, _, err = executeCLI(t, "views", "--all")
	require.NoError(t, err)
	assert.Equal(t, "7\tMine\n8\tTeam\n", stdout)
}

func TestPollAndTestNotification(t *testing.T) {
	srv := fakeZendesk(t)
	isolate(t, srv.URL)
	_, _, err := executeCLI(t, "settings", "set", "--domain", "acme", "--notify", "7")
	require.NoError(t, err)

	_, _, err = executeCLI(t, "poll")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join("data", "notifySeen.json"))
	require.NoError(t, err, "the first pass records what it saw")

	_, _, err = executeCLI(t, "test-notification")
	require.NoError(t, err)
}

func TestInvalidConfig(t *testing.T) {
	isolate(t, "")
	t.Setenv("ZDP_STORAGE_BACKEND", "floppy")

	_, _, err := executeCLI(t, "settings", "get")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
}

func TestStateKeysAndReset(t *testing.T) {
	isolate(t, "")
	_, _, err := executeCLI(t, "settings", "set", "--domain", "acme")
	require.NoError(t, err)
	_, _, err = executeCLI(t, "star", "42")
	require.NoError(t, err)

	stdout, _, err := executeCLI(t, "state", "keys")
	require.NoError(t, err)
	assert.Equal(t, "settings\nstarred\n", stdout)

	stdout, _, err = executeCLI(t, "state", "reset", "starred")
	require.NoError(t, err)
	assert.Equal(t, "deleted starred\n", stdout)

	stdout, _, err = executeCLI(t, "star", "42")
	require.NoError(t, err)
	assert.Equal(t, "42 starred\n", stdout, "stars start over after a reset")

	_, _, err = executeCLI(t, "state", "reset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--all")

	_, _, err = executeCLI(t, "state", "reset", "--all")
	require.NoError(t, err)
	stdout, _, err = executeCLI(t, "--json", "state", "keys")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", stdout)

	stdout, _, err = executeCLI(t, "open", "1")
	require.Error(t, err, "the domain went with the settings")
	assert.Empty(t, stdout)
}
