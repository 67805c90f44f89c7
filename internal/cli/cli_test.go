package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/schedctl/internal/query"
	"github.com/ChuLiYu/schedctl/internal/schedtest"
	"github.com/ChuLiYu/schedctl/internal/session"
	"github.com/ChuLiYu/schedctl/pkg/types"
)

// ============================================================================
// 測試輔助
// ============================================================================

type cliHarness struct {
	fake      *schedtest.Server
	config    string
	tokenFile string
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	for _, key := range []string{EnvAPIURL, EnvTokenStore, EnvLogLevel} {
		t.Setenv(key, "")
	}

	fake, ts := schedtest.NewTestServer()
	t.Cleanup(ts.Close)
	fake.AddUser("alice", "secret", "Alice")

	dir := t.TempDir()
	h := &cliHarness{
		fake:      fake,
		config:    filepath.Join(dir, "schedctl.yaml"),
		tokenFile: filepath.Join(dir, "token.json"),
	}
	content := fmt.Sprintf(`
api:
  base_url: %s
  timeout: 5s
session:
  store: file
  file: %s
logs:
  page_size: 2
log:
  level: error
`, ts.URL, h.tokenFile)
	require.NoError(t, os.WriteFile(h.config, []byte(content), 0o644))
	return h
}

// run 執行一次命令並返回 stdout
func (h *cliHarness) run(stdin string, args ...string) (string, error) {
	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", h.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (h *cliHarness) login(t *testing.T) {
	t.Helper()
	_, err := h.run("", "login", "--id", "alice", "--password", "secret")
	require.NoError(t, err)
}

func (h *cliHarness) addJob(name string) types.Job {
	return h.fake.AddJob(types.CreateJobRequest{
		Project: "ops", Name: name, Cron: "*/5 * * * *",
		URL: "https://example.com/" + name, Method: types.MethodGet,
	})
}

// ============================================================================
// 命令結構
// ============================================================================

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "schedctl", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	// 檢查子命令
	commandNames := make(map[string]bool)
	for _, c := range cmd.Commands() {
		commandNames[c.Name()] = true
	}
	for _, name := range []string{"login", "logout", "whoami", "status", "jobs", "logs", "console"} {
		assert.True(t, commandNames[name], "missing %q command", name)
	}

	// 檢查持久化標誌
	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag, "Should have --config flag")
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue)
}

func TestBuildJobsCommand(t *testing.T) {
	cmd := buildJobsCommand()

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
		assert.NotNil(t, c.RunE, "%s should have RunE", c.Name())

		// 只有 delete 可以跳過確認
		if c.Name() == "delete" {
			assert.NotNil(t, c.Flags().Lookup("yes"))
		} else {
			assert.Nil(t, c.Flags().Lookup("yes"), "%s should not take --yes", c.Name())
		}
	}
	for _, name := range []string{"list", "create", "start", "pause", "run", "delete"} {
		assert.True(t, names[name], "missing jobs %q", name)
	}
}

func TestBuildLogsCommand(t *testing.T) {
	cmd := buildLogsCommand()

	for _, flag := range []string{"page", "limit", "status", "job", "from", "to", "output"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "missing --%s", flag)
	}
	assert.Equal(t, "1", cmd.Flags().Lookup("page").DefValue)
	assert.Equal(t, "all", cmd.Flags().Lookup("status").DefValue)
}

// ============================================================================
// 設定檔
// ============================================================================

func TestLoadConfig_ValidYAML(t *testing.T) {
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvTokenStore, "")
	t.Setenv(EnvLogLevel, "")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
api:
  base_url: http://scheduler.internal:4000
  timeout: 3s
session:
  store: redis
  redis:
    addr: redis.internal:6379
    db: 2
    key: ops:token
logs:
  page_size: 50
  reset_page_on_filter_change: true
worker:
  worker_count: 8
metrics:
  enabled: true
  port: 9191
tracing:
  exporter: stdout
  file: /tmp/traces.json
log:
  level: debug
  file: /tmp/schedctl.log
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	cfg, err := loadConfig(configPath, true)
	require.NoError(t, err, "loadConfig should not return error")

	assert.Equal(t, "http://scheduler.internal:4000", cfg.API.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.API.Timeout)
	assert.Equal(t, StoreRedis, cfg.Session.Store)
	assert.Equal(t, "redis.internal:6379", cfg.Session.Redis.Addr)
	assert.Equal(t, 2, cfg.Session.Redis.DB)
	assert.Equal(t, "ops:token", cfg.Session.Redis.Key)
	assert.Equal(t, 50, cfg.Logs.PageSize)
	assert.True(t, cfg.Logs.ResetPageOnFilterChange)
	assert.Equal(t, 8, cfg.Worker.WorkerCount)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.Equal(t, "stdout", cfg.Tracing.Exporter)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/schedctl.log", cfg.Log.File)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	t.Setenv(EnvAPIURL, "")
	missing := filepath.Join(t.TempDir(), "nonexistent.yaml")

	// 明確指定的檔案不存在是錯誤
	cfg, err := loadConfig(missing, true)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")

	// 預設路徑不存在時使用內建預設
	cfg, err = loadConfig(missing, false)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4000", cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, query.DefaultLimit, cfg.Logs.PageSize)
	assert.False(t, cfg.Logs.ResetPageOnFilterChange)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")

	invalidContent := `
api:
  base_url: http://localhost:4000
  timeout: [invalid
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidContent), 0o644))

	cfg, err := loadConfig(configPath, true)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config YAML")
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvTokenStore, "")
	t.Setenv(EnvLogLevel, "")
	configPath := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(""), 0o644))

	cfg, err := loadConfig(configPath, true)
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
}

func TestLoadConfig_PartialConfig(t *testing.T) {
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvTokenStore, "")
	configPath := filepath.Join(t.TempDir(), "partial.yaml")

	partialContent := `
session:
  store: memory
`
	require.NoError(t, os.WriteFile(configPath, []byte(partialContent), 0o644))

	cfg, err := loadConfig(configPath, true)
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Session.Store)
	// 未設定的欄位保留預設
	assert.Equal(t, "http://localhost:4000", cfg.API.BaseURL)
	assert.Equal(t, session.DefaultRedisKey, cfg.Session.Redis.Key)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("api:\n  base_url: http://from-file:4000\n"), 0o644))

	t.Setenv(EnvAPIURL, "http://from-env:4000")
	t.Setenv(EnvTokenStore, "memory")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := loadConfig(configPath, true)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:4000", cfg.API.BaseURL)
	assert.Equal(t, StoreMemory, cfg.Session.Store)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_Rejects(t *testing.T) {
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvTokenStore, "")
	t.Setenv(EnvLogLevel, "")

	testCases := []struct {
		name    string
		content string
		errMsg  string
	}{
		{name: "unknown store", content: "session:\n  store: etcd\n", errMsg: "unknown session store"},
		{name: "bad level", content: "log:\n  level: loud\n", errMsg: "log level"},
		{name: "empty base url", content: "api:\n  base_url: \"\"\n", errMsg: "api.base_url"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(configPath, []byte(tc.content), 0o644))

			_, err := loadConfig(configPath, true)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

// ============================================================================
// session 命令
// ============================================================================

func TestLoginWhoamiLogout(t *testing.T) {
	h := newCLIHarness(t)

	out, err := h.run("", "login", "--id", "alice", "--password", "secret")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as Alice (alice)")
	assert.FileExists(t, h.tokenFile, "token persisted between invocations")

	out, err = h.run("", "whoami")
	require.NoError(t, err)
	assert.Equal(t, "Alice (alice)\n", out)

	out, err = h.run("", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out")

	_, err = h.run("", "whoami")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestLoginPromptsForMissingFields(t *testing.T) {
	h := newCLIHarness(t)

	out, err := h.run("alice\nsecret\n", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "User ID: ")
	assert.Contains(t, out, "Password: ")
	assert.Contains(t, out, "Logged in as Alice")
}

func TestPromptPasswordFallsBackWhenNotTerminal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stdin")
	require.NoError(t, os.WriteFile(path, []byte("hunter2\n"), 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out bytes.Buffer
	secret, err := promptPassword(&out, f, bufio.NewReader(f), "Password: ")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret)
	assert.Equal(t, "Password: ", out.String())
}

func TestLoginRejected(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run("", "login", "--id", "alice", "--password", "nope")
	require.Error(t, err)
	assert.Equal(t, "invalid credentials", err.Error())
	assert.NoFileExists(t, h.tokenFile)

	_, err = h.run("", "login", "--id", "alice")
	assert.EqualError(t, err, "id and password are required")
	assert.Equal(t, 1, h.fake.Calls(schedtest.RouteLogin), "empty password never reaches the server")
}

func TestRevokedTokenLogsOut(t *testing.T) {
	h := newCLIHarness(t)
	h.login(t)

	token, err := session.NewFileStore(h.tokenFile).Load(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, token)

	h.fake.RevokeToken(token)
	_, err = h.run("", "whoami")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.NoFileExists(t, h.tokenFile, "rejected token forgotten")
}

func TestShowStatus(t *testing.T) {
	h := newCLIHarness(t)

	out, err := h.run("", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "LOGGED_OUT")
	assert.Contains(t, out, "file "+h.tokenFile)
	assert.Zero(t, h.fake.Calls(schedtest.RouteMe), "no token, no lookup")

	h.addJob("ping")
	h.login(t)
	out, err = h.run("", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "LOGGED_IN")
	assert.Contains(t, out, "Alice (alice)")
	assert.Contains(t, out, "1 (0 paused)")
}

// ============================================================================
// jobs 命令
// ============================================================================

func TestJobsCreateAndList(t *testing.T) {
	h := newCLIHarness(t)
	h.login(t)

	out, err := h.run("", "jobs", "create",
		"--project", "ops", "--name", "nightly", "--cron", "0 3 * * *",
		"--url", "https://example.com/backup", "--method", "post")
	require.NoError(t, err)
	assert.Contains(t, out, "Created job #1 nightly")

	out, err = h.run("", "jobs", "list", "-o", "json")
	require.NoError(t, err)
	var jobs []types.Job
	require.NoError(t, json.Unmarshal([]byte(out), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, types.MethodPost, jobs[0].Method)
	assert.Equal(t, types.JobActive, jobs[0].Status)

	out, err = h.run("", "jobs", "list", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "name: nightly")
	assert.Contains(t, out, "method: POST")

	out, err = h.run("", "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "nightly")
}

func TestJobsCreateValidatesLocally(t *testing.T) {
	h := newCLIHarness(t)
	h.login(t)

	_, err := h.run("", "jobs", "create", "--project", "ops", "--name", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidJob)
	assert.Zero(t, h.fake.Calls(schedtest.RouteCreateJob))
}

func TestJobsCommandsRequireLogin(t *testing.T) {
	h := newCLIHarness(t)
	h.addJob("ping")

	_, err := h.run("", "jobs", "pause", "1")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	_, err = h.run("", "jobs", "list")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.Zero(t, h.fake.Calls(schedtest.RoutePauseJob))
}

func TestJobsPauseSeveral(t *testing.T) {
	h := newCLIHarness(t)
	first := h.addJob("a")
	second := h.addJob("b")
	h.login(t)

	out, err := h.run("", "jobs", "pause", "1", "2")
	require.NoError(t, err)
	assert.Equal(t, "pause job #1: done\npause job #2: done\n", out, "results follow argument order")

	for _, id := range []types.JobID{first.ID, second.ID} {
		job, _ := h.fake.Job(id)
		assert.Equal(t, types.JobPaused, job.Status)
	}

	out, err = h.run("", "jobs", "start", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "start job #1: done")
	job, _ := h.fake.Job(first.ID)
	assert.Equal(t, types.JobActive, job.Status)
}

func TestJobsRunReportsServerMessage(t *testing.T) {
	h := newCLIHarness(t)
	h.addJob("ping")
	h.login(t)

	h.fake.FailNext(schedtest.RouteRunJob, 500, "target unreachable")
	out, err := h.run("", "jobs", "run", "1")
	require.Error(t, err)
	assert.Contains(t, out, "run job #1: target unreachable")
	assert.Contains(t, err.Error(), "1 of 1 commands failed")
}

func TestJobsRejectsBadID(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run("", "jobs", "run", "abc")
	assert.EqualError(t, err, `invalid job id "abc"`)
}

func TestJobsDeleteConfirmation(t *testing.T) {
	h := newCLIHarness(t)
	job := h.addJob("cleanup")
	h.login(t)

	out, err := h.run("n\n", "jobs", "delete", "1")
	require.Error(t, err)
	assert.Contains(t, out, "Delete job #1? [y/N] ")
	_, exists := h.fake.Job(job.ID)
	assert.True(t, exists, "declined delete keeps the job")
	assert.Zero(t, h.fake.Calls(schedtest.RouteDeleteJob))

	out, err = h.run("y\n", "jobs", "delete", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "delete job #1: done")
	_, exists = h.fake.Job(job.ID)
	assert.False(t, exists)
}

func TestJobsDeleteYesSkipsPrompt(t *testing.T) {
	h := newCLIHarness(t)
	h.addJob("a")
	h.addJob("b")
	h.login(t)

	out, err := h.run("", "jobs", "delete", "--yes", "1", "2")
	require.NoError(t, err)
	assert.NotContains(t, out, "[y/N]")
	assert.Empty(t, h.fake.Jobs())
}

// ============================================================================
// logs 命令
// ============================================================================

func TestLogsFilters(t *testing.T) {
	h := newCLIHarness(t)
	job := h.addJob("ping")
	h.addJob("other")
	at := time.Date(2024, time.January, 4, 10, 0, 0, 0, time.UTC)
	h.fake.AddLog(job.ID, types.LogError, 502, "bad gateway", at)
	h.fake.AddLog(job.ID, types.LogSuccess, 200, "ok", at)
	h.fake.AddLog(2, types.LogError, 500, "boom", at)
	h.login(t)

	out, err := h.run("", "logs", "--status", "error", "--job", "1",
		"--from", "2024-01-03", "--to", "2024-01-05 12:00", "-o", "json")
	require.NoError(t, err)

	q := h.fake.LastQuery(schedtest.RouteListLogs)
	assert.Equal(t, "ERROR", q.Get("status"))
	assert.Equal(t, "1", q.Get("jobId"))
	assert.Equal(t, "2024-01-03T00:00:00.000Z", q.Get("from"))
	assert.Equal(t, "2024-01-05T12:00:00.000Z", q.Get("to"))
	assert.Equal(t, "2", q.Get("limit"), "page size from config")
	assert.Equal(t, 1, h.fake.Calls(schedtest.RouteListLogs), "filters applied before the single fetch")

	var doc struct {
		Items []types.Log `json:"items"`
		Total int         `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Len(t, doc.Items, 1)
	assert.Equal(t, "bad gateway", *doc.Items[0].Message)
}

func TestLogsPagePastEndIsCorrected(t *testing.T) {
	h := newCLIHarness(t)
	job := h.addJob("ping")
	for i := 0; i < 5; i++ {
		h.fake.AddLog(job.ID, types.LogSuccess, 200, "ok", time.Now())
	}
	h.login(t)

	out, err := h.run("", "logs", "--page", "9")
	require.NoError(t, err)
	assert.Contains(t, out, "page 3 of 3 (5 logs)")
	assert.Equal(t, 2, h.fake.Calls(schedtest.RouteListLogs), "one corrective fetch")
	assert.Equal(t, "3", h.fake.LastQuery(schedtest.RouteListLogs).Get("page"))
}

func TestLogsEmpty(t *testing.T) {
	h := newCLIHarness(t)
	h.login(t)

	out, err := h.run("", "logs", "--limit", "10")
	require.NoError(t, err)
	assert.Equal(t, "no data\n", out)
	assert.Equal(t, "10", h.fake.LastQuery(schedtest.RouteListLogs).Get("limit"))
}

func TestLogsRejectsBadFlags(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run("", "logs", "--status", "pending")
	assert.Error(t, err)
	_, err = h.run("", "logs", "--from", "01/03/2024")
	assert.ErrorContains(t, err, "--from")
	_, err = h.run("", "logs", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
	assert.Zero(t, h.fake.Calls(schedtest.RouteListLogs))
}

func TestParseDateTime(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		hour    int
		want    time.Time
		wantErr bool
	}{
		{name: "empty", input: ""},
		{name: "date uses default clock", input: "2024-03-01", hour: 23, want: time.Date(2024, time.March, 1, 23, 0, 0, 0, time.UTC)},
		{name: "date and time", input: "2024-03-01 08:15", want: time.Date(2024, time.March, 1, 8, 15, 0, 0, time.UTC)},
		{name: "bad date", input: "2024/03/01", wantErr: true},
		{name: "bad time", input: "2024-03-01 25:00", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseDateTime(tc.input, tc.hour, 0)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "got %s", got)
		})
	}
}
