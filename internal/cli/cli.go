// ============================================================================
// schedctl CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for the scheduler admin console
//
// Command Structure:
//   schedctl                       # Root command
//   ├── login                      # Sign in, persist the token
//   │   ├── --id                   # User id (prompted when omitted)
//   │   └── --password, -p         # Password (prompted when omitted)
//   ├── logout                     # Forget the persisted token
//   ├── whoami                     # Show the signed-in user
//   ├── status                     # Config + session report
//   ├── jobs
//   │   ├── list                   # --output table|json|yaml
//   │   ├── create                 # --project --name --cron --url ...
//   │   ├── start  <id>...         # Resume jobs
//   │   ├── pause  <id>...         # Pause jobs
//   │   ├── run    <id>...         # Trigger jobs now
//   │   └── delete <id>... [--yes] # Delete jobs after confirmation
//   ├── logs                       # --page --limit --status --job --from --to
//   ├── console                    # Interactive terminal console
//   ├── --config, -c               # Config file (default: configs/default.yaml)
//   └── --version
//
// Configuration Management:
//   YAML file merged over built-in defaults, then environment overrides:
//   - SCHEDCTL_API_URL      -> api.base_url
//   - SCHEDCTL_TOKEN_STORE  -> session.store (file / redis / memory)
//   - SCHEDCTL_LOG_LEVEL    -> log.level
//   A missing default config file is not an error; a missing file given
//   with --config is.
//
// Job Commands:
//   start / pause / run / delete accept several ids. Each id becomes one
//   worker task and runs through the dispatcher, so a job that already has
//   a command in flight is rejected rather than queued. Results are printed
//   in argument order. delete asks "[y/N]" per job unless --yes is given.
//
//   Examples:
//     ./schedctl jobs pause 3 4 5
//     ./schedctl jobs delete 7 --yes
//
// logs Command:
//   Builds a filter, fetches once, and prints the page. A page past the end
//   is corrected to the last page by the query controller.
//   --from / --to accept "2006-01-02" or "2006-01-02 15:04" (UTC). A bare
//   date means 00:00 for --from and 23:59 for --to.
//
//   Examples:
//     ./schedctl logs --status error --job 3
//     ./schedctl logs --from 2024-01-03 --to "2024-01-05 12:00" --page 2
//
// console Command:
//   Full-screen console. Logs go to log.file (discarded when unset). When
//   metrics are enabled a Prometheus endpoint is served on metrics.port.
//
// Signal Handling:
//   SIGINT and SIGTERM cancel the command context; in-flight requests are
//   abandoned and the console exits.
//
// ============================================================================

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ChuLiYu/schedctl/internal/api"
	"github.com/ChuLiYu/schedctl/internal/dispatch"
	"github.com/ChuLiYu/schedctl/internal/query"
	"github.com/ChuLiYu/schedctl/internal/session"
	"github.com/ChuLiYu/schedctl/internal/worker"
	"github.com/ChuLiYu/schedctl/pkg/types"
)

var configFile string

// BuildCLI 建立根命令
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "schedctl",
		Short: "Admin console for the cron job scheduler",
		Long: `schedctl manages jobs on a cron job scheduler server.
It signs in once, keeps the session token, and lets you list, create,
start, pause, trigger and delete jobs, and browse their execution logs.`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", DefaultConfigPath, "config file path")

	rootCmd.AddCommand(buildLoginCommand())
	rootCmd.AddCommand(buildLogoutCommand())
	rootCmd.AddCommand(buildWhoamiCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildJobsCommand())
	rootCmd.AddCommand(buildLogsCommand())
	rootCmd.AddCommand(buildConsoleCommand())

	return rootCmd
}

// ============================================================================
// 執行環境
// ============================================================================

// runOptions 每個命令對執行環境的需求
type runOptions struct {
	confirmer dispatch.Confirmer
	logOut    io.Writer // 未設定時寫到 stderr
}

// withRuntime 載入設定、安裝 logging/tracing、組裝元件後執行 fn
func withRuntime(cmd *cobra.Command, opts runOptions, fn func(ctx context.Context, cfg *Config, rt *runtime) error) error {
	cfg, err := loadConfig(configFile, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}

	logOut := opts.logOut
	if logOut == nil {
		logOut = cmd.ErrOrStderr()
	}
	closeLog, err := setupLogging(cfg, logOut)
	if err != nil {
		return err
	}
	defer closeLog()

	closeTracing, err := setupTracing(cfg, logOut)
	if err != nil {
		return err
	}
	defer closeTracing()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, opts.confirmer)
	if err != nil {
		return err
	}
	defer rt.Close()

	return fn(ctx, cfg, rt)
}

// ============================================================================
// session 命令
// ============================================================================

func buildLoginCommand() *cobra.Command {
	var id, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, runOptions{}, func(ctx context.Context, _ *Config, rt *runtime) error {
				stdin := cmd.InOrStdin()
				in := bufio.NewReader(stdin)
				out := cmd.OutOrStdout()

				var err error
				if id == "" {
					if id, err = prompt(out, in, "User ID: "); err != nil {
						return err
					}
				}
				if password == "" {
					if password, err = promptPassword(out, stdin, in, "Password: "); err != nil {
						return err
					}
				}
				if id == "" || password == "" {
					return errors.New("id and password are required")
				}

				res := rt.session.Login(ctx, id, password)
				if !res.OK {
					return errors.New(res.Error)
				}
				identity, _ := rt.session.Identity()
				fmt.Fprintf(out, "Logged in as %s (%s)\n", identity.Name, identity.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "user id")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when omitted)")
	return cmd
}

func buildLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, runOptions{}, func(_ context.Context, _ *Config, rt *runtime) error {
				rt.session.Logout()
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
				return nil
			})
		},
	}
}

func buildWhoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, runOptions{}, func(ctx context.Context, _ *Config, rt *runtime) error {
				if err := rt.requireLogin(ctx); err != nil {
					return err
				}
				identity, _ := rt.session.Identity()
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", identity.Name, identity.ID)
				return nil
			})
		},
	}
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, runOptions{}, func(ctx context.Context, cfg *Config, rt *runtime) error {
				return showStatus(ctx, cmd.OutOrStdout(), cfg, rt)
			})
		},
	}
}

// showStatus 顯示設定與 session 狀態
func showStatus(ctx context.Context, w io.Writer, cfg *Config, rt *runtime) error {
	fmt.Fprintln(w, "schedctl status")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  ├─ Config File:    %s\n", configFile)
	fmt.Fprintf(w, "  ├─ API:            %s\n", cfg.API.BaseURL)
	fmt.Fprintf(w, "  ├─ Timeout:        %s\n", cfg.API.Timeout)
	switch cfg.Session.Store {
	case StoreRedis:
		fmt.Fprintf(w, "  ├─ Token Store:    redis %s key=%s\n", cfg.Session.Redis.Addr, cfg.Session.Redis.Key)
	case StoreFile:
		fmt.Fprintf(w, "  ├─ Token Store:    file %s\n", cfg.Session.File)
	default:
		fmt.Fprintf(w, "  ├─ Token Store:    %s\n", cfg.Session.Store)
	}
	fmt.Fprintf(w, "  └─ Logs Per Page:  %d\n", cfg.Logs.PageSize)
	fmt.Fprintln(w, "")

	fmt.Fprintln(w, "Session:")
	status := rt.session.Resolve(ctx)
	if status != session.StatusLoggedIn {
		fmt.Fprintf(w, "  └─ Status: %s\n", status)
	} else {
		identity, _ := rt.session.Identity()
		fmt.Fprintf(w, "  ├─ Status: %s\n", status)
		fmt.Fprintf(w, "  ├─ User:   %s (%s)\n", identity.Name, identity.ID)

		rt.jobs.Refresh()
		rt.jobs.Wait()
		view := rt.jobs.View()
		if view.Error != "" {
			fmt.Fprintf(w, "  └─ Jobs:   %s\n", view.Error)
		} else {
			paused := 0
			for _, j := range view.Jobs {
				if j.Status == types.JobPaused {
					paused++
				}
			}
			fmt.Fprintf(w, "  └─ Jobs:   %d (%d paused)\n", len(view.Jobs), paused)
		}
	}
	fmt.Fprintln(w, "")

	fmt.Fprintln(w, "Metrics:")
	if cfg.Metrics.Enabled {
		fmt.Fprintf(w, "  └─ Status: enabled on http://localhost:%d/metrics (console only)\n", cfg.Metrics.Port)
	} else {
		fmt.Fprintln(w, "  └─ Status: disabled")
	}
	return nil
}

// ============================================================================
// jobs 命令
// ============================================================================

func buildJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List, create and control jobs",
	}

	cmd.AddCommand(buildJobsListCommand())
	cmd.AddCommand(buildJobsCreateCommand())
	for _, c := range dispatch.Commands {
		cmd.AddCommand(buildJobActionCommand(c))
	}
	return cmd
}

func buildJobsListCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := parseFormat(output)
			if err != nil {
				return err
			}
			return withRuntime(cmd, runOptions{}, func(ctx context.Context, _ *Config, rt *runtime) error {
				if err := rt.requireLogin(ctx); err != nil {
					return err
				}
				rt.jobs.Refresh()
				rt.jobs.Wait()
				view := rt.jobs.View()
				if view.Error != "" {
					return errors.New(view.Error)
				}
				return printJobs(cmd.OutOrStdout(), view.Jobs, format)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}

func buildJobsCreateCommand() *cobra.Command {
	var req types.CreateJobRequest
	var method string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.Method = types.HTTPMethod(strings.ToUpper(method))
			if err := req.Validate(); err != nil {
				return err
			}
			return withRuntime(cmd, runOptions{}, func(ctx context.Context, _ *Config, rt *runtime) error {
				if err := rt.requireLogin(ctx); err != nil {
					return err
				}
				job, err := rt.client.CreateJob(ctx, req)
				if err != nil {
					return errors.New(api.Message(err, "failed to create job"))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created job #%d %s\n", job.ID, job.Name)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.Project, "project", "", "project name")
	cmd.Flags().StringVar(&req.Name, "name", "", "job name")
	cmd.Flags().StringVar(&req.Description, "description", "", "description")
	cmd.Flags().StringVar(&req.Cron, "cron", "", "cron expression, e.g. \"*/5 * * * *\"")
	cmd.Flags().StringVar(&req.URL, "url", "", "target URL")
	cmd.Flags().StringVar(&method, "method", string(types.MethodGet), "HTTP method")
	cmd.Flags().StringVar(&req.SecretHeader, "secret", "", "value sent in the x-secret header")
	return cmd
}

// buildJobActionCommand 建立 start / pause / run / delete 子命令
func buildJobActionCommand(command dispatch.Command) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   string(command) + " <id>...",
		Short: actionShort(command),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks := make([]worker.Task, 0, len(args))
			for _, arg := range args {
				id, err := types.ParseJobID(arg)
				if err != nil {
					return err
				}
				tasks = append(tasks, worker.Task{JobID: id, Command: command})
			}

			opts := runOptions{}
			if command == dispatch.CommandDelete {
				opts.confirmer = newConfirmer(cmd.InOrStdin(), cmd.OutOrStdout(), yes)
			}

			return withRuntime(cmd, opts, func(ctx context.Context, cfg *Config, rt *runtime) error {
				if err := rt.requireLogin(ctx); err != nil {
					return err
				}
				results := worker.RunAll(worker.DispatchHandler(rt.dispatcher), cfg.Worker.WorkerCount, tasks)
				return reportResults(cmd.OutOrStdout(), results)
			})
		},
	}

	if command == dispatch.CommandDelete {
		cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	}
	return cmd
}

func actionShort(c dispatch.Command) string {
	switch c {
	case dispatch.CommandStart:
		return "Resume paused jobs"
	case dispatch.CommandPause:
		return "Pause jobs"
	case dispatch.CommandRun:
		return "Trigger jobs immediately"
	case dispatch.CommandDelete:
		return "Delete jobs"
	}
	return string(c)
}

// reportResults 依參數順序輸出；任何失敗時返回錯誤
func reportResults(w io.Writer, results []worker.Result) error {
	failed := 0
	for _, r := range results {
		if r.Outcome.OK {
			fmt.Fprintf(w, "%s job #%d: done\n", r.Command, r.JobID)
			continue
		}
		failed++
		fmt.Fprintf(w, "%s job #%d: %s\n", r.Command, r.JobID, r.Outcome.Error)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d commands failed", failed, len(results))
	}
	return nil
}

// newConfirmer 以 [y/N] 提示確認刪除；多個 worker 同時詢問時依序提示
func newConfirmer(in io.Reader, out io.Writer, yes bool) dispatch.Confirmer {
	if yes {
		return dispatch.ConfirmFunc(func(context.Context, types.JobID, dispatch.Command) bool { return true })
	}
	var mu sync.Mutex
	reader := bufio.NewReader(in)
	return dispatch.ConfirmFunc(func(ctx context.Context, id types.JobID, _ dispatch.Command) bool {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return false
		}
		answer, err := prompt(out, reader, fmt.Sprintf("Delete job #%d? [y/N] ", id))
		if err != nil {
			return false
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
			return true
		}
		return false
	})
}

// ============================================================================
// logs 命令
// ============================================================================

// logsFlags logs 命令的過濾條件
type logsFlags struct {
	page   int
	limit  int
	status string
	job    int64
	from   string
	to     string
	output string
}

func buildLogsCommand() *cobra.Command {
	var flags logsFlags

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Browse job execution logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := parseFormat(flags.output)
			if err != nil {
				return err
			}
			status, err := query.ParseStatusFilter(flags.status)
			if err != nil {
				return err
			}
			from, err := parseDateTime(flags.from, 0, 0)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			to, err := parseDateTime(flags.to, 23, 59)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			return withRuntime(cmd, runOptions{}, func(ctx context.Context, _ *Config, rt *runtime) error {
				// session 尚未解析，以下設定不會觸發查詢
				c := rt.logs
				if flags.limit > 0 {
					c.SetLimit(flags.limit)
				}
				c.SetStatusFilter(status)
				c.SetJobFilter(types.JobID(flags.job))
				if !from.IsZero() {
					c.SetFromDate(from)
					c.SetFromTime(from.Hour(), from.Minute())
				}
				if !to.IsZero() {
					c.SetToDate(to)
					c.SetToTime(to.Hour(), to.Minute())
				}
				c.SetPage(flags.page)

				if err := rt.requireLogin(ctx); err != nil {
					return err
				}
				c.Refresh()
				c.Wait()

				view := c.View()
				if view.Error != "" {
					return errors.New(view.Error)
				}
				return printLogs(cmd.OutOrStdout(), view, format)
			})
		},
	}

	cmd.Flags().IntVar(&flags.page, "page", 1, "page number")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "logs per page (default from config)")
	cmd.Flags().StringVar(&flags.status, "status", "all", "all, success or error")
	cmd.Flags().Int64Var(&flags.job, "job", 0, "only logs of this job id")
	cmd.Flags().StringVar(&flags.from, "from", "", "start, \"2006-01-02\" or \"2006-01-02 15:04\" (UTC)")
	cmd.Flags().StringVar(&flags.to, "to", "", "end, \"2006-01-02\" or \"2006-01-02 15:04\" (UTC)")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}

// parseDateTime 解析 "2006-01-02" 或 "2006-01-02 15:04"；只有日期時使用指定的時與分
func parseDateTime(s string, hour, minute int) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	datePart, clockPart, hasClock := strings.Cut(s, " ")
	date, err := query.ParseDate(datePart)
	if err != nil {
		return time.Time{}, err
	}
	if hasClock {
		if hour, minute, err = query.ParseClock(clockPart); err != nil {
			return time.Time{}, err
		}
	}
	return query.WithClock(date, hour, minute), nil
}

// ============================================================================
// 輔助函式
// ============================================================================

// prompt 輸出提示並讀取一行
func prompt(w io.Writer, r *bufio.Reader, label string) (string, error) {
	fmt.Fprint(w, label)
	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// promptPassword 終端機輸入時不回顯，其他輸入（管線、測試）退回 prompt
func promptPassword(w io.Writer, stdin io.Reader, r *bufio.Reader, label string) (string, error) {
	f, ok := stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return prompt(w, r, label)
	}

	fmt.Fprint(w, label)
	secret, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}
