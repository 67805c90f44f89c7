package cli

import (
	"context"
	"io"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ChuLiYu/schedctl/internal/metrics"
	"github.com/ChuLiYu/schedctl/internal/tui"
)

func buildConsoleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Open the interactive console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			confirmer := tui.NewPromptConfirmer()
			// stderr 會破壞全螢幕畫面
			opts := runOptions{confirmer: confirmer, logOut: io.Discard}

			return withRuntime(cmd, opts, func(ctx context.Context, cfg *Config, rt *runtime) error {
				return runConsole(ctx, cfg, rt, confirmer)
			})
		},
	}
}

// runConsole 啟動 metrics 伺服器（若啟用）並執行 TUI 直到使用者離開
func runConsole(ctx context.Context, cfg *Config, rt *runtime, confirmer *tui.PromptConfirmer) error {
	if cfg.Metrics.Enabled {
		slog.Info("starting metrics server", "port", cfg.Metrics.Port)
		srv := metrics.StartServer(cfg.Metrics.Port, func(err error) {
			slog.Error("metrics server error", "error", err)
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	app := tui.NewApp(tui.Deps{
		Session:    rt.session,
		Dispatcher: rt.dispatcher,
		Jobs:       rt.jobs,
		Logs:       rt.logs,
		Confirmer:  confirmer,
	})
	defer app.Close()

	_, err := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
