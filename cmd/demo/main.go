package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChuLiYu/schedctl/internal/schedtest"
	"github.com/ChuLiYu/schedctl/pkg/types"
)

// 在本機啟動一個記憶體內的排程器，讓 schedctl 不需要真正的後端也能操作
//
//	go run ./cmd/demo            # 監聽 :4000
//	go run ./cmd/demo :5000
func main() {
	addr := ":4000"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	fake := schedtest.NewServer()
	seed(fake)

	srv := &http.Server{
		Addr:              addr,
		Handler:           fake.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Demo server failed: %v", err)
		}
	}()

	fmt.Printf("✓ Demo scheduler listening on %s\n", addr)
	fmt.Printf("  Users:  admin/admin, viewer/viewer\n")
	fmt.Printf("  Jobs:   %d\n", len(fake.Jobs()))
	fmt.Printf("  Logs:   %d\n", fake.LogCount())
	fmt.Printf("\n  SCHEDCTL_API_URL=http://localhost%s schedctl console\n", addr)
	fmt.Printf("\nPress Ctrl+C to stop\n")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

// seed 建立示範帳號、任務與數天份的執行紀錄
func seed(fake *schedtest.Server) {
	fake.AddUser("admin", "admin", "Administrator")
	fake.AddUser("viewer", "viewer", "Read Only")

	jobs := []types.CreateJobRequest{
		{Project: "billing", Name: "invoice-sync", Cron: "*/15 * * * *", URL: "https://billing.example.com/sync", Method: types.MethodPost},
		{Project: "ops", Name: "healthcheck", Cron: "* * * * *", URL: "https://status.example.com/ping", Method: types.MethodGet},
		{Project: "ops", Name: "nightly-backup", Cron: "0 3 * * *", URL: "https://backup.example.com/run", Method: types.MethodPut, Description: "full database snapshot"},
		{Project: "marketing", Name: "digest-mail", Cron: "0 9 * * 1", URL: "https://mail.example.com/digest", Method: types.MethodPost},
	}
	created := make([]types.Job, 0, len(jobs))
	for _, req := range jobs {
		created = append(created, fake.AddJob(req))
	}

	now := time.Now().UTC().Truncate(time.Minute)
	for i := 0; i < 90; i++ {
		job := created[i%len(created)]
		at := now.Add(-time.Duration(i) * 47 * time.Minute)
		switch {
		case i%7 == 3:
			fake.AddLog(job.ID, types.LogError, http.StatusBadGateway, "upstream returned 502 Bad Gateway", at)
		case i%11 == 5:
			fake.AddLog(job.ID, types.LogError, http.StatusGatewayTimeout, "request timed out after 30s", at)
		default:
			fake.AddLog(job.ID, types.LogSuccess, http.StatusOK, "ok", at)
		}
	}
}
