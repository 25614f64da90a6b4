// 程序入口：属地回填 worker
// 背景：导入请求内的反查失败或行政区不全时任务入队；本进程轮询队列，
// 逐条反查并补齐城市/省州/国家，失败按次数上限收敛为 failed。
// 与 API 进程分离部署，反查限速不占用请求路径。
package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"poi-api/internal/logger"
	"poi-api/internal/metrics"
	"poi-api/internal/migrate"
	"poi-api/internal/nominatim"
	"poi-api/internal/store"
	"poi-api/internal/utils"

	"github.com/joho/godotenv"
)

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()

	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	st := store.AttachDB(db)
	if err := migrate.EnsureSchema(db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}

	rc := utils.OpenRedisFromEnv()
	geo := nominatim.NewFromEnv(rc)

	interval := time.Duration(envInt("BACKFILL_INTERVAL_MS", 30000)) * time.Millisecond
	batch := envInt("BACKFILL_BATCH", 50)
	maxAttempts := envInt("BACKFILL_MAX_ATTEMPTS", 5)
	l.Info("backfill_worker_start", "interval_ms", interval.Milliseconds(), "batch", batch, "max_attempts", maxAttempts)

	for {
		processOnce(st, geo, batch, maxAttempts)
		time.Sleep(interval)
	}
}

func processOnce(st *store.Store, geo *nominatim.Client, batch, maxAttempts int) {
	l := logger.L()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	tasks, err := st.PendingBackfill(ctx, batch)
	if err != nil {
		l.Error("backfill_poll_error", "err", err)
		return
	}
	if len(tasks) == 0 {
		return
	}
	l.Debug("backfill_batch", "tasks", len(tasks))
	for _, t := range tasks {
		res, err := geo.Reverse(ctx, t.Lat, t.Lon)
		if err != nil {
			l.Warn("backfill_revgeo_error", "task_id", t.ID, "attempts", t.Attempts, "err", err)
			_ = st.FailBackfill(ctx, t.ID, maxAttempts)
			metrics.BackfillProcessedTotal.WithLabelValues("revgeo_fail").Inc()
			continue
		}
		if err := st.UpdateLocality(ctx, t.LocationID, res.City, res.State, res.Country); err != nil {
			l.Error("backfill_update_error", "task_id", t.ID, "location_id", t.LocationID, "err", err)
			_ = st.FailBackfill(ctx, t.ID, maxAttempts)
			metrics.BackfillProcessedTotal.WithLabelValues("store_fail").Inc()
			continue
		}
		if err := st.CompleteBackfill(ctx, t.ID); err != nil {
			l.Error("backfill_complete_error", "task_id", t.ID, "err", err)
			continue
		}
		metrics.BackfillProcessedTotal.WithLabelValues("done").Inc()
		l.Info("backfill_done", "task_id", t.ID, "location_id", t.LocationID, "city", res.City)
	}
}
