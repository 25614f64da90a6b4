package store

import (
	"context"
	"encoding/json"

	"poi-api/internal/logger"
	"poi-api/internal/metrics"
)

// 文档注释：属地回填任务
// 背景：导入后三级行政区不全时入队，由独立 worker 异步解析补齐；
// 本服务只负责入队与队列读写原语，重试节奏由 worker 决定。
type BackfillTask struct {
	ID         int64
	LocationID int64
	OsmID      string
	Lat        float64
	Lon        float64
	Status     string
	Attempts   int
	Payload    map[string]string
}

// EnqueueBackfill：追加待处理任务
// 约束：轻量本地写入，不做去重；同一行的多次入队由 worker 以行级更新天然收敛
func (s *Store) EnqueueBackfill(ctx context.Context, locationID int64, osmID string, lat, lon float64, payload map[string]string) error {
	var pj any
	if len(payload) > 0 {
		if b, err := json.Marshal(payload); err == nil {
			pj = string(b)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO _poi_backfill_queue(location_id, osm_id, lat, lon, payload)
         VALUES($1, $2, $3, $4, $5)`, locationID, osmID, lat, lon, pj)
	if err == nil {
		metrics.BackfillEnqueuedTotal.Inc()
		logger.L().Info("backfill_enqueued", "location_id", locationID, "osm_id", osmID)
	}
	return err
}

// PendingBackfill：按创建时间取待处理任务
func (s *Store) PendingBackfill(ctx context.Context, limit int) ([]BackfillTask, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, location_id, osm_id, lat, lon, status, attempts, COALESCE(payload::text,'')
         FROM _poi_backfill_queue WHERE status = 'pending' ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BackfillTask
	for rows.Next() {
		var t BackfillTask
		var pj string
		if err := rows.Scan(&t.ID, &t.LocationID, &t.OsmID, &t.Lat, &t.Lon, &t.Status, &t.Attempts, &pj); err != nil {
			return nil, err
		}
		if pj != "" {
			_ = json.Unmarshal([]byte(pj), &t.Payload)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CompleteBackfill：任务完成
func (s *Store) CompleteBackfill(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE _poi_backfill_queue SET status = 'done', updated_at = now() WHERE id = $1`, id)
	return err
}

// FailBackfill：记一次失败尝试
// 约束：达到最大尝试次数时置为 failed，否则保持 pending 等待下轮
func (s *Store) FailBackfill(ctx context.Context, id int64, maxAttempts int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE _poi_backfill_queue SET
            attempts = attempts + 1,
            status = CASE WHEN attempts + 1 >= $2 THEN 'failed' ELSE 'pending' END,
            updated_at = now()
         WHERE id = $1`, id, maxAttempts)
	return err
}
