// 包 migrate：启动期表结构自举
package migrate

import (
	"database/sql"

	"poi-api/internal/logger"
)

// 背景：首次运行自动创建所需表与索引，保障后续导入与查询
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _poi_locations (
            id SERIAL PRIMARY KEY,
            name TEXT NOT NULL,
            type TEXT NOT NULL DEFAULT '',
            latitude DOUBLE PRECISION NOT NULL,
            longitude DOUBLE PRECISION NOT NULL,
            origin_id TEXT,
            logo TEXT,
            street TEXT NOT NULL DEFAULT '',
            housenumber TEXT NOT NULL DEFAULT '',
            address TEXT NOT NULL DEFAULT '',
            city TEXT NOT NULL DEFAULT '',
            state TEXT NOT NULL DEFAULT '',
            country TEXT NOT NULL DEFAULT '',
            postcode TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            website TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            opening_hours TEXT NOT NULL DEFAULT '',
            operator TEXT NOT NULL DEFAULT '',
            brand TEXT NOT NULL DEFAULT '',
            wheelchair TEXT NOT NULL DEFAULT '',
            cuisine TEXT NOT NULL DEFAULT '',
            extra_tags JSONB,
            owner_id BIGINT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		// origin_id 唯一约束是导入幂等的根基：并发重复插入靠它收敛到同一行
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_poi_origin ON _poi_locations(origin_id) WHERE origin_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_poi_latlon ON _poi_locations(latitude, longitude)`,
		`CREATE INDEX IF NOT EXISTS idx_poi_owner ON _poi_locations(owner_id)`,
		`CREATE TABLE IF NOT EXISTS _poi_backfill_queue (
            id SERIAL PRIMARY KEY,
            location_id INT NOT NULL REFERENCES _poi_locations(id),
            osm_id TEXT NOT NULL DEFAULT '',
            lat DOUBLE PRECISION NOT NULL,
            lon DOUBLE PRECISION NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            attempts INT NOT NULL DEFAULT 0,
            payload JSONB,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_backfill_status ON _poi_backfill_queue(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS _poi_favorites (
            user_id BIGINT NOT NULL,
            location_id INT NOT NULL REFERENCES _poi_locations(id),
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY(user_id, location_id)
        )`,
		`CREATE TABLE IF NOT EXISTS _poi_stats_total (
            id INT PRIMARY KEY,
            total_queries BIGINT NOT NULL DEFAULT 0,
            total_imports BIGINT NOT NULL DEFAULT 0
        )`,
		`CREATE TABLE IF NOT EXISTS _poi_stats_daily (
            day DATE PRIMARY KEY,
            queries BIGINT NOT NULL DEFAULT 0,
            imports BIGINT NOT NULL DEFAULT 0
        )`,
		`INSERT INTO _poi_stats_total(id, total_queries, total_imports)
         VALUES(1, 0, 0)
         ON CONFLICT (id) DO NOTHING`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
