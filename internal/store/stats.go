package store

import (
	"context"

	"poi-api/internal/logger"
)

// IncrQueryStats：成功查询后递增总计与当日计数
func (s *Store) IncrQueryStats(ctx context.Context) error {
	_, _ = s.db.ExecContext(ctx, "UPDATE _poi_stats_total SET total_queries=total_queries+1 WHERE id=1")
	_, _ = s.db.ExecContext(ctx, "INSERT INTO _poi_stats_daily(day, queries) VALUES(current_date, 1) ON CONFLICT (day) DO UPDATE SET queries=_poi_stats_daily.queries+1")
	return nil
}

// IncrImportStats：成功导入后递增总计与当日计数
func (s *Store) IncrImportStats(ctx context.Context) error {
	_, _ = s.db.ExecContext(ctx, "UPDATE _poi_stats_total SET total_imports=total_imports+1 WHERE id=1")
	_, _ = s.db.ExecContext(ctx, "INSERT INTO _poi_stats_daily(day, imports) VALUES(current_date, 1) ON CONFLICT (day) DO UPDATE SET imports=_poi_stats_daily.imports+1")
	return nil
}

// Totals：统计返回结构
type Totals struct {
	TotalQueries int64
	TotalImports int64
	TodayQueries int64
	TodayImports int64
}

// GetTotals：读取累计与当日计数，用于接口返回
func (s *Store) GetTotals(ctx context.Context) (*Totals, error) {
	var t Totals
	row := s.db.QueryRowContext(ctx, "SELECT total_queries, total_imports FROM _poi_stats_total WHERE id=1")
	_ = row.Scan(&t.TotalQueries, &t.TotalImports)
	row2 := s.db.QueryRowContext(ctx, "SELECT queries, imports FROM _poi_stats_daily WHERE day=current_date")
	_ = row2.Scan(&t.TodayQueries, &t.TodayImports)
	logger.L().Debug("stats_totals", "queries", t.TotalQueries, "imports", t.TotalImports)
	return &t, nil
}
