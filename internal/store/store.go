// 包 store：持久化 POI 数据访问层（PostgreSQL），含边界框/归属/文本查询与幂等写入
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"poi-api/internal/logger"
	"poi-api/internal/poi"
)

// Store：数据库访问入口，持有连接池并提供查询与写入接口
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Open：使用 DSN 打开数据库连接并配置连接池参数
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	return &Store{db: db}, nil
}

// Close：关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping：连接存活检查，供健康检查端点使用
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// 文档注释：持久化 POI 行
// 背景：导入管线创建的应用自有记录；id 是对外深链的唯一稳定身份，
// origin_id 记录上游来源编号（存在时全表唯一）。
type Location struct {
	ID        int64
	Name      string
	Type      string
	Latitude  float64
	Longitude float64
	OriginID  string
	Logo      string
	City      string
	State     string
	Country   string
	OwnerID   int64
	ExtraTags map[string]string
}

// locationCols：查询列清单；与 scanLocation 保持同序
const locationCols = `id, name, type, latitude, longitude, COALESCE(origin_id,''), COALESCE(logo,''), city, state, country, owner_id`

func scanLocation(row interface{ Scan(...any) error }) (*Location, error) {
	var l Location
	err := row.Scan(&l.ID, &l.Name, &l.Type, &l.Latitude, &l.Longitude, &l.OriginID, &l.Logo, &l.City, &l.State, &l.Country, &l.OwnerID)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ToFeature：适配为合并引擎的统一要素结构
// 约束：origin_id 可解析时沿用上游身份（使规范键与对应上游要素一致），否则按应用记录编码
func (l *Location) ToFeature() poi.RawFeature {
	f := poi.RawFeature{
		Name:     l.Name,
		Lat:      l.Latitude,
		Lon:      l.Longitude,
		HasPos:   true,
		Category: l.Type,
		Icon:     l.Logo,
		AppID:    l.ID,
		OwnerID:  l.OwnerID,
	}
	if kind, id, ok := poi.ParseOrigin(l.OriginID); ok {
		f.Kind = kind
		f.ID = id
	} else {
		f.Kind = poi.KindAppRecord
	}
	if f.Icon == "" && f.Category != "" {
		f.Icon = poi.IconFor(f.Category)
	}
	return f
}

// QueryFilters：持久层查询过滤条件
type QueryFilters struct {
	Categories []string
	Text       string
	OwnerID    int64 // 仅当 OwnerOnly 为真时生效
	OwnerOnly  bool
	Limit      int
}

// 文档注释：边界框查询
// 背景：与上游查询并行执行，为合并引擎提供应用侧结果集
func (s *Store) QueryBBox(ctx context.Context, b poi.BBox, f QueryFilters) ([]*Location, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	q := `SELECT ` + locationCols + ` FROM _poi_locations
        WHERE latitude BETWEEN $1 AND $2 AND longitude BETWEEN $3 AND $4`
	args := []any{b.South, b.North, b.West, b.East}
	if len(f.Categories) > 0 {
		args = append(args, pq.StringArray(f.Categories))
		q += ` AND type = ANY($` + strconv.Itoa(len(args)) + `)`
	}
	if f.Text != "" {
		args = append(args, "%"+f.Text+"%")
		q += ` AND name ILIKE $` + strconv.Itoa(len(args))
	}
	if f.OwnerOnly {
		args = append(args, f.OwnerID)
		q += ` AND owner_id = $` + strconv.Itoa(len(args))
	}
	args = append(args, limit)
	q += ` ORDER BY id LIMIT $` + strconv.Itoa(len(args))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	logger.L().Debug("store_query_bbox", "rows", len(out))
	return out, rows.Err()
}

// FindByOrigin：按上游来源编号查找既有记录
// 背景：导入前的身份复用检查；兼容历史上的三种编码形式
func (s *Store) FindByOrigin(ctx context.Context, kind poi.SourceKind, id int64) (*Location, error) {
	f := poi.RawFeature{Kind: kind, ID: id}
	variants := poi.AliasVariants(f)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+locationCols+` FROM _poi_locations WHERE origin_id = ANY($1) LIMIT 1`,
		pq.StringArray(variants))
	l, err := scanLocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

// FindByNamePos：名称与坐标的精确复用检查
// 约束：坐标按 1e-6 度容差比较；刻意不用模糊匹配，避免把相邻不同地点并成一行
func (s *Store) FindByNamePos(ctx context.Context, name string, lat, lon float64) (*Location, error) {
	const eps = 1e-6
	row := s.db.QueryRowContext(ctx,
		`SELECT `+locationCols+` FROM _poi_locations
         WHERE name = $1 AND latitude BETWEEN $2 AND $3 AND longitude BETWEEN $4 AND $5 LIMIT 1`,
		name, lat-eps, lat+eps, lon-eps, lon+eps)
	l, err := scanLocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

// NewLocation：插入参数；列名与映射表输出一致
type NewLocation struct {
	Name      string
	Type      string
	Latitude  float64
	Longitude float64
	OriginID  string
	Logo      string
	Columns   map[string]string // 动态映射列（street/phone/website 等）
	ExtraTags map[string]string
	OwnerID   int64
}

// 动态列白名单：映射表只允许写这些列，防止拼接出意外目标
var dynamicColumns = map[string]bool{
	"street": true, "housenumber": true, "address": true, "city": true,
	"state": true, "country": true, "postcode": true, "phone": true,
	"website": true, "email": true, "opening_hours": true, "operator": true,
	"brand": true, "wheelchair": true, "cuisine": true,
}

// 文档注释：插入或复用（并发安全的幂等写入）
// 背景：并发导入同一上游要素时，两个事务都可能通过插入前检查；origin_id 唯一约束
// 触发 23505 时视为良性竞态，改查既有行返回，绝不把该错误上抛。
// 返回：行 id 与 existing 标记。
func (s *Store) InsertLocation(ctx context.Context, n NewLocation) (int64, bool, error) {
	cols := []string{"name", "type", "latitude", "longitude", "owner_id"}
	args := []any{n.Name, n.Type, n.Latitude, n.Longitude, n.OwnerID}
	if n.OriginID != "" {
		cols = append(cols, "origin_id")
		args = append(args, n.OriginID)
	}
	if n.Logo != "" {
		cols = append(cols, "logo")
		args = append(args, n.Logo)
	}
	for col, v := range n.Columns {
		if !dynamicColumns[col] || v == "" {
			continue
		}
		cols = append(cols, col)
		args = append(args, v)
	}
	if len(n.ExtraTags) > 0 {
		b, err := json.Marshal(n.ExtraTags)
		if err == nil {
			cols = append(cols, "extra_tags")
			args = append(args, string(b))
		}
	}
	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = "$" + strconv.Itoa(i+1)
	}
	q := `INSERT INTO _poi_locations(` + strings.Join(cols, ",") + `) VALUES(` + strings.Join(ph, ",") + `) RETURNING id`
	var id int64
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&id)
	if err == nil {
		logger.L().Info("store_location_insert", "id", id, "origin", n.OriginID)
		return id, false, nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" && n.OriginID != "" {
		// 并发重复插入：收敛到既有行
		row := s.db.QueryRowContext(ctx, `SELECT id FROM _poi_locations WHERE origin_id = $1`, n.OriginID)
		var existing int64
		if err2 := row.Scan(&existing); err2 == nil {
			logger.L().Info("store_location_duplicate_race", "id", existing, "origin", n.OriginID)
			return existing, true, nil
		}
	}
	return 0, false, err
}

// UpdateLocality：回填城市/省州/国家
// 约束：仅覆盖为空的字段，已有人工维护值不被回填覆盖
func (s *Store) UpdateLocality(ctx context.Context, id int64, city, state, country string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE _poi_locations SET
        city = CASE WHEN city = '' THEN $2 ELSE city END,
        state = CASE WHEN state = '' THEN $3 ELSE state END,
        country = CASE WHEN country = '' THEN $4 ELSE country END,
        updated_at = now()
        WHERE id = $1`, id, city, state, country)
	return err
}

// AddFavorite：记录收藏/归属关联
// 约束：主键冲突静默跳过，重复调用不产生重复关联行
func (s *Store) AddFavorite(ctx context.Context, userID, locationID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO _poi_favorites(user_id, location_id) VALUES($1, $2)
         ON CONFLICT (user_id, location_id) DO NOTHING`, userID, locationID)
	return err
}

// 文档注释：列集合自检
// 背景：映射表指向的列必须真实存在；启动时核对一次，缺列直接拒绝启动，
// 避免每次导入各自失败（SchemaIntrospectionFailed 语义）。
func (s *Store) ColumnSet(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_name = '_poi_locations'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out[c] = true
	}
	if len(out) == 0 {
		return nil, errors.New("schema introspection: _poi_locations has no columns")
	}
	return out, rows.Err()
}
