package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"candlesync/internal/market"

	_ "modernc.org/sqlite"
)

// Manifest 记录某个 symbol@timeframe 文件的统计信息。
type Manifest struct {
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
	MinTime    int64  `json:"min_time"`
	MaxTime    int64  `json:"max_time"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

// Store 按 (symbol, timeframe) 切分 sqlite 文件管理 K 线。
// 同一文件单连接串行写入；跨 symbol/timeframe 互不阻塞。
type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("data root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *Store) db(symbol, timeframe string) (*sql.DB, string, error) {
	if symbol == "" || timeframe == "" {
		return nil, "", fmt.Errorf("symbol/timeframe 不能为空")
	}
	key := strings.ToUpper(symbol) + "@" + strings.ToLower(timeframe)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, s.dbPath(symbol, timeframe), nil
	}
	path := s.dbPath(symbol, timeframe)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db, symbol, timeframe); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

func (s *Store) dbPath(symbol, timeframe string) string {
	dir := filepath.Join(s.root, strings.ToUpper(symbol))
	return filepath.Join(dir, strings.ToLower(timeframe)+".db")
}

func ensureSchema(db *sql.DB, symbol, timeframe string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			open_time  INTEGER PRIMARY KEY,
			close_time INTEGER NOT NULL,
			open       REAL NOT NULL,
			high       REAL NOT NULL,
			low        REAL NOT NULL,
			close      REAL NOT NULL,
			volume     REAL NOT NULL,
			trades     INTEGER DEFAULT 0,
			synthetic  INTEGER NOT NULL DEFAULT 0,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			min_time INTEGER,
			max_time INTEGER,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER
		);`,
		`INSERT INTO manifest (id, symbol, timeframe) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET symbol=excluded.symbol, timeframe=excluded.timeframe;`,
	}
	for i, stmt := range stmts {
		var err error
		if i == len(stmts)-1 {
			_, err = db.Exec(stmt, strings.ToUpper(symbol), strings.ToLower(timeframe))
		} else {
			_, err = db.Exec(stmt)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// SaveCandles 批量写入 K 线。写入是幂等的：已存在的 open_time 保持原样
// （K 线落库后视为不可变），返回值为本次真正新插入的行数。
func (s *Store) SaveCandles(ctx context.Context, symbol, timeframe string, candles []market.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	db, _, err := s.db(symbol, timeframe)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (open_time, close_time, open, high, low, close, volume, trades, synthetic)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(open_time) DO NOTHING`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	inserted := 0
	for _, c := range candles {
		res, err := stmt.ExecContext(ctx, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume, c.Trades, boolToInt(c.Synthetic))
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if err := s.refreshManifest(ctx, db); err != nil {
		return inserted, err
	}
	return inserted, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// HasAnyDataInRange 判断区间内是否存在任意 K 线。
func (s *Store) HasAnyDataInRange(ctx context.Context, symbol, timeframe string, start, end int64) (bool, error) {
	db, _, err := s.db(symbol, timeframe)
	if err != nil {
		return false, err
	}
	row := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM candles WHERE open_time BETWEEN ? AND ?)`, start, end)
	var exists int
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists == 1, nil
}

// HasDataAt 判断指定时间戳是否已有 K 线。
func (s *Store) HasDataAt(ctx context.Context, symbol, timeframe string, ts int64) (bool, error) {
	return s.HasAnyDataInRange(ctx, symbol, timeframe, ts, ts)
}

// CountInRange 返回区间内已有的 K 线数量。
func (s *Store) CountInRange(ctx context.Context, symbol, timeframe string, start, end int64) (int64, error) {
	db, _, err := s.db(symbol, timeframe)
	if err != nil {
		return 0, err
	}
	row := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM candles WHERE open_time BETWEEN ? AND ?`, start, end)
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// IsRangeComplete 判断区间内的数据是否恰好填满网格。
// 时间戳在网格上且唯一，数量等于期望即意味着无缺口。
func (s *Store) IsRangeComplete(ctx context.Context, symbol, timeframe string, start, end, expected int64) (bool, error) {
	n, err := s.CountInRange(ctx, symbol, timeframe, start, end)
	if err != nil {
		return false, err
	}
	return n == expected, nil
}

// FindLastContinuousTime 从 newest 向更早方向逐 tick 探测，返回连续覆盖
// 能到达的最早时间戳。要求 newest 处已有数据。
func (s *Store) FindLastContinuousTime(ctx context.Context, symbol, timeframe string, newest, oldest, step int64) (int64, error) {
	if step <= 0 {
		return 0, fmt.Errorf("step 需 > 0")
	}
	existing, err := s.LoadOpenTimes(ctx, symbol, timeframe, oldest, newest)
	if err != nil {
		return 0, err
	}
	present := make(map[int64]struct{}, len(existing))
	for _, ts := range existing {
		present[ts] = struct{}{}
	}
	if _, ok := present[newest]; !ok {
		return 0, fmt.Errorf("时间戳 %d 不存在，无法计算连续覆盖", newest)
	}
	last := newest
	for cursor := newest - step; cursor >= oldest; cursor -= step {
		if _, ok := present[cursor]; !ok {
			break
		}
		last = cursor
	}
	return last, nil
}

// FindDataStartInRange 返回区间内最晚的已有时间戳，即逆序回溯视角下
// 数据开始出现的位置；区间为空时第二个返回值为 false。
func (s *Store) FindDataStartInRange(ctx context.Context, symbol, timeframe string, start, end int64) (int64, bool, error) {
	db, _, err := s.db(symbol, timeframe)
	if err != nil {
		return 0, false, err
	}
	row := db.QueryRowContext(ctx, `SELECT MAX(open_time) FROM candles WHERE open_time BETWEEN ? AND ?`, start, end)
	var ts sql.NullInt64
	if err := row.Scan(&ts); err != nil {
		return 0, false, err
	}
	if !ts.Valid {
		return 0, false, nil
	}
	return ts.Int64, true, nil
}

// IsContinuousTillEnd 判断从 from 到更早的 end 之间是否逐 tick 连续。
func (s *Store) IsContinuousTillEnd(ctx context.Context, symbol, timeframe string, from, end, step int64) (bool, error) {
	if step <= 0 {
		return false, fmt.Errorf("step 需 > 0")
	}
	if from < end {
		return false, fmt.Errorf("from 需不早于 end")
	}
	expected := (from-end)/step + 1
	n, err := s.CountInRange(ctx, symbol, timeframe, end, from)
	if err != nil {
		return false, err
	}
	return n == expected, nil
}

// LoadOpenTimes 返回指定区间内已有的 open_time（升序）。
func (s *Store) LoadOpenTimes(ctx context.Context, symbol, timeframe string, start, end int64) ([]int64, error) {
	db, _, err := s.db(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT open_time FROM candles WHERE open_time BETWEEN ? AND ? ORDER BY open_time`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// QueryRange 返回 start~end（开盘时间闭区间）的全部 K 线，按时间升序。
func (s *Store) QueryRange(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	db, _, err := s.db(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	if end < start {
		start, end = end, start
	}
	rows, err := db.QueryContext(ctx, `
		SELECT open_time, close_time, open, high, low, close, volume, trades, synthetic
		FROM candles
		WHERE open_time BETWEEN ? AND ?
		ORDER BY open_time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []market.Candle
	for rows.Next() {
		var c market.Candle
		var synthetic int
		if err := rows.Scan(&c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Trades, &synthetic); err != nil {
			return nil, err
		}
		c.Synthetic = synthetic == 1
		list = append(list, c)
	}
	return list, rows.Err()
}

// Manifest 读取某个 symbol@timeframe 的统计信息。
func (s *Store) Manifest(ctx context.Context, symbol, timeframe string) (Manifest, error) {
	db, path, err := s.db(symbol, timeframe)
	if err != nil {
		return Manifest{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT symbol,timeframe,min_time,max_time,rows,last_sync_at FROM manifest WHERE id=1`)
	var m Manifest
	// 首次写入前统计列均为 NULL，按零值读出。
	var minTime, maxTime, lastSync sql.NullInt64
	if err := row.Scan(&m.Symbol, &m.Timeframe, &minTime, &maxTime, &m.Rows, &lastSync); err != nil {
		return Manifest{}, err
	}
	m.MinTime = minTime.Int64
	m.MaxTime = maxTime.Int64
	m.LastSyncAt = lastSync.Int64
	m.Path = path
	return m, nil
}

func (s *Store) refreshManifest(ctx context.Context, db *sql.DB) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE manifest
		SET min_time = (SELECT COALESCE(MIN(open_time), 0) FROM candles),
		    max_time = (SELECT COALESCE(MAX(open_time), 0) FROM candles),
		    rows = (SELECT COUNT(1) FROM candles),
		    last_sync_at = ?
		WHERE id = 1`, now)
	return err
}
