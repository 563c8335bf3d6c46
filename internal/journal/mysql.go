package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"Mopro-Bridge/deploy/migrations"
	xerrors "Mopro-Bridge/internal/errors"
)

// MySQLConfig 描述 MySQL 连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MySQLStore 将调用记录写入 bridge_calls 表。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 连接数据库并确保表结构存在。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "MySQL DSN 不能为空")
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}
	store, err := newMySQLStoreWithDB(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func newMySQLStoreWithDB(ctx context.Context, db *sql.DB) (*MySQLStore, error) {
	store := &MySQLStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

const insertCall = `INSERT INTO bridge_calls
        (call_id, method, status, error_code, duration_ms, arguments_digest, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`

const selectRecentCalls = `SELECT id, call_id, method, status, error_code, duration_ms, arguments_digest, created_at
        FROM bridge_calls ORDER BY created_at DESC, id DESC LIMIT ?`

func (s *MySQLStore) initSchema(ctx context.Context) error {
	stmts, err := migrations.Statements()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "加载迁移文件失败")
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 bridge_calls 表失败")
		}
	}
	return nil
}

// Record 插入一条调用记录。
func (s *MySQLStore) Record(ctx context.Context, entry Entry) error {
	res, err := s.db.ExecContext(ctx, insertCall,
		entry.CallID,
		entry.Method,
		entry.Status,
		entry.ErrorCode,
		entry.DurationMillis,
		entry.ArgumentsDigest,
		entry.CreatedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("写入调用 %s 失败", entry.CallID))
	}
	if _, err := res.LastInsertId(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取自增 ID 失败")
	}
	return nil
}

// Recent 按从新到旧返回最多 limit 条记录。
func (s *MySQLStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectRecentCalls, normalizeLimit(limit))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询调用记录失败")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.CallID, &e.Method, &e.Status, &e.ErrorCode,
			&e.DurationMillis, &e.ArgumentsDigest, &e.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析调用记录失败")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历调用记录失败")
	}
	return entries, nil
}

// Close 关闭数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
