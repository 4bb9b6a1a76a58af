package mysql

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"NLP-Chain/deploy/migrations"
)

var embeddedMigrations fs.ReadFileFS = migrations.Files

const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        name VARCHAR(128) NOT NULL,
        applied_at BIGINT NOT NULL
)`

// migration 是一份按版本号排序的建表脚本。
type migration struct {
	version    string
	name       string
	statements []string
}

// migrator 把内嵌脚本中尚未记录在 schema_migrations 的版本逐个应用，
// 每个版本一个事务。
type migrator struct {
	db     *sql.DB
	source fs.ReadFileFS
	now    func() time.Time
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	m := migrator{db: db, source: embeddedMigrations, now: time.Now}
	return m.migrate(ctx)
}

func (m migrator) migrate(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, createVersionTable); err != nil {
		return fmt.Errorf("创建 schema_migrations 表失败: %w", err)
	}
	all, err := readMigrations(m.source)
	if err != nil {
		return err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return err
	}
	for _, mg := range all {
		if applied[mg.version] {
			continue
		}
		if err := m.apply(ctx, mg); err != nil {
			return err
		}
	}
	return nil
}

func (m migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("查询 schema_migrations 失败: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("解析 schema_migrations 失败: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (m migrator) apply(ctx context.Context, mg migration) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("迁移 %s 开启事务失败: %w", mg.name, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for i, stmt := range mg.statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("迁移 %s 第 %d 条语句失败: %w", mg.name, i+1, err)
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		mg.version, mg.name, m.now().Unix()); err != nil {
		return fmt.Errorf("记录迁移 %s 失败: %w", mg.name, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移 %s 失败: %w", mg.name, err)
	}
	return nil
}

// readMigrations 读取 NNNN_xxx.sql 形式的脚本，版本号重复视为错误。
func readMigrations(source fs.ReadFileFS) ([]migration, error) {
	names, err := fs.Glob(source, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("读取迁移目录失败: %w", err)
	}

	out := make([]migration, 0, len(names))
	seen := make(map[string]string, len(names))
	for _, name := range names {
		version, ok := migrationVersion(name)
		if !ok {
			return nil, fmt.Errorf("迁移文件 %s 缺少版本前缀", name)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("迁移文件 %s 与 %s 版本号重复", name, prev)
		}
		seen[version] = name

		content, err := source.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		if stmts := splitSQLStatements(string(content)); len(stmts) > 0 {
			out = append(out, migration{version: version, name: name, statements: stmts})
		}
	}
	slices.SortFunc(out, func(a, b migration) int { return cmp.Compare(a.version, b.version) })
	return out, nil
}

func splitSQLStatements(content string) []string {
	var statements []string
	for _, stmt := range strings.Split(content, ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}

func migrationVersion(name string) (string, bool) {
	base := strings.TrimSuffix(path.Base(name), ".sql")
	version, _, found := strings.Cut(base, "_")
	if !found || version == "" {
		return "", false
	}
	for _, r := range version {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return version, true
}
