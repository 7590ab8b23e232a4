package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件，供 internal/storage/sqldb 在启动时执行。
//
//go:embed *.sql
var Files embed.FS
