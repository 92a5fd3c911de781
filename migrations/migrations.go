// Package migrations はスキーマ定義（golang-migrate形式）を埋め込む。
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
