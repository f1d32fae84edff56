//go:build cgo && !purego

package kssqlite

import (
	"errors"

	sqlite3 "github.com/mattn/go-sqlite3"
)

const (
	sqliteDriverType = "sqlite3"
	sqliteBuildType  = "cgo"
)

func isPrimaryKeyConstraintError(e error) bool {
	var sErr sqlite3.Error
	if !errors.As(e, &sErr) {
		return false
	}

	return sErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func isUniqueConstraintError(e error) bool {
	var sErr sqlite3.Error
	if !errors.As(e, &sErr) {
		return false
	}

	return sErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
