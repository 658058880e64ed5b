// Package repository implements the job and profile store ports using SQLite.
package repository

import (
	"database/sql"
	"errors"
	"strings"

	"queryplane/internal/domain"
)

func mapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Message: "resource not found"}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return &domain.ConflictError{Message: "resource already exists"}
	}
	return err
}

// joinPath renders a dataset path without quoting: a.b.c
func joinPath(path []string) string {
	return strings.Join(path, ".")
}

// quotePath renders a dataset path with quoted segments: "a"."b"."c"
func quotePath(path []string) string {
	quoted := make([]string, len(path))
	for i, seg := range path {
		quoted[i] = `"` + seg + `"`
	}
	return strings.Join(quoted, ".")
}

func nullableMillis(t *int64) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
