package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/i474232898/heat-island-pipeline/internal/common"
)

const (
	codeUniqueViolation   = "23505"
	codeDuplicateObject   = "42710"
	codeDuplicateTable    = "42P07"
	// Raised when a partition with the same bounds was attached first.
	codeInvalidDefinition = "42P17"
)

// IsDuplicateObject reports whether err says the object being created already
// exists. Two sessions racing on CREATE TABLE can also surface as a unique
// violation on the pg_type catalog index.
func IsDuplicateObject(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isDuplicateCode(pgErr.Code, pgErr.ConstraintName)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return isDuplicateCode(string(pqErr.Code), pqErr.Constraint)
	}

	return common.HasAny(err.Error(), "already exists")
}

func isDuplicateCode(code, constraint string) bool {
	switch code {
	case codeDuplicateTable, codeDuplicateObject, codeInvalidDefinition:
		return true
	case codeUniqueViolation:
		return common.HasAny(constraint, "pg_type_typname_nsp_index", "pg_class_relname_nsp_index")
	}
	return false
}
