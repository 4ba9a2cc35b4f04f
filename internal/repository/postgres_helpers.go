package repository

import (
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// isUniqueViolation はエラーが一意制約違反かどうかを返す。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// validID はUUID形式のIDかどうかを返す。
// UUID列に不正な文字列を渡すとクエリ自体がエラーになるため、検索前に弾いて未検出として扱う。
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
