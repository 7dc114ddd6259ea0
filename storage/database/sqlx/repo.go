package sqlxrepos

import (
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/seido/portal/core"
)

// baseRepository holds the executor used when services don't provide one (eg. outside transactions).
type baseRepository struct {
	exec core.DBExecutor
}

func (repo baseRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return repo.exec
}

// trapNoRowsErr maps "no rows" errors to notFound
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullUUID(id string) null.String {
	return null.NewString(id, id != "")
}

// query builds SELECT statements with `?` placeholders, expanded by sqlx.In then rebound for postgres.
type query struct {
	base     string
	where    []string
	args     []interface{}
	ordering []core.DBOrdering
	suffix   string
}

func newQuery(base string) *query {
	return &query{base: base}
}

// Where adds an AND condition. Slice args are expanded for `IN (?)` conditions.
func (q *query) Where(cond string, args ...interface{}) *query {
	q.where = append(q.where, "("+cond+")")
	q.args = append(q.args, args...)
	return q
}

func (q *query) OrderBy(ordering []core.DBOrdering) *query {
	q.ordering = ordering
	return q
}

func (q *query) Suffix(s string) *query {
	q.suffix = s
	return q
}

func (q *query) Build() (string, []interface{}, error) {
	var sb strings.Builder
	sb.WriteString(q.base)
	if len(q.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(q.where, " AND "))
	}
	if len(q.ordering) > 0 {
		orderList := make([]string, 0, len(q.ordering))
		for _, ord := range q.ordering {
			orderList = append(orderList, ord.String())
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(orderList, ", "))
	}
	if q.suffix != "" {
		sb.WriteString(" ")
		sb.WriteString(q.suffix)
	}

	stmt, args, err := sqlx.In(sb.String(), q.args...)
	if err != nil {
		return "", nil, errors.Wrap(err, "expanding query args")
	}
	return sqlx.Rebind(sqlx.DOLLAR, stmt), args, nil
}
