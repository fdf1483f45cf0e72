package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/arclamp/ingestd/internal/normalize"
	"github.com/arclamp/ingestd/internal/task"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows, letting scanTask
// serve single-row queries and RETURNING clauses alike.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t                        task.Task
		errKind, errMsg, dataCol sql.NullString
		pipeline                 sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Domain, &t.URL, &t.Status, &t.CrawlType, &t.NumRetries,
		&errKind, &errMsg, &dataCol, &pipeline, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if errKind.Valid {
		t.Error = &task.TaskError{Kind: task.ErrorKind(errKind.String), Message: errMsg.String}
	}
	if dataCol.Valid {
		t.Data = []byte(dataCol.String)
	}
	t.Pipeline = pipeline.String
	return &t, nil
}

func (s *Store) selectOne(ctx context.Context, query string, args ...any) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func chunkStrings(items []string, size int) [][]string {
	if size <= 0 || len(items) <= size {
		return [][]string{items}
	}
	chunks := make([][]string, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}

func inClause(query string, n int) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", n), ",")
	return fmt.Sprintf(query, placeholders)
}

func toArgs(items []string) []any {
	args := make([]any, len(items))
	for i, s := range items {
		args[i] = s
	}
	return args
}

func domainFor(u string) (string, error) {
	_, domain, err := normalize.Normalize(u)
	return domain, err
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
