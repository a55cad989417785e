package cache

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/brandon/mailmirror/pkg/types"
)

// ViewFilter selects one owner's messages of one category
type ViewFilter struct {
	OwnerID  int64
	Category types.Category
	// Search is matched case-insensitively against subject, body text and sender
	Search string
}

// where builds the WHERE clause shared by listing and counting
func (f ViewFilter) where() (string, []interface{}) {
	conditions := []string{"owner_id = ?", "category = ?"}
	args := []interface{}{f.OwnerID, string(f.Category)}

	if term := strings.TrimSpace(f.Search); term != "" {
		// LIKE only folds ASCII, so both sides are folded up front
		conditions = append(conditions, `search_fold LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(foldCase(term))+"%")
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// foldCase applies Unicode case folding
func foldCase(s string) string {
	return cases.Fold().String(s)
}

// searchFold is the folded text a message is searched by. Fields are kept on
// separate lines so a term cannot match across two of them.
func searchFold(subject, bodyText, fromEmail, fromName string) string {
	return foldCase(strings.Join([]string{subject, bodyText, fromEmail, fromName}, "\n"))
}

// escapeLike escapes LIKE wildcards so the term matches literally
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ListView returns up to limit messages of the view starting at offset, newest first
func (s *Store) ListView(ctx context.Context, f ViewFilter, offset, limit int) ([]types.MirroredMessage, error) {
	if limit <= 0 {
		return []types.MirroredMessage{}, nil
	}

	whereClause, args := f.where()
	query := fmt.Sprintf(`
		SELECT %s
		FROM mirrored_messages
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, messageColumns, whereClause)
	args = append(args, limit, offset)

	var rows []messageRow
	if err := s.cache.DB().SelectContext(ctx, &rows, query, args...); err != nil {
		if isMissingTable(err) {
			return []types.MirroredMessage{}, nil
		}
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]types.MirroredMessage, len(rows))
	for i := range rows {
		messages[i] = rows[i].toMessage()
	}
	return messages, nil
}

// ViewCounts holds the totals of a bounded view
type ViewCounts struct {
	Total  int `db:"total"`
	Unread int `db:"unread"`
}

// CountView counts the first ceiling rows of the view and how many of them are unread
func (s *Store) CountView(ctx context.Context, f ViewFilter, ceiling int) (ViewCounts, error) {
	whereClause, args := f.where()
	query := fmt.Sprintf(`
		SELECT COUNT(*) AS total, COALESCE(SUM(CASE WHEN is_read = 0 THEN 1 ELSE 0 END), 0) AS unread
		FROM (
			SELECT is_read
			FROM mirrored_messages
			%s
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
	`, whereClause)
	args = append(args, ceiling)

	var counts ViewCounts
	if err := s.cache.DB().GetContext(ctx, &counts, query, args...); err != nil {
		if isMissingTable(err) {
			return ViewCounts{}, nil
		}
		return ViewCounts{}, fmt.Errorf("failed to count messages: %w", err)
	}
	return counts, nil
}
