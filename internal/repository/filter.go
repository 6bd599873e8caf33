package repository

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
)

// sortExpressions - выражения ORDER BY для разрешенных полей. Важность сортируется по шкале, а не по алфавиту.
var sortExpressions = map[string]string{
	"created_at": "created_at",
	"status":     "status",
	"type":       "type",
	"severity":   "CASE severity WHEN 'low' THEN 1 WHEN 'medium' THEN 2 WHEN 'high' THEN 3 WHEN 'critical' THEN 4 END",
}

// whereBuilder собирает условия с позиционными параметрами
type whereBuilder struct {
	conds []string
	args  []any
}

func (b *whereBuilder) add(cond string, arg any) {
	b.args = append(b.args, arg)
	b.conds = append(b.conds, fmt.Sprintf(cond, len(b.args)))
}

func (b *whereBuilder) sql() string {
	if len(b.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(b.conds, " AND ")
}

// buildIncidentFilter превращает фильтр в WHERE и ORDER BY. Фильтр должен быть нормализован.
func buildIncidentFilter(f models.IncidentFilter) (where, orderBy string, args []any) {
	b := &whereBuilder{}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		b.add("status = ANY($%d)", statuses)
	}
	if f.Type != "" {
		b.add("type = $%d", string(f.Type))
	}
	if f.Severity != "" {
		b.add("severity = $%d", string(f.Severity))
	}
	if f.ReportedBy != uuid.Nil {
		b.add("reported_by = $%d", f.ReportedBy)
	}
	if f.Responder != uuid.Nil {
		b.add("$%d = ANY(responders)", f.Responder)
	}
	if f.CreatedAfter != nil {
		b.add("created_at >= $%d", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		b.add("created_at <= $%d", *f.CreatedBefore)
	}

	expr, ok := sortExpressions[f.Sort.Field]
	if !ok {
		expr = "created_at"
	}
	dir := "ASC"
	if f.Sort.Desc {
		dir = "DESC"
	}
	// id добавлен для стабильного порядка страниц
	orderBy = fmt.Sprintf("ORDER BY %s %s, id %s", expr, dir, dir)
	return b.sql(), orderBy, b.args
}
