package repository

import (
	"github.com/doug-martin/goqu/v9"
	// диалекты регистрируются при импорте
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/zaz600/go-status-collector/internal/entity"
)

// statusRow строка таблицы отчетов. Порядок полей задает порядок колонок в INSERT.
type statusRow struct {
	ClientID string `db:"client_id"`
	Status   string `db:"status"`
}

// BuildInsert строит один параметризованный INSERT на всю пачку: по строке на отчет, в порядке пачки.
// Значения передаются только через плейсхолдеры, в текст запроса попадают лишь имена таблицы и колонок.
func BuildInsert(dialect goqu.DialectWrapper, table string, reports []entity.StatusReport) (string, []interface{}, error) {
	if len(reports) == 0 {
		return "", nil, ErrEmptyBatch
	}

	rows := make([]statusRow, 0, len(reports))
	for _, r := range reports {
		rows = append(rows, statusRow{ClientID: r.ClientID, Status: r.Status})
	}

	return dialect.
		Insert(goqu.I(table)).
		Prepared(true).
		Rows(rows).
		ToSQL()
}
