package clickhouse

import (
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/BarkinBalci/engagement-engine/internal/segment"
)

// queryBuilder collects named query parameters so user supplied values never
// end up in query text.
type queryBuilder struct {
	args []any
}

func newQueryBuilder() *queryBuilder {
	return &queryBuilder{}
}

// add binds v and returns its placeholder.
func (q *queryBuilder) add(v any) string {
	name := fmt.Sprintf("p%d", len(q.args))
	q.args = append(q.args, clickhouse.Named(name, v))
	return "@" + name
}

// addTime binds t as epoch milliseconds and returns a DateTime64 expression.
func (q *queryBuilder) addTime(t time.Time) string {
	var ms int64
	if !t.IsZero() {
		ms = t.UnixMilli()
	}
	return fmt.Sprintf("fromUnixTimestamp64Milli(toInt64(%s))", q.add(ms))
}

// jsonArgs returns "properties, @k1, @k2" for a property path.
func (q *queryBuilder) jsonArgs(path string) string {
	parts := []string{"properties"}
	for _, key := range segment.PathKeys(path) {
		parts = append(parts, q.add(key))
	}
	return strings.Join(parts, ", ")
}
