package notify

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/punchamoorthee/webledger/internal/domain"
)

// Money renders whole pesos with dot thousands separators, e.g. -$1.234.567.
func Money(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	digits := strconv.FormatInt(v, 10)
	var b strings.Builder
	for i, c := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(c)
	}
	return sign + "$" + b.String()
}

// RecordCreatedMessage renders a new movement with its signed amount and the
// local time it was recorded.
func RecordCreatedMessage(rec domain.Record, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	label, sign := "Gasto", "-"
	if rec.Kind == domain.KindIncome {
		label, sign = "Ingreso", "+"
	}
	return fmt.Sprintf("<b>%s registrado</b>\n%s\n• %s (%s)\n• Fecha: %s\n• Monto: %s%s",
		label,
		rec.CreatedAt.In(loc).Format("02-01 15:04"),
		html.EscapeString(rec.Concept),
		html.EscapeString(rec.Category),
		html.EscapeString(rec.Date),
		sign,
		Money(rec.Amount),
	)
}

func DailySummaryMessage(day time.Time, s domain.Summary) string {
	return fmt.Sprintf("<b>Resumen %s</b>\nMes %s (%d movimientos)\nIngresos: %s\nGastos: %s\nBalance: %s",
		day.Format(domain.DateLayout),
		html.EscapeString(s.Month),
		s.Count,
		Money(s.Income),
		Money(s.Expense),
		Money(s.Balance),
	)
}
