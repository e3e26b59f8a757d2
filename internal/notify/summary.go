package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajisai/yotei/internal/category"
	"github.com/ajisai/yotei/internal/holiday"
	"github.com/ajisai/yotei/internal/model"
)

var weekdayKanji = [...]string{"日", "月", "火", "水", "木", "金", "土"}

// BuildSummary renders the morning agenda as plain text, for example:
//
//	9月21日(月) 敬老の日
//	・09:00 朝のストレッチ
//	・10:00 会議【仕事】
//
// Tasks are expected to be pre-sorted and already filtered to the day.
func BuildSummary(date time.Time, tasks []model.Task, holidays holiday.Table, catalog category.Catalog) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%d月%d日(%s)", int(date.Month()), date.Day(), weekdayKanji[date.Weekday()])
	if name, ok := holidays.Lookup(date); ok {
		b.WriteString(" ")
		b.WriteString(name)
	}
	b.WriteString("\n")

	if len(tasks) == 0 {
		b.WriteString("予定はありません")
		return b.String()
	}

	for _, t := range tasks {
		fmt.Fprintf(&b, "・%s %s", t.OccursAt.Format("15:04"), t.Title)
		if c, ok := catalog.ByID(t.Category); ok {
			fmt.Fprintf(&b, "【%s】", c.Name)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "全%d件", len(tasks))
	return b.String()
}
