package analytics

import (
	"sort"
	"time"

	"fleetcost/internal/core"
)

// TimelineDay groups the expenses of one calendar day.
type TimelineDay struct {
	Date     time.Time      `json:"date"`
	Total    core.Money     `json:"total"`
	Expenses []core.Expense `json:"expenses"`
}

// Timeline buckets expenses by calendar day in loc (UTC when nil). Days are
// ordered most recent first and so are the expenses inside each day.
func Timeline(expenses []core.Expense, loc *time.Location) []TimelineDay {
	if loc == nil {
		loc = time.UTC
	}
	byDay := make(map[time.Time][]core.Expense)
	for _, e := range expenses {
		t := e.CreatedAt.In(loc)
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		byDay[day] = append(byDay[day], e)
	}

	days := make([]TimelineDay, 0, len(byDay))
	for day, list := range byDay {
		sorted := make([]core.Expense, len(list))
		copy(sorted, list)
		sort.SliceStable(sorted, func(i, j int) bool {
			if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
				return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
			}
			return sorted[i].ID < sorted[j].ID
		})
		var total core.Money
		for _, e := range sorted {
			total = total.Add(e.Amount)
		}
		days = append(days, TimelineDay{Date: day, Total: total, Expenses: sorted})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date.After(days[j].Date) })
	return days
}
