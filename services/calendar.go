package services

import (
	"fmt"
	"time"

	"github.com/phonginreallife/inres-oncall/db"
)

// CalendarCell is one button of the calendar grid. Inert cells carry the noop token.
type CalendarCell struct {
	Text     string
	Data     string
	Date     string
	Selected bool
}

// Interactive reports whether pressing the cell does anything.
func (c CalendarCell) Interactive() bool {
	return c.Data != NoopToken()
}

// CalendarGrid is the rendered month: header, weekday row, week rows, navigation and confirm.
type CalendarGrid struct {
	Year     int
	Month    time.Month
	Header   CalendarCell
	Weekdays [7]CalendarCell
	Weeks    [][7]CalendarCell
	Prev     CalendarCell
	Next     CalendarCell
	Confirm  CalendarCell
}

var weekdayLabels = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

func inert(text string) CalendarCell {
	return CalendarCell{Text: text, Data: NoopToken()}
}

// ShiftMonth moves (year, month) by delta months, rolling the year as needed.
func ShiftMonth(year int, month time.Month, delta int) (int, time.Month) {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, delta, 0)
	return t.Year(), t.Month()
}

// DaysIn returns the number of days of the month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// BuildCalendar renders a month. selected holds ISO dates; dates outside the month are ignored.
func BuildCalendar(year int, month time.Month, selected map[string]bool) CalendarGrid {
	grid := CalendarGrid{
		Year:   year,
		Month:  month,
		Header: inert(fmt.Sprintf("%s %d", month, year)),
	}
	for i, label := range weekdayLabels {
		grid.Weekdays[i] = inert(label)
	}

	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	col := int(first.Weekday())
	var week [7]CalendarCell
	for i := 0; i < col; i++ {
		week[i] = inert(" ")
	}

	days := DaysIn(year, month)
	for day := 1; day <= days; day++ {
		date := time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format(db.RosterDateLayout)
		cell := CalendarCell{
			Text:     fmt.Sprintf("%d", day),
			Data:     SelectDateToken(date),
			Date:     date,
			Selected: selected[date],
		}
		if cell.Selected {
			cell.Text = "✅" + cell.Text
		}
		week[col] = cell
		col++
		if col == 7 {
			grid.Weeks = append(grid.Weeks, week)
			week = [7]CalendarCell{}
			col = 0
		}
	}
	if col > 0 {
		for i := col; i < 7; i++ {
			week[i] = inert(" ")
		}
		grid.Weeks = append(grid.Weeks, week)
	}

	py, pm := ShiftMonth(year, month, -1)
	ny, nm := ShiftMonth(year, month, 1)
	grid.Prev = CalendarCell{Text: "⬅️ Previous", Data: MonthToken(CallbackPrevMonth, py, pm)}
	grid.Next = CalendarCell{Text: "Next ➡️", Data: MonthToken(CallbackNextMonth, ny, nm)}
	grid.Confirm = CalendarCell{Text: "Confirm Dates", Data: ConfirmDatesToken()}
	return grid
}

// DayCells returns the interactive day cells in calendar order.
func (g CalendarGrid) DayCells() []CalendarCell {
	var cells []CalendarCell
	for _, week := range g.Weeks {
		for _, c := range week {
			if c.Date != "" {
				cells = append(cells, c)
			}
		}
	}
	return cells
}

// Keyboard lays the grid out as button rows.
func (g CalendarGrid) Keyboard() [][]Button {
	toRow := func(cells []CalendarCell) []Button {
		row := make([]Button, len(cells))
		for i, c := range cells {
			row[i] = Button{Text: c.Text, Data: c.Data}
		}
		return row
	}

	rows := [][]Button{
		toRow([]CalendarCell{g.Header}),
		toRow(g.Weekdays[:]),
	}
	for _, week := range g.Weeks {
		rows = append(rows, toRow(week[:]))
	}
	rows = append(rows, toRow([]CalendarCell{g.Prev, g.Next}))
	rows = append(rows, toRow([]CalendarCell{g.Confirm}))
	return rows
}
