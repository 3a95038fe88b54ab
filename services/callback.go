package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/phonginreallife/inres-oncall/db"
)

// CallbackKind identifies what an inline button press asks for.
type CallbackKind string

const (
	CallbackNoop         CallbackKind = "noop"
	CallbackSelectDate   CallbackKind = "select_date"
	CallbackPrevMonth    CallbackKind = "prev_month"
	CallbackNextMonth    CallbackKind = "next_month"
	CallbackConfirmDates CallbackKind = "confirm_dates"
	CallbackSelectMember CallbackKind = "select_member"
	CallbackAck          CallbackKind = "ack"
)

// Callback is a decoded button token.
type Callback struct {
	Kind       CallbackKind
	Date       string
	Year       int
	Month      time.Month
	MemberID   int64
	IncidentID string
}

// Token encodes the callback for use as button data.
func (c Callback) Token() string {
	switch c.Kind {
	case CallbackSelectDate:
		return string(c.Kind) + ":" + c.Date
	case CallbackPrevMonth, CallbackNextMonth:
		return fmt.Sprintf("%s:%d:%d", c.Kind, c.Year, int(c.Month))
	case CallbackSelectMember:
		return string(c.Kind) + ":" + strconv.FormatInt(c.MemberID, 10)
	case CallbackAck:
		return string(c.Kind) + ":" + c.IncidentID
	case CallbackConfirmDates:
		return string(c.Kind)
	default:
		return string(CallbackNoop)
	}
}

func NoopToken() string { return string(CallbackNoop) }

func SelectDateToken(date string) string {
	return Callback{Kind: CallbackSelectDate, Date: date}.Token()
}

func MonthToken(kind CallbackKind, year int, month time.Month) string {
	return Callback{Kind: kind, Year: year, Month: month}.Token()
}

func ConfirmDatesToken() string { return string(CallbackConfirmDates) }

func SelectMemberToken(id int64) string {
	return Callback{Kind: CallbackSelectMember, MemberID: id}.Token()
}

func AckToken(incidentID string) string {
	return Callback{Kind: CallbackAck, IncidentID: incidentID}.Token()
}

// ParseCallback decodes a button token. Malformed tokens are errors.
func ParseCallback(data string) (Callback, error) {
	kind, rest, _ := strings.Cut(data, ":")
	cb := Callback{Kind: CallbackKind(kind)}

	switch cb.Kind {
	case CallbackNoop, CallbackConfirmDates:
		if rest != "" {
			return Callback{}, fmt.Errorf("unexpected payload in %q", data)
		}
	case CallbackSelectDate:
		if _, err := time.Parse(db.RosterDateLayout, rest); err != nil {
			return Callback{}, fmt.Errorf("invalid date in %q", data)
		}
		cb.Date = rest
	case CallbackPrevMonth, CallbackNextMonth:
		ys, ms, ok := strings.Cut(rest, ":")
		year, yerr := strconv.Atoi(ys)
		month, merr := strconv.Atoi(ms)
		if !ok || yerr != nil || merr != nil || month < 1 || month > 12 {
			return Callback{}, fmt.Errorf("invalid month in %q", data)
		}
		cb.Year, cb.Month = year, time.Month(month)
	case CallbackSelectMember:
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return Callback{}, fmt.Errorf("invalid member in %q", data)
		}
		cb.MemberID = id
	case CallbackAck:
		if rest == "" {
			return Callback{}, fmt.Errorf("missing incident in %q", data)
		}
		cb.IncidentID = rest
	default:
		return Callback{}, fmt.Errorf("unknown callback %q", data)
	}
	return cb, nil
}
