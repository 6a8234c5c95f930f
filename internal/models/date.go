package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout là định dạng Edm.Date của Dataverse.
const DateLayout = "2006-01-02"

// Location là múi giờ dùng để quy đổi thời điểm sang ngày lịch (mặc định giờ Việt Nam).
// main ghi đè theo cấu hình workflow.timezone.
var Location = time.FixedZone("ICT", 7*60*60)

// Date là một ngày lịch (không có giờ) như CRM lưu trong các cột Edm.Date.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf lấy ngày lịch của t theo múi giờ loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate nhận "YYYY-MM-DD" hoặc một thời điểm RFC3339 (quy về ngày theo Location).
func ParseDate(s string) (Date, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return DateOf(t, time.UTC), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t, Location), nil
}

// In trả về thời điểm 00:00 của ngày trong loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.In(time.UTC).AddDate(0, 0, n), time.UTC)
}

func (d Date) Before(o Date) bool { return d.In(time.UTC).Before(o.In(time.UTC)) }
func (d Date) After(o Date) bool  { return d.In(time.UTC).After(o.In(time.UTC)) }
func (d Date) IsZero() bool       { return d == Date{} }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
