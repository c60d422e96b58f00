// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package quota

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// PeriodDate truncates t to its UTC calendar date.
func PeriodDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthStart returns the first day of t's calendar month in UTC.
func MonthStart(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// FormatPeriod renders a period as YYYY-MM-DD.
func FormatPeriod(t time.Time) string {
	return PeriodDate(t).Format(dateLayout)
}

// ParsePeriod parses YYYY-MM-DD, or any RFC 3339 timestamp truncated to its date.
func ParsePeriod(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return PeriodDate(t), nil
	}
	if len(s) >= len(dateLayout) {
		if t, err := time.Parse(dateLayout, s[:len(dateLayout)]); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid period %q", s)
}

// periodColumn scans DATE columns whatever form the driver yields them in.
type periodColumn struct {
	t time.Time
}

func (p *periodColumn) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		p.t = PeriodDate(v)
		return nil
	case []byte:
		t, err := ParsePeriod(string(v))
		p.t = t
		return err
	case string:
		t, err := ParsePeriod(v)
		p.t = t
		return err
	case nil:
		p.t = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported period type %T", src)
	}
}
