package leaderboard

import (
	"strconv"

	"kvk-backend/kvk"
)

// FormatCompact renders large counts the way the stats table shows them:
// 2.50B, 3.10M, 45.0K, or the plain integer below a thousand.
func FormatCompact(n int64) string {
	v := float64(n)
	switch {
	case n >= 1_000_000_000:
		return strconv.FormatFloat(v/1e9, 'f', 2, 64) + "B"
	case n >= 1_000_000:
		return strconv.FormatFloat(v/1e6, 'f', 2, 64) + "M"
	case n >= 1_000:
		return strconv.FormatFloat(v/1e3, 'f', 1, 64) + "K"
	default:
		return strconv.FormatInt(n, 10)
	}
}

type FormattedAggregates struct {
	HighestPower string `json:"highest_power"`
	UnitsKilled  string `json:"units_killed"`
	KillcountT5  string `json:"killcount_t5"`
	ManaSpent    string `json:"mana_spent"`
}

func (a Aggregates) Formatted() FormattedAggregates {
	return FormattedAggregates{
		HighestPower: FormatCompact(a.HighestPower),
		UnitsKilled:  FormatCompact(a.UnitsKilled),
		KillcountT5:  FormatCompact(a.KillcountT5),
		ManaSpent:    FormatCompact(a.ManaSpent),
	}
}

// Field is one attribute of the player detail view.
type Field struct {
	Column  string `json:"column"`
	Value   any    `json:"value"`
	Display string `json:"display"`
}

// Detail lists every attribute of rec in column order.
func Detail(rec kvk.PlayerStatRecord) []Field {
	names := kvk.ColumnNames()
	out := make([]Field, 0, len(names))
	for _, name := range names {
		value, _ := rec.Field(name)
		f := Field{Column: name, Value: value}
		switch v := value.(type) {
		case int64:
			if name == "lord_id" || name == "alliance_id" || name == "town_center" {
				f.Display = strconv.FormatInt(v, 10)
			} else {
				f.Display = FormatCompact(v)
			}
		case string:
			f.Display = v
		default:
			f.Display = "-"
		}
		out = append(out, f)
	}
	return out
}
