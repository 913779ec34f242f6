package kvk

import "strings"

type columnKind int

const (
	kindInt columnKind = iota
	kindString
	kindNullableInt
)

type column struct {
	name string
	kind columnKind
	num  func(*PlayerStatRecord) *int64
	str  func(*PlayerStatRecord) *string
	opt  func(*PlayerStatRecord) **int64
}

// columns is the canonical column order used for CSV export and the
// player_stats table.
var columns = []column{
	intColumn("lord_id", func(r *PlayerStatRecord) *int64 { return &r.LordID }),
	strColumn("name", func(r *PlayerStatRecord) *string { return &r.Name }),
	{name: "alliance_id", kind: kindNullableInt, opt: func(r *PlayerStatRecord) **int64 { return &r.AllianceID }},
	strColumn("alliance_tag", func(r *PlayerStatRecord) *string { return &r.AllianceTag }),
	strColumn("home_server", func(r *PlayerStatRecord) *string { return &r.HomeServer }),
	intColumn("town_center", func(r *PlayerStatRecord) *int64 { return &r.TownCenter }),
	intColumn("power", func(r *PlayerStatRecord) *int64 { return &r.Power }),
	intColumn("highest_power", func(r *PlayerStatRecord) *int64 { return &r.HighestPower }),
	intColumn("legion_power", func(r *PlayerStatRecord) *int64 { return &r.LegionPower }),
	intColumn("tech_power", func(r *PlayerStatRecord) *int64 { return &r.TechPower }),
	intColumn("building_power", func(r *PlayerStatRecord) *int64 { return &r.BuildingPower }),
	intColumn("hero_power", func(r *PlayerStatRecord) *int64 { return &r.HeroPower }),
	intColumn("units_killed", func(r *PlayerStatRecord) *int64 { return &r.UnitsKilled }),
	intColumn("units_dead", func(r *PlayerStatRecord) *int64 { return &r.UnitsDead }),
	intColumn("units_healed", func(r *PlayerStatRecord) *int64 { return &r.UnitsHealed }),
	strColumn("faction", func(r *PlayerStatRecord) *string { return &r.Faction }),
	intColumn("merits", func(r *PlayerStatRecord) *int64 { return &r.Merits }),
	intColumn("city_sieges", func(r *PlayerStatRecord) *int64 { return &r.CitySieges }),
	intColumn("defeats", func(r *PlayerStatRecord) *int64 { return &r.Defeats }),
	intColumn("victories", func(r *PlayerStatRecord) *int64 { return &r.Victories }),
	intColumn("gold_spent", func(r *PlayerStatRecord) *int64 { return &r.GoldSpent }),
	intColumn("wood_spent", func(r *PlayerStatRecord) *int64 { return &r.WoodSpent }),
	intColumn("stone_spent", func(r *PlayerStatRecord) *int64 { return &r.StoneSpent }),
	intColumn("mana_spent", func(r *PlayerStatRecord) *int64 { return &r.ManaSpent }),
	intColumn("gems_spent", func(r *PlayerStatRecord) *int64 { return &r.GemsSpent }),
	intColumn("killcount_t1", func(r *PlayerStatRecord) *int64 { return &r.KillcountT1 }),
	intColumn("killcount_t2", func(r *PlayerStatRecord) *int64 { return &r.KillcountT2 }),
	intColumn("killcount_t3", func(r *PlayerStatRecord) *int64 { return &r.KillcountT3 }),
	intColumn("killcount_t4", func(r *PlayerStatRecord) *int64 { return &r.KillcountT4 }),
	intColumn("killcount_t5", func(r *PlayerStatRecord) *int64 { return &r.KillcountT5 }),
	intColumn("resources_given", func(r *PlayerStatRecord) *int64 { return &r.ResourcesGiven }),
	intColumn("helps_given", func(r *PlayerStatRecord) *int64 { return &r.HelpsGiven }),
}

var columnByName = func() map[string]column {
	m := make(map[string]column, len(columns))
	for _, c := range columns {
		m[c.name] = c
	}
	return m
}()

func intColumn(name string, f func(*PlayerStatRecord) *int64) column {
	return column{name: name, kind: kindInt, num: f}
}

func strColumn(name string, f func(*PlayerStatRecord) *string) column {
	return column{name: name, kind: kindString, str: f}
}

// ColumnNames returns every column in canonical order.
func ColumnNames() []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = c.name
	}
	return out
}

// NumericColumnNames returns the columns usable as sort keys.
func NumericColumnNames() []string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if c.kind == kindInt {
			out = append(out, c.name)
		}
	}
	return out
}

// NumericValue returns a getter for a non-nullable integer column.
// Both snake_case and camelCase names are accepted.
func NumericValue(name string) (func(PlayerStatRecord) int64, bool) {
	c, ok := columnByName[NormalizeColumnName(name)]
	if !ok || c.kind != kindInt {
		return nil, false
	}
	return func(r PlayerStatRecord) int64 { return *c.num(&r) }, true
}

// Field returns the raw value of a column: int64, string, or nil for an
// absent alliance id.
func (r PlayerStatRecord) Field(name string) (any, bool) {
	c, ok := columnByName[NormalizeColumnName(name)]
	if !ok {
		return nil, false
	}
	switch c.kind {
	case kindInt:
		return *c.num(&r), true
	case kindString:
		return *c.str(&r), true
	default:
		if v := *c.opt(&r); v != nil {
			return *v, true
		}
		return nil, true
	}
}

// NormalizeColumnName maps header spellings such as "Highest Power",
// "highestPower" or "KILLCOUNT_T5" onto the canonical snake_case name.
func NormalizeColumnName(name string) string {
	name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
	var b strings.Builder
	b.Grow(len(name) + 4)
	prevLower := false
	for _, r := range name {
		switch {
		case r == ' ' || r == '-':
			b.WriteByte('_')
			prevLower = false
		case r >= 'A' && r <= 'Z':
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			prevLower = false
		default:
			b.WriteRune(r)
			prevLower = (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		}
	}
	return b.String()
}
