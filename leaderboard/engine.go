// Package leaderboard ranks a loaded KvK snapshot: it partitions records by
// home server, keeps the top window by highest power, then applies the
// interactive sort and search over that window only.
package leaderboard

import (
	"sort"
	"strings"

	"kvk-backend/kvk"
)

const (
	AllServers     = "all"
	DefaultTopN    = 200
	DefaultSortKey = "highest_power"
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// View is the per-session state a leaderboard is derived from.
type View struct {
	Server    string    `json:"server"`
	SortKey   string    `json:"sortKey"`
	Direction Direction `json:"direction"`
	Query     string    `json:"query"`
	TopN      int       `json:"topN"`
}

func DefaultView() View {
	return View{Server: AllServers, SortKey: DefaultSortKey, Direction: Desc, TopN: DefaultTopN}
}

// Toggle selects a sort key: the current key flips direction, a new key
// starts descending.
func (v View) Toggle(key string) View {
	key = kvk.NormalizeColumnName(key)
	if _, ok := kvk.NumericValue(key); !ok {
		return v
	}
	if v.normalized().SortKey == key {
		if v.Direction == Asc {
			v.Direction = Desc
		} else {
			v.Direction = Asc
		}
		return v
	}
	v.SortKey = key
	v.Direction = Desc
	return v
}

func (v View) normalized() View {
	if strings.TrimSpace(v.Server) == "" {
		v.Server = AllServers
	}
	v.Server = strings.TrimSpace(v.Server)
	if key, ok := ParseSortKey(v.SortKey); ok {
		v.SortKey = key
	} else {
		v.SortKey = DefaultSortKey
	}
	if v.Direction != Asc {
		v.Direction = Desc
	}
	if v.TopN <= 0 {
		v.TopN = DefaultTopN
	}
	return v
}

// ParseSortKey resolves a numeric column name in snake_case or camelCase.
func ParseSortKey(name string) (string, bool) {
	key := kvk.NormalizeColumnName(name)
	if _, ok := kvk.NumericValue(key); !ok {
		return "", false
	}
	return key, true
}

func ParseDirection(s string) Direction {
	if strings.EqualFold(strings.TrimSpace(s), string(Asc)) {
		return Asc
	}
	return Desc
}

// Entry is a record plus its 1-based rank by highest power inside the
// top window.
type Entry struct {
	Rank int `json:"rank"`
	kvk.PlayerStatRecord
}

type Aggregates struct {
	HighestPower int64 `json:"highest_power"`
	UnitsKilled  int64 `json:"units_killed"`
	KillcountT5  int64 `json:"killcount_t5"`
	ManaSpent    int64 `json:"mana_spent"`
}

type Result struct {
	View       View       `json:"view"`
	Entries    []Entry    `json:"rows"`
	Aggregates Aggregates `json:"aggregates"`
	// PartitionSize counts the server's records before truncation.
	PartitionSize int `json:"partitionSize"`
	WindowSize    int `json:"windowSize"`
	Total         int `json:"total"`
}

// Derive runs the full pipeline over records. It never mutates its input.
func Derive(records []kvk.PlayerStatRecord, v View) Result {
	v = v.normalized()
	partition := Partition(records, v.Server)
	window := TopWindow(partition, v.TopN)
	return finish(v, window, len(partition), len(records))
}

// Partition returns the records of one server, or every record for "all".
func Partition(records []kvk.PlayerStatRecord, server string) []kvk.PlayerStatRecord {
	server = strings.TrimSpace(server)
	if server == "" || server == AllServers {
		out := make([]kvk.PlayerStatRecord, len(records))
		copy(out, records)
		return out
	}
	out := make([]kvk.PlayerStatRecord, 0, len(records)/4)
	for i := range records {
		if records[i].HomeServer == server {
			out = append(out, records[i])
		}
	}
	return out
}

// TopWindow ranks a partition by highest power (stable) and keeps the first n.
func TopWindow(partition []kvk.PlayerStatRecord, n int) []Entry {
	ranked := make([]kvk.PlayerStatRecord, len(partition))
	copy(ranked, partition)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].HighestPower > ranked[j].HighestPower
	})
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	window := make([]Entry, len(ranked))
	for i := range ranked {
		window[i] = Entry{Rank: i + 1, PlayerStatRecord: ranked[i]}
	}
	return window
}

// Sum totals the four headline metrics over a window.
func Sum(window []Entry) Aggregates {
	var agg Aggregates
	for i := range window {
		agg.HighestPower += window[i].HighestPower
		agg.UnitsKilled += window[i].UnitsKilled
		agg.KillcountT5 += window[i].KillcountT5
		agg.ManaSpent += window[i].ManaSpent
	}
	return agg
}

// Search keeps entries whose name or alliance tag contains query,
// ignoring case.
func Search(entries []Entry, query string) []Entry {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return entries
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Name), q) || strings.Contains(strings.ToLower(e.AllianceTag), q) {
			out = append(out, e)
		}
	}
	return out
}

func sortEntries(entries []Entry, key string, dir Direction) {
	get, ok := kvk.NumericValue(key)
	if !ok {
		return
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := get(entries[i].PlayerStatRecord), get(entries[j].PlayerStatRecord)
		if dir == Asc {
			return a < b
		}
		return a > b
	})
}

// finish applies the interactive stages to a window it does not own.
func finish(v View, window []Entry, partitionSize, total int) Result {
	rows := make([]Entry, len(window))
	copy(rows, window)
	sortEntries(rows, v.SortKey, v.Direction)
	rows = Search(rows, v.Query)

	return Result{
		View:          v,
		Entries:       rows,
		Aggregates:    Sum(window),
		PartitionSize: partitionSize,
		WindowSize:    len(window),
		Total:         total,
	}
}
