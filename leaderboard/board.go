package leaderboard

import (
	"sort"
	"strconv"
	"sync"

	"kvk-backend/kvk"
)

type windowKey struct {
	server string
	topN   int
}

type cachedWindow struct {
	entries       []Entry
	partitionSize int
}

// Board is a loaded snapshot. Partition, rank and truncate results are
// memoised per server so that sort and search changes only redo the last
// two stages.
type Board struct {
	records   []kvk.PlayerStatRecord
	byLord    map[int64]int
	servers   []string
	serverSet map[string]bool

	mu      sync.Mutex
	windows map[windowKey]cachedWindow
}

func NewBoard(records []kvk.PlayerStatRecord) *Board {
	b := &Board{
		records:   records,
		byLord:    make(map[int64]int, len(records)),
		serverSet: make(map[string]bool),
		windows:   make(map[windowKey]cachedWindow),
	}
	for i := range records {
		if _, ok := b.byLord[records[i].LordID]; !ok {
			b.byLord[records[i].LordID] = i
		}
		if s := records[i].HomeServer; s != "" && !b.serverSet[s] {
			b.serverSet[s] = true
			b.servers = append(b.servers, s)
		}
	}
	sortServers(b.servers)
	return b
}

func (b *Board) Len() int {
	if b == nil {
		return 0
	}
	return len(b.records)
}

// Query derives the leaderboard for v. The result matches Derive over the
// same records.
func (b *Board) Query(v View) Result {
	v = v.normalized()
	if b == nil {
		return finish(v, nil, 0, 0)
	}
	w := b.window(v.Server, v.TopN)
	return finish(v, w.entries, w.partitionSize, len(b.records))
}

// window memoises only servers present in the snapshot; any other label
// yields an empty partition that is rebuilt per call.
func (b *Board) window(server string, topN int) cachedWindow {
	if server != AllServers && !b.serverSet[server] {
		partition := Partition(b.records, server)
		return cachedWindow{entries: TopWindow(partition, topN), partitionSize: len(partition)}
	}
	key := windowKey{server: server, topN: topN}

	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.windows[key]; ok {
		return w
	}
	partition := Partition(b.records, server)
	w := cachedWindow{entries: TopWindow(partition, topN), partitionSize: len(partition)}
	b.windows[key] = w
	return w
}

// Servers lists the distinct home servers, numeric labels in numeric order.
func (b *Board) Servers() []string {
	if b == nil {
		return []string{}
	}
	out := make([]string, len(b.servers))
	copy(out, b.servers)
	return out
}

// Player returns the first record with lordID.
func (b *Board) Player(lordID int64) (kvk.PlayerStatRecord, bool) {
	if b == nil {
		return kvk.PlayerStatRecord{}, false
	}
	idx, ok := b.byLord[lordID]
	if !ok {
		return kvk.PlayerStatRecord{}, false
	}
	return b.records[idx], true
}

func sortServers(servers []string) {
	sort.SliceStable(servers, func(i, j int) bool {
		a, aerr := strconv.Atoi(servers[i])
		c, cerr := strconv.Atoi(servers[j])
		switch {
		case aerr == nil && cerr == nil:
			return a < c
		case aerr == nil:
			return true
		case cerr == nil:
			return false
		default:
			return servers[i] < servers[j]
		}
	})
}
