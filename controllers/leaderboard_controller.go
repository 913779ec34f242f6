package controllers

import (
	"context"
	"strconv"
	"strings"

	"kvk-backend/leaderboard"

	"github.com/gofiber/fiber/v2"
)

// BoardProvider hands out the current leaderboard snapshot.
type BoardProvider interface {
	Board(ctx context.Context) (*leaderboard.Board, leaderboard.Status)
}

type LeaderboardController struct {
	Boards BoardProvider
	TopN   int
}

func NewLeaderboardController(boards BoardProvider, topN int) *LeaderboardController {
	return &LeaderboardController{Boards: boards, TopN: topN}
}

type LeaderboardResponse struct {
	Status              leaderboard.Status              `json:"status"`
	View                leaderboard.View                `json:"view"`
	Rows                []leaderboard.Entry             `json:"rows"`
	Aggregates          leaderboard.Aggregates          `json:"aggregates"`
	FormattedAggregates leaderboard.FormattedAggregates `json:"formattedAggregates"`
	PartitionSize       int                             `json:"partitionSize"`
	WindowSize          int                             `json:"windowSize"`
	Total               int                             `json:"total"`
}

// GetLeaderboard serves ?server=&sort=&dir=&q=. A toggle=<key> parameter
// applies the column-click rule on top of the current sort.
func (l *LeaderboardController) GetLeaderboard(c *fiber.Ctx) error {
	v := leaderboard.DefaultView()
	v.TopN = l.TopN

	if server := strings.TrimSpace(c.Query("server")); server != "" {
		v.Server = server
	}
	if sort := c.Query("sort"); sort != "" {
		key, ok := leaderboard.ParseSortKey(sort)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Unknown sort column: " + sort})
		}
		v.SortKey = key
	}
	if dir := c.Query("dir"); dir != "" {
		v.Direction = leaderboard.ParseDirection(dir)
	}
	if toggle := c.Query("toggle"); toggle != "" {
		if _, ok := leaderboard.ParseSortKey(toggle); !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Unknown sort column: " + toggle})
		}
		v = v.Toggle(toggle)
	}
	v.Query = c.Query("q")

	board, status := l.Boards.Board(c.UserContext())
	res := board.Query(v)

	return c.JSON(LeaderboardResponse{
		Status:              status,
		View:                res.View,
		Rows:                res.Entries,
		Aggregates:          res.Aggregates,
		FormattedAggregates: res.Aggregates.Formatted(),
		PartitionSize:       res.PartitionSize,
		WindowSize:          res.WindowSize,
		Total:               res.Total,
	})
}

func (l *LeaderboardController) GetServers(c *fiber.Ctx) error {
	board, status := l.Boards.Board(c.UserContext())
	return c.JSON(fiber.Map{
		"status":  status,
		"servers": append([]string{leaderboard.AllServers}, board.Servers()...),
	})
}

func (l *LeaderboardController) GetPlayer(c *fiber.Ctx) error {
	lordID, err := strconv.ParseInt(c.Params("lordId"), 10, 64)
	if err != nil || lordID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid lord id"})
	}

	board, _ := l.Boards.Board(c.UserContext())
	player, ok := board.Player(lordID)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Player not found"})
	}
	return c.JSON(fiber.Map{
		"player": player,
		"fields": leaderboard.Detail(player),
	})
}
