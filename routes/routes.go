package routes

import (
	"kvk-backend/controllers"
	"kvk-backend/middleware"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Uploads     *controllers.UploadController
	Leaderboard *controllers.LeaderboardController
	Metrics     fiber.Handler
	JWTSecret   string
}

func Register(app *fiber.App, h Handlers) {
	api := app.Group("/api")
	auth := middleware.RequireAuth(h.JWTSecret)

	uploads := api.Group("/uploads")
	uploads.Get("/", h.Uploads.ListUploads)
	uploads.Get("/:id/csv", h.Uploads.ExportUpload)
	uploads.Post("/", auth, h.Uploads.CreateUpload)
	uploads.Post("/file", auth, h.Uploads.CreateUploadFromFile)
	uploads.Delete("/", auth, h.Uploads.DeleteUpload)
	uploads.Delete("/:id", auth, h.Uploads.DeleteUpload)

	board := api.Group("/leaderboard")
	board.Get("/", h.Leaderboard.GetLeaderboard)
	board.Get("/servers", h.Leaderboard.GetServers)
	board.Get("/players/:lordId", h.Leaderboard.GetPlayer)

	if h.Metrics != nil {
		app.Get("/metrics", h.Metrics)
	}
}
