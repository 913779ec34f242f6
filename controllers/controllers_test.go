package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kvk-backend/kvk"
	"kvk-backend/leaderboard"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fixture struct {
	app   *fiber.App
	repo  *kvk.MemoryRepository
	cache *leaderboard.Cache
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := kvk.NewMemoryRepository()
	svc := kvk.NewIngestService(repo, kvk.WithBatchSize(2))
	cache := leaderboard.NewCache(leaderboard.StoreSource{Store: repo}, time.Hour)

	uploads := NewUploadController(svc, cache)
	board := NewLeaderboardController(cache, leaderboard.DefaultTopN)

	app := fiber.New()
	app.Get("/api/uploads", uploads.ListUploads)
	app.Post("/api/uploads", uploads.CreateUpload)
	app.Post("/api/uploads/file", uploads.CreateUploadFromFile)
	app.Delete("/api/uploads", uploads.DeleteUpload)
	app.Delete("/api/uploads/:id", uploads.DeleteUpload)
	app.Get("/api/uploads/:id/csv", uploads.ExportUpload)
	app.Get("/api/leaderboard", board.GetLeaderboard)
	app.Get("/api/leaderboard/servers", board.GetServers)
	app.Get("/api/leaderboard/players/:lordId", board.GetPlayer)

	return fixture{app: app, repo: repo, cache: cache}
}

func (f fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

const sampleCSV = "lord_id,name,alliance_tag,home_server,highest_power,units_killed,killcount_t5,mana_spent\n" +
	"12345,Alice,ABC,7,2500000000,10,1,100\n" +
	"0,Ghost,,7,999,0,0,0\n" +
	"222,Bob,XYZ,7,1000,20,2,200\n" +
	"333,Cara,ABC,9,500,30,3,300\n"

func (f fixture) ingest(t *testing.T, date string) string {
	t.Helper()
	resp, body := f.do(t, "POST", "/api/uploads", CreateUploadRequest{CSVData: sampleCSV, UploadDate: date, Filename: "stats.csv"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(body))

	var out struct {
		Success     bool   `json:"success"`
		UploadID    string `json:"uploadId"`
		RecordCount int    `json:"recordCount"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.True(t, out.Success)
	assert.Equal(t, 3, out.RecordCount)
	return out.UploadID
}

func TestCreateAndListUploads(t *testing.T) {
	f := newFixture(t)
	older := f.ingest(t, "2025-01-01")
	newer := f.ingest(t, "2025-02-01")

	resp, body := f.do(t, "GET", "/api/uploads", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out struct {
		Uploads []struct {
			ID          string `json:"id"`
			Filename    string `json:"filename"`
			UploadDate  string `json:"upload_date"`
			RecordCount int    `json:"record_count"`
		} `json:"uploads"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Uploads, 2)
	assert.Equal(t, newer, out.Uploads[0].ID)
	assert.Equal(t, older, out.Uploads[1].ID)
	assert.Equal(t, "2025-02-01", out.Uploads[0].UploadDate)
	assert.Equal(t, 3, out.Uploads[0].RecordCount)
	assert.Equal(t, "stats.csv", out.Uploads[0].Filename)
}

func TestCreateUploadValidation(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, "POST", "/api/uploads", CreateUploadRequest{CSVData: sampleCSV})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "error")

	resp, _ = f.do(t, "POST", "/api/uploads", CreateUploadRequest{CSVData: sampleCSV, UploadDate: "01/02/2025"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	uploads, err := f.repo.ListUploads(context.Background())
	require.NoError(t, err)
	assert.Empty(t, uploads)
}

func TestDeleteUploadCascades(t *testing.T) {
	f := newFixture(t)
	first := f.ingest(t, "2025-01-01")
	second := f.ingest(t, "2025-01-02")

	resp, _ := f.do(t, "DELETE", "/api/uploads", DeleteUploadRequest{UploadID: first})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, f.repo.CountPlayerStats(first))

	resp, _ = f.do(t, "DELETE", "/api/uploads/"+second, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, f.repo.CountPlayerStats(second))

	resp, _ = f.do(t, "DELETE", "/api/uploads/"+second, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, "DELETE", "/api/uploads", DeleteUploadRequest{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestExportUpload(t *testing.T) {
	f := newFixture(t)
	id := f.ingest(t, "2025-01-01")

	resp, body := f.do(t, "GET", "/api/uploads/"+id+"/csv", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "stats.csv")

	records, stats := kvk.ParseDocument(string(body))
	assert.Equal(t, 0, stats.Skipped)
	require.Len(t, records, 3)
	assert.Equal(t, int64(12345), records[0].LordID)

	resp, _ = f.do(t, "GET", "/api/uploads/missing/csv", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestCreateUploadFromXLSX(t *testing.T) {
	f := newFixture(t)

	wb := excelize.NewFile()
	sheet := wb.GetSheetName(0)
	require.NoError(t, wb.SetSheetRow(sheet, "A1", &[]any{"lord_id", "name", "home_server", "highest_power"}))
	require.NoError(t, wb.SetSheetRow(sheet, "A2", &[]any{77, "Xena", "4", 4200}))
	var xlsx bytes.Buffer
	require.NoError(t, wb.Write(&xlsx))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "kvk.xlsx")
	require.NoError(t, err)
	_, err = part.Write(xlsx.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("uploadDate", "2025-03-01"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/uploads/file", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	out, _ := io.ReadAll(resp.Body)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(out))
	assert.Contains(t, string(out), `"recordCount":1`)

	_, lb := f.do(t, "GET", "/api/leaderboard/players/77", nil)
	assert.Contains(t, string(lb), "Xena")
}

func TestLeaderboardEndpoints(t *testing.T) {
	f := newFixture(t)

	// no uploads yet: an empty board, not an error
	resp, body := f.do(t, "GET", "/api/leaderboard", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var empty LeaderboardResponse
	require.NoError(t, json.Unmarshal(body, &empty))
	assert.Empty(t, empty.Rows)

	f.ingest(t, "2025-01-01")

	resp, body = f.do(t, "GET", "/api/leaderboard?server=7&sort=unitsKilled&dir=asc", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var lb LeaderboardResponse
	require.NoError(t, json.Unmarshal(body, &lb))
	require.Len(t, lb.Rows, 2)
	assert.Equal(t, "units_killed", lb.View.SortKey)
	assert.Equal(t, leaderboard.Asc, lb.View.Direction)
	assert.Equal(t, int64(12345), lb.Rows[0].LordID)
	assert.Equal(t, "2.50B", lb.FormattedAggregates.HighestPower)
	assert.Equal(t, int64(2500001000), lb.Aggregates.HighestPower)
	assert.True(t, lb.Status.Loaded)

	resp, body = f.do(t, "GET", "/api/leaderboard?q=abc&toggle=highest_power", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	lb = LeaderboardResponse{}
	require.NoError(t, json.Unmarshal(body, &lb))
	require.Len(t, lb.Rows, 2)
	assert.Equal(t, leaderboard.Asc, lb.View.Direction)
	assert.Equal(t, "Cara", lb.Rows[0].Name)
	assert.Equal(t, int64(2500001500), lb.Aggregates.HighestPower, "aggregates ignore the search")

	resp, _ = f.do(t, "GET", "/api/leaderboard?sort=name", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	_, body = f.do(t, "GET", "/api/leaderboard/servers", nil)
	assert.Contains(t, string(body), `"servers":["all","7","9"]`)

	resp, body = f.do(t, "GET", "/api/leaderboard/players/222", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"name":"Bob"`)

	resp, _ = f.do(t, "GET", fmt.Sprintf("/api/leaderboard/players/%d", 999999), nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, "GET", "/api/leaderboard/players/abc", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestUploadInvalidatesLeaderboard(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "2025-01-01")
	f.do(t, "GET", "/api/leaderboard", nil)

	_, err := kvk.NewIngestService(f.repo).Ingest(context.Background(), kvk.IngestRequest{
		CSVData:    "lord_id,name,highest_power\n5,Direct,1\n",
		UploadDate: "2025-06-01",
	})
	require.NoError(t, err)

	// written behind the controller's back: the cached board is still served
	_, body := f.do(t, "GET", "/api/leaderboard", nil)
	assert.False(t, strings.Contains(string(body), "Direct"))

	f.ingest(t, "2025-07-01")
	_, body = f.do(t, "GET", "/api/leaderboard", nil)
	assert.Contains(t, string(body), "Alice")
}
