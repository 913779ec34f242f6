package controllers

import (
	"bytes"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strings"

	"kvk-backend/kvk"

	"github.com/gofiber/fiber/v2"
)

// maxUploadFileBytes bounds a multipart CSV or XLSX upload.
const maxUploadFileBytes = 64 << 20

type CreateUploadRequest struct {
	CSVData    string `json:"csvData"`
	UploadDate string `json:"uploadDate"`
	Filename   string `json:"filename"`
}

type DeleteUploadRequest struct {
	UploadID string `json:"uploadId"`
}

// Invalidator is told when stored uploads change.
type Invalidator interface {
	Invalidate()
}

type UploadController struct {
	Service *kvk.IngestService
	Cache   Invalidator
}

func NewUploadController(service *kvk.IngestService, cache Invalidator) *UploadController {
	return &UploadController{Service: service, Cache: cache}
}

func (u *UploadController) ListUploads(c *fiber.Ctx) error {
	uploads, err := u.Service.ListUploads(c.UserContext())
	if err != nil {
		log.Printf("[UPLOADS] list failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list uploads"})
	}
	if uploads == nil {
		uploads = []kvk.UploadManifest{}
	}
	return c.JSON(fiber.Map{"uploads": uploads})
}

func (u *UploadController) CreateUpload(c *fiber.Ctx) error {
	var req CreateUploadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid JSON"})
	}
	return u.ingest(c, kvk.IngestRequest{
		CSVData:    req.CSVData,
		UploadDate: req.UploadDate,
		Filename:   req.Filename,
	})
}

// CreateUploadFromFile accepts a multipart "file" field holding CSV or XLSX.
func (u *UploadController) CreateUploadFromFile(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
	}
	if fh.Size > maxUploadFileBytes {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "file is too large"})
	}

	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Failed to read file"})
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadFileBytes))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Failed to read file"})
	}

	filename := strings.TrimSpace(c.FormValue("filename"))
	if filename == "" {
		filename = filepath.Base(fh.Filename)
	}

	csvData := string(data)
	if kvk.IsXLSX(fh.Filename) {
		csvData, err = kvk.XLSXToCSV(bytes.NewReader(data))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}

	return u.ingest(c, kvk.IngestRequest{
		CSVData:    csvData,
		UploadDate: c.FormValue("uploadDate"),
		Filename:   filename,
	})
}

func (u *UploadController) ingest(c *fiber.Ctx, req kvk.IngestRequest) error {
	res, err := u.Service.Ingest(c.UserContext(), req)
	if err != nil {
		return writeError(c, err)
	}
	u.invalidate()
	return c.JSON(fiber.Map{
		"success":     true,
		"uploadId":    res.UploadID,
		"recordCount": res.RecordCount,
		"skipped":     res.Skipped,
	})
}

// DeleteUpload takes the id from the route or from a JSON body.
func (u *UploadController) DeleteUpload(c *fiber.Ctx) error {
	uploadID := c.Params("id")
	if uploadID == "" {
		var req DeleteUploadRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid JSON"})
			}
		}
		uploadID = req.UploadID
	}

	if err := u.Service.DeleteUpload(c.UserContext(), uploadID); err != nil {
		return writeError(c, err)
	}
	u.invalidate()
	return c.JSON(fiber.Map{"success": true})
}

// ExportUpload streams an upload back as CSV in canonical column order.
func (u *UploadController) ExportUpload(c *fiber.Ctx) error {
	uploadID := c.Params("id")
	upload, err := u.Service.GetUpload(c.UserContext(), uploadID)
	if err != nil {
		return writeError(c, err)
	}
	records, err := u.Service.UploadRecords(c.UserContext(), upload.ID)
	if err != nil {
		return writeError(c, err)
	}

	var buf bytes.Buffer
	if err := kvk.EncodeCSV(&buf, records); err != nil {
		log.Printf("[UPLOADS] export %s failed: %v", upload.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to export upload"})
	}

	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+exportFilename(upload)+`"`)
	return c.Send(buf.Bytes())
}

func (u *UploadController) invalidate() {
	if u.Cache != nil {
		u.Cache.Invalidate()
	}
}

func exportFilename(upload kvk.UploadManifest) string {
	name := strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r == '/' {
			return '_'
		}
		return r
	}, upload.Filename)
	if name == "" || kvk.IsXLSX(name) {
		return kvk.DefaultFilename(upload.UploadDate)
	}
	return name
}

func writeError(c *fiber.Ctx, err error) error {
	var validation *kvk.ValidationError
	switch {
	case errors.As(err, &validation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validation.Error()})
	case errors.Is(err, kvk.ErrUploadNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Upload not found"})
	default:
		log.Printf("[UPLOADS] %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}
