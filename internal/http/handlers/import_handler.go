// Import HTTP handlers.
//
// This file exposes REST endpoints for bulk coverage imports:
//   - POST /coverage/imports        (start an asynchronous import run)
//   - GET  /coverage/imports/{id}   (poll run progress and final report)
//
// The POST endpoint accepts the postal-code payload either as a multipart
// upload (form field "file") or as a raw text body. Normalization and
// processing happen in the service layer; the handler only moves bytes and
// translates results into HTTP responses.
package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hajastudio/westcontrol-coverage/internal/services"
)

// defaultMaxImportBytes caps import payloads when no explicit limit is
// configured. Large enough for hundreds of thousands of codes.
const defaultMaxImportBytes = 4 << 20

//
// DTOs
//

// StartImportResponse acknowledges an accepted import run. Clients poll
// GET /coverage/imports/{run_id} for progress and the final report.
type StartImportResponse struct {
	RunID string            `json:"run_id" example:"7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab"`
	State services.RunState `json:"state" example:"running"`
	Total int               `json:"total" example:"12"`
}

//
// Helpers
//

// readImportPayload extracts the raw postal-code text from the request,
// either from a multipart "file" field or from the request body, enforcing
// the configured size cap. The boolean result reports whether the payload
// exceeded the cap.
func (h *Handlers) readImportPayload(c *gin.Context) (string, bool, error) {
	limit := h.maxImportBytes
	if limit <= 0 {
		limit = defaultMaxImportBytes
	}

	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			return "", false, err
		}
		if fh.Size > limit {
			return "", true, nil
		}
		f, err := fh.Open()
		if err != nil {
			return "", false, err
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, limit+1))
		if err != nil {
			return "", false, err
		}
		if int64(len(data)) > limit {
			return "", true, nil
		}
		return string(data), false, nil
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	if err != nil {
		return "", false, err
	}
	if int64(len(data)) > limit {
		return "", true, nil
	}
	return string(data), false, nil
}

//
// Handlers
//

// StartImport godoc
// @ID          startImport
// @Summary     Start a bulk coverage import
// @Description Accepts a list of postal codes (newline, comma, or semicolon separated) and starts an asynchronous import run.
// @Description The payload may be sent as a raw text body or as a multipart upload under the "file" field.
// @Tags        Imports
// @Accept      plain
// @Accept      mpfd
// @Produce     json
//
// @Param       file  formData  file  false  "Text file with postal codes"
//
// @Success     202  {object}  handlers.StartImportResponse  "Import run accepted"
// @Failure     400  {object}  handlers.ErrorResponse        "No valid postal codes in payload"
// @Failure     413  {object}  handlers.ErrorResponse        "Payload exceeds the configured size cap"
// @Failure     500  {object}  handlers.ErrorResponse        "Internal error"
// @Router      /coverage/imports [post]
func (h *Handlers) StartImport(c *gin.Context) {
	ctx := c.Request.Context()

	raw, tooLarge, err := h.readImportPayload(c)
	if tooLarge {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "import payload too large")
		return
	}
	if err != nil {
		// MaxBytesReader installed upstream reports the same condition.
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "import payload too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable import payload")
		return
	}

	run, err := h.impSvc.Start(ctx, raw)
	if err != nil {
		switch err {
		case services.ErrNoValidCodes:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "no valid postal codes found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeImportFailed, err.Error())
		}
		return
	}

	accepted(c, StartImportResponse{
		RunID: run.ID(),
		State: services.RunStateRunning,
		Total: run.Total(),
	})
}

// GetImport godoc
// @ID          getImport
// @Summary     Poll an import run
// @Description Returns a point-in-time snapshot of the run: live progress while running, and the final report once done.
// @Tags        Imports
// @Produce     json
//
// @Param       id  path  string  true  "Run ID (UUID)"  format(uuid)
//
// @Success     200  {object}  services.RunSnapshot   "Run snapshot"
// @Failure     400  {object}  handlers.ErrorResponse "Malformed run id"
// @Failure     404  {object}  handlers.ErrorResponse "Unknown or expired run"
// @Router      /coverage/imports/{id} [get]
func (h *Handlers) GetImport(c *gin.Context) {
	runID := c.Param("id")

	if _, err := uuid.Parse(runID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "run id must be a UUID")
		return
	}

	snap, err := h.impSvc.Get(runID)
	if err != nil {
		switch err {
		case services.ErrRunNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "import run not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, snap)
}
