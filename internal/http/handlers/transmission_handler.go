// Transmission HTTP handlers.
//
// This file exposes REST endpoints for negotiated transfers:
//   - POST /transmissions/message         (stage text and ask the target)
//   - POST /transmissions/file            (stream an upload and ask the target)
//   - GET  /transmissions/message/{uuid}  (pull an accepted message once)
//   - GET  /transmissions/file/{uuid}     (pull an accepted file once)
package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-drop-backend/internal/domain"
	"github.com/tbourn/go-drop-backend/internal/http/middleware"
	"github.com/tbourn/go-drop-backend/internal/services"
)

const (
	// FileFieldName is the multipart field clients are expected to use. Any
	// part carrying a filename is accepted as the file.
	FileFieldName = "fileToTransmit"

	maxNameFieldBytes = 256
)

//
// DTOs
//

// SendMessageRequest is the JSON payload for a message transmission.
type SendMessageRequest struct {
	ToName  string `json:"toName"  binding:"required" example:"Bold Lynx"`
	Message string `json:"message" example:"the wifi password is on the fridge"`
}

// SendResponse carries the request uuid the sender will see in the
// negotiation events on its socket.
type SendResponse struct {
	RequestUUID string `json:"requestUuid" example:"e1b9be03-4999-4289-9f03-999b042d65d6"`
}

// SendMessage godoc
// @ID          sendMessage
// @Summary     Offer a message to a connected identity
// @Description Stages the text and sends a request to the target's socket. The outcome arrives on the sender's socket.
// @Tags        Transmissions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Replay-safe key"
// @Param       body  body  handlers.SendMessageRequest  true  "Target and text (1-256 characters)"
// @Success     200  {object}  handlers.SendResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Target not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Target not connected"
// @Failure     502  {object}  handlers.ErrorResponse  "Delivery failed"
// @Router      /transmissions/message [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	if h.replayed(c) {
		return
	}
	from, found := middleware.IdentityFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "unknown identity")
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "toName and message required")
		return
	}

	id, err := h.tx.SendMessage(c.Request.Context(), from, strings.TrimSpace(req.ToName), req.Message)
	if err != nil {
		failErr(c, err)
		return
	}
	h.remember(c, from, id)
	ok(c, http.StatusOK, SendResponse{RequestUUID: id})
}

// SendFile godoc
// @ID          sendFile
// @Summary     Offer a file to a connected identity
// @Description Streams the upload into storage, checks its content type and sends a request to the target's socket.
// @Tags        Transmissions
// @Accept      mpfd
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header    string  false  "Replay-safe key"
// @Param       toName           formData  string  true   "Target display name"
// @Param       fileToTransmit   formData  file    true   "File"
// @Success     200  {object}  handlers.SendResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Target not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Target not connected"
// @Failure     413  {object}  handlers.ErrorResponse  "File too large"
// @Failure     415  {object}  handlers.ErrorResponse  "Unsupported file type"
// @Failure     502  {object}  handlers.ErrorResponse  "Delivery failed"
// @Router      /transmissions/file [post]
func (h *Handlers) SendFile(c *gin.Context) {
	if h.replayed(c) {
		return
	}
	from, found := middleware.IdentityFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "unknown identity")
		return
	}
	ctx := c.Request.Context()

	if h.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)
	}
	mr, err := c.Request.MultipartReader()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart/form-data body required")
		return
	}

	var (
		toName string
		up     *services.UploadedFile
	)
	abort := func(err error) {
		h.tx.DiscardUpload(ctx, up)
		failErr(c, err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				abort(err)
				return
			}
			h.tx.DiscardUpload(ctx, up)
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "malformed multipart body")
			return
		}

		switch {
		case part.FormName() == "toName":
			b, err := io.ReadAll(io.LimitReader(part, maxNameFieldBytes))
			if err != nil {
				_ = part.Close()
				abort(err)
				return
			}
			toName = strings.TrimSpace(string(b))
		case up == nil && (part.FormName() == FileFieldName || part.FileName() != ""):
			up, err = h.tx.Upload(ctx, part.FileName(), part)
			if err != nil {
				_ = part.Close()
				abort(err)
				return
			}
		}
		_ = part.Close()
	}

	if up == nil {
		fail(c, http.StatusBadRequest, ErrCodeNoPayload, services.ErrNoPayload.Error())
		return
	}
	if toName == "" {
		h.tx.DiscardUpload(ctx, up)
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "toName required")
		return
	}

	id, err := h.tx.SendFile(ctx, from, toName, up)
	if err != nil {
		failErr(c, err)
		return
	}
	h.remember(c, from, id)
	ok(c, http.StatusOK, SendResponse{RequestUUID: id})
}

// RetrieveMessage godoc
// @ID          retrieveMessage
// @Summary     Pull an accepted message
// @Description Returns the text and deletes it. A second pull of the same uuid is a 404.
// @Tags        Transmissions
// @Produce     plain
// @Security    BearerAuth
// @Param       uuid  path  string  true  "Transmission uuid"  format(uuid)
// @Success     200  {string}  string  "Message text"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /transmissions/message/{uuid} [get]
func (h *Handlers) RetrieveMessage(c *gin.Context) {
	id, valid := transmissionID(c)
	if !valid {
		return
	}
	m, err := h.tx.RetrieveMessage(c.Request.Context(), middleware.IdentityID(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	middleware.NoStore(c)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(m.Message))
}

// RetrieveFile godoc
// @ID          retrieveFile
// @Summary     Pull an accepted file
// @Description Streams the file with its detected content type and deletes it afterwards. A second pull is a 404.
// @Tags        Transmissions
// @Produce     octet-stream
// @Security    BearerAuth
// @Param       uuid  path  string  true  "Transmission uuid"  format(uuid)
// @Success     200  {file}    file
// @Header      200  {string}  Content-Disposition  "attachment; filename=..."
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /transmissions/file/{uuid} [get]
func (h *Handlers) RetrieveFile(c *gin.Context) {
	id, valid := transmissionID(c)
	if !valid {
		return
	}
	r, err := h.tx.RetrieveFile(c.Request.Context(), middleware.IdentityID(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	defer func() {
		if err := r.Close(); err != nil {
			middleware.LoggerFrom(c).Error().Err(err).Msg("close retrieved file")
		}
	}()

	h.downloadDeadline(c)
	middleware.NoStore(c)
	extra := map[string]string{
		"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": r.File.OriginalName}),
	}
	c.DataFromReader(http.StatusOK, r.Size, contentType(r.File), r, extra)
}

//
// Helpers
//

func transmissionID(c *gin.Context) (string, bool) {
	id := c.Param("uuid")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "transmission id must be a UUID")
		return "", false
	}
	return id, true
}

func contentType(f *domain.FileTransmission) string {
	if f.MimeType == "" {
		return "application/octet-stream"
	}
	return f.MimeType
}

// replayed answers a retried send from the idempotency record, if the
// validator found one.
func (h *Handlers) replayed(c *gin.Context) bool {
	requestID, status, found := middleware.Replay(c)
	if !found {
		return false
	}
	c.Header("Idempotent-Replay", "true")
	ok(c, status, SendResponse{RequestUUID: requestID})
	return true
}

func (h *Handlers) remember(c *gin.Context, from *domain.Identity, requestID string) {
	key, present := middleware.GetIdempotencyKey(c)
	if h.idem == nil || !present {
		return
	}
	err := h.idem.Remember(c.Request.Context(), from.ID, middleware.IdempotencyScope(c), key, requestID, http.StatusOK)
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency remember failed")
	}
}

// downloadDeadline replaces the server-wide write timeout for a streaming
// response. Writers that do not support deadlines are left alone.
func (h *Handlers) downloadDeadline(c *gin.Context) {
	var deadline time.Time
	if h.DownloadTimeout > 0 {
		deadline = time.Now().Add(h.DownloadTimeout)
	}
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(deadline)
}
