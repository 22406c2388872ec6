package handler

import (
	messagingapp "github.com/campus/messaging/internal/application/messaging"
	"github.com/campus/messaging/internal/interfaces/http/dto"
	"github.com/campus/messaging/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// AttachmentHandler hands out presigned upload slots for image and file
// messages. The returned file_url goes into a regular send.
type AttachmentHandler struct {
	BaseHandler
	attachments *messagingapp.AttachmentService
}

// NewAttachmentHandler creates a new AttachmentHandler
func NewAttachmentHandler(attachments *messagingapp.AttachmentService) *AttachmentHandler {
	return &AttachmentHandler{attachments: attachments}
}

// Initiate godoc
// @Summary      Start an attachment upload
// @Description  Returns a presigned PUT URL. Upload with the same
// @Description  Content-Type, then call confirm.
// @Tags         messages
// @Param        request body dto.InitiateUploadRequest true "File"
// @Success      201 {object} dto.Response
// @Failure      400 {object} dto.Response
// @Router       /messages/attachments [post]
func (h *AttachmentHandler) Initiate(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	var req dto.InitiateUploadRequest
	if !middleware.BindJSON(c, &req) {
		return
	}

	ticket, err := h.attachments.InitiateUpload(c.Request.Context(), messagingapp.InitiateUploadCommand{
		UserID:      userID,
		FileName:    req.FileName,
		ContentType: req.ContentType,
		Size:        req.Size,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, ticket)
}

// Confirm checks the upload landed and returns the attachment to send
//
// POST /api/v1/messages/attachments/confirm
func (h *AttachmentHandler) Confirm(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	var req dto.ConfirmUploadRequest
	if !middleware.BindJSON(c, &req) {
		return
	}

	view, err := h.attachments.ConfirmUpload(c.Request.Context(), messagingapp.ConfirmUploadCommand{
		UserID:      userID,
		StorageKey:  req.StorageKey,
		FileName:    req.FileName,
		ContentType: req.ContentType,
		Size:        req.Size,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, view)
}
