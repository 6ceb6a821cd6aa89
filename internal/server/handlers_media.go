package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/skaldhq/skald/internal/common"
	"github.com/skaldhq/skald/internal/models"
)

// uploadURLExpiry bounds how long a presigned PUT URL stays usable.
const uploadURLExpiry = time.Hour

// allowedContentTypes lists the media types accepted for upload.
var allowedContentTypes = map[string]bool{
	"audio/mpeg":      true,
	"audio/wav":       true,
	"audio/x-wav":     true,
	"audio/ogg":       true,
	"audio/flac":      true,
	"audio/mp4":       true,
	"audio/aac":       true,
	"video/mp4":       true,
	"video/webm":      true,
	"video/quicktime": true,
}

// handleSignedUpload handles POST /v2/media/signed-upload.
// Returns a presigned PUT URL scoped to the authenticated user's namespace.
func (s *Server) handleSignedUpload(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	userID := common.ResolveUserID(r.Context())
	if userID == "" {
		WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Filename == "" {
		WriteDomainError(w, &models.ValidationError{Field: "filename", Message: "is required"})
		return
	}
	if !allowedContentTypes[req.ContentType] {
		WriteDomainError(w, &models.ValidationError{Field: "content_type", Message: "unsupported media type"})
		return
	}

	objectKey := s.objects.GenerateObjectKey(userID, req.Filename)
	signed, err := s.objects.GenerateSignedPutURL(r.Context(), objectKey, req.ContentType, uploadURLExpiry)
	if err != nil {
		s.logger.Error().Err(err).Str("object_key", objectKey).Msg("Failed to presign upload")
		WriteError(w, http.StatusBadGateway, "object store unavailable")
		return
	}

	WriteJSON(w, http.StatusOK, signed)
}

// handleVerifyUpload handles POST /v2/media/verify-upload.
// Confirms the client's direct upload landed and reports what the store sees.
func (s *Server) handleVerifyUpload(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	userID := common.ResolveUserID(r.Context())
	if userID == "" {
		WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		ObjectKey string `json:"object_key"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := models.ValidateObjectKey(req.ObjectKey, userID); err != nil {
		WriteDomainError(w, err)
		return
	}

	meta, err := s.objects.GetMetadata(r.Context(), req.ObjectKey)
	if err != nil {
		var dlErr *models.DownloadError
		if errors.As(err, &dlErr) && dlErr.Reason == models.DownloadNotFound {
			WriteJSON(w, http.StatusOK, map[string]interface{}{
				"object_key": req.ObjectKey,
				"exists":     false,
			})
			return
		}
		s.logger.Error().Err(err).Str("object_key", req.ObjectKey).Msg("Failed to verify upload")
		WriteError(w, http.StatusBadGateway, "object store unavailable")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"object_key":   req.ObjectKey,
		"exists":       true,
		"content_type": meta.ContentType,
		"size_bytes":   meta.ContentLength,
	})
}
