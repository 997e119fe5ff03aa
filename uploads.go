package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/models"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Evidence uploads for count journals and journal lines. The client asks for
// a signed URL, PUTs the file straight to the bucket, then calls complete to
// register the document against the journal or line it belongs to.

type uploadContext struct {
	ReferenceType string `json:"referenceType"`
	ReferenceID   int    `json:"referenceId"`
}

type uploadSignRequest struct {
	FileName string        `json:"fileName"`
	MimeType string        `json:"mimeType"`
	Size     int64         `json:"size"`
	Context  uploadContext `json:"context"`
}

type uploadCompleteRequest struct {
	ObjectKey string        `json:"objectKey"`
	MimeType  string        `json:"mimeType"`
	Context   uploadContext `json:"context"`
}

type uploadSignResponse struct {
	UploadURL string            `json:"uploadUrl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	ObjectKey string            `json:"objectKey"`
	AccessURL string            `json:"accessUrl"`
	ExpiresAt string            `json:"expiresAt"`
}

type uploadCompleteResponse struct {
	DocumentID         int    `json:"documentId"`
	DocumentURL        string `json:"documentUrl"`
	ObjectKey          string `json:"objectKey"`
	ThumbnailURL       string `json:"thumbnailUrl,omitempty"`
	ThumbnailObjectKey string `json:"thumbnailObjectKey,omitempty"`
}

const maxUploadSizeBytes int64 = 5 * 1024 * 1024

var evidenceMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"application/pdf": true,
}

var evidenceReferenceTypes = map[string]bool{
	"count_journals": true,
	"journal_lines":  true,
}

func signUploadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		requestID := requestIDFromHeaders(c)

		businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req uploadSignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		if req.FileName == "" || req.MimeType == "" || req.Size <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fileName, mimeType and size are required"})
			return
		}
		if req.Size > maxUploadSizeBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file size exceeds 5MB limit"})
			return
		}
		if !evidenceMimeTypes[req.MimeType] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
			return
		}
		if !evidenceReferenceTypes[req.Context.ReferenceType] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "referenceType must be count_journals or journal_lines"})
			return
		}

		ext := strings.ToLower(filepath.Ext(req.FileName))
		if ext == "" {
			ext = extensionFromMimeType(req.MimeType)
		}
		if ext == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file extension is required"})
			return
		}

		objectKey := path.Join(businessId, req.Context.ReferenceType, uuid.New().String()+ext)
		signed, err := utils.SignUpload(objectKey, req.MimeType, 15*time.Minute)
		if err != nil {
			logUploadError(logger, err, requestID)
			message := "failed to sign upload"
			if !strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
				message = fmt.Sprintf("failed to sign upload: %v", err)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": message})
			return
		}

		logger.WithFields(logrus.Fields{
			"tenant_id":  businessId,
			"mime_type":  req.MimeType,
			"size":       req.Size,
			"object_key": objectKey,
		}).Info("[upload.sign]")

		c.JSON(http.StatusOK, gin.H{
			"data": uploadSignResponse{
				UploadURL: signed.UploadURL,
				Method:    signed.Method,
				Headers:   signed.Headers,
				ObjectKey: signed.ObjectKey,
				AccessURL: signed.AccessURL,
				ExpiresAt: signed.ExpiresAt.UTC().Format(time.RFC3339),
			},
		})
	}
}

func completeUploadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		requestID := requestIDFromHeaders(c)
		ctx := c.Request.Context()

		businessId, ok := utils.GetBusinessIdFromContext(ctx)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req uploadCompleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.ObjectKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "objectKey is required"})
			return
		}
		if !strings.HasPrefix(req.ObjectKey, businessId+"/") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid object key"})
			return
		}
		if !evidenceReferenceTypes[req.Context.ReferenceType] || req.Context.ReferenceID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "referenceType and referenceId are required"})
			return
		}

		if err := validateEvidenceReference(ctx, businessId, req.Context); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		response := uploadCompleteResponse{
			ObjectKey:   req.ObjectKey,
			DocumentURL: utils.BuildObjectAccessURL(req.ObjectKey),
		}

		if strings.HasPrefix(req.MimeType, "image/") {
			thumbnailKey, err := createThumbnail(ctx, req.ObjectKey)
			if err != nil {
				logUploadError(logger, err, requestID)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate thumbnail"})
				return
			}
			response.ThumbnailURL = utils.BuildObjectAccessURL(thumbnailKey)
			response.ThumbnailObjectKey = thumbnailKey
		}

		doc := models.NewDocument{DocumentUrl: response.DocumentURL}.
			MapInput(req.Context.ReferenceType, req.Context.ReferenceID)
		err := config.GetDB().Transaction(func(tx *gorm.DB) error {
			doc.BusinessId = businessId
			return doc.Store(tx, ctx)
		})
		if err != nil {
			logUploadError(logger, err, requestID)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		response.DocumentID = doc.ID

		logger.WithFields(logrus.Fields{
			"object_key": req.ObjectKey,
			"status":     "completed",
		}).Info("[upload.complete]")

		c.JSON(http.StatusOK, gin.H{"data": response})
	}
}

func uploadObjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		objectKey := strings.TrimSpace(c.Query("key"))
		if objectKey == "" || strings.Contains(objectKey, "..") || strings.HasPrefix(objectKey, "/") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key"})
			return
		}

		data, err := utils.DownloadObjectFromGCS(c.Request.Context(), objectKey)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
			return
		}

		contentType := http.DetectContentType(data)
		c.Data(http.StatusOK, contentType, data)
	}
}

func validateEvidenceReference(ctx context.Context, businessId string, ref uploadContext) error {
	db := config.GetDB()
	if db == nil {
		return errors.New("db is nil")
	}

	var count int64
	var err error
	switch ref.ReferenceType {
	case "count_journals":
		err = db.WithContext(ctx).Model(&models.CountJournal{}).
			Where("business_id = ? AND id = ?", businessId, ref.ReferenceID).
			Count(&count).Error
	case "journal_lines":
		err = db.WithContext(ctx).Model(&models.JournalLine{}).
			Where("business_id = ? AND id = ?", businessId, ref.ReferenceID).
			Count(&count).Error
	}
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%s %d not found", ref.ReferenceType, ref.ReferenceID)
	}
	return nil
}

func createThumbnail(ctx context.Context, objectKey string) (string, error) {
	data, err := utils.DownloadObjectFromGCS(ctx, objectKey)
	if err != nil {
		return "", err
	}
	if int64(len(data)) > maxUploadSizeBytes {
		return "", errors.New("file size exceeds 5MB limit")
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	thumbnail := imaging.Resize(img, 200, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumbnail, imaging.JPEG); err != nil {
		return "", err
	}

	thumbnailKey := thumbnailObjectKey(objectKey)
	if err := utils.UploadObjectToGCS(ctx, thumbnailKey, "image/jpeg", buf.Bytes()); err != nil {
		return "", err
	}
	return thumbnailKey, nil
}

func thumbnailObjectKey(objectKey string) string {
	dir := path.Dir(objectKey)
	filename := path.Base(objectKey)
	return path.Join(dir, "thumbnails", filename)
}

func extensionFromMimeType(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "application/pdf":
		return ".pdf"
	default:
		return ""
	}
}

func logUploadError(logger *logrus.Logger, err error, requestID string) {
	logger.WithFields(logrus.Fields{
		"error":      err.Error(),
		"request_id": requestID,
	}).Error("[upload.error]")
}

func requestIDFromHeaders(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader("X-Correlation-Id")); id != "" {
		return id
	}
	if id := strings.TrimSpace(c.GetHeader("X-Request-Id")); id != "" {
		return id
	}
	return fmt.Sprintf("upload-%d", time.Now().UnixNano())
}
