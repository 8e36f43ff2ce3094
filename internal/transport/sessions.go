package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"go-image-filter/internal/auth"
	apperrors "go-image-filter/internal/errors"
	"go-image-filter/internal/logger"
	"go-image-filter/internal/repository"
	"go-image-filter/internal/session"
	"go-image-filter/internal/storage"
	"go-image-filter/pkg/models"
	"go-image-filter/pkg/validation"
)

const defaultHistoryLimit = 50

func (a *api) createSession(c *gin.Context) {
	owner, _ := auth.GetSubject(c.Request.Context())
	ctrl := a.Sessions.Create(owner)

	logger.WithFields(logrus.Fields{
		"session_id": ctrl.ID(),
		"ip":         c.ClientIP(),
	}).Info("Session created")

	c.JSON(http.StatusCreated, ctrl.Response())
}

func (a *api) getSession(c *gin.Context) {
	ctrl, ok := a.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ctrl.Response())
}

func (a *api) deleteSession(c *gin.Context) {
	ctrl, ok := a.lookup(c)
	if !ok {
		return
	}
	if err := a.Sessions.Delete(ctrl.ID()); err != nil {
		respondError(c, apperrors.GetStatusCode(err), "failed to delete session", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// selectFile accepts either a multipart "image" part or a JSON {"source": ref}
func (a *api) selectFile(c *gin.Context) {
	ctrl, ok := a.lookup(c)
	if !ok {
		return
	}

	var (
		data     []byte
		filename string
		err      error
	)
	if strings.HasPrefix(c.ContentType(), "application/json") {
		data, filename, err = a.fetchSource(c)
	} else {
		data, filename, err = a.readUpload(c)
	}
	if err != nil {
		respondError(c, determineStatusCode(err), "invalid image", err)
		return
	}

	snap, err := ctrl.TryDispatch(session.FileSelected{
		Image:       data,
		Filename:    filename,
		OriginalURI: fmt.Sprintf("/sessions/%s/original", ctrl.ID()),
	})
	a.respondDispatch(c, ctrl, snap, err)
}

func (a *api) readUpload(c *gin.Context) ([]byte, string, error) {
	header, err := c.FormFile("image")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, "", repository.ImageError(storage.ErrTooLarge)
		}
		return nil, "", apperrors.NewValidationError("multipart field \"image\" is required", err)
	}
	if header.Size > a.cfg.MaxUploadSize {
		return nil, "", repository.ImageError(fmt.Errorf("%w: %d bytes", storage.ErrTooLarge, header.Size))
	}

	f, err := header.Open()
	if err != nil {
		return nil, "", apperrors.NewInternalError("failed to open upload", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, a.cfg.MaxUploadSize+1))
	if err != nil {
		return nil, "", apperrors.NewInternalError("failed to read upload", err)
	}
	if _, err := storage.DetectImage(data, a.cfg.MaxUploadSize); err != nil {
		return nil, "", repository.ImageError(err)
	}
	return data, header.Filename, nil
}

func (a *api) fetchSource(c *gin.Context) ([]byte, string, error) {
	var req models.SourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, "", apperrors.NewValidationError("invalid request format", err)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), a.cfg.RequestTimeout)
	defer cancel()

	logger.WithFields(logrus.Fields{
		"source": req.Source,
		"ip":     c.ClientIP(),
	}).Debug("Fetching source image")

	img, err := a.Sources.FetchImage(ctx, req.Source)
	if err != nil {
		return nil, "", err
	}
	return img.Data, img.Filename, nil
}

func (a *api) original(c *gin.Context) {
	ctrl, ok := a.lookup(c)
	if !ok {
		return
	}
	data, _, ok := ctrl.Original()
	if !ok {
		respondError(c, http.StatusNotFound, "no image selected", apperrors.NewNotFoundError("no image selected", nil))
		return
	}
	contentType, err := storage.DetectImage(data, int64(len(data)))
	if err != nil {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, data)
}

func (a *api) selectAlgorithm(c *gin.Context) {
	ctrl, ok := a.lookup(c)
	if !ok {
		return
	}

	var req models.AlgorithmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request format", err)
		return
	}
	alg, err := validation.ValidateAlgorithm(req.Algorithm)
	if err != nil {
		respondError(c, apperrors.GetStatusCode(err), "invalid algorithm", err)
		return
	}
	if alg == models.AlgorithmCanny {
		if err := validation.ValidateCanny(req.Canny); err != nil {
			respondError(c, apperrors.GetStatusCode(err), "invalid canny parameters", err)
			return
		}
	} else {
		req.Canny = nil
	}

	snap, err := ctrl.TryDispatch(session.AlgorithmSelected{Algorithm: alg, Canny: req.Canny})
	a.respondDispatch(c, ctrl, snap, err)
}

func (a *api) selectKernel(c *gin.Context) {
	ctrl, ok := a.lookup(c)
	if !ok {
		return
	}

	var req models.KernelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request format", err)
		return
	}
	if err := validation.ValidateKernelSize(req.KernelSize); err != nil {
		respondError(c, apperrors.GetStatusCode(err), "invalid kernel size", err)
		return
	}

	snap, err := ctrl.TryDispatch(session.KernelSizeSelected{Size: req.KernelSize})
	a.respondDispatch(c, ctrl, snap, err)
}

func (a *api) submit(c *gin.Context) {
	ctrl, ok := a.lookup(c)
	if !ok {
		return
	}
	snap, err := ctrl.TryDispatch(session.Submit{})
	a.respondDispatch(c, ctrl, snap, err)
}

// reset is accepted while loading; the pending result will be discarded
func (a *api) reset(c *gin.Context) {
	ctrl, ok := a.lookup(c)
	if !ok {
		return
	}
	snap := ctrl.Dispatch(session.Reset{})
	a.respondDispatch(c, ctrl, snap, nil)
}

func (a *api) download(c *gin.Context) {
	ctrl, ok := a.lookup(c)
	if !ok {
		return
	}
	data, filename, err := processedImage(ctrl)
	if err != nil {
		respondError(c, apperrors.GetStatusCode(err), "download unavailable", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (a *api) save(c *gin.Context) {
	ctrl, ok := a.lookup(c)
	if !ok {
		return
	}
	if a.Sink == nil {
		respondError(c, http.StatusNotImplemented, "save unavailable", errors.New("no result storage configured"))
		return
	}
	data, filename, err := processedImage(ctrl)
	if err != nil {
		respondError(c, apperrors.GetStatusCode(err), "save unavailable", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), a.cfg.RequestTimeout)
	defer cancel()

	location, err := a.Sink.Save(ctx, filename, data)
	if err != nil {
		respondError(c, http.StatusBadGateway, "failed to save processed image", err)
		return
	}

	logger.WithFields(logrus.Fields{
		"session_id": ctrl.ID(),
		"location":   location,
	}).Info("Processed image saved")

	c.JSON(http.StatusCreated, models.SaveResponse{Location: location, Filename: filename})
}

func (a *api) events(c *gin.Context) {
	ctrl, ok := a.lookup(c)
	if !ok {
		return
	}
	if a.Hub == nil {
		respondError(c, http.StatusNotImplemented, "live updates unavailable", errors.New("no event hub configured"))
		return
	}
	initial, err := json.Marshal(ctrl.Response())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to encode session", err)
		return
	}
	a.Hub.Serve(c.Writer, c.Request, ctrl.ID(), initial)
}

func (a *api) history(c *gin.Context) {
	ctrl, ok := a.lookup(c)
	if !ok {
		return
	}
	if a.History == nil {
		respondError(c, http.StatusNotFound, "history unavailable", repository.ErrHistoryDisabled)
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "invalid limit", fmt.Errorf("limit must be a positive integer, got %q", raw))
			return
		}
		limit = n
	}

	records, err := a.History.History(c.Request.Context(), ctrl.ID(), limit)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, repository.ErrHistoryDisabled) {
			code = http.StatusNotFound
		}
		respondError(c, code, "failed to load history", err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// lookup resolves :id; sessions created by an authenticated subject are only
// visible to that subject
func (a *api) lookup(c *gin.Context) (*session.Controller, bool) {
	ctrl, err := a.Sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.GetStatusCode(err), "unknown session", err)
		return nil, false
	}
	if owner := ctrl.Owner(); owner != "" {
		subject, _ := auth.GetSubject(c.Request.Context())
		if subject != owner {
			err := apperrors.NewNotFoundError("session not found", nil)
			respondError(c, err.StatusCode, "unknown session", err)
			return nil, false
		}
	}
	return ctrl, true
}

// respondDispatch returns 202 while a request is running, otherwise 200
func (a *api) respondDispatch(c *gin.Context, ctrl *session.Controller, snap session.Snapshot, err error) {
	if err != nil {
		respondError(c, apperrors.GetStatusCode(err), "action rejected", err)
		return
	}
	code := http.StatusOK
	if snap.Status == models.StatusLoading {
		code = http.StatusAccepted
	}
	c.JSON(code, ctrl.Response())
}

func processedImage(ctrl *session.Controller) ([]byte, string, error) {
	snap := ctrl.Current()
	if snap.Images.Processed == "" {
		return nil, "", apperrors.NewConflictError("no processed image available")
	}
	data, err := models.DecodeDataURI(snap.Images.Processed)
	if err != nil {
		return nil, "", apperrors.NewInternalError("processed image is corrupt", err)
	}
	return data, models.DownloadFilename(snap.Algorithm, snap.KernelSize, time.Now()), nil
}
