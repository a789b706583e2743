package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kennethnrk/mixtex-ocr/internal/common/errdefs"
	"github.com/kennethnrk/mixtex-ocr/internal/installer"
	"github.com/kennethnrk/mixtex-ocr/internal/queue"
	"github.com/kennethnrk/mixtex-ocr/internal/service"
)

// statusClientClosedRequest is logged when the caller went away mid request.
const statusClientClosedRequest = 499

func abort(c *gin.Context, code int, detail string) {
	c.AbortWithStatusJSON(code, gin.H{"detail": detail})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, queue.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, installer.ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, service.ErrFeedbackDisabled), errors.Is(err, service.ErrDownloadDisabled):
		return http.StatusNotImplemented
	}
	switch errdefs.KindOf(err) {
	case errdefs.KindModelNotLoaded:
		return http.StatusServiceUnavailable
	case errdefs.KindInvalidImageInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func predictDetail(source string, err error) string {
	switch {
	case errors.Is(err, errdefs.ErrModelNotLoaded):
		return "Model not loaded"
	case errors.Is(err, errdefs.ErrInvalidImageInput):
		return fmt.Sprintf("Invalid %s image data: %v", source, err)
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrRequestTimeout):
		return err.Error()
	default:
		return fmt.Sprintf("%s prediction failed: %v", source, err)
	}
}
