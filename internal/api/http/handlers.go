package httpapi

import (
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kennethnrk/mixtex-ocr/internal/imageprep"
	"github.com/kennethnrk/mixtex-ocr/internal/inference"
	"github.com/kennethnrk/mixtex-ocr/internal/postprocess"
	"github.com/kennethnrk/mixtex-ocr/internal/service"
	"github.com/kennethnrk/mixtex-ocr/internal/store"
)

type predictResponse struct {
	Success      bool   `json:"success"`
	LaTeX        string `json:"latex"`
	Message      string `json:"message"`
	RequestID    string `json:"request_id"`
	Steps        int    `json:"steps"`
	Termination  string `json:"termination"`
	ModelVersion uint64 `json:"model_version"`
	DurationMS   int64  `json:"duration_ms"`
	MathML       string `json:"mathml,omitempty"`
}

type healthResponse struct {
	service.Health
	ModelVersion uint64     `json:"model_version"`
	LoadedAt     *time.Time `json:"loaded_at,omitempty"`
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "MixTeX OCR API is running"})
}

func (s *Server) health(c *gin.Context) {
	h := s.svc.Health(c.Request.Context())
	resp := healthResponse{Health: h, ModelVersion: h.Model.Version}
	if h.ModelLoaded {
		loadedAt := h.Model.LoadedAt
		resp.LoadedAt = &loadedAt
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) predictUpload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		abort(c, http.StatusBadRequest, "file is required")
		return
	}
	if !strings.HasPrefix(fh.Header.Get("Content-Type"), "image/") {
		abort(c, http.StatusBadRequest, "File must be an image")
		return
	}
	if fh.Size > maxUploadBytes {
		abort(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", maxUploadBytes))
		return
	}
	if err := s.svc.Ready(Transport); err != nil {
		s.predictFailed(c, "upload", err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		abort(c, http.StatusBadRequest, fmt.Sprintf("read upload: %v", err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		abort(c, http.StatusBadRequest, fmt.Sprintf("read upload: %v", err))
		return
	}

	img, err := imageprep.Decode(data)
	if err != nil {
		s.predictFailed(c, "upload", err)
		return
	}
	s.predict(c, "upload", img)
}

// predictBase64 handles both base64 endpoints; source only changes the
// messages.
func (s *Server) predictBase64(source string) gin.HandlerFunc {
	return func(c *gin.Context) {
		data := c.PostForm("image_data")
		if data == "" {
			abort(c, http.StatusBadRequest, "image_data is required")
			return
		}
		if err := s.svc.Ready(Transport); err != nil {
			s.predictFailed(c, source, err)
			return
		}
		img, err := imageprep.DecodeBase64(data)
		if err != nil {
			s.predictFailed(c, source, err)
			return
		}
		s.predict(c, source, img)
	}
}

func (s *Server) predict(c *gin.Context, source string, img image.Image) {
	req, err := predictRequest(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.svc.Predict(c.Request.Context(), Transport, img, req)
	if err != nil {
		s.predictFailed(c, source, err)
		return
	}
	c.JSON(http.StatusOK, predictResponse{
		Success:      true,
		LaTeX:        p.LaTeX,
		Message:      fmt.Sprintf("%s recognized successfully", source),
		RequestID:    p.RequestID,
		Steps:        p.Steps,
		Termination:  string(p.Termination),
		ModelVersion: p.ModelVersion,
		DurationMS:   p.Duration.Milliseconds(),
		MathML:       p.MathML,
	})
}

func (s *Server) predictFailed(c *gin.Context, source string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Prediction failed",
			zap.String("source", source),
			zap.String(requestIDKey, c.GetString(requestIDKey)),
			zap.Error(err))
	}
	abort(c, code, predictDetail(source, err))
}

func predictRequest(c *gin.Context) (service.PredictRequest, error) {
	req := service.PredictRequest{RequestID: c.GetString(requestIDKey)}
	var err error
	opts := postprocess.Options{}
	if opts.UseDollars, err = formBool(c, "use_dollars"); err != nil {
		return req, err
	}
	if opts.ConvertAlign, err = formBool(c, "convert_align"); err != nil {
		return req, err
	}
	if opts.UseTypst, err = formBool(c, "use_typst"); err != nil {
		return req, err
	}
	if req.MathML, err = formBool(c, "mathml"); err != nil {
		return req, err
	}
	req.Options = inference.Options{Options: opts}

	if v := c.PostForm("max_length"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return req, fmt.Errorf("max_length must be a positive integer, got %q", v)
		}
		req.MaxLength = n
	}
	return req, nil
}

// formBool accepts the spellings HTML forms and clients commonly send.
func formBool(c *gin.Context, key string) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(c.PostForm(key)))
	switch v {
	case "", "0", "false", "off", "no":
		return false, nil
	case "1", "true", "on", "yes":
		return true, nil
	default:
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
}

func (s *Server) feedback(c *gin.Context) {
	rec := store.FeedbackRecord{
		LaTeX:     c.PostForm("latex_text"),
		Feedback:  c.PostForm("feedback"),
		ImageData: c.PostForm("image_data"),
		RequestID: c.GetString(requestIDKey),
	}
	if strings.TrimSpace(rec.LaTeX) == "" || strings.TrimSpace(rec.Feedback) == "" {
		abort(c, http.StatusBadRequest, "latex_text and feedback are required")
		return
	}
	if len(rec.ImageData) > maxUploadBytes {
		abort(c, http.StatusRequestEntityTooLarge, "image_data is too large")
		return
	}

	saved, err := s.svc.SubmitFeedback(rec)
	if err != nil {
		abort(c, statusFor(err), fmt.Sprintf("Feedback submission failed: %v", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Feedback recorded", "id": saved.ID})
}

func (s *Server) statistics(c *gin.Context) {
	stats, err := s.svc.Statistics()
	if err != nil {
		abort(c, http.StatusInternalServerError, fmt.Sprintf("Statistics failed: %v", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"total_count":     stats.TotalCount,
		"feedback_counts": stats.FeedbackCounts,
	})
}

func (s *Server) reloadModel(c *gin.Context) {
	status, err := s.svc.Reload(c.Request.Context(), "http")
	if err != nil {
		abort(c, http.StatusInternalServerError, fmt.Sprintf("Model reload failed: %v", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Model reloaded", "model": status})
}

func (s *Server) downloadModel(c *gin.Context) {
	res, err := s.svc.Download(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"detail": res.Message, "result": res})
		return
	}
	c.JSON(http.StatusOK, res)
}
