package http

import (
	stderrors "errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/crazycatseven/Faster-whisper/internal/errors"
	"github.com/crazycatseven/Faster-whisper/internal/registry"
	"github.com/crazycatseven/Faster-whisper/internal/whisper"
	"github.com/crazycatseven/Faster-whisper/pkg/util"
	"github.com/crazycatseven/Faster-whisper/pkg/version"
)

// Multipart field names carrying the upload.
var audioFields = []string{"audio", "file"}

func (s *Service) initRouter() {
	s.initBaseRouter()
	s.initAPIRouter()
	if s.conf.IsMCPEnabled() {
		s.initMCPRouter()
	}
}

func (s *Service) initBaseRouter() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", func(ctx *gin.Context) { ctx.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "not_found", "message": "Not found"})
	})
}

func (s *Service) initAPIRouter() {
	s.router.POST("/transcribe", s.handleTranscribe)
	s.router.POST("/load_model", s.handleLoadModel)
	s.router.GET("/model_info", s.handleModelInfo)
}

func (s *Service) initMCPRouter() {
	s.router.Any("/mcp", func(c *gin.Context) { s.mcpStreamableServer.ServeHTTP(c.Writer, c.Request) })
	s.router.Any("/sse", func(c *gin.Context) { s.mcpSSEServer.ServeHTTP(c.Writer, c.Request) })
	s.router.Any("/message", func(c *gin.Context) { s.mcpSSEServer.ServeHTTP(c.Writer, c.Request) })
}

// GET /
func (s *Service) handleRoot(c *gin.Context) {
	resp := gin.H{
		"status":       "running",
		"model_loaded": false,
		"model_info":   nil,
		"engine":       s.conf.GetEngine(),
		"version":      version.Version,
		"uptime":       util.Round(time.Since(s.started).Seconds(), 0),
	}
	if info, err := s.transcriber.ModelInfo(); err == nil {
		resp["model_loaded"] = true
		resp["model_info"] = modelInfoView(info)
	}
	if mem := processMemory(); mem != nil {
		resp["memory"] = mem
	}
	c.JSON(http.StatusOK, resp)
}

// POST /transcribe
func (s *Service) handleTranscribe(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.conf.GetMaxUploadBytes())

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			errors.Err(c, errors.New(errors.KindValidation, err, http.StatusRequestEntityTooLarge, "upload too large"))
			return
		}
		errors.Err(c, errors.Validation("audio", "multipart form with an audio file is required"))
		return
	}

	raw := make(map[string]any, len(form.Value))
	for key, values := range form.Value {
		if len(values) > 0 {
			raw[key] = values[len(values)-1]
		}
	}

	fh := uploadedFile(form)
	if fh == nil {
		// option errors take precedence over the missing file
		if _, err := whisper.ResolveOptions(raw); err != nil {
			errors.Err(c, err)
			return
		}
		errors.Err(c, errors.ErrMissingAudio)
		return
	}
	data, err := readUpload(fh)
	if err != nil {
		errors.Err(c, errors.Validation("audio", "read upload: %v", err))
		return
	}

	result, err := s.transcriber.Transcribe(c.Request.Context(), whisper.Audio{Name: fh.Filename, Data: data}, raw)
	if err != nil {
		errors.Err(c, err)
		return
	}
	c.JSON(http.StatusOK, transcribeResponse(result, requestID(c)))
}

type loadModelRequest struct {
	Model       string `json:"model" form:"model"`
	ModelSize   string `json:"model_size" form:"model_size"`
	Device      string `json:"device" form:"device"`
	ComputeType string `json:"compute_type" form:"compute_type"`
}

// POST /load_model
func (s *Service) handleLoadModel(c *gin.Context) {
	var req loadModelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBind(&req); err != nil {
			errors.Err(c, errors.Validation("", "invalid request payload: %v", err))
			return
		}
	}

	spec := s.resolveLoadSpec(req.Model, req.ModelSize, req.Device, req.ComputeType)
	res, err := s.transcriber.LoadModel(c.Request.Context(), spec)
	if err != nil {
		errors.Err(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    res.Message,
		"fallback":   res.Fallback,
		"model_info": modelInfoView(res.Info),
	})
}

// resolveLoadSpec fills blank request fields from the configured default. The
// default compute type only applies when the device is the default one too.
func (s *Service) resolveLoadSpec(model, modelSize, device, computeType string) whisper.ModelSpec {
	def := s.conf.DefaultModel()
	spec := whisper.ModelSpec{
		Name:        util.FirstNonEmpty(model, modelSize, def.Name),
		Device:      util.FirstNonEmpty(device, def.Device),
		ComputeType: strings.TrimSpace(computeType),
	}
	if spec.ComputeType == "" && strings.EqualFold(spec.Device, strings.TrimSpace(def.Device)) {
		spec.ComputeType = def.ComputeType
	}
	return spec.Normalize()
}

// GET /model_info
func (s *Service) handleModelInfo(c *gin.Context) {
	info, err := s.transcriber.ModelInfo()
	if err != nil {
		errors.Err(c, err)
		return
	}
	c.JSON(http.StatusOK, modelInfoView(info))
}

func uploadedFile(form *multipart.Form) *multipart.FileHeader {
	for _, field := range audioFields {
		if files := form.File[field]; len(files) > 0 {
			return files[0]
		}
	}
	return nil
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func modelInfoView(info registry.ModelInfo) gin.H {
	view := gin.H{
		"loaded":       true,
		"model":        info.Spec.Name,
		"size":         info.Spec.Name,
		"device":       info.Spec.Device,
		"compute_type": info.Spec.ComputeType,
		"generation":   info.Generation,
		"loaded_at":    info.LoadedAt.UTC().Format(time.RFC3339),
		"concurrency":  info.Concurrency,
		"in_flight":    info.InFlight,
	}
	if info.Loading != nil {
		view["loading"] = info.Loading.String()
	}
	return view
}

type wordView struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

type segmentView struct {
	ID    int        `json:"id"`
	Start float64    `json:"start"`
	End   float64    `json:"end"`
	Text  string     `json:"text"`
	Words []wordView `json:"words,omitempty"`
}

func transcribeResponse(r *whisper.Result, requestID string) gin.H {
	segments := make([]segmentView, 0, len(r.Segments))
	for _, seg := range r.Segments {
		sv := segmentView{
			ID:    seg.ID,
			Start: seconds(seg.Start),
			End:   seconds(seg.End),
			Text:  seg.Text,
		}
		for _, w := range seg.Words {
			sv.Words = append(sv.Words, wordView{
				Word:        w.Text,
				Start:       seconds(w.Start),
				End:         seconds(w.End),
				Probability: util.Round(w.Probability, 4),
			})
		}
		segments = append(segments, sv)
	}

	resp := gin.H{
		"success":        true,
		"text":           r.Text,
		"segments":       segments,
		"language":       r.Language,
		"duration":       util.Round(r.ProcessingTime.Seconds(), 2),
		"audio_duration": util.Round(r.Duration.Seconds(), 2),
		"model":          r.Model.Name,
		"device":         r.Model.Device,
		"compute_type":   r.Model.ComputeType,
		"generation":     r.Generation,
		"options":        r.Options,
		"request_id":     requestID,
	}
	if r.LanguageProbability != nil {
		resp["language_probability"] = util.Round(*r.LanguageProbability, 2)
	}
	return resp
}

func seconds(d time.Duration) float64 {
	return util.Round(d.Seconds(), 3)
}
