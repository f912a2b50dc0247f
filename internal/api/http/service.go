package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	"github.com/crazycatseven/Faster-whisper/internal/errors"
	"github.com/crazycatseven/Faster-whisper/internal/registry"
	"github.com/crazycatseven/Faster-whisper/internal/transcribe"
	"github.com/crazycatseven/Faster-whisper/internal/whisper"
	"github.com/crazycatseven/Faster-whisper/pkg/util"
)

type Service struct {
	conf        Config
	transcriber Transcriber
	started     time.Time

	router  *gin.Engine
	handler http.Handler
	server  *http.Server

	mcpServer           *server.MCPServer
	mcpSSEServer        *server.SSEServer
	mcpStreamableServer *server.StreamableHTTPServer
}

type Config interface {
	GetHTTPAddr() string
	GetMaxUploadBytes() int64
	GetEngine() string
	IsCORSEnabled() bool
	IsMCPEnabled() bool
	GetMCPFilesDir() string
	DefaultModel() whisper.ModelSpec
}

// Transcriber is the core the HTTP layer drives.
type Transcriber interface {
	Transcribe(ctx context.Context, audio whisper.Audio, raw map[string]any) (*whisper.Result, error)
	LoadModel(ctx context.Context, spec whisper.ModelSpec) (*transcribe.LoadResult, error)
	ModelInfo() (registry.ModelInfo, error)
}

func NewService(conf Config, transcriber Transcriber) *Service {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Handle error from SetTrustedProxies
	if err := router.SetTrustedProxies(nil); err != nil {
		log.Err(err).Msg("Failed to set trusted proxies")
	}

	// Middleware
	router.Use(
		errors.RecoveryMiddleware(),
		errors.ErrorHandlerMiddleware(),
		gin.LoggerWithWriter(log.Logger, "/health"),
		requestIDMiddleware(),
	)
	if conf.IsCORSEnabled() {
		router.Use(corsMiddleware())
	}

	s := &Service{
		conf:        conf,
		transcriber: transcriber,
		started:     time.Now(),
		router:      router,
	}

	if conf.IsMCPEnabled() {
		s.initMCPServer()
	}
	s.initRouter()
	s.handler = s.router

	gz, err := gzhttp.NewWrapper(gzhttp.ExceptContentTypes([]string{"text/event-stream"}))
	if err != nil {
		log.Err(err).Msg("gzip disabled")
	} else {
		s.handler = gz(s.router)
	}
	return s
}

func (s *Service) Start() error {

	s.server = &http.Server{
		Addr:    s.conf.GetHTTPAddr(),
		Handler: s.handler,
	}

	go func() {
		// Handle error from Run
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Err(err).Msg("Failed to start HTTP server")
		}
	}()

	log.Info().Str("url", util.ComposeLANURL(s.conf.GetHTTPAddr())).Msg("Starting HTTP server on " + s.conf.GetHTTPAddr())

	return nil
}

func (s *Service) ListenAndServe() error {

	s.server = &http.Server{
		Addr:    s.conf.GetHTTPAddr(),
		Handler: s.handler,
	}

	log.Info().Str("url", util.ComposeLANURL(s.conf.GetHTTPAddr())).Msg("Starting HTTP server on " + s.conf.GetHTTPAddr())
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down, giving in-flight requests timeout to finish.
func (s *Service) Stop(timeout time.Duration) error {

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		log.Debug().Err(err).Msg("Failed to shutdown HTTP server")
		return nil
	}

	log.Info().Msg("HTTP server stopped")
	return nil
}

func (s *Service) GetRouter() *gin.Engine {
	return s.router
}

// Handler is the router wrapped with response compression.
func (s *Service) Handler() http.Handler {
	return s.handler
}
