package http

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/crazycatseven/Faster-whisper/internal/whisper"
	"github.com/crazycatseven/Faster-whisper/pkg/version"
)

var (
	modelInfoTool = mcp.NewTool(
		"model_info",
		mcp.WithDescription("Describe the active speech-to-text model: name, device, compute type and generation."),
	)

	loadModelTool = mcp.NewTool(
		"load_model",
		mcp.WithDescription("Load or switch the active speech-to-text model. Blocks until the model is ready. Blank fields fall back to the configured default."),
		mcp.WithString("model", mcp.Description("Model name, e.g. large-v3, small, tiny")),
		mcp.WithString("device", mcp.Description("cuda, cpu or auto")),
		mcp.WithString("compute_type", mcp.Description("float16, int8, int8_float16, ...")),
	)

	transcribeFileTool = mcp.NewTool(
		"transcribe_file",
		mcp.WithDescription("Transcribe an audio file from the server's shared audio directory."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path, absolute or relative to the shared audio directory")),
		mcp.WithString("language", mcp.Description("Language code or auto (default)")),
		mcp.WithNumber("beam_size", mcp.Description("Beam size, default 5")),
		mcp.WithBoolean("vad_filter", mcp.Description("Skip non-speech regions")),
		mcp.WithBoolean("word_timestamps", mcp.Description("Include per-word timings")),
		mcp.WithBoolean("translate", mcp.Description("Translate to English")),
		mcp.WithString("initial_prompt", mcp.Description("Prompt to bias decoding")),
		mcp.WithNumber("temperature", mcp.Description("Sampling temperature in [0, 1]")),
	)
)

func (s *Service) initMCPServer() {
	s.mcpServer = server.NewMCPServer(
		"fwapi",
		version.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.mcpServer.AddTool(modelInfoTool, s.toolModelInfo)
	s.mcpServer.AddTool(loadModelTool, s.toolLoadModel)
	if s.conf.GetMCPFilesDir() != "" {
		s.mcpServer.AddTool(transcribeFileTool, s.toolTranscribeFile)
	}

	s.mcpSSEServer = server.NewSSEServer(s.mcpServer)
	s.mcpStreamableServer = server.NewStreamableHTTPServer(s.mcpServer)
}

func (s *Service) toolModelInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info, err := s.transcriber.ModelInfo()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(modelInfoView(info))
}

func (s *Service) toolLoadModel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	spec := s.resolveLoadSpec(
		request.GetString("model", ""),
		"",
		request.GetString("device", ""),
		request.GetString("compute_type", ""),
	)
	res, err := s.transcriber.LoadModel(ctx, spec)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"message":    res.Message,
		"fallback":   res.Fallback,
		"model_info": modelInfoView(res.Info),
	})
}

func (s *Service) toolTranscribeFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err = s.sharedFile(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	raw := make(map[string]any)
	for key, value := range request.GetArguments() {
		if key != "path" {
			raw[key] = value
		}
	}

	result, err := s.transcriber.Transcribe(ctx, whisper.Audio{Name: filepath.Base(path), Data: data}, raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(transcribeResponse(result, ""))
}

// sharedFile resolves p inside the configured files directory. Symlinks are
// followed before the check so they cannot point outside it.
func (s *Service) sharedFile(p string) (string, error) {
	root := s.conf.GetMCPFilesDir()
	if root == "" {
		return "", fmt.Errorf("file transcription is disabled")
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return "", fmt.Errorf("files directory: %w", err)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	resolved, err := filepath.EvalSymlinks(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("file not found: %s", p)
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the files directory", p)
	}
	return resolved, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}
