package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"codegen-agent/internal/adapter/tool"
	"codegen-agent/internal/domain"
	"codegen-agent/internal/usecase"
)

// maxRequestBody bounds POST bodies.
const maxRequestBody = 1 << 20

type healthResponse struct {
	Status           string    `json:"status"`
	Timestamp        time.Time `json:"timestamp"`
	ActiveSessions   int       `json:"active_sessions"`
	APIKeyConfigured bool      `json:"api_key_configured"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:           "healthy",
		Timestamp:        time.Now(),
		ActiveSessions:   s.deps.Service.ActiveSessions(),
		APIKeyConfigured: s.deps.APIKeyConfigured,
	})
}

type generateRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id,omitempty"`
	Language  string `json:"language,omitempty"`
}

type toolCallView struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

type generateResponse struct {
	SessionID    string         `json:"session_id"`
	Response     string         `json:"response"`
	ToolCalls    []toolCallView `json:"tool_calls"`
	FilesCreated []string       `json:"files_created"`
	Timestamp    time.Time      `json:"timestamp"`
}

// promptWithLanguage appends the requested target language as a hint.
func promptWithLanguage(prompt, language string) string {
	language = strings.TrimSpace(language)
	if language == "" {
		return prompt
	}
	return prompt + "\n\nTarget language: " + language
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, domain.NewDomainError("gateway.generate", domain.ErrInvalidInput, "malformed JSON body"))
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, domain.NewDomainError("gateway.generate", domain.ErrInvalidInput, "prompt is required"))
		return
	}

	res, err := s.deps.Service.Submit(r.Context(), req.SessionID, promptWithLanguage(req.Prompt, req.Language))
	if err != nil {
		s.logger.Warn("generate failed", "session_id", req.SessionID, "error", err, "code", domain.ErrorCodeOf(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGenerateResponse(res))
}

func toGenerateResponse(res *usecase.TurnResult) generateResponse {
	out := generateResponse{
		SessionID:    res.SessionID,
		Response:     res.Response,
		ToolCalls:    make([]toolCallView, 0, len(res.ToolCalls)),
		FilesCreated: res.FilesCreated,
		Timestamp:    time.Now(),
	}
	if out.FilesCreated == nil {
		out.FilesCreated = []string{}
	}
	for _, tc := range res.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, toolCallView{Name: tc.Name, Result: tc.Result})
	}
	return out
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Service.ListSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Service.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type deleteResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Service.DeleteSession(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Message: "Session deleted", SessionID: id})
}

type toolsResponse struct {
	CodeTools []tool.Info `json:"code_tools"`
	FileTools []tool.Info `json:"file_tools"`
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	resp := toolsResponse{
		CodeTools: s.deps.Tools.Group(tool.GroupCode),
		FileTools: s.deps.Tools.Group(tool.GroupFile),
	}
	if resp.CodeTools == nil {
		resp.CodeTools = []tool.Info{}
	}
	if resp.FileTools == nil {
		resp.FileTools = []tool.Info{}
	}
	writeJSON(w, http.StatusOK, resp)
}
