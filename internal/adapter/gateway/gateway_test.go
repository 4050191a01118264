package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"codegen-agent/internal/adapter/tool"
	"codegen-agent/internal/domain"
	"codegen-agent/internal/infra/config"
	"codegen-agent/internal/usecase"
	"codegen-agent/internal/usecase/eventbus"
)

// --- test doubles ---

type fakeService struct {
	mu       sync.Mutex
	prompts  []string
	submit   func(ctx context.Context, sessionID, text string) (*usecase.TurnResult, error)
	sessions map[string]*usecase.SessionInfo
	deleted  []string
}

func newFakeService() *fakeService {
	return &fakeService{sessions: make(map[string]*usecase.SessionInfo)}
}

func (f *fakeService) Submit(ctx context.Context, sessionID, text string) (*usecase.TurnResult, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, text)
	submit := f.submit
	f.mu.Unlock()
	if submit != nil {
		return submit(ctx, sessionID, text)
	}
	if sessionID == "" {
		sessionID = "generated"
	}
	return &usecase.TurnResult{SessionID: sessionID, Response: "done"}, nil
}

func (f *fakeService) Session(_ context.Context, id string) (*usecase.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.sessions[id]
	if !ok {
		return nil, domain.NewDomainError("Service.Session", domain.ErrSessionNotFound, id)
	}
	return info, nil
}

func (f *fakeService) ListSessions(context.Context) ([]domain.SessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.SessionSummary
	for id, info := range f.sessions {
		out = append(out, domain.SessionSummary{ID: id, MessageCount: info.MessageCount})
	}
	return out, nil
}

func (f *fakeService) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return domain.NewDomainError("Service.DeleteSession", domain.ErrSessionNotFound, id)
	}
	delete(f.sessions, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeService) ActiveSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeService) setSubmit(fn func(ctx context.Context, sessionID, text string) (*usecase.TurnResult, error)) {
	f.mu.Lock()
	f.submit = fn
	f.mu.Unlock()
}

func (f *fakeService) addSession(info *usecase.SessionInfo) {
	f.mu.Lock()
	f.sessions[info.SessionID] = info
	f.mu.Unlock()
}

func (f *fakeService) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

type fakeCatalog map[string][]tool.Info

func (c fakeCatalog) Group(g string) []tool.Info { return c[g] }

func testCatalog() fakeCatalog {
	return fakeCatalog{
		tool.GroupCode: {{Name: "generate_code", Description: "Generate code", Group: tool.GroupCode}},
		tool.GroupFile: {{Name: "write_file", Description: "Write a file", Group: tool.GroupFile}},
	}
}

type fixture struct {
	svc *fakeService
	bus *eventbus.Bus
	srv *Server
	ts  *httptest.Server
}

func newFixture(t *testing.T, cfg config.GatewayConfig, auth Authenticator) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := eventbus.New(logger)
	svc := newFakeService()
	srv := NewServer(cfg, Deps{
		Service:          svc,
		Tools:            testCatalog(),
		Events:           bus,
		Bus:              bus,
		Auth:             auth,
		APIKeyConfigured: true,
		Logger:           logger,
	})
	ctx, cancel := context.WithCancel(context.Background())
	ts := httptest.NewServer(srv.Handler(ctx))
	t.Cleanup(func() {
		ts.Close()
		cancel()
		srv.Stop(context.Background())
	})
	return &fixture{svc: svc, bus: bus, srv: srv, ts: ts}
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, r)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := f.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func newTestAuth() Authenticator {
	return NewStaticTokenAuth([]config.TokenConfig{{Token: "test-token", Name: "tester"}})
}
