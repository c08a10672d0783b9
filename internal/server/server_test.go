package server

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/DreamFate/DeepClaude/internal/config"
	"github.com/DreamFate/DeepClaude/internal/data/db"
	"github.com/DreamFate/DeepClaude/internal/dispatch"
	"github.com/DreamFate/DeepClaude/internal/typ"
)

const testAPIKey = "sk-test"

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *db.Store) {
	t.Helper()
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	store, err := db.NewStore(cfg.DataDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.SetSetting(typ.SystemSetting{
		Key: typ.SettingAPIKey, Value: testAPIKey, Type: typ.SettingStr,
	}))

	srv, err := NewServer(cfg, store, dispatch.New(store))
	require.NoError(t, err)
	return srv, store
}

// closeNotifyRecorder adds the http.CloseNotifier method gin's Stream
// requires of the response writer; httptest.ResponseRecorder lacks it.
type closeNotifyRecorder struct{ *httptest.ResponseRecorder }

func (c *closeNotifyRecorder) CloseNotify() <-chan bool { return make(chan bool) }

func doJSON(srv *Server, method, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(w, req)
	return w
}

func asGateway(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
}

// login performs /auth/verify and returns a mutator that attaches the
// session cookie.
func login(t *testing.T, srv *Server) func(*http.Request) {
	t.Helper()
	w := doJSON(srv, http.MethodPost, "/auth/verify", fmt.Sprintf(`{"apiKey":%q}`, testAPIKey))
	require.Equal(t, http.StatusOK, w.Code)
	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "auth_token" {
			session = c
		}
	}
	require.NotNil(t, session, "auth_token cookie not set")
	require.True(t, session.HttpOnly)
	return func(req *http.Request) { req.AddCookie(session) }
}

func TestGatewayAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(srv, http.MethodGet, "/v1/models", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(srv, http.MethodGet, "/v1/models", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer sk-wrong")
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(srv, http.MethodGet, "/v1/models", "", asGateway)
	assert.Equal(t, http.StatusOK, w.Code)

	// X-Api-Key works too.
	w = doJSON(srv, http.MethodGet, "/v1/models", "", func(r *http.Request) {
		r.Header.Set("X-Api-Key", testAPIKey)
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRootWelcome(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(srv, http.MethodGet, "/", "", asGateway)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Welcome to DeepClaude API", gjson.Get(w.Body.String(), "message").String())
}

func TestChatValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(srv, http.MethodPost, "/v1/chat/completions", `{"model":"m","messages":[]}`, asGateway)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, gjson.Get(w.Body.String(), "error").String(), "messages cannot be empty")
	assert.Equal(t, "parameter error", gjson.Get(w.Body.String(), "detail").String())

	w = doJSON(srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"ghost","messages":[{"role":"user","content":"hi"}]}`, asGateway)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "model 'ghost' not found", gjson.Get(w.Body.String(), "error").String())
}

func seedUpstreamModel(t *testing.T, store *db.Store, baseURL, name string) {
	t.Helper()
	p := &typ.Provider{
		Name: "prov-" + name, APIKey: "sk-upstream", BaseURL: baseURL,
		RequestPath: "v1/chat/completions", Format: typ.FormatOpenAI, Valid: true,
	}
	require.NoError(t, store.SaveProvider(p))
	require.NoError(t, store.SaveModel(&typ.Model{
		Name: name, ModelID: "upstream-" + name, ProviderID: p.ID,
		Type: typ.ModelTypeGeneral, Format: typ.FormatOpenAI, Valid: true,
	}))
}

func TestChatNonStreaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"up-1","choices":[{"index":0,"message":{"role":"assistant","content":"hi there"}}]}`)
	}))
	defer upstream.Close()

	srv, store := newTestServer(t)
	seedUpstreamModel(t, store, upstream.URL, "plain")

	w := doJSON(srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"plain","messages":[{"role":"user","content":"hi"}]}`, asGateway)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Equal(t, "chat.completion", gjson.Get(body, "object").String())
	assert.Equal(t, "hi there", gjson.Get(body, "choices.0.message.content").String())
	assert.Contains(t, gjson.Get(body, "id").String(), "chatcmpl-")
}

func TestChatStreamingSSE(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	srv, store := newTestServer(t)
	seedUpstreamModel(t, store, upstream.URL, "streamy")

	w := doJSON(srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"streamy","stream":true,"messages":[{"role":"user","content":"hi"}]}`, asGateway)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	var content string
	events := strings.Split(w.Body.String(), "\n\n")
	for _, event := range events {
		payload, found := strings.CutPrefix(event, "data: ")
		if !found || payload == "[DONE]" {
			continue
		}
		content += gjson.Get(payload, "choices.0.delta.content").String()
	}
	assert.Equal(t, "hello", content)
	assert.Contains(t, w.Body.String(), "data: [DONE]\n\n")
}

func TestChatOriginOutputStreamsVerbatim(t *testing.T) {
	const upstreamBody = "event: message_start\ndata: {\"type\":\"message_start\"}\n\nevent: done\ndata: [DONE]\n\n"
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, upstreamBody)
	}))
	defer upstream.Close()

	srv, store := newTestServer(t)
	p := &typ.Provider{
		Name: "prov-origin", APIKey: "sk-upstream", BaseURL: upstream.URL,
		RequestPath: "v1/chat/completions", Format: typ.FormatOpenAI, Valid: true,
	}
	require.NoError(t, store.SaveProvider(p))
	require.NoError(t, store.SaveModel(&typ.Model{
		Name: "origin", ModelID: "upstream-origin", ProviderID: p.ID,
		Type: typ.ModelTypeGeneral, Format: typ.FormatOpenAI, OriginOutput: true, Valid: true,
	}))

	w := doJSON(srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"origin","stream":true,"messages":[{"role":"user","content":"hi"}]}`, asGateway)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	// The upstream body reaches the caller byte for byte, event lines included.
	assert.Equal(t, upstreamBody, w.Body.String())
}

func TestChatUpstreamErrorPropagates(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer upstream.Close()

	srv, store := newTestServer(t)
	seedUpstreamModel(t, store, upstream.URL, "limited")

	w := doJSON(srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"limited","messages":[{"role":"user","content":"hi"}]}`, asGateway)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	body := w.Body.String()
	assert.Equal(t, "rate limited", gjson.Get(body, "error").String())
	// No recognized hint in the upstream body, so detail is null.
	detail := gjson.Get(body, "detail")
	assert.True(t, detail.Exists())
	assert.Equal(t, gjson.Null, detail.Type)
}

func TestChatUpstreamErrorCarriesHint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad temperature","code":"InvalidParameter"}}`)
	}))
	defer upstream.Close()

	srv, store := newTestServer(t)
	seedUpstreamModel(t, store, upstream.URL, "picky")

	w := doJSON(srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"picky","messages":[{"role":"user","content":"hi"}]}`, asGateway)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := w.Body.String()
	assert.Equal(t, "bad temperature", gjson.Get(body, "error").String())
	assert.Contains(t, gjson.Get(body, "detail").String(), "parameter is invalid")
}

func TestCancelEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(srv, http.MethodPost, "/v1/cancel", `{}`, asGateway)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(srv, http.MethodPost, "/v1/cancel", `{"chat_id":"chatcmpl-ffffffff"}`, asGateway)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "error", gjson.Get(w.Body.String(), "status").String())
}

func TestListModels(t *testing.T) {
	srv, store := newTestServer(t)

	p := &typ.Provider{Name: "prov", BaseURL: "https://example.com", Format: typ.FormatOpenAI, Valid: true}
	require.NoError(t, store.SaveProvider(p))
	reasoner := &typ.Model{
		Name: "r1", ModelID: "up-r1", ProviderID: p.ID,
		Type: typ.ModelTypeReasoner, Format: typ.FormatOpenAI, Valid: true,
	}
	require.NoError(t, store.SaveModel(reasoner))
	disabled := &typ.Model{
		Name: "hidden", ModelID: "up-h", ProviderID: p.ID,
		Type: typ.ModelTypeGeneral, Format: typ.FormatOpenAI, Valid: false,
	}
	require.NoError(t, store.SaveModel(disabled))
	general := &typ.Model{
		Name: "g1", ModelID: "up-g1", ProviderID: p.ID,
		Type: typ.ModelTypeGeneral, Format: typ.FormatOpenAI, Valid: true,
	}
	require.NoError(t, store.SaveModel(general))
	require.NoError(t, store.SaveComposite(&typ.CompositeModel{
		Name: "combo", ReasonerModelID: reasoner.ID, GeneralModelID: general.ID, Valid: true,
	}))

	w := doJSON(srv, http.MethodGet, "/v1/models", "", asGateway)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Equal(t, "list", gjson.Get(body, "object").String())

	var ids []string
	for _, entry := range gjson.Get(body, "data").Array() {
		ids = append(ids, entry.Get("id").String())
		assert.Equal(t, "deepclaude", entry.Get("owned_by").String())
		assert.Equal(t, "model_permission", entry.Get("permission.0.object").String())
	}
	assert.ElementsMatch(t, []string{"r1", "g1", "combo"}, ids)
}

func TestAuthVerifyFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(srv, http.MethodPost, "/auth/verify", `{"apiKey":"sk-wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(srv, http.MethodGet, "/providers/get_all_providers", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	session := login(t, srv)

	w = doJSON(srv, http.MethodGet, "/auth/status", "", session)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gjson.Get(w.Body.String(), "authenticated").Bool())

	w = doJSON(srv, http.MethodGet, "/auth/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, gjson.Get(w.Body.String(), "authenticated").Bool())

	w = doJSON(srv, http.MethodGet, "/providers/get_all_providers", "", session)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProviderCRUD(t *testing.T) {
	srv, _ := newTestServer(t)
	session := login(t, srv)

	w := doJSON(srv, http.MethodPost, "/providers/save_provider",
		`{"name":"deepseek","api_key":"sk-up","base_url":"https://api.deepseek.com","request_path":"v1/chat/completions","format":"reasoner","valid":true}`,
		session)
	require.Equal(t, http.StatusOK, w.Code)
	providerID := gjson.Get(w.Body.String(), "id").String()
	require.NotEmpty(t, providerID)

	// Unsupported format is rejected up front.
	w = doJSON(srv, http.MethodPost, "/providers/save_provider",
		`{"name":"bad","format":"grpc"}`, session)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(srv, http.MethodGet, "/providers/get_provider_for_id/"+providerID, "", session)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "deepseek", gjson.Get(w.Body.String(), "name").String())

	w = doJSON(srv, http.MethodGet, "/providers/get_provider_for_id/missing", "", session)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// A dependent model blocks deletion.
	w = doJSON(srv, http.MethodPost, "/models/save_model",
		fmt.Sprintf(`{"name":"r1","model_id":"deepseek-reasoner","provider_id":%q,"type":"reasoner","format":"reasoner","valid":true}`, providerID),
		session)
	require.Equal(t, http.StatusOK, w.Code)
	modelID := gjson.Get(w.Body.String(), "id").String()

	w = doJSON(srv, http.MethodDelete, "/providers/delete_provider/"+providerID, "", session)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(srv, http.MethodDelete, "/models/delete_model/"+modelID, "", session)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(srv, http.MethodDelete, "/providers/delete_provider/"+providerID, "", session)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSaveModelValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	session := login(t, srv)

	// Missing provider reference is a 400, not a 500.
	w := doJSON(srv, http.MethodPost, "/models/save_model",
		`{"name":"orphan","model_id":"x","provider_id":"nope","type":"general","format":"openai"}`, session)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, gjson.Get(w.Body.String(), "message").String(), "not found")
}

func TestSettingsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	session := login(t, srv)

	w := doJSON(srv, http.MethodGet, "/system_settings/get_all_settings", "", session)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testAPIKey, gjson.Get(w.Body.String(), "api_key").String())
	assert.Equal(t, "info", gjson.Get(w.Body.String(), "log_level").String())

	w = doJSON(srv, http.MethodPost, "/system_settings/set_log_level",
		`[{"setting_key":"log_level","setting_value":"nope"}]`, session)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(srv, http.MethodPost, "/system_settings/set_log_level",
		`[{"setting_key":"log_level","setting_value":"debug"}]`, session)
	assert.Equal(t, http.StatusOK, w.Code)

	// All three connector settings must arrive together.
	w = doJSON(srv, http.MethodPost, "/system_settings/set_tcp_connector",
		`[{"setting_key":"tcp_connector_limit","setting_value":"50","setting_type":"int"}]`, session)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(srv, http.MethodPost, "/system_settings/set_tcp_connector",
		`[{"setting_key":"tcp_connector_limit","setting_value":"50","setting_type":"int"},
		  {"setting_key":"tcp_connector_limit_per_host","setting_value":"10","setting_type":"int"},
		  {"setting_key":"tcp_keepalive_timeout","setting_value":"15","setting_type":"int"}]`, session)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(srv, http.MethodGet, "/system_settings/get_setting_for_key/tcp_connector_limit", "", session)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "50", gjson.Get(w.Body.String(), "setting_value").String())
}

func TestSaveAPIKeyRotation(t *testing.T) {
	srv, _ := newTestServer(t)
	session := login(t, srv)

	w := doJSON(srv, http.MethodPost, "/system_settings/save_api_key",
		`[{"setting_key":"proxy_address","setting_value":"x"}]`, session)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(srv, http.MethodPost, "/system_settings/save_api_key",
		`[{"setting_key":"api_key","setting_value":"sk-rotated"}]`, session)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gjson.Get(w.Body.String(), "success").Bool())

	// The old gateway key no longer works, the new one does.
	w = doJSON(srv, http.MethodGet, "/v1/models", "", asGateway)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = doJSON(srv, http.MethodGet, "/v1/models", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer sk-rotated")
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestConfigExportImport(t *testing.T) {
	srv, store := newTestServer(t)
	session := login(t, srv)

	p := &typ.Provider{Name: "keepme", BaseURL: "https://example.com", Format: typ.FormatOpenAI, Valid: true}
	require.NoError(t, store.SaveProvider(p))

	w := doJSON(srv, http.MethodGet, "/system_settings/export_config", "", session)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "config.json")
	exported := w.Body.String()
	assert.Equal(t, "keepme", gjson.Get(exported, "providers.0.name").String())

	w = doJSON(srv, http.MethodPost, "/system_settings/import_config",
		fmt.Sprintf(`{"config":%s}`, exported), session)
	require.Equal(t, http.StatusOK, w.Code)

	providers, err := store.ListProviders()
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, "keepme", providers[0].Name)

	w = doJSON(srv, http.MethodPost, "/system_settings/import_config", `{}`, session)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
