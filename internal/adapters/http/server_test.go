package httpadapter_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	httpadapter "github.com/Houmeecl/xpres-sub000/internal/adapters/http"
	"github.com/Houmeecl/xpres-sub000/internal/adapters/memory"
	"github.com/Houmeecl/xpres-sub000/internal/adapters/providers"
	"github.com/Houmeecl/xpres-sub000/internal/config"
	"github.com/Houmeecl/xpres-sub000/internal/domain"
	"github.com/Houmeecl/xpres-sub000/internal/metrics"
	"github.com/Houmeecl/xpres-sub000/internal/services/audit"
	"github.com/Houmeecl/xpres-sub000/internal/services/codes"
	"github.com/Houmeecl/xpres-sub000/internal/services/signatures"
)

const pngData = "data:image/png;base64,iVBORw0KGgo="

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := memory.New()
	store.PutDocument(domain.Document{ID: 42, Title: "Contrato", Content: "<p>texto</p>"})
	store.PutUser(domain.User{ID: 7, Email: "ana@example.cl", FullName: "Ana Rojas"})

	m := metrics.New()
	auditSvc := audit.New(store, t.TempDir(), zap.NewNop(), m)
	reg := providers.NewRegistry(providers.NewEToken(zap.NewNop()), providers.NewSimple())
	sigSvc := signatures.New(store, store, reg, auditSvc, signatures.Options{PublicBaseURL: "https://firmas.example.cl"}, zap.NewNop(), m)
	codeSvc := codes.New(store, store, store, auditSvc, codes.Options{
		PublicBaseURL: "https://firmas.example.cl",
		TTLs:          config.CodeTTLs{Document: time.Hour, Signature: time.Hour, Mobile: time.Hour, Access: time.Hour},
	}, zap.NewNop(), m)

	srv := httptest.NewServer(httpadapter.New(sigSvc, codeSvc, auditSvc, nil, zap.NewNop(), m).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

var asAna = map[string]string{"X-User-ID": "7"}

func TestHealthzAndMetrics(t *testing.T) {
	srv := newTestServer(t)
	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSimpleSignatureOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/signatures", map[string]any{"documentId": 42, "type": "simple"}, asAna)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	id := body["signatureId"].(string)
	code := body["verificationCode"].(string)
	assert.Equal(t, "simple", body["provider"])

	resp, body = do(t, http.MethodGet, srv.URL+"/api/signatures/verify/"+code, nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "not_completed", body["reason"])

	resp, body = do(t, http.MethodPost, srv.URL+"/api/signatures/"+id+"/complete/simple", map[string]any{"signatureImage": pngData}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "completed", body["status"])

	resp, body = do(t, http.MethodGet, srv.URL+"/api/signatures/"+id+"/status", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])

	resp, body = do(t, http.MethodGet, srv.URL+"/api/signatures/verify/"+strings.ToLower(code), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["isValid"])
	assert.Equal(t, "Ana Rojas", body["signer"].(map[string]any)["fullName"])
	assert.NotContains(t, body["document"], "content")
}

func TestInitiateErrors(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/signatures", map[string]any{"documentId": 42, "type": "simple"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/signatures", map[string]any{"documentId": 999, "type": "simple"}, asAna)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, false, body["success"])

	resp, body = do(t, http.MethodPost, srv.URL+"/api/signatures", map[string]any{"documentId": 42, "type": "simple", "returnUrl": "https://evil.example.com/"}, asAna)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "invalid_input", body["reason"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/signatures/missing/status", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCodesOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/codes", map[string]any{"type": "mobile_signing", "documentId": 42}, asAna)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	code := body["code"].(string)
	codeID := body["codeId"].(string)
	assert.True(t, strings.HasPrefix(body["qrCode"].(string), "data:image/png;base64,"))
	assert.Equal(t, "https://firmas.example.cl/sign-mobile/"+code, body["url"])

	resp, body = do(t, http.MethodGet, srv.URL+"/verificar/"+code, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "mobile codes do not resolve at /verificar")
	assert.Equal(t, "not_found", body["reason"])

	resp, body = do(t, http.MethodGet, srv.URL+"/sign-mobile/"+code, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["isValid"])

	resp, body = do(t, http.MethodGet, srv.URL+"/sign-mobile/"+code, nil, nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, "used", body["reason"])

	resp, body = do(t, http.MethodGet, srv.URL+"/api/codes/"+codeID, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "used", body["status"])

	resp, body = do(t, http.MethodPost, srv.URL+"/api/codes", map[string]any{"type": "document_verification", "documentId": 42}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	docCode, docCodeID := body["code"].(string), body["codeId"].(string)

	for i := 0; i < 2; i++ {
		resp, body = do(t, http.MethodGet, srv.URL+"/verificar/"+docCode, nil, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Contrato", body["document"].(map[string]any)["title"])
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/sign-mobile/"+docCode, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/codes/"+docCodeID+"/revoke", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/codes/"+docCodeID+"/revoke", nil, nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	resp, body = do(t, http.MethodGet, srv.URL+"/verificar/"+docCode, nil, nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, "revoked", body["reason"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/verificar/NOPE", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/documents/42/codes", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/documents/abc/codes", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuditOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := do(t, http.MethodPost, srv.URL+"/api/signatures", map[string]any{"documentId": 42, "type": "simple"}, asAna)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/audit/logs?category=signature&limit=10", nil)
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	require.Equal(t, http.StatusOK, raw.StatusCode)
	var entries []domain.AuditLogEntry
	require.NoError(t, json.NewDecoder(raw.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionSignatureInitiated, entries[0].ActionType)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/audit/logs?limit=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/audit/stats", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total"])
}
