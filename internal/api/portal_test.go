package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fieldconfig-backend/internal/fieldconfig"
	"fieldconfig-backend/internal/gateway"
	"fieldconfig-backend/internal/session"
	"fieldconfig-backend/internal/storage"
)

type stubGateway struct {
	mu      sync.Mutex
	remote  fieldconfig.Sequence
	raw     []byte
	saveErr error
}

func (g *stubGateway) FetchConfig(context.Context) (fieldconfig.Sequence, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remote.Clone(), nil
}

func (g *stubGateway) SaveConfig(_ context.Context, seq fieldconfig.Sequence) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.saveErr != nil {
		return "", g.saveErr
	}
	g.remote = seq.Clone()
	return "Configuration saved", nil
}

func (g *stubGateway) SyncRemoteMetadata(context.Context) (string, error) {
	return "Successfully synced 0 new fields.", nil
}

func (g *stubGateway) FetchRawSchema(context.Context) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.raw == nil {
		return nil, errors.New("no schema")
	}
	return g.raw, nil
}

type testEnv struct {
	app     *fiber.App
	gw      *stubGateway
	token   string
	archive string
}

func setupPortal(t *testing.T) *testEnv {
	t.Helper()
	gw := &stubGateway{
		remote: fieldconfig.Sequence{
			{Key: "itemXid", Label: "Item XID"},
			{Key: "invoiceDate", Label: "Invoice Date", Display: true},
			{Key: "refNums", Label: "Refs", ValueType: fieldconfig.Array},
		},
		raw: []byte(`{"components":{"schemas":{"Invoice":{"properties":{"invoiceXid":{"type":"string"}}}}}}`),
	}
	mgr := session.NewManager(session.ManagerConfig{Secret: "secret", TTL: time.Hour, NoticeTTL: time.Minute}, gw, nil, nil)
	dir := t.TempDir()

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.NewNop())})
	RegisterPortalRoutes(app, NewPortalHandler(mgr, storage.NewLocalArchive(dir), 1<<20, nil))

	env := &testEnv{app: app, gw: gw, archive: dir}
	resp := env.do(t, http.MethodPost, "/api/portal/sessions", "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Data struct {
			Token  string                   `json:"token"`
			Fields []fieldconfig.Descriptor `json:"fields"`
		} `json:"data"`
	}
	decode(t, resp, &created)
	require.NotEmpty(t, created.Data.Token)
	require.Len(t, created.Data.Fields, 3)
	env.token = created.Data.Token
	return env
}

func (e *testEnv) do(t *testing.T, method, path, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if e.token != "" {
		req.Header.Set(TokenHeader, e.token)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (e *testEnv) doJSON(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	return e.do(t, method, path, "application/json", strings.NewReader(body))
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var er struct {
		Error AppError `json:"error"`
	}
	decode(t, resp, &er)
	return er.Error.Code
}

func TestPortal_RequiresSessionToken(t *testing.T) {
	env := setupPortal(t)
	env.token = ""
	resp := env.do(t, http.MethodGet, "/api/portal/config", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	env.token = "garbage"
	resp = env.do(t, http.MethodGet, "/api/portal/config", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, resp))
}

func TestPortal_FilterAndEdit(t *testing.T) {
	env := setupPortal(t)

	resp := env.do(t, http.MethodGet, "/api/portal/config?q=DATE", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Data []fieldconfig.Descriptor `json:"data"`
	}
	decode(t, resp, &list)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "invoiceDate", list.Data[0].Key)

	resp = env.doJSON(t, http.MethodPost, "/api/portal/fields/invoiceDate/toggle", `{"attr":"mandatory"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res struct {
		Data    fieldconfig.Descriptor `json:"data"`
		Changed bool                   `json:"changed"`
		Dirty   bool                   `json:"dirty"`
	}
	decode(t, resp, &res)
	assert.True(t, res.Changed)
	assert.True(t, res.Dirty)
	assert.True(t, res.Data.Mandatory)
	assert.True(t, res.Data.Display)

	// core default is locked: a no-op, not an error
	resp = env.doJSON(t, http.MethodPatch, "/api/portal/fields/itemXid", `{"attr":"defaultValue","value":"X"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &res)
	assert.False(t, res.Changed)

	resp = env.doJSON(t, http.MethodPatch, "/api/portal/fields/itemXid", `{"attr":"group","value":"X"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = env.doJSON(t, http.MethodPatch, "/api/portal/fields/missing", `{"attr":"label","value":"X"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPortal_ArraySlots(t *testing.T) {
	env := setupPortal(t)

	resp := env.do(t, http.MethodPost, "/api/portal/fields/refNums/slots", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.doJSON(t, http.MethodPut, "/api/portal/fields/refNums/slots/1", `{"value":"PO-1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res struct {
		Data fieldconfig.Descriptor `json:"data"`
	}
	decode(t, resp, &res)
	assert.Equal(t, []string{"", "PO-1"}, res.Data.Default.Slots)

	resp = env.do(t, http.MethodDelete, "/api/portal/fields/refNums/slots/x", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPortal_SyncConflictWhenDirty(t *testing.T) {
	env := setupPortal(t)
	env.doJSON(t, http.MethodPatch, "/api/portal/fields/invoiceDate", `{"attr":"label","value":"Date"}`)

	resp := env.do(t, http.MethodPost, "/api/portal/sync", "", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "UNSAVED_CHANGES", errorCode(t, resp))

	resp = env.do(t, http.MethodPost, "/api/portal/sync?force=true", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res struct {
		Message string `json:"message"`
	}
	decode(t, resp, &res)
	assert.Equal(t, "Successfully synced 0 new fields.", res.Message)
}

func TestPortal_SaveFailureIsBadGateway(t *testing.T) {
	env := setupPortal(t)
	env.gw.saveErr = &gateway.StatusError{Op: "save config", Status: http.StatusServiceUnavailable}

	resp := env.do(t, http.MethodPost, "/api/portal/save", "", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "REMOTE_ERROR", errorCode(t, resp))

	resp = env.do(t, http.MethodGet, "/api/portal/notifications", "", nil)
	var notes struct {
		Data []session.Notice `json:"data"`
	}
	decode(t, resp, &notes)
	require.NotEmpty(t, notes.Data)
	assert.Equal(t, "Failed to save settings.", notes.Data[len(notes.Data)-1].Message)
}

func TestPortal_UploadMultipartAndSelect(t *testing.T) {
	env := setupPortal(t)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "custom.json")
	require.NoError(t, err)
	_, _ = part.Write([]byte(`[{"key":"custom","label":"Custom","display":true}]`))
	require.NoError(t, w.Close())

	resp := env.do(t, http.MethodPost, "/api/portal/templates/upload", w.FormDataContentType(), &body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var up struct {
		Index int                      `json:"index"`
		Data  []fieldconfig.Descriptor `json:"data"`
	}
	decode(t, resp, &up)
	assert.Equal(t, 1, up.Index)
	require.Len(t, up.Data, 1)

	resp = env.doJSON(t, http.MethodPost, "/api/portal/templates/upload?name=bad.json", `{"not":"a list"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/portal/templates/0/select", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/api/portal/templates/7/select", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/portal/templates", "", nil)
	var tpls struct {
		Data []map[string]any `json:"data"`
	}
	decode(t, resp, &tpls)
	require.Len(t, tpls.Data, 2)
	assert.Equal(t, true, tpls.Data[0]["selected"])
}

func TestPortal_Export(t *testing.T) {
	env := setupPortal(t)

	resp := env.do(t, http.MethodGet, "/api/portal/templates/export?format=spreadsheet", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/vnd.ms-excel", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "OTM_Template_")
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "Invoice Date")

	resp = env.do(t, http.MethodGet, "/api/portal/templates/export?format=csv", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestPortal_FormAndGroups(t *testing.T) {
	env := setupPortal(t)

	resp := env.do(t, http.MethodGet, "/api/portal/form", "", nil)
	var form struct {
		Data session.FormView `json:"data"`
	}
	decode(t, resp, &form)
	require.Len(t, form.Data.Groups, 2)
	assert.Equal(t, "Item", form.Data.Groups[0].Name)

	resp = env.do(t, http.MethodPost, "/api/portal/groups/Item/toggle", "", nil)
	var tg struct {
		Data struct {
			Expanded bool `json:"expanded"`
		} `json:"data"`
	}
	decode(t, resp, &tg)
	assert.False(t, tg.Data.Expanded)

	resp = env.do(t, http.MethodPost, "/api/portal/groups/expand-all", "", nil)
	decode(t, resp, &form)
	for _, g := range form.Data.Groups {
		assert.True(t, g.Expanded, g.Name)
	}
}

func TestPortal_NormalizeSchemaAndChanges(t *testing.T) {
	env := setupPortal(t)

	resp := env.do(t, http.MethodPost, "/api/portal/schema/normalize", "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var res struct {
		Schema string `json:"schema"`
		Kind   string `json:"kind"`
	}
	decode(t, resp, &res)
	assert.Equal(t, "Invoice", res.Schema)
	assert.Equal(t, "schema_collection", res.Kind)

	resp = env.do(t, http.MethodGet, "/api/portal/changes", "", nil)
	var changes struct {
		Data  []fieldconfig.Change `json:"data"`
		Dirty bool                 `json:"dirty"`
	}
	decode(t, resp, &changes)
	assert.True(t, changes.Dirty)
	assert.NotEmpty(t, changes.Data)
}

func TestPortal_CloseSession(t *testing.T) {
	env := setupPortal(t)
	resp := env.do(t, http.MethodDelete, "/api/portal/sessions/current", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/portal/config", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
