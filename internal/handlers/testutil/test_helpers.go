package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/storefront/internal/api"
	"github.com/charlesng35/storefront/internal/app"
	"github.com/charlesng35/storefront/internal/cache"
	sharedtestutil "github.com/charlesng35/storefront/internal/database/testutil"
	"github.com/charlesng35/storefront/internal/identity"
	"github.com/charlesng35/storefront/internal/ingest"
	"github.com/charlesng35/storefront/internal/middleware"
	"github.com/charlesng35/storefront/internal/repository"
	"github.com/charlesng35/storefront/internal/services"
	"github.com/charlesng35/storefront/internal/storage"
	"github.com/charlesng35/storefront/internal/storage/memory"
	"github.com/charlesng35/storefront/pkg/response"
)

const jwtSecret = "test-suite-super-secret-key-32-bytes!!"

// Env encapsulates a fully-wired API instance backed by an in-memory database
// and object store for handler tests.
type Env struct {
	T      *testing.T
	DB     *gorm.DB
	Router *gin.Engine
	Store  storage.Store
}

// EnvOption customises the wired environment.
type EnvOption func(*envConfig)

type envConfig struct {
	ingest ingest.Options
}

// WithIngestOptions overrides the upload pipeline limits, for tests exercising
// rejection paths.
func WithIngestOptions(opts ingest.Options) EnvOption {
	return func(cfg *envConfig) {
		cfg.ingest = opts
	}
}

// NewEnv provisions a fresh handler test environment with migrations and seed
// data applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	envCfg := envConfig{ingest: ingest.Options{SpoolDir: t.TempDir()}}
	for _, opt := range opts {
		opt(&envCfg)
	}
	if envCfg.ingest.SpoolDir == "" {
		envCfg.ingest.SpoolDir = t.TempDir()
	}

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithSeedData())
	store := memory.New()

	items := repository.NewItems(db, cache.NewDatabaseStore(db), time.Minute)
	attachments := repository.NewAttachments(db)
	catalog, err := services.NewCatalogService(db, items, attachments, store, services.FinalizePolicy{
		Attempts:  2,
		BaseDelay: time.Millisecond,
	})
	require.NoError(t, err)

	pipeline := ingest.NewPipeline(envCfg.ingest)

	verifier, err := identity.NewJWTVerifier(identity.JWTConfig{Secret: jwtSecret, Issuer: "test-suite"})
	require.NoError(t, err)

	cfg := &app.Config{}
	router, err := api.NewRouter(catalog, pipeline, verifier, cfg, middleware.NewMemoryRateStore())
	require.NoError(t, err)

	return &Env{
		T:      t,
		DB:     db,
		Router: router,
		Store:  store,
	}
}

// Token signs a bearer token carrying the given roles, as the external
// identity provider would.
func (e *Env) Token(roles ...string) string {
	e.T.Helper()

	claims := jwt.MapClaims{
		"sub":   "test-operator",
		"name":  "Test Operator",
		"email": "operator@example.com",
		"iss":   "test-suite",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"roles": roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(jwtSecret))
	require.NoError(e.T, err)
	return signed
}

// AdminToken returns a token that passes the admin write gate.
func (e *Env) AdminToken() string {
	return e.Token("admin")
}

// ViewerToken returns a token that authenticates but carries no write role.
func (e *Env) ViewerToken() string {
	return e.Token("viewer")
}

// CategoryPayload mirrors the embedded category in item responses.
type CategoryPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// AttachmentPayload mirrors the attachment objects in item responses.
type AttachmentPayload struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	ByteSize    int64  `json:"byte_size"`
	Checksum    string `json:"checksum"`
	Position    int    `json:"position"`
	URL         string `json:"url"`
	CreatedAt   string `json:"created_at"`
}

// ItemPayload mirrors the item JSON returned from catalog endpoints.
type ItemPayload struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	SKU         string              `json:"sku"`
	Price       string              `json:"price"`
	CategoryID  *string             `json:"category_id"`
	Category    *CategoryPayload    `json:"category"`
	Disabled    bool                `json:"disabled"`
	Metadata    map[string]any      `json:"metadata"`
	Attachments []AttachmentPayload `json:"attachments"`
	CreatedAt   string              `json:"created_at"`
	UpdatedAt   string              `json:"updated_at"`
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// DecodeItem is shorthand for unwrapping a successful item response.
func DecodeItem(t *testing.T, w *httptest.ResponseRecorder) ItemPayload {
	t.Helper()
	resp := DecodeResponse(t, w)
	require.True(t, resp.Success, w.Body.String())
	var item ItemPayload
	DecodeInto(t, resp.Data, &item)
	return item
}

// Request executes an HTTP request against the test router, applying JSON
// encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// FormField is one value part of a multipart request. Fields may repeat.
type FormField struct {
	Name  string
	Value string
}

// FilePart is one file part of a multipart request. Field defaults to "file".
type FilePart struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

// MultipartRequest executes a multipart/form-data request against the test
// router. Value fields are written before file parts, matching how browsers
// order forms.
func (e *Env) MultipartRequest(method, path string, fields []FormField, files []FilePart, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, field := range fields {
		require.NoError(e.T, writer.WriteField(field.Name, field.Value))
	}
	for _, file := range files {
		fieldName := file.Field
		if fieldName == "" {
			fieldName = "file"
		}
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldName, file.Name))
		if file.ContentType != "" {
			header.Set("Content-Type", file.ContentType)
		}
		part, err := writer.CreatePart(header)
		require.NoError(e.T, err)
		_, err = part.Write(file.Data)
		require.NoError(e.T, err)
	}
	require.NoError(e.T, writer.Close())

	req, err := http.NewRequest(method, path, &buf)
	require.NoError(e.T, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
