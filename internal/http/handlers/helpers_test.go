package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-lending-backend/internal/http/middleware"
	"github.com/tbourn/go-lending-backend/internal/repo"
	"github.com/tbourn/go-lending-backend/internal/services"
)

// ---------- test plumbing ----------

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// realServices wires the production services on db.
func realServices(db *gorm.DB) (Services, *services.UserService) {
	items := services.NewItemService(db, repo.ItemStore{})
	users := &services.UserService{DB: db, RequestsLimit: services.DefaultRequestsLimit}
	return Services{
		Requests: services.NewRequestService(db, items, nil),
		Messages: &services.MessageService{DB: db},
		Items:    items,
		Users:    users,
		Expiry:   &services.ExpiryService{DB: db},
	}, users
}

// mount registers every endpoint on r the way the router does, behind auth
// and idempotency.
func mount(r *gin.Engine, h *Handlers, ensure middleware.EnsureUserFunc) {
	r.Use(middleware.RequestID())
	api := r.Group("/")
	api.Use(middleware.Auth(middleware.AuthOptions{Ensure: ensure}))
	api.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))

	api.POST("/requests", h.CreateRequest)
	api.GET("/requests", h.ListOpenRequests)
	api.GET("/requests/:id", h.GetRequest)
	api.POST("/requests/:id/respond", h.RespondRequest)
	api.POST("/requests/:id/close", h.CloseRequest)
	api.POST("/requests/:id/cancel", h.CancelRequest)
	api.POST("/requests/:id/messages", h.PostMessage)
	api.GET("/requests/:id/messages", h.ListMessages)
	api.GET("/me/requests", h.ListMyRequests)
	api.GET("/me/dealing", h.ListDealingRequests)
	api.GET("/me", h.GetMe)
	api.PATCH("/me", h.UpdateMe)
	api.GET("/items", h.ListItems)
	r.POST("/jobs/clear-requests", h.ClearRequests)
}

// newRealAPI returns an engine backed by real services on a fresh database.
func newRealAPI(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	svcs, users := realServices(db)
	r := gin.New()
	mount(r, New(svcs), func(ctx context.Context, uid, token string) error {
		_, err := users.Ensure(ctx, uid, token)
		return err
	})
	return r, db
}

// newStubAPI returns an engine over the given services without provisioning.
func newStubAPI(s Services) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	mount(r, New(s), nil)
	return r
}

func do(r http.Handler, method, path, user string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body=%s)", v, err, w.Body.String())
	}
	return v
}

func boolPtr(b bool) *bool { return &b }
