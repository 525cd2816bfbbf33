package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/avdeevramil/market-backend/internal/models"
	"github.com/avdeevramil/market-backend/internal/service"
)

func newTestRouter(tokens *service.TokenManager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	protected := r.Group("/", AuthMiddleware(tokens))
	protected.GET("/open", func(c *gin.Context) { c.Status(http.StatusOK) })
	protected.GET("/strict", RequireTwoFactor(), func(c *gin.Context) { c.Status(http.StatusOK) })
	protected.GET("/admin", RequireRole(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	tokens := service.NewTokenManager("secret", "reset", time.Minute, time.Hour, time.Minute)
	r := newTestRouter(tokens)

	req, _ := http.NewRequest("GET", "/open", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_GarbageToken(t *testing.T) {
	tokens := service.NewTokenManager("secret", "reset", time.Minute, time.Hour, time.Minute)
	r := newTestRouter(tokens)

	req, _ := http.NewRequest("GET", "/open", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	tokens := service.NewTokenManager("secret", "reset", time.Minute, time.Hour, time.Minute)
	r := newTestRouter(tokens)

	raw, _, err := tokens.NewAccessToken(&models.Account{ID: uuid.New(), Role: models.RoleBuyer}, true)
	assert.NoError(t, err)

	req, _ := http.NewRequest("GET", "/open", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireTwoFactor_BlocksRestrictedPair(t *testing.T) {
	tokens := service.NewTokenManager("secret", "reset", time.Minute, time.Hour, time.Minute)
	r := newTestRouter(tokens)

	// Ограниченная пара (второй фактор ещё не подтверждён).
	raw, _, err := tokens.NewAccessToken(&models.Account{ID: uuid.New(), Role: models.RoleBuyer}, false)
	assert.NoError(t, err)

	req, _ := http.NewRequest("GET", "/strict", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireRole_Forbidden(t *testing.T) {
	tokens := service.NewTokenManager("secret", "reset", time.Minute, time.Hour, time.Minute)
	r := newTestRouter(tokens)

	raw, _, err := tokens.NewAccessToken(&models.Account{ID: uuid.New(), Role: models.RoleBuyer}, true)
	assert.NoError(t, err)

	req, _ := http.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimitMiddleware_RejectsOverLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	store := memory.NewStore()
	r.GET("/limited", RateLimitMiddleware(store, 2, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest("GET", "/limited", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "запрос %d должен пройти", i+1)
	}

	req, _ := http.NewRequest("GET", "/limited", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
