package middleware

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"github.com/clubify/adminguard/internal/audit"
	"github.com/clubify/adminguard/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuditLogger(t *testing.T) (*audit.Logger, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&audit.Entry{}))
	return audit.NewLogger(db, zap.NewNop(), zap.NewNop(), nil, audit.Config{HMACSecret: "test"}), db
}

func newRedisBacked(t *testing.T) *store.RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.NewRedisStore(client, "test")
}

func auditCount(t *testing.T, db *gorm.DB, event string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&audit.Entry{}).Where("event = ?", event).Count(&n).Error)
	return n
}
