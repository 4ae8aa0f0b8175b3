package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"refundflow/auth"
	"refundflow/refund"
)

// AuthService is the slice of the auth service the HTTP layer uses.
type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	Refresh(ctx context.Context, userID, refreshToken string) (auth.TokenPair, error)
	Logout(ctx context.Context, userID string) error
	VerifyToken(token string) (string, error)
}

// RefundReader serves the latest reconciled refund snapshot.
type RefundReader interface {
	GetLatestStatus(ctx context.Context, userID, correlationID string) (refund.Snapshot, error)
}

// Simulator overrides the mock authoritative source for demos.
type Simulator interface {
	Upsert(userID string, result refund.IrsResult)
}

// SnapshotCache is the slice of the read cache the simulate endpoint needs.
type SnapshotCache interface {
	Delete(ctx context.Context, key string) error
}

// Deps bundles the services the HTTP layer exposes.
type Deps struct {
	Auth   AuthService
	Refund RefundReader
	Irs    Simulator
	Cache  SnapshotCache
}

// NewRouter builds the gin engine with all routes and middleware.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), CorrelationID())

	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/register", handleRegister(d.Auth))
		authGroup.POST("/login", handleLogin(d.Auth))
		authGroup.POST("/refresh", handleRefresh(d.Auth))
		authGroup.POST("/logout", RequireAuth(d.Auth), handleLogout(d.Auth))
	}

	refundGroup := r.Group("/api/refund", RequireAuth(d.Auth))
	{
		refundGroup.GET("/latest", handleLatest(d.Refund))
		refundGroup.POST("/simulate", handleSimulate(d.Irs, d.Cache))
	}

	return r
}
