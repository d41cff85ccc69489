package router

import (
	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	apiHandler "github.com/riseandspeak/backend/api/handler"
)

type Handlers struct {
	Auth    *apiHandler.AuthHandler
	Profile *apiHandler.ProfileHandler
	Health  *apiHandler.HealthHandler
}

func New(handlers Handlers, authMiddleware func(fasthttp.RequestHandler) fasthttp.RequestHandler) *router.Router {
	r := router.New()

	r.GET("/health", handlers.Health.Check)

	// Public auth routes
	r.POST("/auth/signin", handlers.Auth.SignIn)
	r.POST("/auth/signup", handlers.Auth.SignUp)
	r.POST("/auth/reset-password", handlers.Auth.ResetPassword)

	// Bearer-protected routes
	r.POST("/auth/signout", authMiddleware(handlers.Auth.SignOut))
	r.POST("/auth/refresh", authMiddleware(handlers.Auth.Refresh))

	r.GET("/user/profile", authMiddleware(handlers.Profile.GetProfile))
	r.PUT("/user/profile", authMiddleware(handlers.Profile.UpdateProfile))
	r.DELETE("/user/delete", authMiddleware(handlers.Profile.DeleteAccount))

	return r
}
