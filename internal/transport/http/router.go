package httptransport

import (
	"fmt"
	"log/slog"

	"github.com/ErlanBelekov/farm-market/internal/audit"
	"github.com/ErlanBelekov/farm-market/internal/domain"
	"github.com/ErlanBelekov/farm-market/internal/security"
	"github.com/ErlanBelekov/farm-market/internal/token"
	"github.com/ErlanBelekov/farm-market/internal/transport/http/handler"
	"github.com/ErlanBelekov/farm-market/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

// Deps carries everything the router wires into the middleware chain and
// the handlers.
type Deps struct {
	Logger   *slog.Logger
	Gateway  *security.Gateway
	Cipher   *token.Cipher
	Issuer   *token.Issuer
	Sessions *security.SessionValidator
	CSRF     *security.CSRF
	Events   audit.Sink

	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-* headers are
	// honoured. Empty means none.
	TrustedProxies []string

	Auth     *handler.AuthHandler
	Admin    *handler.AdminHandler
	Me       *handler.MeHandler
	Security *handler.SecurityHandler
}

func NewRouter(d Deps) (*gin.Engine, error) {
	r := gin.New()
	proxies, err := middleware.TrustProxies(r, d.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Gateway(d.Gateway, proxies))
	r.Use(sloggin.New(d.Logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.TokenDecryption(d.Cipher, d.Events))

	api := r.Group("/api")

	auth := api.Group("/auth")
	auth.POST("/register", d.Auth.Register)
	auth.POST("/confirm-email", d.Auth.ConfirmEmail)
	auth.POST("/login", d.Auth.Login)
	auth.POST("/get-token", d.Auth.GetToken)
	auth.POST("/resend-otp", d.Auth.ResendOtp)
	auth.POST("/forgot-password", d.Auth.ForgotPassword)
	auth.POST("/reset-password", d.Auth.ResetPassword)

	api.GET("/security/csrf-token", d.Security.CSRFToken)

	// Protected routes
	protected := api.Group("", middleware.Auth(d.Issuer), middleware.SessionGuard(d.Sessions))
	protected.GET("/me",
		middleware.RequireRole(d.Events, domain.RoleSuperAdmin, domain.RoleDataEntry, domain.RoleCustomer),
		d.Me.Get)

	admin := protected.Group("/admin",
		middleware.RequireRole(d.Events, domain.RoleSuperAdmin),
		middleware.CSRF(d.CSRF))
	admin.GET("/users", d.Admin.ListUsers)
	admin.POST("/assign-dataentry", d.Admin.AssignDataEntry)
	admin.POST("/users/:id/activate", d.Admin.Activate)
	admin.POST("/users/:id/deactivate", d.Admin.Deactivate)

	return r, nil
}
