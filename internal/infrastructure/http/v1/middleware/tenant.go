package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"backoffice/internal/core/apperror"
	appctx "backoffice/internal/core/context"
)

// TenantHeader is the HTTP header for tenant identification.
const TenantHeader = "X-Tenant-ID"

// maxTenantIDLength bounds the header value.
const maxTenantIDLength = 64

// TenantHeaderAuth resolves the tenant from X-Tenant-ID. It replaces Auth when
// token authentication is disabled, so the caller is anonymous.
func TenantHeaderAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader(TenantHeader))
		if tenantID == "" {
			_ = c.Error(
				apperror.NewValidation("tenant is required").
					WithDetail("header", TenantHeader),
			)
			c.Abort()
			return
		}
		if len(tenantID) > maxTenantIDLength || strings.ContainsAny(tenantID, "|/ ") {
			_ = c.Error(
				apperror.NewValidation("invalid tenant id").
					WithDetail("header", TenantHeader).
					WithDetail("value", tenantID),
			)
			c.Abort()
			return
		}

		user := &appctx.UserContext{TenantID: tenantID}
		c.Request = c.Request.WithContext(appctx.WithUser(c.Request.Context(), user))
		c.Set("tenant_id", tenantID)

		c.Next()
	}
}
