// server/internal/api/middleware/auth.go
package middleware

import (
	"net/http"
	"strings"

	"wecare-supplier-api-server/internal/auth"

	"github.com/gin-gonic/gin"
)

// Khóa context do Authenticate đặt vào.
const (
	ContextSupplierID   = "supplier_id"
	ContextSupplierCode = "supplier_code"
	ContextPhone        = "supplier_phone"
)

// Authenticate là middleware xác thực token JWT phiên NCC.
// Nó kiểm tra tính hợp lệ của token và đưa thông tin NCC vào context.
func Authenticate(issuer *auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format"})
			return
		}

		claims, err := issuer.Parse(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		// Lưu thông tin NCC vào context của request
		c.Set(ContextSupplierID, claims.SupplierID)
		c.Set(ContextSupplierCode, claims.SupplierCode)
		c.Set(ContextPhone, claims.Phone)

		c.Next()
	}
}

// SupplierCode đọc mã NCC mà Authenticate đã đặt.
func SupplierCode(c *gin.Context) string {
	return c.GetString(ContextSupplierCode)
}

func SupplierID(c *gin.Context) string {
	return c.GetString(ContextSupplierID)
}
