// server/internal/api/handlers/auth_handler.go
package handlers

import (
	"context"
	"net/http"

	"wecare-supplier-api-server/internal/auth"
	"wecare-supplier-api-server/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SupplierService là phần CRM client mà các handler tài khoản cần.
type SupplierService interface {
	AuthenticateSupplier(ctx context.Context, phone, password string) (*models.Supplier, error)
	GetSupplierProfile(ctx context.Context, supplierID string) (*models.Supplier, error)
	ChangePassword(ctx context.Context, supplierID, newPassword string) error
}

type AuthHandler struct {
	Suppliers SupplierService
	Issuer    *auth.Issuer
	Log       logrus.FieldLogger
}

type LoginRequest struct {
	Phone    string `json:"phone" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	supplier, err := h.Suppliers.AuthenticateSupplier(c.Request.Context(), req.Phone, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := h.Issuer.Generate(*supplier)
	if err != nil {
		h.Log.WithError(err).Error("Failed to sign session token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	h.Log.WithField("supplier_code", supplier.Code).Info("Supplier logged in")
	c.JSON(http.StatusOK, gin.H{
		"message":  "Đăng nhập thành công",
		"token":    token,
		"supplier": supplier.Public(),
	})
}
