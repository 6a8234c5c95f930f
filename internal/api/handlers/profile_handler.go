package handlers

import (
	"net/http"

	"wecare-supplier-api-server/internal/api/middleware"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type ProfileHandler struct {
	Suppliers SupplierService
	Log       logrus.FieldLogger
}

type ChangePasswordRequest struct {
	NewPassword     string `json:"newPassword" binding:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" binding:"required,eqfield=NewPassword"`
}

func (h *ProfileHandler) GetProfile(c *gin.Context) {
	supplier, err := h.Suppliers.GetSupplierProfile(c.Request.Context(), middleware.SupplierID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, supplier.Public())
}

func (h *ProfileHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if err := h.Suppliers.ChangePassword(c.Request.Context(), middleware.SupplierID(c), req.NewPassword); err != nil {
		respondError(c, err)
		return
	}

	h.Log.WithField("supplier_code", middleware.SupplierCode(c)).Info("Supplier password changed")
	c.JSON(http.StatusOK, gin.H{"message": "Đổi mật khẩu thành công!"})
}
