package crm

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"wecare-supplier-api-server/internal/auth"
	"wecare-supplier-api-server/internal/models"
)

const supplierSet = "crdfd_suppliers"

var supplierSelect = []string{
	"crdfd_supplierid",
	"cr44a_manhacungcap",
	"crdfd_suppliername",
	"crdfd_misaname",
	"crdfd_supplierphone",
	"crdfd_supplier_addr",
	"crdfd_password",
}

// AuthenticateSupplier tìm NCC theo số điện thoại và kiểm tra mật khẩu.
// Mật khẩu dạng cũ (chưa hash) được nâng cấp lên bcrypt sau khi đăng nhập đúng.
func (c *Client) AuthenticateSupplier(ctx context.Context, phone, password string) (*models.Supplier, error) {
	phone = strings.TrimSpace(phone)
	q := &query{
		Select: supplierSelect,
		Filter: "crdfd_supplierphone eq " + quote(phone),
	}

	var page struct {
		Value []models.Supplier `json:"value"`
	}
	if err := c.do(ctx, "authenticate supplier", http.MethodGet, supplierSet, q, nil, &page); err != nil {
		return nil, err
	}
	if len(page.Value) == 0 {
		return nil, &AuthError{Reason: ReasonUnknownPhone, Message: "Không tìm thấy nhà cung cấp với số điện thoại này"}
	}

	supplier := page.Value[0]
	log := c.log.WithField("supplier_code", supplier.Code)
	stored := supplier.Password
	supplier.Password = ""

	switch {
	case stored == "":
		if c.defaultPassword == "" {
			return nil, &AuthError{Reason: ReasonDefaultPasswordRequired, Message: "Tài khoản chưa được cấp mật khẩu, vui lòng liên hệ Wecare"}
		}
		if !equalPlain(password, c.defaultPassword) {
			return nil, &AuthError{Reason: ReasonDefaultPasswordRequired, Message: "Tài khoản mới cần sử dụng mật khẩu mặc định"}
		}
		if err := c.storePassword(ctx, supplier.ID, password); err != nil {
			log.WithError(err).Warn("Could not persist default password")
		}
	case auth.IsHash(stored):
		if !auth.CheckPasswordHash(password, stored) {
			return nil, &AuthError{Reason: ReasonWrongPassword, Message: "Mật khẩu không chính xác"}
		}
	default:
		if !equalPlain(password, stored) {
			return nil, &AuthError{Reason: ReasonWrongPassword, Message: "Mật khẩu không chính xác"}
		}
		if err := c.storePassword(ctx, supplier.ID, password); err != nil {
			log.WithError(err).Warn("Could not upgrade legacy password to bcrypt")
		} else {
			log.Info("Legacy password upgraded to bcrypt")
		}
	}
	return &supplier, nil
}

func equalPlain(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GetSupplierProfile đọc một NCC theo id. Mật khẩu không bao giờ được trả ra ngoài.
func (c *Client) GetSupplierProfile(ctx context.Context, supplierID string) (*models.Supplier, error) {
	path, err := entityPath(supplierSet, supplierID)
	if err != nil {
		return nil, err
	}
	var supplier models.Supplier
	if err := c.do(ctx, "get supplier profile", http.MethodGet, path, &query{Select: supplierSelect}, nil, &supplier); err != nil {
		return nil, err
	}
	supplier.Password = ""
	return &supplier, nil
}

// ChangePassword ghi bcrypt hash của mật khẩu mới.
func (c *Client) ChangePassword(ctx context.Context, supplierID, newPassword string) error {
	err := c.storePassword(ctx, supplierID, newPassword)
	if err == nil {
		return nil
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) && netErr.StatusCode != 0 {
		return &PasswordChangeError{StatusCode: netErr.StatusCode, Body: netErr.Body, Err: err}
	}
	return &PasswordChangeError{Err: err}
}

func (c *Client) storePassword(ctx context.Context, supplierID, password string) error {
	path, err := entityPath(supplierSet, supplierID)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password, c.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return c.do(ctx, "update supplier password", http.MethodPatch, path, nil, map[string]string{"crdfd_password": hash}, nil)
}
