// server/internal/auth/auth.go
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"wecare-supplier-api-server/internal/models"
)

// SupplierClaims là payload của JWT phiên đăng nhập NCC.
type SupplierClaims struct {
	SupplierID   string `json:"supplierID"`
	SupplierCode string `json:"supplierCode"`
	Phone        string `json:"phone"`
	jwt.RegisteredClaims
}

// Hashing
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// IsHash cho biết giá trị lưu trên CRM đã là bcrypt hash hay còn là mật khẩu dạng cũ.
func IsHash(stored string) bool {
	if len(stored) != 60 {
		return false
	}
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(stored, prefix) {
			return true
		}
	}
	return false
}

var ErrInvalidToken = errors.New("invalid or expired token")

// Issuer ký và kiểm tra JWT phiên NCC.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// JWT Generation
func (i *Issuer) Generate(s models.Supplier) (string, error) {
	now := i.now()
	claims := &SupplierClaims{
		SupplierID:   s.ID,
		SupplierCode: s.Code,
		Phone:        s.Phone,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

func (i *Issuer) Parse(tokenString string) (*SupplierClaims, error) {
	claims := &SupplierClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.SupplierCode == "" {
		return nil, fmt.Errorf("%w: missing supplier code", ErrInvalidToken)
	}
	return claims, nil
}
