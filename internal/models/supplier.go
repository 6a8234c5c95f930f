// server/internal/models/supplier.go
package models

// Supplier là bản ghi nhà cung cấp (crdfd_suppliers) trên CRM.
type Supplier struct {
	ID        string `json:"crdfd_supplierid"`
	Code      string `json:"cr44a_manhacungcap"` // Mã NCC, dùng làm khóa ngoại trên đơn nháp
	Name      string `json:"crdfd_suppliername"`
	LegalName string `json:"crdfd_misaname"`
	Phone     string `json:"crdfd_supplierphone"`
	Address   string `json:"crdfd_supplier_addr,omitempty"`
	Password  string `json:"crdfd_password,omitempty"`
}

// SupplierProfile là thông tin NCC trả về cho mini app, không có mật khẩu.
type SupplierProfile struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	LegalName string `json:"legalName"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
}

func (s Supplier) Public() SupplierProfile {
	return SupplierProfile{
		ID:        s.ID,
		Code:      s.Code,
		Name:      s.Name,
		LegalName: s.LegalName,
		Phone:     s.Phone,
		Address:   s.Address,
	}
}
