// server/internal/models/status.go
package models

import (
	"fmt"
	"strings"
)

// Status là mã lựa chọn (option set) của trường crdfd_ncc_nhan_don trên CRM.
// Giá trị được backend quy định, không được đổi.
type Status int

const (
	StatusPending   Status = 191920000 // Chưa xác nhận
	StatusConfirmed Status = 191920001 // Đã xác nhận
	StatusRejected  Status = 191920002 // Từ chối nhận đơn
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusRejected:
		return "rejected"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// IsTerminal cho biết trạng thái đã là quyết định cuối của NCC hay chưa.
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusRejected
}

// Action là hành động NCC thực hiện trên đơn nháp.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionReject  Action = "reject"
)

// Target trả về trạng thái đích tương ứng với hành động.
func (a Action) Target() Status {
	if a == ActionReject {
		return StatusRejected
	}
	return StatusConfirmed
}

func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionConfirm:
		return ActionConfirm, nil
	case ActionReject:
		return ActionReject, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}
