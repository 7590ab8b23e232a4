package auth

import (
	"slices"
	"strings"

	xerrors "DrawSight/internal/errors"
)

// 认证相关的错误码。
const (
	CodeUnauthenticated  xerrors.Code = "UNAUTHENTICATED"
	CodePermissionDenied xerrors.Code = "PERMISSION_DENIED"
)

// 权限名称。manage 隐含 predict 与 read，predict 隐含 read。
const (
	PermissionRead    = "read"
	PermissionPredict = "predict"
	PermissionManage  = "manage"
)

var (
	// ErrMissingKey 表示请求未携带 API Key。
	ErrMissingKey = xerrors.New(CodeUnauthenticated, "missing api key")
	// ErrInvalidKey 表示 API Key 无法识别。
	ErrInvalidKey = xerrors.New(CodeUnauthenticated, "invalid api key")
	// ErrPermissionDenied 表示主体缺少所需权限。
	ErrPermissionDenied = xerrors.New(CodePermissionDenied, "permission denied")
)

func init() {
	xerrors.Register(CodeUnauthenticated, xerrors.Attributes{Message: "authentication required", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodePermissionDenied, xerrors.Attributes{Message: "permission denied", Severity: xerrors.SeverityWarning})
}

// implied 描述权限之间的包含关系。
var implied = map[string][]string{
	PermissionManage:  {PermissionPredict, PermissionRead},
	PermissionPredict: {PermissionRead},
}

// Subject 是通过认证的调用方。
type Subject struct {
	Name        string
	Permissions []string
}

// HasPermission 判断主体是否拥有权限，考虑权限的包含关系。
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	want := strings.ToLower(strings.TrimSpace(permission))
	for _, p := range s.Permissions {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == want || slices.Contains(implied[p], want) {
			return true
		}
	}
	return false
}

// Authorize 要求主体拥有全部给定权限。
func (s *Subject) Authorize(perms ...string) error {
	for _, p := range perms {
		if !s.HasPermission(p) {
			return xerrors.New(CodePermissionDenied, "missing permission "+p, xerrors.WithMetadata("permission", p))
		}
	}
	return nil
}

// Clone 返回主体的副本。
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	return &Subject{Name: s.Name, Permissions: slices.Clone(s.Permissions)}
}
