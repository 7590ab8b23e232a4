package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"DrawSight/pkg/logger"
)

// Mode 表示认证模式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeAPIKey   Mode = "api_key"
)

// HeaderAPIKey 是除 Authorization 外也接受的请求头。
const HeaderAPIKey = "X-API-Key"

// Config 描述认证服务。
type Config struct {
	Mode Mode
	Keys []Key
}

// Key 是一个 API Key。Secret 与 SHA256 二选一，后者为十六进制摘要。
type Key struct {
	Name        string
	Secret      string
	SHA256      string
	Permissions []string
	Disabled    bool
}

type credential struct {
	digest  [sha256.Size]byte
	subject *Subject
}

// Service 负责 API Key 的校验。
type Service struct {
	mode  Mode
	keys  []credential
	audit *slog.Logger
}

// NewService 构造认证服务。禁用的 Key 会被忽略。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, audit: logger.Audit()}
	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeAPIKey:
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}

	for _, k := range cfg.Keys {
		if k.Disabled {
			continue
		}
		digest, err := keyDigest(k)
		if err != nil {
			return nil, fmt.Errorf("api key %s: %w", k.Name, err)
		}
		svc.keys = append(svc.keys, credential{
			digest:  digest,
			subject: &Subject{Name: k.Name, Permissions: append([]string(nil), k.Permissions...)},
		})
	}
	if len(svc.keys) == 0 {
		return nil, fmt.Errorf("api_key mode requires at least one enabled key")
	}
	return svc, nil
}

func keyDigest(k Key) ([sha256.Size]byte, error) {
	var digest [sha256.Size]byte
	switch {
	case k.SHA256 != "":
		raw, err := hex.DecodeString(strings.TrimSpace(k.SHA256))
		if err != nil || len(raw) != sha256.Size {
			return digest, fmt.Errorf("sha256 must be %d hex encoded bytes", sha256.Size)
		}
		copy(digest[:], raw)
	case k.Secret != "":
		digest = sha256.Sum256([]byte(k.Secret))
	default:
		return digest, fmt.Errorf("either secret or sha256 is required")
	}
	return digest, nil
}

// HashKey 返回 API Key 的十六进制 SHA-256 摘要，用于配置文件。
func HashKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Mode 返回当前认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Enabled 报告是否需要认证。
func (s *Service) Enabled() bool {
	return s.Mode() != ModeDisabled
}

// AuthenticateRequest 从 Authorization: Bearer 或 X-API-Key 中读取 Key 并返回主体。
func (s *Service) AuthenticateRequest(r *http.Request) (*Subject, error) {
	secret := r.Header.Get(HeaderAPIKey)
	if secret == "" {
		if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			secret = strings.TrimSpace(h[7:])
		}
	}
	if secret == "" {
		return nil, ErrMissingKey
	}
	digest := sha256.Sum256([]byte(secret))
	var found *Subject
	for _, c := range s.keys {
		if subtle.ConstantTimeCompare(digest[:], c.digest[:]) == 1 {
			found = c.subject
		}
	}
	if found == nil {
		return nil, ErrInvalidKey
	}
	return found.Clone(), nil
}
