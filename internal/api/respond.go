package api

import (
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"

	"DrawSight/internal/auth"
	xerrors "DrawSight/internal/errors"
	"DrawSight/internal/job"
	"DrawSight/pkg/plugin"
)

// retryAfterSeconds 是资源耗尽时建议客户端等待的秒数。
const retryAfterSeconds = 5

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor 将错误码映射为 HTTP 状态码。
func statusFor(code xerrors.Code) int {
	switch code {
	case plugin.CodeValidation, job.CodeJobValidation, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case auth.CodeUnauthenticated:
		return http.StatusUnauthorized
	case auth.CodePermissionDenied:
		return http.StatusForbidden
	case plugin.CodeNotFound, job.CodeJobNotFound, xerrors.CodeNotFound:
		return http.StatusNotFound
	case plugin.CodeBusy, plugin.CodeNotReady, plugin.CodeRegistration,
		job.CodeJobConflict, xerrors.CodeConflict:
		return http.StatusConflict
	case plugin.CodeResourceExhausted, xerrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case plugin.CodeTimeout, xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	detail := errorDetail{
		Code:      string(code),
		Message:   err.Error(),
		Retryable: xerrors.RetryableError(err),
	}
	if e, ok := xerrors.From(err); ok {
		detail.Field = e.MetadataValue("field")
	}
	status := statusFor(code)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		if stdErrors.As(err, &syntaxErr) {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体不是合法的 JSON")
		}
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, key+" 必须是整数", xerrors.WithMetadata("field", key))
	}
	return v, nil
}
