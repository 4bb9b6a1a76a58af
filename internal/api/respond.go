package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	xerrors "NLP-Chain/internal/errors"
	"NLP-Chain/pkg/logger"
)

const maxBodyBytes = 1 << 20

var validate = validator.New()

// errorBody 是所有错误响应的格式。
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := xerrors.HTTPStatusOf(err)
	if status >= http.StatusInternalServerError {
		logger.L().Error("请求处理失败", slog.Any("error", err), slog.String("code", string(xerrors.CodeOf(err))))
	}
	writeJSON(w, status, errorBody{Code: string(xerrors.CodeOf(err)), Message: err.Error()})
}

// decode 解析并校验请求体。未知字段视为错误。
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return xerrors.New(xerrors.CodeInvalidArgument, "invalid field "+verrs[0].Field()+": "+verrs[0].Tag())
		}
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求校验失败")
	}
	return nil
}

func pathUint(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "invalid path parameter "+name)
	}
	return v, nil
}

func queryUint(r *http.Request, name string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "invalid query parameter "+name)
	}
	return v, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "invalid query parameter "+name)
	}
	return v, nil
}
