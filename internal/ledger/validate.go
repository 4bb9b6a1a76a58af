package ledger

import (
	stdErrors "errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	xerrors "NLP-Chain/internal/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// 内置 max 对字符串按字符计数，存储上限按字节计算。
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return len(fl.Field().String()) <= limit
	})
	return v
}

// ValidateContent 检查内容是否超出存储上限，超出时返回 QUOTA_EXCEEDED。
func ValidateContent(c Content) error {
	if err := validate.Struct(c); err != nil {
		return quotaError(err)
	}
	return nil
}

// ValidateVector 检查向量维度。
func ValidateVector(v []float64) error {
	if err := validate.Var(v, "max=768"); err != nil {
		return quotaError(err)
	}
	return nil
}

func quotaError(err error) error {
	var verrs validator.ValidationErrors
	if !stdErrors.As(err, &verrs) {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "validate block content")
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		if name == "" {
			name = "vector"
		}
		fields = append(fields, fmt.Sprintf("%s exceeds %s", strings.ToLower(name), fe.Param()))
	}
	return xerrors.New(xerrors.CodeQuotaExceeded, strings.Join(fields, "; "))
}
