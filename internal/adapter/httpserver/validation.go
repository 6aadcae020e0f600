package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/domain"
)

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() {
		vld = validator.New(validator.WithRequiredStructEnabled())
		vld.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return vld
}

// decodeAndValidate reads a JSON body into v and runs struct validation.
// Failures wrap domain.ErrInvalidArgument; field problems come back as details.
func decodeAndValidate(r *http.Request, v any) ([]ValidationError, error) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "application/json") {
		return nil, fmt.Errorf("%w: content-type must be application/json", domain.ErrInvalidArgument)
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, fmt.Errorf("%w: request body too large", domain.ErrInvalidArgument)
		case errors.Is(err, io.EOF):
			return nil, fmt.Errorf("%w: request body is required", domain.ErrInvalidArgument)
		default:
			return nil, fmt.Errorf("%w: invalid JSON body", domain.ErrInvalidArgument)
		}
	}
	if err := getValidator().Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
		out := make([]ValidationError, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, ValidationError{Field: fe.Field(), Code: strings.ToUpper(fe.Tag()), Message: fieldMessage(fe)})
		}
		return out, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, out[0].Message)
	}
	return nil, nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fe.Field() + " must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "max":
		return fe.Field() + " must be at most " + fe.Param()
	case "min":
		return fe.Field() + " must be at least " + fe.Param()
	case "gte":
		return fe.Field() + " must be greater than or equal to " + fe.Param()
	}
	return fe.Field() + " is invalid"
}

func errInvalid(msg string) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, msg)
}
