package interceptors

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// FieldError is a validation failure of one request field.
type FieldError struct {
	Field   string
	Message string
}

// FieldErrors is a collection of field validation errors.
type FieldErrors []FieldError

func (e FieldErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	var sb strings.Builder
	for i, err := range e {
		if i > 0 {
			sb.WriteString("; ")
		}
		if err.Field != "" {
			sb.WriteString(err.Field)
			sb.WriteString(": ")
		}
		sb.WriteString(err.Message)
	}
	return sb.String()
}

// RequestValidator lets a request add rules the validate tags cannot
// express. It runs after the tag rules pass.
type RequestValidator interface {
	Validate() error
}

var requestValidator = newRequestValidator()

// newRequestValidator reports fields by their JSON names, which are the
// keys clients put in the Struct payload.
func newRequestValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// ValidationUnaryInterceptor rejects invalid requests with InvalidArgument
// before they reach the engine. Generated protobuf messages pass through.
func ValidationUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if err := validateRequest(req); err != nil {
			return nil, toInvalidArgument(err)
		}
		return handler(ctx, req)
	}
}

func validateRequest(req interface{}) error {
	if req == nil {
		return FieldErrors{{Message: "request is nil"}}
	}
	if _, ok := req.(proto.Message); ok {
		return nil
	}
	if err := requestValidator.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return toFieldErrors(verrs)
		}
		return err
	}
	if v, ok := req.(RequestValidator); ok {
		return v.Validate()
	}
	return nil
}

func toFieldErrors(errs validator.ValidationErrors) FieldErrors {
	fields := make(FieldErrors, 0, len(errs))
	for _, fe := range errs {
		fields = append(fields, FieldError{
			Field:   fieldPath(fe),
			Message: fieldMessage(fe),
		})
	}
	return fields
}

// fieldPath drops the struct type prefix from the namespace, so an embedded
// request reports "scope" rather than "FormatContextRequest.RetrieveRequest.scope".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.LastIndex(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

func toInvalidArgument(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.InvalidArgument, err.Error())
}
