// Package server реализует gRPC-сервис проверки лицензий для клиентского ПО.
//
// Сервис license.v1.LicenseCheck принимает HWID в google.protobuf.StringValue
// и возвращает результат проверки в google.protobuf.Struct, поэтому
// сгенерированный код не требуется.
package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/magabrotheeeer/hwid-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/hwid-licensing/internal/licensing"
	"github.com/magabrotheeeer/hwid-licensing/internal/services/license"
)

const (
	// ServiceName — полное имя gRPC-сервиса.
	ServiceName = "license.v1.LicenseCheck"
	// VerifyMethod — полное имя метода проверки.
	VerifyMethod = "/" + ServiceName + "/Verify"
)

// LicenseCheckServer — серверная часть license.v1.LicenseCheck.
type LicenseCheckServer interface {
	Verify(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
}

// ServiceDesc описывает сервис для grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LicenseCheckServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Verify", Handler: verifyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "license/v1/license.proto",
}

func verifyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LicenseCheckServer).Verify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: VerifyMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LicenseCheckServer).Verify(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Register регистрирует реализацию в gRPC-сервере.
func Register(s grpc.ServiceRegistrar, srv LicenseCheckServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Verifier проверяет отпечаток.
type Verifier interface {
	Verify(ctx context.Context, raw string) (license.Verification, error)
}

// LicenseServer реализует LicenseCheckServer поверх сервиса лицензий.
type LicenseServer struct {
	verifier Verifier
	log      *slog.Logger
}

// NewLicenseServer создает LicenseServer.
func NewLicenseServer(verifier Verifier, logger *slog.Logger) *LicenseServer {
	return &LicenseServer{verifier: verifier, log: logger}
}

// Verify проверяет HWID. Поле expiresAt содержит миллисекунды или null.
func (s *LicenseServer) Verify(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	res, err := s.verifier.Verify(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}

	var expiresAt any
	if res.ExpiresAt != nil {
		expiresAt = res.ExpiresAt.UnixMilli()
	}
	out, err := structpb.NewStruct(map[string]any{
		"fingerprint": res.Fingerprint,
		"authorized":  res.Authorized,
		"source":      res.Source,
		"expiresAt":   expiresAt,
	})
	if err != nil {
		s.log.Error("failed to build verify response", sl.Err(err))
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

var kindCodes = map[licensing.Kind]codes.Code{
	licensing.KindInvalidArgument: codes.InvalidArgument,
	licensing.KindNotFound:        codes.NotFound,
	licensing.KindUnauthorized:    codes.PermissionDenied,
}

func toStatus(err error) error {
	e, ok := licensing.AsError(err)
	if !ok {
		return status.Error(codes.Internal, licensing.ErrStorageError.Message)
	}
	code, ok := kindCodes[e.Kind]
	if !ok {
		code = codes.Internal
	}
	return status.Error(code, e.Message)
}

// LoggingInterceptor пишет в лог метод, длительность и код ответа.
func LoggingInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		attrs := []any{
			slog.String("method", info.FullMethod),
			slog.String("code", code.String()),
			slog.Duration("elapsed", time.Since(start)),
		}
		if code == codes.Internal {
			log.Error("grpc request failed", append(attrs, sl.Err(err))...)
		} else {
			log.Debug("grpc request served", attrs...)
		}
		return resp, err
	}
}
