// Package client — клиент gRPC-сервиса license.v1.LicenseCheck для клиентского ПО.
package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/magabrotheeeer/hwid-licensing/internal/grpc/server"
)

// Result — ответ сервиса проверки.
type Result struct {
	Fingerprint string
	Authorized  bool
	Source      string
	ExpiresAt   *time.Time
}

// LicenseClient вызывает проверку лицензии по gRPC.
type LicenseClient struct {
	conn *grpc.ClientConn
}

// NewLicenseClient создаёт клиент. Дополнительные опции заменяют
// небезопасные учётные данные по умолчанию.
func NewLicenseClient(addr string, opts ...grpc.DialOption) (*LicenseClient, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("client.NewLicenseClient: %w", err)
	}
	return &LicenseClient{conn: conn}, nil
}

// Close закрывает соединение.
func (c *LicenseClient) Close() error {
	return c.conn.Close()
}

// Verify проверяет HWID.
func (c *LicenseClient) Verify(ctx context.Context, hwid string) (Result, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, server.VerifyMethod, wrapperspb.String(hwid), out); err != nil {
		return Result{}, err
	}

	fields := out.GetFields()
	res := Result{
		Fingerprint: fields["fingerprint"].GetStringValue(),
		Authorized:  fields["authorized"].GetBoolValue(),
		Source:      fields["source"].GetStringValue(),
	}
	if v, ok := fields["expiresAt"].GetKind().(*structpb.Value_NumberValue); ok {
		t := time.UnixMilli(int64(v.NumberValue)).UTC()
		res.ExpiresAt = &t
	}
	return res, nil
}
