package grpcapi

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

// PredictOptions mirror the HTTP form flags.
type PredictOptions struct {
	UseDollars   bool
	ConvertAlign bool
	UseTypst     bool
	MathML       bool
	MaxLength    int
	RequestID    string
}

// Client calls a remote mixtex.v1.OCR server.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to addr without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// Predict sends the encoded image bytes and returns the response fields.
func (c *Client) Predict(ctx context.Context, image []byte, opts PredictOptions) (map[string]any, error) {
	req := map[string]any{
		"image":         base64.StdEncoding.EncodeToString(image),
		"use_dollars":   opts.UseDollars,
		"convert_align": opts.ConvertAlign,
		"use_typst":     opts.UseTypst,
		"mathml":        opts.MathML,
	}
	if opts.MaxLength > 0 {
		req["max_length"] = opts.MaxLength
	}
	if opts.RequestID != "" {
		req["request_id"] = opts.RequestID
	}
	return c.call(ctx, methodPredict, req)
}

func (c *Client) ReloadModel(ctx context.Context) (map[string]any, error) {
	return c.call(ctx, methodReloadModel, nil)
}

func (c *Client) Statistics(ctx context.Context) (map[string]any, error) {
	return c.call(ctx, methodStatistics, nil)
}

// Health returns the serving status of the OCR service.
func (c *Client) Health(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func (c *Client) call(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
