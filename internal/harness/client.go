package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	grpcapi "github.com/chatreplay/chatreplay/internal/api/grpc"
	"github.com/chatreplay/chatreplay/internal/errors"
	"github.com/chatreplay/chatreplay/pkg/types"
)

// Client sends one completion request to the service.
// Implementations must be safe for concurrent use. A miss is reported as a
// KeyNotFound error and everything else that prevents a response as a
// transport error.
type Client interface {
	Complete(ctx context.Context, messages []types.Message) (types.ResponseEnvelope, error)
}

// completionsPath is the chat completion route of the HTTP API.
const completionsPath = "/v1/chat/completions"

// HTTPClient talks to the HTTP API.
type HTTPClient struct {
	url  string
	http *http.Client
}

// NewHTTPClient creates a client for the service at baseURL. The connection
// pool keeps up to maxIdle idle connections so a full worker pool reuses
// them. The client sets no timeout.
func NewHTTPClient(baseURL string, maxIdle int) *HTTPClient {
	if maxIdle <= 0 {
		maxIdle = 1
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = maxIdle
	transport.MaxIdleConnsPerHost = maxIdle
	return NewHTTPClientWith(baseURL, &http.Client{Transport: transport})
}

// NewHTTPClientWith creates a client that sends requests through hc.
func NewHTTPClientWith(baseURL string, hc *http.Client) *HTTPClient {
	return &HTTPClient{
		url:  strings.TrimRight(baseURL, "/") + completionsPath,
		http: hc,
	}
}

// Complete implements Client.
func (c *HTTPClient) Complete(ctx context.Context, messages []types.Message) (types.ResponseEnvelope, error) {
	body, err := json.Marshal(types.ChatCompletionRequest{Messages: messages})
	if err != nil {
		return types.ResponseEnvelope{}, errors.NewInternalError("encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return types.ResponseEnvelope{}, errors.NewTransportError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return types.ResponseEnvelope{}, errors.NewTransportError("post completion", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return types.ResponseEnvelope{}, errors.NewKeyNotFound(types.NotFoundMessage)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.ResponseEnvelope{}, errors.NewTransportError(
			fmt.Sprintf("unexpected status %d", resp.StatusCode),
			fmt.Errorf("%s", bytes.TrimSpace(msg)))
	}

	var env types.ResponseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return types.ResponseEnvelope{}, errors.NewTransportError("decode response", err)
	}
	return env, nil
}

// GRPCClient talks to the gRPC API.
type GRPCClient struct {
	conn   *grpc.ClientConn
	client *grpcapi.CompletionsClient
}

// NewGRPCClient connects to the service at target (host:port) without TLS.
func NewGRPCClient(target string) (*GRPCClient, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.NewTransportError("dial "+target, err)
	}
	return &GRPCClient{conn: conn, client: grpcapi.NewCompletionsClient(conn)}, nil
}

// NewGRPCClientFromConn wraps an existing connection. Close does not close cc.
func NewGRPCClientFromConn(cc grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{client: grpcapi.NewCompletionsClient(cc)}
}

// Complete implements Client.
func (c *GRPCClient) Complete(ctx context.Context, messages []types.Message) (types.ResponseEnvelope, error) {
	req, err := grpcapi.EncodeRequest(messages)
	if err != nil {
		return types.ResponseEnvelope{}, errors.NewInternalError("encode request", err)
	}

	resp, err := c.client.Complete(ctx, req)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.ResponseEnvelope{}, errors.NewKeyNotFound(types.NotFoundMessage)
		}
		return types.ResponseEnvelope{}, errors.NewTransportError("complete", err)
	}

	env, err := grpcapi.DecodeResponse(resp)
	if err != nil {
		return types.ResponseEnvelope{}, errors.NewTransportError("decode response", err)
	}
	return env, nil
}

// Close closes the underlying connection if the client owns it.
func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
