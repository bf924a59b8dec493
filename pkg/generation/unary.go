package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/alantheprice/webforge/pkg/utils"
)

// maxResponseBytes caps a unary response body.
const maxResponseBytes = 16 << 20

// UnaryTransport performs one HTTP POST per generation. From the session's
// point of view it emits one status frame and then one terminal frame.
type UnaryTransport struct {
	baseURL string
	client  *http.Client
}

// NewUnaryTransport creates a transport against the API base URL, e.g.
// http://localhost:8000/api/ollama. The client has no overall timeout: a
// generation may legitimately run for minutes.
func NewUnaryTransport(baseURL string, client *http.Client) *UnaryTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &UnaryTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (t *UnaryTransport) Name() string { return "unary" }

// Open prepares the call; the POST itself happens on the second Recv.
func (t *UnaryTransport) Open(ctx context.Context, req Request) (Stream, error) {
	body, err := json.Marshal(req.Wire(false))
	if err != nil {
		return nil, utils.NewProtocolError("Failed to encode generation request", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	return &unaryStream{
		ctx:       ctx,
		cancel:    cancel,
		transport: t,
		req:       req,
		body:      body,
	}, nil
}

type unaryStream struct {
	ctx       context.Context
	cancel    context.CancelFunc
	transport *UnaryTransport
	req       Request
	body      []byte
	step      int
	closeOnce sync.Once
}

func (s *unaryStream) Recv() (Message, error) {
	defer func() { s.step++ }()
	switch s.step {
	case 0:
		return Message{Type: MessageStatus, Message: s.req.Kind.StatusLabel()}, nil
	case 1:
		return s.call()
	default:
		return Message{}, io.EOF
	}
}

func (s *unaryStream) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

func (s *unaryStream) call() (Message, error) {
	url := s.transport.baseURL + s.req.Kind.Endpoint()
	httpReq, err := http.NewRequestWithContext(s.ctx, http.MethodPost, url, bytes.NewReader(s.body))
	if err != nil {
		return Message{}, utils.NewTransportError(fmt.Sprintf("Invalid backend URL %q", s.transport.baseURL), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.transport.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Message{}, err
		}
		return Message{}, utils.NewTransportError("Cannot connect to the generation backend. Make sure it is running.", err).
			WithComponent("generation").WithOperation("unary")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Message{}, err
		}
		return Message{}, utils.NewTransportError("Lost connection to the generation backend", err)
	}

	return decodeUnaryResponse(resp.StatusCode, raw)
}

// unaryEnvelope covers both documented response shapes:
// {success, data|error} on 2xx and {detail} on HTTP errors.
type unaryEnvelope struct {
	Success *bool                      `json:"success"`
	Data    map[string]json.RawMessage `json:"data"`
	Error   string                     `json:"error"`
	Detail  json.RawMessage            `json:"detail"`
}

func decodeUnaryResponse(status int, raw []byte) (Message, error) {
	var env unaryEnvelope
	decodeErr := json.Unmarshal(raw, &env)

	if status < 200 || status > 299 {
		if decodeErr == nil {
			if detail := detailText(env.Detail); detail != "" {
				return Message{Type: MessageError, Message: detail}, nil
			}
			if env.Error != "" {
				return Message{Type: MessageError, Message: env.Error}, nil
			}
		}
		return Message{}, utils.NewTransportError(fmt.Sprintf("Backend returned HTTP %d", status), nil).
			WithComponent("generation").WithOperation("unary")
	}

	if decodeErr != nil || env.Success == nil {
		return Message{}, utils.NewProtocolError("Backend returned a malformed generation response", decodeErr).
			WithComponent("generation").WithOperation("unary")
	}
	if !*env.Success {
		return Message{Type: MessageError, Message: env.Error}, nil
	}
	return Message{Type: MessageComplete, Data: env.Data}, nil
}

// detailText handles both a plain string detail and a validation-error list.
func detailText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &items); err == nil {
		parts := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				parts = append(parts, it.Msg)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}
