// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sourcegraph/jsonrpc2"
)

// DefaultRequestTimeout bounds every request without a response.
const DefaultRequestTimeout = 30 * time.Second

// maxListPages bounds cursor pagination of list requests.
const maxListPages = 100

// JSON-RPC method names.
const (
	methodInitialize    = string(mcp.MethodInitialize)
	methodInitialized   = "initialized"
	methodPing          = string(mcp.MethodPing)
	methodToolsList     = string(mcp.MethodToolsList)
	methodToolsCall     = string(mcp.MethodToolsCall)
	methodResourcesList = string(mcp.MethodResourcesList)
	methodResourcesRead = string(mcp.MethodResourcesRead)
	methodPromptsList   = string(mcp.MethodPromptsList)
	methodPromptsGet    = string(mcp.MethodPromptsGet)
)

// Server notifications that invalidate cached capability lists.
const (
	NotificationToolsListChanged     = string(mcp.MethodNotificationToolsListChanged)
	NotificationResourcesListChanged = string(mcp.MethodNotificationResourcesListChanged)
	NotificationResourceUpdated      = string(mcp.MethodNotificationResourceUpdated)
	NotificationPromptsListChanged   = string(mcp.MethodNotificationPromptsListChanged)
)

// Message directions reported to ClientEvents.OnMessage.
const (
	DirectionSend    = "SEND"
	DirectionReceive = "RECV"
)

// ClientEvents receives connection and message notifications from a Client.
type ClientEvents struct {
	// OnConnected is called once the handshake completes.
	OnConnected func(info ServerInfo)

	// OnDisconnected is called when a connected client disconnects.
	OnDisconnected func()

	// OnError reports parse failures and other non-fatal protocol problems.
	OnError func(err error)

	// OnNotification is called for each server-initiated notification.
	OnNotification func(method string, params json.RawMessage)

	// OnMessage observes every raw line sent or received.
	OnMessage func(direction string, raw []byte)
}

// ClientConfig configures a protocol client.
type ClientConfig struct {
	// Name identifies the owning service in logs.
	Name string

	// Writer receives outbound newline-delimited messages.
	Writer io.Writer

	// Timeout bounds each request (defaults to 30s).
	Timeout time.Duration

	// ClientInfo is sent in the handshake.
	ClientInfo ClientInfo

	// Events receives client notifications.
	Events ClientEvents

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// message is one JSON-RPC 2.0 object on the wire.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *jsonrpc2.ID    `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ProtocolError  `json:"error,omitempty"`
}

type response struct {
	result json.RawMessage
	err    error
}

// pendingRequest is owned by the pending map until a response, a timeout or a
// disconnect removes it. ch is buffered so delivery never blocks.
type pendingRequest struct {
	method string
	ch     chan response
	timer  *time.Timer
}

// Client implements JSON-RPC 2.0 over a newline-delimited duplex channel.
// Outbound messages go to the configured writer; inbound data is fed through
// HandleMessage.
type Client struct {
	cfg    ClientConfig
	logger *slog.Logger

	// writeMu serializes writes to the channel
	writeMu sync.Mutex

	// mu protects every field below
	mu           sync.Mutex
	nextID       uint64
	pending      map[uint64]*pendingRequest
	connected    bool
	initializing bool
	closed       bool
	serverInfo   *ServerInfo
}

// NewClient creates a protocol client writing to cfg.Writer.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Writer == nil {
		return nil, fmt.Errorf("writer is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.ClientInfo.Name == "" {
		cfg.ClientInfo = ClientInfo{Name: "toolbridge", Version: "dev"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[uint64]*pendingRequest),
	}, nil
}

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    clientCapabilities `json:"capabilities"`
	ClientInfo      ClientInfo         `json:"clientInfo"`
}

type clientCapabilities struct {
	Tools     struct{} `json:"tools"`
	Resources struct{} `json:"resources"`
	Prompts   struct{} `json:"prompts"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      *ClientInfo        `json:"serverInfo,omitempty"`
	Name            string             `json:"name,omitempty"`
	Version         string             `json:"version,omitempty"`
}

// Initialize performs the handshake: an initialize request followed by the
// initialized notification. The client is connected only if both succeed.
func (c *Client) Initialize(ctx context.Context) (*ServerInfo, error) {
	c.mu.Lock()
	switch {
	case c.connected:
		c.mu.Unlock()
		return nil, ErrAlreadyConnected()
	case c.closed:
		c.mu.Unlock()
		return nil, ErrConnectionClosed()
	case c.initializing:
		c.mu.Unlock()
		return nil, ErrAlreadyConnected().WithDetail("handshake already in progress")
	}
	c.initializing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.initializing = false
		c.mu.Unlock()
	}()

	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      c.cfg.ClientInfo,
	}

	raw, err := c.request(ctx, methodInitialize, params)
	if err != nil {
		return nil, err
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, WrapError(err, ErrorCodeProtocol, "invalid initialize result")
	}

	info := ServerInfo{
		Name:            result.Name,
		Version:         result.Version,
		ProtocolVersion: result.ProtocolVersion,
		Capabilities:    result.Capabilities,
	}
	if info.Name == "" && result.ServerInfo != nil {
		info.Name = result.ServerInfo.Name
		info.Version = result.ServerInfo.Version
	}

	if err := c.notify(methodInitialized, nil); err != nil {
		return nil, fmt.Errorf("send initialized notification: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed()
	}
	c.connected = true
	c.serverInfo = &info
	c.mu.Unlock()

	c.logger.Debug("mcp handshake complete",
		"service", c.cfg.Name,
		"server", info.Name,
		"server_version", info.Version,
		"protocol_version", info.ProtocolVersion,
	)

	if c.cfg.Events.OnConnected != nil {
		c.cfg.Events.OnConnected(info)
	}

	return &info, nil
}

// Disconnect rejects every pending request with a connection-closed error and
// marks the client disconnected. It is safe to call more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint64]*pendingRequest)
	c.mu.Unlock()

	for _, req := range pending {
		req.timer.Stop()
		req.ch <- response{err: ErrConnectionClosed().WithDetail(fmt.Sprintf("request '%s' abandoned", req.method))}
	}

	if len(pending) > 0 {
		c.logger.Debug("rejected pending requests on disconnect",
			"service", c.cfg.Name,
			"count", len(pending),
		)
	}

	if wasConnected && c.cfg.Events.OnDisconnected != nil {
		c.cfg.Events.OnDisconnected()
	}
}

// Connected reports whether the handshake completed and the client is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ServerInfo returns the info captured during the handshake, or nil.
func (c *Client) ServerInfo() *ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// PendingCount returns the number of outstanding requests.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// ListTools returns every tool the server advertises.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	err := c.paginate(ctx, methodToolsList, func(raw json.RawMessage) (string, error) {
		var page struct {
			Tools      []Tool `json:"tools"`
			NextCursor string `json:"nextCursor,omitempty"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return "", err
		}
		tools = append(tools, page.Tools...)
		return page.NextCursor, nil
	})
	return tools, err
}

// ListResources returns every resource the server advertises.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	var resources []Resource
	err := c.paginate(ctx, methodResourcesList, func(raw json.RawMessage) (string, error) {
		var page struct {
			Resources  []Resource `json:"resources"`
			NextCursor string     `json:"nextCursor,omitempty"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return "", err
		}
		resources = append(resources, page.Resources...)
		return page.NextCursor, nil
	})
	return resources, err
}

// ListPrompts returns every prompt the server advertises.
func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	var prompts []Prompt
	err := c.paginate(ctx, methodPromptsList, func(raw json.RawMessage) (string, error) {
		var page struct {
			Prompts    []Prompt `json:"prompts"`
			NextCursor string   `json:"nextCursor,omitempty"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return "", err
		}
		prompts = append(prompts, page.Prompts...)
		return page.NextCursor, nil
	})
	return prompts, err
}

// paginate issues a list request and follows nextCursor until exhausted.
func (c *Client) paginate(ctx context.Context, method string, page func(json.RawMessage) (string, error)) error {
	cursor := ""
	for i := 0; i < maxListPages; i++ {
		var params any
		if cursor != "" {
			params = map[string]string{"cursor": cursor}
		}
		raw, err := c.connectedRequest(ctx, method, params)
		if err != nil {
			return err
		}
		next, err := page(raw)
		if err != nil {
			return WrapError(err, ErrorCodeProtocol, fmt.Sprintf("invalid %s result", method))
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
	return NewMCPError(ErrorCodeProtocol, fmt.Sprintf("%s exceeded %d pages", method, maxListPages))
}

// CallTool invokes a tool on the server.
func (c *Client) CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResult, error) {
	if req.Arguments == nil {
		req.Arguments = map[string]any{}
	}
	raw, err := c.connectedRequest(ctx, methodToolsCall, req)
	if err != nil {
		return nil, err
	}
	var result ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, WrapError(err, ErrorCodeProtocol, "invalid tools/call result")
	}
	return &result, nil
}

// ReadResource reads one resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) (*ResourceReadResult, error) {
	raw, err := c.connectedRequest(ctx, methodResourcesRead, map[string]string{"uri": uri})
	if err != nil {
		return nil, err
	}
	var result ResourceReadResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, WrapError(err, ErrorCodeProtocol, "invalid resources/read result")
	}
	return &result, nil
}

// GetPrompt renders a prompt with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*PromptResult, error) {
	params := struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments,omitempty"`
	}{Name: name, Arguments: args}

	raw, err := c.connectedRequest(ctx, methodPromptsGet, params)
	if err != nil {
		return nil, err
	}
	var result PromptResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, WrapError(err, ErrorCodeProtocol, "invalid prompts/get result")
	}
	return &result, nil
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.connectedRequest(ctx, methodPing, nil)
	return err
}

// connectedRequest fails fast unless the handshake has completed.
func (c *Client) connectedRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !c.Connected() {
		return nil, ErrNotConnected().WithDetail(fmt.Sprintf("cannot send '%s'", method))
	}
	return c.request(ctx, method, params)
}

// request sends one request and waits for its response. A cancelled ctx
// returns early; the pending entry stays until a response or the timeout.
func (c *Client) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	rawParams, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed()
	}
	c.nextID++
	id := c.nextID
	req := &pendingRequest{
		method: method,
		ch:     make(chan response, 1),
	}
	req.timer = time.AfterFunc(c.cfg.Timeout, func() { c.expire(id) })
	c.pending[id] = req
	c.mu.Unlock()

	msg := message{
		JSONRPC: "2.0",
		ID:      &jsonrpc2.ID{Num: id},
		Method:  method,
		Params:  rawParams,
	}
	if err := c.send(msg); err != nil {
		c.remove(id)
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case resp := <-req.ch:
		return resp.result, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// expire rejects a request whose timer fired before a response arrived.
func (c *Client) expire(id uint64) {
	c.mu.Lock()
	req, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if !ok {
		return
	}

	c.logger.Debug("mcp request timed out",
		"service", c.cfg.Name,
		"method", req.method,
		"id", id,
	)
	req.ch <- response{err: ErrTimeout(req.method, c.cfg.Timeout)}
}

// remove drops a pending request and stops its timer.
func (c *Client) remove(id uint64) {
	c.mu.Lock()
	req, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if ok {
		req.timer.Stop()
	}
}

func (c *Client) notify(method string, params any) error {
	rawParams, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.send(message{JSONRPC: "2.0", Method: method, Params: rawParams})
}

func (c *Client) send(msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if c.cfg.Events.OnMessage != nil {
		c.cfg.Events.OnMessage(DirectionSend, data)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.cfg.Writer.Write(append(data, '\n'))
	return err
}

// HandleMessage consumes a chunk read from the channel. The chunk may hold
// several newline-separated messages; each line is handled independently and
// a malformed line does not stop the rest.
func (c *Client) HandleMessage(chunk []byte) {
	for _, line := range bytes.Split(chunk, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		c.handleLine(line)
	}
}

func (c *Client) handleLine(line []byte) {
	if c.cfg.Events.OnMessage != nil {
		c.cfg.Events.OnMessage(DirectionReceive, line)
	}

	var msg message
	if err := json.Unmarshal(line, &msg); err != nil {
		c.reportError(ErrParse(string(line), err))
		return
	}

	switch {
	case msg.Method != "" && msg.ID != nil:
		c.rejectServerRequest(msg)
	case msg.Method != "":
		c.logger.Debug("mcp notification received",
			"service", c.cfg.Name,
			"method", msg.Method,
		)
		if c.cfg.Events.OnNotification != nil {
			c.cfg.Events.OnNotification(msg.Method, msg.Params)
		}
	case msg.ID != nil:
		c.resolve(msg)
	default:
		c.reportError(ErrParse(string(line), errors.New("message has neither method nor id")))
	}
}

// resolve delivers a response to its pending request, matched by id only.
func (c *Client) resolve(msg message) {
	id, ok := numericID(*msg.ID)
	if !ok {
		c.logger.Debug("response with foreign id ignored", "service", c.cfg.Name, "id", msg.ID.String())
		return
	}

	c.mu.Lock()
	req, found := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if !found {
		// Late responses after a timeout land here.
		c.logger.Debug("response for unknown request ignored", "service", c.cfg.Name, "id", id)
		return
	}
	req.timer.Stop()

	if msg.Error != nil {
		req.ch <- response{err: ErrProtocol(req.method, msg.Error)}
		return
	}
	req.ch <- response{result: msg.Result}
}

// rejectServerRequest answers a server-initiated request. No server-to-client
// methods are implemented, so every request gets method-not-found.
func (c *Client) rejectServerRequest(msg message) {
	c.logger.Debug("rejecting server request",
		"service", c.cfg.Name,
		"method", msg.Method,
	)
	reply := message{
		JSONRPC: "2.0",
		ID:      msg.ID,
		Error: &ProtocolError{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: "Method not found",
		},
	}
	if err := c.send(reply); err != nil {
		c.reportError(fmt.Errorf("reply to %s: %w", msg.Method, err))
	}
}

func (c *Client) reportError(err error) {
	c.logger.Debug("mcp protocol error", "service", c.cfg.Name, "error", err)
	if c.cfg.Events.OnError != nil {
		c.cfg.Events.OnError(err)
	}
}

func numericID(id jsonrpc2.ID) (uint64, bool) {
	if !id.IsString {
		return id.Num, true
	}
	n, err := strconv.ParseUint(id.Str, 10, 64)
	return n, err == nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}
