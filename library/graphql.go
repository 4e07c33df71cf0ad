package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// GraphQLRequest is the body of a GraphQL operation.
type GraphQLRequest struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// GraphQLError is one entry of a response's "errors" list.
type GraphQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// GraphQLErrors is returned when the server answers with errors.
type GraphQLErrors []GraphQLError

func (e GraphQLErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Message)
	}
	return "graphql: " + strings.Join(msgs, "; ")
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors GraphQLErrors   `json:"errors"`
}

// ErrSubscriptionOverHTTP is returned when a subscription is sent to the
// request/response transport.
var ErrSubscriptionOverHTTP = errors.New("library: subscriptions must use Subscribe")

// OperationKind reports whether query is a query, mutation or subscription.
// With several operations in one document the one named operationName is used.
func OperationKind(query, operationName string) (ast.Operation, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return "", fmt.Errorf("parse graphql: %w", err)
	}
	if len(doc.Operations) == 0 {
		return "", errors.New("parse graphql: document has no operation")
	}
	if operationName != "" {
		if op := doc.Operations.ForName(operationName); op != nil {
			return op.Operation, nil
		}
		return "", fmt.Errorf("parse graphql: no operation named %q", operationName)
	}
	return doc.Operations[0].Operation, nil
}

// GraphQLClient routes operations by kind: queries and mutations go over the
// shared HTTP pipeline, subscriptions over the persistent WebSocket.
type GraphQLClient struct {
	http     *HTTPClient
	endpoint string
	ws       *SubscriptionClient
	cache    *NormalizedCache
	logger   *slog.Logger
}

// NewGraphQLClient creates a client posting to endpoint (absolute, or relative
// to the HTTP client's base URL). ws and cache are optional.
func NewGraphQLClient(httpClient *HTTPClient, endpoint string, ws *SubscriptionClient, cache *NormalizedCache, logger *slog.Logger) *GraphQLClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphQLClient{
		http:     httpClient,
		endpoint: endpoint,
		ws:       ws,
		cache:    cache,
		logger:   logger,
	}
}

// Cache returns the normalized response cache, or nil.
func (c *GraphQLClient) Cache() *NormalizedCache { return c.cache }

// Subscriptions returns the duplex transport, or nil.
func (c *GraphQLClient) Subscriptions() *SubscriptionClient { return c.ws }

// Query runs a query or mutation and decodes its data into out.
func (c *GraphQLClient) Query(ctx context.Context, query string, variables map[string]any, out any) error {
	return c.Execute(ctx, GraphQLRequest{Query: query, Variables: variables}, out)
}

// Execute runs req over HTTP. Subscriptions are refused.
func (c *GraphQLClient) Execute(ctx context.Context, req GraphQLRequest, out any) error {
	kind, err := OperationKind(req.Query, req.OperationName)
	if err != nil {
		return err
	}
	if kind == ast.Subscription {
		return ErrSubscriptionOverHTTP
	}

	key := QueryKey(req)
	if c.cache != nil {
		req.Query = withTypenames(req.Query)
	}

	var resp graphQLResponse
	if err := c.http.Do(ctx, http.MethodPost, c.endpoint, nil, req, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return resp.Errors
	}

	if c.cache != nil {
		write := c.cache.Write
		if kind == ast.Query {
			write = func(data json.RawMessage) error { return c.cache.WriteQuery(key, data) }
		}
		if err := write(resp.Data); err != nil {
			c.logger.Debug("response not cached", "error", err)
		}
	}
	return decodeData(resp.Data, out)
}

// QueryCacheFirst answers a query from the normalized cache when every object
// of an earlier identical query is still held, and runs it over HTTP
// otherwise.
func (c *GraphQLClient) QueryCacheFirst(ctx context.Context, query string, variables map[string]any, out any) error {
	req := GraphQLRequest{Query: query, Variables: variables}
	if c.cache != nil {
		if data, ok := c.cache.ReadQuery(QueryKey(req)); ok {
			c.logger.Debug("query answered from cache")
			return decodeData(data, out)
		}
	}
	return c.Execute(ctx, req, out)
}

func decodeData(data json.RawMessage, out any) error {
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode graphql data: %w", err)
	}
	return nil
}

// Subscribe starts a subscription on the WebSocket transport. handler runs on
// the transport's reader goroutine for every event.
func (c *GraphQLClient) Subscribe(query string, variables map[string]any, handler SubscriptionHandler) (string, error) {
	kind, err := OperationKind(query, "")
	if err != nil {
		return "", err
	}
	if kind != ast.Subscription {
		return "", fmt.Errorf("library: %s operations must use Execute", kind)
	}
	if c.ws == nil {
		return "", fmt.Errorf("%w: no websocket transport configured", ErrSubscription)
	}
	return c.ws.Subscribe(GraphQLRequest{Query: query, Variables: variables}, handler)
}

// Unsubscribe stops a subscription started with Subscribe.
func (c *GraphQLClient) Unsubscribe(id string) error {
	if c.ws == nil {
		return nil
	}
	return c.ws.Unsubscribe(id)
}
