package library

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
)

const (
	typenameField = "__typename"
	refField      = "__ref"
	rootQueryKey  = "ROOT_QUERY:"
	maxRefDepth   = 32
)

// NormalizedCache stores every object of a GraphQL response under its
// identity, "Type:id", and each query result as a tree of references to
// those objects. A later response carrying the same object merges its fields
// into the stored one, so every cached query that references it reads the
// new values. Nothing else invalidates entries.
type NormalizedCache struct {
	store *ristretto.Cache[string, []byte]

	// Serializes read-merge-write of entities.
	writeMu sync.Mutex
}

// NewNormalizedCache creates a cache bounded to maxBytes of encoded objects.
func NewNormalizedCache(maxBytes int64) (*NormalizedCache, error) {
	if maxBytes <= 0 {
		maxBytes = 8 << 20
	}
	store, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 10_000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create response cache: %w", err)
	}
	return &NormalizedCache{store: store}, nil
}

// CacheKey returns the identity an object is stored under.
func CacheKey(typename, id string) string {
	return typename + ":" + id
}

// QueryKey identifies the result of req: its document, operation name and
// variables.
func QueryKey(req GraphQLRequest) string {
	vars, _ := json.Marshal(req.Variables)
	return req.OperationName + "\x00" + req.Query + "\x00" + string(vars)
}

// Write stores each identifiable object of a response's data. Mutation
// results go through Write; they are not readable as a whole.
func (c *NormalizedCache) Write(data json.RawMessage) error {
	return c.normalize(data, "")
}

// WriteQuery stores the objects of a query result and the result itself,
// with objects replaced by references, under key.
func (c *NormalizedCache) WriteQuery(key string, data json.RawMessage) error {
	return c.normalize(data, rootQueryKey+key)
}

// ReadQuery rebuilds the result stored under key from the current objects.
// A result referencing an object no longer in the cache is a miss.
func (c *NormalizedCache) ReadQuery(key string) (json.RawMessage, bool) {
	root, ok := c.load(rootQueryKey + key)
	if !ok {
		return nil, false
	}
	tree, ok := c.resolve(root, 0)
	if !ok {
		return nil, false
	}
	out, err := json.Marshal(tree)
	if err != nil {
		return nil, false
	}
	return out, true
}

func (c *NormalizedCache) normalize(data json.RawMessage, rootKey string) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("normalize response: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	w := &cacheWriter{cache: c, entities: make(map[string]map[string]any)}
	root := w.flatten(tree)
	for key, obj := range w.entities {
		c.set(key, obj)
	}
	if rootKey != "" {
		c.set(rootKey, root)
	}
	// Sets are applied asynchronously; make them visible before returning.
	c.store.Wait()
	return nil
}

// cacheWriter collects the merged objects of one response.
type cacheWriter struct {
	cache    *NormalizedCache
	entities map[string]map[string]any
}

func (w *cacheWriter) flatten(node any) any {
	switch v := node.(type) {
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = w.flatten(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for field, child := range v {
			out[field] = w.flatten(child)
		}
		key, ok := identity(v)
		if !ok {
			return out
		}
		w.merge(key, out)
		return map[string]any{refField: key}
	default:
		return node
	}
}

func (w *cacheWriter) merge(key string, fields map[string]any) {
	obj, ok := w.entities[key]
	if !ok {
		obj = make(map[string]any, len(fields))
		if stored, found := w.cache.load(key); found {
			if m, isMap := stored.(map[string]any); isMap {
				obj = m
			}
		}
		w.entities[key] = obj
	}
	for field, value := range fields {
		obj[field] = value
	}
}

func (c *NormalizedCache) resolve(node any, depth int) (any, bool) {
	if depth > maxRefDepth {
		return nil, false
	}
	switch v := node.(type) {
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, ok := c.resolve(item, depth)
			if !ok {
				return nil, false
			}
			out[i] = resolved
		}
		return out, true
	case map[string]any:
		if ref, isRef := v[refField].(string); isRef && len(v) == 1 {
			obj, ok := c.load(ref)
			if !ok {
				return nil, false
			}
			return c.resolve(obj, depth+1)
		}
		out := make(map[string]any, len(v))
		for field, child := range v {
			resolved, ok := c.resolve(child, depth)
			if !ok {
				return nil, false
			}
			out[field] = resolved
		}
		return out, true
	default:
		return node, true
	}
}

func (c *NormalizedCache) load(key string) (any, bool) {
	raw, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

func (c *NormalizedCache) set(key string, v any) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.store.Set(key, encoded, int64(len(encoded)))
}

func identity(obj map[string]any) (string, bool) {
	typename, ok := obj[typenameField].(string)
	if !ok || typename == "" {
		return "", false
	}
	switch id := obj["id"].(type) {
	case string:
		return CacheKey(typename, id), id != ""
	case float64:
		return CacheKey(typename, strconv.FormatFloat(id, 'f', -1, 64)), true
	default:
		return "", false
	}
}

func (c *NormalizedCache) Close() {
	c.store.Close()
}

// withTypenames adds __typename to every selection set of query so response
// objects can be normalized. The original query is returned if it cannot be
// parsed; the server will report the syntax error.
func withTypenames(query string) string {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return query
	}
	// Root selections are left alone: a subscription root must select exactly
	// one field.
	for _, op := range doc.Operations {
		for _, sel := range op.SelectionSet {
			addTypename(sel)
		}
	}
	for _, frag := range doc.Fragments {
		frag.SelectionSet = appendTypename(frag.SelectionSet)
	}

	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)
	return buf.String()
}

func addTypename(sel ast.Selection) {
	switch s := sel.(type) {
	case *ast.Field:
		if len(s.SelectionSet) == 0 {
			return
		}
		for _, child := range s.SelectionSet {
			addTypename(child)
		}
		s.SelectionSet = appendTypename(s.SelectionSet)
	case *ast.InlineFragment:
		for _, child := range s.SelectionSet {
			addTypename(child)
		}
		s.SelectionSet = appendTypename(s.SelectionSet)
	}
}

func appendTypename(set ast.SelectionSet) ast.SelectionSet {
	for _, sel := range set {
		if f, ok := sel.(*ast.Field); ok && f.Name == typenameField && f.Alias == typenameField {
			return set
		}
	}
	return append(set, &ast.Field{Alias: typenameField, Name: typenameField})
}
