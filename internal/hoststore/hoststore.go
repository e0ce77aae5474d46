// Package hoststore is a store.Backend backed by a host application's world-info HTTP API.
//
// The host exposes several write endpoints whose availability depends on its
// version. They are tried in order: structured edit, direct create, raw save.
package hoststore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/chat-summary/internal/log"
	"github.com/rcliao/chat-summary/internal/model"
	"github.com/rcliao/chat-summary/internal/store"
)

// Endpoint paths, relative to the base URL.
const (
	PathCSRF   = "/csrf-token"
	PathList   = "/api/worldinfo/list"
	PathGet    = "/api/worldinfo/get"
	PathEdit   = "/api/worldinfo/edit"
	PathCreate = "/api/worldinfo/create"
	PathSave   = "/api/worldinfo/save"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	CSRFToken  string
	HTTPClient *http.Client
}

// Client talks to the host. It implements store.Backend.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.Mutex
	token string
}

// New creates a host client. A nil HTTPClient gets a 30s timeout client.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    hc,
		token:   opts.CSRFToken,
	}
}

// hostUID is an entry uid as the host sends it. Hosts number their entries,
// but older books and hand-edited files carry string uids. A numeric uid is
// written back as a JSON number.
type hostUID string

func (u *hostUID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*u = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = hostUID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("uid: %w", err)
	}
	*u = hostUID(n.String())
	return nil
}

func (u hostUID) MarshalJSON() ([]byte, error) {
	if _, ok := numericUID(string(u)); ok {
		return []byte(u), nil
	}
	return json.Marshal(string(u))
}

func numericUID(uid string) (int64, bool) {
	n, err := strconv.ParseInt(uid, 10, 64)
	return n, err == nil && strconv.FormatInt(n, 10) == uid
}

// wireEntry is the host's JSON shape of one entry.
type wireEntry struct {
	UID      hostUID           `json:"uid"`
	Key      []string          `json:"key"`
	Comment  string            `json:"comment"`
	Content  string            `json:"content"`
	Constant bool              `json:"constant"`
	Disable  bool              `json:"disable"`
	Order    int               `json:"order"`
	Position int               `json:"position"`
	Depth    int               `json:"depth"`
	Extra    map[string]string `json:"extra,omitempty"`
}

func toWire(e model.Entry) wireEntry {
	return wireEntry{
		UID:      hostUID(e.UID),
		Key:      e.Aliases,
		Comment:  e.PrimaryKey,
		Content:  e.Content,
		Constant: e.Constant,
		Disable:  e.Disabled,
		Order:    e.Order,
		Position: e.Position,
		Depth:    e.ActivationDepth,
		Extra:    e.Meta,
	}
}

func fromWire(uid string, w wireEntry) model.Entry {
	if w.UID == "" {
		w.UID = hostUID(uid)
	}
	return model.Entry{
		UID:             string(w.UID),
		PrimaryKey:      w.Comment,
		Aliases:         w.Key,
		Content:         w.Content,
		ActivationDepth: w.Depth,
		Constant:        w.Constant,
		Disabled:        w.Disable,
		Order:           w.Order,
		Position:        w.Position,
		Meta:            w.Extra,
	}
}

type bookRequest struct {
	Name    string      `json:"name"`
	Entries []wireEntry `json:"entries,omitempty"`
}

type bookData struct {
	Entries map[string]wireEntry `json:"entries"`
}

type saveRequest struct {
	Name string   `json:"name"`
	Data bookData `json:"data"`
}

// statusError is a non-2xx response.
type statusError struct {
	Path   string
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Path, e.Status, e.Body)
}

// csrf returns the configured token, fetching it once from the host if needed.
// A host without the endpoint simply gets requests without the header.
func (c *Client) csrf(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathCSRF, nil)
	if err != nil {
		return ""
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Debugf("csrf token unavailable: %v", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}
	c.token = body.Token
	return c.token
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := c.csrf(ctx); tok != "" {
		req.Header.Set("X-CSRF-Token", tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return io.ErrUnexpectedEOF
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode: %w", path, err)
	}
	return nil
}

// ListStores asks the host for its world-info names. The host may answer with
// plain names or with {name} objects.
func (c *Client) ListStores(ctx context.Context) ([]string, error) {
	var raw []json.RawMessage
	if err := c.post(ctx, PathList, struct{}{}, &raw); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(raw))
	for _, r := range raw {
		var name string
		if err := json.Unmarshal(r, &name); err == nil {
			names = append(names, name)
			continue
		}
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(r, &obj); err != nil {
			return nil, fmt.Errorf("decode store name: %w", err)
		}
		names = append(names, obj.Name)
	}
	return names, nil
}

// LoadEntries fetches one world-info book. Entries are ordered by UID, numerically
// for numeric host UIDs and lexically otherwise.
func (c *Client) LoadEntries(ctx context.Context, name string) ([]model.Entry, error) {
	var data bookData
	err := c.post(ctx, PathGet, bookRequest{Name: name}, &data)
	var se *statusError
	switch {
	case errors.As(err, &se) && se.Status == http.StatusNotFound,
		errors.Is(err, io.ErrUnexpectedEOF):
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, name)
	case err != nil:
		return nil, err
	}

	uids := make([]string, 0, len(data.Entries))
	for uid := range data.Entries {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool {
		if len(uids[i]) != len(uids[j]) {
			return len(uids[i]) < len(uids[j])
		}
		return uids[i] < uids[j]
	})

	entries := make([]model.Entry, 0, len(uids))
	for _, uid := range uids {
		entries = append(entries, fromWire(uid, data.Entries[uid]))
	}
	return entries, nil
}

// NewUID numbers a new entry one past the highest numeric uid in the book.
func (c *Client) NewUID(existing []model.Entry) string {
	next := int64(0)
	for _, e := range existing {
		if n, ok := numericUID(e.UID); ok && n >= next {
			next = n + 1
		}
	}
	return strconv.FormatInt(next, 10)
}

// Writers returns edit, create and save in that order.
func (c *Client) Writers() []store.Writer {
	return []store.Writer{
		endpointWriter{c: c, name: "edit", path: PathEdit},
		endpointWriter{c: c, name: "create", path: PathCreate},
		saveWriter{c: c},
	}
}

// endpointWriter posts the entry list to a structured endpoint.
type endpointWriter struct {
	c    *Client
	name string
	path string
}

func (w endpointWriter) Name() string { return w.name }

func (w endpointWriter) Write(ctx context.Context, name string, entries []model.Entry) error {
	req := bookRequest{Name: name, Entries: make([]wireEntry, 0, len(entries))}
	for _, e := range entries {
		req.Entries = append(req.Entries, toWire(e))
	}
	return w.c.post(ctx, w.path, req, nil)
}

// saveWriter overwrites the whole book with the raw save endpoint.
type saveWriter struct{ c *Client }

func (saveWriter) Name() string { return "save" }

func (w saveWriter) Write(ctx context.Context, name string, entries []model.Entry) error {
	req := saveRequest{Name: name, Data: bookData{Entries: make(map[string]wireEntry, len(entries))}}
	for _, e := range entries {
		req.Data.Entries[e.UID] = toWire(e)
	}
	return w.c.post(ctx, PathSave, req, nil)
}
