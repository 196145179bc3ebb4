// Package memcache is a bounded in-memory response store implementing
// the [courier.Cache] collaborator. Entries are kept only when the
// response declares a positive Cache-Control max-age, evicted
// least-recently-used once the entry cap is reached, and expire after
// their max-age lifetime.
package memcache

import (
	"bytes"
	"container/list"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wolfeidau/courier"
)

// defaultMaxEntries bounds the store when no cap is given.
const defaultMaxEntries = 512

// Cache is safe for concurrent use by multiple goroutines.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	ll         *list.List // front = most recently used
	entries    map[string]*list.Element

	now func() time.Time
}

type entry struct {
	key        string
	statusCode int
	header     http.Header
	body       []byte
	storedAt   time.Time
	ttl        time.Duration
}

// New creates a Cache holding at most maxEntries responses. A
// non-positive cap falls back to 512.
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Cache{
		maxEntries: maxEntries,
		ll:         list.New(),
		entries:    make(map[string]*list.Element),
		now:        time.Now,
	}
}

// Get returns a stored response for req, or nil on a miss or an
// expired entry. The returned response carries an independent body.
func (c *Cache) Get(req *courier.Request) *courier.Response {
	key := req.URL.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil
	}

	ent := el.Value.(*entry)
	if c.now().Sub(ent.storedAt) > ent.ttl {
		c.removeLocked(el)
		return nil
	}
	c.ll.MoveToFront(el)

	return &courier.Response{
		StatusCode:    ent.statusCode,
		Header:        ent.header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(ent.body)),
		ContentLength: int64(len(ent.body)),
	}
}

// Put offers resp for storage. Responses without a positive max-age
// are not stored and nil is returned. Otherwise Put returns a
// replacement response whose body tees reads into the store; the entry
// is committed when that body has been fully read and closed.
func (c *Cache) Put(resp *courier.Response) *courier.Response {
	ttl := maxAge(resp.Header)
	if ttl <= 0 {
		return nil
	}

	ent := &entry{
		key:        resp.Request.URL.String(),
		statusCode: resp.StatusCode,
		header:     resp.Header.Clone(),
		ttl:        ttl,
	}

	cpy := *resp
	cpy.Body = &storingBody{
		rc: resp.Body,
		commit: func(body []byte) {
			ent.body = body
			ent.storedAt = c.now()
			c.store(ent)
		},
	}
	return &cpy
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache) store(ent *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[ent.key]; ok {
		c.removeLocked(el)
	}
	c.entries[ent.key] = c.ll.PushFront(ent)

	for c.ll.Len() > c.maxEntries {
		c.removeLocked(c.ll.Back())
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	c.ll.Remove(el)
	delete(c.entries, el.Value.(*entry).key)
}

// maxAge extracts the Cache-Control max-age lifetime, or zero when the
// response declares none.
func maxAge(h http.Header) time.Duration {
	for _, v := range h.Values("Cache-Control") {
		for _, directive := range strings.Split(v, ",") {
			directive = strings.TrimSpace(directive)
			after, ok := strings.CutPrefix(directive, "max-age=")
			if !ok {
				continue
			}
			secs, err := strconv.Atoi(after)
			if err != nil || secs <= 0 {
				return 0
			}
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// storingBody accumulates everything read from the wire body and
// commits it to the store once the body has been read to EOF and
// closed. Abandoned bodies commit nothing.
type storingBody struct {
	rc     io.ReadCloser
	buf    bytes.Buffer
	sawEOF bool
	commit func(body []byte)
}

func (b *storingBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.buf.Write(p[:n])
	}
	if err == io.EOF {
		b.sawEOF = true
	}
	return n, err
}

func (b *storingBody) Close() error {
	err := b.rc.Close()
	if b.sawEOF && b.commit != nil {
		b.commit(b.buf.Bytes())
		b.commit = nil
	}
	return err
}
