// Package pagination enumerates remote collections page by page. Every
// endpoint of the remote store may choose its own envelope, so the crawler
// reads pages through a Shape strategy and stops on whichever termination
// signal the endpoint provides.
package pagination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/pagela-hub/pagela-hub/pkg/ratelimit"
)

// DefaultMaxPages caps a crawl when Options.MaxPages is not set.
const DefaultMaxPages = 1000

// signatureItems is how many leading items form a page signature.
const signatureItems = 3

// Requester performs one request and returns the raw response body.
type Requester interface {
	Do(ctx context.Context, method, path string, params url.Values) (json.RawMessage, error)
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc func(ctx context.Context, method, path string, params url.Values) (json.RawMessage, error)

// Do implements Requester.
func (f RequesterFunc) Do(ctx context.Context, method, path string, params url.Values) (json.RawMessage, error) {
	return f(ctx, method, path, params)
}

// Options controls a crawl. The zero value is usable.
type Options struct {
	Limit      int    // page size sent as LimitParam, 0 = not sent
	StartPage  int    // default 1
	PageParam  string // default "page"
	LimitParam string // default "limit"
	MaxPages   int    // default DefaultMaxPages

	// Pacer is awaited before every page after the first.
	Pacer ratelimit.Limiter

	// DisableRepeatDetection turns off the stop on two consecutive pages
	// with the same leading items.
	DisableRepeatDetection bool

	// Shape reads the envelope. Default AutoShape.
	Shape Shape

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.StartPage <= 0 {
		o.StartPage = 1
	}
	if o.PageParam == "" {
		o.PageParam = "page"
	}
	if o.LimitParam == "" {
		o.LimitParam = "limit"
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	if o.Shape == nil {
		o.Shape = AutoShape{}
	}
	o.Pacer = ratelimit.OrUnlimited(o.Pacer)
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// StopReason tells why a crawl ended.
type StopReason string

const (
	StopLastPage  StopReason = "last_page"
	StopEmptyPage StopReason = "empty_page"
	StopRepeat    StopReason = "repeated_page"
	StopMaxPages  StopReason = "max_pages"
)

// Result is the outcome of a crawl.
type Result struct {
	Items []json.RawMessage
	Pages int // pages requested
	Stop  StopReason
}

// FetchAll returns the items of every page of a collection.
func FetchAll(ctx context.Context, r Requester, method, path string, baseParams url.Values, opts Options) ([]json.RawMessage, error) {
	res, err := Crawl(ctx, r, method, path, baseParams, opts)
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}

// Crawl walks a collection and reports how the walk ended.
func Crawl(ctx context.Context, r Requester, method, path string, baseParams url.Values, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	res := &Result{}

	var prevSignature string
	hasPrev := false

	for page := opts.StartPage; ; page++ {
		if res.Pages >= opts.MaxPages {
			res.Stop = StopMaxPages
			opts.Logger.Warn("pagination cap reached",
				slog.String("path", path),
				slog.Int("max_pages", opts.MaxPages),
			)
			return res, nil
		}

		if res.Pages > 0 {
			if err := opts.Pacer.Wait(ctx); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, err := r.Do(ctx, method, path, pageParams(baseParams, opts, page))
		if err != nil {
			return nil, fmt.Errorf("fetch %s page %d: %w", path, page, err)
		}
		res.Pages++

		items := opts.Shape.ExtractItems(body)
		totalPages, hasHint := opts.Shape.ExtractTotalPages(body, opts.Limit)

		if !opts.DisableRepeatDetection {
			sig := signature(items)
			if hasPrev && sig == prevSignature && len(items) > 0 {
				res.Stop = StopRepeat
				opts.Logger.Debug("pagination stalled on repeated page",
					slog.String("path", path),
					slog.Int("page", page),
				)
				return res, nil
			}
			prevSignature, hasPrev = sig, true
		}

		res.Items = append(res.Items, items...)

		switch {
		case hasHint && page >= totalPages:
			res.Stop = StopLastPage
			return res, nil
		case !hasHint && len(items) == 0:
			res.Stop = StopEmptyPage
			return res, nil
		}
	}
}

func pageParams(base url.Values, opts Options, page int) url.Values {
	params := url.Values{}
	for k, v := range base {
		params[k] = append([]string(nil), v...)
	}
	params.Set(opts.PageParam, strconv.Itoa(page))
	if opts.Limit > 0 {
		params.Set(opts.LimitParam, strconv.Itoa(opts.Limit))
	}
	return params
}

// signature identifies a page by the ids of its leading items. Items
// without an id contribute their raw JSON.
func signature(items []json.RawMessage) string {
	n := len(items)
	if n > signatureItems {
		n = signatureItems
	}

	parts := make([]string, 0, n)
	for _, item := range items[:n] {
		parts = append(parts, itemID(item))
	}
	return strings.Join(parts, "|")
}

func itemID(item json.RawMessage) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(item, &obj); err == nil {
		for _, key := range []string{"id", "_id", "uuid"} {
			if raw, ok := obj[key]; ok {
				return string(bytes.Trim(bytes.TrimSpace(raw), `"`))
			}
		}
	}
	return string(bytes.TrimSpace(item))
}
