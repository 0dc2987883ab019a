// Package repository builds a product tracker from the tag manifests
// published by an eups distribution server.
package repository

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lsst-france/shared-stack/sharedstack/product"
)

const (
	defaultFetchTimeout = 1 * time.Minute
	defaultConcurrency  = 4
)

// Manager scrapes a remote package repository and answers tag/product
// queries against the server-side view. Loading is best-effort per tag: a
// manifest that cannot be fetched or parsed is dropped from the view and the
// load carries on.
type Manager struct {
	pkgroot     string
	pattern     *regexp.Regexp
	client      *http.Client
	logger      *logrus.Logger
	concurrency int

	mu       sync.Mutex
	tracker  *product.Tracker
	tagDates map[string]time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient substitutes the HTTP client (mainly for tests).
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.client = client }
}

// WithConcurrency bounds the number of in-flight manifest fetches.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// NewManager creates a Manager for the repository at pkgroot. Only tags
// whose name matches pattern are fetched; the wider the pattern, the slower
// the load.
func NewManager(pkgroot, pattern string, logger *logrus.Logger, options ...Option) (*Manager, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid tag pattern %q: %w", pattern, err)
	}

	m := &Manager{
		pkgroot:     strings.TrimSuffix(pkgroot, "/"),
		pattern:     re,
		client:      &http.Client{Timeout: defaultFetchTimeout},
		logger:      logger,
		concurrency: defaultConcurrency,
		tracker:     product.NewTracker(),
		tagDates:    make(map[string]time.Time),
	}
	for _, option := range options {
		option(m)
	}
	return m, nil
}

// Load fetches the tag listing and every matching manifest, populating the
// tracker. It fails only when the listing itself cannot be retrieved; a
// single tag's failure is logged and that tag is simply absent from the
// resulting view.
func (m *Manager) Load(ctx context.Context) error {
	tags, err := m.fetchTagNames(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, tag := range tags {
		tag := tag
		g.Go(func() error {
			if err := m.loadTag(ctx, tag); err != nil {
				m.logger.WithFields(logrus.Fields{
					"tag":   tag,
					"error": err,
				}).Warn("Skipping tag")
			}
			// Per-tag failures never abort the load.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"pkgroot": m.pkgroot,
		"tags":    len(m.tagDates),
	}).Info("Repository load complete")
	return nil
}

// fetchTagNames retrieves the tag listing page and returns the names that
// match the configured pattern.
func (m *Manager) fetchTagNames(ctx context.Context) ([]string, error) {
	url := m.pkgroot + "/tags/"
	resp, err := m.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetching tag listing %s: %w", url, err)
	}
	defer resp.Body.Close()

	candidates, err := parseTagListing(resp.Body)
	if err != nil {
		return nil, err
	}

	var tags []string
	for _, tag := range candidates {
		if m.pattern.MatchString(tag) {
			tags = append(tags, tag)
		}
	}
	m.logger.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"matched":    len(tags),
	}).Debug("Filtered tag listing")
	return tags, nil
}

// loadTag fetches and parses one tag manifest and merges it into the shared
// view.
func (m *Manager) loadTag(ctx context.Context, tag string) error {
	url := m.pkgroot + "/tags/" + tag + ManifestSuffix
	resp, err := m.get(ctx, url)
	if err != nil {
		return fmt.Errorf("fetching manifest: %w", err)
	}
	defer resp.Body.Close()

	date, err := http.ParseTime(resp.Header.Get("Last-Modified"))
	if err != nil {
		return fmt.Errorf("manifest has no usable Last-Modified header: %w", err)
	}

	rows, err := parseManifest(tag, resp.Body)
	if err != nil {
		// A data-integrity failure, unlike the network failures above,
		// but the externally observable effect is the same: the tag is
		// dropped from the server-side view.
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tagDates[tag] = date
	for _, row := range rows {
		m.tracker.Insert(row.Product, row.Version, tag)
	}
	return nil
}

func (m *Manager) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	return resp, nil
}

// TagsForProduct returns every server tag that contains the named product.
func (m *Manager) TagsForProduct(productName string) map[string]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker.TagsForProduct(productName)
}

// ProductsForTag returns the (product, version) pairs published under tag.
func (m *Manager) ProductsForTag(tag string) []product.TaggedProduct {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker.ProductsForTag(tag)
}

// TagDate returns the publication time recorded for tag.
func (m *Manager) TagDate(tag string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	date, ok := m.tagDates[tag]
	return date, ok
}
