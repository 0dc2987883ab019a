// Package reconcile diffs the server-published tag state against the local
// stack and converges the two: missing tags are installed and the most
// recently published one becomes "current".
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/lsst-france/shared-stack/sharedstack/product"
)

// RemoteView is the server-side tag/product view, satisfied by
// repository.Manager.
type RemoteView interface {
	TagsForProduct(productName string) map[string]struct{}
	ProductsForTag(tag string) []product.TaggedProduct
	TagDate(tag string) (time.Time, bool)
}

// LocalStack is the locally installed view plus its mutating operations,
// satisfied by stack.Manager.
type LocalStack interface {
	TagsForProduct(productName string) map[string]struct{}
	Tags(ctx context.Context) ([]string, error)
	DistribInstall(ctx context.Context, productName, version, tag string) error
	AddGlobalTag(tag string) error
	ApplyTag(ctx context.Context, productName, version, tag string) error
}

// Reconciler converges a local stack towards the server state for a set of
// top-level products.
type Reconciler struct {
	Remote RemoteView
	Local  LocalStack
	Logger *logrus.Logger
}

// Run reconciles every named product. A failure on one product is isolated:
// the remaining products are still processed and the failures are returned
// together. With no server-side changes since the previous run, Run performs
// zero mutating calls.
func (r *Reconciler) Run(ctx context.Context, products []string) error {
	var errs *multierror.Error
	for _, productName := range products {
		if err := r.reconcileProduct(ctx, productName); err != nil {
			r.Logger.WithFields(logrus.Fields{
				"product": productName,
				"error":   err,
			}).Error("Reconciliation failed")
			errs = multierror.Append(errs, fmt.Errorf("product %s: %w", productName, err))
		}
	}
	return errs.ErrorOrNil()
}

func (r *Reconciler) reconcileProduct(ctx context.Context, productName string) error {
	r.Logger.WithField("product", productName).Info("Considering product")

	serverTags := r.Remote.TagsForProduct(productName)
	installedTags := r.Local.TagsForProduct(productName)
	candidates := difference(serverTags, installedTags)

	for _, tag := range candidates {
		if err := r.installTag(ctx, productName, tag); err != nil {
			return err
		}
	}

	return r.updateCurrent(ctx, productName, serverTags)
}

// installTag installs the product at tag and propagates the tag across the
// whole bundle the server associates with it.
func (r *Reconciler) installTag(ctx context.Context, productName, tag string) error {
	r.Logger.WithFields(logrus.Fields{
		"product": productName,
		"tag":     tag,
	}).Info("Installing tag")

	if err := r.Local.DistribInstall(ctx, productName, "", tag); err != nil {
		return err
	}

	// eups refuses to apply tags that have not been declared, so a tag new
	// to this stack must be declared globally before first use.
	known, err := r.Local.Tags(ctx)
	if err != nil {
		return err
	}
	if !contains(known, tag) {
		if err := r.Local.AddGlobalTag(tag); err != nil {
			return err
		}
	}

	for _, tp := range r.Remote.ProductsForTag(tag) {
		if err := r.Local.ApplyTag(ctx, tp.Product, tp.Version, tag); err != nil {
			return err
		}
	}
	return nil
}

// updateCurrent picks the most recently published of the now-installed
// server tags and marks its whole bundle current.
func (r *Reconciler) updateCurrent(ctx context.Context, productName string, serverTags map[string]struct{}) error {
	available := intersection(serverTags, r.Local.TagsForProduct(productName))
	if len(available) == 0 {
		return nil
	}

	currentTag := r.latestTag(available)
	r.Logger.WithFields(logrus.Fields{
		"product": productName,
		"tag":     currentTag,
	}).Info("Marking tag as current")

	for _, tp := range r.Remote.ProductsForTag(currentTag) {
		if err := r.Local.ApplyTag(ctx, tp.Product, tp.Version, product.TagCurrent); err != nil {
			return err
		}
	}
	return nil
}

// latestTag selects the tag with the latest recorded manifest publication
// date. Identical timestamps are broken by picking the lexicographically
// largest name, which orders weekly tags correctly.
func (r *Reconciler) latestTag(tags []string) string {
	best := tags[0]
	bestDate, _ := r.Remote.TagDate(best)
	for _, tag := range tags[1:] {
		date, _ := r.Remote.TagDate(tag)
		if date.After(bestDate) || (date.Equal(bestDate) && tag > best) {
			best = tag
			bestDate = date
		}
	}
	return best
}

// difference returns a − b, sorted.
func difference(a, b map[string]struct{}) []string {
	var out []string
	for tag := range a {
		if _, ok := b[tag]; !ok {
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}

// intersection returns a ∩ b, sorted.
func intersection(a, b map[string]struct{}) []string {
	var out []string
	for tag := range a {
		if _, ok := b[tag]; ok {
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
