package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	otelx "github.com/md-rashed-zaman/fieldassign/libs/otel"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/availability"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/model"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Visit receives candidates in preference order. Returning stop ends the search.
type Visit func(ctx context.Context, p model.Provider) (stop bool, err error)

type Engine struct {
	dir    storage.Directory
	eval   *availability.Evaluator
	scopes []Scope
	tracer trace.Tracer
}

// NewEngine searches scopes in order, DefaultScopes when none are given.
func NewEngine(dir storage.Directory, eval *availability.Evaluator, scopes ...Scope) *Engine {
	if len(scopes) == 0 {
		scopes = DefaultScopes()
	}
	return &Engine{
		dir:    dir,
		eval:   eval,
		scopes: scopes,
		tracer: otel.Tracer("assignment-service/matching"),
	}
}

// FindProvider returns the preferred provider for req, or nil when there is none.
// An unknown or inactive category is also nil.
func (e *Engine) FindProvider(ctx context.Context, req model.Requirement) (*model.Provider, error) {
	var found *model.Provider
	err := e.Each(ctx, req, func(_ context.Context, p model.Provider) (bool, error) {
		found = &p
		return true, nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Each streams every eligible provider to visit, best first: scope by scope, ranked
// within a scope, each provider at most once. When req has a preferred time only
// providers that can serve it are visited. An unknown category returns ErrNotFound.
func (e *Engine) Each(ctx context.Context, req model.Requirement, visit Visit) error {
	ctx, span := e.tracer.Start(ctx, "matching.each", trace.WithAttributes(
		attribute.String("category", req.CategorySlug),
		attribute.String("city_id", req.CityID),
		attribute.String("area_id", req.AreaID),
		attribute.Bool("preferred_time", req.PreferredAt != nil),
	))
	defer span.End()

	cat, err := e.dir.ActiveCategory(ctx, req.CategorySlug)
	if errors.Is(err, storage.ErrNotFound) {
		span.SetAttributes(attribute.Bool("category_found", false))
		return err
	}
	if err != nil {
		return otelx.Fail(span, fmt.Errorf("resolve category: %w", err))
	}

	seen := map[string]struct{}{}
	for _, scope := range e.scopes {
		candidates, err := e.dir.SearchProviders(ctx, scope.Query(req, cat.ID))
		if err != nil {
			return otelx.Fail(span, fmt.Errorf("search %s: %w", scope.Name, err))
		}
		candidates = Rank(Capable(candidates, req.RequiredServiceIDs))
		span.AddEvent("scope", trace.WithAttributes(
			attribute.String("scope", scope.Name),
			attribute.Int("candidates", len(candidates)),
		))

		for _, p := range candidates {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}

			if req.PreferredAt != nil {
				ok, err := e.canServe(ctx, p, *req.PreferredAt)
				if err != nil {
					return otelx.Fail(span, err)
				}
				if !ok {
					continue
				}
			}

			stop, err := visit(ctx, p)
			if err != nil {
				return otelx.Fail(span, err)
			}
			if stop {
				span.SetAttributes(attribute.String("scope", scope.Name), attribute.String("provider_id", p.ID))
				return nil
			}
		}
	}
	return nil
}

func (e *Engine) canServe(ctx context.Context, p model.Provider, at time.Time) (bool, error) {
	bookings, err := e.dir.ActiveBookings(ctx, p.ID, at)
	if err != nil {
		return false, fmt.Errorf("bookings of %s: %w", p.ID, err)
	}
	return e.eval.CanServe(p, at, bookings), nil
}

// Capable keeps providers whose active capabilities include every required service.
func Capable(providers []model.Provider, required []string) []model.Provider {
	if len(required) == 0 {
		return providers
	}
	out := providers[:0:0]
	for _, p := range providers {
		if p.Covers(required) {
			out = append(out, p)
		}
	}
	return out
}

// Rank orders by current load ascending, then rating descending. Ties keep input order.
func Rank(providers []model.Provider) []model.Provider {
	sort.SliceStable(providers, func(i, j int) bool {
		if providers[i].CurrentDailyOrders != providers[j].CurrentDailyOrders {
			return providers[i].CurrentDailyOrders < providers[j].CurrentDailyOrders
		}
		return providers[i].Rating > providers[j].Rating
	})
	return providers
}
