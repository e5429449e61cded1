package service

import (
	"context"
	"time"

	"commerce-core/internal/domain"
	"commerce-core/internal/platform/observability"
	"commerce-core/internal/repo"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// WindowQuery is the raw window selection from a request.
type WindowQuery struct {
	Filter    string
	StartDate string
	EndDate   string
}

type StatsService interface {
	ResolveWindow(q WindowQuery) (domain.Window, error)
	Dashboard(ctx context.Context, scope domain.Scope, w domain.Window) (domain.Dashboard, error)
	Extended(ctx context.Context, scope domain.Scope, w domain.Window) (domain.ExtendedStats, error)
}

type statsService struct {
	stats repo.StatsRepo
	loc   *time.Location
	now   func() time.Time
}

func NewStatsService(stats repo.StatsRepo, loc *time.Location) StatsService {
	if loc == nil {
		loc = time.UTC
	}
	return &statsService{stats: stats, loc: loc, now: time.Now}
}

func (s *statsService) ResolveWindow(q WindowQuery) (domain.Window, error) {
	return domain.ResolveWindow(domain.Preset(q.Filter), q.StartDate, q.EndDate, s.now(), s.loc)
}

type facts struct {
	orders   []domain.OrderFact
	items    []domain.ItemFact
	redeemed decimal.Decimal
}

func (s *statsService) load(ctx context.Context, scope domain.Scope, w domain.Window, withRedeemed bool) (facts, error) {
	from, to := w.Bounds()
	var f facts

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		f.orders, err = s.stats.OrderFacts(gctx, scope, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		f.items, err = s.stats.ItemFacts(gctx, scope, from, to)
		return err
	})
	if withRedeemed {
		g.Go(func() error {
			var err error
			f.redeemed, err = s.stats.GiftCardRedeemed(gctx, scope, from, to)
			return err
		})
	}
	return f, g.Wait()
}

func (s *statsService) Dashboard(ctx context.Context, scope domain.Scope, w domain.Window) (d domain.Dashboard, err error) {
	ctx, span := observability.StartSpan(ctx, "stats.dashboard", scopeAttr(scope))
	defer func() { observability.EndSpan(span, err) }()

	f, err := s.load(ctx, scope, w, false)
	if err != nil {
		return domain.Dashboard{}, err
	}
	return domain.BuildDashboard(w, f.orders, f.items), nil
}

func (s *statsService) Extended(ctx context.Context, scope domain.Scope, w domain.Window) (out domain.ExtendedStats, err error) {
	ctx, span := observability.StartSpan(ctx, "stats.extended", scopeAttr(scope))
	defer func() { observability.EndSpan(span, err) }()

	f, err := s.load(ctx, scope, w, true)
	if err != nil {
		return domain.ExtendedStats{}, err
	}
	return domain.ExtendedStats{
		Dashboard: domain.BuildDashboard(w, f.orders, f.items),
		Totals:    domain.SummarizeTotals(f.orders, f.items, f.redeemed),
	}, nil
}

func scopeAttr(scope domain.Scope) attribute.KeyValue {
	if scope.Global() {
		return attribute.String("stats.scope", "global")
	}
	return attribute.String("stats.scope", "vendor:"+scope.VendorID.String())
}
