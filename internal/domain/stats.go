package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	dayLayout = "2006-01-02"

	// TopProductsLimit is the number of entries in the top-products series.
	TopProductsLimit = 5

	// MaxWindowDays caps an explicit date range, both endpoints included.
	MaxWindowDays = 3660
)

type Preset string

const (
	Preset7Days    Preset = "7days"
	Preset30Days   Preset = "30days"
	Preset90Days   Preset = "90days"
	PresetLastYear Preset = "lastYear"

	DefaultPreset = Preset30Days
)

// Window is an inclusive range of calendar days in Location.
type Window struct {
	Start    time.Time
	End      time.Time
	Location *time.Location
}

// ResolveWindow builds a window from explicit dates when both are supplied,
// otherwise from the named preset counted back from now.
func ResolveWindow(preset Preset, startDate, endDate string, now time.Time, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	startDate, endDate = strings.TrimSpace(startDate), strings.TrimSpace(endDate)

	if startDate != "" || endDate != "" {
		if startDate == "" || endDate == "" {
			return Window{}, fmt.Errorf("%w: startDate and endDate must be given together", ErrValidation)
		}
		start, err := time.ParseInLocation(dayLayout, startDate, loc)
		if err != nil {
			return Window{}, fmt.Errorf("%w: startDate %q is not YYYY-MM-DD", ErrValidation, startDate)
		}
		end, err := time.ParseInLocation(dayLayout, endDate, loc)
		if err != nil {
			return Window{}, fmt.Errorf("%w: endDate %q is not YYYY-MM-DD", ErrValidation, endDate)
		}
		if start.After(end) {
			return Window{}, fmt.Errorf("%w: startDate is after endDate", ErrValidation)
		}
		if end.After(start.AddDate(0, 0, MaxWindowDays-1)) {
			return Window{}, fmt.Errorf("%w: date range exceeds %d days", ErrValidation, MaxWindowDays)
		}
		return Window{Start: start, End: end, Location: loc}, nil
	}

	today := truncateDay(now, loc)
	var start time.Time
	switch preset {
	case "", Preset30Days:
		start = today.AddDate(0, 0, -30)
	case Preset7Days:
		start = today.AddDate(0, 0, -7)
	case Preset90Days:
		start = today.AddDate(0, 0, -90)
	case PresetLastYear:
		start = today.AddDate(-1, 0, 0)
	default:
		return Window{}, fmt.Errorf("%w: unknown filter %q", ErrValidation, preset)
	}
	return Window{Start: start, End: today, Location: loc}, nil
}

func truncateDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Bounds returns the half-open instant range [from, to) covering every day of the window.
func (w Window) Bounds() (time.Time, time.Time) {
	return w.Start, w.End.AddDate(0, 0, 1)
}

// Days lists every calendar day of the window, both endpoints included.
func (w Window) Days() []string {
	var days []string
	for d := w.Start; !d.After(w.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(dayLayout))
	}
	return days
}

func (w Window) DayKey(t time.Time) string {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dayLayout)
}

// Scope restricts statistics to one vendor's items. The zero value is global.
type Scope struct {
	VendorID *uuid.UUID
}

func GlobalScope() Scope { return Scope{} }

func VendorScope(id uuid.UUID) Scope { return Scope{VendorID: &id} }

func (s Scope) Global() bool { return s.VendorID == nil }

// OrderFact is one order inside the window (and scope).
type OrderFact struct {
	ID        uuid.UUID
	Status    OrderStatus
	CreatedAt time.Time
}

// ItemFact is one order item inside the window (and scope) with its order's status.
type ItemFact struct {
	OrderID        uuid.UUID
	ProductID      uuid.UUID
	ProductName    string
	Quantity       int
	Price          decimal.Decimal
	OrderStatus    OrderStatus
	OrderCreatedAt time.Time
}

type DateCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type DateAmount struct {
	Date   string          `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

type StatusCount struct {
	Status OrderStatus `json:"status"`
	Count  int         `json:"count"`
}

type ProductQuantity struct {
	ProductID uuid.UUID `json:"productId"`
	Name      string    `json:"name"`
	Quantity  int       `json:"quantity"`
}

// OrdersOverTime counts orders per day, emitting zero for days without orders.
func OrdersOverTime(w Window, orders []OrderFact) []DateCount {
	buckets := make(map[string]int)
	for _, o := range orders {
		buckets[w.DayKey(o.CreatedAt)]++
	}
	days := w.Days()
	out := make([]DateCount, 0, len(days))
	for _, d := range days {
		out = append(out, DateCount{Date: d, Count: buckets[d]})
	}
	return out
}

// RevenueOverTime sums price * quantity per day over items of completed or
// processing orders, emitting zero for days without revenue.
func RevenueOverTime(w Window, items []ItemFact) []DateAmount {
	buckets := make(map[string]decimal.Decimal)
	for _, it := range items {
		if !it.OrderStatus.CountsAsRevenue() {
			continue
		}
		key := w.DayKey(it.OrderCreatedAt)
		buckets[key] = buckets[key].Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	days := w.Days()
	out := make([]DateAmount, 0, len(days))
	for _, d := range days {
		amount, ok := buckets[d]
		if !ok {
			amount = decimal.Zero
		}
		out = append(out, DateAmount{Date: d, Amount: amount})
	}
	return out
}

// StatusDistribution counts orders per observed status in lifecycle order.
func StatusDistribution(orders []OrderFact) []StatusCount {
	counts := make(map[OrderStatus]int)
	for _, o := range orders {
		counts[o.Status]++
	}
	out := make([]StatusCount, 0, len(counts))
	for _, st := range orderStatuses {
		if n, ok := counts[st]; ok {
			out = append(out, StatusCount{Status: st, Count: n})
			delete(counts, st)
		}
	}
	// statuses written by administrative override outside the known set
	var rest []OrderStatus
	for st := range counts {
		rest = append(rest, st)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, st := range rest {
		out = append(out, StatusCount{Status: st, Count: counts[st]})
	}
	return out
}

// TopProducts ranks products by summed quantity, ties broken by product id.
func TopProducts(items []ItemFact, limit int) []ProductQuantity {
	byID := make(map[uuid.UUID]*ProductQuantity)
	for _, it := range items {
		pq, ok := byID[it.ProductID]
		if !ok {
			pq = &ProductQuantity{ProductID: it.ProductID, Name: it.ProductName}
			byID[it.ProductID] = pq
		}
		pq.Quantity += it.Quantity
		if pq.Name == "" {
			pq.Name = it.ProductName
		}
	}
	out := make([]ProductQuantity, 0, len(byID))
	for _, pq := range byID {
		if pq.Name == "" {
			pq.Name = "Unknown product"
		}
		out = append(out, *pq)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity > out[j].Quantity
		}
		return out[i].ProductID.String() < out[j].ProductID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type Dashboard struct {
	StartDate               string            `json:"startDate"`
	EndDate                 string            `json:"endDate"`
	OrdersOverTime          []DateCount       `json:"ordersOverTime"`
	OrderStatusDistribution []StatusCount     `json:"orderStatusDistribution"`
	TopProducts             []ProductQuantity `json:"topProducts"`
	RevenueOverTime         []DateAmount      `json:"revenueOverTime"`
}

func BuildDashboard(w Window, orders []OrderFact, items []ItemFact) Dashboard {
	return Dashboard{
		StartDate:               w.Start.Format(dayLayout),
		EndDate:                 w.End.Format(dayLayout),
		OrdersOverTime:          OrdersOverTime(w, orders),
		OrderStatusDistribution: StatusDistribution(orders),
		TopProducts:             TopProducts(items, TopProductsLimit),
		RevenueOverTime:         RevenueOverTime(w, items),
	}
}

type Totals struct {
	Orders            int             `json:"orders"`
	RevenueOrders     int             `json:"revenueOrders"`
	Revenue           decimal.Decimal `json:"revenue"`
	AverageOrderValue decimal.Decimal `json:"averageOrderValue"`
	GiftCardRedeemed  decimal.Decimal `json:"giftCardRedeemed"`
}

type ExtendedStats struct {
	Dashboard
	Totals Totals `json:"totals"`
}

// SummarizeTotals computes window totals. Average order value is revenue over
// the number of revenue-contributing orders, rounded to cents.
func SummarizeTotals(orders []OrderFact, items []ItemFact, giftCardRedeemed decimal.Decimal) Totals {
	revenue := decimal.Zero
	revenueOrders := make(map[uuid.UUID]struct{})
	for _, it := range items {
		if !it.OrderStatus.CountsAsRevenue() {
			continue
		}
		revenue = revenue.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
		revenueOrders[it.OrderID] = struct{}{}
	}
	aov := decimal.Zero
	if n := len(revenueOrders); n > 0 {
		aov = revenue.Div(decimal.NewFromInt(int64(n))).Round(2)
	}
	return Totals{
		Orders:            len(orders),
		RevenueOrders:     len(revenueOrders),
		Revenue:           revenue,
		AverageOrderValue: aov,
		GiftCardRedeemed:  giftCardRedeemed,
	}
}
