package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jaswdr/faker"
)

type address struct {
	CityID string `json:"city_id"`
	AreaID string `json:"area_id"`
}

type orderItem struct {
	SelectedServices []string `json:"selected_services"`
}

type order struct {
	ID                   string      `json:"id"`
	CategorySlug         string      `json:"category_slug"`
	ShippingAddress      address     `json:"shipping_address"`
	PreferredServiceDate string      `json:"preferred_service_date,omitempty"`
	PreferredServiceTime string      `json:"preferred_service_time,omitempty"`
	Items                []orderItem `json:"items"`
}

type result struct {
	ProviderID *string `json:"provider_id"`
	Reason     string  `json:"reason"`
}

type options struct {
	cities, areas int
	category      string
	services      []string
	daysAhead     int
	withTime      bool
}

func main() {
	var (
		baseURL     = flag.String("base-url", getenv("BASE_URL", "http://localhost:8090"), "assignment service base url")
		count       = flag.Int("orders", 200, "orders to submit")
		concurrency = flag.Int("concurrency", 16, "parallel requests")
		cities      = flag.Int("cities", 2, "distinct city ids (1..n)")
		areas       = flag.Int("areas", 4, "distinct area ids per city (1..n)")
		category    = flag.String("category", "ac-repair", "category slug")
		services    = flag.String("services", "install,repair,gas-refill", "comma separated service ids")
		daysAhead   = flag.Int("days-ahead", 3, "preferred dates fall within this many days")
		withTime    = flag.Bool("with-time", true, "send a preferred date and time")
		seedOut     = flag.String("seed-out", "", "write a provider seed file for SEED_FILE and exit")
		providers   = flag.Int("providers", 40, "providers in the generated seed")
		token       = flag.String("token", getenv("ASSIGN_TOKEN", ""), "bearer token for write endpoints")
	)
	flag.Parse()

	fake := faker.New()
	opts := options{
		cities:    max(*cities, 1),
		areas:     max(*areas, 1),
		category:  *category,
		services:  splitList(*services),
		daysAhead: max(*daysAhead, 1),
		withTime:  *withTime,
	}

	if strings.TrimSpace(*seedOut) != "" {
		if err := writeSeed(*seedOut, fake, opts, *providers); err != nil {
			fatal(err.Error())
		}
		fmt.Printf("wrote %d providers to %s\n", *providers, *seedOut)
		return
	}

	orders := make(chan order)
	go func() {
		defer close(orders)
		for i := 0; i < *count; i++ {
			orders <- newOrder(fake, opts, time.Now())
		}
	}()

	var (
		mu       sync.Mutex
		reasons  = map[string]int{}
		perProv  = map[string]int{}
		failures int
		wg       sync.WaitGroup
	)
	client := &http.Client{Timeout: 15 * time.Second}
	target := strings.TrimRight(*baseURL, "/") + "/api/v1/assignments/auto"
	started := time.Now()

	for w := 0; w < max(*concurrency, 1); w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for o := range orders {
				res, err := submit(client, target, *token, fmt.Sprintf("load-sim-%d", worker), o)
				mu.Lock()
				if err != nil {
					failures++
				} else {
					reasons[res.Reason]++
					if res.ProviderID != nil {
						perProv[*res.ProviderID]++
					}
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	fmt.Printf("orders=%d failures=%d elapsed=%s\n", *count, failures, time.Since(started).Round(time.Millisecond))
	for _, k := range sortedKeys(reasons) {
		fmt.Printf("reason %-22s %d\n", k, reasons[k])
	}
	fmt.Printf("providers used=%d\n", len(perProv))
	for _, k := range sortedKeys(perProv) {
		fmt.Printf("provider %s %d\n", k, perProv[k])
	}
}

func newOrder(fake faker.Faker, opts options, now time.Time) order {
	o := order{
		ID:           fake.UUID().V4(),
		CategorySlug: opts.category,
		ShippingAddress: address{
			CityID: fmt.Sprint(fake.IntBetween(1, opts.cities)),
			AreaID: fmt.Sprint(fake.IntBetween(1, opts.areas)),
		},
	}
	if opts.withTime {
		day := now.AddDate(0, 0, fake.IntBetween(1, opts.daysAhead))
		o.PreferredServiceDate = day.Format("2006-01-02")
		o.PreferredServiceTime = fmt.Sprintf("%02d:00", fake.IntBetween(9, 17))
	}
	o.Items = []orderItem{{SelectedServices: pick(fake, opts.services, fake.IntBetween(1, min(2, len(opts.services))))}}
	return o
}

func submit(client *http.Client, target, token, caller string, o order) (result, error) {
	body, err := json.Marshal(o)
	if err != nil {
		return result{}, err
	}
	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caller", caller)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return result{}, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var res result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return result{}, err
	}
	return res, nil
}

type seedHours struct {
	Available bool   `json:"available"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

type seedProvider struct {
	ID                 string               `json:"id"`
	Name               string               `json:"name"`
	CategoryID         string               `json:"category_id"`
	CityID             string               `json:"city_id"`
	AreaID             string               `json:"area_id"`
	Services           []string             `json:"services"`
	WorkingDays        []string             `json:"working_days"`
	WorkingHours       map[string]seedHours `json:"working_hours,omitempty"`
	ServiceMinutes     int                  `json:"service_minutes"`
	MaxDailyOrders     int                  `json:"max_daily_orders"`
	Rating             float64              `json:"rating"`
	ServiceChargeCents int64                `json:"service_charge_cents"`
}

var week = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

func writeSeed(path string, fake faker.Faker, opts options, n int) error {
	categoryID := fake.UUID().V4()
	seed := map[string]any{
		"categories": []map[string]any{{"id": categoryID, "slug": opts.category, "active": true}},
	}
	providers := make([]seedProvider, 0, n)
	for i := 0; i < n; i++ {
		p := seedProvider{
			ID:                 fake.UUID().V4(),
			Name:               fake.Person().Name(),
			CategoryID:         categoryID,
			CityID:             fmt.Sprint(fake.IntBetween(1, opts.cities)),
			AreaID:             fmt.Sprint(fake.IntBetween(1, opts.areas)),
			Services:           pick(fake, opts.services, fake.IntBetween(1, len(opts.services))),
			WorkingDays:        pick(fake, week, fake.IntBetween(4, 7)),
			ServiceMinutes:     30 * fake.IntBetween(1, 4),
			MaxDailyOrders:     fake.IntBetween(2, 8),
			Rating:             fake.Float64(1, 3, 5),
			ServiceChargeCents: int64(fake.IntBetween(20, 150)) * 100,
		}
		// Roughly a third keep non-default hours on their first working day.
		if fake.IntBetween(1, 3) == 1 {
			p.WorkingHours = map[string]seedHours{
				p.WorkingDays[0]: {Available: true, Start: fmt.Sprintf("%02d:00", fake.IntBetween(7, 10)), End: fmt.Sprintf("%02d:00", fake.IntBetween(15, 20))},
			}
		}
		providers = append(providers, p)
	}
	seed["providers"] = providers

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(seed)
}

// pick returns n distinct elements of from in their original order.
func pick(fake faker.Faker, from []string, n int) []string {
	if n >= len(from) {
		return append([]string(nil), from...)
	}
	idx := make([]int, len(from))
	for i := range idx {
		idx[i] = i
	}
	for i := len(idx) - 1; i > 0; i-- {
		j := fake.IntBetween(0, i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	chosen := append([]int(nil), idx[:n]...)
	sort.Ints(chosen)
	out := make([]string, 0, n)
	for _, i := range chosen {
		out = append(out, from[i])
	}
	return out
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
