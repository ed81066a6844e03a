// Package calendar resolves the trading days of a market from a fixed
// weekend/holiday ruleset.
package calendar

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
	_ "time/tzdata" // embedded zone data for market time zones

	"gopkg.in/yaml.v3"
)

// ErrUnknownMarket is returned by Builtin for markets without an embedded ruleset.
var ErrUnknownMarket = errors.New("calendar: unknown market")

//go:embed markets/*.yaml
var builtinFS embed.FS

// Calendar answers which dates a market is open for regular trading.
type Calendar struct {
	market   string
	location *time.Location
	weekends map[time.Weekday]struct{}
	holidays map[Date]struct{}

	// validFrom and validTo bound the dates the holiday list describes.
	// Zero values leave that side open.
	validFrom Date
	validTo   Date
}

// New constructs a calendar. A nil location defaults to UTC.
func New(market string, loc *time.Location, weekends []time.Weekday, holidays []Date) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	c := &Calendar{
		market:   strings.ToLower(strings.TrimSpace(market)),
		location: loc,
		weekends: make(map[time.Weekday]struct{}, len(weekends)),
		holidays: make(map[Date]struct{}, len(holidays)),
	}
	for _, wd := range weekends {
		c.weekends[wd] = struct{}{}
	}
	for _, h := range holidays {
		c.holidays[h] = struct{}{}
	}
	return c
}

// Market returns the market code the ruleset belongs to.
func (c *Calendar) Market() string { return c.market }

// Location returns the market's local time zone.
func (c *Calendar) Location() *time.Location { return c.location }

// In returns a copy of the calendar that settles days in loc.
func (c *Calendar) In(loc *time.Location) *Calendar {
	if loc == nil {
		return c
	}
	cp := *c
	cp.location = loc
	return &cp
}

// IsTradingDay reports whether the market trades on d.
func (c *Calendar) IsTradingDay(d Date) bool {
	if _, ok := c.weekends[d.Weekday()]; ok {
		return false
	}
	_, closed := c.holidays[d]
	return !closed
}

// TradingDays returns the trading dates in [start, end] in ascending order.
// An inverted or fully closed range yields an empty result.
func (c *Calendar) TradingDays(start, end Date) []Date {
	if end.Before(start) {
		return nil
	}
	days := make([]Date, 0, start.DaysUntil(end)+1)
	for d := start; !d.After(end); d = d.AddDays(1) {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// Today returns the current date in the market's time zone.
func (c *Calendar) Today(now time.Time) Date {
	return DateOf(now.In(c.location))
}

// Bounded returns a copy of the calendar whose holiday list is known to be
// complete only for [from, to]. A zero bound leaves that side open.
func (c *Calendar) Bounded(from, to Date) *Calendar {
	cp := *c
	cp.validFrom, cp.validTo = from, to
	return &cp
}

// ValidRange returns the dates the holiday list covers. Zero values mean
// the side is open.
func (c *Calendar) ValidRange() (Date, Date) {
	return c.validFrom, c.validTo
}

// Covers reports whether [start, end] lies within the valid range, so that
// every holiday in it is known.
func (c *Calendar) Covers(start, end Date) bool {
	if !c.validFrom.IsZero() && start.Before(c.validFrom) {
		return false
	}
	if !c.validTo.IsZero() && end.After(c.validTo) {
		return false
	}
	return true
}

type ruleset struct {
	Market   string   `yaml:"market"`
	Timezone string   `yaml:"timezone"`
	Weekends []string `yaml:"weekends"`
	Holidays []string `yaml:"holidays"`
	// ValidFrom and ValidTo bound the years the holiday list was written for.
	ValidFrom string `yaml:"valid_from"`
	ValidTo   string `yaml:"valid_to"`
}

// Load reads a YAML ruleset from disk.
func Load(path string) (*Calendar, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open calendar %s: %w", path, err)
	}
	defer file.Close()
	return LoadFromReader(file)
}

// LoadFromReader parses a YAML ruleset.
func LoadFromReader(r io.Reader) (*Calendar, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read calendar: %w", err)
	}
	var rs ruleset
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("unmarshal calendar: %w", err)
	}
	return rs.build()
}

func (rs ruleset) build() (*Calendar, error) {
	if strings.TrimSpace(rs.Market) == "" {
		return nil, errors.New("calendar: market is required")
	}
	loc := time.UTC
	if tz := strings.TrimSpace(rs.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("calendar %s: timezone %q: %w", rs.Market, tz, err)
		}
		loc = l
	}
	weekends := make([]time.Weekday, 0, len(rs.Weekends))
	for _, name := range rs.Weekends {
		wd, err := parseWeekday(name)
		if err != nil {
			return nil, fmt.Errorf("calendar %s: %w", rs.Market, err)
		}
		weekends = append(weekends, wd)
	}
	holidays := make([]Date, 0, len(rs.Holidays))
	for _, raw := range rs.Holidays {
		d, err := ParseDate(raw)
		if err != nil {
			return nil, fmt.Errorf("calendar %s: holiday: %w", rs.Market, err)
		}
		holidays = append(holidays, d)
	}
	from, err := parseBound(rs.ValidFrom)
	if err != nil {
		return nil, fmt.Errorf("calendar %s: valid_from: %w", rs.Market, err)
	}
	to, err := parseBound(rs.ValidTo)
	if err != nil {
		return nil, fmt.Errorf("calendar %s: valid_to: %w", rs.Market, err)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, fmt.Errorf("calendar %s: valid_to %s before valid_from %s", rs.Market, to, from)
	}
	return New(rs.Market, loc, weekends, holidays).Bounded(from, to), nil
}

func parseBound(raw string) (Date, error) {
	if strings.TrimSpace(raw) == "" {
		return Date{}, nil
	}
	return ParseDate(raw)
}

func parseWeekday(name string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		full := strings.ToLower(wd.String())
		if key == full || key == full[:3] {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", name)
}

// Builtin returns an embedded market ruleset (xshg, xnys, 24x7).
func Builtin(market string) (*Calendar, error) {
	name := strings.ToLower(strings.TrimSpace(market))
	data, err := builtinFS.ReadFile("markets/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMarket, market)
	}
	return LoadFromReader(strings.NewReader(string(data)))
}

// Markets lists the embedded market codes.
func Markets() []string {
	entries, err := builtinFS.ReadDir("markets")
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(out)
	return out
}
