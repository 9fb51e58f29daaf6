package usage

import (
	"time"
)

// Organization is one entry of GET /organizations.
type Organization struct {
	UUID         string   `json:"uuid"`
	Name         string   `json:"name"`
	CreatedAt    string   `json:"created_at,omitempty"`
	UpdatedAt    string   `json:"updated_at,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

type limitPayload struct {
	Utilization *float64 `json:"utilization"`
	ResetsAt    *string  `json:"resets_at"`
}

type usagePayload struct {
	FiveHour          *limitPayload `json:"five_hour"`
	SevenDay          *limitPayload `json:"seven_day"`
	SevenDayOAuthApps *limitPayload `json:"seven_day_oauth_apps"`
	SevenDayOpus      *limitPayload `json:"seven_day_opus"`
	SevenDaySonnet    *limitPayload `json:"seven_day_sonnet"`
}

type overagePayload struct {
	Type                  string `json:"type"`
	SpendLimitCurrency    string `json:"spend_limit_currency"`
	SpendLimitAmountCents *int64 `json:"spend_limit_amount_cents"`
	BalanceCents          *int64 `json:"balance_cents"`
}

// Limit is one percentage-based quota window.
type Limit struct {
	Percent  float64    `json:"percent"`
	ResetsAt *time.Time `json:"resetsAt,omitempty"`
}

// ExtraUsage is metered spend beyond the included quota. A nil LimitCents
// means no spend cap is set.
type ExtraUsage struct {
	Type       string `json:"type"`
	Currency   string `json:"currency"`
	UsedCents  int64  `json:"usedCents"`
	LimitCents *int64 `json:"limitCents,omitempty"`
}

// Snapshot is the normalized result of one successful fetch. It is never
// mutated after construction; a new fetch replaces it.
type Snapshot struct {
	FiveHour       *Limit      `json:"fiveHour,omitempty"`
	SevenDay       *Limit      `json:"sevenDay,omitempty"`
	SevenDayOpus   *Limit      `json:"sevenDayOpus,omitempty"`
	SevenDaySonnet *Limit      `json:"sevenDaySonnet,omitempty"`
	Extra          *ExtraUsage `json:"extra,omitempty"`
	FetchedAt      time.Time   `json:"fetchedAt"`
}

// FiveHourPercent is the primary window's utilization, or 0 when the
// window was not reported.
func (s *Snapshot) FiveHourPercent() float64 {
	if s == nil || s.FiveHour == nil {
		return 0
	}
	return s.FiveHour.Percent
}

// Status is what the poller publishes. Snapshot survives failed polls so
// clients keep showing the last known numbers next to the error.
type Status struct {
	Snapshot      *Snapshot  `json:"snapshot,omitempty"`
	ErrorKind     string     `json:"errorKind,omitempty"`
	Error         string     `json:"error,omitempty"`
	Mode          Mode       `json:"mode"`
	Polling       bool       `json:"polling"`
	Fetching      bool       `json:"fetching"`
	HasCredential bool       `json:"hasCredential"`
	NextPollAt    *time.Time `json:"nextPollAt,omitempty"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
}

func (s Status) clone() Status {
	if s.NextPollAt != nil {
		t := *s.NextPollAt
		s.NextPollAt = &t
	}
	if s.LastAttemptAt != nil {
		t := *s.LastAttemptAt
		s.LastAttemptAt = &t
	}
	return s
}

func newSnapshot(p usagePayload, o *overagePayload, fetchedAt time.Time) *Snapshot {
	s := &Snapshot{
		FiveHour:       p.FiveHour.limit(),
		SevenDay:       p.SevenDay.limit(),
		SevenDayOpus:   p.SevenDayOpus.limit(),
		SevenDaySonnet: p.SevenDaySonnet.limit(),
		FetchedAt:      fetchedAt,
	}
	if o != nil {
		s.Extra = o.extra()
	}
	return s
}

// limit normalizes a window. Zero utilization with no reset time means the
// window does not apply to this account, so it is omitted.
func (p *limitPayload) limit() *Limit {
	if p == nil {
		return nil
	}
	var pct float64
	if p.Utilization != nil {
		pct = *p.Utilization
	}
	var resets *time.Time
	if p.ResetsAt != nil {
		resets = parseResetTime(*p.ResetsAt)
	}
	if pct == 0 && resets == nil {
		return nil
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return &Limit{Percent: pct, ResetsAt: resets}
}

func (o *overagePayload) extra() *ExtraUsage {
	if o.Type == "" && o.SpendLimitAmountCents == nil && o.BalanceCents == nil {
		return nil
	}
	e := &ExtraUsage{
		Type:     o.Type,
		Currency: o.SpendLimitCurrency,
	}
	if o.BalanceCents != nil {
		e.UsedCents = *o.BalanceCents
	}
	if o.SpendLimitAmountCents != nil {
		c := *o.SpendLimitAmountCents
		e.LimitCents = &c
	}
	return e
}

// parseResetTime accepts RFC 3339 timestamps with or without fractional
// seconds and rounds to the nearest second. Unparseable values yield nil.
func parseResetTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.Round(time.Second)
	return &t
}
