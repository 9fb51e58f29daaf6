package usage

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ccgauge/ccgauge/internal/clock"
	"github.com/ccgauge/ccgauge/internal/config"
	"github.com/ccgauge/ccgauge/internal/secrets"
)

// Poller fetches usage on a schedule and publishes Status to subscribers.
//
// All mutable state is guarded by mu. At most one fetch runs at a time; it
// runs on its own goroutine and records its result under mu when both
// endpoint calls have returned. Timers carry the generation they were
// created in, and any Start, Stop or credential change bumps the
// generation so a timer that already fired cannot start a stale poll.
type Poller struct {
	client          *Client
	secrets         secrets.Store
	clock           clock.Clock
	notifier        Notifier
	resourceTimeout time.Duration
	orgLookup       singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	sched          *Scheduler
	thresholds     *thresholdTracker
	debounce       time.Duration
	status         Status
	polling        bool
	inFlight       bool
	generation     uint64
	credGeneration uint64
	timer          clock.Timer
	lastManual     time.Time
	hasManual      bool
	lastErrKind    string
	subs           map[int]func(Status)
	nextSub        int
}

// NewPoller creates an idle poller. Call StartPolling to begin.
func NewPoller(cfg config.UsageConfig, store secrets.Store, clk clock.Clock, notifier Notifier) *Poller {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		client:          NewClient(cfg.BaseURL, cfg.RequestTimeout),
		secrets:         store,
		clock:           clk,
		notifier:        notifier,
		resourceTimeout: cfg.ResourceTimeout,
		ctx:             ctx,
		cancel:          cancel,
		sched:           NewScheduler(cfg.Mode != config.ModeFixed, cfg.FixedInterval),
		thresholds:      newThresholdTracker(cfg.NotifyThresholds),
		debounce:        cfg.ManualDebounce,
		subs:            make(map[int]func(Status)),
	}
	_, p.status.HasCredential = store.Get(secrets.SessionKey)
	return p
}

// Reconfigure applies schedule, debounce and threshold settings. The
// scheduler restarts in active mode; a pending timer keeps its delay.
func (p *Poller) Reconfigure(cfg config.UsageConfig) {
	p.mu.Lock()
	p.sched = NewScheduler(cfg.Mode != config.ModeFixed, cfg.FixedInterval)
	p.thresholds = newThresholdTracker(cfg.NotifyThresholds)
	p.debounce = cfg.ManualDebounce
	p.status.Mode = p.sched.Mode()
	st, subs := p.publishLocked()
	p.mu.Unlock()
	notify(subs, st)
}

// FetchUsage performs one fetch without touching the poller's state. The
// usage and overage queries run concurrently; an overage failure is logged
// and leaves Extra nil.
func (p *Poller) FetchUsage(ctx context.Context) (*Snapshot, error) {
	p.mu.Lock()
	gen := p.credGeneration
	p.mu.Unlock()

	snap, found, err := p.fetch(ctx, gen)
	if found != nil {
		p.mu.Lock()
		p.saveOrganizationLocked(gen, found)
		p.mu.Unlock()
	}
	return snap, err
}

// discovery is an organization found for a session key during a fetch.
type discovery struct {
	sessionKey string
	orgID      string
}

// fetch runs one fetch under the credential generation gen. A discovered
// organization is returned, not saved; the caller persists it only when
// the credentials have not changed in the meantime.
func (p *Poller) fetch(ctx context.Context, gen uint64) (*Snapshot, *discovery, error) {
	ctx, cancel := context.WithTimeout(ctx, p.resourceTimeout)
	defer cancel()

	creds, found, err := p.credentials(ctx, gen)
	if err != nil {
		return nil, nil, err
	}

	var payload usagePayload
	var over *overagePayload
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		payload, err = p.client.usage(gctx, creds)
		return err
	})
	g.Go(func() error {
		o, err := p.client.overage(gctx, creds)
		if err != nil {
			log.Printf("[usage] overage query: %v", err)
			return nil
		}
		over = o
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, found, err
	}
	return newSnapshot(payload, over, p.clock.Now()), found, nil
}

// credentials reads the stored credentials, discovering the organization
// id when it is missing.
func (p *Poller) credentials(ctx context.Context, gen uint64) (Credentials, *discovery, error) {
	key, ok := p.secrets.Get(secrets.SessionKey)
	if !ok || key == "" {
		return Credentials{}, nil, ErrNoCredentials
	}
	creds := Credentials{SessionKey: key}
	creds.Clearance, _ = p.secrets.Get(secrets.CFClearance)
	creds.OrgID, _ = p.secrets.Get(secrets.OrganizationID)
	if creds.OrgID != "" {
		return creds, nil, nil
	}

	// Concurrent fetches for the same credentials share one lookup.
	v, err, _ := p.orgLookup.Do(fmt.Sprintf("%d/%s", gen, key), func() (any, error) {
		orgs, err := p.client.Organizations(ctx, creds)
		if err != nil {
			return "", err
		}
		if len(orgs) == 0 || orgs[0].UUID == "" {
			return "", ErrNoOrganization
		}
		log.Printf("[usage] discovered organization %s (%s)", orgs[0].UUID, orgs[0].Name)
		return orgs[0].UUID, nil
	})
	if err != nil {
		return Credentials{}, nil, err
	}
	creds.OrgID = v.(string)
	return creds, &discovery{sessionKey: key, orgID: creds.OrgID}, nil
}

// saveOrganizationLocked persists a discovered organization unless the
// credentials it was found for have since been replaced.
func (p *Poller) saveOrganizationLocked(gen uint64, found *discovery) {
	if gen != p.credGeneration {
		return
	}
	if key, _ := p.secrets.Get(secrets.SessionKey); key != found.sessionKey {
		return
	}
	if stored, _ := p.secrets.Get(secrets.OrganizationID); stored != "" {
		return
	}
	if !p.secrets.Set(secrets.OrganizationID, found.orgID) {
		log.Printf("[usage] could not save organization id")
	}
}

// StartPolling fetches immediately and then on the scheduler's cadence.
func (p *Poller) StartPolling() {
	p.mu.Lock()
	if p.polling {
		p.mu.Unlock()
		return
	}
	p.polling = true
	p.status.Polling = true
	p.cancelTimerLocked()
	p.startFetchLocked()
	st, subs := p.publishLocked()
	p.mu.Unlock()

	log.Printf("[usage] polling started")
	notify(subs, st)
}

// StopPolling cancels the pending timer. An in-flight fetch still records
// its result but schedules nothing.
func (p *Poller) StopPolling() {
	p.mu.Lock()
	if !p.polling {
		p.mu.Unlock()
		return
	}
	p.polling = false
	p.status.Polling = false
	p.cancelTimerLocked()
	st, subs := p.publishLocked()
	p.mu.Unlock()

	log.Printf("[usage] polling stopped")
	notify(subs, st)
}

// ManualRefresh resets the scheduler to active and fetches now. Calls
// within the debounce window of the previous accepted call are dropped
// and return false. A fetch already in flight is not duplicated; its
// completion schedules the next poll at the active cadence.
func (p *Poller) ManualRefresh() bool {
	p.mu.Lock()
	now := p.clock.Now()
	if p.hasManual && now.Sub(p.lastManual) < p.debounce {
		p.mu.Unlock()
		return false
	}
	p.lastManual = now
	p.hasManual = true

	p.sched.Reset()
	p.status.Mode = p.sched.Mode()
	if !p.inFlight {
		p.cancelTimerLocked()
		p.startFetchLocked()
	}
	st, subs := p.publishLocked()
	p.mu.Unlock()

	notify(subs, st)
	return true
}

// SetCredentials stores new credentials and restarts polling with a fresh
// schedule. An empty orgID or clearance removes the stored value. Work
// started under the previous credentials can no longer affect the store or
// the published status.
func (p *Poller) SetCredentials(sessionKey, orgID, clearance string) error {
	if sessionKey == "" {
		return secrets.ErrEmptySessionKey
	}

	p.mu.Lock()
	err := secrets.SaveCredentials(p.secrets, sessionKey, orgID, clearance)
	p.cancelTimerLocked()
	p.credGeneration++
	p.sched = NewScheduler(p.sched.Smart(), p.sched.fixed)
	p.thresholds.Reset()
	p.status.Snapshot = nil
	p.status.ErrorKind = ""
	p.status.Error = ""
	p.status.Mode = p.sched.Mode()
	_, p.status.HasCredential = p.secrets.Get(secrets.SessionKey)
	p.lastErrKind = ""
	p.polling = true
	p.status.Polling = true
	// With a fetch in flight, its completion sees the new credential
	// generation, discards its result and starts over.
	p.startFetchLocked()
	st, subs := p.publishLocked()
	p.mu.Unlock()

	if err != nil {
		log.Printf("[usage] updating credentials: %v", err)
	} else {
		log.Printf("[usage] credentials updated")
	}
	notify(subs, st)
	return err
}

// ClearCredentials deletes all stored credentials, stops polling and drops
// the snapshot.
func (p *Poller) ClearCredentials() error {
	p.mu.Lock()
	err := secrets.ClearCredentials(p.secrets)
	p.cancelTimerLocked()
	p.credGeneration++
	p.polling = false
	p.thresholds.Reset()
	p.status = Status{Mode: p.sched.Mode(), Fetching: p.inFlight}
	_, p.status.HasCredential = p.secrets.Get(secrets.SessionKey)
	p.lastErrKind = ""
	st, subs := p.publishLocked()
	p.mu.Unlock()

	if err != nil {
		log.Printf("[usage] clearing credentials: %v", err)
	} else {
		log.Printf("[usage] credentials cleared")
	}
	notify(subs, st)
	return err
}

func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.clone()
}

// Subscribe registers fn for every published Status. fn runs on the
// publishing goroutine and must not block. The returned func unregisters.
func (p *Poller) Subscribe(fn func(Status)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

// Close stops polling, cancels any in-flight fetch and waits for it.
func (p *Poller) Close() {
	p.StopPolling()
	p.cancel()
	p.wg.Wait()
}

// startFetchLocked launches a fetch unless one is running.
func (p *Poller) startFetchLocked() bool {
	if p.inFlight {
		return false
	}
	p.inFlight = true
	p.status.Fetching = true
	p.status.NextPollAt = nil
	credGen := p.credGeneration
	p.wg.Add(1)
	go p.runFetch(credGen)
	return true
}

func (p *Poller) runFetch(credGen uint64) {
	defer p.wg.Done()
	snap, found, err := p.fetch(p.ctx, credGen)

	p.mu.Lock()
	if found != nil {
		p.saveOrganizationLocked(credGen, found)
	}
	p.inFlight = false
	p.status.Fetching = false
	now := p.clock.Now()
	p.status.LastAttemptAt = &now

	if credGen != p.credGeneration {
		// Credentials changed mid-fetch; the result belongs to the old ones.
		if p.polling {
			p.startFetchLocked()
		}
		st, subs := p.publishLocked()
		p.mu.Unlock()
		notify(subs, st)
		return
	}

	var alerts []Notification
	if err != nil {
		kind := Kind(err)
		if kind != p.lastErrKind {
			log.Printf("[usage] fetch failed (%s): %v", kind, err)
		}
		p.lastErrKind = kind
		p.status.ErrorKind = kind
		p.status.Error = err.Error()
	} else {
		if p.lastErrKind != "" {
			log.Printf("[usage] fetch recovered")
		}
		p.lastErrKind = ""
		p.status.Snapshot = snap
		p.status.ErrorKind = ""
		p.status.Error = ""
		pct := snap.FiveHourPercent()
		p.sched.Observe(pct)
		for _, th := range p.thresholds.Observe(pct) {
			alerts = append(alerts, thresholdNotification(th, pct, snap))
		}
	}
	p.status.Mode = p.sched.Mode()

	if p.polling && p.timer == nil {
		p.scheduleLocked()
	}
	st, subs := p.publishLocked()
	notifier := p.notifier
	p.mu.Unlock()

	notify(subs, st)
	for _, n := range alerts {
		if err := notifier.Notify(n); err != nil {
			log.Printf("[usage] notification failed: %v", err)
		}
	}
}

func (p *Poller) scheduleLocked() {
	d := p.sched.Next()
	gen := p.generation
	at := p.clock.Now().Add(d)
	p.status.NextPollAt = &at
	p.timer = p.clock.AfterFunc(d, func() { p.onTimer(gen) })
}

func (p *Poller) onTimer(gen uint64) {
	p.mu.Lock()
	if gen != p.generation || !p.polling {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	p.startFetchLocked()
	st, subs := p.publishLocked()
	p.mu.Unlock()
	notify(subs, st)
}

func (p *Poller) cancelTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.generation++
	p.status.NextPollAt = nil
}

func (p *Poller) publishLocked() (Status, []func(Status)) {
	subs := make([]func(Status), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	return p.status.clone(), subs
}

func notify(subs []func(Status), st Status) {
	for _, fn := range subs {
		fn(st)
	}
}
