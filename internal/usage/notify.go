package usage

import (
	"fmt"
	"log"
	"sort"
)

// Notification is one threshold alert.
type Notification struct {
	Title     string
	Body      string
	Threshold float64
	Percent   float64
}

// Notifier delivers alerts to the user. Delivery is best effort.
type Notifier interface {
	Notify(n Notification) error
}

// LogNotifier writes alerts to the log.
type LogNotifier struct{}

func (LogNotifier) Notify(n Notification) error {
	log.Printf("[notify] %s: %s", n.Title, n.Body)
	return nil
}

// thresholdTracker reports each configured threshold once when the
// percentage rises to or above it, and re-arms it once the percentage
// falls back below.
type thresholdTracker struct {
	thresholds []float64
	fired      map[float64]bool
}

func newThresholdTracker(thresholds []float64) *thresholdTracker {
	ts := append([]float64(nil), thresholds...)
	sort.Float64s(ts)
	return &thresholdTracker{thresholds: ts, fired: make(map[float64]bool)}
}

// Observe returns the thresholds newly crossed by percent, lowest first.
func (t *thresholdTracker) Observe(percent float64) []float64 {
	var crossed []float64
	for _, th := range t.thresholds {
		switch {
		case percent >= th && !t.fired[th]:
			t.fired[th] = true
			crossed = append(crossed, th)
		case percent < th:
			t.fired[th] = false
		}
	}
	return crossed
}

func (t *thresholdTracker) Reset() {
	t.fired = make(map[float64]bool)
}

func thresholdNotification(threshold, percent float64, snap *Snapshot) Notification {
	body := fmt.Sprintf("Five-hour usage is at %.0f%%.", percent)
	if snap != nil && snap.FiveHour != nil && snap.FiveHour.ResetsAt != nil {
		body += " Resets at " + snap.FiveHour.ResetsAt.Local().Format("15:04") + "."
	}
	return Notification{
		Title:     fmt.Sprintf("Usage above %.0f%%", threshold),
		Body:      body,
		Threshold: threshold,
		Percent:   percent,
	}
}
