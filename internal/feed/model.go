package feed

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxLogBytes bounds Feed.Log; older text is evicted first.
const MaxLogBytes = 2048

// DefaultMaxPosts applies to feeds created without an explicit cap.
const DefaultMaxPosts = 20

var ErrInvalidFrequency = errors.New("invalid frequency")

// Frequencies maps the scheduler labels to update intervals in minutes.
var Frequencies = map[string]int{
	"5 min":  5,
	"15 min": 15,
	"30 min": 30,
	"hourly": 60,
	"daily":  1440,
	"weekly": 10080,
}

// FrequencyLabels lists the labels in ascending interval order.
var FrequencyLabels = []string{"5 min", "15 min", "30 min", "hourly", "daily", "weekly"}

var frequencyThresholds = []int{5, 15, 30, 60, 1440, 10080}

// ParseFrequency resolves a scheduler label to minutes.
func ParseFrequency(label string) (int, error) {
	minutes, ok := Frequencies[label]
	if !ok {
		return 0, fmt.Errorf("%w %q: valid options are %s", ErrInvalidFrequency, label, strings.Join(FrequencyLabels, ", "))
	}
	return minutes, nil
}

// SnapFrequency rounds minutes up to the nearest scheduler interval. Values
// above the weekly interval are left unchanged.
func SnapFrequency(minutes int) int {
	for _, t := range frequencyThresholds {
		if minutes <= t {
			return t
		}
	}
	return minutes
}

// MakeSlug derives the stable public identifier of a feed/language pair.
func MakeSlug(feedURL, targetLanguage string) string {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(feedURL+":"+targetLanguage))
	return strings.ReplaceAll(id.String(), "-", "")
}

// AppendLog adds a timestamped line to the rolling log.
func (f *Feed) AppendLog(msg string) {
	f.Log += time.Now().UTC().Format("2006-01-02 15:04:05") + " " + msg + "\n"
	f.Log = TruncateLog(f.Log)
}

// TruncateLog keeps the last MaxLogBytes bytes of log, cut on a rune boundary.
func TruncateLog(log string) string {
	if len(log) <= MaxLogBytes {
		return log
	}
	cut := len(log) - MaxLogBytes
	for cut < len(log) && !utf8.RuneStart(log[cut]) {
		cut++
	}
	return log[cut:]
}

// Normalize applies the invariants enforced on every save: slug, snapped
// frequency, bounded log and a positive post cap.
func (f *Feed) Normalize() {
	if f.Slug == "" {
		f.Slug = MakeSlug(f.FeedURL, f.TargetLanguage)
	}
	f.UpdateFrequency = SnapFrequency(f.UpdateFrequency)
	f.Log = TruncateLog(f.Log)
	if f.MaxPosts <= 0 {
		f.MaxPosts = DefaultMaxPosts
	}
	if f.SummaryDetail < 0 {
		f.SummaryDetail = 0
	} else if f.SummaryDetail > 1 {
		f.SummaryDetail = 1
	}
}

// hasPlaceholderName is true while the feed name was never set from upstream.
func (f *Feed) hasPlaceholderName() bool {
	return f.Name == "" || f.Name == "Loading" || f.Name == "Empty"
}
