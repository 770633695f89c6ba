// Package rowkey derives partition-salted, sort-stable row keys for posts and
// for per-user graph and timeline rows.
//
// User rows are keyed "<salt>_<id>". Post rows append the inverted publish time,
// "<salt>_<id>_<MaxTimestamp-millis>", so that an ascending scan over one
// author's prefix yields the newest posts first.
package rowkey

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jacentio/ripple/internal/shard"
)

// MaxTimestamp is the upper bound subtracted from publish millis in post keys.
const MaxTimestamp int64 = math.MaxInt64

// DefaultPartitions is the number of pre-split partitions keys are salted across.
const DefaultPartitions = 9

// DayLayout is the calendar-day format accepted by ParseDay.
const DayLayout = "20060102"

// ErrInvalidArgument is returned for empty identifiers and malformed dates.
var ErrInvalidArgument = errors.New("ripple: invalid argument")

// Codec builds row keys for a fixed partition count.
type Codec struct {
	partitions int
}

// New creates a Codec salting across the given number of partitions.
// Values below 1 are treated as 1.
func New(partitions int) Codec {
	if partitions < 1 {
		partitions = 1
	}
	return Codec{partitions: partitions}
}

// Partitions returns the partition count.
func (c Codec) Partitions() int {
	if c.partitions < 1 {
		return 1
	}
	return c.partitions
}

// Salt returns the partition salt for id, in [0, Partitions()).
func (c Codec) Salt(id string) int {
	return shard.Salt(id, c.Partitions())
}

// UserKey returns the graph/timeline row key for id.
func (c Codec) UserKey(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty user id", ErrInvalidArgument)
	}
	return strconv.Itoa(c.Salt(id)) + "_" + id, nil
}

// PostKey returns the row key of the post id published at publishMillis.
func (c Codec) PostKey(id string, publishMillis int64) (string, error) {
	prefix, err := c.PostPrefix(id)
	if err != nil {
		return "", err
	}
	if publishMillis < 0 {
		return "", fmt.Errorf("%w: negative publish time %d", ErrInvalidArgument, publishMillis)
	}
	return prefix + strconv.FormatInt(MaxTimestamp-publishMillis, 10), nil
}

// PostPrefix returns the key prefix shared by every post of id.
func (c Codec) PostPrefix(id string) (string, error) {
	userKey, err := c.UserKey(id)
	if err != nil {
		return "", err
	}
	return userKey + "_", nil
}

// ParsePostKey splits a post key into its author id and publish millis.
func ParsePostKey(key string) (string, int64, error) {
	first := strings.IndexByte(key, '_')
	last := strings.LastIndexByte(key, '_')
	if first < 1 || last <= first+1 || last == len(key)-1 {
		return "", 0, fmt.Errorf("%w: malformed post key %q", ErrInvalidArgument, key)
	}
	if _, err := strconv.Atoi(key[:first]); err != nil {
		return "", 0, fmt.Errorf("%w: malformed salt in post key %q", ErrInvalidArgument, key)
	}
	inverted, err := strconv.ParseInt(key[last+1:], 10, 64)
	if err != nil || inverted < 0 {
		return "", 0, fmt.Errorf("%w: malformed timestamp in post key %q", ErrInvalidArgument, key)
	}
	return key[first+1 : last], MaxTimestamp - inverted, nil
}

// DayRange returns the scan bounds selecting the posts of id published during
// the calendar day containing day, in day's location. start is inclusive and
// end is exclusive.
func (c Codec) DayRange(id string, day time.Time) (start, end string, err error) {
	prefix, err := c.PostPrefix(id)
	if err != nil {
		return "", "", err
	}
	y, m, d := day.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	to := from.AddDate(0, 0, 1)
	fromMillis, toMillis := from.UnixMilli(), to.UnixMilli()
	if fromMillis < 0 {
		return "", "", fmt.Errorf("%w: day %s precedes the epoch", ErrInvalidArgument, from.Format(DayLayout))
	}
	// Publish times in [from, to) invert to (Max-to, Max-from].
	start = prefix + strconv.FormatInt(MaxTimestamp-toMillis+1, 10)
	// The epoch day's end bound is MaxTimestamp+1, past every inverted key.
	end = prefix + strconv.FormatUint(uint64(MaxTimestamp-fromMillis)+1, 10)
	return start, end, nil
}

// ParseDay parses a "yyyyMMdd" date in loc. A nil loc means UTC.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if len(s) != len(DayLayout) {
		return time.Time{}, fmt.Errorf("%w: date %q is not yyyyMMdd", ErrInvalidArgument, s)
	}
	t, err := time.ParseInLocation(DayLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q: %v", ErrInvalidArgument, s, err)
	}
	return t, nil
}
