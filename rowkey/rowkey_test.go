package rowkey_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jacentio/ripple/rowkey"
)

func TestUserKey_BitExact(t *testing.T) {
	c := rowkey.New(rowkey.DefaultPartitions)

	tests := []struct {
		id       string
		expected string
	}{
		{"zhangsan", "0_zhangsan"},
		{"wangwu", "5_wangwu"},
		{"hello", "7_hello"},
		{"u1", "4_u1"},
		{"lisi", "4_lisi"},
	}

	for _, tt := range tests {
		got, err := c.UserKey(tt.id)
		if err != nil {
			t.Fatalf("UserKey(%q): %v", tt.id, err)
		}
		if got != tt.expected {
			t.Errorf("UserKey(%q) = %q, want %q", tt.id, got, tt.expected)
		}
	}
}

func TestUserKey_Deterministic(t *testing.T) {
	c := rowkey.New(9)
	first, _ := c.UserKey("someone")
	for i := 0; i < 50; i++ {
		got, _ := c.UserKey("someone")
		if got != first {
			t.Fatalf("expected %q, got %q", first, got)
		}
	}
}

func TestSalt_Range(t *testing.T) {
	c := rowkey.New(9)
	for _, id := range []string{"a", "b", "zhangsan", "wangwu", "日本語", "x_y_z"} {
		if s := c.Salt(id); s < 0 || s >= 9 {
			t.Errorf("Salt(%q) = %d, out of [0, 9)", id, s)
		}
	}
}

func TestEmptyID_Rejected(t *testing.T) {
	c := rowkey.New(9)

	if _, err := c.UserKey(""); !errors.Is(err, rowkey.ErrInvalidArgument) {
		t.Errorf("UserKey: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := c.PostKey("", 1); !errors.Is(err, rowkey.ErrInvalidArgument) {
		t.Errorf("PostKey: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := c.PostPrefix(""); !errors.Is(err, rowkey.ErrInvalidArgument) {
		t.Errorf("PostPrefix: expected ErrInvalidArgument, got %v", err)
	}
	if _, _, err := c.DayRange("", time.Now()); !errors.Is(err, rowkey.ErrInvalidArgument) {
		t.Errorf("DayRange: expected ErrInvalidArgument, got %v", err)
	}
}

func TestPostKey_BitExact(t *testing.T) {
	c := rowkey.New(9)
	got, err := c.PostKey("hello", 100)
	if err != nil {
		t.Fatal(err)
	}
	if got != "7_hello_9223372036854775707" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestPostKey_NewerSortsFirst(t *testing.T) {
	c := rowkey.New(9)
	times := []int64{1, 100, 1705276800000, 1705276800001, 1705363200000}
	for i := 1; i < len(times); i++ {
		older, _ := c.PostKey("u1", times[i-1])
		newer, _ := c.PostKey("u1", times[i])
		if !(newer < older) {
			t.Errorf("expected key at %d (%q) to sort before key at %d (%q)", times[i], newer, times[i-1], older)
		}
	}
}

func TestPostKey_NegativeTime(t *testing.T) {
	c := rowkey.New(9)
	if _, err := c.PostKey("u1", -1); !errors.Is(err, rowkey.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestPostPrefix(t *testing.T) {
	c := rowkey.New(9)
	prefix, _ := c.PostPrefix("u1")
	key, _ := c.PostKey("u1", 1234)
	if !strings.HasPrefix(key, prefix) {
		t.Errorf("expected %q to start with %q", key, prefix)
	}
	if prefix != "4_u1_" {
		t.Errorf("unexpected prefix %q", prefix)
	}
}

func TestParsePostKey(t *testing.T) {
	c := rowkey.New(9)

	for _, id := range []string{"u1", "with_underscore", "日本語"} {
		key, _ := c.PostKey(id, 1705276800123)
		gotID, gotMillis, err := rowkey.ParsePostKey(key)
		if err != nil {
			t.Fatalf("ParsePostKey(%q): %v", key, err)
		}
		if gotID != id {
			t.Errorf("expected id %q, got %q", id, gotID)
		}
		if gotMillis != 1705276800123 {
			t.Errorf("expected millis 1705276800123, got %d", gotMillis)
		}
	}
}

func TestParsePostKey_Malformed(t *testing.T) {
	tests := []string{"", "nounderscores", "4_u1", "4_u1_", "x_u1_123", "4__123", "4_u1_abc"}
	for _, key := range tests {
		if _, _, err := rowkey.ParsePostKey(key); !errors.Is(err, rowkey.ErrInvalidArgument) {
			t.Errorf("ParsePostKey(%q): expected ErrInvalidArgument, got %v", key, err)
		}
	}
}

func TestDayRange_Bounds(t *testing.T) {
	c := rowkey.New(9)
	day := time.Date(2024, 1, 15, 13, 45, 0, 0, time.UTC)

	start, end, err := c.DayRange("u1", day)
	if err != nil {
		t.Fatal(err)
	}
	if start != "4_u1_9223370331491575808" {
		t.Errorf("unexpected start %q", start)
	}
	if end != "4_u1_9223370331577975808" {
		t.Errorf("unexpected end %q", end)
	}

	midnight := int64(1705276800000)
	nextMidnight := int64(1705363200000)
	tests := []struct {
		name   string
		millis int64
		inside bool
	}{
		{"midnight", midnight, true},
		{"midday", midnight + 12*3600*1000, true},
		{"last millisecond", nextMidnight - 1, true},
		{"previous day", midnight - 1, false},
		{"next midnight", nextMidnight, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, _ := c.PostKey("u1", tt.millis)
			inside := key >= start && key < end
			if inside != tt.inside {
				t.Errorf("key %q inside=%v, want %v", key, inside, tt.inside)
			}
		})
	}
}

func TestDayRange_EpochDay(t *testing.T) {
	c := rowkey.New(9)

	start, end, err := c.DayRange("u1", time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if start != "4_u1_9223372036768375808" {
		t.Errorf("unexpected start %q", start)
	}
	if end != "4_u1_9223372036854775808" {
		t.Errorf("unexpected end %q", end)
	}

	tests := []struct {
		millis int64
		inside bool
	}{
		{0, true},
		{100, true},
		{86400000 - 1, true},
		{86400000, false},
	}
	for _, tt := range tests {
		key, _ := c.PostKey("u1", tt.millis)
		if inside := key >= start && key < end; inside != tt.inside {
			t.Errorf("ms %d: key %q inside=%v, want %v", tt.millis, key, inside, tt.inside)
		}
	}

	if _, _, err := c.DayRange("u1", time.Date(1969, 12, 31, 0, 0, 0, 0, time.UTC)); !errors.Is(err, rowkey.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument before the epoch, got %v", err)
	}
}

func TestParseDay(t *testing.T) {
	d, err := rowkey.ParseDay("20240115", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected day %v", d)
	}

	for _, bad := range []string{"", "2024-01-15", "20241315", "2024011", "abcdefgh"} {
		if _, err := rowkey.ParseDay(bad, time.UTC); !errors.Is(err, rowkey.ErrInvalidArgument) {
			t.Errorf("ParseDay(%q): expected ErrInvalidArgument, got %v", bad, err)
		}
	}
}

func TestNew_ClampsPartitions(t *testing.T) {
	c := rowkey.New(0)
	if c.Partitions() != 1 {
		t.Errorf("expected 1 partition, got %d", c.Partitions())
	}
	key, _ := c.UserKey("zhangsan")
	if key != "0_zhangsan" {
		t.Errorf("unexpected key %q", key)
	}
}
