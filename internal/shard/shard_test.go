package shard

import (
	"testing"
)

func TestJavaHash_KnownValues(t *testing.T) {
	// Reference values from java.lang.String#hashCode.
	tests := []struct {
		in       string
		expected int32
	}{
		{"", 0},
		{"a", 97},
		{"ab", 3105},
		{"hello", 99162322},
		{"zhangsan", -1432604556},
		{"polygenelubricants", -2147483648},
	}

	for _, tt := range tests {
		if got := JavaHash(tt.in); got != tt.expected {
			t.Errorf("JavaHash(%q) = %d, want %d", tt.in, got, tt.expected)
		}
	}
}

func TestJavaHash_SurrogatePairs(t *testing.T) {
	// U+1F600 is encoded as the surrogate pair D83D DE00.
	expected := int32(0xD83D)*31 + int32(0xDE00)
	if got := JavaHash("\U0001F600"); got != expected {
		t.Errorf("expected %d, got %d", expected, got)
	}
}

func TestSalt_Range(t *testing.T) {
	ids := []string{"", "a", "zhangsan", "lisi", "wangwu", "zhaoliu", "polygenelubricants", "日本語"}
	for _, id := range ids {
		s := Salt(id, 9)
		if s < 0 || s >= 9 {
			t.Errorf("Salt(%q, 9) = %d, out of range", id, s)
		}
	}
}

func TestSalt_TruncatesBeforeAbs(t *testing.T) {
	// -795136991 % 9 == -5 with truncation; a floored modulo would give 4.
	if got := Salt("wangwu", 9); got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
	// MinInt32 % 9 == -2.
	if got := Salt("polygenelubricants", 9); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
}

func TestSalt_SinglePartition(t *testing.T) {
	for _, n := range []int{-1, 0, 1} {
		if got := Salt("zhangsan", n); got != 0 {
			t.Errorf("Salt with %d partitions = %d, want 0", n, got)
		}
	}
}

func TestBucket_SingleShard(t *testing.T) {
	tests := []string{"0_a", "6_zhangsan", "6_zhangsan_9223370310854775807"}
	for _, key := range tests {
		if got := Bucket(key, 1); got != "00" {
			t.Errorf("Bucket(%q, 1) = %q, want 00", key, got)
		}
	}
}

func TestBucket_ZeroShards(t *testing.T) {
	if got := Bucket("6_zhangsan", 0); got != "00" {
		t.Errorf("expected '00', got %q", got)
	}
	if got := Bucket("6_zhangsan", -1); got != "00" {
		t.Errorf("expected '00', got %q", got)
	}
}

func TestBucket_Distribution(t *testing.T) {
	counts := make(map[string]int)
	for i := 0; i < 1000; i++ {
		key := "row_" + string(rune('a'+i%26)) + string(rune('0'+i%10)) + string(rune('A'+i%7))
		counts[Bucket(key, 16)]++
	}
	if len(counts) < 8 {
		t.Errorf("expected distribution across buckets, got only %d", len(counts))
	}
}

func TestBucket_Deterministic(t *testing.T) {
	first := Bucket("6_zhangsan", 256)
	for i := 0; i < 100; i++ {
		if got := Bucket("6_zhangsan", 256); got != first {
			t.Fatalf("expected deterministic result %q, got %q on iteration %d", first, got, i)
		}
	}
}

func TestBucket_HexFormat(t *testing.T) {
	b := Bucket("6_zhangsan", 256)
	if len(b) != 2 {
		t.Fatalf("expected 2-character bucket, got %q", b)
	}
	for _, c := range b {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Errorf("expected hex character, got %c", c)
		}
	}
}

func TestBucketName(t *testing.T) {
	if got := BucketName(0); got != "00" {
		t.Errorf("expected '00', got %q", got)
	}
	if got := BucketName(255); got != "ff" {
		t.Errorf("expected 'ff', got %q", got)
	}
}
