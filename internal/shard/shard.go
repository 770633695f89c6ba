// Package shard provides partition salts and storage buckets for row keys.
package shard

import (
	"fmt"
	"hash/fnv"
	"unicode/utf16"
)

// JavaHash computes the 32-bit string hash used by rows written with the
// original key layout: h = 31*h + c over UTF-16 code units, wrapping on overflow.
func JavaHash(s string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(c)
	}
	return h
}

// Salt returns |JavaHash(id) % partitions|. The remainder truncates toward
// zero before the absolute value is taken, so the result is in [0, partitions).
// With partitions <= 1 every id maps to salt 0.
func Salt(id string, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	r := JavaHash(id) % int32(partitions)
	if r < 0 {
		r = -r
	}
	return int(r)
}

// Bucket computes the storage bucket for a row key.
// With numShards=1, all rows go to bucket "00".
// With numShards>1, rows are distributed across buckets based on the row key hash.
func Bucket(rowKey string, numShards int) string {
	if numShards <= 1 {
		return "00"
	}
	h := fnv.New32a()
	h.Write([]byte(rowKey))
	return fmt.Sprintf("%02x", h.Sum32()%uint32(numShards))
}

// BucketName formats bucket n the same way Bucket does.
func BucketName(n int) string {
	return fmt.Sprintf("%02x", n)
}
