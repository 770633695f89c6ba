package feed

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jacentio/ripple/graph"
	"github.com/jacentio/ripple/post"
	"github.com/jacentio/ripple/store"
	"github.com/jacentio/ripple/timeline"
)

// SplitKeys returns the partition boundaries of a table salted across
// partitions: "0|", "1|", ... up to partitions-2. Keys are "<salt>_<id>..."
// and '|' sorts after '_', so partition n holds exactly the keys salted n.
func SplitKeys(partitions int) []string {
	if partitions < 2 {
		return nil
	}
	keys := make([]string, 0, partitions-1)
	for i := 0; i < partitions-1; i++ {
		keys = append(keys, strconv.Itoa(i)+"|")
	}
	return keys
}

// Tables returns the declarations of the posts, relations and timeline tables.
func Tables(partitions int) []store.TableSpec {
	split := SplitKeys(partitions)
	specs := []store.TableSpec{post.TableSpec, graph.TableSpec, timeline.TableSpec}
	for i := range specs {
		specs[i].SplitKeys = split
	}
	return specs
}

// Provision creates any missing table and records family retention.
func Provision(ctx context.Context, client store.Client, partitions int) ([]string, error) {
	var created []string
	for _, spec := range Tables(partitions) {
		ok, err := client.EnsureTable(ctx, spec)
		if err != nil {
			return created, fmt.Errorf("provision %s: %w", spec.Name, err)
		}
		if ok {
			created = append(created, spec.Name)
		}
	}
	return created, nil
}
