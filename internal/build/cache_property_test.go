//go:build property

package build

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestModuleCacheProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("every stored artifact is retrievable byte-for-byte", prop.ForAll(
		func(payloads [][]byte) bool {
			cache := NewModuleCache("")
			ids := make([]string, 0, len(payloads))

			for _, payload := range payloads {
				id, err := cache.Put(NewArtifact("module", payload, time.Now()))
				if err != nil {
					return false
				}
				ids = append(ids, id)
			}

			for i, id := range ids {
				got, ok := cache.Get(id)
				if !ok || string(got.Payload) != string(payloads[i]) || got.Size != len(payloads[i]) {
					return false
				}
			}

			return cache.Count() == len(payloads)
		},
		gen.SliceOf(gen.SliceOf(gen.UInt8())),
	))

	properties.Property("size equals the sum of payload sizes", prop.ForAll(
		func(sizes []int) bool {
			cache := NewModuleCache("")
			var total int64

			for _, n := range sizes {
				if _, err := cache.Put(NewArtifact("m", make([]byte, n), time.Now())); err != nil {
					return false
				}
				total += int64(n)
			}

			return cache.Size() == total && len(cache.List()) == len(sizes)
		},
		gen.SliceOf(gen.IntRange(0, 4096)),
	))

	properties.Property("module ids embed the module name", prop.ForAll(
		func(name string) bool {
			artifact := NewArtifact(name, nil, time.Now())
			return len(artifact.ID) > len(name) && artifact.ID[:len(name)+1] == name+"_"
		},
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
