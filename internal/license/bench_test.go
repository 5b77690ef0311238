package license_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensesrv/internal/keycodec"
	"licensesrv/internal/license"
	"licensesrv/internal/license/licensetest"
)

var concurrencyLevels = []int{1, 10, 50}

func benchStore(b *testing.B) *license.Store {
	b.Helper()
	store := license.NewStore(licensetest.NewMemoryBackend("memory"), keycodec.New("bench-secret"),
		license.WithLocation(time.UTC))
	for i := 0; i < 100; i++ {
		_, err := store.Issue(context.Background(), license.IssueRequest{DeviceID: fmt.Sprintf("B%07d", i), Days: 30})
		require.NoError(b, err)
	}
	return store
}

func BenchmarkValidate(b *testing.B) {
	store := benchStore(b)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := store.Validate(ctx, fmt.Sprintf("B%07d", i%100)); err != nil {
				b.Errorf("validate: %v", err)
				return
			}
			i++
		}
	})
}

func BenchmarkIssue(b *testing.B) {
	store := license.NewStore(licensetest.NewMemoryBackend("memory"), keycodec.New("bench-secret"))
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := store.Issue(ctx, license.IssueRequest{DeviceID: fmt.Sprintf("I%07d", i), Days: 30}); err != nil {
			b.Fatalf("issue: %v", err)
		}
	}
}

func BenchmarkGenerate(b *testing.B) {
	codec := keycodec.New("bench-secret")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = codec.Generate("4210EF496F68665F", 30)
	}
}

func TestConcurrentIssueAndValidate(t *testing.T) {
	for _, concurrency := range concurrencyLevels {
		t.Run(fmt.Sprintf("concurrency_%d", concurrency), func(t *testing.T) {
			ctx := context.Background()
			store := license.NewStore(licensetest.NewMemoryBackend("memory"), keycodec.New("test-secret"),
				license.WithLocation(time.UTC))

			var wg sync.WaitGroup
			errs := make(chan error, concurrency)
			for i := 0; i < concurrency; i++ {
				wg.Add(1)
				go func(id string) {
					defer wg.Done()
					if _, err := store.Issue(ctx, license.IssueRequest{DeviceID: id, Days: 10}); err != nil {
						errs <- err
						return
					}
					v, err := store.Validate(ctx, id)
					if err != nil {
						errs <- err
						return
					}
					if !v.Valid {
						errs <- fmt.Errorf("%s: not valid: %s", id, v.Message)
					}
				}(fmt.Sprintf("C%02dN%04d", concurrency, i))
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				assert.NoError(t, err)
			}

			records, err := store.List(ctx)
			require.NoError(t, err)
			assert.Len(t, records, concurrency)
		})
	}
}
