package cache

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func workloadYAML(name string) []byte {
	return []byte(fmt.Sprintf(`name: %s
fibers:
  - name: main
    steps:
      - step: log
        message: hello from %s
`, name, name))
}

func TestCache_GetPut(t *testing.T) {
	tmpDir := t.TempDir()

	c, err := New(Config{
		Dir:     tmpDir,
		MaxSize: 1 << 20, // 1 MB
		MaxAge:  time.Hour,
	})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	key := Key("workload.yaml", "v1")
	data := workloadYAML("checkout")

	if err := c.Put(key, data); err != nil {
		t.Fatalf("Failed to put data: %v", err)
	}

	retrieved, found := c.Get(key)
	if !found {
		t.Fatal("Compiled workload not found in cache")
	}
	if !bytes.Equal(retrieved, data) {
		t.Errorf("Retrieved workload doesn't match: got %s, want %s", retrieved, data)
	}

	stats := c.GetStats()
	if stats.Hits != 1 {
		t.Errorf("Expected 1 hit, got %d", stats.Hits)
	}

	_, found = c.Get(Key("missing.yaml", "v1"))
	if found {
		t.Error("Found workload that was never cached")
	}

	stats = c.GetStats()
	if stats.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", stats.Misses)
	}
}

func TestCache_GetDocPutDoc(t *testing.T) {
	tmpDir := t.TempDir()

	c, err := New(Config{Dir: tmpDir})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	path := "workloads/checkout.yaml"
	doc := workloadYAML("checkout")

	if _, found := c.GetDoc(path, doc); found {
		t.Fatal("GetDoc found an entry before PutDoc ever ran")
	}

	if err := c.PutDoc(path, doc); err != nil {
		t.Fatalf("PutDoc: %v", err)
	}

	cached, found := c.GetDoc(path, doc)
	if !found {
		t.Fatal("GetDoc missed a document PutDoc just stored")
	}
	if !bytes.Equal(cached, doc) {
		t.Errorf("GetDoc returned %s, want %s", cached, doc)
	}

	// The same path with different bytes is a distinct key — an editor
	// rewriting the file content still gets a fresh compile.
	changed := workloadYAML("checkout-v2")
	if _, found := c.GetDoc(path, changed); found {
		t.Fatal("GetDoc hit on changed content for the same path")
	}
}

func TestCache_Delete(t *testing.T) {
	tmpDir := t.TempDir()

	c, err := New(Config{
		Dir: tmpDir,
	})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	key := Key("workloads/delete-me.yaml", "v1")
	data := workloadYAML("delete-me")

	if err := c.Put(key, data); err != nil {
		t.Fatalf("Failed to put data: %v", err)
	}

	_, found := c.Get(key)
	if !found {
		t.Fatal("Data not found after put")
	}

	if err := c.Delete(key); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}

	_, found = c.Get(key)
	if found {
		t.Error("Data found after delete")
	}

	if err := c.Delete(key); err != nil {
		t.Errorf("Delete of non-existent key failed: %v", err)
	}
}

func TestCache_Eviction_LRU(t *testing.T) {
	tmpDir := t.TempDir()

	c, err := New(Config{
		Dir:      tmpDir,
		MaxSize:  100, // Very small cache
		Strategy: LRU,
	})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	data1 := bytes.Repeat([]byte("a"), 40)
	data2 := bytes.Repeat([]byte("b"), 40)
	data3 := bytes.Repeat([]byte("c"), 40)

	c.Put("checkout.yaml", data1)
	time.Sleep(10 * time.Millisecond)
	c.Put("billing.yaml", data2)
	time.Sleep(10 * time.Millisecond)

	// Access checkout.yaml to make it more recent than billing.yaml
	c.Get("checkout.yaml")
	time.Sleep(10 * time.Millisecond)

	// This should evict billing.yaml (least recently used)
	c.Put("shipping.yaml", data3)

	_, found1 := c.Get("checkout.yaml")
	_, found2 := c.Get("billing.yaml")
	_, found3 := c.Get("shipping.yaml")

	if !found1 {
		t.Error("checkout.yaml was evicted but shouldn't have been")
	}
	if found2 {
		t.Error("billing.yaml was not evicted but should have been")
	}
	if !found3 {
		t.Error("shipping.yaml not found")
	}

	stats := c.GetStats()
	if stats.Evictions != 1 {
		t.Errorf("Expected 1 eviction, got %d", stats.Evictions)
	}
}

func TestCache_Eviction_LFU(t *testing.T) {
	tmpDir := t.TempDir()

	c, err := New(Config{
		Dir:      tmpDir,
		MaxSize:  100,
		Strategy: LFU,
	})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	data1 := bytes.Repeat([]byte("a"), 40)
	data2 := bytes.Repeat([]byte("b"), 40)
	data3 := bytes.Repeat([]byte("c"), 40)

	c.Put("checkout.yaml", data1)
	c.Put("billing.yaml", data2)

	// Access checkout.yaml multiple times to increase frequency
	c.Get("checkout.yaml")
	c.Get("checkout.yaml")
	c.Get("checkout.yaml")

	// Access billing.yaml only once
	c.Get("billing.yaml")

	// This should evict billing.yaml (least frequently used)
	c.Put("shipping.yaml", data3)

	_, found1 := c.Get("checkout.yaml")
	_, found2 := c.Get("billing.yaml")
	_, found3 := c.Get("shipping.yaml")

	if !found1 {
		t.Error("checkout.yaml was evicted but shouldn't have been")
	}
	if found2 {
		t.Error("billing.yaml was not evicted but should have been")
	}
	if !found3 {
		t.Error("shipping.yaml not found")
	}
}

func TestCache_Eviction_FIFO(t *testing.T) {
	tmpDir := t.TempDir()

	c, err := New(Config{
		Dir:      tmpDir,
		MaxSize:  100,
		Strategy: FIFO,
	})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	data1 := bytes.Repeat([]byte("a"), 40)
	data2 := bytes.Repeat([]byte("b"), 40)
	data3 := bytes.Repeat([]byte("c"), 40)

	c.Put("checkout.yaml", data1)
	time.Sleep(10 * time.Millisecond)
	c.Put("billing.yaml", data2)
	time.Sleep(10 * time.Millisecond)

	// Access patterns don't matter for FIFO
	c.Get("checkout.yaml")
	c.Get("checkout.yaml")

	// This should evict checkout.yaml (first in)
	c.Put("shipping.yaml", data3)

	_, found1 := c.Get("checkout.yaml")
	_, found2 := c.Get("billing.yaml")
	_, found3 := c.Get("shipping.yaml")

	if found1 {
		t.Error("checkout.yaml was not evicted but should have been")
	}
	if !found2 {
		t.Error("billing.yaml was evicted but shouldn't have been")
	}
	if !found3 {
		t.Error("shipping.yaml not found")
	}
}

func TestCache_Expiration(t *testing.T) {
	tmpDir := t.TempDir()

	c, err := New(Config{
		Dir:    tmpDir,
		MaxAge: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	key := "expiring.yaml"
	data := workloadYAML("expiring")

	c.Put(key, data)

	_, found := c.Get(key)
	if !found {
		t.Fatal("Data not found immediately after put")
	}

	time.Sleep(60 * time.Millisecond)

	_, found = c.Get(key)
	if found {
		t.Error("Expired data was still found")
	}
}

func TestCache_Dependencies(t *testing.T) {
	tmpDir := t.TempDir()

	c, err := New(Config{
		Dir: tmpDir,
	})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	// A composed workload's "spawn" steps reference sibling documents —
	// those are its dependencies, tracked so a change to one invalidates
	// every composed workload that spawns it.
	c.PutWithDeps("checkout.yaml", workloadYAML("checkout"), []string{"billing.yaml", "shipping.yaml"})
	c.PutWithDeps("billing.yaml", workloadYAML("billing"), []string{"shipping.yaml", "ledger.yaml"})
	c.PutWithDeps("ledger.yaml", workloadYAML("ledger"), []string{"ledger.yaml"})

	_, found1 := c.Get("checkout.yaml")
	_, found2 := c.Get("billing.yaml")
	_, found3 := c.Get("ledger.yaml")
	if !found1 || !found2 || !found3 {
		t.Fatal("Not all workloads were cached")
	}

	count := c.InvalidateByDependency("shipping.yaml")
	if count != 2 {
		t.Errorf("Expected 2 entries invalidated, got %d", count)
	}

	_, found1 = c.Get("checkout.yaml")
	_, found2 = c.Get("billing.yaml")
	_, found3 = c.Get("ledger.yaml")

	if found1 {
		t.Error("checkout.yaml should have been invalidated (spawns shipping)")
	}
	if found2 {
		t.Error("billing.yaml should have been invalidated (spawns shipping)")
	}
	if !found3 {
		t.Error("ledger.yaml should still exist")
	}
}

func TestCache_Clear(t *testing.T) {
	tmpDir := t.TempDir()

	c, err := New(Config{
		Dir: tmpDir,
	})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("workload-%d.yaml", i)
		c.Put(key, workloadYAML(key))
	}

	stats := c.GetStats()
	if stats.EntryCount != 10 {
		t.Errorf("Expected 10 entries, got %d", stats.EntryCount)
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("Failed to clear cache: %v", err)
	}

	stats = c.GetStats()
	if stats.EntryCount != 0 {
		t.Errorf("Expected 0 entries after clear, got %d", stats.EntryCount)
	}

	programsDir := filepath.Join(tmpDir, "programs")
	if _, err := os.Stat(programsDir); !os.IsNotExist(err) {
		entries, _ := os.ReadDir(programsDir)
		if len(entries) > 0 {
			t.Errorf("programs directory still has %d files", len(entries))
		}
	}
}

func TestCache_Concurrent(t *testing.T) {
	tmpDir := t.TempDir()

	c, err := New(Config{
		Dir:     tmpDir,
		MaxSize: 10 << 20, // 10 MB
	})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	var wg sync.WaitGroup
	numGoroutines := 10
	numOperations := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			for j := 0; j < numOperations; j++ {
				key := fmt.Sprintf("workload-%d-%d.yaml", id, j)
				data := workloadYAML(key)

				if err := c.Put(key, data); err != nil {
					t.Errorf("Failed to put: %v", err)
				}

				retrieved, found := c.Get(key)
				if !found {
					t.Errorf("Key not found: %s", key)
				}
				if !bytes.Equal(retrieved, data) {
					t.Errorf("Data mismatch for key %s", key)
				}

				if j%10 == 0 {
					c.Delete(key)
				}
			}
		}(i)
	}

	wg.Wait()

	stats := c.GetStats()
	if stats.EntryCount < 0 {
		t.Errorf("Invalid entry count: %d", stats.EntryCount)
	}
	if stats.TotalSize < 0 {
		t.Errorf("Invalid total size: %d", stats.TotalSize)
	}
}

func TestCache_KeyGeneration(t *testing.T) {
	key1 := Key("workloads/checkout.yaml", "v1", "fiber:main")
	key2 := Key("workloads/checkout.yaml", "v1", "fiber:main")
	key3 := Key("workloads/checkout.yaml", "v1", "fiber:other")

	if key1 != key2 {
		t.Error("Same inputs produced different keys")
	}
	if key1 == key3 {
		t.Error("Different inputs produced same key")
	}

	tmpDir := t.TempDir()
	file1 := filepath.Join(tmpDir, "checkout.yaml")
	file2 := filepath.Join(tmpDir, "billing.yaml")

	os.WriteFile(file1, workloadYAML("checkout"), 0644)
	os.WriteFile(file2, workloadYAML("billing"), 0644)

	fileKey1, err := KeyFromFiles(file1, file2)
	if err != nil {
		t.Fatalf("Failed to generate key from files: %v", err)
	}

	fileKey2, err := KeyFromFiles(file1, file2)
	if err != nil {
		t.Fatalf("Failed to generate key from files: %v", err)
	}

	if fileKey1 != fileKey2 {
		t.Error("Same files produced different keys")
	}

	os.WriteFile(file1, workloadYAML("checkout-v2"), 0644)

	fileKey3, err := KeyFromFiles(file1, file2)
	if err != nil {
		t.Fatalf("Failed to generate key from files: %v", err)
	}

	if fileKey1 == fileKey3 {
		t.Error("Modified file produced same key")
	}
}

func TestCache_Persistence(t *testing.T) {
	tmpDir := t.TempDir()

	cache1, err := New(Config{
		Dir: tmpDir,
	})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	cache1.Put("persistent.yaml", workloadYAML("persistent"))

	// Simulate fiberctl restarting with the same cache directory.
	cache2, err := New(Config{
		Dir: tmpDir,
	})
	if err != nil {
		t.Fatalf("Failed to create second cache: %v", err)
	}

	data, found := cache2.Get("persistent.yaml")
	if !found {
		t.Fatal("Persistent data not found after restart")
	}

	if !bytes.Equal(data, workloadYAML("persistent")) {
		t.Errorf("Persistent data corrupted: got %s", data)
	}
}

func TestCache_LargeFiles(t *testing.T) {
	tmpDir := t.TempDir()

	c, err := New(Config{
		Dir:     tmpDir,
		MaxSize: 10 << 20, // 10 MB
	})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	// A workload document with a pathologically long inline step list.
	largeData := bytes.Repeat([]byte("  - step: log\n    message: x\n"), 1<<15)

	if err := c.Put("large-workload.yaml", largeData); err != nil {
		t.Fatalf("Failed to cache large workload: %v", err)
	}

	retrieved, found := c.Get("large-workload.yaml")
	if !found {
		t.Fatal("Large workload not found in cache")
	}

	if len(retrieved) != len(largeData) {
		t.Errorf("Large workload size mismatch: got %d, want %d", len(retrieved), len(largeData))
	}

	if !bytes.Equal(retrieved, largeData) {
		t.Error("Large workload data corrupted")
	}
}

func BenchmarkCache_Put(b *testing.B) {
	tmpDir := b.TempDir()
	c, _ := New(Config{
		Dir:     tmpDir,
		MaxSize: 100 << 20, // 100 MB
	})

	data := bytes.Repeat([]byte("  - step: log\n"), 1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("workload-%d.yaml", i)
		c.Put(key, data)
	}
}

func BenchmarkCache_Get(b *testing.B) {
	tmpDir := b.TempDir()
	c, _ := New(Config{
		Dir:     tmpDir,
		MaxSize: 100 << 20,
	})

	data := bytes.Repeat([]byte("  - step: log\n"), 1024)
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("workload-%d.yaml", i)
		c.Put(key, data)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("workload-%d.yaml", i%1000)
		c.Get(key)
	}
}

func BenchmarkCache_KeyGeneration(b *testing.B) {
	inputs := []string{"workloads/checkout.yaml", "v1", "fiber:main", "fiber:billing", "fiber:shipping"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Key(inputs...)
	}
}
