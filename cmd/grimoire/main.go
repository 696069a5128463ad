package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/alecthomas/kong"

	"github.com/steverahardjo/grimoire/pkg/buffer"
	"github.com/steverahardjo/grimoire/pkg/model"
	"github.com/steverahardjo/grimoire/pkg/storage"
)

var cli struct {
	Path     string `help:"Database file path." default:"./data/grimoire.db"`
	PoolSize int    `help:"Number of buffer frames." default:"64"`
	Pages    int    `help:"Pages to exercise." default:"256"`
	Workers  int    `help:"Concurrent workers." default:"4"`
	LogLevel string `help:"Log level: debug, info, warn or error." default:"info" env:"LOG_LEVEL"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("grimoire"),
		kong.Description("Exercise the grimoire buffer pool with a write/read-back workload."))

	logger := model.NewDefaultLogger(model.ParseLogLevel(cli.LogLevel))
	logger.Info("Starting grimoire smoke workload")

	dmConfig := storage.DefaultDiskManagerConfig(cli.Path)
	dmConfig.Logger = logger
	dm, err := storage.NewDiskManager(dmConfig)
	if err != nil {
		logger.Error("Failed to open disk manager: %v", err)
		os.Exit(1)
	}

	schedConfig := storage.DefaultDiskSchedulerConfig()
	schedConfig.Logger = logger
	scheduler := storage.NewDiskScheduler(dm, schedConfig)

	allocator := model.NewPageIDAllocator(0, logger)

	pool, err := buffer.NewBufferPoolManager(buffer.BufferPoolManagerConfig{
		PoolSize:  cli.PoolSize,
		Scheduler: scheduler,
		Allocator: allocator,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("Failed to create buffer pool: %v", err)
		os.Exit(1)
	}

	if err := runWorkload(pool, logger); err != nil {
		logger.Error("Workload failed: %v", err)
		os.Exit(1)
	}

	if err := pool.Close(); err != nil {
		logger.Error("Failed to flush buffer pool: %v", err)
		os.Exit(1)
	}
	if err := scheduler.Close(); err != nil {
		logger.Error("Failed to close scheduler: %v", err)
		os.Exit(1)
	}

	logger.Info("Disk stats: %d writes, %d reads, %d deletes, %d log appends",
		dm.NumWrites(), dm.NumReads(), dm.NumDeletes(), dm.NumLogWrites())

	if err := dm.Close(); err != nil {
		logger.Error("Failed to close disk manager: %v", err)
		os.Exit(1)
	}
}

// runWorkload allocates pages across several workers, stamps each with a
// recognizable pattern, then fetches everything back and verifies it.
func runWorkload(pool *buffer.BufferPoolManager, logger model.Logger) error {
	perWorker := cli.Pages / cli.Workers
	if perWorker == 0 {
		perWorker = 1
	}

	var (
		mu      sync.Mutex
		written []model.PageID
		wg      sync.WaitGroup
		errs    = make(chan error, cli.Workers)
	)

	for w := 0; w < cli.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				frame, err := pool.NewPage()
				if err != nil {
					errs <- fmt.Errorf("new page: %w", err)
					return
				}
				pageID := frame.PageID()
				stamp(frame.Data(), pageID)
				if err := pool.UnpinPage(pageID, true); err != nil {
					errs <- fmt.Errorf("unpin page %d: %w", pageID, err)
					return
				}
				mu.Lock()
				written = append(written, pageID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		return err
	}

	logger.Info("Wrote %d pages, verifying", len(written))

	for _, pageID := range written {
		frame, err := pool.FetchPage(pageID)
		if err != nil {
			return fmt.Errorf("fetch page %d: %w", pageID, err)
		}
		if got := binary.LittleEndian.Uint64(frame.Data()); got != uint64(pageID) {
			return fmt.Errorf("page %d: stamp mismatch, got %d", pageID, got)
		}
		if err := pool.UnpinPage(pageID, false); err != nil {
			return fmt.Errorf("unpin page %d: %w", pageID, err)
		}
	}

	logger.Info("Verified %d pages", len(written))
	return nil
}

// stamp writes the page ID into the first bytes of the buffer so a
// read-back can prove which page the bytes belong to.
func stamp(data []byte, pageID model.PageID) {
	binary.LittleEndian.PutUint64(data, uint64(pageID))
}
