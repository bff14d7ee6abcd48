package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StorageEngine manages the physical page file and the buffer pool cache
// sitting in front of it. It is the durable backing for the tile-group
// pages that the MVCC version store addresses tuple slots within.
//
// Write-ahead logging and crash recovery of this page file are an
// external concern (see pkg/walsink for the transaction-record sink
// the MVCC layer pushes to); this engine does not replay anything on
// open, consistent with the engine core treating WAL as an opaque sink.
type StorageEngine struct {
	diskMgr    *DiskManager
	bufferPool *BufferPool
	mu         sync.RWMutex
	dataDir    string
	isOpen     bool
}

// Config holds storage engine configuration
type Config struct {
	DataDir        string
	BufferPoolSize int // Number of pages to cache
}

// DefaultConfig returns default configuration
func DefaultConfig(dataDir string) *Config {
	return &Config{
		DataDir:        dataDir,
		BufferPoolSize: 1000, // Cache 1000 pages (~4MB)
	}
}

// NewStorageEngine creates a new storage engine
func NewStorageEngine(config *Config) (*StorageEngine, error) {
	// Create data directory if it doesn't exist
	if err := ensureDir(config.DataDir); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Open disk manager
	dataPath := filepath.Join(config.DataDir, "data.db")
	diskMgr, err := NewDiskManager(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create disk manager: %w", err)
	}

	// Create buffer pool
	bufferPool := NewBufferPool(config.BufferPoolSize, diskMgr)

	engine := &StorageEngine{
		diskMgr:    diskMgr,
		bufferPool: bufferPool,
		dataDir:    config.DataDir,
		isOpen:     true,
	}

	return engine, nil
}

// AllocatePage allocates a new page
func (se *StorageEngine) AllocatePage() (*Page, error) {
	if !se.isOpen {
		return nil, fmt.Errorf("storage engine is closed")
	}

	return se.bufferPool.NewPage()
}

// FetchPage retrieves a page by ID
func (se *StorageEngine) FetchPage(pageID PageID) (*Page, error) {
	if !se.isOpen {
		return nil, fmt.Errorf("storage engine is closed")
	}

	return se.bufferPool.FetchPage(pageID)
}

// UnpinPage unpins a page (allows it to be evicted)
func (se *StorageEngine) UnpinPage(pageID PageID, isDirty bool) error {
	return se.bufferPool.UnpinPage(pageID, isDirty)
}

// FlushPage writes a specific page to disk
func (se *StorageEngine) FlushPage(pageID PageID) error {
	return se.bufferPool.FlushPage(pageID)
}

// FlushAll writes all dirty pages to disk
func (se *StorageEngine) FlushAll() error {
	return se.bufferPool.FlushAllPages()
}

// Checkpoint flushes all dirty pages and syncs the page file
func (se *StorageEngine) Checkpoint() error {
	if err := se.bufferPool.FlushAllPages(); err != nil {
		return fmt.Errorf("failed to flush pages: %w", err)
	}

	if err := se.diskMgr.Sync(); err != nil {
		return fmt.Errorf("failed to sync disk: %w", err)
	}

	return nil
}

// Close closes the storage engine
func (se *StorageEngine) Close() error {
	se.mu.Lock()
	defer se.mu.Unlock()

	if !se.isOpen {
		return nil
	}

	// Flush all dirty pages
	if err := se.bufferPool.FlushAllPages(); err != nil {
		return fmt.Errorf("failed to flush pages on close: %w", err)
	}

	// Close disk manager
	if err := se.diskMgr.Close(); err != nil {
		return fmt.Errorf("failed to close disk manager: %w", err)
	}

	se.isOpen = false
	return nil
}

// Stats returns storage engine statistics
func (se *StorageEngine) Stats() map[string]interface{} {
	return map[string]interface{}{
		"buffer_pool": se.bufferPool.Stats(),
		"disk":        se.diskMgr.Stats(),
	}
}

// DiskManager returns the disk manager
func (se *StorageEngine) DiskManager() *DiskManager {
	return se.diskMgr
}

// ensureDir creates a directory if it doesn't exist
func ensureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
