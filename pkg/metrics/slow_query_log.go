package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// SlowTransactionLog tracks and logs transactions and GC sweeps that
// exceed a threshold duration.
type SlowTransactionLog struct {
	threshold      time.Duration
	maxEntries     int
	logFile        *os.File
	entries        []SlowTransactionEntry
	mu             sync.RWMutex
	enabled        bool
	logToFile      bool
	includeProfile bool // Include profiling information
}

// SlowTransactionEntry represents a single slow transaction log entry
type SlowTransactionEntry struct {
	Timestamp      time.Time         `json:"timestamp"`
	Duration       time.Duration     `json:"duration_ns"`
	DurationMS     float64           `json:"duration_ms"`
	Operation      string            `json:"operation"` // "commit", "abort", "gc_sweep"
	TableID        uint32            `json:"table_id"`
	TxnID          uint64            `json:"txn_id,omitempty"`
	EpochID        uint64            `json:"epoch_id,omitempty"`
	ReadSetSize    int               `json:"read_set_size,omitempty"`
	WriteSetSize   int               `json:"write_set_size,omitempty"`
	TuplesTouched  int               `json:"tuples_touched,omitempty"`
	ConflictOwner  uint64            `json:"conflict_owner,omitempty"`
	Error          string            `json:"error,omitempty"`
	ClientInfo     map[string]string `json:"client_info,omitempty"` // user, IP, session ID
}

// SlowTransactionLogConfig holds configuration for the slow transaction log
type SlowTransactionLogConfig struct {
	Threshold      time.Duration // Minimum duration to log (default: 100ms)
	MaxEntries     int           // Maximum in-memory entries (default: 1000)
	LogFilePath    string        // Optional file path for persistent logging
	Enabled        bool          // Enable/disable logging (default: true)
	IncludeProfile bool          // Include profiling information (default: true)
}

// DefaultSlowTransactionLogConfig returns default configuration
func DefaultSlowTransactionLogConfig() *SlowTransactionLogConfig {
	return &SlowTransactionLogConfig{
		Threshold:      100 * time.Millisecond,
		MaxEntries:     1000,
		Enabled:        true,
		IncludeProfile: true,
	}
}

// NewSlowTransactionLog creates a new slow transaction log
func NewSlowTransactionLog(config *SlowTransactionLogConfig) (*SlowTransactionLog, error) {
	if config == nil {
		config = DefaultSlowTransactionLogConfig()
	}

	stl := &SlowTransactionLog{
		threshold:      config.Threshold,
		maxEntries:     config.MaxEntries,
		entries:        make([]SlowTransactionEntry, 0, config.MaxEntries),
		enabled:        config.Enabled,
		includeProfile: config.IncludeProfile,
	}

	if config.LogFilePath != "" {
		f, err := os.OpenFile(config.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open slow transaction log file: %w", err)
		}
		stl.logFile = f
		stl.logToFile = true
	}

	return stl, nil
}

// LogTransaction logs a transaction or sweep if it exceeds the threshold
func (stl *SlowTransactionLog) LogTransaction(entry SlowTransactionEntry) {
	if !stl.enabled {
		return
	}

	if entry.Duration < stl.threshold {
		return
	}

	entry.Timestamp = time.Now()
	entry.DurationMS = float64(entry.Duration.Nanoseconds()) / 1e6

	stl.mu.Lock()
	defer stl.mu.Unlock()

	if len(stl.entries) >= stl.maxEntries {
		stl.entries = stl.entries[1:]
	}
	stl.entries = append(stl.entries, entry)

	if stl.logToFile && stl.logFile != nil {
		stl.writeToFile(entry)
	}
}

// writeToFile writes an entry to the log file (caller must hold lock)
func (stl *SlowTransactionLog) writeToFile(entry SlowTransactionEntry) {
	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		// Silently ignore errors - logging should not crash the application
		return
	}

	_, _ = stl.logFile.Write(jsonBytes)
	_, _ = stl.logFile.Write([]byte("\n"))
}

// GetEntries returns all slow transaction log entries
func (stl *SlowTransactionLog) GetEntries() []SlowTransactionEntry {
	stl.mu.RLock()
	defer stl.mu.RUnlock()

	entries := make([]SlowTransactionEntry, len(stl.entries))
	copy(entries, stl.entries)
	return entries
}

// GetRecentEntries returns the N most recent entries
func (stl *SlowTransactionLog) GetRecentEntries(n int) []SlowTransactionEntry {
	stl.mu.RLock()
	defer stl.mu.RUnlock()

	if n > len(stl.entries) {
		n = len(stl.entries)
	}

	start := len(stl.entries) - n
	entries := make([]SlowTransactionEntry, n)
	copy(entries, stl.entries[start:])
	return entries
}

// GetEntriesByTable returns entries touching a specific table
func (stl *SlowTransactionLog) GetEntriesByTable(tableID uint32) []SlowTransactionEntry {
	stl.mu.RLock()
	defer stl.mu.RUnlock()

	var filtered []SlowTransactionEntry
	for _, entry := range stl.entries {
		if entry.TableID == tableID {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

// GetEntriesByOperation returns entries for a specific operation type
func (stl *SlowTransactionLog) GetEntriesByOperation(operation string) []SlowTransactionEntry {
	stl.mu.RLock()
	defer stl.mu.RUnlock()

	var filtered []SlowTransactionEntry
	for _, entry := range stl.entries {
		if entry.Operation == operation {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

// GetEntriesSince returns entries since a specific time
func (stl *SlowTransactionLog) GetEntriesSince(since time.Time) []SlowTransactionEntry {
	stl.mu.RLock()
	defer stl.mu.RUnlock()

	var filtered []SlowTransactionEntry
	for _, entry := range stl.entries {
		if entry.Timestamp.After(since) {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

// GetStatistics returns statistics about slow transactions
func (stl *SlowTransactionLog) GetStatistics() map[string]interface{} {
	stl.mu.RLock()
	defer stl.mu.RUnlock()

	if len(stl.entries) == 0 {
		return map[string]interface{}{
			"total_entries": 0,
			"threshold_ms":  stl.threshold.Milliseconds(),
		}
	}

	var totalDuration time.Duration
	var maxDuration time.Duration
	var minDuration time.Duration = 1<<63 - 1 // Max int64

	byOperation := make(map[string]int)
	byTable := make(map[uint32]int)

	for _, entry := range stl.entries {
		totalDuration += entry.Duration
		if entry.Duration > maxDuration {
			maxDuration = entry.Duration
		}
		if entry.Duration < minDuration {
			minDuration = entry.Duration
		}

		byOperation[entry.Operation]++
		byTable[entry.TableID]++
	}

	avgDuration := totalDuration / time.Duration(len(stl.entries))

	return map[string]interface{}{
		"total_entries":   len(stl.entries),
		"threshold_ms":    stl.threshold.Milliseconds(),
		"avg_duration_ms": float64(avgDuration.Nanoseconds()) / 1e6,
		"min_duration_ms": float64(minDuration.Nanoseconds()) / 1e6,
		"max_duration_ms": float64(maxDuration.Nanoseconds()) / 1e6,
		"by_operation":    byOperation,
		"by_table":        byTable,
	}
}

// Clear removes all entries from the log
func (stl *SlowTransactionLog) Clear() {
	stl.mu.Lock()
	defer stl.mu.Unlock()

	stl.entries = make([]SlowTransactionEntry, 0, stl.maxEntries)
}

// SetThreshold updates the threshold duration
func (stl *SlowTransactionLog) SetThreshold(threshold time.Duration) {
	stl.mu.Lock()
	defer stl.mu.Unlock()

	stl.threshold = threshold
}

// GetThreshold returns the current threshold
func (stl *SlowTransactionLog) GetThreshold() time.Duration {
	stl.mu.RLock()
	defer stl.mu.RUnlock()

	return stl.threshold
}

// Enable enables slow transaction logging
func (stl *SlowTransactionLog) Enable() {
	stl.mu.Lock()
	defer stl.mu.Unlock()

	stl.enabled = true
}

// Disable disables slow transaction logging
func (stl *SlowTransactionLog) Disable() {
	stl.mu.Lock()
	defer stl.mu.Unlock()

	stl.enabled = false
}

// IsEnabled returns whether logging is enabled
func (stl *SlowTransactionLog) IsEnabled() bool {
	stl.mu.RLock()
	defer stl.mu.RUnlock()

	return stl.enabled
}

// ExportToJSON exports all entries to a JSON writer
func (stl *SlowTransactionLog) ExportToJSON(w io.Writer) error {
	stl.mu.RLock()
	defer stl.mu.RUnlock()

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(stl.entries)
}

// Close closes the log file if open
func (stl *SlowTransactionLog) Close() error {
	stl.mu.Lock()
	defer stl.mu.Unlock()

	if stl.logFile != nil {
		err := stl.logFile.Close()
		stl.logFile = nil
		stl.logToFile = false
		return err
	}
	return nil
}

// GetTopSlowest returns the N slowest transactions
func (stl *SlowTransactionLog) GetTopSlowest(n int) []SlowTransactionEntry {
	stl.mu.RLock()
	defer stl.mu.RUnlock()

	if len(stl.entries) == 0 {
		return nil
	}

	entries := make([]SlowTransactionEntry, len(stl.entries))
	copy(entries, stl.entries)

	// Sort by duration (descending) using simple insertion sort
	for i := 1; i < len(entries); i++ {
		key := entries[i]
		j := i - 1
		for j >= 0 && entries[j].Duration < key.Duration {
			entries[j+1] = entries[j]
			j--
		}
		entries[j+1] = key
	}

	if n > len(entries) {
		n = len(entries)
	}
	return entries[:n]
}

// GetSlowestByTable returns the slowest transaction for each table
func (stl *SlowTransactionLog) GetSlowestByTable() map[uint32]SlowTransactionEntry {
	stl.mu.RLock()
	defer stl.mu.RUnlock()

	slowest := make(map[uint32]SlowTransactionEntry)

	for _, entry := range stl.entries {
		if existing, exists := slowest[entry.TableID]; !exists || entry.Duration > existing.Duration {
			slowest[entry.TableID] = entry
		}
	}

	return slowest
}
