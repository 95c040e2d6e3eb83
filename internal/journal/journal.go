// SPDX-License-Identifier: MIT

// Package journal implements the Error Journal & Recovery Pipeline (C7): a
// bounded, compacting history of classified errors, kind-specific recovery
// routines, and aggregate health/statistics queries.
//
// Grounded on error_handler.py's ErrorHandler in full — handle_error,
// _attempt_recovery and its five _recover_* routines, and
// check_system_health's exact thresholds (10 errors / 30 min, 90% CPU,
// 90% RAM).
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/liyun-hub/transcoder-supervisor/internal/classify"
	"github.com/liyun-hub/transcoder-supervisor/internal/diskmon"
)

// MaxHistoryDefault is the default journal capacity (spec §3).
const MaxHistoryDefault = 1000

// Entry is one journal record.
type Entry struct {
	Kind                classify.Kind
	ChannelID           string
	Message             string
	Timestamp           time.Time
	RecoveryAttempted   bool
	RecoverySuccessful  bool
	Detail              classify.Detail
}

// Recoverer is the subset of the Process Supervisor the PROCESS_CRASH
// recovery routine needs: killing a crashed child's process group.
type Recoverer interface {
	KillProcessGroup(pid int) error
}

// Journal owns the bounded error history and drives recovery.
type Journal struct {
	mu sync.Mutex

	maxHistory int
	entries    []Entry

	disk       *diskmon.Monitor
	minFreeMB  int64
	hlsRoot    string
	recoverer  Recoverer

	listenersMu sync.Mutex
	listeners   map[classify.Kind][]func(Entry)
}

// New creates a Journal. disk and recoverer may be nil in tests that do not
// exercise DISK_SPACE or PROCESS_CRASH recovery.
func New(maxHistory int, hlsRoot string, minFreeMB int64, disk *diskmon.Monitor, recoverer Recoverer) *Journal {
	if maxHistory <= 0 {
		maxHistory = MaxHistoryDefault
	}
	return &Journal{
		maxHistory: maxHistory,
		hlsRoot:    hlsRoot,
		minFreeMB:  minFreeMB,
		disk:       disk,
		recoverer:  recoverer,
		listeners:  make(map[classify.Kind][]func(Entry)),
	}
}

// SetRecoverer wires the PROCESS_CRASH recoverer after construction. This
// breaks the construction cycle between Journal and the Process
// Supervisor: the supervisor's constructor takes a *Journal, so the
// journal cannot take a fully-built supervisor as a Recoverer at its own
// construction time.
func (j *Journal) SetRecoverer(r Recoverer) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recoverer = r
}

// RegisterListener adds a callback invoked (best-effort, panics swallowed)
// after every journal entry of the given kind.
func (j *Journal) RegisterListener(kind classify.Kind, fn func(Entry)) {
	j.listenersMu.Lock()
	defer j.listenersMu.Unlock()
	j.listeners[kind] = append(j.listeners[kind], fn)
}

// HandleError classifies message, journals it, attempts recovery, and
// notifies listeners. It is the single entry point for every
// supervisor-detected error (spec §4.7).
func (j *Journal) HandleError(channelID, message string, ctx classify.Context) Entry {
	kind, detail := classify.Classify(message, ctx)
	entry := Entry{
		Kind:      kind,
		ChannelID: channelID,
		Message:   message,
		Timestamp: time.Now(),
		Detail:    detail,
	}

	entry.RecoveryAttempted = true
	entry.RecoverySuccessful = j.attemptRecovery(&entry, ctx)

	j.append(entry)
	j.notify(entry)
	return entry
}

func (j *Journal) append(entry Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, entry)
	if len(j.entries) > j.maxHistory {
		// Single compaction: drop the oldest half.
		half := len(j.entries) / 2
		j.entries = append([]Entry(nil), j.entries[half:]...)
	}
}

func (j *Journal) notify(entry Entry) {
	j.listenersMu.Lock()
	fns := append([]func(Entry){}, j.listeners[entry.Kind]...)
	j.listenersMu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() { _ = recover() }()
			fn(entry)
		}()
	}
}

func (j *Journal) attemptRecovery(entry *Entry, ctx classify.Context) bool {
	switch entry.Kind {
	case classify.KindNetwork:
		return true // classification only, no auto-retry
	case classify.KindDiskSpace:
		return j.recoverDiskSpace(entry)
	case classify.KindProcessCrash:
		return j.recoverProcessCrash(entry, ctx)
	case classify.KindTranscoder:
		return true // subtype/action already attached by classifier
	default:
		return true // SYSTEM: record only
	}
}

func (j *Journal) recoverDiskSpace(entry *Entry) bool {
	if j.disk == nil {
		return false
	}
	okBefore, before, err := j.disk.Check()
	if err == nil {
		entry.Detail["disk_info_before"] = before
	}
	if okBefore {
		return true
	}

	stats := j.disk.Evict(30 * time.Minute)
	entry.Detail["cleanup_stats"] = map[string]any{
		"files_deleted":       stats.FilesDeleted,
		"bytes_freed":         stats.BytesFreed,
		"directories_removed": stats.DirectoriesRemoved,
	}

	okAfter, after, err := j.disk.Check()
	if err == nil {
		entry.Detail["disk_info_after"] = after
	}
	return okAfter
}

func (j *Journal) recoverProcessCrash(entry *Entry, ctx classify.Context) bool {
	pid, _ := entry.Detail["crashed_pid"].(int)
	if pid > 0 && j.recoverer != nil {
		_ = j.recoverer.KillProcessGroup(pid)
	}

	if j.hlsRoot != "" && entry.ChannelID != "" {
		dir := filepath.Join(j.hlsRoot, entry.ChannelID)
		removeCorruptFiles(dir)
	}
	return true
}

// removeCorruptFiles deletes zero-byte or very-fresh (<10s old) files from
// dir, treating them as possibly-corrupt output from a crashed transcoder
// (error_handler.py's _recover_process_crash).
func removeCorruptFiles(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	now := time.Now()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() == 0 || now.Sub(info.ModTime()) < 10*time.Second {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}

// Recent returns entries from the last `minutes`.
func (j *Journal) Recent(minutes int) []Entry {
	cutoff := time.Now().Add(-time.Duration(minutes) * time.Minute)
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []Entry
	for _, e := range j.entries {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// RecentForChannel filters Recent by channel id.
func (j *Journal) RecentForChannel(channelID string, minutes int) []Entry {
	var out []Entry
	for _, e := range j.Recent(minutes) {
		if e.ChannelID == channelID {
			out = append(out, e)
		}
	}
	return out
}

// LatestForChannel returns the most recently journaled entry for channelID.
func (j *Journal) LatestForChannel(channelID string) (Entry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for i := len(j.entries) - 1; i >= 0; i-- {
		if j.entries[i].ChannelID == channelID {
			return j.entries[i], true
		}
	}
	return Entry{}, false
}

// ReplayRecovery re-runs the recovery routine for the latest journaled
// error on channelID (spec §6.1's POST /api/recovery/<id>). It journals a
// new entry recording the replay and returns it. ok is false if channelID
// has no journaled errors.
func (j *Journal) ReplayRecovery(channelID string) (entry Entry, ok bool) {
	last, found := j.LatestForChannel(channelID)
	if !found {
		return Entry{}, false
	}

	entry = Entry{
		Kind:      last.Kind,
		ChannelID: channelID,
		Message:   last.Message,
		Timestamp: time.Now(),
		Detail:    classify.Detail{},
	}
	for k, v := range last.Detail {
		entry.Detail[k] = v
	}

	entry.RecoveryAttempted = true
	entry.RecoverySuccessful = j.attemptRecovery(&entry, classify.Context{})

	j.append(entry)
	j.notify(entry)
	return entry, true
}

// Statistics summarizes the journal's current contents.
type Statistics struct {
	TotalErrors         int
	ByKind              map[classify.Kind]int
	RecoveryRate        float64
	RecentErrorCount    int
	RecoveryAttempts    int
	SuccessfulRecoveries int
}

func (j *Journal) Statistics() Statistics {
	j.mu.Lock()
	entries := append([]Entry(nil), j.entries...)
	j.mu.Unlock()

	stats := Statistics{ByKind: make(map[classify.Kind]int)}
	stats.TotalErrors = len(entries)

	oneHourAgo := time.Now().Add(-time.Hour)
	for _, e := range entries {
		stats.ByKind[e.Kind]++
		if e.RecoveryAttempted {
			stats.RecoveryAttempts++
		}
		if e.RecoverySuccessful {
			stats.SuccessfulRecoveries++
		}
		if e.Timestamp.After(oneHourAgo) {
			stats.RecentErrorCount++
		}
	}
	if stats.TotalErrors > 0 {
		stats.RecoveryRate = float64(stats.SuccessfulRecoveries) / float64(stats.TotalErrors) * 100
	}
	return stats
}

// Len reports the current journal size, for the Journal-boundedness
// invariant (spec §8).
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// HealthLevel is the overall tri-state health verdict.
type HealthLevel string

const (
	HealthHealthy HealthLevel = "healthy"
	HealthWarning HealthLevel = "warning"
	HealthError   HealthLevel = "error"
)

// Health aggregates disk, recent error rate, and CPU/RAM pressure into an
// overall verdict with a list of human-readable issues (spec §4.7).
type Health struct {
	Level  HealthLevel
	Issues []string
	Disk   *diskmon.Snapshot
	CPUPct float64
	MemPct float64
}

func (j *Journal) Health() Health {
	h := Health{Level: HealthHealthy}

	if j.disk != nil {
		ok, snap, err := j.disk.Check()
		if err == nil {
			h.Disk = &snap
			if !ok {
				h.Level = HealthWarning
				h.Issues = append(h.Issues, "disk_space: free space below configured minimum")
			}
		}
	}

	if n := len(j.Recent(30)); n > 10 {
		h.Level = HealthWarning
		h.Issues = append(h.Issues, fmt.Sprintf("high_error_rate: %d errors in the last 30 minutes", n))
	}

	cpuPct, memPct, err := systemPressure()
	if err == nil {
		h.CPUPct = cpuPct
		h.MemPct = memPct
		if cpuPct > 90 {
			h.Level = HealthWarning
			h.Issues = append(h.Issues, "high_cpu: CPU usage above 90%")
		}
		if memPct > 90 {
			h.Level = HealthWarning
			h.Issues = append(h.Issues, "high_memory: memory usage above 90%")
		}
	}

	return h
}

// systemPressure samples /proc/stat twice across a short interval (in the
// idiom of the teacher's internal/stream/monitor.go /proc readers, applied
// system-wide rather than per-PID) and reads /proc/meminfo once.
func systemPressure() (cpuPct, memPct float64, err error) {
	before, err := readCPUTotals()
	if err != nil {
		return 0, 0, err
	}
	time.Sleep(100 * time.Millisecond)
	after, err := readCPUTotals()
	if err != nil {
		return 0, 0, err
	}

	totalDelta := after.total - before.total
	idleDelta := after.idle - before.idle
	if totalDelta > 0 {
		cpuPct = (1 - float64(idleDelta)/float64(totalDelta)) * 100
	}

	memPct, err = readMemPercent()
	return cpuPct, memPct, err
}

type cpuTotals struct{ total, idle uint64 }

func readCPUTotals() (cpuTotals, error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return cpuTotals{}, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		fields := strings.Fields(line)[1:]
		var total uint64
		var idle uint64
		for i, f := range fields {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				continue
			}
			total += v
			if i == 3 { // idle field
				idle = v
			}
		}
		return cpuTotals{total: total, idle: idle}, nil
	}
	return cpuTotals{}, fmt.Errorf("cpu line not found in /proc/stat")
}

func readMemPercent() (float64, error) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	var totalKB, availKB float64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch strings.TrimSuffix(fields[0], ":") {
		case "MemTotal":
			totalKB = v
		case "MemAvailable":
			availKB = v
		}
	}
	if totalKB == 0 {
		return 0, fmt.Errorf("MemTotal not found in /proc/meminfo")
	}
	usedKB := totalKB - availKB
	return usedKB / totalKB * 100, nil
}

// KillProcessGroup sends sig to the process group led by pid, per
// DESIGN.md's process-tree-kill decision (DESIGN.md §Open Question 4):
// channels are spawned with Setpgid so the whole group can be targeted via
// a negative PID, avoiding a dependency on a process-tree-walking library.
func KillProcessGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	return syscall.Kill(-pid, sig)
}
