//go:build linux

package supervisor

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// clockTicksPerSec is USER_HZ on essentially every Linux platform Go
// targets; reading the real value requires cgo's sysconf, which isn't
// worth the build-tag cost for a best-effort stats sample.
const clockTicksPerSec = 100

var prevCPU = struct {
	sync.Mutex
	ticks map[int]uint64
}{ticks: make(map[int]uint64)}

// sampleStats reads /proc/<pid>/stat and /proc/<pid>/io for a point-in-time
// resource sample. Any read failure (process gone, permission denied,
// /proc unavailable) degrades to the zero value rather than propagating an
// error, per spec.md §4.E.
func sampleStats(pid int, interval time.Duration) Stats {
	cpuTicks, rss, ok := readProcStat(pid)
	if !ok {
		return Stats{}
	}

	var cpuPct float64
	prevCPU.Lock()
	if last, seen := prevCPU.ticks[pid]; seen && cpuTicks >= last {
		deltaTicks := cpuTicks - last
		deltaSecs := float64(deltaTicks) / clockTicksPerSec
		cpuPct = 100 * deltaSecs / interval.Seconds()
	}
	prevCPU.ticks[pid] = cpuTicks
	prevCPU.Unlock()

	readBytes, writeBytes := readProcIO(pid)

	return Stats{
		CPUPercent: cpuPct,
		MemBytes:   rss,
		IORead:     readBytes,
		IOWrite:    writeBytes,
	}
}

// readProcStat extracts (utime+stime in clock ticks, RSS in bytes) from
// /proc/<pid>/stat. The comm field may itself contain spaces or
// parentheses, so fields are located relative to the last ')' rather than
// by a fixed space-split index.
func readProcStat(pid int) (cpuTicks uint64, rssBytes uint64, ok bool) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, 0, false
	}
	line := string(data)
	close := strings.LastIndexByte(line, ')')
	if close < 0 || close+2 >= len(line) {
		return 0, 0, false
	}
	fields := strings.Fields(line[close+2:])
	// Fields after "pid (comm) state": [1]=ppid ... utime is index 11,
	// stime is index 12, rss (pages) is index 21, 0-based from "state".
	const utimeIdx, stimeIdx, rssIdx = 11, 12, 21
	if len(fields) <= rssIdx {
		return 0, 0, false
	}
	utime, err1 := strconv.ParseUint(fields[utimeIdx], 10, 64)
	stime, err2 := strconv.ParseUint(fields[stimeIdx], 10, 64)
	rssPages, err3 := strconv.ParseUint(fields[rssIdx], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, false
	}
	return utime + stime, rssPages * uint64(os.Getpagesize()), true
}

// readProcIO extracts cumulative read/write byte counters from
// /proc/<pid>/io. Missing or unreadable (often permission-denied even for
// the owning user under some kernel configs) degrades to zeros.
func readProcIO(pid int) (readBytes, writeBytes uint64) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/io", pid))
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		key, val, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSpace(val), 10, 64)
		if err != nil {
			continue
		}
		switch strings.TrimSpace(key) {
		case "read_bytes":
			readBytes = n
		case "write_bytes":
			writeBytes = n
		}
	}
	return readBytes, writeBytes
}
