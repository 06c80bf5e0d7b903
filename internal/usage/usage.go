// Package usage samples CPU, memory, and disk consumption for a
// running job's process tree and appends rows to its usage.csv.
package usage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v4/process"

	"github.com/samson-media/barn/internal/barnclock"
	"github.com/samson-media/barn/internal/barnerr"
	"github.com/samson-media/barn/internal/stateio"
)

// csvHeader is written once, the first time a job's usage.csv is
// created.
const csvHeader = "timestamp,cpu_percent,memory_bytes,disk_bytes,gpu_percent,gpu_memory_bytes"

// Record is one sampled row.
type Record struct {
	Timestamp   time.Time
	CPUPercent  float64
	MemoryBytes uint64
	DiskBytes   int64
}

// Sampler periodically samples one process tree and appends CSV rows.
type Sampler struct {
	clock      barnclock.Clock
	rootPID    int
	workDir    string
	csvPath    string
	headerDone bool
}

// NewSampler creates a Sampler for the process tree rooted at rootPID.
// workDir is the job's work/ directory, whose recursive size becomes
// the disk_bytes column.
func NewSampler(clock barnclock.Clock, rootPID int, workDir, csvPath string) *Sampler {
	return &Sampler{clock: clock, rootPID: rootPID, workDir: workDir, csvPath: csvPath}
}

// SampleOnce takes one sample of the process tree and appends it to
// the CSV file, creating the file with a header on first write. Sample
// failures are best-effort and swallowed by the caller; SampleOnce
// itself still returns the error so the caller can log it at debug
// level.
func (s *Sampler) SampleOnce(ctx context.Context) error {
	cpu, mem, err := s.sampleTree(ctx)
	if err != nil {
		return err
	}
	disk, err := dirSize(s.workDir)
	if err != nil {
		disk = 0
	}

	rec := Record{
		Timestamp:   s.clock.Now(),
		CPUPercent:  cpu,
		MemoryBytes: mem,
		DiskBytes:   disk,
	}
	return s.appendRow(rec)
}

// sampleTree aggregates CPU percent and RSS memory across the root
// process and every live descendant, via a breadth-first walk of the
// process tree capped at a sane depth so a runaway fork bomb can't make
// sampling itself unbounded.
const maxTreeDepth = 32

func (s *Sampler) sampleTree(ctx context.Context) (cpuPercent float64, memoryBytes uint64, err error) {
	root, err := gopsprocess.NewProcessWithContext(ctx, int32(s.rootPID))
	if err != nil {
		return 0, 0, barnerr.ProcessSpawnFailed(err, "sample process %d: not found", s.rootPID)
	}

	type queued struct {
		proc  *gopsprocess.Process
		depth int
	}
	queue := []queued{{proc: root, depth: 0}}
	seen := map[int32]bool{}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur.proc.Pid] || cur.depth > maxTreeDepth {
			continue
		}
		seen[cur.proc.Pid] = true

		if pct, pErr := cur.proc.CPUPercentWithContext(ctx); pErr == nil {
			cpuPercent += pct
		}
		if memInfo, mErr := cur.proc.MemoryInfoWithContext(ctx); mErr == nil && memInfo != nil {
			memoryBytes += memInfo.RSS
		}

		children, cErr := cur.proc.ChildrenWithContext(ctx)
		if cErr != nil {
			continue
		}
		for _, child := range children {
			queue = append(queue, queued{proc: child, depth: cur.depth + 1})
		}
	}

	return cpuPercent, memoryBytes, nil
}

func (s *Sampler) appendRow(rec Record) error {
	if !s.headerDone {
		if _, ok, _ := stateio.ReadString(s.csvPath); !ok {
			if err := stateio.AppendLine(s.csvPath, csvHeader); err != nil {
				return err
			}
		}
		s.headerDone = true
	}

	line := fmt.Sprintf("%s,%.2f,%d,%d,,",
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.CPUPercent,
		rec.MemoryBytes,
		rec.DiskBytes,
	)
	return stateio.AppendLine(s.csvPath, line)
}

// dirSize returns the recursive size in bytes of every regular file
// under root.
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, barnerr.IoError(err, "measure disk usage under %s", root)
	}
	return total, nil
}
