// Package profile opens Nsight Systems SQLite snapshots, discovers the devices
// and hardware they describe, and runs the typed read-only queries shared by
// skills and report collaborators.
package profile

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/GindaChen/nsys-tui/internal/db"
	"github.com/GindaChen/nsys-tui/internal/errors"
	"github.com/GindaChen/nsys-tui/internal/schema"
)

// Optional tables consumed by name.
const (
	StringsTable    = "StringIds"
	RuntimeTable    = "CUPTI_ACTIVITY_KIND_RUNTIME"
	AnnotationTable = "NVTX_EVENTS"
	GPUTable        = "TARGET_INFO_GPU"
	CUDADeviceTable = "TARGET_INFO_CUDA_DEVICE"
)

// ErrClosed is returned by queries issued after Close.
var ErrClosed = stderrors.New("profile is closed")

// Window is an inclusive time range in nanoseconds. A nil *Window means the
// whole profile.
type Window struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// GPUInfo is the hardware identity and load of one device.
type GPUInfo struct {
	DeviceID    int    `json:"device_id"`
	Name        string `json:"name"`
	PCIBus      string `json:"pci_bus"`
	SMCount     int    `json:"sm_count"`
	MemoryBytes int64  `json:"memory_bytes"`
	KernelCount int    `json:"kernel_count"`
	Streams     []int  `json:"streams"`
}

// Meta holds the facts discovered at open time. Immutable.
type Meta struct {
	Devices         []int           `json:"devices"`
	Streams         map[int][]int   `json:"streams"`
	TimeRange       [2]int64        `json:"time_range"`
	KernelCount     int             `json:"kernel_count"`
	AnnotationCount int             `json:"annotation_count"`
	Tables          []string        `json:"tables"`
	GPUs            map[int]GPUInfo `json:"gpus"`
}

// Profile is an open snapshot. It owns its connection exclusively until Close.
type Profile struct {
	Path   string
	Schema *schema.Facts
	Meta   *Meta

	db     *sql.DB
	logger *slog.Logger
}

type openOptions struct {
	converter *Converter
	logger    *slog.Logger
}

// Option configures Open.
type Option func(*openOptions)

// WithConverter sets the converter used for .nsys-rep paths.
func WithConverter(c *Converter) Option {
	return func(o *openOptions) { o.converter = c }
}

// WithLogger sets the logger for open-time diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *openOptions) { o.logger = l }
}

// Open opens the snapshot at path. See OpenContext.
func Open(path string, opts ...Option) (*Profile, error) {
	return OpenContext(context.Background(), path, opts...)
}

// OpenContext opens the snapshot at path, converting a .nsys-rep capture first
// when needed, then resolves the schema and runs discovery. ctx only bounds
// the conversion; skill queries are bound to their own context.
func OpenContext(ctx context.Context, path string, opts ...Option) (*Profile, error) {
	o := &openOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.converter == nil {
		o.converter = NewConverter("nsys", 300*time.Second)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	logger := o.logger.With("component", "profile")

	resolved, err := resolvePath(ctx, path, o.converter, logger)
	if err != nil {
		return nil, err
	}

	conn, err := db.Open(resolved)
	if err != nil {
		return nil, err
	}

	facts, err := schema.Resolve(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	p := &Profile{Path: resolved, Schema: facts, db: conn, logger: logger}
	meta, err := p.discover()
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.Meta = meta

	logger.Debug("opened profile", "path", resolved, "kernel_table", facts.KernelTable,
		"version", facts.Version, "devices", len(meta.Devices))
	return p, nil
}

// resolvePath converts captures and applies the empty-stub sibling heuristic:
// an empty .sqlite file with a non-empty sibling lacking the extension means
// the sibling is the real export.
func resolvePath(ctx context.Context, path string, conv *Converter, logger *slog.Logger) (string, error) {
	if IsRep(path) {
		if _, err := os.Stat(path); err != nil {
			return "", errors.NewNotFound(path)
		}
		logger.Info("converting capture", "path", path, "tool", conv.Tool)
		out, err := conv.Convert(ctx, path)
		if err != nil {
			return "", err
		}
		path = out
	}

	if strings.HasSuffix(path, SnapshotExt) {
		if info, err := os.Stat(path); err == nil && info.Size() == 0 {
			base := strings.TrimSuffix(path, SnapshotExt)
			if sib, err := os.Stat(base); err == nil && !sib.IsDir() && sib.Size() > 0 {
				logger.Warn("snapshot is an empty stub, using sibling", "stub", path, "sibling", base)
				path = base
			}
		}
	}

	if _, err := os.Stat(path); err != nil {
		return "", errors.NewNotFound(path)
	}
	return path, nil
}

// DB exposes the snapshot connection for skills. Nil after Close.
func (p *Profile) DB() *sql.DB {
	return p.db
}

// Close releases the connection. Meta and Schema remain readable.
func (p *Profile) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

func (p *Profile) conn() (*sql.DB, error) {
	if p.db == nil {
		return nil, ErrClosed
	}
	return p.db, nil
}

func (p *Profile) kernelTable() string {
	return db.QuoteIdent(p.Schema.KernelTable)
}

// discover computes Meta from the kernel table and optional hardware tables.
func (p *Profile) discover() (*Meta, error) {
	facts := p.Schema
	if facts.KernelTable == "" {
		return nil, errors.NewSchemaUnavailable(facts.Version, facts.Tables)
	}
	kt := p.kernelTable()

	meta := &Meta{
		Streams: map[int][]int{},
		Tables:  facts.Tables,
		GPUs:    map[int]GPUInfo{},
	}

	rows, err := p.db.Query(fmt.Sprintf(
		"SELECT DISTINCT deviceId, streamId FROM %s ORDER BY deviceId, streamId", kt))
	if err != nil {
		return nil, fmt.Errorf("failed to discover devices: %w", err)
	}
	for rows.Next() {
		var dev, stream int
		if err := rows.Scan(&dev, &stream); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		if _, ok := meta.Streams[dev]; !ok {
			meta.Devices = append(meta.Devices, dev)
		}
		meta.Streams[dev] = append(meta.Streams[dev], stream)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to discover devices: %w", err)
	}
	if len(meta.Devices) == 0 {
		return nil, errors.NewNoDevices(facts.KernelTable)
	}

	var lo, hi sql.NullInt64
	if err := p.db.QueryRow(fmt.Sprintf(
		"SELECT MIN(start), MAX([end]), COUNT(*) FROM %s", kt)).Scan(&lo, &hi, &meta.KernelCount); err != nil {
		return nil, fmt.Errorf("failed to read time range: %w", err)
	}
	meta.TimeRange = [2]int64{lo.Int64, hi.Int64}

	if facts.Has(AnnotationTable) {
		if err := p.db.QueryRow("SELECT COUNT(*) FROM " + AnnotationTable).Scan(&meta.AnnotationCount); err != nil {
			return nil, fmt.Errorf("failed to count annotations: %w", err)
		}
	}

	if err := p.discoverGPUs(meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (p *Profile) discoverGPUs(meta *Meta) error {
	counts := map[int]int{}
	rows, err := p.db.Query(fmt.Sprintf(
		"SELECT deviceId, COUNT(*) FROM %s GROUP BY deviceId", p.kernelTable()))
	if err != nil {
		return fmt.Errorf("failed to count kernels per device: %w", err)
	}
	for rows.Next() {
		var dev, n int
		if err := rows.Scan(&dev, &n); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan kernel count: %w", err)
		}
		counts[dev] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to count kernels per device: %w", err)
	}

	hw := map[int]GPUInfo{}
	if p.Schema.Has(GPUTable) && p.Schema.Has(CUDADeviceTable) {
		rows, err := p.db.Query(`
			SELECT c.cudaId, g.name, g.busLocation, g.smCount, g.totalMemory
			FROM TARGET_INFO_GPU g
			JOIN TARGET_INFO_CUDA_DEVICE c ON g.id = c.gpuId
			GROUP BY c.cudaId`)
		if err != nil {
			return fmt.Errorf("failed to read GPU info: %w", err)
		}
		for rows.Next() {
			var (
				dev      int
				name     sql.NullString
				bus      sql.NullString
				sms, mem sql.NullInt64
			)
			if err := rows.Scan(&dev, &name, &bus, &sms, &mem); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan GPU info: %w", err)
			}
			hw[dev] = GPUInfo{
				Name:        name.String,
				PCIBus:      bus.String,
				SMCount:     int(sms.Int64),
				MemoryBytes: mem.Int64,
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to read GPU info: %w", err)
		}
	}

	for _, dev := range meta.Devices {
		info := hw[dev]
		info.DeviceID = dev
		info.KernelCount = counts[dev]
		info.Streams = meta.Streams[dev]
		meta.GPUs[dev] = info
	}
	return nil
}
