// Package snapshottest builds small Nsight Systems style SQLite snapshots for tests.
//
// The default fixture has two devices, three streams, NVTX ranges, CUDA runtime
// calls, memory copies, hardware tables and CPU sampling tables, shaped like a
// real `nsys export --type sqlite` file but with a handful of rows.
package snapshottest

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// Global thread ids in the fixture (pid << 24 | tid).
const (
	MainThread   int64 = 100<<24 | 1001
	WorkerThread int64 = 100<<24 | 1002
)

// Version is the exporter version recorded in META_DATA_EXPORT.
const Version = "2024.5.1.113-245134619542v0"

// Fixture facts asserted by tests across packages.
const (
	KernelCount     = 6
	AnnotationCount = 4
	TimeStart       = 1_000_000
	TimeEnd         = 11_100_000
)

// Tables holds every table name in the default fixture, in creation order.
var Tables = []string{
	"StringIds",
	"CUPTI_ACTIVITY_KIND_KERNEL",
	"CUPTI_ACTIVITY_KIND_RUNTIME",
	"CUPTI_ACTIVITY_KIND_MEMCPY",
	"NVTX_EVENTS",
	"TARGET_INFO_GPU",
	"TARGET_INFO_CUDA_DEVICE",
	"ThreadNames",
	"COMPOSITE_EVENTS",
	"META_DATA_EXPORT",
	"ENUM_CUDA_KERNEL_LAUNCH_TYPE",
}

const schema = `
CREATE TABLE StringIds (
  id    INTEGER NOT NULL PRIMARY KEY,
  value TEXT NOT NULL
);

CREATE TABLE CUPTI_ACTIVITY_KIND_KERNEL (
  start         INTEGER NOT NULL,
  "end"         INTEGER NOT NULL,
  deviceId      INTEGER NOT NULL,
  contextId     INTEGER NOT NULL,
  streamId      INTEGER NOT NULL,
  correlationId INTEGER,
  globalPid     INTEGER,
  demangledName INTEGER NOT NULL,
  shortName     INTEGER NOT NULL,
  gridX         INTEGER NOT NULL,
  blockX        INTEGER NOT NULL
);

CREATE TABLE CUPTI_ACTIVITY_KIND_RUNTIME (
  start         INTEGER NOT NULL,
  "end"         INTEGER NOT NULL,
  eventClass    INTEGER NOT NULL,
  globalTid     INTEGER,
  correlationId INTEGER,
  nameId        INTEGER NOT NULL,
  returnValue   INTEGER NOT NULL
);

CREATE TABLE CUPTI_ACTIVITY_KIND_MEMCPY (
  start         INTEGER NOT NULL,
  "end"         INTEGER NOT NULL,
  deviceId      INTEGER NOT NULL,
  streamId      INTEGER NOT NULL,
  correlationId INTEGER,
  bytes         INTEGER NOT NULL,
  copyKind      INTEGER NOT NULL
);

CREATE TABLE NVTX_EVENTS (
  start     INTEGER NOT NULL,
  "end"     INTEGER,
  eventType INTEGER NOT NULL,
  rangeId   INTEGER,
  text      TEXT,
  globalTid INTEGER
);

CREATE TABLE TARGET_INFO_GPU (
  id              INTEGER NOT NULL,
  name            TEXT,
  busLocation     TEXT,
  smCount         INTEGER,
  totalMemory     INTEGER,
  chipName        TEXT,
  memoryBandwidth INTEGER
);

CREATE TABLE TARGET_INFO_CUDA_DEVICE (
  gpuId  INTEGER NOT NULL,
  cudaId INTEGER NOT NULL,
  pid    INTEGER
);

CREATE TABLE ThreadNames (
  nameId    INTEGER NOT NULL,
  priority  INTEGER,
  globalTid INTEGER
);

CREATE TABLE COMPOSITE_EVENTS (
  id        INTEGER NOT NULL PRIMARY KEY,
  start     INTEGER NOT NULL,
  cpuCycles INTEGER NOT NULL,
  globalTid INTEGER,
  cpu       INTEGER
);

CREATE TABLE META_DATA_EXPORT (
  name  TEXT NOT NULL,
  value TEXT
);

CREATE TABLE ENUM_CUDA_KERNEL_LAUNCH_TYPE (
  id    INTEGER NOT NULL PRIMARY KEY,
  name  TEXT NOT NULL
);
`

const seed = `
INSERT INTO StringIds (id, value) VALUES
  (1, 'gemm_kernel'),
  (2, 'void gemm_kernel<float>(float*, const float*, int)'),
  (3, 'ncclAllReduceRingLLKernel'),
  (4, 'ncclKernel_AllReduce_RING_LL_Sum_float(ncclDevComm*, unsigned long, ncclWork*)'),
  (5, 'elementwise_add'),
  (6, 'void elementwise_add<float>(float*, const float*, int)'),
  (7, 'cudaLaunchKernel_v7000'),
  (8, 'python3'),
  (9, 'pt_data_worker');

-- device 0: stream 7 (compute), stream 13 (nccl); device 1: stream 21
INSERT INTO CUPTI_ACTIVITY_KIND_KERNEL
  (start, "end", deviceId, contextId, streamId, correlationId, globalPid, demangledName, shortName, gridX, blockX) VALUES
  (1000000,  3000000, 0, 1, 7,  101, 1677721600, 2, 1, 128, 256),
  (3100000,  4100000, 0, 1, 7,  102, 1677721600, 6, 5, 64,  256),
  (9100000, 11100000, 0, 1, 7,  103, 1677721600, 2, 1, 128, 256),
  (2000000,  6000000, 0, 1, 13, 104, 1677721600, 4, 3, 1,   512),
  (1500000,  2500000, 1, 2, 21, 201, 1677721600, 2, 1, 128, 256),
  (4500000,  8500000, 1, 2, 21, 202, 1677721600, 4, 3, 1,   512);

INSERT INTO CUPTI_ACTIVITY_KIND_RUNTIME
  (start, "end", eventClass, globalTid, correlationId, nameId, returnValue) VALUES
  (900000,  950000,  1, 1677722601, 101, 7, 0),
  (3000000, 3020000, 1, 1677722601, 102, 7, 0),
  (9000000, 9020000, 1, 1677722601, 103, 7, 0),
  (1900000, 1950000, 1, 1677722601, 104, 7, 0),
  (1400000, 1420000, 1, 1677722602, 201, 7, 0),
  (4400000, 4420000, 1, 1677722602, 202, 7, 0);

INSERT INTO CUPTI_ACTIVITY_KIND_MEMCPY
  (start, "end", deviceId, streamId, correlationId, bytes, copyKind) VALUES
  (100000,   600000,   0, 7,  301, 64000000, 1),
  (12000000, 12200000, 0, 7,  302, 8000000,  2),
  (200000,   400000,   1, 21, 303, 64000000, 1);

INSERT INTO NVTX_EVENTS (start, "end", eventType, rangeId, text, globalTid) VALUES
  (500000,  5000000,  59, 1, 'forward',    1677722601),
  (8000000, 12000000, 59, 2, 'backward',   1677722601),
  (1000000, 5000000,  59, 3, 'step',       1677722602),
  (6000000, 6000000,  34, 4, 'checkpoint', 1677722601);

INSERT INTO TARGET_INFO_GPU (id, name, busLocation, smCount, totalMemory, chipName, memoryBandwidth) VALUES
  (0, 'NVIDIA H100 80GB HBM3', '0000:18:00.0', 132, 85899345920, 'GH100', 3352000000000),
  (1, 'NVIDIA H100 80GB HBM3', '0000:2a:00.0', 132, 85899345920, 'GH100', 3352000000000);

INSERT INTO TARGET_INFO_CUDA_DEVICE (gpuId, cudaId, pid) VALUES
  (0, 0, 100),
  (1, 1, 100);

INSERT INTO ThreadNames (nameId, priority, globalTid) VALUES
  (8, 0, 1677722601),
  (9, 0, 1677722602);

INSERT INTO COMPOSITE_EVENTS (id, start, cpuCycles, globalTid, cpu) VALUES
  (1, 1000000, 300, 1677722601, 0),
  (2, 2000000, 300, 1677722601, 0),
  (3, 3000000, 200, 1677722602, 1);

INSERT INTO META_DATA_EXPORT (name, value) VALUES
  ('EXPORT_SCHEMA_VERSION', '3.11.0'),
  ('Nsight Systems Version', '2024.5.1.113-245134619542v0');

INSERT INTO ENUM_CUDA_KERNEL_LAUNCH_TYPE (id, name) VALUES
  (0, 'REGULAR'),
  (1, 'COOPERATIVE_SINGLE_DEVICE');
`

type options struct {
	drop  []string
	extra []string
}

// Option customizes the default fixture.
type Option func(*options)

// Without drops the named tables after seeding.
func Without(tables ...string) Option {
	return func(o *options) { o.drop = append(o.drop, tables...) }
}

// With runs extra statements after seeding (and after any drops).
func With(stmts ...string) Option {
	return func(o *options) { o.extra = append(o.extra, stmts...) }
}

// Build writes the default fixture into a fresh file under t.TempDir() and
// returns its path.
func Build(t testing.TB, opts ...Option) string {
	t.Helper()
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	stmts := []string{schema, seed}
	for _, table := range o.drop {
		stmts = append(stmts, "DROP TABLE IF EXISTS "+table)
	}
	stmts = append(stmts, o.extra...)
	return New(t, stmts...)
}

// New writes a snapshot containing only what stmts create and returns its path.
func New(t testing.TB, stmts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.sqlite")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer db.Close()

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("build fixture: %v\n%s", err, stmt)
		}
	}
	return path
}
