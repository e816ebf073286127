package profile

import (
	"database/sql"
	"fmt"
	"strings"
)

// Kernel is one kernel execution on a device.
type Kernel struct {
	Start         int64  `json:"start"`
	End           int64  `json:"end"`
	StreamID      int    `json:"stream_id"`
	CorrelationID int64  `json:"correlation_id"`
	Name          string `json:"name"`
}

// KernelFacts is the kernel side of a correlation id.
type KernelFacts struct {
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
	StreamID  int    `json:"stream_id"`
	Name      string `json:"name"`
	Demangled string `json:"demangled"`
}

// RuntimeCall is one CUDA runtime API call on a host thread.
type RuntimeCall struct {
	Start         int64 `json:"start"`
	End           int64 `json:"end"`
	CorrelationID int64 `json:"correlation_id"`
}

// AnnotationEvent is one NVTX push/pop range on a host thread.
type AnnotationEvent struct {
	Text     string `json:"text"`
	ThreadID int64  `json:"thread_id"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
}

// nameJoin returns the select expression and join clause resolving a
// StringIds reference. Without StringIds names degrade to "".
func (p *Profile) nameJoin(alias, column string) (string, string) {
	if !p.Schema.Has(StringsTable) {
		return "''", ""
	}
	return fmt.Sprintf("COALESCE(%s.value, '')", alias),
		fmt.Sprintf(" LEFT JOIN StringIds %s ON k.%s = %s.id", alias, column, alias)
}

// windowClause restricts alias rows to those contained in w.
func windowClause(alias string, w *Window, args []any) (string, []any) {
	if w == nil {
		return "", args
	}
	return fmt.Sprintf(" AND %s.start >= ? AND %s.[end] <= ?", alias, alias), append(args, w.Start, w.End)
}

// Kernels lists the kernels executed on device, ordered by start time.
// With a window only kernels fully inside it are returned.
func (p *Profile) Kernels(device int, w *Window) ([]Kernel, error) {
	conn, err := p.conn()
	if err != nil {
		return nil, err
	}

	nameExpr, join := p.nameJoin("s", "shortName")
	where, args := windowClause("k", w, []any{device})
	query := fmt.Sprintf(`SELECT k.start, k.[end], k.streamId, k.correlationId, %s
		FROM %s k%s
		WHERE k.deviceId = ?%s
		ORDER BY k.start`, nameExpr, p.kernelTable(), join, where)

	rows, err := conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query kernels: %w", err)
	}
	defer rows.Close()

	var out []Kernel
	for rows.Next() {
		var k Kernel
		var corr sql.NullInt64
		if err := rows.Scan(&k.Start, &k.End, &k.StreamID, &corr, &k.Name); err != nil {
			return nil, fmt.Errorf("failed to scan kernel: %w", err)
		}
		k.CorrelationID = corr.Int64
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query kernels: %w", err)
	}
	return out, nil
}

// KernelMap indexes the kernels of device by correlation id. The correlation
// id is the only reliable link between a host API call and the kernel it
// launched, since kernels run asynchronously from their launch.
func (p *Profile) KernelMap(device int, w *Window) (map[int64]KernelFacts, error) {
	conn, err := p.conn()
	if err != nil {
		return nil, err
	}

	nameExpr, nameJoin := p.nameJoin("s", "shortName")
	demExpr, demJoin := p.nameJoin("d", "demangledName")
	where, args := windowClause("k", w, []any{device})
	query := fmt.Sprintf(`SELECT k.start, k.[end], k.streamId, k.correlationId, %s, %s
		FROM %s k%s%s
		WHERE k.deviceId = ? AND k.correlationId IS NOT NULL%s
		ORDER BY k.start`, nameExpr, demExpr, p.kernelTable(), nameJoin, demJoin, where)

	rows, err := conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query kernel map: %w", err)
	}
	defer rows.Close()

	out := map[int64]KernelFacts{}
	for rows.Next() {
		var kf KernelFacts
		var corr int64
		if err := rows.Scan(&kf.Start, &kf.End, &kf.StreamID, &corr, &kf.Name, &kf.Demangled); err != nil {
			return nil, fmt.Errorf("failed to scan kernel: %w", err)
		}
		out[corr] = kf
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query kernel map: %w", err)
	}
	return out, nil
}

// GPUThreads returns the host threads (globalTid) that launched any kernel on
// device, ascending. Empty when the runtime table is absent.
func (p *Profile) GPUThreads(device int, w *Window) ([]int64, error) {
	conn, err := p.conn()
	if err != nil {
		return nil, err
	}
	if !p.Schema.Has(RuntimeTable) {
		return nil, nil
	}

	where, args := windowClause("k", w, []any{device})
	query := fmt.Sprintf(`SELECT DISTINCT r.globalTid
		FROM CUPTI_ACTIVITY_KIND_RUNTIME r
		JOIN %s k ON r.correlationId = k.correlationId
		WHERE k.deviceId = ? AND r.globalTid IS NOT NULL%s
		ORDER BY r.globalTid`, p.kernelTable(), where)

	rows, err := conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query GPU threads: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var tid int64
		if err := rows.Scan(&tid); err != nil {
			return nil, fmt.Errorf("failed to scan thread id: %w", err)
		}
		out = append(out, tid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query GPU threads: %w", err)
	}
	return out, nil
}

// RuntimeIndex loads the runtime API calls of threads contained in w, keyed by
// thread and ordered by start time. Every requested thread has an entry.
func (p *Profile) RuntimeIndex(threads []int64, w *Window) (map[int64][]RuntimeCall, error) {
	conn, err := p.conn()
	if err != nil {
		return nil, err
	}

	idx := make(map[int64][]RuntimeCall, len(threads))
	for _, tid := range threads {
		idx[tid] = nil
	}
	if len(threads) == 0 || !p.Schema.Has(RuntimeTable) {
		return idx, nil
	}

	where, args := windowClause("r", w, nil)
	query := fmt.Sprintf(`SELECT r.globalTid, r.start, r.[end], r.correlationId
		FROM CUPTI_ACTIVITY_KIND_RUNTIME r
		WHERE r.globalTid IN (%s)%s
		ORDER BY r.globalTid, r.start`, placeholders(len(threads)), where)

	rows, err := conn.Query(query, append(threadArgs(threads), args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runtime calls: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tid int64
		var rc RuntimeCall
		var corr sql.NullInt64
		if err := rows.Scan(&tid, &rc.Start, &rc.End, &corr); err != nil {
			return nil, fmt.Errorf("failed to scan runtime call: %w", err)
		}
		rc.CorrelationID = corr.Int64
		idx[tid] = append(idx[tid], rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query runtime calls: %w", err)
	}
	return idx, nil
}

// AnnotationEvents returns the named NVTX ranges of threads that overlap w,
// ordered by start time. Zero-length markers are skipped. Empty when the
// annotation table is absent.
func (p *Profile) AnnotationEvents(threads []int64, w *Window) ([]AnnotationEvent, error) {
	conn, err := p.conn()
	if err != nil {
		return nil, err
	}
	if len(threads) == 0 || !p.Schema.Has(AnnotationTable) {
		return nil, nil
	}

	args := threadArgs(threads)
	overlap := ""
	if w != nil {
		overlap = " AND start <= ? AND [end] >= ?"
		args = append(args, w.End, w.Start)
	}
	query := fmt.Sprintf(`SELECT text, globalTid, start, [end]
		FROM NVTX_EVENTS
		WHERE text IS NOT NULL AND [end] > start
		  AND globalTid IN (%s)%s
		ORDER BY start`, placeholders(len(threads)), overlap)

	rows, err := conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query annotations: %w", err)
	}
	defer rows.Close()

	var out []AnnotationEvent
	for rows.Next() {
		var ev AnnotationEvent
		if err := rows.Scan(&ev.Text, &ev.ThreadID, &ev.Start, &ev.End); err != nil {
			return nil, fmt.Errorf("failed to scan annotation: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query annotations: %w", err)
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func threadArgs(threads []int64) []any {
	args := make([]any, len(threads))
	for i, t := range threads {
		args[i] = t
	}
	return args
}
