package catalog

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(c Criteria) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c.Make)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestDebouncerCoalescesBursts(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(30*time.Millisecond, rec.record)
	defer d.Stop()

	for _, m := range []string{"L", "La", "Lam", "Lambo"} {
		d.Update(Criteria{Make: m})
		time.Sleep(5 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, []string{"Lambo"}, rec.snapshot())

	d.Update(Criteria{Make: "Kia"})
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"Lambo", "Kia"}, rec.snapshot())
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(20*time.Millisecond, rec.record)
	d.Update(Criteria{Make: "Genesis"})
	d.Stop()
	d.Update(Criteria{Make: "Kia"})
	time.Sleep(60 * time.Millisecond)
	require.Empty(t, rec.snapshot())
}

func TestDebouncerFlush(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(time.Hour, rec.record)
	defer d.Stop()
	d.Flush()
	require.Empty(t, rec.snapshot())

	d.Update(Criteria{Make: "Hyundai"})
	d.Flush()
	require.Equal(t, []string{"Hyundai"}, rec.snapshot())
	d.Flush()
	require.Len(t, rec.snapshot(), 1)
}

func TestDebouncerDefaultWindow(t *testing.T) {
	d := NewDebouncer[Criteria](0, func(Criteria) {})
	require.Equal(t, DefaultDebounce, d.window)
}
