package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitBatch(t *testing.T, d *Debouncer) []FileEvent {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced batch")
		return nil
	}
}

func TestDebouncer_CreateThenModifyStaysCreate(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "/data/a.nc", Operation: OpCreate})
	d.Add(FileEvent{Path: "/data/a.nc", Operation: OpModify})

	batch := waitBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpCreate, batch[0].Operation)
}

func TestDebouncer_CreateThenDeleteCancels(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "/data/a.nc", Operation: OpCreate})
	d.Add(FileEvent{Path: "/data/a.nc", Operation: OpDelete})
	// Keep a second path alive so the flush emits something observable.
	d.Add(FileEvent{Path: "/data/b.nc", Operation: OpModify})

	batch := waitBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, "/data/b.nc", batch[0].Path)
}

func TestDebouncer_DeleteThenCreateBecomesModify(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "/data/a.nc", Operation: OpDelete})
	d.Add(FileEvent{Path: "/data/a.nc", Operation: OpCreate})

	batch := waitBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpModify, batch[0].Operation)
}

func TestDebouncer_ModifyThenDeleteBecomesDelete(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "/data/a.nc", Operation: OpModify})
	d.Add(FileEvent{Path: "/data/a.nc", Operation: OpDelete})

	batch := waitBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpDelete, batch[0].Operation)
}

func TestDebouncer_BatchesDistinctPaths(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "/data/a.nc", Operation: OpCreate})
	d.Add(FileEvent{Path: "/data/b.nc", Operation: OpModify})
	d.Add(FileEvent{Path: "/data/c.nc", Operation: OpDelete})

	batch := waitBatch(t, d)
	assert.Len(t, batch, 3)
}

func TestDebouncer_AddAfterStopIsIgnored(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	d.Stop()
	d.Stop() // idempotent

	d.Add(FileEvent{Path: "/data/a.nc", Operation: OpCreate})

	_, ok := <-d.Output()
	assert.False(t, ok)
}
