package safefs

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"
)

func hang[T any]() (T, error) { select {} }

func TestStatTimesOutOnHungMount(t *testing.T) {
	prev := osStat
	defer func() { osStat = prev }()
	osStat = func(string) (os.FileInfo, error) { return hang[os.FileInfo]() }

	start := time.Now()
	_, err := Stat(context.Background(), "/mnt/staging", 25*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Stat err = %v; want timeout", err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) || te.Op != "stat" || te.Path != "/mnt/staging" {
		t.Fatalf("unexpected timeout error %#v", err)
	}
	if time.Since(start) > 250*time.Millisecond {
		t.Fatalf("Stat took too long: %s", time.Since(start))
	}
}

func TestFreeBytesTimesOut(t *testing.T) {
	prev := syscallStatfs
	defer func() { syscallStatfs = prev }()
	syscallStatfs = func(string, *syscall.Statfs_t) error {
		_, err := hang[struct{}]()
		return err
	}

	_, err := FreeBytes(context.Background(), "/mnt/staging", 25*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("FreeBytes err = %v; want timeout", err)
	}
}

func TestFreeBytesComputesAvailable(t *testing.T) {
	prev := syscallStatfs
	defer func() { syscallStatfs = prev }()
	syscallStatfs = func(_ string, st *syscall.Statfs_t) error {
		st.Bavail = 10
		st.Bsize = 4096
		return nil
	}

	got, err := FreeBytes(context.Background(), "/", time.Second)
	if err != nil {
		t.Fatalf("FreeBytes: %v", err)
	}
	if got != 40960 {
		t.Fatalf("FreeBytes = %d, want 40960", got)
	}
}

func TestStatRealPathWithoutBudget(t *testing.T) {
	info, err := Stat(context.Background(), t.TempDir(), 0)
	if err != nil || !info.IsDir() {
		t.Fatalf("Stat = %v, %v", info, err)
	}
}

func TestStatPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Stat(ctx, "/does/not/matter", 50*time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Stat err = %v; want context.Canceled", err)
	}
}
