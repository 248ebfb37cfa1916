package health

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cuemby/stash/pkg/metrics"
	"github.com/cuemby/stash/pkg/storage"
	"github.com/google/uuid"
)

// StorageChecker verifies that a storage handle accepts writes by saving,
// measuring, reading back and deleting a small probe file at the module root
type StorageChecker struct {
	Handle storage.Handle
}

// NewStorageChecker creates a checker for h
func NewStorageChecker(h storage.Handle) *StorageChecker {
	return &StorageChecker{Handle: h}
}

// Check performs the round trip
func (s *StorageChecker) Check(ctx context.Context) Result {
	start := time.Now()
	backend := s.Handle.Descriptor().Type

	err := s.roundTrip(ctx)

	result := Result{
		Healthy:   err == nil,
		Message:   "probe file written and read back",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
	label := "ok"
	if err != nil {
		result.Message = err.Error()
		label = "error"
	}
	metrics.StorageProbeDuration.WithLabelValues(backend, label).Observe(result.Duration.Seconds())
	return result
}

func (s *StorageChecker) roundTrip(ctx context.Context) error {
	name := ".stash-probe-" + uuid.New().String()
	payload := []byte(name)

	if _, err := s.Handle.Save(ctx, "", name, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	defer func() { _ = s.Handle.Delete(context.WithoutCancel(ctx), "", name) }()

	size, err := s.Handle.GetFileSize(ctx, "", name)
	if err != nil {
		return fmt.Errorf("stat failed: %w", err)
	}
	if size != int64(len(payload)) {
		return fmt.Errorf("stat failed: size %d, wrote %d", size, len(payload))
	}

	r, err := s.Handle.GetReadStream(ctx, "", name)
	if err != nil {
		return fmt.Errorf("read failed: %w", err)
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read failed: %w", err)
	}
	if !bytes.Equal(got, payload) {
		return fmt.Errorf("read failed: content mismatch")
	}
	return nil
}

// Type returns the check type
func (s *StorageChecker) Type() CheckType {
	return CheckTypeStorage
}
