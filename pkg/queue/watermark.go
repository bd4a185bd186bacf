package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// SlotWatermark stores the latest slot seen by the ingest side under one key.
// Writes are last-write-wins; the value is for liveness and gap observation only.
type SlotWatermark struct {
	kv  KV
	key string
}

func NewSlotWatermark(kv KV, key string) (*SlotWatermark, error) {
	if kv == nil {
		return nil, errors.New("kv client is required")
	}
	if key == "" {
		return nil, errors.New("watermark key is required")
	}
	return &SlotWatermark{kv: kv, key: key}, nil
}

func (w *SlotWatermark) Set(ctx context.Context, slot uint64) error {
	if err := w.kv.Set(ctx, w.key, strconv.FormatUint(slot, 10)); err != nil {
		return fmt.Errorf("set %s: %w", w.key, err)
	}
	return nil
}

// Get returns the stored slot; found is false before the first Set.
func (w *SlotWatermark) Get(ctx context.Context) (slot uint64, found bool, err error) {
	raw, found, err := w.kv.Get(ctx, w.key)
	if err != nil || !found {
		return 0, false, err
	}
	slot, err = strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s=%q: %w", w.key, raw, err)
	}
	return slot, true, nil
}
