package core

import (
	"context"
	"fmt"

	"cellrex/internal/layout"
	"cellrex/pkg/domain"
)

// KeyOrderSetting is the index setting holding the frozen layout key order.
const KeyOrderSetting = "layout.key_order"

// EnsureLayout freezes the composer's key order in the index on first start.
// Later starts with a different order fail with domain.ErrLayoutChanged:
// existing files would no longer be found at their composed paths.
func EnsureLayout(ctx context.Context, index domain.Index, composer *layout.Composer) error {
	want := composer.Signature()
	have, ok, err := index.Setting(ctx, KeyOrderSetting)
	if err != nil {
		return err
	}
	if !ok {
		return index.PutSetting(ctx, KeyOrderSetting, want)
	}
	if have != want {
		return fmt.Errorf("%w: index uses %q, configuration requests %q", domain.ErrLayoutChanged, have, want)
	}
	return nil
}
