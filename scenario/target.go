package scenario

import (
	"context"
	"image"
)

// Target is the debug control surface a drivable application exposes.
// Nothing else about the target is inspected.
type Target interface {
	// Reset returns the target to its initial state. It must neutralise any
	// effect of a previous scenario.
	Reset(ctx context.Context) error
	SetInput(ctx context.Context, in Input) error
	SetState(ctx context.Context, fields State) error
	// AdvanceOneTick steps the simulation by exactly one discrete tick.
	AdvanceOneTick(ctx context.Context) error
	// Render forces a render pass.
	Render(ctx context.Context) error
	// BeginRun enters continuous run mode.
	BeginRun(ctx context.Context) error
}

// Capturer grabs the pixels of a bounded region of the target.
type Capturer interface {
	Capture(ctx context.Context, region string) (image.Image, error)
}

// Driver is a Target that can also be captured.
type Driver interface {
	Target
	Capturer
}
