package window

const (
	DefaultSize   = 10
	DefaultStride = 5
)

// Overrides is implemented by every extractor config that may carry its own
// window parameters. A nil return means "not overridden".
type Overrides interface {
	WindowSizeOverride() *int
	WindowStrideOverride() *int
}

// Resolve returns the effective (size, stride) for an extractor. Each
// parameter falls back from the extractor override to the org-wide value to
// the default. Non-positive values are treated as unset at their level, so
// both results are always positive. cfg may be nil.
func Resolve(cfg Overrides, globalSize, globalStride *int) (size, stride int) {
	var sizeOverride, strideOverride *int
	if cfg != nil {
		sizeOverride = cfg.WindowSizeOverride()
		strideOverride = cfg.WindowStrideOverride()
	}
	return pick(DefaultSize, sizeOverride, globalSize), pick(DefaultStride, strideOverride, globalStride)
}

func pick(def int, levels ...*int) int {
	for _, v := range levels {
		if v != nil && *v > 0 {
			return *v
		}
	}
	return def
}
