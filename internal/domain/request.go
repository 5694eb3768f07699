package domain

// Op names one transform operation.
type Op string

const (
	OpCompress         Op = "compress"
	OpCompressToSize   Op = "compress_to_size"
	OpResize           Op = "resize"
	OpCrop             Op = "crop"
	OpConvert          Op = "convert"
	OpRotate           Op = "rotate"
	OpFlip             Op = "flip"
	OpBlur             Op = "blur"
	OpRemoveBackground Op = "remove_background"
	OpWatermark        Op = "watermark"
)

func (o Op) Known() bool {
	switch o {
	case OpCompress, OpCompressToSize, OpResize, OpCrop, OpConvert,
		OpRotate, OpFlip, OpBlur, OpRemoveBackground, OpWatermark:
		return true
	default:
		return false
	}
}

type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Within reports whether r is non-empty and lies inside a w x h image.
func (r Rect) Within(w, h int) bool {
	if r.Width <= 0 || r.Height <= 0 || r.X < 0 || r.Y < 0 {
		return false
	}
	return r.X <= w && r.Y <= h && r.Width <= w-r.X && r.Height <= h-r.Y
}

type Watermark struct {
	Text     string `json:"text"`
	Position string `json:"position,omitempty"`
}

// TransformRequest describes one operation. Only the fields belonging to Op
// are read.
type TransformRequest struct {
	Op          Op         `json:"op"`
	Quality     int        `json:"quality,omitempty"`
	TargetKB    int        `json:"target_kb,omitempty"`
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	Crop        *Rect      `json:"crop,omitempty"`
	Format      Format     `json:"format,omitempty"`
	Degrees     int        `json:"degrees,omitempty"`
	Horizontal  bool       `json:"horizontal,omitempty"`
	Vertical    bool       `json:"vertical,omitempty"`
	Radius      int        `json:"radius,omitempty"`
	Sensitivity int        `json:"sensitivity,omitempty"`
	Watermark   *Watermark `json:"watermark,omitempty"`

	// BoundsUnchecked is set when a crop could not be checked against the
	// source because its dimensions are unknown.
	BoundsUnchecked bool `json:"bounds_unchecked,omitempty"`
}

// RawRequest is transform input as it arrives from a form or JSON body:
// parameter values may be strings, numbers or booleans.
type RawRequest struct {
	Op     string         `json:"op"`
	Params map[string]any `json:"params,omitempty"`
}

// ProcessOptions chains several operations in a fixed order: resize, rotate,
// flip, convert, compress. Zero values skip a step.
type ProcessOptions struct {
	Quality        *int   `json:"quality,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	Format         Format `json:"format,omitempty"`
	Rotation       int    `json:"rotation,omitempty"`
	FlipHorizontal bool   `json:"flip_horizontal,omitempty"`
	FlipVertical   bool   `json:"flip_vertical,omitempty"`
}

func (o ProcessOptions) Steps() []TransformRequest {
	var steps []TransformRequest
	if o.Width > 0 || o.Height > 0 {
		steps = append(steps, TransformRequest{Op: OpResize, Width: o.Width, Height: o.Height})
	}
	if o.Rotation != 0 {
		steps = append(steps, TransformRequest{Op: OpRotate, Degrees: o.Rotation})
	}
	if o.FlipHorizontal || o.FlipVertical {
		steps = append(steps, TransformRequest{Op: OpFlip, Horizontal: o.FlipHorizontal, Vertical: o.FlipVertical})
	}
	if o.Format != FormatUnknown {
		steps = append(steps, TransformRequest{Op: OpConvert, Format: o.Format})
	}
	if o.Quality != nil {
		steps = append(steps, TransformRequest{Op: OpCompress, Quality: *o.Quality})
	}
	return steps
}
