package tracking

// BoundingBox is a detection rectangle in the coordinate space the inference
// collaborator reports (x1,y1 top-left, x2,y2 bottom-right).
type BoundingBox struct {
	X1, Y1, X2, Y2 float64
}

// Detection is a single object reported by the inference collaborator for one
// image. An empty detection slice is a valid outcome, distinct from an
// inference failure.
type Detection struct {
	ClassID    int
	Box        BoundingBox
	Confidence float64
}

// ImageDimensions carries the pixel size of the source image so stored box
// coordinates can be interpreted later.
type ImageDimensions struct {
	Width  int
	Height int
}

// NormalizedBox is the geometry persisted for a detection: box center and
// size, each normalized by the image dimensions.
type NormalizedBox struct {
	X, Y, W, H float64
}

// Normalize converts corner coordinates to a center/size box normalized by
// the image dimensions. Zero dimensions yield a zero box.
func (b BoundingBox) Normalize(dims ImageDimensions) NormalizedBox {
	w, h := float64(dims.Width), float64(dims.Height)
	if w <= 0 || h <= 0 {
		return NormalizedBox{}
	}
	return NormalizedBox{
		X: (b.X1 + b.X2) / 2 / w,
		Y: (b.Y1 + b.Y2) / 2 / h,
		W: (b.X2 - b.X1) / w,
		H: (b.Y2 - b.Y1) / h,
	}
}

// DetectionRecord is the persisted shape of a detection outcome. Positive
// outcomes produce one record per detection; a negative outcome produces
// exactly one record with HasDetection false and nil geometry.
type DetectionRecord struct {
	Image        ImageRef
	HasDetection bool
	ClassID      *int
	Box          *BoundingBox
	Dimensions   *ImageDimensions
	RunID        string
}

// PositiveRecords maps a non-empty detection set to its persisted records.
func PositiveRecords(ref ImageRef, runID string, dims ImageDimensions, detections []Detection) []DetectionRecord {
	records := make([]DetectionRecord, 0, len(detections))
	for _, d := range detections {
		d := d
		records = append(records, DetectionRecord{
			Image:        ref,
			HasDetection: true,
			ClassID:      &d.ClassID,
			Box:          &d.Box,
			Dimensions:   &dims,
			RunID:        runID,
		})
	}
	return records
}

// NegativeRecord is the single row persisted when an image yields no detections.
func NegativeRecord(ref ImageRef, runID string) DetectionRecord {
	return DetectionRecord{Image: ref, HasDetection: false, RunID: runID}
}
