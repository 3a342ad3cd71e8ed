// Package detector adapts the external inference service to the
// tracking.Detector port. The model itself runs out of process; the worker
// only exchanges image references and detection geometry with it.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/streetlens/batchtrack/internal/domain/tracking"
)

const defaultTimeout = 2 * time.Minute

// HTTPClient calls an inference endpoint that accepts one image reference and
// returns its detections.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	tracer   trace.Tracer
}

var _ tracking.Detector = (*HTTPClient)(nil)

// NewHTTPClient creates a detector client for the given endpoint. A zero
// timeout falls back to the default.
func NewHTTPClient(endpoint string, timeout time.Duration, tracer trace.Tracer) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		tracer:   tracer,
	}
}

type detectRequest struct {
	Customer   string `json:"customer"`
	UploadDate string `json:"upload_date"`
	Filename   string `json:"filename"`
}

type detectionPayload struct {
	ClassID    int     `json:"class_id"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
}

type detectResponse struct {
	Detections  []detectionPayload `json:"detections"`
	ImageWidth  int                `json:"image_width"`
	ImageHeight int                `json:"image_height"`
}

// Detect implements tracking.Detector by posting the image reference to the
// inference service. An empty detection list is a valid response and is
// distinct from a transport or service error.
func (c *HTTPClient) Detect(ctx context.Context, ref tracking.ImageRef) ([]tracking.Detection, tracking.ImageDimensions, error) {
	ctx, span := c.tracer.Start(ctx, "detector.detect",
		trace.WithAttributes(attribute.String("image", ref.Key())),
	)
	defer span.End()

	body, err := json.Marshal(detectRequest{
		Customer:   ref.Customer,
		UploadDate: ref.UploadDate.Format("2006-01-02"),
		Filename:   ref.Filename,
	})
	if err != nil {
		return nil, tracking.ImageDimensions{}, fmt.Errorf("encoding detect request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/detect", bytes.NewReader(body))
	if err != nil {
		return nil, tracking.ImageDimensions{}, fmt.Errorf("building detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "inference request failed")
		return nil, tracking.ImageDimensions{}, fmt.Errorf("calling inference service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("inference service returned %d: %s", resp.StatusCode, msg)
		span.RecordError(err)
		span.SetStatus(codes.Error, "inference request failed")
		return nil, tracking.ImageDimensions{}, err
	}

	var payload detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, tracking.ImageDimensions{}, fmt.Errorf("decoding detect response: %w", err)
	}

	detections := make([]tracking.Detection, 0, len(payload.Detections))
	for _, d := range payload.Detections {
		detections = append(detections, tracking.Detection{
			ClassID:    d.ClassID,
			Box:        tracking.BoundingBox{X1: d.X1, Y1: d.Y1, X2: d.X2, Y2: d.Y2},
			Confidence: d.Confidence,
		})
	}

	span.SetAttributes(attribute.Int("num_detections", len(detections)))
	return detections, tracking.ImageDimensions{Width: payload.ImageWidth, Height: payload.ImageHeight}, nil
}
