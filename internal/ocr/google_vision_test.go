package ocr

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
)

// fakeAnnotateClient scripts one outcome per call, in order.
type fakeAnnotateClient struct {
	responses []*visionpb.BatchAnnotateImagesResponse
	errs      []error
	calls     int
}

func (f *fakeAnnotateClient) BatchAnnotateImages(_ context.Context, _ *visionpb.BatchAnnotateImagesRequest, _ ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return nil, errors.New("unscripted call")
}

func flatResponse(texts ...string) *visionpb.BatchAnnotateImagesResponse {
	entities := make([]*visionpb.EntityAnnotation, 0, len(texts))
	for i, text := range texts {
		entities = append(entities, &visionpb.EntityAnnotation{
			Description: text,
			BoundingPoly: &visionpb.BoundingPoly{
				Vertices: []*visionpb.Vertex{
					{X: 0, Y: int32(i * 20)},
					{X: 50, Y: int32(i * 20)},
					{X: 50, Y: int32(i*20 + 15)},
					{X: 0, Y: int32(i*20 + 15)},
				},
			},
		})
	}
	return &visionpb.BatchAnnotateImagesResponse{
		Responses: []*visionpb.AnnotateImageResponse{{TextAnnotations: entities}},
	}
}

func fastOptions() Options {
	return Options{
		MaxCallsPerMinute: 1000,
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
	}
}

func TestExtractTextFlatResponse(t *testing.T) {
	client := &fakeAnnotateClient{
		responses: []*visionpb.BatchAnnotateImagesResponse{
			flatResponse("2023 POKEMON CHARIZARD", "2023", "POKEMON", "CHARIZARD"),
		},
	}
	service := NewGoogleVisionServiceWithClient(client, fastOptions())

	result, err := service.ExtractText(context.Background(), []byte("image-bytes"))
	if err != nil {
		t.Fatalf("ExtractText() error = %v", err)
	}

	if result.FullText != "2023 POKEMON CHARIZARD" {
		t.Errorf("FullText = %q", result.FullText)
	}
	if len(result.Annotations) != 4 {
		t.Fatalf("got %d annotations, want 4 (summary + 3 fragments)", len(result.Annotations))
	}
	if result.Annotations[0].Text != result.FullText {
		t.Errorf("Annotations[0] = %q, want the summary block", result.Annotations[0].Text)
	}
	if result.Annotations[2].Text != "POKEMON" {
		t.Errorf("Annotations[2] = %q, want POKEMON", result.Annotations[2].Text)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if got := result.Annotations[1].Top(); got != 20 {
		t.Errorf("fragment 1 Top() = %d, want 20", got)
	}
}

func TestExtractTextHierarchicalResponse(t *testing.T) {
	// Only FullTextAnnotation present: a summary block must be synthesized
	// and the page/block/paragraph/word tree flattened behind it.
	word := func(text string, top, bottom int32) *visionpb.Word {
		symbols := make([]*visionpb.Symbol, 0, len(text))
		for _, r := range text {
			symbols = append(symbols, &visionpb.Symbol{Text: string(r)})
		}
		return &visionpb.Word{
			Symbols: symbols,
			BoundingBox: &visionpb.BoundingPoly{
				Vertices: []*visionpb.Vertex{{X: 0, Y: top}, {X: 40, Y: bottom}},
			},
		}
	}
	resp := &visionpb.BatchAnnotateImagesResponse{
		Responses: []*visionpb.AnnotateImageResponse{{
			FullTextAnnotation: &visionpb.TextAnnotation{
				Text: "PSA 10\nCHARIZARD",
				Pages: []*visionpb.Page{{
					Blocks: []*visionpb.Block{{
						Paragraphs: []*visionpb.Paragraph{{
							Words: []*visionpb.Word{
								word("PSA", 0, 15),
								word("10", 0, 15),
								word("CHARIZARD", 20, 35),
							},
						}},
					}},
				}},
			},
		}},
	}
	client := &fakeAnnotateClient{responses: []*visionpb.BatchAnnotateImagesResponse{resp}}
	service := NewGoogleVisionServiceWithClient(client, fastOptions())

	result, err := service.ExtractText(context.Background(), []byte("image-bytes"))
	if err != nil {
		t.Fatalf("ExtractText() error = %v", err)
	}

	if result.FullText != "PSA 10\nCHARIZARD" {
		t.Errorf("FullText = %q", result.FullText)
	}
	wantTexts := []string{"PSA 10\nCHARIZARD", "PSA", "10", "CHARIZARD"}
	if len(result.Annotations) != len(wantTexts) {
		t.Fatalf("got %d annotations, want %d", len(result.Annotations), len(wantTexts))
	}
	for i, want := range wantTexts {
		if result.Annotations[i].Text != want {
			t.Errorf("Annotations[%d] = %q, want %q", i, result.Annotations[i].Text, want)
		}
	}
	if got := result.Annotations[3].Bottom(); got != 35 {
		t.Errorf("CHARIZARD Bottom() = %d, want 35", got)
	}
}

func TestExtractTextRetriesTransientErrors(t *testing.T) {
	client := &fakeAnnotateClient{
		errs:      []error{errors.New("503 service unavailable"), nil},
		responses: []*visionpb.BatchAnnotateImagesResponse{nil, flatResponse("ok")},
	}
	service := NewGoogleVisionServiceWithClient(client, fastOptions())

	result, err := service.ExtractText(context.Background(), []byte("image-bytes"))
	if err != nil {
		t.Fatalf("ExtractText() error = %v", err)
	}
	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", result.Attempts)
	}
	if client.calls != 2 {
		t.Errorf("provider calls = %d, want 2", client.calls)
	}
}

func TestExtractTextExhaustsRetries(t *testing.T) {
	transient := errors.New("503 service unavailable")
	client := &fakeAnnotateClient{errs: []error{transient, transient, transient}}
	service := NewGoogleVisionServiceWithClient(client, fastOptions())

	_, err := service.ExtractText(context.Background(), []byte("image-bytes"))
	if !errors.Is(err, ErrOCRFailed) {
		t.Errorf("error = %v, want ErrOCRFailed", err)
	}
	if client.calls != 3 {
		t.Errorf("provider calls = %d, want 3", client.calls)
	}
}

func TestExtractTextFatalErrorSkipsRetry(t *testing.T) {
	client := &fakeAnnotateClient{errs: []error{errors.New("401 unauthenticated")}}
	service := NewGoogleVisionServiceWithClient(client, fastOptions())

	_, err := service.ExtractText(context.Background(), []byte("image-bytes"))
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("error = %v, want ErrAuthFailed", err)
	}
	if client.calls != 1 {
		t.Errorf("provider calls = %d, want 1 (no retry on auth failure)", client.calls)
	}
}

func TestExtractTextNonRetriableErrorFailsFast(t *testing.T) {
	client := &fakeAnnotateClient{errs: []error{errors.New("invalid argument")}}
	service := NewGoogleVisionServiceWithClient(client, fastOptions())

	_, err := service.ExtractText(context.Background(), []byte("image-bytes"))
	if !errors.Is(err, ErrOCRFailed) {
		t.Errorf("error = %v, want ErrOCRFailed", err)
	}
	if client.calls != 1 {
		t.Errorf("provider calls = %d, want 1", client.calls)
	}
}

func TestExtractTextValidatesInput(t *testing.T) {
	service := NewGoogleVisionServiceWithClient(&fakeAnnotateClient{}, fastOptions())

	if _, err := service.ExtractText(context.Background(), nil); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("empty input error = %v, want ErrInvalidImage", err)
	}

	huge := make([]byte, MaxImageSizeBytes+1)
	if _, err := service.ExtractText(context.Background(), huge); !errors.Is(err, ErrImageTooLarge) {
		t.Errorf("oversized input error = %v, want ErrImageTooLarge", err)
	}
}

func TestExtractTextRejectsEmptyProviderResponse(t *testing.T) {
	resp := &visionpb.BatchAnnotateImagesResponse{}
	client := &fakeAnnotateClient{responses: []*visionpb.BatchAnnotateImagesResponse{resp}}
	service := NewGoogleVisionServiceWithClient(client, fastOptions())

	_, err := service.ExtractText(context.Background(), []byte("image-bytes"))
	if err == nil {
		t.Fatal("expected an error for an empty provider response")
	}
}
