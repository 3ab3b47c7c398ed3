package labeler

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/roach88/labelcache/internal/model"
)

// RekognitionAPI is the subset of the Rekognition client used here.
type RekognitionAPI interface {
	DetectLabels(ctx context.Context, in *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
}

// RekognitionLabeler detects labels on S3 objects with Amazon Rekognition.
type RekognitionLabeler struct {
	client RekognitionAPI
}

// NewRekognitionLabeler creates a labeler.
func NewRekognitionLabeler(client RekognitionAPI) *RekognitionLabeler {
	return &RekognitionLabeler{client: client}
}

// DetectLabels calls DetectLabels with the object referenced in place.
func (r *RekognitionLabeler) DetectLabels(ctx context.Context, loc model.Locator, maxLabels int) ([]model.Label, error) {
	const op = "rekognition.detect_labels"

	out, err := r.client.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image: &types.Image{
			S3Object: &types.S3Object{
				Bucket: aws.String(loc.Bucket),
				Name:   aws.String(loc.Key),
			},
		},
		MaxLabels: aws.Int32(int32(maxLabels)),
	})
	if err != nil {
		return nil, classifyRekognitionError(op, loc, err)
	}

	labels := make([]model.Label, 0, len(out.Labels))
	for _, l := range out.Labels {
		labels = append(labels, model.Label{
			Name:       aws.ToString(l.Name),
			Confidence: float64(aws.ToFloat32(l.Confidence)),
		})
	}
	return labels, nil
}

func classifyRekognitionError(op string, loc model.Locator, err error) error {
	var (
		badFormat *types.InvalidImageFormatException
		tooLarge  *types.ImageTooLargeException
		badObject *types.InvalidS3ObjectException
	)
	switch {
	case errors.As(err, &badFormat), errors.As(err, &tooLarge):
		return model.Malformed(op, loc, err)
	case errors.As(err, &badObject):
		return model.NotFound(op, loc, err)
	default:
		return model.Classify(op, fmt.Errorf("object %s: %w", loc, err))
	}
}
