package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/Houmeecl/xpres-sub000/internal/domain"
)

// maxImageBytes bounds a decoded signature image.
const maxImageBytes = 2 << 20

var imagePrefixes = []string{"data:image/png;base64,", "data:image/jpeg;base64,"}

// Simple is the image-signature provider: the signer draws a signature and
// the image is stored with the signature.
type Simple struct {
	now func() time.Time
}

func NewSimple() *Simple { return &Simple{now: time.Now} }

func (s *Simple) Name() domain.Provider { return domain.ProviderSimple }

func (s *Simple) Configured() bool { return true }

func (s *Simple) Initiate(_ context.Context, in InitiateInput) (Initiation, error) {
	if err := requireContent(in.Document); err != nil {
		return Initiation{}, err
	}
	return Initiation{
		Status: domain.StatusInProgress,
		Details: domain.SignatureDetails{
			Version:     domain.DetailsVersion,
			SignerEmail: in.Signer.Email,
			SignerName:  in.Signer.FullName,
		},
	}, nil
}

func (s *Simple) CheckStatus(_ context.Context, sig domain.Signature) (StatusReport, error) {
	return StatusReport{Status: sig.Status}, nil
}

func (s *Simple) GetDetails(_ context.Context, sig domain.Signature) (domain.SignatureDetails, error) {
	return sig.Details, nil
}

func (s *Simple) CompleteSimple(_ context.Context, sig domain.Signature, imageData string) (StatusReport, error) {
	if sig.Status.Terminal() {
		return StatusReport{}, fmt.Errorf("%w: signature is %s", domain.ErrInvalidState, sig.Status)
	}
	if err := validateImage(imageData); err != nil {
		return StatusReport{}, err
	}
	completed := s.now()
	return StatusReport{
		Status: domain.StatusCompleted,
		Details: domain.SignatureDetails{
			Version:        domain.DetailsVersion,
			SignatureImage: imageData,
			CompletedAt:    &completed,
		},
	}, nil
}

func validateImage(data string) error {
	for _, prefix := range imagePrefixes {
		if !strings.HasPrefix(data, prefix) {
			continue
		}
		payload := data[len(prefix):]
		if base64.StdEncoding.DecodedLen(len(payload)) > maxImageBytes {
			return fmt.Errorf("%w: image too large", domain.ErrInvalidProof)
		}
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil || len(raw) == 0 {
			return fmt.Errorf("%w: image is not valid base64", domain.ErrInvalidProof)
		}
		return nil
	}
	return fmt.Errorf("%w: expected a png or jpeg data URL", domain.ErrInvalidProof)
}
