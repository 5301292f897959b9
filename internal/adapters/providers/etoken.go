package providers

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Houmeecl/xpres-sub000/internal/domain"
	"github.com/Houmeecl/xpres-sub000/internal/ports"
)

// EToken is the local-certificate provider. The signer's hardware token signs
// a challenge derived from the document; the resulting artifacts are stored
// as presented.
type EToken struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewEToken(logger *zap.Logger) *EToken {
	return &EToken{
		logger: logger.With(zap.String("provider", string(domain.ProviderEToken))),
		now:    time.Now,
	}
}

func (e *EToken) Name() domain.Provider { return domain.ProviderEToken }

func (e *EToken) Configured() bool { return true }

func (e *EToken) Initiate(_ context.Context, in InitiateInput) (Initiation, error) {
	if err := requireContent(in.Document); err != nil {
		return Initiation{}, err
	}
	sum := sha256.Sum256([]byte(in.Document.Content))
	return Initiation{
		Status: domain.StatusPending,
		Details: domain.SignatureDetails{
			Version:       domain.DetailsVersion,
			Challenge:     hex.EncodeToString(sum[:]),
			HashAlgorithm: "SHA-256",
			SignerEmail:   in.Signer.Email,
			SignerName:    in.Signer.FullName,
		},
	}, nil
}

// CheckStatus reads back the persisted status; nothing happens remotely.
func (e *EToken) CheckStatus(_ context.Context, sig domain.Signature) (StatusReport, error) {
	return StatusReport{Status: sig.Status}, nil
}

func (e *EToken) GetDetails(_ context.Context, sig domain.Signature) (domain.SignatureDetails, error) {
	return sig.Details, nil
}

func (e *EToken) CompleteEToken(_ context.Context, sig domain.Signature, proof ports.ETokenProof) (StatusReport, error) {
	if sig.Status.Terminal() {
		return StatusReport{}, fmt.Errorf("%w: signature is %s", domain.ErrInvalidState, sig.Status)
	}
	proof.Certificate = strings.TrimSpace(proof.Certificate)
	proof.Timestamp = strings.TrimSpace(proof.Timestamp)
	proof.Signature = strings.TrimSpace(proof.Signature)
	switch {
	case proof.Certificate == "":
		return StatusReport{}, fmt.Errorf("%w: certificate missing", domain.ErrInvalidProof)
	case proof.Timestamp == "":
		return StatusReport{}, fmt.Errorf("%w: timestamp missing", domain.ErrInvalidProof)
	case proof.Signature == "":
		return StatusReport{}, fmt.Errorf("%w: signature missing", domain.ErrInvalidProof)
	}

	completed := e.now()
	det := domain.SignatureDetails{
		Version:        domain.DetailsVersion,
		Certificate:    proof.Certificate,
		Timestamp:      proof.Timestamp,
		SignatureValue: proof.Signature,
		CompletedAt:    &completed,
	}
	if cert, ok := parseCertificate(proof.Certificate); ok {
		notAfter := cert.NotAfter.UTC()
		det.CertificateSubject = cert.Subject.String()
		det.CertificateSerial = cert.SerialNumber.Text(16)
		det.CertificateNotAfter = &notAfter
		if completed.After(notAfter) {
			e.logger.Warn("certificate expired at signing time",
				zap.String("signature_id", sig.ID), zap.Time("not_after", notAfter))
		}
	}
	return StatusReport{Status: domain.StatusCompleted, Details: det}, nil
}

// parseCertificate accepts a PEM block or bare base64 DER. Anything else is
// stored opaquely.
func parseCertificate(raw string) (*x509.Certificate, bool) {
	der := []byte(nil)
	if block, _ := pem.Decode([]byte(raw)); block != nil {
		der = block.Bytes
	} else if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		der = b
	}
	if der == nil {
		return nil, false
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, false
	}
	return cert, true
}
