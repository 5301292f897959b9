package domain

import "time"

// DetailsVersion is the current layout of SignatureDetails.
const DetailsVersion = 1

// SignatureDetails holds provider artifacts for a signature. Each provider
// writes only its own fields; storage merges updates so earlier values survive.
type SignatureDetails struct {
	Version int `json:"v"`

	// remote envelopes
	SigningURL   string     `json:"signingUrl,omitempty"`
	RemoteStatus string     `json:"remoteStatus,omitempty"`
	SentAt       *time.Time `json:"sentAt,omitempty"`

	// local certificate
	Challenge           string     `json:"challenge,omitempty"`
	HashAlgorithm       string     `json:"hashAlgorithm,omitempty"`
	Certificate         string     `json:"certificate,omitempty"`
	CertificateSubject  string     `json:"certificateSubject,omitempty"`
	CertificateSerial   string     `json:"certificateSerial,omitempty"`
	CertificateNotAfter *time.Time `json:"certificateNotAfter,omitempty"`
	Timestamp           string     `json:"timestamp,omitempty"`
	SignatureValue      string     `json:"signature,omitempty"`

	// simple image
	SignatureImage string `json:"signatureImage,omitempty"`

	SignerEmail string     `json:"signerEmail,omitempty"`
	SignerName  string     `json:"signerName,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	LastChecked *time.Time `json:"lastChecked,omitempty"`
	Error       string     `json:"error,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

// Merge returns d overlaid with every non-zero field of update. Keys present
// in d are never dropped.
func (d SignatureDetails) Merge(update SignatureDetails) SignatureDetails {
	out := d
	if update.Version > out.Version {
		out.Version = update.Version
	}
	if out.Version == 0 {
		out.Version = DetailsVersion
	}
	str(&out.SigningURL, update.SigningURL)
	str(&out.RemoteStatus, update.RemoteStatus)
	tm(&out.SentAt, update.SentAt)
	str(&out.Challenge, update.Challenge)
	str(&out.HashAlgorithm, update.HashAlgorithm)
	str(&out.Certificate, update.Certificate)
	str(&out.CertificateSubject, update.CertificateSubject)
	str(&out.CertificateSerial, update.CertificateSerial)
	tm(&out.CertificateNotAfter, update.CertificateNotAfter)
	str(&out.Timestamp, update.Timestamp)
	str(&out.SignatureValue, update.SignatureValue)
	str(&out.SignatureImage, update.SignatureImage)
	str(&out.SignerEmail, update.SignerEmail)
	str(&out.SignerName, update.SignerName)
	tm(&out.CompletedAt, update.CompletedAt)
	tm(&out.LastChecked, update.LastChecked)
	str(&out.Error, update.Error)

	if len(d.Extra) > 0 || len(update.Extra) > 0 {
		out.Extra = make(map[string]string, len(d.Extra)+len(update.Extra))
		for k, v := range d.Extra {
			out.Extra[k] = v
		}
		for k, v := range update.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Public strips the large binary artifacts so the bag can be shown to
// third parties.
func (d SignatureDetails) Public() SignatureDetails {
	out := d
	out.Certificate = ""
	out.SignatureValue = ""
	out.SignatureImage = ""
	out.Challenge = ""
	out.SigningURL = ""
	return out
}

func str(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func tm(dst **time.Time, v *time.Time) {
	if v != nil {
		t := *v
		*dst = &t
	}
}
