package httpadapter

import (
	"net/http"
	"time"

	"github.com/Houmeecl/xpres-sub000/internal/domain"
	"github.com/Houmeecl/xpres-sub000/internal/ports"
)

type initiateBody struct {
	DocumentID int64                `json:"documentId"`
	Type       domain.SignatureType `json:"type"`
	Provider   domain.Provider      `json:"provider,omitempty"`
	ReturnURL  string               `json:"returnUrl,omitempty"`
}

type resultView struct {
	Success          bool                     `json:"success"`
	SignatureID      string                   `json:"signatureId,omitempty"`
	Provider         domain.Provider          `json:"provider,omitempty"`
	Status           domain.SignatureStatus   `json:"status,omitempty"`
	RedirectURL      string                   `json:"redirectUrl,omitempty"`
	VerificationCode string                   `json:"verificationCode,omitempty"`
	Details          *domain.SignatureDetails `json:"details,omitempty"`
	Error            string                   `json:"error,omitempty"`
	Reason           string                   `json:"reason,omitempty"`
}

func (s *Server) writeResult(w http.ResponseWriter, okStatus int, res ports.SignatureResult) {
	view := resultView{
		Success:          res.Success,
		SignatureID:      res.SignatureID,
		Provider:         res.Provider,
		Status:           res.Status,
		RedirectURL:      res.RedirectURL,
		VerificationCode: res.VerificationCode,
	}
	if res.Success {
		details := res.Details.Public()
		view.Details = &details
		writeJSON(w, okStatus, view)
		return
	}
	status := statusFor(res.Err)
	view.Error = res.Err.Error()
	if status == http.StatusInternalServerError {
		view.Error = "internal error"
	}
	view.Reason = domain.Reason(res.Err)
	writeJSON(w, status, view)
}

func (s *Server) postSignature(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		badRequest(w, "missing or invalid X-User-ID")
		return
	}
	var body initiateBody
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, "invalid body: "+err.Error())
		return
	}
	res := s.signatures.Initiate(r.Context(), ports.InitiateRequest{
		DocumentID: body.DocumentID,
		UserID:     userID,
		Type:       body.Type,
		Provider:   body.Provider,
		ReturnURL:  body.ReturnURL,
		Request:    requestContext(r),
	})
	s.writeResult(w, http.StatusCreated, res)
}

func (s *Server) getSignatureStatus(w http.ResponseWriter, r *http.Request) {
	var id string
	if err := pathParam(r, "id", &id); err != nil {
		badRequest(w, err.Error())
		return
	}
	status, err := s.signatures.CheckStatus(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signatureId": id, "status": status})
}

func (s *Server) getSignatureDetails(w http.ResponseWriter, r *http.Request) {
	var id string
	if err := pathParam(r, "id", &id); err != nil {
		badRequest(w, err.Error())
		return
	}
	details, err := s.signatures.GetDetails(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details.Public())
}

type etokenBody struct {
	Certificate string `json:"certificate"`
	Timestamp   string `json:"timestamp"`
	Signature   string `json:"signature"`
}

func (s *Server) postCompleteEToken(w http.ResponseWriter, r *http.Request) {
	var id string
	if err := pathParam(r, "id", &id); err != nil {
		badRequest(w, err.Error())
		return
	}
	var body etokenBody
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, "invalid body: "+err.Error())
		return
	}
	res := s.signatures.CompleteEToken(r.Context(), id, ports.ETokenProof{
		Certificate: body.Certificate,
		Timestamp:   body.Timestamp,
		Signature:   body.Signature,
	}, requestContext(r))
	s.writeResult(w, http.StatusOK, res)
}

type simpleBody struct {
	SignatureImage string `json:"signatureImage"`
}

func (s *Server) postCompleteSimple(w http.ResponseWriter, r *http.Request) {
	var id string
	if err := pathParam(r, "id", &id); err != nil {
		badRequest(w, err.Error())
		return
	}
	var body simpleBody
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, "invalid body: "+err.Error())
		return
	}
	s.writeResult(w, http.StatusOK, s.signatures.CompleteSimple(r.Context(), id, body.SignatureImage, requestContext(r)))
}

type documentView struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func viewDocument(d domain.Document) documentView {
	return documentView{ID: d.ID, Title: d.Title, Status: d.Status, CreatedAt: d.CreatedAt}
}

type verificationView struct {
	IsValid     bool                   `json:"isValid"`
	SignatureID string                 `json:"signatureId"`
	Provider    domain.Provider        `json:"provider"`
	Type        domain.SignatureType   `json:"type"`
	Status      domain.SignatureStatus `json:"status"`
	SignedAt    *time.Time             `json:"signedAt,omitempty"`
	Document    documentView           `json:"document"`
	Signer      struct {
		ID       int64  `json:"id"`
		FullName string `json:"fullName"`
	} `json:"signer"`
}

func (s *Server) getVerifySignature(w http.ResponseWriter, r *http.Request) {
	var code string
	if err := pathParam(r, "code", &code); err != nil {
		badRequest(w, err.Error())
		return
	}
	v, err := s.signatures.VerifySignature(r.Context(), code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view := verificationView{
		IsValid:     v.IsValid,
		SignatureID: v.Signature.ID,
		Provider:    v.Signature.Provider,
		Type:        v.Signature.Type,
		Status:      v.Signature.Status,
		SignedAt:    v.Signature.Details.CompletedAt,
		Document:    viewDocument(v.Document),
	}
	view.Signer.ID = v.Signer.ID
	view.Signer.FullName = v.Signer.FullName
	writeJSON(w, http.StatusOK, view)
}
