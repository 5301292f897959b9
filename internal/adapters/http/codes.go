package httpadapter

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Houmeecl/xpres-sub000/internal/domain"
	"github.com/Houmeecl/xpres-sub000/internal/ports"
	"github.com/Houmeecl/xpres-sub000/internal/qr"
)

type issueBody struct {
	Type        domain.CodeType   `json:"type"`
	DocumentID  int64             `json:"documentId"`
	SignatureID string            `json:"signatureId,omitempty"`
	UserID      int64             `json:"userId,omitempty"`
	TTLSeconds  int64             `json:"ttlSeconds,omitempty"`
	Size        int               `json:"size,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}

type issuedView struct {
	CodeID    string          `json:"codeId"`
	Code      string          `json:"code"`
	URL       string          `json:"url"`
	QRCode    string          `json:"qrCode"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Type      domain.CodeType `json:"type"`
}

type codeView struct {
	ID          string            `json:"id"`
	DocumentID  int64             `json:"documentId"`
	SignatureID *string           `json:"signatureId,omitempty"`
	UserID      *int64            `json:"userId,omitempty"`
	Type        domain.CodeType   `json:"type"`
	Code        string            `json:"code"`
	Status      domain.CodeStatus `json:"status"`
	ExpiresAt   time.Time         `json:"expiresAt"`
	CreatedAt   time.Time         `json:"createdAt"`
	Details     map[string]string `json:"details,omitempty"`
}

func viewCode(c domain.VerificationCode) codeView {
	return codeView{
		ID:          c.ID,
		DocumentID:  c.DocumentID,
		SignatureID: c.SignatureID,
		UserID:      c.UserID,
		Type:        c.CodeType,
		Code:        c.VerificationCode,
		Status:      c.Status,
		ExpiresAt:   c.ExpiresAt,
		CreatedAt:   c.CreatedAt,
		Details:     c.Details,
	}
}

func (s *Server) postCode(w http.ResponseWriter, r *http.Request) {
	var body issueBody
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, "invalid body: "+err.Error())
		return
	}
	userID := body.UserID
	if userID == 0 && body.Type == domain.CodeMobileSigning {
		userID, _ = callerID(r)
	}
	issued, err := s.codes.Issue(r.Context(), ports.IssueRequest{
		Type:        body.Type,
		DocumentID:  body.DocumentID,
		SignatureID: body.SignatureID,
		UserID:      userID,
		TTL:         time.Duration(body.TTLSeconds) * time.Second,
		Size:        body.Size,
		Details:     body.Details,
		Request:     requestContext(r),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, issuedView{
		CodeID:    issued.CodeID,
		Code:      issued.Code,
		URL:       issued.URL,
		QRCode:    qr.DataURL(issued.Image),
		ExpiresAt: issued.ExpiresAt,
		Type:      issued.Type,
	})
}

func (s *Server) getCode(w http.ResponseWriter, r *http.Request) {
	var id string
	if err := pathParam(r, "id", &id); err != nil {
		badRequest(w, err.Error())
		return
	}
	c, err := s.codes.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewCode(c))
}

func (s *Server) postRevokeCode(w http.ResponseWriter, r *http.Request) {
	var id string
	if err := pathParam(r, "id", &id); err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.codes.Revoke(r.Context(), id, requestContext(r)); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": domain.CodeRevoked})
}

func (s *Server) getDocumentCodes(w http.ResponseWriter, r *http.Request) {
	var id int64
	if err := pathParam(r, "id", &id); err != nil {
		badRequest(w, err.Error())
		return
	}
	list, err := s.codes.ListForDocument(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]codeView, 0, len(list))
	for _, c := range list {
		out = append(out, viewCode(c))
	}
	writeJSON(w, http.StatusOK, out)
}

type redemptionView struct {
	IsValid     bool              `json:"isValid"`
	CodeType    domain.CodeType   `json:"codeType,omitempty"`
	DocumentID  int64             `json:"documentId,omitempty"`
	SignatureID string            `json:"signatureId,omitempty"`
	Document    *documentView     `json:"document,omitempty"`
	Signature   *signatureSummary `json:"signature,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Error       string            `json:"error,omitempty"`
}

type signatureSummary struct {
	Provider domain.Provider        `json:"provider"`
	Type     domain.SignatureType   `json:"type"`
	Status   domain.SignatureStatus `json:"status"`
}

// redemptionStatus maps a rejected redemption onto an HTTP status.
func redemptionStatus(red ports.Redemption) int {
	switch red.Reason {
	case "":
		return http.StatusOK
	case "not_found":
		return http.StatusNotFound
	case "used", "expired", "revoked":
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

func (s *Server) writeRedemption(w http.ResponseWriter, red ports.Redemption) {
	view := redemptionView{
		IsValid:     red.IsValid,
		CodeType:    red.CodeType,
		DocumentID:  red.DocumentID,
		SignatureID: red.SignatureID,
		Details:     red.Details,
		Reason:      red.Reason,
		Error:       red.Error,
	}
	if red.Document != nil {
		d := viewDocument(*red.Document)
		view.Document = &d
	}
	if red.Signature != nil {
		view.Signature = &signatureSummary{Provider: red.Signature.Provider, Type: red.Signature.Type, Status: red.Signature.Status}
	}
	writeJSON(w, redemptionStatus(red), view)
}

// publicTypes are the codes /verificar resolves. Mobile signing codes are
// single use and only redeem at /sign-mobile.
var publicTypes = []domain.CodeType{domain.CodeDocumentVerification, domain.CodeSignatureVerification, domain.CodeAccessLink}

func (s *Server) getRedeem(w http.ResponseWriter, r *http.Request) {
	s.writeRedemption(w, s.codes.RedeemAs(r.Context(), chi.URLParam(r, "code"), publicTypes, requestContext(r)))
}

func (s *Server) getRedeemMobile(w http.ResponseWriter, r *http.Request) {
	red := s.codes.RedeemAs(r.Context(), chi.URLParam(r, "code"), []domain.CodeType{domain.CodeMobileSigning}, requestContext(r))
	s.writeRedemption(w, red)
}
