package codes_test

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Houmeecl/xpres-sub000/internal/adapters/memory"
	"github.com/Houmeecl/xpres-sub000/internal/config"
	"github.com/Houmeecl/xpres-sub000/internal/domain"
	"github.com/Houmeecl/xpres-sub000/internal/ports"
	"github.com/Houmeecl/xpres-sub000/internal/services/audit"
	"github.com/Houmeecl/xpres-sub000/internal/services/codes"
)

var codePattern = regexp.MustCompile(`^[0-9A-F]{8}$`)

type fixture struct {
	store *memory.Store
	audit *audit.Service
	svc   *codes.Service
	now   time.Time
}

func (f *fixture) clock() time.Time { return f.now }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.store.WithClock(f.clock)
	f.store.PutDocument(domain.Document{ID: 42, Title: "Contrato de arriendo", Content: "texto", Status: "signed"})
	f.store.PutUser(domain.User{ID: 7, Email: "ana@example.cl", FullName: "Ana Rojas"})
	f.audit = audit.New(f.store, t.TempDir(), zap.NewNop(), nil).WithClock(f.clock)
	f.svc = codes.New(f.store, f.store, f.store, f.audit, codes.Options{
		PublicBaseURL: "https://firmas.example.cl/",
		TTLs: config.CodeTTLs{
			Document:  365 * 24 * time.Hour,
			Signature: 365 * 24 * time.Hour,
			Mobile:    24 * time.Hour,
			Access:    30 * 24 * time.Hour,
		},
		QRSize: 128,
	}, zap.NewNop(), nil).WithClock(f.clock)
	return f
}

func (f *fixture) addSignature(t *testing.T, id string, status domain.SignatureStatus) {
	t.Helper()
	require.NoError(t, f.store.CreateSignature(context.Background(), domain.Signature{
		ID: id, DocumentID: 42, UserID: 7, Provider: domain.ProviderSimple, Type: domain.SignatureSimple,
		Status: status, VerificationCode: codes.GenerateCode(f.now),
	}))
}

func TestGenerateCode_Format(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		c := codes.GenerateCode(time.Now())
		assert.Len(t, c, 8)
		assert.Regexp(t, codePattern, c)
		seen[c] = true
	}
	assert.Greater(t, len(seen), 490)
}

func TestIssue_AllTypes(t *testing.T) {
	f := newFixture(t)
	f.addSignature(t, "sig-1", domain.StatusCompleted)
	ctx := context.Background()

	cases := []struct {
		req     ports.IssueRequest
		ttl     time.Duration
		urlPath string
	}{
		{ports.IssueRequest{Type: domain.CodeDocumentVerification, DocumentID: 42}, 365 * 24 * time.Hour, "/verificar/"},
		{ports.IssueRequest{Type: domain.CodeSignatureVerification, SignatureID: "sig-1"}, 365 * 24 * time.Hour, "/verificar/"},
		{ports.IssueRequest{Type: domain.CodeMobileSigning, DocumentID: 42, UserID: 7}, 24 * time.Hour, "/sign-mobile/"},
		{ports.IssueRequest{Type: domain.CodeAccessLink, DocumentID: 42}, 30 * 24 * time.Hour, "/verificar/"},
	}
	for _, tc := range cases {
		t.Run(string(tc.req.Type), func(t *testing.T) {
			out, err := f.svc.Issue(ctx, tc.req)
			require.NoError(t, err)
			assert.Regexp(t, codePattern, out.Code)
			assert.Equal(t, "https://firmas.example.cl"+tc.urlPath+out.Code, out.URL)
			assert.Equal(t, f.now.Add(tc.ttl), out.ExpiresAt)
			assert.NotEmpty(t, out.Image)

			rec, err := f.svc.Get(ctx, out.CodeID)
			require.NoError(t, err)
			assert.Equal(t, domain.CodeActive, rec.Status)
			assert.Equal(t, int64(42), rec.DocumentID)
		})
	}
}

func TestIssue_Validation(t *testing.T) {
	f := newFixture(t)
	f.addSignature(t, "sig-err", domain.StatusError)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, ports.IssueRequest{Type: "coupon", DocumentID: 42})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.Issue(ctx, ports.IssueRequest{Type: domain.CodeDocumentVerification, DocumentID: 999})
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	_, err = f.svc.Issue(ctx, ports.IssueRequest{Type: domain.CodeMobileSigning, DocumentID: 42})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.Issue(ctx, ports.IssueRequest{Type: domain.CodeMobileSigning, DocumentID: 42, UserID: 8})
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = f.svc.Issue(ctx, ports.IssueRequest{Type: domain.CodeSignatureVerification, SignatureID: "nope"})
	assert.ErrorIs(t, err, domain.ErrSignatureNotFound)

	_, err = f.svc.Issue(ctx, ports.IssueRequest{Type: domain.CodeSignatureVerification, SignatureID: "sig-err"})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestIssue_ChecksSignatureOnOtherTypes(t *testing.T) {
	f := newFixture(t)
	f.store.PutDocument(domain.Document{ID: 43, Title: "Otro", Content: "x"})
	f.addSignature(t, "sig-42", domain.StatusInProgress)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, ports.IssueRequest{Type: domain.CodeMobileSigning, DocumentID: 42, UserID: 7, SignatureID: "bogus"})
	assert.ErrorIs(t, err, domain.ErrSignatureNotFound)

	_, err = f.svc.Issue(ctx, ports.IssueRequest{Type: domain.CodeAccessLink, DocumentID: 43, SignatureID: "sig-42"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	out, err := f.svc.Issue(ctx, ports.IssueRequest{Type: domain.CodeMobileSigning, DocumentID: 42, UserID: 7, SignatureID: "sig-42"})
	require.NoError(t, err)
	rec, err := f.svc.Get(ctx, out.CodeID)
	require.NoError(t, err)
	require.NotNil(t, rec.SignatureID)
	assert.Equal(t, "sig-42", *rec.SignatureID)
}

func TestIssue_CustomTTL(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.Issue(context.Background(), ports.IssueRequest{Type: domain.CodeDocumentVerification, DocumentID: 42, TTL: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(time.Hour), out.ExpiresAt)
}

// collidingRepo reports a duplicate code for the first n inserts.
type collidingRepo struct {
	ports.CodeRepository
	n     int
	calls int
}

func (r *collidingRepo) CreateCode(ctx context.Context, c domain.VerificationCode) error {
	r.calls++
	if r.calls <= r.n {
		return domain.ErrDuplicateCode
	}
	return r.CodeRepository.CreateCode(ctx, c)
}

func TestIssue_RegeneratesOnCollision(t *testing.T) {
	f := newFixture(t)
	repo := &collidingRepo{CodeRepository: f.store, n: 2}
	svc := codes.New(repo, f.store, f.store, f.audit, codes.Options{PublicBaseURL: "https://x.cl"}, zap.NewNop(), nil)

	_, err := svc.Issue(context.Background(), ports.IssueRequest{Type: domain.CodeDocumentVerification, DocumentID: 42})
	require.NoError(t, err)
	assert.Equal(t, 3, repo.calls)

	repo = &collidingRepo{CodeRepository: f.store, n: 100}
	svc = codes.New(repo, f.store, f.store, f.audit, codes.Options{PublicBaseURL: "https://x.cl"}, zap.NewNop(), nil)
	_, err = svc.Issue(context.Background(), ports.IssueRequest{Type: domain.CodeDocumentVerification, DocumentID: 42})
	assert.ErrorIs(t, err, domain.ErrDuplicateCode)
	assert.Equal(t, 5, repo.calls)
}

func TestRedeem_EveryTypeWhileActive(t *testing.T) {
	f := newFixture(t)
	f.addSignature(t, "sig-1", domain.StatusCompleted)
	ctx := context.Background()

	for _, req := range []ports.IssueRequest{
		{Type: domain.CodeDocumentVerification, DocumentID: 42},
		{Type: domain.CodeSignatureVerification, SignatureID: "sig-1"},
		{Type: domain.CodeMobileSigning, DocumentID: 42, UserID: 7},
		{Type: domain.CodeAccessLink, DocumentID: 42},
	} {
		out, err := f.svc.Issue(ctx, req)
		require.NoError(t, err)
		r := f.svc.Redeem(ctx, out.Code, nil)
		assert.True(t, r.IsValid, "type %s", req.Type)
		assert.Equal(t, req.Type, r.CodeType)
		assert.Equal(t, int64(42), r.DocumentID)
		require.NotNil(t, r.Document)
		assert.Equal(t, "Contrato de arriendo", r.Document.Title)
		assert.Empty(t, r.Document.Content)
	}
}

func TestRedeem_SignatureCodeCarriesSummary(t *testing.T) {
	f := newFixture(t)
	f.addSignature(t, "sig-1", domain.StatusCompleted)
	out, err := f.svc.Issue(context.Background(), ports.IssueRequest{Type: domain.CodeSignatureVerification, SignatureID: "sig-1"})
	require.NoError(t, err)

	r := f.svc.Redeem(context.Background(), out.Code, nil)
	require.True(t, r.IsValid)
	assert.Equal(t, "sig-1", r.SignatureID)
	require.NotNil(t, r.Signature)
	assert.Equal(t, domain.StatusCompleted, r.Signature.Status)
	assert.Equal(t, domain.ProviderSimple, r.Signature.Provider)
}

func TestRedeem_MobileSigningIsSingleUse(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.Issue(context.Background(), ports.IssueRequest{Type: domain.CodeMobileSigning, DocumentID: 42, UserID: 7, TTL: 24 * time.Hour})
	require.NoError(t, err)

	first := f.svc.Redeem(context.Background(), out.Code, nil)
	assert.True(t, first.IsValid)
	assert.Equal(t, domain.CodeMobileSigning, first.CodeType)

	second := f.svc.Redeem(context.Background(), out.Code, nil)
	assert.False(t, second.IsValid)
	assert.Equal(t, "used", second.Reason)
	assert.Equal(t, "code already used", second.Error)
}

func TestRedeemAs_OtherTypeIsNotConsumed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out, err := f.svc.Issue(ctx, ports.IssueRequest{Type: domain.CodeMobileSigning, DocumentID: 42, UserID: 7})
	require.NoError(t, err)

	verifyTypes := []domain.CodeType{domain.CodeDocumentVerification, domain.CodeSignatureVerification, domain.CodeAccessLink}
	red := f.svc.RedeemAs(ctx, out.Code, verifyTypes, nil)
	assert.False(t, red.IsValid)
	assert.Equal(t, "not_found", red.Reason)
	assert.Empty(t, red.CodeType)

	rec, err := f.svc.Get(ctx, out.CodeID)
	require.NoError(t, err)
	assert.Equal(t, domain.CodeActive, rec.Status)

	red = f.svc.RedeemAs(ctx, out.Code, []domain.CodeType{domain.CodeMobileSigning}, nil)
	assert.True(t, red.IsValid)
	rec, err = f.svc.Get(ctx, out.CodeID)
	require.NoError(t, err)
	assert.Equal(t, domain.CodeUsed, rec.Status)
}

func TestRedeem_ConcurrentMobileHasOneWinner(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.Issue(context.Background(), ports.IssueRequest{Type: domain.CodeMobileSigning, DocumentID: 42, UserID: 7})
	require.NoError(t, err)

	const n = 16
	results := make([]ports.Redemption, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.svc.Redeem(context.Background(), out.Code, nil)
		}(i)
	}
	wg.Wait()

	valid := 0
	for _, r := range results {
		if r.IsValid {
			valid++
		} else {
			assert.Equal(t, "used", r.Reason)
		}
	}
	assert.Equal(t, 1, valid)
}

func TestRedeem_DocumentCodeIsReusable(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.Issue(context.Background(), ports.IssueRequest{Type: domain.CodeDocumentVerification, DocumentID: 42})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		r := f.svc.Redeem(context.Background(), out.Code, nil)
		assert.True(t, r.IsValid)
		rec, err := f.svc.Get(context.Background(), out.CodeID)
		require.NoError(t, err)
		assert.Equal(t, domain.CodeActive, rec.Status)
	}
}

func TestRedeem_ExpiryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.Issue(context.Background(), ports.IssueRequest{Type: domain.CodeDocumentVerification, DocumentID: 42, TTL: time.Hour})
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	r := f.svc.Redeem(context.Background(), out.Code, nil)
	assert.False(t, r.IsValid)
	assert.Equal(t, "expired", r.Reason)

	rec, err := f.svc.Get(context.Background(), out.CodeID)
	require.NoError(t, err)
	assert.Equal(t, domain.CodeExpired, rec.Status)

	r = f.svc.Redeem(context.Background(), out.Code, nil)
	assert.False(t, r.IsValid)
	assert.Equal(t, "expired", r.Reason)
}

func TestRedeem_UnknownAndMalformed(t *testing.T) {
	f := newFixture(t)
	for _, c := range []string{"ABCDEF01", "", "xyz", "ABCDEF0123"} {
		r := f.svc.Redeem(context.Background(), c, nil)
		assert.False(t, r.IsValid)
		assert.Equal(t, "not_found", r.Reason)
	}
}

func TestRedeem_NormalizesInput(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.Issue(context.Background(), ports.IssueRequest{Type: domain.CodeAccessLink, DocumentID: 42})
	require.NoError(t, err)

	r := f.svc.Redeem(context.Background(), " "+strings.ToLower(out.Code)+"\n", nil)
	assert.True(t, r.IsValid)
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out, err := f.svc.Issue(ctx, ports.IssueRequest{Type: domain.CodeDocumentVerification, DocumentID: 42})
	require.NoError(t, err)

	require.NoError(t, f.svc.Revoke(ctx, out.CodeID, nil))
	r := f.svc.Redeem(ctx, out.Code, nil)
	assert.False(t, r.IsValid)
	assert.Equal(t, "revoked", r.Reason)

	assert.ErrorIs(t, f.svc.Revoke(ctx, out.CodeID, nil), domain.ErrRevoked)
	assert.ErrorIs(t, f.svc.Revoke(ctx, "missing", nil), domain.ErrCodeNotFound)
}

func TestRedeem_WritesAuditEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out, err := f.svc.Issue(ctx, ports.IssueRequest{Type: domain.CodeMobileSigning, DocumentID: 42, UserID: 7})
	require.NoError(t, err)
	f.svc.Redeem(ctx, out.Code, &ports.RequestContext{IPAddress: "10.1.1.1"})
	f.svc.Redeem(ctx, out.Code, nil)

	issued := f.audit.SearchLogs(ctx, ports.AuditFilter{ActionType: domain.ActionCodeIssued})
	redeemed := f.audit.SearchLogs(ctx, ports.AuditFilter{ActionType: domain.ActionCodeRedeemed})
	rejected := f.audit.SearchLogs(ctx, ports.AuditFilter{ActionType: domain.ActionCodeRejected})
	assert.Len(t, issued, 1)
	require.Len(t, redeemed, 1)
	require.Len(t, rejected, 1)
	assert.Equal(t, "10.1.1.1", redeemed[0].IPAddress)
	assert.Equal(t, "used", rejected[0].Details["outcome"])
	assert.Equal(t, domain.SeverityWarning, rejected[0].Severity)
}

func TestListForDocumentAndSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, ports.IssueRequest{Type: domain.CodeDocumentVerification, DocumentID: 42, TTL: time.Hour})
	require.NoError(t, err)
	_, err = f.svc.Issue(ctx, ports.IssueRequest{Type: domain.CodeAccessLink, DocumentID: 42})
	require.NoError(t, err)

	list, err := f.svc.ListForDocument(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = f.svc.ListForDocument(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	f.now = f.now.Add(2 * time.Hour)
	n, err := f.svc.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = f.svc.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
