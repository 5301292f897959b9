package signatures

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Houmeecl/xpres-sub000/internal/domain"
)

func TestCheckReturnURL(t *testing.T) {
	base := "https://firmas.notaria.cl"
	for _, ok := range []string{
		"https://firmas.notaria.cl/done",
		"https://app.notaria.cl/documentos/42",
		"http://NOTARIA.cl/x",
	} {
		assert.NoError(t, checkReturnURL(ok, base), ok)
	}
	for _, bad := range []string{
		"/relative",
		"javascript:alert(1)",
		"https://notaria.cl.evil.com/",
		"https://otra.cl/",
		"ftp://firmas.notaria.cl/",
	} {
		assert.ErrorIs(t, checkReturnURL(bad, base), domain.ErrInvalidInput, bad)
	}

	assert.NoError(t, checkReturnURL("http://localhost:8080/ok", "http://localhost:8080"))
	assert.Error(t, checkReturnURL("http://127.0.0.1/ok", "http://localhost:8080"))
}
