package contact

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestWhatsAppURL(t *testing.T) {
	got := WhatsAppURL("+1 (437) 463-8189", DefaultMessage)
	require.Equal(t, "https://wa.me/14374638189?text=Hi%2C%20I'd%20like%20to%20learn%20about%20importing%20a%20supercar%20from%20S.%20Korea", got)

	require.Equal(t, "https://wa.me/1?text=a%26b%3Dc", WhatsAppURL("1", "a&b=c"))
}

func TestWhatsAppHandler(t *testing.T) {
	r := chi.NewRouter()
	Handler{Number: "+14374638189"}.Routes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contact/whatsapp?message=Is+the+Urus+available%3F", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "https://wa.me/14374638189?text=Is%20the%20Urus%20available%3F", body.Data.URL)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contact/whatsapp?message="+strings.Repeat("a", 1001), nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
