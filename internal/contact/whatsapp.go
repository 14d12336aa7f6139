package contact

import (
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"

	"github.com/sgsupercars/storefront/internal/common"
)

// DefaultMessage prefills the chat when the caller sends none.
const DefaultMessage = "Hi, I'd like to learn about importing a supercar from S. Korea"

const maxMessageLen = 1000

// WhatsAppURL builds a wa.me deep link for number with message prefilled.
func WhatsAppURL(number, message string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, number)
	return "https://wa.me/" + digits + "?text=" + encodeComponent(message)
}

// encodeComponent escapes like a browser's encodeURIComponent.
func encodeComponent(s string) string {
	escaped := url.QueryEscape(s)
	return strings.NewReplacer(
		"+", "%20",
		"%21", "!",
		"%27", "'",
		"%28", "(",
		"%29", ")",
		"%2A", "*",
	).Replace(escaped)
}

// Handler serves contact links.
type Handler struct {
	Number string
}

// Routes mounts /contact.
func (h Handler) Routes(r chi.Router) {
	r.Get("/contact/whatsapp", h.WhatsApp)
}

// WhatsApp handles GET /api/v1/contact/whatsapp?message=.
func (h Handler) WhatsApp(w http.ResponseWriter, r *http.Request) {
	message := strings.TrimSpace(r.URL.Query().Get("message"))
	if message == "" {
		message = DefaultMessage
	}
	if len(message) > maxMessageLen {
		common.WriteError(w, common.BadRequest("message", "message is too long", nil))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]string{"url": WhatsAppURL(h.Number, message)},
	})
}
