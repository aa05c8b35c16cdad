package whatsapp

import (
	"strings"
)

// ParseVCard extracts the display name and first phone number from a vCard.
// The WhatsApp id parameter (waid) is preferred over the formatted number.
func ParseVCard(vcard string) (name, phone string) {
	for _, raw := range strings.Split(strings.ReplaceAll(vcard, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		params := strings.Split(key, ";")
		switch strings.ToUpper(params[0]) {
		case "FN":
			if name == "" {
				name = strings.TrimSpace(value)
			}
		case "TEL":
			if phone != "" {
				continue
			}
			for _, p := range params[1:] {
				if k, v, ok := strings.Cut(p, "="); ok && strings.EqualFold(k, "waid") && v != "" {
					phone = "+" + v
					break
				}
			}
			if phone == "" {
				phone = normalizePhone(value)
			}
		}
	}
	return name, phone
}

// normalizePhone strips formatting characters, keeping a leading plus.
func normalizePhone(s string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
