package server

import "strings"

// contentDisposition builds an attachment header carrying the declared name
// in RFC 5987 form, so names outside latin-1 survive the header encoding.
func contentDisposition(name string) string {
	return "attachment; filename*=UTF-8''" + percentEncode(name)
}

const upperhex = "0123456789ABCDEF"

// percentEncode escapes every byte outside the unreserved set.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
			c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0xf])
	}
	return b.String()
}
