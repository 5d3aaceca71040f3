// Package model defines the request-scoped types shared by the proxy layers.
package model

import (
	"io"
	"mime"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// DefaultContentType is reported when the upstream omits Content-Type.
const DefaultContentType = "application/octet-stream"

// DocumentRequest is the inbound body of a document lookup.
type DocumentRequest struct {
	IDFilenet string `json:"idFilenet"`
}

// Validate checks that the document identifier is present. The identifier
// is otherwise opaque and is not inspected further.
func (r DocumentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.IDFilenet, validation.Required),
	)
}

// DocumentResponse is an upstream document being relayed to the caller.
// The caller owns Body and must close it.
type DocumentResponse struct {
	StatusCode    int
	ContentType   string
	ContentLength int64 // -1 when unknown
	Body          io.ReadCloser
}

var quotedStringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Disposition returns the Content-Disposition header value for a document id.
// Printable ASCII ids keep the quoted filename form with '"' and '\'
// escaped; anything else is encoded as an RFC 2231 filename*.
func Disposition(id string) string {
	filename := "documento_" + id + ".pdf"
	for i := 0; i < len(filename); i++ {
		if b := filename[i]; b < 0x20 || b > 0x7e {
			return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
		}
	}
	return `attachment; filename="` + quotedStringEscaper.Replace(filename) + `"`
}
