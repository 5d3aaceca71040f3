package model

import (
	"mime"
	"strings"
	"testing"
)

func TestDocumentRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"braced id", "{60584D9B-0000-C217-968B-A1E0D75A061E}", false},
		{"plain id", "12345", false},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DocumentRequest{IDFilenet: tt.id}.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "idFilenet") {
				t.Errorf("error = %q, want mention of idFilenet", err)
			}
		})
	}
}

func TestDisposition(t *testing.T) {
	got := Disposition("ABC-1")
	want := `attachment; filename="documento_ABC-1.pdf"`
	if got != want {
		t.Errorf("Disposition() = %q, want %q", got, want)
	}
}

func TestDisposition_EscapesFilename(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{"quote", `a"b`, `documento_a"b.pdf`},
		{"backslash", `a\b`, `documento_a\b.pdf`},
		{"non-ascii", "año-7", "documento_año-7.pdf"},
		{"newline", "a\nb", "documento_a\nb.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := Disposition(tt.id)
			if strings.ContainsAny(header, "\r\n") {
				t.Fatalf("Disposition() = %q contains a line break", header)
			}
			disp, params, err := mime.ParseMediaType(header)
			if err != nil {
				t.Fatalf("ParseMediaType(%q) error = %v", header, err)
			}
			if disp != "attachment" {
				t.Errorf("disposition = %q, want attachment", disp)
			}
			if params["filename"] != tt.want {
				t.Errorf("filename = %q, want %q", params["filename"], tt.want)
			}
		})
	}
}
