package archive

import (
	"bytes"
	"testing"
)

func TestDecodeDataURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType string
		wantData []byte
		wantErr  bool
	}{
		{
			name:     "valid jpeg",
			input:    "data:image/jpeg;base64,aGVsbG8=",
			wantType: "image/jpeg",
			wantData: []byte("hello"),
		},
		{
			name:     "valid png",
			input:    "data:image/png;base64,AQID",
			wantType: "image/png",
			wantData: []byte{1, 2, 3},
		},
		{
			name:    "not a data url",
			input:   "http://example.com/snap.jpg",
			wantErr: true,
		},
		{
			name:    "missing comma",
			input:   "data:image/jpeg;base64",
			wantErr: true,
		},
		{
			name:    "not base64 encoded",
			input:   "data:text/plain,hello",
			wantErr: true,
		},
		{
			name:    "invalid base64 payload",
			input:   "data:image/jpeg;base64,%%%",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, data, err := DecodeDataURL(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeDataURL: %v", err)
			}
			if ct != tt.wantType {
				t.Errorf("content type = %q, want %q", ct, tt.wantType)
			}
			if !bytes.Equal(data, tt.wantData) {
				t.Errorf("data = %q, want %q", data, tt.wantData)
			}
		})
	}
}
