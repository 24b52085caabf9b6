package ui

import (
	"reflect"
	"testing"
)

func TestValidateModalities(t *testing.T) {
	textOnly := ModalitySet{"text": {}}

	cases := []struct {
		name          string
		supported     ModalitySet
		content       []ContentBlock
		hasStructured bool
		want          ModalityValidation
	}{
		{
			name:      "nil set accepts anything",
			supported: nil,
			content:   []ContentBlock{{Type: "image"}, {Type: "audio"}},
			want:      ModalityValidation{Valid: true},
		},
		{
			name:      "supported text passes",
			supported: textOnly,
			content:   []ContentBlock{TextBlock("hi")},
			want:      ModalityValidation{Valid: true},
		},
		{
			name:      "image against text-only host",
			supported: textOnly,
			content:   []ContentBlock{TextBlock("hi"), {Type: "image"}},
			want:      ModalityValidation{Valid: false, UnsupportedTypes: []string{"image"}},
		},
		{
			name:      "duplicate offenders reported once",
			supported: textOnly,
			content:   []ContentBlock{{Type: "image"}, {Type: "image"}, {Type: "audio"}},
			want:      ModalityValidation{Valid: false, UnsupportedTypes: []string{"image", "audio"}},
		},
		{
			name:          "structured content needs its modality",
			supported:     textOnly,
			content:       []ContentBlock{TextBlock("hi")},
			hasStructured: true,
			want:          ModalityValidation{Valid: false, StructuredContentUnsupported: true},
		},
		{
			name:          "structured flag independent of block list",
			supported:     textOnly,
			content:       []ContentBlock{{Type: "image"}},
			hasStructured: true,
			want:          ModalityValidation{Valid: false, UnsupportedTypes: []string{"image"}, StructuredContentUnsupported: true},
		},
		{
			name:          "structured content allowed when declared",
			supported:     ModalitySet{"text": {}, "structuredContent": {}},
			content:       []ContentBlock{TextBlock("hi")},
			hasStructured: true,
			want:          ModalityValidation{Valid: true},
		},
		{
			name:      "empty set rejects everything",
			supported: ModalitySet{},
			content:   []ContentBlock{TextBlock("hi")},
			want:      ModalityValidation{Valid: false, UnsupportedTypes: []string{"text"}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ValidateModalities(tc.supported, tc.content, tc.hasStructured)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}
