package ui

import "slices"

// ModalityStructuredContent is the modality key gating the structuredContent
// field of a conversation message.
const ModalityStructuredContent = "structuredContent"

// ModalityValidation reports whether a message fits a host's declared
// modalities and, when it does not, which content types were the problem.
type ModalityValidation struct {
	Valid bool `json:"valid"`
	// UnsupportedTypes lists each offending block type once, in first-seen
	// order. Empty when Valid.
	UnsupportedTypes []string `json:"unsupportedTypes,omitempty"`
	// StructuredContentUnsupported flags a structuredContent payload sent to a
	// host that never declared the modality.
	StructuredContentUnsupported bool `json:"structuredContentUnsupported,omitzero"`
}

// ValidateModalities checks a message's content blocks and structured-content
// flag against the supported set. A nil set means the host declared no
// modality constraint, so every message is valid. The result lists each
// unsupported type once even when several blocks share it.
func ValidateModalities(supported ModalitySet, content []ContentBlock, hasStructured bool) ModalityValidation {
	if supported == nil {
		return ModalityValidation{Valid: true}
	}

	var unsupported []string
	for _, block := range content {
		if supported.Has(block.Type) {
			continue
		}
		if !slices.Contains(unsupported, block.Type) {
			unsupported = append(unsupported, block.Type)
		}
	}
	structuredBad := hasStructured && !supported.Has(ModalityStructuredContent)

	return ModalityValidation{
		Valid:                        len(unsupported) == 0 && !structuredBad,
		UnsupportedTypes:             unsupported,
		StructuredContentUnsupported: structuredBad,
	}
}
