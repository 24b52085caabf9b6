package ui

import "fmt"

// CapabilityError reports a locally rejected operation: the peer never
// declared the capability the operation depends on, so no envelope was sent.
type CapabilityError struct {
	// Capability is the undeclared capability key, e.g. "openLinks".
	Capability string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("peer did not declare the %q capability", e.Capability)
}

// ModalityError reports content rejected by modality validation before any
// envelope was sent.
type ModalityError struct {
	Validation ModalityValidation
}

func (e *ModalityError) Error() string {
	if len(e.Validation.UnsupportedTypes) == 0 && e.Validation.StructuredContentUnsupported {
		return "structured content not supported by the peer"
	}
	return fmt.Sprintf("content uses unsupported modalities %v", e.Validation.UnsupportedTypes)
}
